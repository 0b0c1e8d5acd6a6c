package mail

import (
	"context"
	"fmt"
	"log/slog"

	"eventmailer/internal/models"
	"eventmailer/internal/schedule"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// SESService is the part of the SES client the notifier uses.
type SESService interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESNotifier sends plain-text notifications through Amazon SES.
type SESNotifier struct {
	client SESService
	logger *slog.Logger
}

// NewSESNotifier loads the default AWS configuration for region.
func NewSESNotifier(ctx context.Context, logger *slog.Logger, region string) (*SESNotifier, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewSESNotifierWithClient(logger, ses.NewFromConfig(cfg)), nil
}

func NewSESNotifierWithClient(logger *slog.Logger, client SESService) *SESNotifier {
	return &SESNotifier{client: client, logger: logger}
}

func (n *SESNotifier) Send(ctx context.Context, msg models.Message) (string, error) {
	out, err := n.client.SendEmail(ctx, &ses.SendEmailInput{
		Source: aws.String(msg.From),
		Destination: &types.Destination{
			ToAddresses: []string{msg.To},
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
			Body: &types.Body{
				Text: &types.Content{Data: aws.String(msg.Body), Charset: aws.String("UTF-8")},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("%w: ses send to %s: %w", schedule.ErrSend, msg.To, err)
	}

	id := aws.ToString(out.MessageId)
	n.logger.Debug("Email sent via SES", "to", msg.To, "subject", msg.Subject, "messageID", id)
	return id, nil
}
