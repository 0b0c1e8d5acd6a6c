package google

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"mime"
	"net/http"

	"eventmailer/internal/models"
	"eventmailer/internal/schedule"

	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// GmailNotifier sends notifications as the authenticated user.
type GmailNotifier struct {
	service *gmail.Service
	logger  *slog.Logger
}

func NewGmailNotifier(ctx context.Context, logger *slog.Logger, httpClient *http.Client, opts ...option.ClientOption) (*GmailNotifier, error) {
	opts = append([]option.ClientOption{option.WithHTTPClient(httpClient)}, opts...)
	service, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gmail service: %w", err)
	}
	return &GmailNotifier{service: service, logger: logger}, nil
}

// Send delivers msg and returns the Gmail message id.
func (n *GmailNotifier) Send(ctx context.Context, msg models.Message) (string, error) {
	sent, err := n.service.Users.Messages.Send("me", &gmail.Message{Raw: RawMessage(msg)}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("%w: gmail send to %s: %w", schedule.ErrSend, msg.To, err)
	}
	n.logger.Debug("Email sent via Gmail", "to", msg.To, "subject", msg.Subject, "messageID", sent.Id)
	return sent.Id, nil
}

// RawMessage renders msg as a text/plain MIME message in base64url.
func RawMessage(msg models.Message) string {
	var b bytes.Buffer
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "From: %s\r\n", msg.From)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.Body)
	return base64.URLEncoding.EncodeToString(b.Bytes())
}
