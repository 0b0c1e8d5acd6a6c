package mail

import (
	"context"
	"log/slog"

	"eventmailer/internal/models"

	"github.com/google/uuid"
)

// LogNotifier logs messages instead of sending them. It backs --dry-run.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Send(_ context.Context, msg models.Message) (string, error) {
	id := "dry-run-" + uuid.NewString()
	n.logger.Info("[Dry Run] Would send email",
		"messageID", id,
		"from", msg.From,
		"to", msg.To,
		"subject", msg.Subject,
		"body", msg.Body,
	)
	return id, nil
}
