package email

import (
	"context"

	"github.com/intermernet/climbsignups/internal/logger"
)

// LogSender only logs what would have been sent. It is used when no mail
// transport is configured.
type LogSender struct{}

// Send implements Sender.
func (LogSender) Send(_ context.Context, msg Message) error {
	if _, err := CheckRecipient(msg.To); err != nil {
		return err
	}
	logger.Info.Printf("Email transport not configured; would send %q to %s:\n%s", msg.Subject, msg.To, msg.Text)
	return nil
}
