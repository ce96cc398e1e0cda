package email

import (
	"context"
	"fmt"
	"net/smtp"
)

// SMTPServerConfig holds all the necessary configuration for connecting to an SMTP server.
type SMTPServerConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	Sender   string // The "From" email address
}

// EmailService sends plain-text emails through an SMTP server.
type EmailService struct {
	config SMTPServerConfig
	auth   smtp.Auth
	send   func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewEmailService creates a new service for sending emails.
func NewEmailService(config SMTPServerConfig) *EmailService {
	auth := smtp.PlainAuth("", config.Username, config.Password, config.Host)
	return &EmailService{
		config: config,
		auth:   auth,
		send:   smtp.SendMail,
	}
}

// Send implements Sender. The SMTP exchange itself cannot be cancelled;
// ctx is only checked before dialing.
func (s *EmailService) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	to, err := CheckRecipient(msg.To)
	if err != nil {
		return err
	}
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	raw := []byte(
		"To: " + to + "\r\n" +
			"From: " + s.config.Sender + "\r\n" +
			"Subject: " + msg.Subject + "\r\n" +
			"Content-Type: text/plain; charset=UTF-8\r\n" +
			"\r\n" +
			msg.Text + "\r\n")

	if err := s.send(addr, s.auth, s.config.Sender, []string{to}, raw); err != nil {
		return fmt.Errorf("smtp error: %w", err)
	}
	return nil
}
