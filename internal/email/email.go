// Package email sends the roster share link to the gym.
package email

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/mail"
	"strings"
	"time"
)

var ErrInvalidRecipient = errors.New("invalid recipient address")

// Message is one outgoing email. HTML is optional.
type Message struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

// Sender delivers a Message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Settings picks and configures a Sender.
type Settings struct {
	SMTP         SMTPServerConfig
	ResendAPIKey string
	From         string
}

// New returns a Resend sender when an API key is set, an SMTP sender when
// an SMTP host is set, and a logging sender otherwise.
func New(s Settings) Sender {
	switch {
	case s.ResendAPIKey != "":
		return NewResendSender(s.ResendAPIKey, s.From)
	case s.SMTP.Host != "":
		return NewEmailService(s.SMTP)
	default:
		return LogSender{}
	}
}

// CheckRecipient returns the bare address of a recipient such as
// "Gym Desk <desk@gym.example>".
func CheckRecipient(to string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(to))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRecipient, err)
	}
	return addr.Address, nil
}

var shareHTML = template.Must(template.New("share").Parse(`<p>Hi,</p>
<p>Here is the live sign-up roster for <strong>{{.Name}}</strong> on {{.Date}}.</p>
<p><a href="{{.Link}}">{{.Link}}</a></p>
<p>The page updates on its own as members sign up, so you can keep it open until the session starts.</p>
<p>Climb CCNY</p>`))

// ShareRosterMessage builds the email carrying a session's live roster
// link.
func ShareRosterMessage(to, sessionName string, sessionDate time.Time, link string) (Message, error) {
	date := sessionDate.Format("Mon, Jan 2 2006 at 3:04 PM")
	var html strings.Builder
	err := shareHTML.Execute(&html, struct{ Name, Date, Link string }{sessionName, date, link})
	if err != nil {
		return Message{}, err
	}
	return Message{
		To:      to,
		Subject: fmt.Sprintf("Live roster: %s", sessionName),
		Text: fmt.Sprintf(
			"Hi,\n\nHere is the live sign-up roster for %s on %s:\n%s\n\nThe page updates on its own as members sign up.\n\nClimb CCNY",
			sessionName, date, link,
		),
		HTML: html.String(),
	}, nil
}
