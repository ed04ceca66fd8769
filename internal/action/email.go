package action

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/podnet/rulevm/internal/vmerrors"
)

// SendEmail is the SEND_EMAIL action: {type, subject, body(html), to}.
// Grounded on original_source/actions/send_email.py's SendEmailAction, with
// the transport swapped for net/smtp the way
// internal/notify.EmailChannel.Send uses smtp.SendMail + smtp.PlainAuth
// rather than a third-party mail API — the teacher's own email channel
// never reaches for a provider SDK, so this action doesn't either.
type SendEmail struct {
	Subject string
	Body    string
	To      []string
}

// NewSendEmail parses and validates a SEND_EMAIL action entry.
func NewSendEmail(f Fields) (*SendEmail, error) {
	subject, err := requireString("SEND_EMAIL", f, "subject")
	if err != nil {
		return nil, err
	}
	body, err := requireString("SEND_EMAIL", f, "body")
	if err != nil {
		return nil, err
	}
	to, err := requireStringSlice("SEND_EMAIL", f, "to")
	if err != nil {
		return nil, err
	}
	if len(to) == 0 {
		return nil, vmerrors.NewValidationError("SEND_EMAIL", "to must have at least one recipient")
	}
	return &SendEmail{Subject: subject, Body: body, To: to}, nil
}

func (a *SendEmail) Type() Type { return TypeSendEmail }

func (a *SendEmail) Perform(ctx context.Context, env *Env) error {
	from := env.SMTP.From
	if from == "" {
		from = "automated@podnet.example"
	}

	header := fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: %s\r\nContent-Type: text/html; charset=UTF-8\r\n\r\n%s",
		from, strings.Join(a.To, ","), a.Subject, a.Body,
	)

	addr := fmt.Sprintf("%s:%d", env.SMTP.Host, env.SMTP.Port)
	var auth smtp.Auth
	if env.SMTP.Username != "" {
		auth = smtp.PlainAuth("", env.SMTP.Username, env.SMTP.Password, env.SMTP.Host)
	}

	if err := smtp.SendMail(addr, auth, from, a.To, []byte(header)); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}
