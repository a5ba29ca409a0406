package mail

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/Plan5/internal/pkg/apperror"
	"github.com/ManuelReschke/Plan5/internal/pkg/env"
)

// SMTPSender sends emails via SMTP. Attachments are not supported.
type SMTPSender struct {
	addr   string
	auth   smtp.Auth
	sender string
	send   func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPSenderFromEnv(p env.Provider, from string) (*SMTPSender, error) {
	host, err := p.Require("SMTP_HOST")
	if err != nil {
		return nil, err
	}
	port := p.Optional("SMTP_PORT", "587")
	username := p.Optional("SMTP_USERNAME", "")
	password := p.Optional("SMTP_PASSWORD", "")

	var auth smtp.Auth
	if username != "" && password != "" {
		auth = smtp.PlainAuth("", username, password, host)
	}

	return &SMTPSender{
		addr:   fmt.Sprintf("%s:%s", host, port),
		auth:   auth,
		sender: from,
		send:   smtp.SendMail,
	}, nil
}

func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if err := validateMessage(msg); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	rendered, err := Render(msg)
	if err != nil {
		return err
	}

	headers := fmt.Sprintf("From: %s\r\nTo: %s\r\n", s.sender, strings.Join(msg.To, ", "))
	if len(msg.Cc) > 0 {
		headers += fmt.Sprintf("Cc: %s\r\n", strings.Join(msg.Cc, ", "))
	}
	raw := []byte(
		headers + fmt.Sprintf("Subject: %s\r\n", rendered.Subject) +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: text/html; charset=UTF-8\r\n\r\n" +
			rendered.HTML,
	)

	recipients := append(append(append([]string{}, msg.To...), msg.Cc...), msg.Bcc...)
	if err := s.send(s.addr, s.auth, s.sender, recipients, raw); err != nil {
		log.Errorf("[Mail] SMTP send error: %v", err)
		return &apperror.ProviderError{Provider: ProviderSMTP, Err: err}
	}
	log.Infof("[Mail] Email sent to %s via %s", strings.Join(msg.To, ","), s.addr)
	return nil
}
