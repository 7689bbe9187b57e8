package transport

import (
	"context"
	"fmt"
	"net/smtp"
	"os"
)

// SMTPTransport sends through a plain SMTP relay with an app password.
type SMTPTransport struct {
	From     string
	Host     string
	Port     int
	Username string
	Password string

	// sendMail is swappable in tests.
	sendMail func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPTransport(from, host string, port int, username, password string) *SMTPTransport {
	if password == "" {
		password = os.Getenv("SMTP_PASSWORD")
	}
	return &SMTPTransport{
		From:     from,
		Host:     host,
		Port:     port,
		Username: username,
		Password: password,
		sendMail: smtp.SendMail,
	}
}

func (t *SMTPTransport) Name() string {
	return "smtp"
}

func (t *SMTPTransport) Send(ctx context.Context, to, cc []string, subject, bodyText, bodyHTML string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	msg := buildMIME(t.From, to, cc, subject, bodyText, bodyHTML)
	auth := smtp.PlainAuth("", t.Username, t.Password, t.Host)
	addr := fmt.Sprintf("%s:%d", t.Host, t.Port)

	recipients := append(append([]string{}, to...), cc...)
	if err := t.sendMail(addr, auth, t.From, recipients, []byte(msg)); err != nil {
		return "", retryableErr("smtp delivery failed", err)
	}

	return "", nil
}
