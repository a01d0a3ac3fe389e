package notify

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/jordan-wright/email"
)

type SMTPConfig struct {
	Host       string
	Port       int
	Username   string
	Password   string
	From       string
	AdminEmail string
}

// SMTPNotifier sends mail through an SMTP relay.
type SMTPNotifier struct {
	cfg  SMTPConfig
	send func(e *email.Email) error
}

func NewSMTP(cfg SMTPConfig) (*SMTPNotifier, error) {
	if cfg.Host == "" {
		return nil, errors.New("smtp: host is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	n := &SMTPNotifier{cfg: cfg}
	n.send = n.dial
	return n, nil
}

func (n *SMTPNotifier) ReportReady(ctx context.Context, d Delivery) error {
	msg, err := reportMessage(d)
	if err != nil {
		return observe("smtp", err)
	}
	return observe("smtp", n.deliver(ctx, d.To, msg))
}

func (n *SMTPNotifier) OrderReceived(ctx context.Context, o OrderNotice) error {
	if n.cfg.AdminEmail == "" {
		return nil
	}
	msg, err := orderMessage(o)
	if err != nil {
		return err
	}
	return observe("smtp", n.deliver(ctx, n.cfg.AdminEmail, msg))
}

func (n *SMTPNotifier) deliver(ctx context.Context, to string, msg message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	mail := email.NewEmail()
	mail.From = n.cfg.From
	mail.To = []string{to}
	mail.Subject = msg.Subject
	mail.Text = []byte(msg.Text)
	mail.HTML = []byte(msg.HTML)
	return n.send(mail)
}

// dial sends through the relay, retrying without AUTH for relays that do
// not offer it.
func (n *SMTPNotifier) dial(mail *email.Email) error {
	addr := fmt.Sprintf("%s:%d", n.cfg.Host, n.cfg.Port)
	var auth smtp.Auth
	if n.cfg.Username != "" {
		auth = smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)
	}
	err := mail.Send(addr, auth)
	if err != nil && auth != nil && strings.Contains(err.Error(), "server doesn't support AUTH") {
		err = mail.Send(addr, nil)
	}
	return err
}
