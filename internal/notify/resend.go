package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

const DefaultResendURL = "https://api.resend.com"

type ResendConfig struct {
	APIKey string
	From   string
	// AdminEmail receives new-order notices; empty disables them.
	AdminEmail string
	// BaseURL overrides DefaultResendURL.
	BaseURL string
}

// ResendNotifier sends mail through the Resend HTTP API.
type ResendNotifier struct {
	client *resty.Client
	from   string
	admin  string
}

type resendEmail struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
	Text    string   `json:"text,omitempty"`
}

func NewResend(cfg ResendConfig) (*ResendNotifier, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("resend: api key is required")
	}
	base := cfg.BaseURL
	if base == "" {
		base = DefaultResendURL
	}
	client := resty.New().
		SetBaseURL(base).
		SetAuthToken(cfg.APIKey).
		SetHeader("Content-Type", "application/json").
		SetTimeout(30 * time.Second)
	return &ResendNotifier{client: client, from: cfg.From, admin: cfg.AdminEmail}, nil
}

func (n *ResendNotifier) ReportReady(ctx context.Context, d Delivery) error {
	msg, err := reportMessage(d)
	if err != nil {
		return observe("resend", err)
	}
	return observe("resend", n.send(ctx, resendEmail{
		From:    n.from,
		To:      []string{d.To},
		Subject: msg.Subject,
		HTML:    msg.HTML,
		Text:    msg.Text,
	}))
}

func (n *ResendNotifier) OrderReceived(ctx context.Context, o OrderNotice) error {
	if n.admin == "" {
		return nil
	}
	msg, err := orderMessage(o)
	if err != nil {
		return err
	}
	return observe("resend", n.send(ctx, resendEmail{
		From:    n.from,
		To:      []string{n.admin},
		Subject: msg.Subject,
		HTML:    msg.HTML,
	}))
}

func (n *ResendNotifier) send(ctx context.Context, body resendEmail) error {
	res, err := n.client.R().
		SetContext(ctx).
		SetBody(body).
		Post("/emails")
	if err != nil {
		return err
	}
	if res.StatusCode() != 200 {
		return fmt.Errorf("resend returned %d: %s", res.StatusCode(), res.String())
	}
	return nil
}
