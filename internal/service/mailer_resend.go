package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/resend/resend-go/v2"
)

type ResendMailer struct {
	client *resend.Client
	From   string
}

// NewResendMailer returns a mailer whose Send fails with ErrMailerNotConfigured
// when either the API key or the sender address is blank.
func NewResendMailer(apiKey string, from string) *ResendMailer {
	if strings.TrimSpace(apiKey) == "" || strings.TrimSpace(from) == "" {
		return &ResendMailer{}
	}
	return &ResendMailer{
		client: resend.NewClient(apiKey),
		From:   from,
	}
}

func (m *ResendMailer) Send(ctx context.Context, to string, subject string, body string) error {
	if m == nil || m.client == nil {
		return ErrMailerNotConfigured
	}
	params := &resend.SendEmailRequest{
		From:    m.From,
		To:      []string{to},
		Subject: subject,
		Text:    body,
	}
	if _, err := m.client.Emails.SendWithContext(ctx, params); err != nil {
		return fmt.Errorf("resend email failed: %w", err)
	}
	return nil
}
