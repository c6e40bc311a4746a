package email

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
)

// Sender delivers one message.
type Sender interface {
	SendEmail(ctx context.Context, params SendEmailParams) error
}

// SendEmailParams is a plain-text notification e-mail.
type SendEmailParams struct {
	SendTo   string
	Subject  string
	BodyText string
	Tag      string
}

// Validate checks the recipient, subject and body.
func (p SendEmailParams) Validate() error {
	var errs []error
	if _, err := mail.ParseAddress(p.SendTo); err != nil {
		errs = append(errs, fmt.Errorf("send_to: %w", err))
	}
	if strings.TrimSpace(p.Subject) == "" {
		errs = append(errs, errors.New("subject is required"))
	}
	if strings.TrimSpace(p.BodyText) == "" {
		errs = append(errs, errors.New("body is required"))
	}
	if len(errs) > 0 {
		return errors.Join(append([]error{ErrInvalidParams}, errs...)...)
	}
	return nil
}
