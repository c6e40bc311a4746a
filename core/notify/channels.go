package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/dmitrymomot/acmefront/core/email"
	"github.com/dmitrymomot/acmefront/core/logger"
)

// LogChannel writes events to the structured log.
type LogChannel struct {
	logger *slog.Logger
}

func NewLogChannel(log *slog.Logger) *LogChannel {
	return &LogChannel{logger: log}
}

func (c *LogChannel) Name() string { return "log" }

func (c *LogChannel) Deliver(ctx context.Context, ev Event) error {
	c.logger.InfoContext(ctx, "notification",
		logger.Event(ev.Type),
		slog.String("subject_type", ev.SubjectType),
		slog.Int64("subject_id", ev.SubjectID),
		slog.Any("payload", ev.Payload))
	return nil
}

// EmailChannel mails the address in the event's "contact" payload field.
type EmailChannel struct {
	sender email.Sender
}

func NewEmailChannel(sender email.Sender) *EmailChannel {
	return &EmailChannel{sender: sender}
}

func (c *EmailChannel) Name() string { return "email" }

func (c *EmailChannel) Deliver(ctx context.Context, ev Event) error {
	to, _ := ev.Payload["contact"].(string)
	if to == "" {
		return ErrNoRecipient
	}

	return c.sender.SendEmail(ctx, email.SendEmailParams{
		SendTo:   to,
		Subject:  subject(ev),
		BodyText: body(ev),
		Tag:      ev.Type,
	})
}

func subject(ev Event) string {
	domain, _ := ev.Payload["domain"].(string)
	switch ev.Type {
	case EventCertIssued:
		return fmt.Sprintf("Certificate issued for %s", domain)
	case EventCertCancelled:
		return fmt.Sprintf("Certificate for %s cancelled", domain)
	case EventCertRevoked:
		return fmt.Sprintf("Certificate for %s revoked", domain)
	}
	return ev.Type
}

func body(ev Event) string {
	keys := make([]string, 0, len(ev.Payload))
	for k := range ev.Payload {
		if k != "contact" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s #%d\n\n", ev.Type, ev.SubjectType, ev.SubjectID)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %v\n", k, ev.Payload[k])
	}
	return b.String()
}
