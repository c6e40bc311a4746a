package notify_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/acmefront/core/email"
	"github.com/dmitrymomot/acmefront/core/logger"
	"github.com/dmitrymomot/acmefront/core/notify"
)

type mockSender struct {
	mock.Mock
}

func (m *mockSender) SendEmail(ctx context.Context, params email.SendEmailParams) error {
	return m.Called(ctx, params).Error(0)
}

func TestDispatcher(t *testing.T) {
	t.Parallel()

	sender := new(mockSender)
	sender.On("SendEmail", mock.Anything, mock.MatchedBy(func(p email.SendEmailParams) bool {
		return p.SendTo == "ops@example.com" &&
			p.Subject == "Certificate issued for example.com" &&
			p.Tag == notify.EventCertIssued
	})).Return(nil).Once()

	d := notify.NewDispatcher(logger.NewNope(),
		notify.NewLogChannel(logger.NewNope()),
		notify.NewEmailChannel(sender),
	)

	err := d.Dispatch(context.Background(), notify.Event{
		Type:        notify.EventCertIssued,
		SubjectType: "cert",
		SubjectID:   10,
		Payload:     map[string]any{"contact": "ops@example.com", "domain": "example.com"},
		Channels:    []string{"log", "email"},
	})
	require.NoError(t, err)
	sender.AssertExpectations(t)
}

func TestDispatcher_Errors(t *testing.T) {
	t.Parallel()

	sender := new(mockSender)
	sender.On("SendEmail", mock.Anything, mock.Anything).Return(errors.New("smtp down"))

	d := notify.NewDispatcher(nil, notify.NewEmailChannel(sender))

	err := d.Dispatch(context.Background(), notify.Event{
		Type:     notify.EventCertRevoked,
		Payload:  map[string]any{"contact": "ops@example.com"},
		Channels: []string{"email", "sms"},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, notify.ErrUnknownChannel)
	assert.Contains(t, err.Error(), "smtp down")

	err = d.Dispatch(context.Background(), notify.Event{Type: notify.EventCertRevoked, Channels: []string{"email"}})
	assert.ErrorIs(t, err, notify.ErrNoRecipient)
}
