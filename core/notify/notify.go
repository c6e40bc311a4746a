package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dmitrymomot/acmefront/core/logger"
)

var (
	ErrUnknownChannel = errors.New("notify: unknown channel")
	ErrNoRecipient    = errors.New("notify: event has no recipient")
)

// Event types emitted by the fulfillment engine.
const (
	EventCertIssued    = "cert.issued"
	EventCertCancelled = "cert.cancelled"
	EventCertRevoked   = "cert.revoked"
)

// Event is one notification. Channels lists the delivery channels by name.
type Event struct {
	Type        string
	SubjectType string
	SubjectID   int64
	Payload     map[string]any
	Channels    []string
}

// Channel delivers events one way (e-mail, log, ...).
type Channel interface {
	Name() string
	Deliver(ctx context.Context, ev Event) error
}

// Dispatcher fans an event out to the named channels.
type Dispatcher struct {
	mu       sync.RWMutex
	channels map[string]Channel
	logger   *slog.Logger
}

// NewDispatcher registers channels by name.
func NewDispatcher(log *slog.Logger, channels ...Channel) *Dispatcher {
	if log == nil {
		log = logger.NewNope()
	}
	d := &Dispatcher{
		channels: make(map[string]Channel, len(channels)),
		logger:   log.With(logger.Component("notify")),
	}
	for _, c := range channels {
		d.channels[c.Name()] = c
	}
	return d
}

// Dispatch delivers ev on every channel it names. One channel failing does
// not stop the others; all errors are joined.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) error {
	var errs []error
	for _, name := range ev.Channels {
		d.mu.RLock()
		ch, ok := d.channels[name]
		d.mu.RUnlock()

		if !ok {
			errs = append(errs, fmt.Errorf("%w: %s", ErrUnknownChannel, name))
			continue
		}
		if err := ch.Deliver(ctx, ev); err != nil {
			d.logger.WarnContext(ctx, "notification delivery failed",
				logger.Event(ev.Type),
				slog.String("channel", name),
				logger.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Register adds or replaces a channel.
func (d *Dispatcher) Register(ch Channel) {
	d.mu.Lock()
	d.channels[ch.Name()] = ch
	d.mu.Unlock()
}
