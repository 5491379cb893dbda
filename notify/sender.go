// Package notify renders auth notifications and hands them to a
// transport. Delivery ids are ULIDs so they sort by send time.
package notify

import (
	"context"
	"crypto/rand"
	"io"
	"sync"
	"time"

	auth "github.com/goliatone/go-auth-accounts"
	"github.com/goliatone/go-errors"
	"github.com/oklog/ulid/v2"
)

// Transport delivers a rendered message
type Transport interface {
	Deliver(ctx context.Context, msg Message) error
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, msg Message) error

func (f TransportFunc) Deliver(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}

// Sender implements auth.NotificationSender.
type Sender struct {
	renderer  *Renderer
	transport Transport
	now       func() time.Time

	mu      sync.Mutex
	entropy io.Reader
}

func NewSender(renderer *Renderer, transport Transport) *Sender {
	return &Sender{
		renderer:  renderer,
		transport: transport,
		now:       time.Now,
		entropy:   ulid.Monotonic(rand.Reader, 0),
	}
}

func (s *Sender) WithClock(now func() time.Time) *Sender {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *Sender) Send(ctx context.Context, n auth.Notification) (string, error) {
	select {
	case <-ctx.Done():
		return "", errors.Wrap(ctx.Err(), errors.CategoryOperation, "context cancelled before notification send")
	default:
	}

	msg, err := s.renderer.Render(n)
	if err != nil {
		return "", err
	}

	id, err := s.newID()
	if err != nil {
		return "", err
	}
	msg.ID = id

	if err := s.transport.Deliver(ctx, msg); err != nil {
		return "", errors.Wrap(err, errors.CategoryOperation, "failed to deliver notification").
			WithMetadata(map[string]any{"purpose": string(n.Purpose), "id": id})
	}
	return id, nil
}

// monotonic entropy is not safe for concurrent use
func (s *Sender) newID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, err := ulid.New(ulid.Timestamp(s.now()), s.entropy)
	if err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, "failed to generate delivery id")
	}
	return id.String(), nil
}

// LogTransport writes messages to a logger instead of sending them.
func LogTransport(logger auth.Logger) Transport {
	return TransportFunc(func(_ context.Context, msg Message) error {
		logger.Info("notification %s [%s] to %s: %s\n%s", msg.ID, msg.Purpose, msg.To, msg.Subject, msg.Body)
		return nil
	})
}

// Outbox keeps delivered messages in memory.
type Outbox struct {
	mu       sync.Mutex
	messages []Message
}

func (o *Outbox) Deliver(_ context.Context, msg Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.messages = append(o.messages, msg)
	return nil
}

// Messages returns a copy of the delivered messages.
func (o *Outbox) Messages() []Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Message, len(o.messages))
	copy(out, o.messages)
	return out
}

var _ auth.NotificationSender = (*Sender)(nil)
