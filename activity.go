package auth

import (
	"context"
	"errors"
	"time"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventSignIn          ActivityEventType = "auth.sign_in"
	ActivityEventJoin            ActivityEventType = "auth.join"
	ActivityEventRejoin          ActivityEventType = "auth.rejoin"
	ActivityEventConflict        ActivityEventType = "auth.conflict"
	ActivityEventNotRegistered   ActivityEventType = "auth.not_registered"
	ActivityEventWrongPassword   ActivityEventType = "auth.wrong_password"
	ActivityEventTokenIssued     ActivityEventType = "auth.token.issued"
	ActivityEventTokenRedeemed   ActivityEventType = "auth.token.redeemed"
	ActivityEventTokenRejected   ActivityEventType = "auth.token.rejected"
	ActivityEventPasswordSet     ActivityEventType = "auth.password.set"
	ActivityEventPasswordChanged ActivityEventType = "auth.password.changed"
	ActivityEventUnjoin          ActivityEventType = "auth.unjoin"
	ActivityEventDeliveryFailed  ActivityEventType = "auth.delivery.failed"
)

// ActivityEvent captures audit-friendly information about an action.
type ActivityEvent struct {
	EventType  ActivityEventType
	Provider   Provider
	Email      string
	UserID     string
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

// MultiActivitySink records every event to each sink in order and joins
// their errors.
func MultiActivitySink(sinks ...ActivitySink) ActivitySink {
	return ActivitySinkFunc(func(ctx context.Context, event ActivityEvent) error {
		var errs []error
		for _, s := range sinks {
			if s == nil {
				continue
			}
			if err := s.Record(ctx, event); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}

// recordActivity runs best effort, sink errors are logged.
func recordActivity(ctx context.Context, sink ActivitySink, logger Logger, event ActivityEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}
	if err := normalizeActivitySink(sink).Record(ctx, event); err != nil {
		logger.Warn("activity sink error for %s: %v", event.EventType, err)
	}
}
