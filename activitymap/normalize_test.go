package activitymap_test

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	auth "github.com/goliatone/go-auth-accounts"
	"github.com/goliatone/go-auth-accounts/activitymap"
)

func TestNormalizeDefaults(t *testing.T) {
	t.Parallel()

	ts := time.Date(2026, 1, 10, 9, 30, 0, 0, time.UTC)
	event := auth.ActivityEvent{
		EventType: auth.ActivityEventConflict,
		Provider:  auth.ProviderApple,
		Email:     "member@Example.com",
		UserID:    "user-100",
		Metadata: map[string]any{
			"other_provider": "email",
		},
		OccurredAt: ts,
	}

	out := activitymap.Normalize(event)

	if out.ActorID != "user-100" {
		t.Fatalf("expected actor_id user-100, got %q", out.ActorID)
	}
	if out.Verb != string(auth.ActivityEventConflict) {
		t.Fatalf("expected verb %q, got %q", auth.ActivityEventConflict, out.Verb)
	}
	if out.ObjectType != "credential" {
		t.Fatalf("expected object_type credential, got %q", out.ObjectType)
	}
	if out.ObjectID != "user-100" {
		t.Fatalf("expected object_id user-100, got %q", out.ObjectID)
	}
	if out.Channel != "auth" {
		t.Fatalf("expected channel auth, got %q", out.Channel)
	}
	if !out.OccurredAt.Equal(ts) {
		t.Fatalf("expected occurred_at %v, got %v", ts, out.OccurredAt)
	}

	if out.Metadata["other_provider"] != "email" {
		t.Fatalf("expected metadata other_provider email, got %#v", out.Metadata["other_provider"])
	}
	if out.Metadata[activitymap.MetadataKeyProvider] != "apple" {
		t.Fatalf("expected metadata provider apple, got %#v", out.Metadata[activitymap.MetadataKeyProvider])
	}
	if out.Metadata[activitymap.MetadataKeyEmailDomain] != "example.com" {
		t.Fatalf("expected metadata email_domain example.com, got %#v", out.Metadata[activitymap.MetadataKeyEmailDomain])
	}
	for _, v := range out.Metadata {
		if s, ok := v.(string); ok && strings.Contains(s, "member") {
			t.Fatalf("expected address to be dropped, got %q", s)
		}
	}

	if len(event.Metadata) != 1 {
		t.Fatalf("expected source metadata to remain unchanged, got %+v", event.Metadata)
	}
}

func TestNormalizeOptionOverrides(t *testing.T) {
	t.Parallel()

	event := auth.ActivityEvent{
		EventType: auth.ActivityEventTokenRejected,
		Metadata: map[string]any{
			"reason": "expired",
		},
	}

	out := activitymap.Normalize(
		event,
		activitymap.WithDefaultChannel("security"),
		activitymap.WithDefaultObjectType("state_token"),
		activitymap.WithObjectIDResolver(func(e auth.ActivityEvent) string {
			if v, ok := e.Metadata["reason"].(string); ok {
				return v
			}
			return ""
		}),
	)

	if out.Channel != "security" {
		t.Fatalf("expected channel security, got %q", out.Channel)
	}
	if out.ObjectType != "state_token" {
		t.Fatalf("expected object_type state_token, got %q", out.ObjectType)
	}
	if out.ObjectID != "expired" {
		t.Fatalf("expected object_id expired, got %q", out.ObjectID)
	}
	if _, ok := out.Metadata[activitymap.MetadataKeyProvider]; ok {
		t.Fatalf("expected no provider metadata, got %#v", out.Metadata)
	}
	if out.OccurredAt.IsZero() {
		t.Fatalf("expected occurred_at to be set when input is zero")
	}
}

func TestNormalizeActorFallbackChain(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		event  auth.ActivityEvent
		opts   []activitymap.Option
		expect string
	}{
		{
			name:   "uses user id when present",
			event:  auth.ActivityEvent{UserID: "user-2"},
			expect: "user-2",
		},
		{
			name:   "uses default fallback when user missing",
			event:  auth.ActivityEvent{},
			expect: "anonymous",
		},
		{
			name:   "uses configured fallback when user missing",
			event:  auth.ActivityEvent{},
			opts:   []activitymap.Option{activitymap.WithActorFallback("job")},
			expect: "job",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			out := activitymap.Normalize(tc.event, tc.opts...)
			if out.ActorID != tc.expect {
				t.Fatalf("expected actor_id %q, got %q", tc.expect, out.ActorID)
			}
		})
	}
}

type lineLogger struct {
	lines []string
}

func (l *lineLogger) Debug(format string, args ...any) {}
func (l *lineLogger) Warn(format string, args ...any)  {}
func (l *lineLogger) Error(format string, args ...any) {}
func (l *lineLogger) Info(format string, args ...any) {
	l.lines = append(l.lines, fmt.Sprintf(format, args...))
}

func TestLogSinkWritesJSON(t *testing.T) {
	t.Parallel()

	logger := &lineLogger{}
	sink := activitymap.LogSink(logger)

	err := sink.Record(context.Background(), auth.ActivityEvent{
		EventType: auth.ActivityEventSignIn,
		Provider:  auth.ProviderGoogle,
		Email:     "member@example.com",
		UserID:    "user-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(logger.lines) != 1 {
		t.Fatalf("expected one line, got %d", len(logger.lines))
	}
	line := logger.lines[0]
	if !strings.Contains(line, `"verb":"auth.sign_in"`) || !strings.Contains(line, `"provider":"google"`) {
		t.Fatalf("unexpected activity line %q", line)
	}
	if strings.Contains(line, "member@") {
		t.Fatalf("expected address to be dropped, got %q", line)
	}
}
