// Package metrics exports authentication activity as prometheus counters.
package metrics

import (
	"context"

	auth "github.com/goliatone/go-auth-accounts"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "auth"

// Sink is an auth.ActivitySink backed by prometheus collectors.
type Sink struct {
	events     *prometheus.CounterVec
	outcomes   *prometheus.CounterVec
	deliveries *prometheus.CounterVec
}

// outcome events are also counted by provider and outcome name
var outcomeEvents = map[auth.ActivityEventType]string{
	auth.ActivityEventSignIn:        "signed_in",
	auth.ActivityEventJoin:          "created",
	auth.ActivityEventRejoin:        "created",
	auth.ActivityEventConflict:      "conflict",
	auth.ActivityEventNotRegistered: "not_registered",
	auth.ActivityEventWrongPassword: "wrong_password",
}

// NewSink creates the collectors and registers them with reg. A nil reg
// uses prometheus.DefaultRegisterer.
func NewSink(reg prometheus.Registerer) (*Sink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	s := &Sink{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "activity_events_total",
			Help:      "Authentication activity events by type.",
		}, []string{"event"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_outcomes_total",
			Help:      "Reconciliation outcomes by provider.",
		}, []string{"provider", "outcome"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_failures_total",
			Help:      "Critical notifications that could not be sent.",
		}, []string{"purpose"}),
	}

	for _, c := range []prometheus.Collector{s.events, s.outcomes, s.deliveries} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// MustNewSink is like NewSink but panics on registration errors.
func MustNewSink(reg prometheus.Registerer) *Sink {
	s, err := NewSink(reg)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *Sink) Record(_ context.Context, event auth.ActivityEvent) error {
	s.events.WithLabelValues(string(event.EventType)).Inc()

	if outcome, ok := outcomeEvents[event.EventType]; ok {
		s.outcomes.WithLabelValues(string(event.Provider), outcome).Inc()
	}

	if event.EventType == auth.ActivityEventDeliveryFailed {
		purpose, _ := event.Metadata["purpose"].(string)
		s.deliveries.WithLabelValues(purpose).Inc()
	}
	return nil
}

var _ auth.ActivitySink = (*Sink)(nil)
