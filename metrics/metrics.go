// Package metrics exposes Prometheus collectors for units of work and event delivery.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/poiesic/chatstore/notify"
	"github.com/poiesic/chatstore/storage"
)

// Collector records transaction and delivery metrics. It satisfies both
// storage.Observer and notify.Recorder.
type Collector struct {
	transactions *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	events       *prometheus.CounterVec
}

var (
	_ storage.Observer = (*Collector)(nil)
	_ notify.Recorder  = (*Collector)(nil)
)

// New creates a Collector and registers it on reg, or on the default
// registerer when reg is nil. Collectors already registered on reg are reused.
func New(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &Collector{
		transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatstore_transactions_total",
			Help: "Units of work by isolation level and outcome",
		}, []string{"isolation", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chatstore_transaction_duration_seconds",
			Help:    "Time from begin to commit or rollback",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"outcome"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatstore_events_published_total",
			Help: "Change events handed to a sink, by delivery outcome",
		}, []string{"sink", "outcome"}),
	}
	var err error
	if c.transactions, err = register(reg, c.transactions); err != nil {
		return nil, err
	}
	if c.duration, err = register(reg, c.duration); err != nil {
		return nil, err
	}
	if c.events, err = register(reg, c.events); err != nil {
		return nil, err
	}
	return c, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// TransactionFinished counts a unit of work and observes its duration.
func (c *Collector) TransactionFinished(iso storage.Isolation, outcome storage.Outcome, elapsed time.Duration) {
	c.transactions.WithLabelValues(iso.String(), string(outcome)).Inc()
	c.duration.WithLabelValues(string(outcome)).Observe(elapsed.Seconds())
}

// EventsDelivered counts events by sink and outcome.
func (c *Collector) EventsDelivered(sink, outcome string, events int) {
	c.events.WithLabelValues(sink, outcome).Add(float64(events))
}
