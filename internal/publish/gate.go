package publish

import (
	"context"
	"log/slog"
	"strconv"
	"sync"

	"github.com/oszuidwest/zwfm-noisemeter/internal/types"
)

// FormatLevel renders a dB value with 0.1 dB resolution. The rendered text is both
// the published payload and the value compared for change detection.
func FormatLevel(db float64) string {
	s := strconv.FormatFloat(db, 'f', 1, 64)
	if s == "-0.0" {
		return "0.0"
	}
	return s
}

// Gate publishes a metric only when its rendered value differs from the last one
// delivered. A failed publish leaves the last value untouched, so the next frame retries.
type Gate struct {
	publisher Publisher
	topic     func(types.Metric) string

	mu       sync.RWMutex
	last     map[types.Metric]string
	counters map[types.Metric]types.PublishCounters
}

// NewGate creates a gate in front of publisher. topic maps a metric to its full topic.
func NewGate(publisher Publisher, topic func(types.Metric) string) *Gate {
	return &Gate{
		publisher: publisher,
		topic:     topic,
		last:      make(map[types.Metric]string),
		counters:  make(map[types.Metric]types.PublishCounters),
	}
}

// Offer publishes payload for m if it changed. It reports whether a publish was attempted.
func (g *Gate) Offer(ctx context.Context, m types.Metric, payload string) bool {
	g.mu.RLock()
	last, seen := g.last[m]
	g.mu.RUnlock()
	if seen && last == payload {
		return false
	}

	topic := g.topic(m)
	err := g.publisher.Publish(ctx, topic, payload)

	g.mu.Lock()
	defer g.mu.Unlock()
	c := g.counters[m]
	if err != nil {
		c.Failed++
		g.counters[m] = c
		if ctx.Err() == nil {
			slog.Error("publish failed", "topic", topic, "payload", payload, "error", err)
		}
		return true
	}
	c.Published++
	c.Last = payload
	g.counters[m] = c
	g.last[m] = payload
	slog.Debug("published", "topic", topic, "payload", payload)
	return true
}

// Counters returns a copy of the per-metric publish counters.
func (g *Gate) Counters() map[types.Metric]types.PublishCounters {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make(map[types.Metric]types.PublishCounters, len(types.Metrics))
	for _, m := range types.Metrics {
		out[m] = g.counters[m]
	}
	return out
}
