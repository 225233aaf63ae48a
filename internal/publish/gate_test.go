package publish

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/oszuidwest/zwfm-noisemeter/internal/types"
)

// recorder is a Publisher that records messages and can be made to fail.
type recorder struct {
	topics   []string
	payloads []string
	fail     error
}

func (r *recorder) Publish(_ context.Context, topic, payload string) error {
	r.topics = append(r.topics, topic)
	r.payloads = append(r.payloads, payload)
	return r.fail
}

func (r *recorder) Close() error { return nil }

func testTopic(m types.Metric) string { return "home/noise/" + string(m) }

func TestFormatLevel(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{-120, "-120.0"},
		{-42.34, "-42.3"},
		{-42.36, "-42.4"},
		{0, "0.0"},
		{-0.04, "0.0"},
		{math.Copysign(0, -1), "0.0"},
		{3.05, "3.0"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatLevel(tt.in), "FormatLevel(%v)", tt.in)
	}
}

func TestGatePublishesOnlyChanges(t *testing.T) {
	rec := &recorder{}
	g := NewGate(rec, testTopic)
	ctx := context.Background()

	for range 10 {
		g.Offer(ctx, types.MetricAvg, FormatLevel(-50.01))
	}
	assert.Equal(t, []string{"-50.0"}, rec.payloads)

	assert.True(t, g.Offer(ctx, types.MetricAvg, FormatLevel(-49.9)))
	assert.False(t, g.Offer(ctx, types.MetricAvg, FormatLevel(-49.94)))
	assert.Equal(t, []string{"-50.0", "-49.9"}, rec.payloads)
	assert.Equal(t, []string{"home/noise/avg_db", "home/noise/avg_db"}, rec.topics)

	assert.Equal(t, "-49.9", g.Counters()[types.MetricAvg].Last)
}

func TestGateMetricsAreIndependent(t *testing.T) {
	rec := &recorder{}
	g := NewGate(rec, testTopic)
	ctx := context.Background()

	g.Offer(ctx, types.MetricAvg, "-60.0")
	g.Offer(ctx, types.MetricMax, "-60.0")
	g.Offer(ctx, types.MetricPresence, types.Absent.String())
	g.Offer(ctx, types.MetricAvg, "-55.0")
	g.Offer(ctx, types.MetricMax, "-60.0")
	g.Offer(ctx, types.MetricPresence, types.Absent.String())

	assert.Equal(t, []string{
		"home/noise/avg_db", "home/noise/max_db", "home/noise/presence", "home/noise/avg_db",
	}, rec.topics)

	counters := g.Counters()
	assert.Equal(t, 2, counters[types.MetricAvg].Published)
	assert.Equal(t, 1, counters[types.MetricMax].Published)
	assert.Equal(t, 1, counters[types.MetricPresence].Published)
	assert.Equal(t, "0", counters[types.MetricPresence].Last)
	assert.Zero(t, counters[types.MetricAvg1h].Published)
	assert.Len(t, counters, len(types.Metrics))
}

func TestGateFailedPublishIsRetried(t *testing.T) {
	rec := &recorder{fail: errors.New("connection refused")}
	g := NewGate(rec, testTopic)
	ctx := context.Background()

	assert.True(t, g.Offer(ctx, types.MetricAvg1m, "-33.3"))
	assert.True(t, g.Offer(ctx, types.MetricAvg1m, "-33.3"))
	assert.Empty(t, g.Counters()[types.MetricAvg1m].Last)

	rec.fail = nil
	assert.True(t, g.Offer(ctx, types.MetricAvg1m, "-33.3"))
	assert.False(t, g.Offer(ctx, types.MetricAvg1m, "-33.3"))

	c := g.Counters()[types.MetricAvg1m]
	assert.Equal(t, 2, c.Failed)
	assert.Equal(t, 1, c.Published)
	assert.Len(t, rec.payloads, 3)
}
