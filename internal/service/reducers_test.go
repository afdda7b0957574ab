package service

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/paulmach/orb/geojson"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseReducersRejects(t *testing.T) {
	for _, spec := range []string{"sum", "sum:", "avg:x", ":x"} {
		_, _, err := ParseReducers([]string{spec})
		assert.True(t, errors.Is(err, ErrInvalidReducer), spec)
	}

	mapFn, reduceFn, err := ParseReducers(nil)
	require.NoError(t, err)
	assert.Nil(t, mapFn)
	assert.Nil(t, reduceFn)
}

func TestParseReducersAggregate(t *testing.T) {
	mapFn, reduceFn, err := ParseReducers([]string{"sum:v", "min:v", "max:v", "count:tag"})
	require.NoError(t, err)

	points := []geojson.Properties{
		{"v": 3.0, "tag": "x"},
		{"v": json.Number("7")},
		{"v": "-2", "tag": nil},
		{"tag": "y"},
	}

	acc := mapFn(points[0])
	for _, p := range points[1:] {
		reduceFn(acc, mapFn(p))
	}

	assert.Equal(t, 8.0, acc["sum_v"])
	assert.Equal(t, -2.0, acc["min_v"])
	assert.Equal(t, 7.0, acc["max_v"])
	assert.Equal(t, 2.0, acc["count_tag"])
	assert.NotContains(t, acc, "v")
}

func TestToFloat(t *testing.T) {
	tests := []struct {
		in   any
		want float64
		ok   bool
	}{
		{1.5, 1.5, true},
		{int64(4), 4, true},
		{uint8(2), 2, true},
		{"2.5", 2.5, true},
		{"x", 0, false},
		{nil, 0, false},
		{true, 0, false},
	}
	for _, tt := range tests {
		got, ok := toFloat(tt.in)
		assert.Equal(t, tt.ok, ok, "%v", tt.in)
		assert.Equal(t, tt.want, got, "%v", tt.in)
	}
}

func TestMetricsSnapshot(t *testing.T) {
	m := NewMetrics()
	m.Inc(MetricTileHits)
	m.Inc(MetricTileHits)
	obs := m.Observer("cafes")
	obs.Start("total")
	obs.Stop("total", 20*time.Millisecond, "")
	obs.Stop("total", 40*time.Millisecond, "")

	snap := m.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, MetricValue{Name: "build.cafes.total", Type: "timer", Count: 2, MeanMs: 30, MaxMs: 40}, snap[0])
	assert.Equal(t, MetricValue{Name: MetricTileHits, Type: "counter", Count: 2}, snap[1])
}

func TestEventBus(t *testing.T) {
	bus := NewEventBus()
	a := bus.Subscribe()
	b := bus.Subscribe()

	busObserver{bus: bus, id: "cafes"}.Stop("z3", time.Millisecond, "12 clusters")

	for _, ch := range []chan Event{a, b} {
		e := <-ch
		assert.Equal(t, Event{Resource: "datasets", Action: "build", ID: "cafes", Phase: "z3", Elapsed: time.Millisecond, Detail: "12 clusters"}, e)
	}

	bus.Unsubscribe(a)
	_, open := <-a
	assert.False(t, open)

	// a full subscriber does not block publishers
	for i := 0; i < 100; i++ {
		bus.Publish(Event{Resource: "datasets", Action: "updated"})
	}
	assert.Len(t, b, 64)
	bus.Unsubscribe(b)
}
