package metrics

import (
	"context"
	"time"

	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
)

// Timer records durations in milliseconds into a distribution view.
type Timer struct {
	measureMs *stats.Float64Measure
	view      *view.View
}

// NewTimerMs creates a Timer whose view buckets latencies from 25ms to 32s.
func NewTimerMs(name, desc string) *Timer {
	fMeasure := stats.Float64(name, desc, stats.UnitMilliseconds)
	fView := &view.View{
		Name:        name,
		Measure:     fMeasure,
		Description: desc,
		Aggregation: view.Distribution(25, 50, 100, 200, 400, 800, 1000, 2000, 4000, 8000, 16000, 32000),
	}
	if err := view.Register(fView); err != nil {
		panic(err)
	}

	return &Timer{
		measureMs: fMeasure,
		view:      fView,
	}
}

// Start starts a Stopwatch for the timer.
func (t *Timer) Start(ctx context.Context) *Stopwatch {
	return &Stopwatch{
		ctx:      ctx,
		start:    time.Now(),
		recorder: t.measureMs.M,
	}
}

// Stopwatch measures one duration.
type Stopwatch struct {
	ctx      context.Context
	start    time.Time
	recorder func(v float64) stats.Measurement
}

// Stop records the elapsed time since Start and returns it.
func (sw *Stopwatch) Stop(ctx context.Context) time.Duration {
	d := time.Since(sw.start)
	stats.Record(ctx, sw.recorder(float64(d)/float64(time.Millisecond)))
	return d
}
