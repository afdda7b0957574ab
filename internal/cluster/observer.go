package cluster

import (
	"fmt"
	"time"
)

// Phase names reported to an Observer while loading.
const (
	PhaseTotal   = "total"
	PhasePrepare = "prepare"
)

// ZoomPhase names the clustering pass for zoom z.
func ZoomPhase(z int) string {
	return fmt.Sprintf("z%d", z)
}

// Observer is notified around every build phase. It is purely advisory.
type Observer interface {
	Start(phase string)
	Stop(phase string, elapsed time.Duration, detail string)
}

// NopObserver ignores all notifications.
type NopObserver struct{}

func (NopObserver) Start(string)                        {}
func (NopObserver) Stop(string, time.Duration, string) {}

// MultiObserver fans notifications out in order.
type MultiObserver []Observer

func (m MultiObserver) Start(phase string) {
	for _, o := range m {
		o.Start(phase)
	}
}

func (m MultiObserver) Stop(phase string, elapsed time.Duration, detail string) {
	for _, o := range m {
		o.Stop(phase, elapsed, detail)
	}
}

// timer pairs a Start with the matching Stop.
type timer struct {
	o     Observer
	phase string
	start time.Time
}

func startTimer(o Observer, phase string) timer {
	o.Start(phase)
	return timer{o: o, phase: phase, start: time.Now()}
}

func (t timer) stop(detail string) {
	t.o.Stop(t.phase, time.Since(t.start), detail)
}
