package lifecycle

import (
	"sync/atomic"
	"time"
)

// Lifecycle is shared process state for readiness. Once draining starts the
// broker reports unready while in-flight exchanges finish.
type Lifecycle struct {
	draining atomic.Bool
	since    atomic.Int64 // unix nanos
	inFlight atomic.Int64
}

func (l *Lifecycle) SetDraining(draining bool) {
	if l == nil {
		return
	}
	if !draining {
		l.draining.Store(false)
		l.since.Store(0)
		return
	}
	if l.draining.CompareAndSwap(false, true) {
		l.since.Store(time.Now().UnixNano())
	}
}

func (l *Lifecycle) IsDraining() bool {
	if l == nil {
		return false
	}
	return l.draining.Load()
}

// DrainingSince is zero unless draining.
func (l *Lifecycle) DrainingSince() time.Time {
	if l == nil {
		return time.Time{}
	}
	n := l.since.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Begin marks one credential exchange in flight. The returned func ends it
// and is safe to call more than once.
func (l *Lifecycle) Begin() (end func()) {
	if l == nil {
		return func() {}
	}
	l.inFlight.Add(1)
	var done atomic.Bool
	return func() {
		if done.CompareAndSwap(false, true) {
			l.inFlight.Add(-1)
		}
	}
}

func (l *Lifecycle) InFlight() int64 {
	if l == nil {
		return 0
	}
	return l.inFlight.Load()
}
