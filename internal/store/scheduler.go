package store

import (
	"sort"
	"sync"
	"time"
)

// Timer is a one-shot timer armed by a Scheduler.
type Timer interface {
	Stop() bool
}

// Scheduler arms one-shot timers. Hosts with a UI thread can supply a scheduler
// that delivers f on that thread.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// TimeScheduler fires timers on the runtime timer goroutines.
type TimeScheduler struct{}

func (TimeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// ManualScheduler is a virtual clock. Timers fire only from Advance, on the
// caller's goroutine.
type ManualScheduler struct {
	mu     sync.Mutex
	now    time.Duration
	seq    int
	timers []*manualTimer
}

type manualTimer struct {
	m    *ManualScheduler
	at   time.Duration
	seq  int
	f    func()
	done bool
}

func (m *ManualScheduler) AfterFunc(d time.Duration, f func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	t := &manualTimer{m: m, at: m.now + d, seq: m.seq, f: f}
	m.timers = append(m.timers, t)
	return t
}

// Now returns the virtual time elapsed since the scheduler was created.
func (m *ManualScheduler) Now() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Armed returns the number of timers that have neither fired nor been stopped.
func (m *ManualScheduler) Armed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.timers {
		if !t.done {
			n++
		}
	}
	return n
}

// Advance moves the clock forward by d, firing due timers in order.
// Timers armed by a firing callback fire too if they fall within d.
func (m *ManualScheduler) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now + d
	for {
		t := m.nextDueLocked(target)
		if t == nil {
			break
		}
		t.done = true
		m.now = t.at
		m.mu.Unlock()
		t.f()
		m.mu.Lock()
	}
	m.now = target
	m.compactLocked()
	m.mu.Unlock()
}

func (m *ManualScheduler) nextDueLocked(target time.Duration) *manualTimer {
	var due []*manualTimer
	for _, t := range m.timers {
		if !t.done && t.at <= target {
			due = append(due, t)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].at != due[j].at {
			return due[i].at < due[j].at
		}
		return due[i].seq < due[j].seq
	})
	return due[0]
}

func (m *ManualScheduler) compactLocked() {
	live := m.timers[:0]
	for _, t := range m.timers {
		if !t.done {
			live = append(live, t)
		}
	}
	m.timers = live
}

func (t *manualTimer) Stop() bool {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	if t.done {
		return false
	}
	t.done = true
	return true
}
