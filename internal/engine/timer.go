package engine

import (
	"context"
	"sort"
	"sync"
	"time"
)

// TimerEventKind classifies what a tick produced.
type TimerEventKind int

const (
	// TimerAlert fires once per configured threshold.
	TimerAlert TimerEventKind = iota
	// TimerCheckpoint asks for a progress write.
	TimerCheckpoint
	// TimerExpired fires once when remaining time reaches zero.
	TimerExpired
)

type TimerEvent struct {
	Kind      TimerEventKind
	Remaining int
	Threshold int
}

// SessionTimer is the exam countdown. It decrements once per second, fires
// each alert threshold at most once, and requests a checkpoint write on a
// fixed interval of elapsed seconds rather than on the remaining-time value,
// so resuming mid-interval does not skew the write cadence.
//
// Tick runs on the timer goroutine while Remaining and Expired are read from
// the event loop, so all state sits behind the mutex.
type SessionTimer struct {
	mu              sync.Mutex
	remaining       int
	alertFired      map[int]bool
	thresholds      []int
	interval        int
	sinceCheckpoint int
	expired         bool
}

// NewSessionTimer starts the countdown at remainingSeconds. Thresholds the
// countdown has already crossed are marked fired so a resumed session does
// not replay stale alerts; a threshold equal to the starting value still
// fires, one tick in.
func NewSessionTimer(remainingSeconds int, alertThresholds []int, checkpointIntervalSeconds int) *SessionTimer {
	if remainingSeconds < 0 {
		remainingSeconds = 0
	}
	if checkpointIntervalSeconds <= 0 {
		checkpointIntervalSeconds = 10
	}
	fired := make(map[int]bool, len(alertThresholds))
	thresholds := make([]int, 0, len(alertThresholds))
	for _, th := range alertThresholds {
		if th <= 0 {
			continue
		}
		thresholds = append(thresholds, th)
		if th > remainingSeconds {
			fired[th] = true
		}
	}
	sort.Sort(sort.Reverse(sort.IntSlice(thresholds)))

	return &SessionTimer{
		remaining:  remainingSeconds,
		alertFired: fired,
		thresholds: thresholds,
		interval:   checkpointIntervalSeconds,
	}
}

func (t *SessionTimer) Remaining() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remaining
}

func (t *SessionTimer) Expired() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.expired
}

// Tick advances the countdown by one second and returns the events that
// second produced. After expiry Tick returns nothing.
func (t *SessionTimer) Tick() []TimerEvent {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.expired {
		return nil
	}

	t.remaining--
	if t.remaining < 0 {
		t.remaining = 0
	}
	t.sinceCheckpoint++

	var events []TimerEvent

	for _, th := range t.thresholds {
		if t.remaining <= th && !t.alertFired[th] {
			t.alertFired[th] = true
			events = append(events, TimerEvent{Kind: TimerAlert, Remaining: t.remaining, Threshold: th})
		}
	}

	if t.remaining == 0 {
		t.expired = true
		events = append(events, TimerEvent{Kind: TimerExpired, Remaining: 0})
		return events
	}

	if t.sinceCheckpoint >= t.interval {
		t.sinceCheckpoint = 0
		events = append(events, TimerEvent{Kind: TimerCheckpoint, Remaining: t.remaining})
	}

	return events
}

// Run drives the countdown on a one-second ticker, delivering events through
// emit. Event handling happens on the caller's side; a slow checkpoint write
// must be dispatched without blocking this loop. Run returns when the timer
// expires or the context is cancelled.
func (t *SessionTimer) Run(ctx context.Context, emit func(TimerEvent)) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, ev := range t.Tick() {
				emit(ev)
			}
			if t.Expired() {
				return
			}
		}
	}
}
