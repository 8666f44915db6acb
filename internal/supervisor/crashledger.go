// Copyright (C) 2026 The Beryl Authors. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package supervisor

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nijaru/beryl-router/internal/clock"
)

// crashEvent records one task exit the ledger decided was worth counting.
type crashEvent struct {
	Task      string    `json:"task"`
	Err       string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// crashLedgerState is the on-disk form of the ledger.
type crashLedgerState struct {
	Events []crashEvent `json:"events"`
}

// crashLedger is a small persisted ring of per-task exit events, used to
// decide whether the supervisor should refuse to re-enable a feature
// after repeated crashes. The status endpoint does not report its
// contents. A task crash here means a supervised goroutine started by
// startTask returned for a reason other than context cancellation; a
// failed WiFi apply is also recorded, under the task name "wifi".
type crashLedger struct {
	mu        sync.Mutex
	path      string
	threshold int
	window    time.Duration
	clock     clock.Clock
	state     crashLedgerState
}

const (
	defaultCrashThreshold = 3
	defaultCrashWindow    = 5 * time.Minute
)

// newCrashLedger loads any existing ledger at path, or starts empty if
// the file is absent or unreadable. path may be empty, in which case the
// ledger tracks events in memory only for the life of the process.
func newCrashLedger(path string, c clock.Clock) *crashLedger {
	if c == nil {
		c = clock.Real{}
	}
	l := &crashLedger{
		path:      path,
		threshold: defaultCrashThreshold,
		window:    defaultCrashWindow,
		clock:     c,
	}
	l.load()
	return l
}

// RecordCrash appends a crash event for task and persists the ledger.
func (l *crashLedger) RecordCrash(task string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	msg := ""
	if err != nil {
		msg = err.Error()
	}
	l.state.Events = append(l.state.Events, crashEvent{
		Task:      task,
		Err:       msg,
		Timestamp: l.clock.Now(),
	})
	l.pruneLocked()
	l.save()
}

// ShouldEnterSafeMode reports whether task has crashed at least threshold
// times within the tracking window, meaning the supervisor should skip
// re-enabling it on the next apply.
func (l *crashLedger) ShouldEnterSafeMode(task string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.pruneLocked()
	count := 0
	for _, e := range l.state.Events {
		if e.Task == task {
			count++
		}
	}
	return count >= l.threshold
}

// Recent returns a copy of the current ledger, newest last.
func (l *crashLedger) Recent() []crashEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneLocked()
	return append([]crashEvent(nil), l.state.Events...)
}

func (l *crashLedger) pruneLocked() {
	cutoff := l.clock.Now().Add(-l.window)
	kept := l.state.Events[:0:0]
	for _, e := range l.state.Events {
		if e.Timestamp.After(cutoff) {
			kept = append(kept, e)
		}
	}
	l.state.Events = kept
}

func (l *crashLedger) load() {
	if l.path == "" {
		return
	}
	data, err := os.ReadFile(l.path)
	if err != nil {
		return
	}
	var st crashLedgerState
	if err := json.Unmarshal(data, &st); err != nil {
		return
	}
	l.state = st
}

func (l *crashLedger) save() {
	if l.path == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return
	}
	data, err := json.Marshal(l.state)
	if err != nil {
		return
	}
	_ = os.WriteFile(l.path, data, 0o644)
}
