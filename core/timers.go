// Copyright 2015 Comcast Cable Communications Management, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// End Copyright

package core

// These timers measure time. Supposed to be simple and fast. Used to
// time a single rule evaluation, a DAG level, or a cache compile.

import (
	"math/rand"
	"sync"
	"time"
)

// MaxTimerHistories bounds how many distinct timer names this process
// will track histories for, so a bug that mints unbounded timer names
// (e.g. keying by rule id) can't grow memory without limit.
const MaxTimerHistories = 4096

// TimerHistorySize is how many entries each named timer's circular
// buffer holds.
const TimerHistorySize = 64

// TimerWarningLimit logs a WARN record when a single timer's elapsed
// time exceeds this.
var TimerWarningLimit = 500 * time.Millisecond

type Timer struct {
	Ctx     *Context
	Id      int64
	S       string
	Then    int64
	Elapsed int64
	Paused  bool
}

var NoTimer = Timer{nil, 0, "ignore", 0, 0, false}

// NewTimer makes a new timer with the given name.
//
// ctx is optional. If provided and its Control says NoTiming, a no-op
// timer is returned instead.
func NewTimer(ctx *Context, s string) *Timer {
	if ctx != nil && ctx.Control != nil && ctx.Control.NoTiming {
		return &NoTimer
	}
	t := Timer{ctx, rand.Int63(), s, time.Now().UTC().UnixNano(), 0, false}
	return &t
}

// Elapse computes the elapsed time in nanoseconds. Does not change
// timer state.
func (t *Timer) Elapse() int64 {
	if t == &NoTimer {
		return 0
	}
	if t.Paused {
		return t.Elapsed
	}
	return t.Elapsed + (time.Now().UTC().UnixNano() - t.Then)
}

// Resume restarts a paused timer.
func (t *Timer) Resume() {
	if t == &NoTimer {
		return
	}
	t.Then = time.Now().UTC().UnixNano()
	t.Paused = false
}

// Reset zeros the current elapsed time and resets the current time.
func (t *Timer) Reset() {
	if t == &NoTimer {
		return
	}
	t.Then = time.Now().UTC().UnixNano()
	t.Elapsed = 0
}

// Pause stops the clock.
func (t *Timer) Pause() {
	if t.Paused {
		return
	}
	t.Elapsed = t.Elapse()
	t.Then = time.Now().UTC().UnixNano()
	t.Paused = true
}

// Stop computes the elapsed time (in nanoseconds), records it in the
// timer's history, and logs it.
func (t *Timer) Stop() int64 {
	if t == &NoTimer {
		return 0
	}
	elapsed := t.Elapse()
	t.Elapsed = elapsed
	t.Then = time.Now().UTC().UnixNano()
	t.store(t.S)
	t.Elapsed = 0
	ms := elapsed / 1000000
	Log(TIMER, t.Ctx, "Timer.Stop", "timer", t.S, "elapsed", elapsed, "ms", ms)
	Metric(t.Ctx, "Timer."+t.S, elapsed/1000000)
	if TimerWarningLimit < time.Duration(elapsed) {
		Log(WARN, t.Ctx, "Timer.Stop", "timer", t.S, "elapsed", elapsed, "warning", "slow")
	}
	return elapsed
}

// StopTag computes the elapsed time (in nanoseconds), stores it under
// both t.S and t.S+"_"+tag, and logs it with the given tag.
func (t *Timer) StopTag(tag string) int64 {
	if t == &NoTimer {
		return 0
	}
	elapsed := t.Elapse()
	t.Elapsed = elapsed
	t.Then = time.Now().UTC().UnixNano()
	t.store(t.S + "_" + tag)
	t.store(t.S)
	t.Elapsed = 0
	Log(TIMER, t.Ctx, "Timer.StopTag", "timer", t.S, "elapsed", elapsed, "timertag", tag)
	Metric(t.Ctx, "Timer."+t.S, elapsed/1000000)
	return elapsed
}

// TimerHistory stores a circular-buffer history for one timer name.
type TimerHistory struct {
	sync.Mutex
	seq    int
	offset int
	size   int
	buffer []TimerHistoryEntry
}

func newTimerHistory() *TimerHistory {
	history := TimerHistory{}
	history.size = TimerHistorySize
	history.buffer = make([]TimerHistoryEntry, history.size)
	return &history
}

// Copy makes an atomic snapshot of a history, for GetTimerHistory.
func (history *TimerHistory) Copy() *TimerHistory {
	clone := TimerHistory{}
	history.Lock()
	clone.buffer = make([]TimerHistoryEntry, history.size)
	clone.offset = history.offset
	clone.seq = history.seq
	clone.size = history.size
	copy(clone.buffer, history.buffer)
	history.Unlock()
	return &clone
}

// TimerHistoryEntry stores a bit of timer state at a point in time.
type TimerHistoryEntry struct {
	// Seq monotonically increases.
	Seq int

	// Timestamp is RFC3339Nano, UTC.
	Timestamp string

	// Elapsed is in nanoseconds.
	Elapsed int64
}

var timerHistories = make(map[string]*TimerHistory)
var timersMutex = sync.Mutex{}

// ClearTimerHistories resets all timer histories.
func ClearTimerHistories() {
	Log(INFO, nil, "ClearTimerHistories")
	timersMutex.Lock()
	timerHistories = make(map[string]*TimerHistory)
	timersMutex.Unlock()
}

var tooManyTimersWarning = false

func (t *Timer) store(name string) {
	if name == "" {
		name = t.S
	}

	timersMutex.Lock()
	history, have := timerHistories[name]
	if !have {
		if MaxTimerHistories <= len(timerHistories) {
			if !tooManyTimersWarning {
				Log(WARN, t.Ctx, "Timer.store", "warning", "too many distinct timers")
				tooManyTimersWarning = true
			}
		} else {
			history = newTimerHistory()
			timerHistories[name] = history
		}
	}
	timersMutex.Unlock()
	if history == nil {
		return
	}

	history.Lock()
	seq := history.seq
	entry := TimerHistoryEntry{seq, Timestamp(time.Now()), t.Elapsed}
	history.seq++
	history.buffer[history.offset] = entry
	history.offset++
	if history.offset == len(history.buffer) {
		history.offset = 0
	}
	history.Unlock()
}

// GetTimerHistory gets a history for timers with the given name.
// after is a sequence number corresponding to 'Seq' in previously
// retrieved entries; use -1 to start. limit bounds the result length;
// use a negative limit for no bound.
func GetTimerHistory(name string, after int, limit int) []TimerHistoryEntry {
	timersMutex.Lock()
	history, have := timerHistories[name]
	timersMutex.Unlock()
	if !have {
		return make([]TimerHistoryEntry, 0)
	}

	clone := history.Copy()

	n := clone.size
	entries := make([]TimerHistoryEntry, 0, n)
	for i := clone.offset; i < n; i++ {
		entry := clone.buffer[i]
		if entry.Timestamp != "" && after < entry.Seq {
			entries = append(entries, entry)
		}
	}
	for i := 0; i < clone.offset; i++ {
		entry := clone.buffer[i]
		if entry.Timestamp != "" && after < entry.Seq {
			entries = append(entries, entry)
		}
	}

	drop := len(entries) - limit
	if 0 <= limit && 0 < drop {
		entries = entries[drop:]
	}
	return entries
}

// GetTimerNames returns all known timer names.
func GetTimerNames() []string {
	timersMutex.Lock()
	names := make([]string, 0, len(timerHistories))
	for name := range timerHistories {
		names = append(names, name)
	}
	timersMutex.Unlock()
	return names
}
