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

// Package scheduler is the external scheduler core.Rule.Schedule
// refers to: an in-memory, timer-driven job list that re-triggers
// evaluation of a product's rules on their cron schedule.
//
// Not persistent; not fair. A process restart loses pending jobs, so
// Sync should be called again at startup to repopulate the timeline
// from whatever rules currently carry a Schedule.
package scheduler

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gorhill/cronexpr"

	"github.com/productfarm/ruleengine/core"
)

// Broadcaster lets one signal suspend or resume every Scheduler
// sharing it. All listeners hear a broadcast channel close; since more
// than one signal may need to be sent, a fresh channel replaces the
// closed one each time.
type Broadcaster struct {
	sync.RWMutex
	suspended bool
	c         *chan struct{}
}

func NewBroadcaster() *Broadcaster {
	c := make(chan struct{})
	return &Broadcaster{c: &c}
}

func (b *Broadcaster) Get() (*chan struct{}, bool) {
	b.RLock()
	c, suspended := b.c, b.suspended
	b.RUnlock()
	return c, suspended
}

func (b *Broadcaster) Suspend() {
	b.Lock()
	b.toggle()
	b.suspended = true
	b.Unlock()
}

func (b *Broadcaster) Resume() {
	b.Lock()
	b.toggle()
	b.suspended = false
	b.Unlock()
}

func (b *Broadcaster) toggle() {
	close(*b.c)
	c := make(chan struct{})
	b.c = &c
}

// Job is one pending re-evaluation.
type Job struct {
	Id         core.RuleId
	Schedule   string
	Expression *cronexpr.Expression
	Next       time.Time
	Fn         func(t time.Time) error
	Err        error
}

func (j *Job) recurring() bool {
	return j.Expression != nil
}

type timeline []*Job

func (tl timeline) Len() int           { return len(tl) }
func (tl timeline) Swap(i, j int)      { tl[i], tl[j] = tl[j], tl[i] }
func (tl timeline) Less(i, j int) bool { return tl[i].Next.Before(tl[j].Next) }
func (tl timeline) search(t time.Time) int {
	return sort.Search(len(tl), func(i int) bool { return t.Before(tl[i].Next) })
}

// Scheduler runs Jobs at their scheduled times, one goroutine per
// instance, ordered by a single timer armed for the soonest pending
// job.
type Scheduler struct {
	sync.Mutex
	timeline timeline
	control  chan string

	broadcaster *Broadcaster
	timer       *time.Timer
	timerTarget time.Time

	PauseDuration time.Duration
	Name          string
	Limit         int
}

func New(broadcaster *Broadcaster, pause time.Duration, name string, limit int) *Scheduler {
	if broadcaster == nil {
		broadcaster = NewBroadcaster()
	}
	return &Scheduler{
		timeline:      make(timeline, 0),
		broadcaster:   broadcaster,
		timer:         time.NewTimer(0),
		timerTarget:   time.Now(),
		PauseDuration: pause,
		Name:          name,
		Limit:         limit,
	}
}

// Start launches the goroutine that fires jobs as they come due.
func (s *Scheduler) Start(ctx *core.Context) {
	core.Log(core.INFO, ctx, "scheduler.Start", "name", s.Name)
	go func() {
		if err := s.run(ctx); err != nil {
			core.Log(core.CRIT, ctx, "scheduler.Start", "error", err, "name", s.Name)
		}
	}()
	s.Resume(ctx)
}

func (s *Scheduler) PendingCount() int {
	s.Lock()
	n := len(s.timeline)
	s.Unlock()
	return n
}

func (s *Scheduler) command(ctx *core.Context, command string) error {
	s.Lock()
	if s.control == nil {
		s.Unlock()
		return fmt.Errorf("scheduler %s not started", s.Name)
	}
	s.control <- command
	s.Unlock()
	return nil
}

func (s *Scheduler) Kill(ctx *core.Context) error    { return s.command(ctx, "kill") }
func (s *Scheduler) Pause(ctx *core.Context) error   { return s.command(ctx, "pause") }
func (s *Scheduler) Suspend(ctx *core.Context) error { return s.command(ctx, "suspend") }
func (s *Scheduler) Resume(ctx *core.Context) error  { return s.command(ctx, "resume") }

func (s *Scheduler) run(ctx *core.Context) error {
	s.Lock()
	if s.control != nil {
		s.Unlock()
		return fmt.Errorf("scheduler %s already started", s.Name)
	}
	s.control = make(chan string, 10)
	s.Unlock()

	suspendedLocally := false
	broadcast, suspendedByBroadcast := s.broadcaster.Get()
	if suspendedByBroadcast {
		suspendedLocally = true
		s.stopTimerLocked()
	}

loop:
	for {
		select {
		case <-(*broadcast):
			broadcast, suspendedByBroadcast = s.broadcaster.Get()
			if suspendedByBroadcast {
				suspendedLocally = true
				s.stopTimerLocked()
			} else if suspendedLocally {
				suspendedLocally = false
				s.resetTimerLocked()
			}

		case command := <-s.control:
			switch command {
			case "pause":
				s.stopTimerLocked()
				time.Sleep(s.PauseDuration)
				s.resetTimerLocked()
			case "suspend":
				suspendedLocally = true
				s.stopTimerLocked()
			case "resume":
				if suspendedLocally {
					suspendedLocally = false
					s.resetTimerLocked()
				}
			case "kill":
				s.stopTimerLocked()
				break loop
			default:
				err := fmt.Errorf("scheduler %s unknown command %q", s.Name, command)
				core.Log(core.WARN, ctx, "scheduler.run", "error", err, "name", s.Name)
				return err
			}

		case <-s.timer.C:
			now := time.Now()
			s.Lock()
			if len(s.timeline) > 0 {
				job := s.timeline[0]
				if !now.Before(job.Next) {
					s.timeline = s.timeline[1:]
					go s.fire(ctx, job)
					s.resetTimer()
				}
			}
			s.Unlock()
		}
	}

	s.Lock()
	s.control = nil
	s.Unlock()
	return nil
}

func (s *Scheduler) fire(ctx *core.Context, job *Job) {
	core.Log(core.INFO, ctx, "scheduler.fire", "id", job.Id, "name", s.Name)
	if err := job.Fn(time.Now()); err != nil {
		job.Err = err
		core.Log(core.WARN, ctx, "scheduler.fire", "id", job.Id, "error", err, "name", s.Name)
	}
	if job.recurring() {
		if err := s.schedule(ctx, job, false); err != nil {
			core.Log(core.WARN, ctx, "scheduler.fire", "id", job.Id, "reschedule-error", err, "name", s.Name)
		}
	}
}

func (s *Scheduler) stopTimerLocked() {
	s.Lock()
	s.timer.Stop()
	s.Unlock()
}

func (s *Scheduler) resetTimer() {
	if len(s.timeline) > 0 {
		next := s.timeline[0].Next
		s.timerTarget = next
		delta := next.Sub(time.Now())
		if delta < 0 {
			delta = 0
			s.timerTarget = time.Now()
		}
		s.timer.Reset(delta)
	} else {
		s.timer.Stop()
	}
}

func (s *Scheduler) resetTimerLocked() {
	s.Lock()
	s.resetTimer()
	s.Unlock()
}

func (s *Scheduler) insert(job *Job) {
	at := s.timeline.search(job.Next)
	if at == len(s.timeline) {
		s.timeline = append(s.timeline, job)
	} else {
		s.timeline = append(s.timeline, nil)
		copy(s.timeline[at+1:], s.timeline[at:])
		s.timeline[at] = job
	}
	s.resetTimer()
}

func (s *Scheduler) schedule(ctx *core.Context, job *Job, checkLimit bool) error {
	if job.recurring() {
		job.Next = job.Expression.Next(time.Now().UTC())
	}

	s.Lock()
	defer s.Unlock()

	if _, err := s.rem(job.Id); err != nil {
		return err
	}
	if checkLimit && s.Limit > 0 && len(s.timeline) >= s.Limit {
		return fmt.Errorf("scheduler %s capacity limit (%d) hit", s.Name, s.Limit)
	}
	s.insert(job)
	return nil
}

// Add schedules f to run on a cron expression, replacing any existing
// job with the same id.
func (s *Scheduler) Add(ctx *core.Context, id core.RuleId, schedule string, f func(t time.Time) error) error {
	expr, err := cronexpr.Parse(schedule)
	if err != nil {
		return fmt.Errorf("scheduler.Add: %s", err)
	}
	job := &Job{Id: id, Schedule: schedule, Expression: expr, Fn: f}
	job.Next = expr.Next(time.Now().UTC())
	return s.schedule(ctx, job, true)
}

// Rem removes the job with the given id, returning whether it was
// found.
func (s *Scheduler) Rem(id core.RuleId) (bool, error) {
	s.Lock()
	defer s.Unlock()
	return s.rem(id)
}

func (s *Scheduler) rem(id core.RuleId) (bool, error) {
	for at, job := range s.timeline {
		if job.Id == id {
			copy(s.timeline[at:], s.timeline[at+1:])
			s.timeline = s.timeline[:len(s.timeline)-1]
			return true, nil
		}
	}
	return false, nil
}

// Sync reconciles the scheduler's timeline against the Schedule
// fields currently on a product's enabled rules: rules with a
// Schedule get a job added (replacing any stale one), rules that
// dropped their Schedule (or were deleted, disabled) get no job. fire
// is called with the rule whose schedule just came due.
func (s *Scheduler) Sync(ctx *core.Context, rules core.RuleRepository, productId string, fire func(*core.Rule) error) error {
	enabled, err := rules.FindEnabledByProduct(productId)
	if err != nil {
		return fmt.Errorf("scheduler.Sync: %s", err)
	}

	wanted := make(map[core.RuleId]bool, len(enabled))
	for _, rule := range enabled {
		if rule.Schedule == nil || *rule.Schedule == "" {
			continue
		}
		wanted[rule.Id] = true
		id, schedule := rule.Id, *rule.Schedule
		if err := s.Add(ctx, id, schedule, func(time.Time) error {
			return fire(rule)
		}); err != nil {
			core.Log(core.WARN, ctx, "scheduler.Sync", "id", id, "error", err, "name", s.Name)
		}
	}

	s.Lock()
	stale := make([]core.RuleId, 0)
	for _, job := range s.timeline {
		if !wanted[job.Id] {
			stale = append(stale, job.Id)
		}
	}
	s.Unlock()
	for _, id := range stale {
		s.Rem(id)
	}
	return nil
}
