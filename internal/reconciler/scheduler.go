package reconciler

import "time"

// Timer is a pending callback that can be stopped.
type Timer interface {
	Stop() bool
}

// Clock abstracts time.AfterFunc so scheduling can be driven by tests.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// RealClock schedules on the runtime's timers.
var RealClock Clock = realClock{}

type task struct {
	seq   uint64
	timer Timer
	event Event
}

// taskFired is posted by a timer callback; seq lets the loop drop firings of
// tasks that were cancelled or replaced after the timer went off.
type taskFired struct {
	name string
	seq  uint64
}

func (taskFired) isEvent() {}

// scheduler owns the named tasks of one reconciler. It is only touched from the
// reconciler loop.
type scheduler struct {
	clock Clock
	post  func(Event)
	seq   uint64
	tasks map[string]*task
}

func newScheduler(clock Clock, post func(Event)) *scheduler {
	return &scheduler{clock: clock, post: post, tasks: make(map[string]*task)}
}

func (s *scheduler) schedule(name string, after time.Duration, ev Event) {
	s.cancel(name)
	s.seq++
	seq := s.seq
	t := &task{seq: seq, event: ev}
	t.timer = s.clock.AfterFunc(after, func() {
		s.post(taskFired{name: name, seq: seq})
	})
	s.tasks[name] = t
}

func (s *scheduler) cancel(name string) {
	if t, ok := s.tasks[name]; ok {
		t.timer.Stop()
		delete(s.tasks, name)
	}
}

// fire resolves a firing into the task's event, or false if it is stale.
func (s *scheduler) fire(f taskFired) (Event, bool) {
	t, ok := s.tasks[f.name]
	if !ok || t.seq != f.seq {
		return nil, false
	}
	delete(s.tasks, f.name)
	return t.event, true
}

func (s *scheduler) pending(name string) bool {
	_, ok := s.tasks[name]
	return ok
}

func (s *scheduler) stopAll() {
	for name := range s.tasks {
		s.cancel(name)
	}
}
