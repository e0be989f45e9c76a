package reconciler

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"liveclass-service/internal/domain"
)

const taskPoll = "poll"

// DefaultFetchLimit caps how many of today's rows a refetch asks for.
const DefaultFetchLimit = 30

// Source is the pull side of the backend.
type Source interface {
	ListToday(ctx context.Context, studentID, instructorID string, limit int) ([]domain.Assignment, error)
	CleanupStaleCheckins(ctx context.Context) error
}

// Subscription is a live push channel. Messages is closed when the channel ends.
type Subscription interface {
	Messages() <-chan domain.FeedMessage
	Close() error
}

// Feed opens push channels filtered to one student.
type Feed interface {
	Subscribe(ctx context.Context, studentID string) (Subscription, error)
}

// Notifier presents notifications to the student.
type Notifier interface {
	Notify(ctx context.Context, n domain.Notification)
}

// Options configure a Reconciler.
type Options struct {
	StudentID    string
	InstructorID string
	FetchLimit   int
	Settings     Settings
	Clock        Clock
	QueueSize    int
}

// Reconciler keeps a de-duplicated view of a student's assignments for today in
// step with the server. All state changes happen on the goroutine running Run.
type Reconciler struct {
	opts     Options
	source   Source
	feed     Feed
	notifier Notifier
	log      zerolog.Logger

	events chan Event
	done   chan struct{}

	mu   sync.RWMutex
	view State
	busy bool

	// owned by the Run goroutine
	state     State
	sched     *scheduler
	sub       Subscription
	subCancel context.CancelFunc
	inflight  bool
	again     bool
}

type subscribed struct {
	gen int
	sub Subscription
	ctx context.Context
	end context.CancelFunc
}

type refetchDone struct {
	rows []domain.Assignment
	err  error
}

func (subscribed) isEvent()  {}
func (refetchDone) isEvent() {}

// New builds a reconciler. Zero-valued options fall back to production defaults.
func New(opts Options, source Source, feed Feed, notifier Notifier, log zerolog.Logger) *Reconciler {
	if opts.FetchLimit <= 0 || opts.FetchLimit > DefaultFetchLimit {
		opts.FetchLimit = DefaultFetchLimit
	}
	if opts.Settings == (Settings{}) {
		opts.Settings = DefaultSettings()
	}
	if opts.Clock == nil {
		opts.Clock = RealClock
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	r := &Reconciler{
		opts:     opts,
		source:   source,
		feed:     feed,
		notifier: notifier,
		log:      log.With().Str("component", "reconciler").Str("student_id", opts.StudentID).Logger(),
		events:   make(chan Event, opts.QueueSize),
		done:     make(chan struct{}),
		state:    NewState(opts.StudentID),
	}
	r.view = r.state.clone()
	r.sched = newScheduler(opts.Clock, func(ev Event) { r.post(ev) })
	return r
}

// Snapshot returns a copy of the current view.
func (r *Reconciler) Snapshot() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.view.clone()
}

// Busy reports whether a refetch is in flight or queued.
func (r *Reconciler) Busy() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.busy
}

// Renew tears down the channel and subscribes again. Call it when the auth
// session is signed in again or its token is refreshed.
func (r *Reconciler) Renew(reason domain.AuthReason) {
	r.post(AuthRenewed{Reason: reason})
}

// Run drives the reconciler until ctx is cancelled, then cancels every pending
// task and tears down the channel.
func (r *Reconciler) Run(ctx context.Context) {
	defer close(r.done)
	defer r.teardown()

	r.dispatch(ctx, Started{})
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-r.events:
			r.dispatch(ctx, ev)
		}
	}
}

// post queues ev for the loop. It reports false once the loop has stopped.
func (r *Reconciler) post(ev Event) bool {
	select {
	case r.events <- ev:
		return true
	case <-r.done:
		return false
	}
}

func (r *Reconciler) dispatch(ctx context.Context, ev Event) {
	switch e := ev.(type) {
	case taskFired:
		fired, ok := r.sched.fire(e)
		if !ok {
			return
		}
		ev = fired
	case subscribed:
		r.adopt(e)
		return
	case refetchDone:
		r.inflight = false
		if e.err != nil {
			r.log.Warn().Err(e.err).Msg("Refetch failed, keeping previous assignments")
		}
		ev = RefetchCompleted{Assignments: e.rows, Err: e.err}
		defer func() {
			if r.again {
				r.again = false
				r.refetch(ctx)
			}
		}()
	}

	next, effects := Reduce(r.opts.Settings, r.state, ev)
	if next.Status != r.state.Status {
		r.log.Info().
			Str("from", string(r.state.Status)).
			Str("to", string(next.Status)).
			Int("retries", next.Retries).
			Msg("Connection status changed")
	}
	r.state = next
	if _, ok := ev.(PollTick); ok && r.state.Polling {
		r.sched.schedule(taskPoll, r.opts.Settings.PollInterval, PollTick{})
	}
	for _, eff := range effects {
		r.apply(ctx, eff)
	}

	r.mu.Lock()
	r.view = r.state.clone()
	r.busy = r.inflight || r.again
	r.mu.Unlock()
}

func (r *Reconciler) apply(ctx context.Context, eff Effect) {
	switch e := eff.(type) {
	case Subscribe:
		r.closeSubscription()
		r.subscribe(ctx, e.Gen)
	case Refetch:
		r.refetch(ctx)
	case Schedule:
		r.sched.schedule(e.Task, e.After, e.Event)
	case Cancel:
		r.sched.cancel(e.Task)
	case StartPolling:
		if !r.sched.pending(taskPoll) {
			r.sched.schedule(taskPoll, e.Interval, PollTick{})
		}
	case StopPolling:
		r.sched.cancel(taskPoll)
	case Notify:
		r.notifier.Notify(ctx, e.Notification)
	}
}

func (r *Reconciler) subscribe(ctx context.Context, gen int) {
	subCtx, cancel := context.WithCancel(ctx)
	go func() {
		sub, err := r.feed.Subscribe(subCtx, r.opts.StudentID)
		if err != nil {
			cancel()
			r.log.Warn().Err(err).Int("gen", gen).Msg("Subscribe failed")
			r.post(ChannelFailed{Gen: gen, Reason: ReasonError})
			return
		}
		if !r.post(subscribed{gen: gen, sub: sub, ctx: subCtx, end: cancel}) {
			cancel()
			_ = sub.Close()
		}
	}()
}

// adopt installs a freshly opened subscription unless a newer one was requested
// in the meantime.
func (r *Reconciler) adopt(s subscribed) {
	if s.gen != r.state.Gen {
		s.end()
		_ = s.sub.Close()
		return
	}
	r.closeSubscription()
	r.sub = s.sub
	r.subCancel = s.end
	go r.pump(s.ctx, s.gen, s.sub)
}

// pump turns subscription messages into loop events tagged with their generation.
func (r *Reconciler) pump(ctx context.Context, gen int, sub Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Messages():
			if !ok {
				if ctx.Err() == nil {
					r.post(ChannelFailed{Gen: gen, Reason: ReasonClosed})
				}
				return
			}
			if ev := translate(gen, msg); ev != nil {
				if msg.Err != nil {
					r.log.Warn().Err(msg.Err).Str("kind", string(msg.Kind)).Msg("Channel failure")
				}
				r.post(ev)
			}
		}
	}
}

func translate(gen int, msg domain.FeedMessage) Event {
	switch msg.Kind {
	case domain.FeedAck:
		return ChannelAcked{Gen: gen}
	case domain.FeedError:
		return ChannelFailed{Gen: gen, Reason: ReasonError}
	case domain.FeedTimeout:
		return ChannelFailed{Gen: gen, Reason: ReasonTimeout}
	case domain.FeedClosed:
		return ChannelFailed{Gen: gen, Reason: ReasonClosed}
	case domain.FeedChange:
		if msg.Change == nil {
			return nil
		}
		switch msg.Change.Kind {
		case domain.ChangeInsert:
			return RowInserted{Assignment: msg.Change.New}
		case domain.ChangeUpdate:
			return RowUpdated{Old: msg.Change.Old, New: msg.Change.New}
		}
	}
	return nil
}

func (r *Reconciler) closeSubscription() {
	if r.subCancel != nil {
		r.subCancel()
		r.subCancel = nil
	}
	if r.sub != nil {
		if err := r.sub.Close(); err != nil {
			r.log.Debug().Err(err).Msg("Close subscription")
		}
		r.sub = nil
	}
}

// refetch runs at most one fetch at a time; a request made while one is in
// flight runs once more after it lands so updates are never masked by an older
// snapshot.
func (r *Reconciler) refetch(ctx context.Context) {
	if r.inflight {
		r.again = true
		return
	}
	r.inflight = true
	r.mu.Lock()
	r.busy = true
	r.mu.Unlock()
	// Cleanup is best effort and never holds up the fetch.
	go func() {
		if err := r.source.CleanupStaleCheckins(ctx); err != nil {
			r.log.Debug().Err(err).Msg("Cleanup of stale check-ins failed")
		}
	}()
	go func() {
		rows, err := r.source.ListToday(ctx, r.opts.StudentID, r.opts.InstructorID, r.opts.FetchLimit)
		r.post(refetchDone{rows: rows, err: err})
	}()
}

func (r *Reconciler) teardown() {
	r.sched.stopAll()
	r.closeSubscription()
	r.log.Debug().Msg("Reconciler stopped")
}
