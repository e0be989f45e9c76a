package reconciler

import (
	"fmt"
	"strconv"

	"liveclass-service/internal/domain"
)

// ExhaustedMessage is the persistent notice shown once automatic reconnects stop.
const ExhaustedMessage = "Connection failed, using backup polling"

// Reduce maps (state, event) to the next state and the effects the runtime must apply.
// It never mutates s.
func Reduce(cfg Settings, s State, ev Event) (State, []Effect) {
	next := s.clone()
	switch e := ev.(type) {
	case Started:
		next.Status = StatusConnecting
		next.Gen++
		effects := []Effect{Subscribe{Gen: next.Gen}, Refetch{}}
		return next, append(effects, next.startPolling(cfg)...)

	case ChannelAcked:
		if e.Gen != s.Gen {
			return s, nil
		}
		next.Status = StatusConnected
		next.Retries = 0
		next.Exhausted = false
		effects := []Effect{Cancel{Task: TaskReconnect}}
		effects = append(effects, next.stopPolling()...)
		// Rows written before the acknowledgement never reached the channel.
		return next, append(effects, Refetch{})

	case ChannelFailed:
		if e.Gen != s.Gen || s.Status == StatusError {
			return s, nil
		}
		next.Status = StatusError
		effects := next.startPolling(cfg)
		if next.Retries < cfg.MaxRetries {
			delay := cfg.Backoff(next.Retries)
			next.Retries++
			return next, append(effects, Schedule{Task: TaskReconnect, After: delay, Event: ReconnectDue{}})
		}
		if !next.Exhausted {
			next.Exhausted = true
			effects = append(effects, Notify{Notification: domain.Notification{
				Level:      domain.LevelWarning,
				Message:    ExhaustedMessage,
				Persistent: true,
			}})
		}
		return next, effects

	case ReconnectDue:
		if s.Status != StatusError {
			return s, nil
		}
		next.Status = StatusConnecting
		next.Gen++
		return next, []Effect{Subscribe{Gen: next.Gen}}

	case AuthRenewed:
		next.Status = StatusConnecting
		next.Gen++
		effects := []Effect{Cancel{Task: TaskReconnect}, Subscribe{Gen: next.Gen}}
		return next, append(effects, next.startPolling(cfg)...)

	case PollTick:
		if s.Status == StatusConnected {
			return next, next.stopPolling()
		}
		return s, []Effect{Refetch{}}

	case RowInserted:
		a := e.Assignment
		if a.Type == domain.TypeLectureCheckin {
			next.Pending[a.ID] = struct{}{}
			return next, []Effect{Schedule{Task: CheckinTask(a.ID), After: cfg.CheckinDelay, Event: CheckinDue{Assignment: a}}}
		}
		next.insert(a)
		return next, nil

	case CheckinDue:
		a := e.Assignment
		delete(next.Pending, a.ID)
		next.insert(a)
		return next, []Effect{Notify{Notification: domain.Notification{
			Level:        domain.LevelSuccess,
			Message:      fmt.Sprintf("New check-in: %s", a.Title),
			AssignmentID: a.ID,
		}}}

	case RowUpdated:
		return next, next.applyUpdate(cfg, e)

	case DebounceElapsed:
		return s, []Effect{Refetch{}}

	case RefetchCompleted:
		if e.Err != nil {
			return s, nil
		}
		return next, next.replace(e.Assignments)
	}
	return s, nil
}

// insert puts a at the head of the list unless its id is already present.
func (s *State) insert(a domain.Assignment) bool {
	if s.indexOf(a.ID) >= 0 {
		return false
	}
	s.Assignments = append([]domain.Assignment{a}, s.Assignments...)
	return true
}

func (s *State) applyUpdate(cfg Settings, e RowUpdated) []Effect {
	var effects []Effect
	prev := e.Old
	// A check-in still waiting out its delay is revealed with the latest image.
	if _, pending := s.Pending[e.New.ID]; pending {
		effects = append(effects, Schedule{Task: CheckinTask(e.New.ID), After: cfg.CheckinDelay, Event: CheckinDue{Assignment: e.New}})
	}
	if i := s.indexOf(e.New.ID); i >= 0 {
		if prev == nil {
			local := s.Assignments[i]
			prev = &local
		}
		s.Assignments[i] = e.New
	}

	if prev != nil && !prev.AnswersReleased && e.New.AnswersReleased {
		effects = append(effects, Notify{Notification: domain.Notification{
			Level:        domain.LevelInfo,
			Message:      fmt.Sprintf("Answers released for %s", e.New.Title),
			AssignmentID: e.New.ID,
		}})
	}
	if e.New.Grade != nil && (prev == nil || prev.Grade == nil || *prev.Grade != *e.New.Grade) {
		effects = append(effects, Notify{Notification: domain.Notification{
			Level:        domain.LevelSuccess,
			Message:      "Grade posted: " + strconv.FormatFloat(*e.New.Grade, 'f', -1, 64) + "%",
			AssignmentID: e.New.ID,
		}})
	}
	return append(effects, Schedule{Task: TaskDebounce, After: cfg.DebounceDelay, Event: DebounceElapsed{}})
}

// replace swaps in a refetched snapshot, de-duplicated and without check-ins
// that are still waiting out their reveal delay.
func (s *State) replace(rows []domain.Assignment) []Effect {
	seen := make(map[string]struct{}, len(rows))
	list := make([]domain.Assignment, 0, len(rows))
	for _, a := range rows {
		if _, dup := seen[a.ID]; dup {
			continue
		}
		seen[a.ID] = struct{}{}
		if _, pending := s.Pending[a.ID]; pending {
			continue
		}
		list = append(list, a)
	}

	var effects []Effect
	if added := len(list) - len(s.Assignments); s.Loaded && added > 0 {
		msg := "1 new assignment"
		if added > 1 {
			msg = fmt.Sprintf("%d new assignments", added)
		}
		effects = append(effects, Notify{Notification: domain.Notification{Level: domain.LevelInfo, Message: msg}})
	}
	s.Assignments = list
	s.Loaded = true
	return effects
}

func (s *State) startPolling(cfg Settings) []Effect {
	if s.Polling {
		return nil
	}
	s.Polling = true
	return []Effect{StartPolling{Interval: cfg.PollInterval}}
}

func (s *State) stopPolling() []Effect {
	if !s.Polling {
		return nil
	}
	s.Polling = false
	return []Effect{StopPolling{}}
}
