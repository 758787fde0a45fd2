package call

import (
	"sync"
	"time"

	"parley/internal/domain"
)

// Tracker derives per-call status from the event stream and answers
// liveness queries. Terminal states are sticky.
type Tracker struct {
	mu       sync.Mutex
	sessions map[string]*domain.CallSession
}

func NewTracker() *Tracker {
	return &Tracker{sessions: make(map[string]*domain.CallSession)}
}

// Begin registers a new session in the initiating state.
func (t *Tracker) Begin(callID string, direction domain.Direction, caller string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.sessions[callID]; ok {
		return
	}
	t.sessions[callID] = &domain.CallSession{
		ID:           callID,
		Direction:    direction,
		State:        domain.CallStateInitiating,
		CallerNumber: caller,
		StartedAt:    time.Now(),
	}
}

// Observe applies one signaling event to the session it belongs to.
func (t *Tracker) Observe(event domain.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.sessions[event.CallID]
	if !ok || s.State.Terminal() {
		return
	}

	switch event.Name {
	case domain.EventChannelProgress:
		if s.State == domain.CallStateInitiating {
			s.State = domain.CallStateRinging
		}
	case domain.EventChannelAnswer:
		if s.State == domain.CallStateInitiating || s.State == domain.CallStateRinging {
			s.State = domain.CallStateAnswered
		}
	case domain.EventChannelHangup:
		s.State = domain.CallStateEnded
		s.EndedAt = time.Now()
	}
}

// MarkInProgress records that recording and greeting have begun.
func (t *Tracker) MarkInProgress(callID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.sessions[callID]; ok && s.State == domain.CallStateAnswered {
		s.State = domain.CallStateInProgress
	}
}

// End moves a session to a terminal state. No-op once terminal.
func (t *Tracker) End(callID string, state domain.CallState) {
	if !state.Terminal() {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.sessions[callID]; ok && !s.State.Terminal() {
		s.State = state
		s.EndedAt = time.Now()
	}
}

// SetRecordingPath attaches the full-call recording artifact location.
func (t *Tracker) SetRecordingPath(callID string, path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.sessions[callID]; ok {
		s.RecordingPath = path
	}
}

// State returns the tracked state; unknown calls count as ended.
func (t *Tracker) State(callID string) domain.CallState {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.sessions[callID]; ok {
		return s.State
	}
	return domain.CallStateEnded
}

// Session returns a copy of the tracked session record.
func (t *Tracker) Session(callID string) (domain.CallSession, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.sessions[callID]; ok {
		return *s, true
	}
	return domain.CallSession{}, false
}
