package domain

import "time"

// Direction says which side initiated the call.
type Direction string

const (
	DirectionOutbound Direction = "outbound"
	DirectionInbound  Direction = "inbound"
)

// CallState models the lifecycle of a single call leg.
type CallState string

const (
	CallStateInitiating CallState = "initiating"
	CallStateRinging    CallState = "ringing"
	CallStateAnswered   CallState = "answered"
	CallStateInProgress CallState = "in_progress"
	CallStateEnded      CallState = "ended"
	CallStateFailed     CallState = "failed"
)

// Terminal reports whether the state admits no further transitions.
func (s CallState) Terminal() bool {
	return s == CallStateEnded || s == CallStateFailed
}

// CallSession is the per-call record owned by the controller handling it.
type CallSession struct {
	ID            string
	Direction     Direction
	State         CallState
	CallerNumber  string
	StartedAt     time.Time
	EndedAt       time.Time
	RecordingPath string
}

// Event is one asynchronous notification from the signaling platform.
// Events are transient and consumed once by the first matching waiter.
type Event struct {
	Name    string
	CallID  string
	Headers map[string]string
}

// Header returns a named event attribute or "".
func (e Event) Header(key string) string {
	return e.Headers[key]
}

// Signaling event names this system reacts to.
const (
	EventChannelAnswer   = "CHANNEL_ANSWER"
	EventChannelProgress = "CHANNEL_PROGRESS"
	EventChannelHangup   = "CHANNEL_HANGUP"
	EventRecordStart     = "RECORD_START"
	EventRecordStop      = "RECORD_STOP"
	EventPlaybackStop    = "PLAYBACK_STOP"
)

// RecordingArtifact is one silence-terminated capture result.
type RecordingArtifact struct {
	Path      string
	CallID    string
	CreatedAt time.Time
	SizeBytes int64
	Validated bool
}

// CaptureStatus classifies the outcome of one recording cycle.
type CaptureStatus string

const (
	CaptureOK     CaptureStatus = "ok"
	CaptureFailed CaptureStatus = "failed"
	CaptureEnded  CaptureStatus = "call_ended"
)

// PlayResult classifies the outcome of one playback.
type PlayResult string

const (
	PlayCompleted PlayResult = "completed"
	PlayTimedOut  PlayResult = "timed_out"
	PlayCallEnded PlayResult = "call_ended"
)

// Role identifies who produced a conversation turn.
type Role string

const (
	RoleCaller    Role = "caller"
	RoleAssistant Role = "assistant"
)

// Turn is one entry in a conversation history.
type Turn struct {
	Role Role
	Text string
}

// RunOutcome is the terminal result of one orchestrator run.
type RunOutcome string

const (
	RunMaxIterationsReached RunOutcome = "max_iterations_reached"
	RunCallEnded            RunOutcome = "call_ended"
	RunCaptureExhausted     RunOutcome = "capture_exhausted"
)
