package call

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"parley/internal/domain"
	"parley/internal/esl"
)

type fakeAPI struct {
	mu       sync.Mutex
	commands []string
	reply    func(cmd string) (string, error)
}

func (f *fakeAPI) API(_ context.Context, cmd esl.Command) (string, error) {
	f.mu.Lock()
	f.commands = append(f.commands, cmd.Build())
	f.mu.Unlock()
	if f.reply != nil {
		return f.reply(cmd.Build())
	}
	return "+OK", nil
}

func (f *fakeAPI) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.commands))
	copy(out, f.commands)
	return out
}

func newTestController(api *fakeAPI) (*Controller, *esl.Demux, chan domain.Event, *Tracker) {
	demux := esl.NewDemux(zap.NewNop())
	events := make(chan domain.Event, 16)
	go demux.Run(events)
	tracker := NewTracker()
	return NewController(api, demux, tracker, zap.NewNop()), demux, events, tracker
}

func TestOriginateParsesCallID(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{reply: func(string) (string, error) { return "+OK 1234-abcd", nil }}
	ctrl, _, events, tracker := newTestController(api)
	defer close(events)

	callID, err := ctrl.Originate(context.Background(), "gw", "15551234567", "15550001111", nil)
	if err != nil {
		t.Fatalf("originate failed: %v", err)
	}
	if callID != "1234-abcd" {
		t.Fatalf("unexpected call id: %q", callID)
	}
	if got := tracker.State(callID); got != domain.CallStateInitiating {
		t.Fatalf("expected tracked session, got %s", got)
	}

	sent := api.sent()
	if len(sent) != 1 || !strings.HasPrefix(sent[0], "originate {") {
		t.Fatalf("unexpected commands: %v", sent)
	}
	if !strings.Contains(sent[0], "origination_caller_id_number=15550001111") {
		t.Fatalf("caller id missing from command: %s", sent[0])
	}
}

func TestOriginateRejectionIsOriginationError(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{reply: func(string) (string, error) { return "-ERR GATEWAY_DOWN", nil }}
	ctrl, _, events, _ := newTestController(api)
	defer close(events)

	_, err := ctrl.Originate(context.Background(), "gw", "100", "", nil)
	var origErr *domain.OriginationError
	if !errors.As(err, &origErr) {
		t.Fatalf("expected OriginationError, got %v", err)
	}
	if !strings.Contains(origErr.Error(), "GATEWAY_DOWN") {
		t.Fatalf("expected rejection reason, got %v", origErr)
	}
}

func TestWaitForAnswerTracksProgressThenAnswer(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{}
	ctrl, _, events, tracker := newTestController(api)
	defer close(events)

	ctrl.Adopt("c1", "")
	events <- domain.Event{Name: domain.EventChannelProgress, CallID: "c1"}
	events <- domain.Event{Name: domain.EventChannelAnswer, CallID: "c1"}

	if err := ctrl.WaitForAnswer(context.Background(), "c1", 2*time.Second); err != nil {
		t.Fatalf("wait failed: %v", err)
	}
	if got := tracker.State("c1"); got != domain.CallStateAnswered {
		t.Fatalf("expected answered, got %s", got)
	}
}

func TestWaitForAnswerHangup(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{}
	ctrl, _, events, tracker := newTestController(api)
	defer close(events)

	ctrl.Adopt("c1", "")
	events <- domain.Event{Name: domain.EventChannelHangup, CallID: "c1"}

	err := ctrl.WaitForAnswer(context.Background(), "c1", 5*time.Second)
	if !errors.Is(err, domain.ErrCallEnded) {
		t.Fatalf("expected ErrCallEnded, got %v", err)
	}
	if got := tracker.State("c1"); got != domain.CallStateEnded {
		t.Fatalf("expected ended, got %s", got)
	}
}

func TestWaitForAnswerTimeout(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{}
	ctrl, _, events, _ := newTestController(api)
	defer close(events)

	ctrl.Adopt("c1", "")
	err := ctrl.WaitForAnswer(context.Background(), "c1", 30*time.Millisecond)
	if !errors.Is(err, domain.ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
}

func TestHangupStopsRecordingAndIsIdempotent(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{}
	ctrl, _, events, tracker := newTestController(api)
	defer close(events)

	ctrl.Adopt("c1", "")
	tracker.SetRecordingPath("c1", "/tmp/full.wav")

	if err := ctrl.Hangup(context.Background(), "c1"); err != nil {
		t.Fatalf("hangup failed: %v", err)
	}
	if err := ctrl.Hangup(context.Background(), "c1"); err != nil {
		t.Fatalf("second hangup failed: %v", err)
	}

	var kills int
	var stops int
	for _, cmd := range api.sent() {
		if strings.HasPrefix(cmd, "uuid_kill") {
			kills++
		}
		if cmd == "uuid_record c1 stop /tmp/full.wav" {
			stops++
		}
	}
	if kills != 1 {
		t.Fatalf("expected exactly one kill, got %d", kills)
	}
	if stops == 0 {
		t.Fatalf("expected recording stop before hangup")
	}
}

func TestActiveQueriesPlatform(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{reply: func(cmd string) (string, error) {
		if strings.HasPrefix(cmd, "uuid_exists") {
			return "false", nil
		}
		return "+OK", nil
	}}
	ctrl, _, events, _ := newTestController(api)
	defer close(events)

	if ctrl.Active(context.Background(), "c1") {
		t.Fatalf("expected inactive call")
	}
}

func TestActiveFallsBackToTrackerOnChannelError(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{reply: func(cmd string) (string, error) {
		if strings.HasPrefix(cmd, "uuid_exists") {
			return "", errors.New("channel lost")
		}
		return "+OK", nil
	}}
	ctrl, _, events, tracker := newTestController(api)
	defer close(events)

	ctrl.Adopt("c1", "")
	if !ctrl.Active(context.Background(), "c1") {
		t.Fatalf("expected tracked call to count as active")
	}

	tracker.End("c1", domain.CallStateEnded)
	if ctrl.Active(context.Background(), "c1") {
		t.Fatalf("expected ended call to count as inactive")
	}
}
