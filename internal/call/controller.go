package call

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"parley/internal/domain"
	"parley/internal/esl"
)

// CommandAPI is the slice of the control channel the call services need.
type CommandAPI interface {
	API(ctx context.Context, cmd esl.Command) (string, error)
}

// Controller owns call setup and teardown on one control-channel session.
type Controller struct {
	api     CommandAPI
	demux   *esl.Demux
	tracker *Tracker
	logger  *zap.Logger
}

func NewController(api CommandAPI, demux *esl.Demux, tracker *Tracker, logger *zap.Logger) *Controller {
	return &Controller{api: api, demux: demux, tracker: tracker, logger: logger}
}

// Originate places an outbound call through a gateway and returns the
// call id the platform assigned. An explicit rejection yields an
// OriginationError, distinct from an acknowledgement timeout.
func (c *Controller) Originate(ctx context.Context, gateway string, destination string, callerID string, extra map[string]string) (string, error) {
	vars := map[string]string{
		"absolute_codec_string": "PCMA",
		"ignore_early_media":    "false",
		"hangup_after_bridge":   "false",
	}
	if callerID != "" {
		vars["origination_caller_id_number"] = callerID
	}
	for key, value := range extra {
		vars[key] = value
	}

	cmd, err := esl.Originate(gateway, destination, vars)
	if err != nil {
		return "", err
	}

	c.logger.Info("originating call",
		zap.String("gateway", gateway),
		zap.String("destination", destination))

	reply, err := c.api.API(ctx, cmd)
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(reply, "+OK") {
		return "", &domain.OriginationError{Response: reply}
	}

	callID := strings.TrimSpace(strings.TrimPrefix(reply, "+OK"))
	if callID == "" {
		return "", &domain.OriginationError{Response: reply}
	}

	c.tracker.Begin(callID, domain.DirectionOutbound, callerID)
	c.demux.Subscribe(callID)
	return callID, nil
}

// Adopt registers an inbound call the dispatcher handed over.
func (c *Controller) Adopt(callID string, caller string) {
	c.tracker.Begin(callID, domain.DirectionInbound, caller)
	c.demux.Subscribe(callID)
}

// WaitForAnswer blocks until the far end answers, the call ends, or the
// timeout expires. Ring progress updates the tracked state on the way.
func (c *Controller) WaitForAnswer(ctx context.Context, callID string, timeout time.Duration) error {
	sub := c.demux.Subscribe(callID)
	deadline := time.Now().Add(timeout)

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return domain.ErrTimeout
		}

		event, err := sub.WaitFor(ctx, remaining, domain.EventChannelAnswer, domain.EventChannelProgress)
		if err != nil {
			if err == domain.ErrCallEnded {
				c.tracker.Observe(event)
				c.tracker.End(callID, domain.CallStateEnded)
			}
			return err
		}

		c.tracker.Observe(event)
		if event.Name == domain.EventChannelAnswer {
			return nil
		}
	}
}

// BeginCallRecording starts the full-call recording and moves the
// session to in-progress.
func (c *Controller) BeginCallRecording(ctx context.Context, callID string, path string) error {
	cmd, err := esl.UUIDRecordCall(callID, path)
	if err != nil {
		return err
	}
	if _, err := c.api.API(ctx, cmd); err != nil {
		return err
	}
	c.tracker.SetRecordingPath(callID, path)
	c.tracker.MarkInProgress(callID)
	return nil
}

// MarkInProgress moves an answered call into the conversation phase
// without a recording, for when the recording could not start.
func (c *Controller) MarkInProgress(callID string) {
	c.tracker.MarkInProgress(callID)
}

// Active asks the platform whether the call leg still exists. Falls back
// to the tracked state when the channel cannot answer.
func (c *Controller) Active(ctx context.Context, callID string) bool {
	cmd, err := esl.UUIDExists(callID)
	if err != nil {
		return false
	}
	reply, err := c.api.API(ctx, cmd)
	if err != nil {
		return !c.tracker.State(callID).Terminal()
	}
	return reply == "true"
}

// State returns the tracked call state.
func (c *Controller) State(callID string) domain.CallState {
	return c.tracker.State(callID)
}

// Hangup ends the call. Best effort and idempotent: rejections from the
// platform for an already-dead leg are ignored.
func (c *Controller) Hangup(ctx context.Context, callID string) error {
	if c.tracker.State(callID).Terminal() {
		return nil
	}

	if session, ok := c.tracker.Session(callID); ok && session.RecordingPath != "" {
		if cmd, err := esl.UUIDRecordStop(callID, session.RecordingPath); err == nil {
			if _, err := c.api.API(ctx, cmd); err != nil {
				c.logger.Debug("stopping call recording failed", zap.String("call_id", callID), zap.Error(err))
			}
		}
	}
	c.tracker.End(callID, domain.CallStateEnded)

	cmd, err := esl.UUIDKill(callID)
	if err != nil {
		return err
	}
	if _, err := c.api.API(ctx, cmd); err != nil {
		return err
	}
	return nil
}

// Fail marks the session failed after a rejection or channel loss.
func (c *Controller) Fail(callID string) {
	c.tracker.End(callID, domain.CallStateFailed)
}

// Release drops the call's event queue once the session is finished.
func (c *Controller) Release(callID string) {
	c.demux.Unsubscribe(callID)
}
