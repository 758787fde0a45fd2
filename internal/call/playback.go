package call

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"parley/internal/audio"
	"parley/internal/domain"
	"parley/internal/esl"
	"parley/internal/ports"
)

// PlaybackConfig bounds how long playback may run past the media length.
type PlaybackConfig struct {
	Dir            string
	Slack          time.Duration
	DefaultTimeout time.Duration
}

func (c PlaybackConfig) withDefaults() PlaybackConfig {
	if c.Slack <= 0 {
		c.Slack = 5 * time.Second
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = 30 * time.Second
	}
	return c
}

// PlaybackService delivers audio to the far end and blocks until the
// platform reports completion, the bound expires, or the call ends.
type PlaybackService struct {
	api       CommandAPI
	demux     *esl.Demux
	converter ports.Converter
	cfg       PlaybackConfig
	logger    *zap.Logger
}

func NewPlaybackService(api CommandAPI, demux *esl.Demux, converter ports.Converter, cfg PlaybackConfig, logger *zap.Logger) *PlaybackService {
	return &PlaybackService{api: api, demux: demux, converter: converter, cfg: cfg.withDefaults(), logger: logger}
}

// Play resolves the audio reference to a normalized local file, starts
// playback, and waits for the stop event. A hangup observed mid-wait
// returns PlayCallEnded immediately rather than waiting out the timeout.
// Local failures (fetch, conversion, command) degrade to PlayTimedOut:
// recoverable, the conversation proceeds.
func (s *PlaybackService) Play(ctx context.Context, callID string, ref string, timeout time.Duration) domain.PlayResult {
	path := ref
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		downloaded, err := audio.Download(ctx, ref, s.cfg.Dir)
		if err != nil {
			s.logger.Warn("audio fetch failed", zap.String("call_id", callID), zap.String("ref", ref), zap.Error(err))
			return domain.PlayTimedOut
		}
		path = downloaded
	}

	if !strings.HasSuffix(strings.ToLower(path), ".wav") {
		converted, err := s.converter.ToWAV(ctx, path)
		if err != nil {
			s.logger.Warn("audio conversion failed", zap.String("call_id", callID), zap.String("path", path), zap.Error(err))
			return domain.PlayTimedOut
		}
		path = converted
	}

	if timeout <= 0 {
		if duration, err := audio.Duration(path); err == nil && duration > 0 {
			timeout = duration + s.cfg.Slack
		} else {
			timeout = s.cfg.DefaultTimeout
		}
	}

	cmd, err := esl.UUIDBroadcast(callID, path)
	if err != nil {
		s.logger.Warn("broadcast command rejected", zap.String("call_id", callID), zap.Error(err))
		return domain.PlayTimedOut
	}
	sub := s.demux.Subscribe(callID)
	if _, err := s.api.API(ctx, cmd); err != nil {
		s.logger.Warn("broadcast failed", zap.String("call_id", callID), zap.Error(err))
		return domain.PlayTimedOut
	}

	_, err = sub.WaitFor(ctx, timeout, domain.EventPlaybackStop)
	switch {
	case err == nil:
		return domain.PlayCompleted
	case err == domain.ErrCallEnded:
		return domain.PlayCallEnded
	case err == domain.ErrTimeout:
		s.logger.Info("playback timed out", zap.String("call_id", callID), zap.Duration("timeout", timeout))
		return domain.PlayTimedOut
	default:
		return domain.PlayCallEnded
	}
}
