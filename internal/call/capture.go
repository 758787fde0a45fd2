package call

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"parley/internal/domain"
	"parley/internal/esl"
)

// stopGrace is how long past the recording bound we keep waiting for the
// platform's stop event before stopping explicitly.
const stopGrace = 2 * time.Second

// CaptureConfig carries the silence-detection tunables. The defaults are
// untuned empirical values; override them through configuration.
type CaptureConfig struct {
	Dir              string
	MaxDuration      time.Duration
	SilenceThreshold int
	SilenceDuration  time.Duration
	MinBytes         int64
}

func (c CaptureConfig) withDefaults() CaptureConfig {
	if c.MaxDuration <= 0 {
		c.MaxDuration = 20 * time.Second
	}
	if c.SilenceThreshold <= 0 {
		c.SilenceThreshold = 30
	}
	if c.SilenceDuration <= 0 {
		c.SilenceDuration = 3 * time.Second
	}
	if c.MinBytes <= 0 {
		c.MinBytes = 1000
	}
	return c
}

// CaptureService runs silence-terminated recording cycles for one call.
type CaptureService struct {
	api    CommandAPI
	demux  *esl.Demux
	cfg    CaptureConfig
	logger *zap.Logger
}

func NewCaptureService(api CommandAPI, demux *esl.Demux, cfg CaptureConfig, logger *zap.Logger) *CaptureService {
	return &CaptureService{api: api, demux: demux, cfg: cfg.withDefaults(), logger: logger}
}

// Record starts one recording bound to the configured tunables and waits
// for the platform's stop event, racing it against the maximum duration.
// A capture that produced no usable audio is a recoverable CaptureFailed
// outcome, not an error. The artifact is returned on failure paths too so
// partial recordings stay available for postmortem.
func (s *CaptureService) Record(ctx context.Context, callID string) (domain.RecordingArtifact, domain.CaptureStatus) {
	artifact := domain.RecordingArtifact{
		Path:      filepath.Join(s.cfg.Dir, fmt.Sprintf("turn_%s_%s.wav", callID, uuid.NewString())),
		CallID:    callID,
		CreatedAt: time.Now(),
	}

	start, err := esl.UUIDRecordStart(callID, artifact.Path, s.cfg.MaxDuration, s.cfg.SilenceThreshold, s.cfg.SilenceDuration)
	if err != nil {
		s.logger.Warn("recording command rejected", zap.String("call_id", callID), zap.Error(err))
		return artifact, domain.CaptureFailed
	}

	// Subscribe before issuing the command so the stop event cannot race
	// past the waiter.
	sub := s.demux.Subscribe(callID)
	if _, err := s.api.API(ctx, start); err != nil {
		s.logger.Warn("recording start failed", zap.String("call_id", callID), zap.Error(err))
		return artifact, domain.CaptureFailed
	}
	_, err = sub.WaitFor(ctx, s.cfg.MaxDuration+stopGrace, domain.EventRecordStop)
	switch {
	case err == nil:
		// Stopped on its own, silence detected.
	case err == domain.ErrTimeout:
		s.stop(ctx, callID, artifact.Path)
	case err == domain.ErrCallEnded:
		return s.validate(artifact), domain.CaptureEnded
	default:
		return s.validate(artifact), domain.CaptureEnded
	}

	artifact = s.validate(artifact)
	if !artifact.Validated {
		s.logger.Info("capture produced no usable audio",
			zap.String("call_id", callID),
			zap.Int64("size_bytes", artifact.SizeBytes))
		return artifact, domain.CaptureFailed
	}
	return artifact, domain.CaptureOK
}

// stop issues the explicit stop. Safe if the recording already ended.
func (s *CaptureService) stop(ctx context.Context, callID string, path string) {
	cmd, err := esl.UUIDRecordStop(callID, path)
	if err != nil {
		return
	}
	if _, err := s.api.API(ctx, cmd); err != nil {
		s.logger.Debug("explicit recording stop failed", zap.String("call_id", callID), zap.Error(err))
	}
}

func (s *CaptureService) validate(artifact domain.RecordingArtifact) domain.RecordingArtifact {
	info, err := os.Stat(artifact.Path)
	if err != nil {
		return artifact
	}
	artifact.SizeBytes = info.Size()
	artifact.Validated = artifact.SizeBytes >= s.cfg.MinBytes
	return artifact
}
