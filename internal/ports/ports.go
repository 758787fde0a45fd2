package ports

import (
	"context"
	"time"

	"parley/internal/domain"
)

// Transcriber turns captured audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// Generator produces the assistant's next reply from the ordered history.
type Generator interface {
	Generate(ctx context.Context, history []domain.Turn, persona string) (string, error)
}

// Synthesizer renders text as an audio file and returns its path.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, outPath string) (string, error)
}

// Converter normalizes an audio file to the telephony format.
type Converter interface {
	ToWAV(ctx context.Context, src string) (string, error)
}

// CallControl exposes the controller operations the orchestrator needs.
type CallControl interface {
	State(callID string) domain.CallState
	Active(ctx context.Context, callID string) bool
	Hangup(ctx context.Context, callID string) error
}

// Recorder runs one silence-terminated recording cycle.
type Recorder interface {
	Record(ctx context.Context, callID string) (domain.RecordingArtifact, domain.CaptureStatus)
}

// Player delivers audio to the far end and blocks until it resolves.
type Player interface {
	Play(ctx context.Context, callID string, ref string, timeout time.Duration) domain.PlayResult
}
