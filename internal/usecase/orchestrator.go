package usecase

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"parley/internal/domain"
	"parley/internal/ports"
	"parley/internal/text"
)

// TextNormalizer rewrites reply text for pronunciation before synthesis.
type TextNormalizer interface {
	Apply(text string) string
}

// Config controls conversation loop behavior.
type Config struct {
	Persona       string
	MaxIterations int
	FailureBound  int
	Apology       string
	RetryPrompt   string
	Goodbye       string
	WorkDir       string
	PlayTimeout   time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxIterations <= 0 {
		c.MaxIterations = 10
	}
	if c.FailureBound <= 0 {
		c.FailureBound = 2
	}
	if c.Apology == "" {
		c.Apology = "I'm sorry, I'm having a little trouble right now. Could you say that again?"
	}
	if c.RetryPrompt == "" {
		c.RetryPrompt = "Sorry, I didn't catch that. Could you repeat it?"
	}
	if c.WorkDir == "" {
		c.WorkDir = os.TempDir()
	}
	return c
}

// Orchestrator runs the turn-based conversation loop on one call:
// capture, transcribe, generate, synthesize, play, strictly in order.
type Orchestrator struct {
	calls       ports.CallControl
	recorder    ports.Recorder
	player      ports.Player
	transcriber ports.Transcriber
	generator   ports.Generator
	synthesizer ports.Synthesizer
	normalizer  TextNormalizer
	cfg         Config
	logger      *zap.Logger
}

func NewOrchestrator(
	calls ports.CallControl,
	recorder ports.Recorder,
	player ports.Player,
	transcriber ports.Transcriber,
	generator ports.Generator,
	synthesizer ports.Synthesizer,
	normalizer TextNormalizer,
	cfg Config,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		calls:       calls,
		recorder:    recorder,
		player:      player,
		transcriber: transcriber,
		generator:   generator,
		synthesizer: synthesizer,
		normalizer:  normalizer,
		cfg:         cfg.withDefaults(),
		logger:      logger,
	}
}

// Run drives the conversation until the iteration budget is spent, the
// call ends, or capture gives out. The greeting is an audio reference
// (local path or URL) played before the first turn; empty skips it.
// Whatever the outcome, the call is hung up before Run returns.
func (o *Orchestrator) Run(ctx context.Context, callID string, greeting string) domain.RunOutcome {
	log := o.logger.With(zap.String("call_id", callID))
	conversation := newHistory(2 * o.cfg.MaxIterations)

	if greeting != "" {
		if o.player.Play(ctx, callID, greeting, o.cfg.PlayTimeout) == domain.PlayCallEnded {
			return o.finish(ctx, callID, domain.RunCallEnded, false)
		}
	}

	failures := 0
	for iterationsUsed := 0; iterationsUsed < o.cfg.MaxIterations; {
		if state := o.calls.State(callID); state != domain.CallStateInProgress {
			log.Info("call no longer in progress", zap.String("state", string(state)))
			return o.finish(ctx, callID, domain.RunCallEnded, false)
		}

		transcript, status := o.captureTurn(ctx, callID, log)
		switch status {
		case domain.CaptureEnded:
			return o.finish(ctx, callID, domain.RunCallEnded, false)
		case domain.CaptureFailed:
			failures++
			if failures >= o.cfg.FailureBound {
				log.Warn("capture exhausted", zap.Int("consecutive_failures", failures))
				return o.finish(ctx, callID, domain.RunCaptureExhausted, true)
			}
			continue
		}

		if transcript == "" {
			// Heard something, understood nothing. Ask again without
			// polluting the history.
			failures++
			if failures >= o.cfg.FailureBound {
				return o.finish(ctx, callID, domain.RunCaptureExhausted, true)
			}
			if o.speak(ctx, callID, o.cfg.RetryPrompt) == domain.PlayCallEnded {
				return o.finish(ctx, callID, domain.RunCallEnded, false)
			}
			continue
		}
		failures = 0

		log.Info("caller turn", zap.String("transcript", transcript))
		conversation.append(domain.RoleCaller, transcript)

		reply, err := o.generator.Generate(ctx, conversation.forGeneration(), o.cfg.Persona)
		if err != nil {
			log.Warn("generation failed, substituting apology", zap.Error(err))
			reply = o.cfg.Apology
		}
		conversation.append(domain.RoleAssistant, reply)
		log.Info("assistant turn", zap.String("reply", reply))

		if o.speak(ctx, callID, reply) == domain.PlayCallEnded {
			return o.finish(ctx, callID, domain.RunCallEnded, false)
		}
		iterationsUsed++
	}

	log.Info("iteration budget spent", zap.Int("max_iterations", o.cfg.MaxIterations))
	return o.finish(ctx, callID, domain.RunMaxIterationsReached, true)
}

// captureTurn records one utterance and transcribes it. Transcription
// failure is reported as CaptureFailed so both feed the same bound.
func (o *Orchestrator) captureTurn(ctx context.Context, callID string, log *zap.Logger) (string, domain.CaptureStatus) {
	artifact, status := o.recorder.Record(ctx, callID)
	if status != domain.CaptureOK {
		return "", status
	}

	audio, err := os.ReadFile(artifact.Path)
	if err != nil {
		log.Warn("reading capture artifact failed", zap.String("path", artifact.Path), zap.Error(err))
		return "", domain.CaptureFailed
	}
	transcript, err := o.transcriber.Transcribe(ctx, audio)
	if err != nil {
		log.Warn("transcription failed", zap.Error(err))
		return "", domain.CaptureFailed
	}
	return strings.TrimSpace(transcript), domain.CaptureOK
}

// speak synthesizes reply text and plays it. Local synthesis failures
// degrade to a timed-out result so the loop keeps going.
func (o *Orchestrator) speak(ctx context.Context, callID string, reply string) domain.PlayResult {
	spoken := text.Clean(reply)
	if o.normalizer != nil {
		spoken = o.normalizer.Apply(spoken)
	}
	if spoken == "" {
		return domain.PlayCompleted
	}

	outPath := filepath.Join(o.cfg.WorkDir, "say_"+callID+"_"+uuid.NewString()+".mp3")
	rendered, err := o.synthesizer.Synthesize(ctx, spoken, outPath)
	if err != nil {
		o.logger.Warn("synthesis failed", zap.String("call_id", callID), zap.Error(err))
		return domain.PlayTimedOut
	}
	return o.player.Play(ctx, callID, rendered, o.cfg.PlayTimeout)
}

// finish says goodbye when the far end is still there, then hangs up.
func (o *Orchestrator) finish(ctx context.Context, callID string, outcome domain.RunOutcome, goodbye bool) domain.RunOutcome {
	if goodbye && o.cfg.Goodbye != "" && o.calls.Active(ctx, callID) {
		o.speak(ctx, callID, o.cfg.Goodbye)
	}
	if err := o.calls.Hangup(ctx, callID); err != nil {
		o.logger.Warn("hangup failed", zap.String("call_id", callID), zap.Error(err))
	}
	o.logger.Info("conversation finished", zap.String("call_id", callID), zap.String("outcome", string(outcome)))
	return outcome
}
