package bootstrap

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"parley/internal/audio"
	"parley/internal/call"
	"parley/internal/config"
	"parley/internal/dispatch"
	"parley/internal/domain"
	"parley/internal/esl"
	"parley/internal/providers/deepgram"
	"parley/internal/providers/elevenlabs"
	"parley/internal/providers/gemini"
	"parley/internal/text"
	"parley/internal/usecase"
)

// Services is the assembled runtime graph shared across calls. The
// per-call pieces (connection, demux, tracker, orchestrator) are built
// fresh for every call.
type Services struct {
	Config      config.Config
	Logger      *zap.Logger
	Transcriber *deepgram.Provider
	Generator   *gemini.Provider
	Synthesizer *elevenlabs.Provider
	Converter   *audio.FFMPEGConverter
	Normalizer  *text.Normalizer
}

// Build wires the call-independent dependencies.
func Build(cfg config.Config, logger *zap.Logger) (Services, error) {
	if err := os.MkdirAll(cfg.Recording.Dir, 0o755); err != nil {
		return Services{}, fmt.Errorf("creating recordings dir: %w", err)
	}

	normalizer, err := text.NewNormalizer(cfg.Conversation.RulesPath, 30)
	if err != nil {
		return Services{}, err
	}

	return Services{
		Config: cfg,
		Logger: logger,
		Transcriber: deepgram.NewProvider(deepgram.Config{
			APIKey:      cfg.Providers.Deepgram.APIKey,
			APIBaseURL:  cfg.Providers.Deepgram.APIBaseURL,
			Model:       cfg.Providers.Deepgram.Model,
			Language:    cfg.Providers.Deepgram.Language,
			SmartFormat: cfg.Providers.Deepgram.SmartFormat,
		}),
		Generator: gemini.NewProvider(gemini.Config{
			APIKey:     cfg.Providers.Gemini.APIKey,
			APIBaseURL: cfg.Providers.Gemini.APIBaseURL,
			Model:      cfg.Providers.Gemini.Model,
		}),
		Synthesizer: elevenlabs.NewProvider(elevenlabs.Config{
			APIKey:     cfg.Providers.ElevenLabs.APIKey,
			APIBaseURL: cfg.Providers.ElevenLabs.APIBaseURL,
			VoiceID:    cfg.Providers.ElevenLabs.VoiceID,
			ModelID:    cfg.Providers.ElevenLabs.ModelID,
		}),
		Converter:  audio.NewFFMPEGConverter(cfg.Audio.FFMPEGCommand, cfg.Audio.SampleRate, cfg.Audio.Channels, logger),
		Normalizer: normalizer,
	}, nil
}

// callStack is the per-call wiring shared by both directions.
type callStack struct {
	controller   *call.Controller
	orchestrator *usecase.Orchestrator
}

func (s Services) newCallStack(conn *esl.Conn) *callStack {
	cfg := s.Config
	demux := esl.NewDemux(s.Logger)
	go demux.Run(conn.Events())

	tracker := call.NewTracker()
	controller := call.NewController(conn, demux, tracker, s.Logger)
	recorder := call.NewCaptureService(conn, demux, call.CaptureConfig{
		Dir:              cfg.Recording.Dir,
		MaxDuration:      cfg.Recording.MaxDuration,
		SilenceThreshold: cfg.Recording.SilenceThreshold,
		SilenceDuration:  cfg.Recording.SilenceDuration,
		MinBytes:         cfg.Recording.MinBytes,
	}, s.Logger)
	player := call.NewPlaybackService(conn, demux, s.Converter, call.PlaybackConfig{
		Dir: cfg.Recording.Dir,
	}, s.Logger)

	orchestrator := usecase.NewOrchestrator(
		controller, recorder, player,
		s.Transcriber, s.Generator, s.Synthesizer, s.Normalizer,
		usecase.Config{
			Persona:       cfg.Conversation.Persona,
			MaxIterations: cfg.Conversation.MaxIterations,
			FailureBound:  cfg.Conversation.FailureBound,
			Goodbye:       cfg.Conversation.Goodbye,
			WorkDir:       cfg.Recording.Dir,
		},
		s.Logger,
	)
	return &callStack{controller: controller, orchestrator: orchestrator}
}

var watchedEvents = []string{
	domain.EventChannelAnswer,
	domain.EventChannelProgress,
	domain.EventChannelHangup,
	domain.EventRecordStart,
	domain.EventRecordStop,
	domain.EventPlaybackStop,
}

// RunOutbound places one call and drives the conversation on it:
// dial the control channel, originate, wait for answer, record the
// whole call, then run the turn loop.
func RunOutbound(ctx context.Context, s Services) (domain.RunOutcome, error) {
	cfg := s.Config
	conn, err := esl.Dial(ctx, cfg.ESL.Host, cfg.ESL.Port, cfg.ESL.Password, s.Logger)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	if err := conn.EnableEvents(ctx, watchedEvents...); err != nil {
		return "", err
	}

	stack := s.newCallStack(conn)
	callID, err := stack.controller.Originate(ctx, cfg.Call.Gateway, cfg.Call.Destination, cfg.Call.CallerID, nil)
	if err != nil {
		return "", err
	}
	defer stack.controller.Release(callID)

	if err := stack.controller.WaitForAnswer(ctx, callID, cfg.Call.AnswerWait); err != nil {
		stack.controller.Fail(callID)
		return "", fmt.Errorf("call %s never answered: %w", callID, err)
	}

	recordingPath := filepath.Join(cfg.Recording.Dir, "call_"+callID+".wav")
	if err := stack.controller.BeginCallRecording(ctx, callID, recordingPath); err != nil {
		s.Logger.Warn("full-call recording unavailable", zap.String("call_id", callID), zap.Error(err))
		stack.controller.MarkInProgress(callID)
	}

	outcome := stack.orchestrator.Run(ctx, callID, cfg.Conversation.Greeting)
	return outcome, nil
}

// InboundHandler serves one inbound call on its accepted connection.
// Everything below the dispatcher is per-call state.
func InboundHandler(s Services) dispatch.Handler {
	return func(ctx context.Context, raw net.Conn) {
		cfg := s.Config
		conn, channelData, err := esl.Attach(ctx, raw, s.Logger)
		if err != nil {
			s.Logger.Warn("inbound attach failed", zap.Error(err))
			return
		}
		defer conn.Close()

		callID := channelData["Unique-ID"]
		if callID == "" {
			s.Logger.Warn("inbound connection without call id")
			return
		}
		caller := channelData["Caller-Caller-ID-Number"]
		log := s.Logger.With(zap.String("call_id", callID), zap.String("caller", caller))
		log.Info("inbound call")

		stack := s.newCallStack(conn)
		stack.controller.Adopt(callID, caller)
		defer stack.controller.Release(callID)

		if err := conn.Execute(ctx, callID, "answer", ""); err != nil {
			log.Warn("answer failed", zap.Error(err))
			stack.controller.Fail(callID)
			return
		}
		if err := stack.controller.WaitForAnswer(ctx, callID, cfg.Call.AnswerWait); err != nil {
			log.Warn("answer never confirmed", zap.Error(err))
			stack.controller.Fail(callID)
			return
		}

		recordingPath := filepath.Join(cfg.Recording.Dir, "call_"+callID+".wav")
		if err := stack.controller.BeginCallRecording(ctx, callID, recordingPath); err != nil {
			log.Warn("full-call recording unavailable", zap.Error(err))
			stack.controller.MarkInProgress(callID)
		}

		outcome := stack.orchestrator.Run(ctx, callID, cfg.Conversation.Greeting)
		log.Info("inbound call finished", zap.String("outcome", string(outcome)))
	}
}

// Serve accepts inbound calls until ctx is canceled.
func Serve(ctx context.Context, s Services) error {
	listener, err := net.Listen("tcp", s.Config.Server.BindAddr)
	if err != nil {
		return fmt.Errorf("binding %s: %w", s.Config.Server.BindAddr, err)
	}
	s.Logger.Info("listening for inbound calls", zap.String("addr", s.Config.Server.BindAddr))
	return dispatch.New(InboundHandler(s), s.Logger).Serve(ctx, listener)
}
