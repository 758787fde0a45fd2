package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Mode selects which configuration surface Validate enforces.
type Mode string

const (
	ModeOutbound Mode = "outbound"
	ModeInbound  Mode = "inbound"
)

// DefaultPersona is used when no persona prompt is configured.
const DefaultPersona = `You are a friendly, efficient phone assistant. Keep replies short and
conversational: one or two sentences, no lists, no markdown. You are on a
voice call, so everything you write will be spoken aloud.`

// Config stores runtime configuration, loaded once at startup and
// passed explicitly into each component.
type Config struct {
	ESL          ESLConfig
	Call         CallConfig
	Server       ServerConfig
	Recording    RecordingConfig
	Conversation ConversationConfig
	Providers    ProvidersConfig
	Audio        AudioConfig
}

type ESLConfig struct {
	Host     string
	Port     int
	Password string
}

type CallConfig struct {
	Gateway     string
	Destination string
	CallerID    string
	AnswerWait  time.Duration
}

type ServerConfig struct {
	BindAddr string
}

type RecordingConfig struct {
	Dir              string
	MaxDuration      time.Duration
	SilenceThreshold int
	SilenceDuration  time.Duration
	MinBytes         int64
}

type ConversationConfig struct {
	Persona       string
	MaxIterations int
	FailureBound  int
	Greeting      string
	Goodbye       string
	RulesPath     string
}

type ProvidersConfig struct {
	Deepgram   DeepgramConfig
	Gemini     GeminiConfig
	ElevenLabs ElevenLabsConfig
}

type DeepgramConfig struct {
	APIKey      string
	APIBaseURL  string
	Model       string
	Language    string
	SmartFormat bool
}

type GeminiConfig struct {
	APIKey     string
	APIBaseURL string
	Model      string
}

type ElevenLabsConfig struct {
	APIKey     string
	APIBaseURL string
	VoiceID    string
	ModelID    string
}

type AudioConfig struct {
	FFMPEGCommand string
	SampleRate    int
	Channels      int
}

// fileConfig mirrors the optional config.toml under the XDG config dir.
type fileConfig struct {
	ESL struct {
		Host     string `toml:"host"`
		Port     int    `toml:"port"`
		Password string `toml:"password"`
	} `toml:"esl"`
	Call struct {
		Gateway     string `toml:"gateway"`
		Destination string `toml:"destination"`
		CallerID    string `toml:"caller_id"`
	} `toml:"call"`
	Server struct {
		BindAddr string `toml:"bind_addr"`
	} `toml:"server"`
	Recording struct {
		Dir string `toml:"dir"`
	} `toml:"recording"`
	Conversation struct {
		Persona       string `toml:"persona"`
		MaxIterations int    `toml:"max_iterations"`
		Greeting      string `toml:"greeting"`
		Goodbye       string `toml:"goodbye"`
		RulesPath     string `toml:"rules_path"`
	} `toml:"conversation"`
	Providers struct {
		DeepgramAPIKey    string `toml:"deepgram_api_key"`
		GeminiAPIKey      string `toml:"gemini_api_key"`
		ElevenLabsAPIKey  string `toml:"elevenlabs_api_key"`
		ElevenLabsVoiceID string `toml:"elevenlabs_voice_id"`
	} `toml:"providers"`
}

// Load resolves configuration: defaults, then the optional TOML file,
// then environment variables. Env always wins.
func Load() (Config, error) {
	cfg := defaults()

	if path := configFilePath(); path != "" {
		var fc fileConfig
		if _, err := toml.DecodeFile(path, &fc); err != nil {
			return Config{}, fmt.Errorf("reading %s: %w", path, err)
		}
		applyFile(&cfg, fc)
	}

	applyEnv(&cfg)
	clamp(&cfg)
	return cfg, nil
}

func defaults() Config {
	return Config{
		ESL: ESLConfig{
			Host:     "127.0.0.1",
			Port:     8021,
			Password: "ClueCon",
		},
		Call: CallConfig{
			AnswerWait: 30 * time.Second,
		},
		Server: ServerConfig{
			BindAddr: "0.0.0.0:8084",
		},
		Recording: RecordingConfig{
			Dir:              filepath.Join(os.TempDir(), "parley"),
			MaxDuration:      20 * time.Second,
			SilenceThreshold: 30,
			SilenceDuration:  3 * time.Second,
			MinBytes:         1000,
		},
		Conversation: ConversationConfig{
			Persona:       DefaultPersona,
			MaxIterations: 10,
			FailureBound:  2,
		},
		Providers: ProvidersConfig{
			Deepgram: DeepgramConfig{
				APIBaseURL:  "https://api.deepgram.com/v1",
				Model:       "nova-2",
				Language:    "en",
				SmartFormat: true,
			},
			Gemini: GeminiConfig{
				APIBaseURL: "https://generativelanguage.googleapis.com/v1beta",
				Model:      "gemini-2.0-flash",
			},
			ElevenLabs: ElevenLabsConfig{
				APIBaseURL: "https://api.elevenlabs.io/v1",
				ModelID:    "eleven_turbo_v2_5",
			},
		},
		Audio: AudioConfig{
			FFMPEGCommand: "ffmpeg",
			SampleRate:    8000,
			Channels:      1,
		},
	}
}

func applyFile(cfg *Config, fc fileConfig) {
	setString(&cfg.ESL.Host, fc.ESL.Host)
	if fc.ESL.Port > 0 {
		cfg.ESL.Port = fc.ESL.Port
	}
	setString(&cfg.ESL.Password, fc.ESL.Password)
	setString(&cfg.Call.Gateway, fc.Call.Gateway)
	setString(&cfg.Call.Destination, fc.Call.Destination)
	setString(&cfg.Call.CallerID, fc.Call.CallerID)
	setString(&cfg.Server.BindAddr, fc.Server.BindAddr)
	if fc.Recording.Dir != "" {
		cfg.Recording.Dir = expandTilde(fc.Recording.Dir)
	}
	setString(&cfg.Conversation.Persona, fc.Conversation.Persona)
	if fc.Conversation.MaxIterations > 0 {
		cfg.Conversation.MaxIterations = fc.Conversation.MaxIterations
	}
	setString(&cfg.Conversation.Greeting, fc.Conversation.Greeting)
	setString(&cfg.Conversation.Goodbye, fc.Conversation.Goodbye)
	if fc.Conversation.RulesPath != "" {
		cfg.Conversation.RulesPath = expandTilde(fc.Conversation.RulesPath)
	}
	setString(&cfg.Providers.Deepgram.APIKey, fc.Providers.DeepgramAPIKey)
	setString(&cfg.Providers.Gemini.APIKey, fc.Providers.GeminiAPIKey)
	setString(&cfg.Providers.ElevenLabs.APIKey, fc.Providers.ElevenLabsAPIKey)
	setString(&cfg.Providers.ElevenLabs.VoiceID, fc.Providers.ElevenLabsVoiceID)
}

func applyEnv(cfg *Config) {
	cfg.ESL.Host = envOrDefault("PARLEY_ESL_HOST", cfg.ESL.Host)
	cfg.ESL.Port = envOrDefaultInt("PARLEY_ESL_PORT", cfg.ESL.Port)
	cfg.ESL.Password = envOrDefault("PARLEY_ESL_PASSWORD", cfg.ESL.Password)

	cfg.Call.Gateway = envOrDefault("PARLEY_GATEWAY", cfg.Call.Gateway)
	cfg.Call.Destination = envOrDefault("PARLEY_DESTINATION", cfg.Call.Destination)
	cfg.Call.CallerID = envOrDefault("PARLEY_CALLER_ID", cfg.Call.CallerID)
	cfg.Call.AnswerWait = envOrDefaultDuration("PARLEY_ANSWER_WAIT", cfg.Call.AnswerWait)

	cfg.Server.BindAddr = envOrDefault("PARLEY_BIND_ADDR", cfg.Server.BindAddr)

	cfg.Recording.Dir = envOrDefault("PARLEY_RECORDINGS_DIR", cfg.Recording.Dir)
	cfg.Recording.MaxDuration = envOrDefaultDuration("PARLEY_CAPTURE_MAX_DURATION", cfg.Recording.MaxDuration)
	cfg.Recording.SilenceThreshold = envOrDefaultInt("PARLEY_SILENCE_THRESHOLD", cfg.Recording.SilenceThreshold)
	cfg.Recording.SilenceDuration = envOrDefaultDuration("PARLEY_SILENCE_DURATION", cfg.Recording.SilenceDuration)

	cfg.Conversation.Persona = envOrDefault("PARLEY_PERSONA", cfg.Conversation.Persona)
	cfg.Conversation.MaxIterations = envOrDefaultInt("PARLEY_MAX_ITERATIONS", cfg.Conversation.MaxIterations)
	cfg.Conversation.FailureBound = envOrDefaultInt("PARLEY_FAILURE_BOUND", cfg.Conversation.FailureBound)
	cfg.Conversation.Greeting = envOrDefault("PARLEY_GREETING", cfg.Conversation.Greeting)
	cfg.Conversation.Goodbye = envOrDefault("PARLEY_GOODBYE", cfg.Conversation.Goodbye)
	cfg.Conversation.RulesPath = envOrDefault("PARLEY_RULES_FILE", cfg.Conversation.RulesPath)

	// Provider keys are also accepted under their vendor names.
	cfg.Providers.Deepgram.APIKey = firstNonEmpty(
		os.Getenv("PARLEY_DEEPGRAM_API_KEY"),
		os.Getenv("DEEPGRAM_API_KEY"),
		cfg.Providers.Deepgram.APIKey,
	)
	cfg.Providers.Deepgram.APIBaseURL = envOrDefault("DEEPGRAM_API_BASE", cfg.Providers.Deepgram.APIBaseURL)
	cfg.Providers.Deepgram.Model = envOrDefault("DEEPGRAM_MODEL", cfg.Providers.Deepgram.Model)
	cfg.Providers.Deepgram.Language = envOrDefault("DEEPGRAM_LANGUAGE", cfg.Providers.Deepgram.Language)
	cfg.Providers.Deepgram.SmartFormat = envOrDefaultBool("DEEPGRAM_SMART_FORMAT", cfg.Providers.Deepgram.SmartFormat)

	cfg.Providers.Gemini.APIKey = firstNonEmpty(
		os.Getenv("PARLEY_GEMINI_API_KEY"),
		os.Getenv("GEMINI_API_KEY"),
		cfg.Providers.Gemini.APIKey,
	)
	cfg.Providers.Gemini.APIBaseURL = envOrDefault("GEMINI_API_BASE", cfg.Providers.Gemini.APIBaseURL)
	cfg.Providers.Gemini.Model = envOrDefault("GEMINI_MODEL", cfg.Providers.Gemini.Model)

	cfg.Providers.ElevenLabs.APIKey = firstNonEmpty(
		os.Getenv("PARLEY_ELEVENLABS_API_KEY"),
		os.Getenv("ELEVENLABS_API_KEY"),
		cfg.Providers.ElevenLabs.APIKey,
	)
	cfg.Providers.ElevenLabs.APIBaseURL = envOrDefault("ELEVENLABS_API_BASE", cfg.Providers.ElevenLabs.APIBaseURL)
	cfg.Providers.ElevenLabs.VoiceID = firstNonEmpty(
		os.Getenv("PARLEY_ELEVENLABS_VOICE_ID"),
		os.Getenv("ELEVENLABS_VOICE_ID"),
		cfg.Providers.ElevenLabs.VoiceID,
	)
	cfg.Providers.ElevenLabs.ModelID = envOrDefault("ELEVENLABS_MODEL_ID", cfg.Providers.ElevenLabs.ModelID)

	cfg.Audio.FFMPEGCommand = envOrDefault("PARLEY_FFMPEG_COMMAND", cfg.Audio.FFMPEGCommand)
	cfg.Audio.SampleRate = envOrDefaultInt("PARLEY_SAMPLE_RATE", cfg.Audio.SampleRate)
	cfg.Audio.Channels = envOrDefaultInt("PARLEY_CHANNELS", cfg.Audio.Channels)
}

func clamp(cfg *Config) {
	if cfg.Recording.MaxDuration <= 0 {
		cfg.Recording.MaxDuration = 20 * time.Second
	}
	if cfg.Recording.SilenceThreshold <= 0 {
		cfg.Recording.SilenceThreshold = 30
	}
	if cfg.Recording.SilenceDuration <= 0 {
		cfg.Recording.SilenceDuration = 3 * time.Second
	}
	if cfg.Recording.MinBytes <= 0 {
		cfg.Recording.MinBytes = 1000
	}
	if cfg.Conversation.MaxIterations <= 0 {
		cfg.Conversation.MaxIterations = 10
	}
	if cfg.Conversation.FailureBound <= 0 {
		cfg.Conversation.FailureBound = 2
	}
	if cfg.Call.AnswerWait <= 0 {
		cfg.Call.AnswerWait = 30 * time.Second
	}
	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = 8000
	}
	if cfg.Audio.Channels <= 0 {
		cfg.Audio.Channels = 1
	}
}

// Validate fails fast when required values for the given mode are
// missing.
func (c Config) Validate(mode Mode) error {
	var missing []string

	if c.ESL.Host == "" {
		missing = append(missing, "esl host")
	}
	if c.ESL.Password == "" {
		missing = append(missing, "esl password")
	}
	if c.Providers.Deepgram.APIKey == "" {
		missing = append(missing, "DEEPGRAM_API_KEY")
	}
	if c.Providers.Gemini.APIKey == "" {
		missing = append(missing, "GEMINI_API_KEY")
	}
	if c.Providers.ElevenLabs.APIKey == "" {
		missing = append(missing, "ELEVENLABS_API_KEY")
	}
	if c.Providers.ElevenLabs.VoiceID == "" {
		missing = append(missing, "ELEVENLABS_VOICE_ID")
	}

	switch mode {
	case ModeOutbound:
		if c.Call.Gateway == "" {
			missing = append(missing, "gateway")
		}
		if c.Call.Destination == "" {
			missing = append(missing, "destination")
		}
	case ModeInbound:
		if c.Server.BindAddr == "" {
			missing = append(missing, "bind address")
		}
	default:
		return fmt.Errorf("unknown mode %q", mode)
	}

	if len(missing) > 0 {
		return errors.New("missing required configuration: " + strings.Join(missing, ", "))
	}
	return nil
}

func configFilePath() string {
	var configDir string
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		configDir = filepath.Join(xdg, "parley")
	} else if home, err := os.UserHomeDir(); err == nil {
		configDir = filepath.Join(home, ".config", "parley")
	} else {
		return ""
	}

	path := filepath.Join(configDir, "config.toml")
	if _, err := os.Stat(path); err == nil {
		return path
	}
	return ""
}

func setString(dst *string, value string) {
	if strings.TrimSpace(value) != "" {
		*dst = value
	}
}

func expandTilde(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultBool(key string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}
