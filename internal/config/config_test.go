package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func setBaseline(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	for _, key := range []string{
		"DEEPGRAM_API_KEY", "GEMINI_API_KEY", "ELEVENLABS_API_KEY", "ELEVENLABS_VOICE_ID",
		"PARLEY_DEEPGRAM_API_KEY", "PARLEY_GEMINI_API_KEY", "PARLEY_ELEVENLABS_API_KEY",
		"PARLEY_GATEWAY", "PARLEY_DESTINATION", "PARLEY_ESL_HOST", "PARLEY_MAX_ITERATIONS",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	setBaseline(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.ESL.Host != "127.0.0.1" || cfg.ESL.Port != 8021 {
		t.Fatalf("unexpected esl defaults: %+v", cfg.ESL)
	}
	if cfg.Recording.MaxDuration != 20*time.Second || cfg.Recording.SilenceThreshold != 30 {
		t.Fatalf("unexpected capture defaults: %+v", cfg.Recording)
	}
	if cfg.Conversation.MaxIterations != 10 || cfg.Conversation.FailureBound != 2 {
		t.Fatalf("unexpected conversation defaults: %+v", cfg.Conversation)
	}
	if cfg.Providers.Gemini.Model != "gemini-2.0-flash" {
		t.Fatalf("unexpected gemini default: %+v", cfg.Providers.Gemini)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	setBaseline(t)

	configDir := filepath.Join(os.Getenv("XDG_CONFIG_HOME"), "parley")
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	contents := `
[esl]
host = "pbx.internal"
port = 8121

[call]
gateway = "file-gw"

[providers]
deepgram_api_key = "file-key"
`
	if err := os.WriteFile(filepath.Join(configDir, "config.toml"), []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("PARLEY_ESL_HOST", "env.internal")
	t.Setenv("DEEPGRAM_API_KEY", "env-key")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.ESL.Host != "env.internal" {
		t.Fatalf("env must win over file, got %q", cfg.ESL.Host)
	}
	if cfg.ESL.Port != 8121 {
		t.Fatalf("file value must apply where env is unset, got %d", cfg.ESL.Port)
	}
	if cfg.Call.Gateway != "file-gw" {
		t.Fatalf("expected file gateway, got %q", cfg.Call.Gateway)
	}
	if cfg.Providers.Deepgram.APIKey != "env-key" {
		t.Fatalf("expected env key to win, got %q", cfg.Providers.Deepgram.APIKey)
	}
}

func TestLoadAcceptsVendorKeyNames(t *testing.T) {
	setBaseline(t)

	t.Setenv("DEEPGRAM_API_KEY", "dg")
	t.Setenv("GEMINI_API_KEY", "gm")
	t.Setenv("ELEVENLABS_API_KEY", "el")
	t.Setenv("PARLEY_ELEVENLABS_API_KEY", "parley-el")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Providers.Deepgram.APIKey != "dg" || cfg.Providers.Gemini.APIKey != "gm" {
		t.Fatalf("vendor keys not honored: %+v", cfg.Providers)
	}
	// Prefixed name takes priority over the vendor name.
	if cfg.Providers.ElevenLabs.APIKey != "parley-el" {
		t.Fatalf("expected prefixed key priority, got %q", cfg.Providers.ElevenLabs.APIKey)
	}
}

func TestLoadClampsBadValues(t *testing.T) {
	setBaseline(t)

	t.Setenv("PARLEY_MAX_ITERATIONS", "-3")
	t.Setenv("PARLEY_SILENCE_THRESHOLD", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Conversation.MaxIterations != 10 {
		t.Fatalf("expected clamp back to default, got %d", cfg.Conversation.MaxIterations)
	}
	if cfg.Recording.SilenceThreshold != 30 {
		t.Fatalf("expected default threshold, got %d", cfg.Recording.SilenceThreshold)
	}
}

func TestValidateOutboundRequiresCallTarget(t *testing.T) {
	setBaseline(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	cfg.Providers.Deepgram.APIKey = "dg"
	cfg.Providers.Gemini.APIKey = "gm"
	cfg.Providers.ElevenLabs.APIKey = "el"
	cfg.Providers.ElevenLabs.VoiceID = "v1"

	err = cfg.Validate(ModeOutbound)
	if err == nil || !strings.Contains(err.Error(), "gateway") || !strings.Contains(err.Error(), "destination") {
		t.Fatalf("expected gateway/destination to be required, got %v", err)
	}

	cfg.Call.Gateway = "gw"
	cfg.Call.Destination = "15551234567"
	if err := cfg.Validate(ModeOutbound); err != nil {
		t.Fatalf("expected valid outbound config, got %v", err)
	}
}

func TestValidateReportsMissingProviderKeys(t *testing.T) {
	setBaseline(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	cfg.Call.Gateway = "gw"
	cfg.Call.Destination = "100"

	err = cfg.Validate(ModeOutbound)
	if err == nil {
		t.Fatalf("expected missing key error")
	}
	for _, want := range []string{"DEEPGRAM_API_KEY", "GEMINI_API_KEY", "ELEVENLABS_API_KEY"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %s in error, got %v", want, err)
		}
	}
}

func TestValidateInboundRequiresBindAddr(t *testing.T) {
	setBaseline(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	cfg.Providers.Deepgram.APIKey = "dg"
	cfg.Providers.Gemini.APIKey = "gm"
	cfg.Providers.ElevenLabs.APIKey = "el"
	cfg.Providers.ElevenLabs.VoiceID = "v1"

	if err := cfg.Validate(ModeInbound); err != nil {
		t.Fatalf("default bind addr should validate, got %v", err)
	}
	cfg.Server.BindAddr = ""
	if err := cfg.Validate(ModeInbound); err == nil {
		t.Fatalf("expected bind addr to be required")
	}
}
