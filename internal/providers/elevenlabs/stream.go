package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Config controls ElevenLabs synthesis settings.
type Config struct {
	APIKey     string
	APIBaseURL string
	VoiceID    string
	ModelID    string
	Stability  float64
	Similarity float64
	Timeout    time.Duration
}

// Provider implements ports.Synthesizer over the ElevenLabs
// stream-input websocket.
type Provider struct {
	cfg Config
}

func NewProvider(cfg Config) *Provider {
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "https://api.elevenlabs.io/v1"
	}
	if cfg.ModelID == "" {
		cfg.ModelID = "eleven_turbo_v2_5"
	}
	if cfg.Stability <= 0 {
		cfg.Stability = 0.5
	}
	if cfg.Similarity <= 0 {
		cfg.Similarity = 0.75
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Provider{cfg: cfg}
}

type inputFrame struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	Flush         bool           `json:"flush,omitempty"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

type outputFrame struct {
	Audio   string `json:"audio"`
	IsFinal bool   `json:"isFinal"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Synthesize renders text to an MP3 file at outPath. The whole
// utterance is sent in one flush and audio chunks are collected until
// the service marks the stream final.
func (p *Provider) Synthesize(ctx context.Context, text string, outPath string) (string, error) {
	if strings.TrimSpace(p.cfg.APIKey) == "" {
		return "", errors.New("ELEVENLABS_API_KEY is not configured")
	}
	if strings.TrimSpace(p.cfg.VoiceID) == "" {
		return "", errors.New("ELEVENLABS_VOICE_ID is not configured")
	}
	if strings.TrimSpace(text) == "" {
		return "", errors.New("nothing to synthesize")
	}

	wsURL, err := buildStreamInputURL(p.cfg)
	if err != nil {
		return "", err
	}

	headers := http.Header{}
	headers.Set("xi-api-key", p.cfg.APIKey)

	dialCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, wsURL, headers)
	if err != nil {
		return "", fmt.Errorf("failed to connect to ElevenLabs websocket: %w", err)
	}
	defer conn.Close()

	// Unblock reads if the caller gives up.
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-watchDone:
		}
	}()

	frames := []inputFrame{
		{Text: " ", VoiceSettings: &voiceSettings{Stability: p.cfg.Stability, SimilarityBoost: p.cfg.Similarity}},
		{Text: text + " ", Flush: true},
		{Text: ""}, // end of input
	}
	for _, frame := range frames {
		if err := conn.WriteJSON(frame); err != nil {
			return "", fmt.Errorf("failed to send synthesis input: %w", err)
		}
	}

	audio, err := collectAudio(conn, p.cfg.Timeout)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", err
	}
	if len(audio) == 0 {
		return "", errors.New("ElevenLabs returned no audio")
	}

	if err := os.WriteFile(outPath, audio, 0o600); err != nil {
		return "", fmt.Errorf("writing synthesis output: %w", err)
	}
	return outPath, nil
}

func collectAudio(conn *websocket.Conn, timeout time.Duration) ([]byte, error) {
	var audio []byte
	_ = conn.SetReadDeadline(time.Now().Add(timeout))

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return audio, nil
			}
			return nil, fmt.Errorf("failed to read synthesis output: %w", err)
		}

		var frame outputFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			continue
		}
		if frame.Error != "" {
			message := frame.Message
			if message == "" {
				message = frame.Error
			}
			return nil, fmt.Errorf("ElevenLabs error: %s", message)
		}

		if frame.Audio != "" {
			chunk, err := base64.StdEncoding.DecodeString(frame.Audio)
			if err != nil {
				return nil, fmt.Errorf("decoding audio chunk: %w", err)
			}
			audio = append(audio, chunk...)
		}
		if frame.IsFinal {
			return audio, nil
		}
	}
}

func buildStreamInputURL(cfg Config) (string, error) {
	base, err := url.Parse(cfg.APIBaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid ElevenLabs base URL: %w", err)
	}
	switch base.Scheme {
	case "https":
		base.Scheme = "wss"
	case "http":
		base.Scheme = "ws"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported ElevenLabs URL scheme %q", base.Scheme)
	}
	base.Path = strings.TrimSuffix(base.Path, "/") + "/text-to-speech/" + cfg.VoiceID + "/stream-input"

	query := url.Values{}
	query.Set("model_id", cfg.ModelID)
	query.Set("output_format", "mp3_44100_128")
	base.RawQuery = query.Encode()
	return base.String(), nil
}
