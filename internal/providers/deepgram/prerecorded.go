package deepgram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Config controls Deepgram prerecorded transcription settings.
type Config struct {
	APIKey      string
	APIBaseURL  string
	Model       string
	Language    string
	SmartFormat bool
	Timeout     time.Duration
}

// Provider implements ports.Transcriber against the Deepgram
// prerecorded listen endpoint.
type Provider struct {
	cfg    Config
	client *http.Client
}

func NewProvider(cfg Config) *Provider {
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "https://api.deepgram.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	if cfg.Language == "" {
		cfg.Language = "en"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Provider{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

// Transcribe submits a complete audio recording and returns the
// transcript text, which may be empty when no speech was detected.
func (p *Provider) Transcribe(ctx context.Context, audio []byte) (string, error) {
	if strings.TrimSpace(p.cfg.APIKey) == "" {
		return "", errors.New("DEEPGRAM_API_KEY is not configured")
	}
	if len(audio) == 0 {
		return "", errors.New("audio payload is empty")
	}

	listenURL, err := buildListenURL(p.cfg)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, listenURL, bytes.NewReader(audio))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Token "+p.cfg.APIKey)
	req.Header.Set("Content-Type", "audio/wav")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("deepgram request failed: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("reading deepgram response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("deepgram returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var response listenResponse
	if err := json.Unmarshal(payload, &response); err != nil {
		return "", fmt.Errorf("decoding deepgram response: %w", err)
	}
	return extractTranscript(response), nil
}

func buildListenURL(cfg Config) (string, error) {
	base, err := url.Parse(cfg.APIBaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid deepgram base URL: %w", err)
	}
	base.Path = strings.TrimSuffix(base.Path, "/") + "/listen"

	query := url.Values{}
	query.Set("model", cfg.Model)
	query.Set("language", cfg.Language)
	query.Set("smart_format", strconv.FormatBool(cfg.SmartFormat))
	base.RawQuery = query.Encode()
	return base.String(), nil
}

type listenResponse struct {
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string `json:"transcript"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

func extractTranscript(response listenResponse) string {
	for _, channel := range response.Results.Channels {
		for _, alternative := range channel.Alternatives {
			if transcript := strings.TrimSpace(alternative.Transcript); transcript != "" {
				return transcript
			}
		}
	}
	return ""
}
