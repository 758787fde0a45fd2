package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"parley/internal/domain"
)

// Config controls Gemini text generation settings.
type Config struct {
	APIKey      string
	APIBaseURL  string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// Provider implements ports.Generator against the Gemini
// generateContent endpoint.
type Provider struct {
	cfg    Config
	client *http.Client
}

func NewProvider(cfg Config) *Provider {
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash"
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = 0.7
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 256
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Provider{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

// Generate produces the next assistant reply for the conversation so
// far. The persona is passed as the system instruction.
func (p *Provider) Generate(ctx context.Context, history []domain.Turn, persona string) (string, error) {
	if strings.TrimSpace(p.cfg.APIKey) == "" {
		return "", errors.New("GEMINI_API_KEY is not configured")
	}

	request := generateRequest{}
	if persona != "" {
		request.SystemInstruction = &content{Parts: []part{{Text: persona}}}
	}
	for _, turn := range history {
		role := "user" // caller turns
		if turn.Role == domain.RoleAssistant {
			role = "model"
		}
		request.Contents = append(request.Contents, content{Role: role, Parts: []part{{Text: turn.Text}}})
	}
	request.GenerationConfig = &generationConfig{
		Temperature:     p.cfg.Temperature,
		MaxOutputTokens: p.cfg.MaxTokens,
	}

	body, err := json.Marshal(request)
	if err != nil {
		return "", err
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent", strings.TrimSuffix(p.cfg.APIBaseURL, "/"), p.cfg.Model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", p.cfg.APIKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("gemini request failed: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("reading gemini response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("gemini returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var response generateResponse
	if err := json.Unmarshal(payload, &response); err != nil {
		return "", fmt.Errorf("decoding gemini response: %w", err)
	}

	reply := response.text()
	if reply == "" {
		return "", errors.New("gemini returned no candidates")
	}
	return reply, nil
}

type generateRequest struct {
	SystemInstruction *content          `json:"system_instruction,omitempty"`
	Contents          []content         `json:"contents"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []part `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

func (r generateResponse) text() string {
	var b strings.Builder
	for _, candidate := range r.Candidates {
		for _, p := range candidate.Content.Parts {
			b.WriteString(p.Text)
		}
		break
	}
	return strings.TrimSpace(b.String())
}
