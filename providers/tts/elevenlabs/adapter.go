// Package elevenlabs synthesizes speech through the ElevenLabs streaming
// API. It is the premium voice tier, gated by the tenant's premium_voice
// feature flag.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/liberty/conversation-pipeline/providers/tts"
)

const ProviderName = "elevenlabs"

// Config controls the ElevenLabs adapter.
type Config struct {
	APIKey   string
	Endpoint string
	ModelID  string
	Timeout  time.Duration
	// Voices maps primary language subtags to ElevenLabs voice ids. The
	// multilingual model handles any language; the voice picks the speaker.
	Voices       map[string]string
	DefaultVoice string
}

func defaultVoiceMap() map[string]string {
	return map[string]string{
		"ja": "GxxMAMfQkDlnqjpzjLHH",
		"en": "EXAVITQu4vr4xnSDxMaL",
	}
}

// ConfigFromEnv reads the adapter configuration from the environment.
func ConfigFromEnv() Config {
	return Config{
		APIKey:   os.Getenv("LIBERTY_TTS_ELEVENLABS_API_KEY"),
		Endpoint: defaultString(os.Getenv("LIBERTY_TTS_ELEVENLABS_ENDPOINT"), "https://api.elevenlabs.io/v1"),
		ModelID:  defaultString(os.Getenv("LIBERTY_TTS_ELEVENLABS_MODEL"), "eleven_multilingual_v2"),
	}
}

// Provider is the ElevenLabs-backed synthesizer.
type Provider struct {
	cfg  Config
	http *http.Client
}

// New constructs a provider. The API key is required.
func New(cfg Config) (*Provider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("elevenlabs api key is required")
	}
	if strings.TrimSpace(cfg.Endpoint) == "" {
		cfg.Endpoint = "https://api.elevenlabs.io/v1"
	}
	if strings.TrimSpace(cfg.ModelID) == "" {
		cfg.ModelID = "eleven_multilingual_v2"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Voices == nil {
		cfg.Voices = defaultVoiceMap()
	}
	if strings.TrimSpace(cfg.DefaultVoice) == "" {
		cfg.DefaultVoice = "GxxMAMfQkDlnqjpzjLHH"
	}
	return &Provider{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}}, nil
}

func (p *Provider) Name() string { return ProviderName }

type synthBody struct {
	Text    string `json:"text"`
	ModelID string `json:"model_id"`
}

// Synthesize posts req.Text to the voice's streaming endpoint and returns
// the MP3 body as it arrives.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (io.ReadCloser, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, tts.NewError(ProviderName, tts.KindRejected, 0, "empty text", nil)
	}

	body, err := json.Marshal(synthBody{Text: req.Text, ModelID: p.cfg.ModelID})
	if err != nil {
		return nil, fmt.Errorf("encode synthesis body: %w", err)
	}
	endpoint := fmt.Sprintf("%s/text-to-speech/%s/stream",
		strings.TrimRight(p.cfg.Endpoint, "/"), p.voiceFor(req.Locale))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build synthesis request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "audio/mpeg")
	httpReq.Header.Set("xi-api-key", p.cfg.APIKey)

	resp, err := p.http.Do(httpReq)
	if err != nil {
		return nil, classifyNetworkError(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		sample, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, classifyStatus(resp.StatusCode, string(sample))
	}
	return resp.Body, nil
}

func (p *Provider) voiceFor(locale string) string {
	if voice, ok := p.cfg.Voices[tts.PrimaryLanguage(locale)]; ok {
		return voice
	}
	return p.cfg.DefaultVoice
}

func classifyNetworkError(err error) error {
	if errors.Is(err, context.Canceled) {
		return tts.NewError(ProviderName, tts.KindRejected, 0, "cancelled", err)
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return tts.NewError(ProviderName, tts.KindUnavailable, 0, "timeout", err)
	}
	return tts.NewError(ProviderName, tts.KindUnavailable, 0, "network error", err)
}

func classifyStatus(status int, sample string) error {
	switch {
	case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout,
		status == http.StatusGatewayTimeout, status >= 500:
		return tts.NewError(ProviderName, tts.KindUnavailable, status, sample, nil)
	default:
		return tts.NewError(ProviderName, tts.KindRejected, status, sample, nil)
	}
}

func defaultString(v string, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
