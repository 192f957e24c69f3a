// Package google synthesizes speech through the Google Cloud Text-to-Speech
// REST API. Unlike the streaming providers it returns the audio in one JSON
// response, base64 encoded; the adapter decodes it into a stream so callers
// see the same contract.
package google

import (
	"bytes"
	"context"
	"encoding/base64"
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

const ProviderName = "google-tts"

// Config controls the Google adapter.
type Config struct {
	APIKey   string
	Endpoint string
	Timeout  time.Duration
	// Voices maps primary language subtags to voice names.
	Voices       map[string]string
	DefaultVoice string
}

func defaultVoiceMap() map[string]string {
	return map[string]string{
		"ja": "ja-JP-Neural2-C",
		"en": "en-US-Neural2-F",
	}
}

// ConfigFromEnv reads the adapter configuration from the environment.
func ConfigFromEnv() Config {
	return Config{
		APIKey:   os.Getenv("LIBERTY_TTS_GOOGLE_API_KEY"),
		Endpoint: defaultString(os.Getenv("LIBERTY_TTS_GOOGLE_ENDPOINT"), "https://texttospeech.googleapis.com/v1/text:synthesize"),
	}
}

// Provider is the Google-backed synthesizer.
type Provider struct {
	cfg  Config
	http *http.Client
}

// New constructs a provider. The API key is required.
func New(cfg Config) (*Provider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("google tts api key is required")
	}
	if strings.TrimSpace(cfg.Endpoint) == "" {
		cfg.Endpoint = "https://texttospeech.googleapis.com/v1/text:synthesize"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Voices == nil {
		cfg.Voices = defaultVoiceMap()
	}
	if strings.TrimSpace(cfg.DefaultVoice) == "" {
		cfg.DefaultVoice = "ja-JP-Neural2-C"
	}
	return &Provider{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}}, nil
}

func (p *Provider) Name() string { return ProviderName }

type synthesizeResponse struct {
	AudioContent string `json:"audioContent"`
}

// Synthesize posts req.Text and decodes the returned MP3 payload.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (io.ReadCloser, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, tts.NewError(ProviderName, tts.KindRejected, 0, "empty text", nil)
	}

	lang := tts.PrimaryLanguage(req.Locale)
	voice := p.cfg.DefaultVoice
	if v, ok := p.cfg.Voices[lang]; ok {
		voice = v
	}
	body, err := json.Marshal(map[string]any{
		"input":       map[string]any{"text": req.Text},
		"voice":       map[string]any{"name": voice, "languageCode": languageCodeOf(voice)},
		"audioConfig": map[string]any{"audioEncoding": "MP3"},
	})
	if err != nil {
		return nil, fmt.Errorf("encode synthesis body: %w", err)
	}

	endpoint := p.cfg.Endpoint + "?key=" + p.cfg.APIKey
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build synthesis request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(httpReq)
	if err != nil {
		return nil, classifyNetworkError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		sample, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, classifyStatus(resp.StatusCode, string(sample))
	}

	var out synthesizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, tts.NewError(ProviderName, tts.KindUnavailable, resp.StatusCode, "malformed synthesis response", err)
	}
	audio, err := base64.StdEncoding.DecodeString(out.AudioContent)
	if err != nil {
		return nil, tts.NewError(ProviderName, tts.KindUnavailable, resp.StatusCode, "malformed audio content", err)
	}
	return io.NopCloser(bytes.NewReader(audio)), nil
}

// languageCodeOf derives the BCP 47 code from a voice name like
// "ja-JP-Neural2-C".
func languageCodeOf(voice string) string {
	parts := strings.SplitN(voice, "-", 3)
	if len(parts) >= 2 {
		return parts[0] + "-" + parts[1]
	}
	return voice
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
	case status == http.StatusTooManyRequests, status >= 500:
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
