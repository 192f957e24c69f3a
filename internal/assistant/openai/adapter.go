// Package openai implements the assistant boundary against the OpenAI
// Assistants HTTP API (threads, runs, file-search citations).
package openai

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

	"github.com/liberty/conversation-pipeline/internal/assistant"
)

// Config controls the adapter. Zero values take the defaults below.
type Config struct {
	APIKey      string
	Endpoint    string
	AssistantID string
	Timeout     time.Duration
}

// ConfigFromEnv reads adapter settings from the environment.
func ConfigFromEnv() Config {
	return Config{
		APIKey:      os.Getenv("LIBERTY_ASSISTANT_API_KEY"),
		Endpoint:    defaultString(os.Getenv("LIBERTY_ASSISTANT_ENDPOINT"), "https://api.openai.com/v1"),
		AssistantID: os.Getenv("LIBERTY_ASSISTANT_ID"),
		Timeout:     30 * time.Second,
	}
}

// Adapter is an assistant.Client over the Assistants HTTP API.
type Adapter struct {
	cfg    Config
	client *http.Client
}

// NewAdapter constructs an adapter with defaults applied.
func NewAdapter(cfg Config, client *http.Client) (*Adapter, error) {
	if strings.TrimSpace(cfg.AssistantID) == "" {
		return nil, fmt.Errorf("assistant id is required")
	}
	cfg.Endpoint = strings.TrimRight(defaultString(cfg.Endpoint, "https://api.openai.com/v1"), "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if client == nil {
		client = &http.Client{}
	}
	return &Adapter{cfg: cfg, client: client}, nil
}

// NewAdapterFromEnv constructs an adapter from environment settings.
func NewAdapterFromEnv() (*Adapter, error) {
	return NewAdapter(ConfigFromEnv(), nil)
}

// CreateThread opens a fresh conversation thread.
func (a *Adapter) CreateThread(ctx context.Context) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	if err := a.doJSON(ctx, http.MethodPost, "/threads", map[string]any{}, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", assistant.NewError(assistant.KindUnavailable, 0, "thread create returned no id", nil)
	}
	return out.ID, nil
}

// ThreadAlive reports whether threadRef still resolves. A 404 means the
// thread is gone and is not an error: the orchestrator creates a fresh one.
func (a *Adapter) ThreadAlive(ctx context.Context, threadRef string) (bool, error) {
	var out struct {
		ID string `json:"id"`
	}
	err := a.doJSON(ctx, http.MethodGet, "/threads/"+threadRef, nil, &out)
	if err != nil {
		var adapterErr *assistant.Error
		if errors.As(err, &adapterErr) && adapterErr.Status == http.StatusNotFound {
			return false, nil
		}
		return false, err
	}
	return out.ID != "", nil
}

// AppendUserMessage adds the utterance to the thread.
func (a *Adapter) AppendUserMessage(ctx context.Context, threadRef, text string) error {
	body := map[string]any{"role": "user", "content": text}
	return a.doJSON(ctx, http.MethodPost, "/threads/"+threadRef+"/messages", body, &struct{}{})
}

// StartRun begins generating the answer.
func (a *Adapter) StartRun(ctx context.Context, threadRef string) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	body := map[string]any{"assistant_id": a.cfg.AssistantID}
	if err := a.doJSON(ctx, http.MethodPost, "/threads/"+threadRef+"/runs", body, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// PollRun reports the run status.
func (a *Adapter) PollRun(ctx context.Context, threadRef, runID string) (assistant.RunStatus, error) {
	var out struct {
		Status string `json:"status"`
	}
	if err := a.doJSON(ctx, http.MethodGet, "/threads/"+threadRef+"/runs/"+runID, nil, &out); err != nil {
		return "", err
	}
	return assistant.RunStatus(out.Status), nil
}

type messageList struct {
	Data []struct {
		Role    string `json:"role"`
		Content []struct {
			Type string `json:"type"`
			Text struct {
				Value       string `json:"value"`
				Annotations []struct {
					Type         string `json:"type"`
					FileCitation struct {
						FileID string `json:"file_id"`
					} `json:"file_citation"`
				} `json:"annotations"`
			} `json:"text"`
		} `json:"content"`
	} `json:"data"`
}

// FinalAnswer reads the newest assistant message and its citations.
// Citation filenames are resolved best-effort; a failed file lookup falls
// back to the raw file id rather than failing the turn.
func (a *Adapter) FinalAnswer(ctx context.Context, threadRef string) (assistant.Answer, error) {
	var out messageList
	if err := a.doJSON(ctx, http.MethodGet, "/threads/"+threadRef+"/messages?order=desc&limit=5", nil, &out); err != nil {
		return assistant.Answer{}, err
	}

	for _, msg := range out.Data {
		if msg.Role != "assistant" {
			continue
		}
		answer := assistant.Answer{}
		seen := map[string]bool{}
		for _, part := range msg.Content {
			if part.Type != "text" {
				continue
			}
			answer.Text += part.Text.Value
			for _, annotation := range part.Text.Annotations {
				if annotation.Type != "file_citation" {
					continue
				}
				fileID := annotation.FileCitation.FileID
				if fileID == "" || seen[fileID] {
					continue
				}
				seen[fileID] = true
				answer.Citations = append(answer.Citations, assistant.Citation{
					FileID:   fileID,
					Filename: a.resolveFilename(ctx, fileID),
				})
			}
		}
		return answer, nil
	}
	return assistant.Answer{}, assistant.NewError(assistant.KindUnavailable, 0, "no assistant message in thread", nil)
}

func (a *Adapter) resolveFilename(ctx context.Context, fileID string) string {
	var out struct {
		Filename string `json:"filename"`
	}
	if err := a.doJSON(ctx, http.MethodGet, "/files/"+fileID, nil, &out); err != nil || out.Filename == "" {
		return fileID
	}
	return out.Filename
}

func (a *Adapter) doJSON(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return assistant.NewError(assistant.KindRejected, 0, "encode request body", err)
		}
		reader = bytes.NewReader(raw)
	}

	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, a.cfg.Endpoint+path, reader)
	if err != nil {
		return assistant.NewError(assistant.KindRejected, 0, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("OpenAI-Beta", "assistants=v2")
	if a.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return classifyNetworkError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		sample, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return classifyStatus(resp.StatusCode, strings.TrimSpace(string(sample)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return assistant.NewError(assistant.KindUnavailable, resp.StatusCode, "decode response body", err)
	}
	return nil
}

func classifyNetworkError(err error) *assistant.Error {
	if errors.Is(err, context.Canceled) {
		return assistant.NewError(assistant.KindRejected, 0, "request cancelled", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return assistant.NewError(assistant.KindUnavailable, 0, "request timeout", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return assistant.NewError(assistant.KindUnavailable, 0, "request timeout", err)
	}
	return assistant.NewError(assistant.KindUnavailable, 0, "transport error", err)
}

func classifyStatus(status int, body string) *assistant.Error {
	switch {
	case status == http.StatusTooManyRequests,
		status == http.StatusRequestTimeout,
		status == http.StatusGatewayTimeout,
		status >= 500:
		return assistant.NewError(assistant.KindUnavailable, status, body, nil)
	default:
		return assistant.NewError(assistant.KindRejected, status, body, nil)
	}
}

func defaultString(v string, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
