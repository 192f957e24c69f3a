// Package wire defines the frame and request types shared by the server and
// the client engine. The turn protocol is newline-delimited JSON frames over
// a chunked response body.
package wire

import (
	"fmt"
	"strings"

	"github.com/liberty/conversation-pipeline/internal/license"
)

// ContentType is the media type of the chunked frame stream.
const ContentType = "application/jsonl; charset=utf-8"

// Citation points at a knowledge source referenced by an answer.
type Citation struct {
	Title string `json:"title"`
	URL   string `json:"url,omitempty"`
}

// Frame is one protocol unit. Delta frames carry answer text slices in
// arrival order; exactly one frame per turn carries Done=true together with
// the final citations. SessionRef rides on the first frame of a turn so the
// client can persist it before the turn finishes.
type Frame struct {
	Delta      string     `json:"delta,omitempty"`
	Citations  []Citation `json:"citations,omitempty"`
	SessionRef string     `json:"sessionRef,omitempty"`
	Done       bool       `json:"done,omitempty"`
}

// Role of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn half as submitted by the client.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	Locale  string `json:"locale,omitempty"`
}

// ChatRequest is the body of POST /chat/stream.
type ChatRequest struct {
	Messages   []Message       `json:"messages"`
	Locale     string          `json:"locale"`
	License    license.Payload `json:"license"`
	SessionRef string          `json:"sessionRef,omitempty"`
}

// LastUserText returns the content of the most recent user message.
func (r ChatRequest) LastUserText() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == RoleUser {
			return strings.TrimSpace(r.Messages[i].Content)
		}
	}
	return ""
}

// Validate rejects requests the orchestrator cannot act on.
func (r ChatRequest) Validate() error {
	if r.LastUserText() == "" {
		return fmt.Errorf("at least one user message with content is required")
	}
	return nil
}

// SpeakRequest is the body of POST /voice/speak.
type SpeakRequest struct {
	Text    string          `json:"text"`
	Locale  string          `json:"locale"`
	License license.Payload `json:"license"`
}

// ErrorResponse is the JSON body of non-streaming error statuses.
type ErrorResponse struct {
	Message string `json:"message"`
}
