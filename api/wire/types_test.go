package wire

import (
	"encoding/json"
	"testing"
)

func TestLastUserText(t *testing.T) {
	t.Parallel()

	req := ChatRequest{Messages: []Message{
		{Role: RoleUser, Content: "最初の質問"},
		{Role: RoleAssistant, Content: "回答です。"},
		{Role: RoleUser, Content: "  商品の特徴を教えてください  "},
	}}
	if got := req.LastUserText(); got != "商品の特徴を教えてください" {
		t.Fatalf("unexpected last user text %q", got)
	}
}

func TestValidateRejectsEmptyUserText(t *testing.T) {
	t.Parallel()

	if err := (ChatRequest{}).Validate(); err == nil {
		t.Fatalf("expected empty request to fail validation")
	}
	req := ChatRequest{Messages: []Message{{Role: RoleAssistant, Content: "hi"}}}
	if err := req.Validate(); err == nil {
		t.Fatalf("expected assistant-only history to fail validation")
	}
}

func TestFrameOmitsEmptyFields(t *testing.T) {
	t.Parallel()

	raw, err := json.Marshal(Frame{Delta: "こんにちは"})
	if err != nil {
		t.Fatalf("marshal delta frame: %v", err)
	}
	if string(raw) != `{"delta":"こんにちは"}` {
		t.Fatalf("unexpected delta frame encoding %s", raw)
	}

	raw, err = json.Marshal(Frame{Citations: []Citation{{Title: "商品カタログ2025.pdf"}}, Done: true})
	if err != nil {
		t.Fatalf("marshal done frame: %v", err)
	}
	if string(raw) != `{"citations":[{"title":"商品カタログ2025.pdf"}],"done":true}` {
		t.Fatalf("unexpected done frame encoding %s", raw)
	}
}
