package wire

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// frameSchema pins the frame contract both ends of the stream rely on.
const frameSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "delta": {"type": "string"},
    "citations": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "title": {"type": "string", "minLength": 1},
          "url": {"type": "string"}
        },
        "required": ["title"],
        "additionalProperties": false
      }
    },
    "sessionRef": {"type": "string"},
    "done": {"type": "boolean"}
  },
  "additionalProperties": false
}`

func compileFrameSchema(t *testing.T) *jsonschema.Schema {
	t.Helper()
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("frame.schema.json", strings.NewReader(frameSchema)); err != nil {
		t.Fatalf("add schema resource: %v", err)
	}
	schema, err := compiler.Compile("frame.schema.json")
	if err != nil {
		t.Fatalf("compile frame schema: %v", err)
	}
	return schema
}

func TestFrameEncodingsMatchSchema(t *testing.T) {
	t.Parallel()

	schema := compileFrameSchema(t)
	frames := []Frame{
		{Delta: "これは", SessionRef: "thread_abc123"},
		{Delta: "高性能な製品です。"},
		{Citations: []Citation{{Title: "商品カタログ2025.pdf"}, {Title: "ブランドヒストリー記事", URL: "https://example.com/history"}}, Done: true},
	}
	for i, frame := range frames {
		raw, err := json.Marshal(frame)
		if err != nil {
			t.Fatalf("marshal frame %d: %v", i, err)
		}
		var payload any
		if err := json.Unmarshal(raw, &payload); err != nil {
			t.Fatalf("round-trip frame %d: %v", i, err)
		}
		if err := schema.Validate(payload); err != nil {
			t.Fatalf("frame %d violates schema: %v", i, err)
		}
	}
}

func TestSchemaRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	schema := compileFrameSchema(t)
	var payload any
	if err := json.Unmarshal([]byte(`{"delta":"x","extra":1}`), &payload); err != nil {
		t.Fatalf("unmarshal fixture: %v", err)
	}
	if err := schema.Validate(payload); err == nil {
		t.Fatalf("expected unknown field to violate schema")
	}
}
