package claude

import (
	"testing"
	"time"

	"github.com/tidwall/gjson"

	"github.com/kestrel-proxy/relaygate/internal/mapper/thinking"
	"github.com/kestrel-proxy/relaygate/internal/model"
	"github.com/kestrel-proxy/relaygate/internal/signature"
)

func testDeps() Deps {
	return Deps{
		Signatures:     signature.New(time.Hour),
		ThinkingConfig: thinking.Config{Mode: thinking.ModeAuto},
	}
}

func TestToGeminiMapsTextMessage(t *testing.T) {
	req := `{"model":"claude-3-5-sonnet","messages":[{"role":"user","content":"hello"}]}`
	out, err := ToGemini(testDeps(), model.FamilyClaude, []byte(req))
	if err != nil {
		t.Fatalf("ToGemini() error = %v", err)
	}
	if got := gjson.GetBytes(out, "contents.0.parts.0.text").String(); got != "hello" {
		t.Fatalf("text = %q, want hello", got)
	}
	if got := gjson.GetBytes(out, "contents.0.role").String(); got != "user" {
		t.Fatalf("role = %q, want user", got)
	}
}

func TestToGeminiInjectsBypassSentinelOnSignatureMiss(t *testing.T) {
	req := `{"messages":[{"role":"assistant","content":[
		{"type":"thinking","thinking":"let me think"},
		{"type":"tool_use","name":"search","input":{"q":"x"}}
	]}]}`
	out, err := ToGemini(testDeps(), model.FamilyClaude, []byte(req))
	if err != nil {
		t.Fatalf("ToGemini() error = %v", err)
	}
	sig := gjson.GetBytes(out, "contents.0.parts.1.thoughtSignature").String()
	if sig != signature.BypassSentinel {
		t.Fatalf("thoughtSignature = %q, want bypass sentinel", sig)
	}
}

func TestToGeminiUsesCachedSignatureOnHit(t *testing.T) {
	deps := testDeps()
	hash := signature.HashContent("let me think")
	realSig := "real-signature-0123456789012345678901234567890123456789012345"
	deps.Signatures.Put(hash, realSig, "claude")

	req := `{"messages":[{"role":"assistant","content":[
		{"type":"thinking","thinking":"let me think"},
		{"type":"tool_use","name":"search","input":{"q":"x"}}
	]}]}`
	out, err := ToGemini(deps, model.FamilyClaude, []byte(req))
	if err != nil {
		t.Fatalf("ToGemini() error = %v", err)
	}
	sig := gjson.GetBytes(out, "contents.0.parts.1.thoughtSignature").String()
	if sig != realSig {
		t.Fatalf("thoughtSignature = %q, want cached %q", sig, realSig)
	}
}

func TestToGeminiEmptyMessageGetsPlaceholder(t *testing.T) {
	req := `{"messages":[{"role":"assistant","content":[]}]}`
	out, err := ToGemini(testDeps(), model.FamilyClaude, []byte(req))
	if err != nil {
		t.Fatalf("ToGemini() error = %v", err)
	}
	if !gjson.GetBytes(out, "contents.0.parts.0").Exists() {
		t.Fatalf("expected placeholder part for empty message")
	}
}

func TestToGeminiCapsStopSequencesAndDedupes(t *testing.T) {
	req := `{"messages":[{"role":"user","content":"hi"}],"stop_sequences":["a","a","b","c","d","e","f"]}`
	out, err := ToGemini(testDeps(), model.FamilyClaude, []byte(req))
	if err != nil {
		t.Fatalf("ToGemini() error = %v", err)
	}
	seqs := gjson.GetBytes(out, "generationConfig.stopSequences").Array()
	if len(seqs) != MaxStopSequences {
		t.Fatalf("len(stopSequences) = %d, want %d", len(seqs), MaxStopSequences)
	}
}

func TestToGeminiCleansToolSchema(t *testing.T) {
	req := `{"messages":[{"role":"user","content":"hi"}],"tools":[{"name":"search","input_schema":{"type":"object","$schema":"http://json-schema.org/draft-07/schema#","properties":{"q":{"type":"string"}}}}]}`
	out, err := ToGemini(testDeps(), model.FamilyClaude, []byte(req))
	if err != nil {
		t.Fatalf("ToGemini() error = %v", err)
	}
	schemaOut := gjson.GetBytes(out, "tools.0.functionDeclarations.0.parametersJsonSchema")
	if schemaOut.Get("$schema").Exists() {
		t.Fatalf("unsupported field $schema survived cleaning")
	}
}

func TestFromGeminiNonStreamMapsTextAndUsage(t *testing.T) {
	resp := `{"candidates":[{"content":{"role":"model","parts":[{"text":"hi there"}]},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":3,"candidatesTokenCount":2}}`
	out, err := FromGeminiNonStream(testDeps(), "claude-3-5-sonnet", []byte(resp))
	if err != nil {
		t.Fatalf("FromGeminiNonStream() error = %v", err)
	}
	if got := gjson.GetBytes(out, "content.0.text").String(); got != "hi there" {
		t.Fatalf("text = %q, want %q", got, "hi there")
	}
	if got := gjson.GetBytes(out, "usage.input_tokens").Int(); got != 3 {
		t.Fatalf("input_tokens = %d, want 3", got)
	}
	if got := gjson.GetBytes(out, "stop_reason").String(); got != "end_turn" {
		t.Fatalf("stop_reason = %q, want end_turn", got)
	}
}

func TestFromGeminiNonStreamToolUseSetsStopReason(t *testing.T) {
	resp := `{"candidates":[{"content":{"role":"model","parts":[{"functionCall":{"name":"search","args":{"q":"x"}}}]},"finishReason":"STOP"}]}`
	out, err := FromGeminiNonStream(testDeps(), "claude-3-5-sonnet", []byte(resp))
	if err != nil {
		t.Fatalf("FromGeminiNonStream() error = %v", err)
	}
	if got := gjson.GetBytes(out, "stop_reason").String(); got != "tool_use" {
		t.Fatalf("stop_reason = %q, want tool_use", got)
	}
	if got := gjson.GetBytes(out, "content.0.type").String(); got != "tool_use" {
		t.Fatalf("content.0.type = %q, want tool_use", got)
	}
}

func TestStreamStateEmitsStartDeltaStopSequence(t *testing.T) {
	s := NewStreamState(testDeps())

	frames := s.Next([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"hel"}]}}]}`))
	if frames[0].Event != "message_start" {
		t.Fatalf("first frame = %q, want message_start", frames[0].Event)
	}
	if frames[1].Event != "content_block_start" {
		t.Fatalf("second frame = %q, want content_block_start", frames[1].Event)
	}

	frames = s.Next([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"lo"}]},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":1,"candidatesTokenCount":1}}`))
	var sawDelta, sawStop, sawMessageStop bool
	for _, f := range frames {
		switch f.Event {
		case "content_block_delta":
			sawDelta = true
		case "content_block_stop":
			sawStop = true
		case "message_stop":
			sawMessageStop = true
		}
	}
	if !sawDelta || !sawStop || !sawMessageStop {
		t.Fatalf("frames = %+v, want delta+stop+message_stop", frames)
	}
}
