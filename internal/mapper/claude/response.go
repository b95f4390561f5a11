package claude

import (
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/kestrel-proxy/relaygate/internal/signature"
)

// stopReasonFromFinish maps a Gemini finishReason onto a Claude stop_reason.
func stopReasonFromFinish(finish string) string {
	switch finish {
	case "STOP":
		return "end_turn"
	case "MAX_TOKENS":
		return "max_tokens"
	default:
		return "end_turn"
	}
}

// FromGeminiNonStream folds one complete Gemini response into a Claude
// Messages API response document.
func FromGeminiNonStream(deps Deps, modelName string, rawJSON []byte) ([]byte, error) {
	cand := gjson.GetBytes(rawJSON, "candidates.0")
	out := `{"type":"message","role":"assistant","content":[]}`
	out, _ = sjson.Set(out, "model", modelName)

	toolUse := false
	var pendingThinking string
	for _, part := range cand.Get("content.parts").Array() {
		switch {
		case part.Get("functionCall").Exists():
			toolUse = true
			fc := part.Get("functionCall")
			if sig := part.Get("thoughtSignature").String(); sig != "" && sig != signature.BypassSentinel {
				deps.Signatures.Put(signature.HashContent(pendingThinking), sig, "claude")
			}
			pendingThinking = ""
			block := `{"type":"tool_use","id":"","name":"","input":{}}`
			block, _ = sjson.Set(block, "id", "toolu_"+fc.Get("name").String())
			block, _ = sjson.Set(block, "name", fc.Get("name").String())
			args := fc.Get("args").Raw
			if args == "" {
				args = "{}"
			}
			block, _ = sjson.SetRaw(block, "input", args)
			out, _ = sjson.SetRaw(out, "content.-1", block)

		case part.Get("thought").Bool():
			pendingThinking = part.Get("text").String()
			block := `{"type":"thinking","thinking":""}`
			block, _ = sjson.Set(block, "thinking", pendingThinking)
			out, _ = sjson.SetRaw(out, "content.-1", block)

		case part.Get("text").Exists():
			block := `{"type":"text","text":""}`
			block, _ = sjson.Set(block, "text", part.Get("text").String())
			out, _ = sjson.SetRaw(out, "content.-1", block)
		}
	}

	stopReason := stopReasonFromFinish(cand.Get("finishReason").String())
	if toolUse {
		stopReason = "tool_use"
	}
	out, _ = sjson.Set(out, "stop_reason", stopReason)

	usage := gjson.GetBytes(rawJSON, "usageMetadata")
	out, _ = sjson.Set(out, "usage.input_tokens", usage.Get("promptTokenCount").Int())
	out, _ = sjson.Set(out, "usage.output_tokens", usage.Get("candidatesTokenCount").Int())

	return []byte(out), nil
}

// Frame is one outbound Claude-protocol SSE frame.
type Frame struct {
	Event string
	Data  []byte
}

// StreamState accumulates per-request state across Gemini streaming chunks
// so they can be re-emitted as Claude's content_block_start/delta/stop
// sequence, since a single Gemini chunk does not carry enough context on
// its own to know whether a content block is continuing or new.
type StreamState struct {
	deps          Deps
	started       bool
	blockIndex    int
	blockOpen     bool
	blockKind     string // "text" | "tool_use" | "thinking"
	pendingThink  string
	usagePrompt   int64
	usageOutput   int64
}

// NewStreamState begins a streaming response for one request.
func NewStreamState(deps Deps) *StreamState {
	return &StreamState{deps: deps, blockIndex: -1}
}

// Next converts one Gemini SSE data chunk into zero or more Claude frames.
func (s *StreamState) Next(rawJSON []byte) []Frame {
	var frames []Frame
	chunk := gjson.ParseBytes(rawJSON)

	if !s.started {
		s.started = true
		frames = append(frames, Frame{Event: "message_start", Data: []byte(`{"type":"message_start","message":{"type":"message","role":"assistant","content":[]}}`)})
	}

	cand := chunk.Get("candidates.0")
	for _, part := range cand.Get("content.parts").Array() {
		kind := "text"
		switch {
		case part.Get("functionCall").Exists():
			kind = "tool_use"
		case part.Get("thought").Bool():
			kind = "thinking"
		}

		if s.blockOpen && s.blockKind != kind {
			frames = append(frames, s.closeBlock())
		}
		if !s.blockOpen {
			s.blockIndex++
			s.blockOpen = true
			s.blockKind = kind
			frames = append(frames, s.openBlock(kind, part))
			continue
		}
		frames = append(frames, s.deltaFor(kind, part))
	}

	if u := chunk.Get("usageMetadata"); u.Exists() {
		s.usagePrompt = u.Get("promptTokenCount").Int()
		s.usageOutput = u.Get("candidatesTokenCount").Int()
	}

	if finish := cand.Get("finishReason"); finish.Exists() {
		if s.blockOpen {
			frames = append(frames, s.closeBlock())
		}
		stopReason := stopReasonFromFinish(finish.String())
		if s.blockKind == "tool_use" {
			stopReason = "tool_use"
		}
		delta := fmt.Sprintf(`{"type":"message_delta","delta":{"stop_reason":%q},"usage":{"input_tokens":%d,"output_tokens":%d}}`,
			stopReason, s.usagePrompt, s.usageOutput)
		frames = append(frames, Frame{Event: "message_delta", Data: []byte(delta)})
		frames = append(frames, Frame{Event: "message_stop", Data: []byte(`{"type":"message_stop"}`)})
	}

	return frames
}

func (s *StreamState) openBlock(kind string, part gjson.Result) Frame {
	block := `{"type":""}`
	switch kind {
	case "tool_use":
		fc := part.Get("functionCall")
		block, _ = sjson.Set(block, "type", "tool_use")
		block, _ = sjson.Set(block, "id", "toolu_"+fc.Get("name").String())
		block, _ = sjson.Set(block, "name", fc.Get("name").String())
		block, _ = sjson.SetRaw(block, "input", "{}")
		if sig := part.Get("thoughtSignature").String(); sig != "" && sig != signature.BypassSentinel {
			s.deps.Signatures.Put(signature.HashContent(s.pendingThink), sig, "claude")
		}
		s.pendingThink = ""
	case "thinking":
		s.pendingThink = part.Get("text").String()
		block, _ = sjson.Set(block, "type", "thinking")
		block, _ = sjson.Set(block, "thinking", s.pendingThink)
	default:
		block, _ = sjson.Set(block, "type", "text")
		block, _ = sjson.Set(block, "text", part.Get("text").String())
	}
	out := `{"type":"content_block_start","index":0,"content_block":{}}`
	out, _ = sjson.Set(out, "index", s.blockIndex)
	out, _ = sjson.SetRaw(out, "content_block", block)
	return Frame{Event: "content_block_start", Data: []byte(out)}
}

func (s *StreamState) deltaFor(kind string, part gjson.Result) Frame {
	delta := `{}`
	switch kind {
	case "tool_use":
		args := part.Get("functionCall.args").Raw
		if args == "" {
			args = "{}"
		}
		delta, _ = sjson.Set(delta, "type", "input_json_delta")
		delta, _ = sjson.SetRaw(delta, "partial_json", fmt.Sprintf("%q", args))
	case "thinking":
		text := part.Get("text").String()
		s.pendingThink += text
		delta, _ = sjson.Set(delta, "type", "thinking_delta")
		delta, _ = sjson.Set(delta, "thinking", text)
	default:
		delta, _ = sjson.Set(delta, "type", "text_delta")
		delta, _ = sjson.Set(delta, "text", part.Get("text").String())
	}
	out := `{"type":"content_block_delta","index":0,"delta":{}}`
	out, _ = sjson.Set(out, "index", s.blockIndex)
	out, _ = sjson.SetRaw(out, "delta", delta)
	return Frame{Event: "content_block_delta", Data: []byte(out)}
}

func (s *StreamState) closeBlock() Frame {
	s.blockOpen = false
	out := `{"type":"content_block_stop","index":0}`
	out, _ = sjson.Set(out, "index", s.blockIndex)
	return Frame{Event: "content_block_stop", Data: []byte(out)}
}
