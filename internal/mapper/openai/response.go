package openai

import (
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/kestrel-proxy/relaygate/internal/signature"
)

func finishReasonFromGemini(finish string, toolCall bool) string {
	if toolCall {
		return "tool_calls"
	}
	switch finish {
	case "MAX_TOKENS":
		return "length"
	default:
		return "stop"
	}
}

// FromGeminiNonStream folds one complete Gemini response into an OpenAI
// chat.completion response document.
func FromGeminiNonStream(deps Deps, modelName string, rawJSON []byte) ([]byte, error) {
	cand := gjson.GetBytes(rawJSON, "candidates.0")
	out := `{"object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant"}}]}`
	out, _ = sjson.Set(out, "model", modelName)

	var text string
	var pendingThinking string
	toolCall := false
	for i, part := range cand.Get("content.parts").Array() {
		switch {
		case part.Get("functionCall").Exists():
			toolCall = true
			fc := part.Get("functionCall")
			if sig := part.Get("thoughtSignature").String(); sig != "" && sig != signature.BypassSentinel {
				deps.Signatures.Put(signature.HashContent(pendingThinking), sig, "openai")
			}
			pendingThinking = ""
			args := fc.Get("args").Raw
			if args == "" {
				args = "{}"
			}
			call := fmt.Sprintf(`{"id":"call_%d","type":"function","function":{"name":%q}}`, i, fc.Get("name").String())
			call, _ = sjson.SetRaw(call, "function.arguments", fmt.Sprintf("%q", args))
			out, _ = sjson.SetRaw(out, "choices.0.message.tool_calls.-1", call)
		case part.Get("thought").Bool():
			pendingThinking = part.Get("text").String()
		case part.Get("text").Exists():
			text += part.Get("text").String()
		}
	}
	if text != "" {
		out, _ = sjson.Set(out, "choices.0.message.content", text)
	} else if !toolCall {
		out, _ = sjson.Set(out, "choices.0.message.content", "")
	}

	out, _ = sjson.Set(out, "choices.0.finish_reason", finishReasonFromGemini(cand.Get("finishReason").String(), toolCall))

	usage := gjson.GetBytes(rawJSON, "usageMetadata")
	out, _ = sjson.Set(out, "usage.prompt_tokens", usage.Get("promptTokenCount").Int())
	out, _ = sjson.Set(out, "usage.completion_tokens", usage.Get("candidatesTokenCount").Int())
	out, _ = sjson.Set(out, "usage.total_tokens", usage.Get("totalTokenCount").Int())

	return []byte(out), nil
}

// StreamState accumulates per-request state across Gemini streaming chunks
// and re-emits them as OpenAI chat.completion.chunk deltas.
type StreamState struct {
	deps          Deps
	toolCallIndex int
	inToolCall    bool
	pendingThink  string
}

// NewStreamState begins a streaming response for one request.
func NewStreamState(deps Deps) *StreamState {
	return &StreamState{deps: deps, toolCallIndex: -1}
}

// Next converts one Gemini SSE data chunk into an OpenAI
// chat.completion.chunk JSON document, or nil if the chunk carries no
// content worth forwarding (e.g. a bare usage-only trailer).
func (s *StreamState) Next(rawJSON []byte) []byte {
	chunk := gjson.ParseBytes(rawJSON)
	cand := chunk.Get("candidates.0")

	out := `{"object":"chat.completion.chunk","choices":[{"index":0,"delta":{}}]}`
	wrote := false
	toolCall := false

	for _, part := range cand.Get("content.parts").Array() {
		switch {
		case part.Get("functionCall").Exists():
			toolCall = true
			if !s.inToolCall {
				s.inToolCall = true
				s.toolCallIndex++
			}
			fc := part.Get("functionCall")
			if sig := part.Get("thoughtSignature").String(); sig != "" && sig != signature.BypassSentinel {
				s.deps.Signatures.Put(signature.HashContent(s.pendingThink), sig, "openai")
			}
			s.pendingThink = ""
			args := fc.Get("args").Raw
			if args == "" {
				args = "{}"
			}
			call := fmt.Sprintf(`{"index":%d,"id":"call_%d","type":"function","function":{"name":%q}}`,
				s.toolCallIndex, s.toolCallIndex, fc.Get("name").String())
			call, _ = sjson.SetRaw(call, "function.arguments", fmt.Sprintf("%q", args))
			out, _ = sjson.SetRaw(out, "choices.0.delta.tool_calls.-1", call)
			wrote = true
		case part.Get("thought").Bool():
			s.pendingThink = part.Get("text").String()
		case part.Get("text").Exists():
			out, _ = sjson.Set(out, "choices.0.delta.content", part.Get("text").String())
			wrote = true
		}
	}

	if finish := cand.Get("finishReason"); finish.Exists() {
		out, _ = sjson.Set(out, "choices.0.finish_reason", finishReasonFromGemini(finish.String(), toolCall || s.inToolCall))
		wrote = true
	}

	if !wrote {
		return nil
	}
	return []byte(out)
}
