// Package openai maps the OpenAI chat/completions surface onto the
// gateway's common outbound Gemini request/response shape (§4.8), using the
// same gjson/sjson JSON-surgery style as internal/mapper/claude, grounded
// on the teacher's internal/translator/codex/gemini request converter.
package openai

import (
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/kestrel-proxy/relaygate/internal/mapper/image"
	"github.com/kestrel-proxy/relaygate/internal/mapper/schema"
	"github.com/kestrel-proxy/relaygate/internal/mapper/thinking"
	"github.com/kestrel-proxy/relaygate/internal/model"
	"github.com/kestrel-proxy/relaygate/internal/signature"
)

// MaxStopSequences is the upstream cap on merged stop sequences (§4.8).
const MaxStopSequences = 5

// Deps are the shared mapper collaborators every protocol package wires in.
type Deps struct {
	Signatures     *signature.Cache
	ThinkingConfig thinking.Config
}

// ToGemini converts an OpenAI chat/completions request into the gateway's
// outbound Gemini request JSON.
func ToGemini(deps Deps, family model.ModelFamily, rawJSON []byte) ([]byte, error) {
	out := `{"contents":[]}`

	msgs := gjson.GetBytes(rawJSON, "messages")
	if msgs.IsArray() {
		out = appendContents(deps, out, msgs)
	}

	var err error
	out, err = appendTools(out, gjson.GetBytes(rawJSON, "tools"))
	if err != nil {
		return nil, err
	}

	out = applyStopSequences(out, rawJSON)
	out = applyGenerationParams(out, rawJSON)
	out = applyThinking(deps, out, family, rawJSON)

	return []byte(out), nil
}

func appendContents(deps Deps, out string, msgs gjson.Result) string {
	var pendingThinkingText string
	toolCallNameByID := map[string]string{}

	for _, msg := range msgs.Array() {
		role := msg.Get("role").String()
		switch role {
		case "system", "developer":
			out, _ = sjson.Set(out, "systemInstruction.role", "user")
			out, _ = sjson.Set(out, "systemInstruction.parts.-1.text", msg.Get("content").String())
			continue
		case "assistant":
			role = "model"
		case "tool":
			role = "user"
		}

		content := `{"role":"","parts":[]}`
		content, _ = sjson.Set(content, "role", role)
		wrote := false

		if calls := msg.Get("tool_calls"); calls.IsArray() {
			calls.ForEach(func(_, call gjson.Result) bool {
				id := call.Get("id").String()
				name := call.Get("function.name").String()
				toolCallNameByID[id] = name
				args := call.Get("function.arguments").String()
				if !gjson.Valid(args) {
					args = "{}"
				}
				sig := deps.Signatures.Resolve(pendingThinkingText)
				pendingThinkingText = ""
				part := `{"thoughtSignature":"","functionCall":{"name":"","args":{}}}`
				part, _ = sjson.Set(part, "thoughtSignature", sig)
				part, _ = sjson.Set(part, "functionCall.name", name)
				part, _ = sjson.SetRaw(part, "functionCall.args", args)
				content, _ = sjson.SetRaw(content, "parts.-1", part)
				wrote = true
				return true
			})
		}

		if role == "user" && msg.Get("tool_call_id").Exists() {
			toolCallID := msg.Get("tool_call_id").String()
			name := toolCallNameByID[toolCallID]
			if name == "" {
				name = toolCallID
			}
			result := msg.Get("content")
			part := `{"functionResponse":{"name":"","response":{"result":""}}}`
			part, _ = sjson.Set(part, "functionResponse.name", name)
			part, _ = sjson.Set(part, "functionResponse.response.result", result.String())
			content, _ = sjson.SetRaw(content, "parts.-1", part)
			wrote = true
		} else {
			body := msg.Get("content")
			switch {
			case body.Type == gjson.String && body.String() != "":
				content, _ = sjson.Set(content, "parts.-1.text", body.String())
				wrote = true
			case body.IsArray():
				body.ForEach(func(_, part gjson.Result) bool {
					ok := appendBlock(&content, part, &pendingThinkingText)
					wrote = wrote || ok
					return true
				})
			}
		}

		if !wrote {
			content, _ = sjson.Set(content, "parts.-1.text", "")
		}
		out, _ = sjson.SetRaw(out, "contents.-1", content)
	}
	return out
}

func appendBlock(content *string, part gjson.Result, pendingThinkingText *string) bool {
	switch part.Get("type").String() {
	case "text":
		*content, _ = sjson.Set(*content, "parts.-1.text", part.Get("text").String())
		return true
	case "image_url":
		url := part.Get("image_url.url").String()
		mime, data, ok := decodeDataURL(url)
		if !ok {
			return false
		}
		mime = image.Reconcile(mime, data)
		inline := `{"inlineData":{"mimeType":"","data":""}}`
		inline, _ = sjson.Set(inline, "inlineData.mimeType", mime)
		inline, _ = sjson.Set(inline, "inlineData.data", data)
		*content, _ = sjson.SetRaw(*content, "parts.-1", inline)
		return true
	}
	return false
}

// decodeDataURL splits a "data:<mime>;base64,<data>" URL. It never reads
// the full payload beyond what the caller (image.Reconcile) itself sniffs.
func decodeDataURL(url string) (mime, data string, ok bool) {
	const prefix = "data:"
	if len(url) < len(prefix) || url[:len(prefix)] != prefix {
		return "", "", false
	}
	rest := url[len(prefix):]
	semi := indexByte(rest, ';')
	comma := indexByte(rest, ',')
	if semi < 0 || comma < 0 || comma < semi {
		return "", "", false
	}
	return rest[:semi], rest[comma+1:], true
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

func appendTools(out string, tools gjson.Result) (string, error) {
	if !tools.IsArray() {
		return out, nil
	}
	hasTools := false
	var cleanErr error
	tools.ForEach(func(_, tool gjson.Result) bool {
		fn := tool.Get("function")
		params := fn.Get("parameters")
		if !params.Exists() || !params.IsObject() {
			return true
		}
		cleaned, err := schema.Clean([]byte(params.Raw))
		if err != nil {
			cleanErr = err
			return false
		}
		decl := `{"name":"","description":""}`
		decl, _ = sjson.Set(decl, "name", fn.Get("name").String())
		decl, _ = sjson.Set(decl, "description", fn.Get("description").String())
		decl, _ = sjson.SetRaw(decl, "parametersJsonSchema", string(cleaned))
		if !hasTools {
			out, _ = sjson.SetRaw(out, "tools", `[{"functionDeclarations":[]}]`)
			hasTools = true
		}
		out, _ = sjson.SetRaw(out, "tools.0.functionDeclarations.-1", decl)
		return true
	})
	return out, cleanErr
}

func applyStopSequences(out string, rawJSON []byte) string {
	seen := make(map[string]bool)
	var merged []string
	stop := gjson.GetBytes(rawJSON, "stop")
	switch {
	case stop.Type == gjson.String:
		merged = append(merged, stop.String())
	case stop.IsArray():
		stop.ForEach(func(_, v gjson.Result) bool {
			s := v.String()
			if s == "" || seen[s] {
				return true
			}
			seen[s] = true
			merged = append(merged, s)
			return len(merged) < MaxStopSequences
		})
	}
	if len(merged) == 0 {
		return out
	}
	if len(merged) > MaxStopSequences {
		merged = merged[:MaxStopSequences]
	}
	out, _ = sjson.Set(out, "generationConfig.stopSequences", merged)
	return out
}

func applyGenerationParams(out string, rawJSON []byte) string {
	if v := gjson.GetBytes(rawJSON, "temperature"); v.Type == gjson.Number {
		out, _ = sjson.Set(out, "generationConfig.temperature", v.Num)
	}
	if v := gjson.GetBytes(rawJSON, "top_p"); v.Type == gjson.Number {
		out, _ = sjson.Set(out, "generationConfig.topP", v.Num)
	}
	if v := gjson.GetBytes(rawJSON, "n"); v.Type == gjson.Number {
		out, _ = sjson.Set(out, "generationConfig.candidateCount", v.Int())
	}
	return out
}

func applyThinking(deps Deps, out string, family model.ModelFamily, rawJSON []byte) string {
	clientBudget := 0
	clientMax := int(gjson.GetBytes(rawJSON, "max_tokens").Int())
	if clientMax == 0 {
		clientMax = int(gjson.GetBytes(rawJSON, "max_completion_tokens").Int())
	}
	if effort := gjson.GetBytes(rawJSON, "reasoning_effort"); effort.Exists() {
		// OpenAI's reasoning_effort maps onto this gateway's own custom-budget
		// tiers; a bare numeric budget is not part of the chat/completions
		// surface, so only the effort label threads through to adaptive mode.
		deps.ThinkingConfig.Effort = thinking.Effort(stringsToUpper(effort.String()))
	}

	resolved := thinking.Resolve(deps.ThinkingConfig, family, clientBudget, clientMax)
	if resolved.ThinkingBudgetSet {
		out, _ = sjson.Set(out, "generationConfig.thinkingConfig.thinkingBudget", resolved.ThinkingBudget)
		out, _ = sjson.Set(out, "generationConfig.thinkingConfig.includeThoughts", true)
	}
	if resolved.ThinkingLevel != "" {
		out, _ = sjson.Set(out, "generationConfig.thinkingConfig.thinkingLevel", resolved.ThinkingLevel)
		out, _ = sjson.Set(out, "generationConfig.thinkingConfig.includeThoughts", true)
	}
	if resolved.MaxOutputTokens > 0 {
		out, _ = sjson.Set(out, "generationConfig.maxOutputTokens", resolved.MaxOutputTokens)
	}
	return out
}

func stringsToUpper(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - ('a' - 'A')
		}
	}
	return string(b)
}
