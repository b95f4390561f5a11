// Package claude maps the Claude Messages API surface onto the gateway's
// common outbound Gemini request/response shape (§4.8). Request/response
// rewriting is done as surgical JSON surgery with gjson/sjson rather than a
// full struct round-trip, matching the teacher's translator package style
// (internal/translator/gemini-cli/claude).
package claude

import (
	"strings"

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

// ToGemini converts a Claude Messages API request into the gateway's
// outbound Gemini request JSON.
func ToGemini(deps Deps, family model.ModelFamily, rawJSON []byte) ([]byte, error) {
	out := `{"contents":[]}`

	if sys := gjson.GetBytes(rawJSON, "system"); sys.Exists() {
		out = setSystemInstruction(out, sys)
	}

	if msgs := gjson.GetBytes(rawJSON, "messages"); msgs.IsArray() {
		var err error
		out, err = appendContents(deps, out, msgs)
		if err != nil {
			return nil, err
		}
	}

	var convErr error
	out, convErr = appendTools(out, gjson.GetBytes(rawJSON, "tools"))
	if convErr != nil {
		return nil, convErr
	}

	out = applyStopSequences(out, rawJSON)
	out = applyGenerationParams(out, rawJSON)
	out = applyThinking(deps, out, family, rawJSON)

	return []byte(out), nil
}

func setSystemInstruction(out string, sys gjson.Result) string {
	if sys.Type == gjson.String {
		out, _ = sjson.Set(out, "systemInstruction.role", "user")
		out, _ = sjson.Set(out, "systemInstruction.parts.-1.text", sys.String())
		return out
	}
	if sys.IsArray() {
		any := false
		sys.ForEach(func(_, block gjson.Result) bool {
			if block.Get("type").String() != "text" {
				return true
			}
			out, _ = sjson.Set(out, "systemInstruction.parts.-1.text", block.Get("text").String())
			any = true
			return true
		})
		if any {
			out, _ = sjson.Set(out, "systemInstruction.role", "user")
		}
	}
	return out
}

// appendContents walks Claude messages into Gemini contents, applying the
// role-alternation / empty-message placeholder rule (§4.8): a message that
// yields no parts gets a placeholder text part instead of being dropped, so
// role alternation upstream expects is preserved. Thinking blocks are
// forwarded as thought parts; none are stripped.
func appendContents(deps Deps, out string, msgs gjson.Result) (string, error) {
	var pendingThinkingText string

	items := msgs.Array()
	for _, msg := range items {
		role := msg.Get("role").String()
		if role == "assistant" {
			role = "model"
		}
		content := `{"role":"","parts":[]}`
		content, _ = sjson.Set(content, "role", role)

		wrote := false
		body := msg.Get("content")
		switch {
		case body.Type == gjson.String:
			content, _ = sjson.Set(content, "parts.-1.text", body.String())
			wrote = true
		case body.IsArray():
			body.ForEach(func(_, block gjson.Result) bool {
				ok := appendBlock(deps, &content, block, &pendingThinkingText)
				wrote = wrote || ok
				return true
			})
		}

		if !wrote {
			// Empty-message placeholder rule (§4.8).
			content, _ = sjson.Set(content, "parts.-1.text", "")
		}
		out, _ = sjson.SetRaw(out, "contents.-1", content)
	}
	return out, nil
}

func appendBlock(deps Deps, content *string, block gjson.Result, pendingThinkingText *string) bool {
	switch block.Get("type").String() {
	case "text":
		text := block.Get("text").String()
		*content, _ = sjson.Set(*content, "parts.-1.text", text)
		return true

	case "thinking":
		text := block.Get("thinking").String()
		*pendingThinkingText = text
		part := `{"text":"","thought":true}`
		part, _ = sjson.Set(part, "text", text)
		*content, _ = sjson.SetRaw(*content, "parts.-1", part)
		return true

	case "tool_use":
		name := block.Get("name").String()
		args := block.Get("input").Raw
		if args == "" || !gjson.Valid(args) {
			args = "{}"
		}
		sig := deps.Signatures.Resolve(*pendingThinkingText)
		*pendingThinkingText = ""
		part := `{"thoughtSignature":"","functionCall":{"name":"","args":{}}}`
		part, _ = sjson.Set(part, "thoughtSignature", sig)
		part, _ = sjson.Set(part, "functionCall.name", name)
		part, _ = sjson.SetRaw(part, "functionCall.args", args)
		*content, _ = sjson.SetRaw(*content, "parts.-1", part)
		return true

	case "tool_result":
		toolUseID := block.Get("tool_use_id").String()
		if toolUseID == "" {
			return false
		}
		name := toolUseID
		if i := strings.LastIndex(toolUseID, "-"); i > 0 {
			name = toolUseID[:i]
		}
		result := block.Get("content")
		part := `{"functionResponse":{"name":"","response":{"result":""}}}`
		part, _ = sjson.Set(part, "functionResponse.name", name)
		if result.Type == gjson.String {
			part, _ = sjson.Set(part, "functionResponse.response.result", result.String())
		} else {
			part, _ = sjson.SetRaw(part, "functionResponse.response.result", result.Raw)
		}
		*content, _ = sjson.SetRaw(*content, "parts.-1", part)
		return true

	case "image":
		src := block.Get("source")
		if src.Get("type").String() != "base64" {
			return false
		}
		mime := src.Get("media_type").String()
		data := src.Get("data").String()
		if mime == "" || data == "" {
			return false
		}
		mime = image.Reconcile(mime, data)
		part := `{"inlineData":{"mimeType":"","data":""}}`
		part, _ = sjson.Set(part, "inlineData.mimeType", mime)
		part, _ = sjson.Set(part, "inlineData.data", data)
		*content, _ = sjson.SetRaw(*content, "parts.-1", part)
		return true
	}
	return false
}

func appendTools(out string, tools gjson.Result) (string, error) {
	if !tools.IsArray() {
		return out, nil
	}
	hasTools := false
	var cleanErr error
	tools.ForEach(func(_, tool gjson.Result) bool {
		inputSchema := tool.Get("input_schema")
		if !inputSchema.Exists() || !inputSchema.IsObject() {
			return true
		}
		cleaned, err := schema.Clean([]byte(inputSchema.Raw))
		if err != nil {
			cleanErr = err
			return false
		}
		decl := `{"name":"","description":""}`
		decl, _ = sjson.Set(decl, "name", tool.Get("name").String())
		decl, _ = sjson.Set(decl, "description", tool.Get("description").String())
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

// applyStopSequences merges client-supplied stop_sequences with no built-in
// defaults (Claude carries none), dedupes, and caps at MaxStopSequences
// (§4.8).
func applyStopSequences(out string, rawJSON []byte) string {
	seen := make(map[string]bool)
	var merged []string
	gjson.GetBytes(rawJSON, "stop_sequences").ForEach(func(_, v gjson.Result) bool {
		s := v.String()
		if s == "" || seen[s] {
			return true
		}
		seen[s] = true
		merged = append(merged, s)
		return len(merged) < MaxStopSequences
	})
	if len(merged) == 0 {
		return out
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
	if v := gjson.GetBytes(rawJSON, "top_k"); v.Type == gjson.Number {
		out, _ = sjson.Set(out, "generationConfig.topK", v.Num)
	}
	return out
}

func applyThinking(deps Deps, out string, family model.ModelFamily, rawJSON []byte) string {
	clientBudget := 0
	if t := gjson.GetBytes(rawJSON, "thinking"); t.IsObject() && t.Get("type").String() == "enabled" {
		clientBudget = int(t.Get("budget_tokens").Int())
	}
	clientMax := int(gjson.GetBytes(rawJSON, "max_tokens").Int())

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
