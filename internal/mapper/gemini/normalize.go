// Package gemini implements the passthrough leg of the protocol mappers
// (§4.8): native Gemini requests already carry the outbound wire shape, so
// this package only normalizes them — enforcing the thinking-signature,
// image-MIME, schema-cleaning, stop-sequence, and role-alternation rules
// that the OpenAI/Claude legs apply during translation.
package gemini

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

// Normalize enforces the common mapper rules (§4.8) on an already
// Gemini-shaped generateContent request body.
func Normalize(deps Deps, family model.ModelFamily, rawJSON []byte) ([]byte, error) {
	out := string(rawJSON)

	out = normalizeContents(deps, out)

	var err error
	out, err = normalizeTools(out)
	if err != nil {
		return nil, err
	}

	out = normalizeStopSequences(out)
	out = normalizeThinking(deps, out, family)

	return []byte(out), nil
}

func normalizeContents(deps Deps, out string) string {
	contents := gjson.Get(out, "contents")
	if !contents.IsArray() {
		return out
	}
	var pendingThinking string

	items := contents.Array()
	for i, content := range items {
		parts := content.Get("parts")
		wrote := parts.IsArray() && len(parts.Array()) > 0

		if parts.IsArray() {
			for j, part := range parts.Array() {
				base := pathFor(i, j)
				if part.Get("thought").Bool() {
					pendingThinking = part.Get("text").String()
					continue
				}
				if fc := part.Get("functionCall"); fc.Exists() {
					sig := part.Get("thoughtSignature").String()
					if sig == "" {
						sig = deps.Signatures.Resolve(pendingThinking)
						out, _ = sjson.Set(out, base+".thoughtSignature", sig)
					}
					pendingThinking = ""
					continue
				}
				if inline := part.Get("inlineData"); inline.Exists() {
					mime := inline.Get("mimeType").String()
					data := inline.Get("data").String()
					if mime != "" && data != "" {
						out, _ = sjson.Set(out, base+".inlineData.mimeType", image.Reconcile(mime, data))
					}
				}
			}
		}

		if !wrote {
			out, _ = sjson.Set(out, pathFor(i, -1)+".text", "")
		}
	}
	return out
}

func pathFor(contentIdx, partIdx int) string {
	if partIdx < 0 {
		return "contents." + itoa(contentIdx) + ".parts.-1"
	}
	return "contents." + itoa(contentIdx) + ".parts." + itoa(partIdx)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func normalizeTools(out string) (string, error) {
	tools := gjson.Get(out, "tools")
	if !tools.IsArray() {
		return out, nil
	}
	for ti, tool := range tools.Array() {
		decls := tool.Get("functionDeclarations")
		if !decls.IsArray() {
			continue
		}
		for di, decl := range decls.Array() {
			params := decl.Get("parametersJsonSchema")
			if !params.Exists() {
				params = decl.Get("parameters")
			}
			if !params.Exists() || !params.IsObject() {
				continue
			}
			cleaned, err := schema.Clean([]byte(params.Raw))
			if err != nil {
				return out, err
			}
			path := "tools." + itoa(ti) + ".functionDeclarations." + itoa(di) + ".parametersJsonSchema"
			out, _ = sjson.SetRaw(out, path, string(cleaned))
		}
	}
	return out, nil
}

func normalizeStopSequences(out string) string {
	seen := make(map[string]bool)
	var merged []string
	gjson.Get(out, "generationConfig.stopSequences").ForEach(func(_, v gjson.Result) bool {
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

func normalizeThinking(deps Deps, out string, family model.ModelFamily) string {
	clientBudget := int(gjson.Get(out, "generationConfig.thinkingConfig.thinkingBudget").Int())
	clientMax := int(gjson.Get(out, "generationConfig.maxOutputTokens").Int())

	resolved := thinking.Resolve(deps.ThinkingConfig, family, clientBudget, clientMax)
	if resolved.ThinkingBudgetSet {
		out, _ = sjson.Set(out, "generationConfig.thinkingConfig.thinkingBudget", resolved.ThinkingBudget)
		out, _ = sjson.Set(out, "generationConfig.thinkingConfig.includeThoughts", true)
	}
	if resolved.ThinkingLevel != "" {
		out, _ = sjson.Set(out, "generationConfig.thinkingConfig.thinkingLevel", resolved.ThinkingLevel)
		out, _ = sjson.Delete(out, "generationConfig.thinkingConfig.thinkingBudget")
		out, _ = sjson.Set(out, "generationConfig.thinkingConfig.includeThoughts", true)
	}
	if resolved.MaxOutputTokens > 0 {
		out, _ = sjson.Set(out, "generationConfig.maxOutputTokens", resolved.MaxOutputTokens)
	}
	return out
}
