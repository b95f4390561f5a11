package api

import (
	"github.com/kestrel-proxy/relaygate/internal/dispatch"
	"github.com/kestrel-proxy/relaygate/internal/mapper/claude"
	"github.com/kestrel-proxy/relaygate/internal/mapper/gemini"
	"github.com/kestrel-proxy/relaygate/internal/mapper/openai"
	"github.com/kestrel-proxy/relaygate/internal/mapper/thinking"
	"github.com/kestrel-proxy/relaygate/internal/model"
	"github.com/kestrel-proxy/relaygate/internal/signature"
)

// protocolMapper resolves the non-streaming dispatch.Mapper for one
// protocol family, closing over the shared signature cache and thinking
// policy every protocol leg consults (§4.8).
func protocolMapper(family model.ModelFamily, sigs *signature.Cache, tc thinking.Config) dispatch.Mapper {
	switch family {
	case model.FamilyClaude:
		deps := claude.Deps{Signatures: sigs, ThinkingConfig: tc}
		return dispatch.Mapper{
			ToGemini: func(f model.ModelFamily, raw []byte) ([]byte, error) { return claude.ToGemini(deps, f, raw) },
			FromGeminiResult: func(modelName string, raw []byte) ([]byte, error) {
				return claude.FromGeminiNonStream(deps, modelName, raw)
			},
		}
	case model.FamilyOpenAI:
		deps := openai.Deps{Signatures: sigs, ThinkingConfig: tc}
		return dispatch.Mapper{
			ToGemini: func(f model.ModelFamily, raw []byte) ([]byte, error) { return openai.ToGemini(deps, f, raw) },
			FromGeminiResult: func(modelName string, raw []byte) ([]byte, error) {
				return openai.FromGeminiNonStream(deps, modelName, raw)
			},
		}
	default:
		deps := gemini.Deps{Signatures: sigs, ThinkingConfig: tc}
		return dispatch.Mapper{
			ToGemini: func(f model.ModelFamily, raw []byte) ([]byte, error) { return gemini.Normalize(deps, f, raw) },
			FromGeminiResult: func(modelName string, raw []byte) ([]byte, error) {
				// The native Gemini leg is a passthrough: the upstream's own
				// response shape is already what the caller expects.
				return raw, nil
			},
		}
	}
}

// protocolStreamMapper resolves the streaming counterpart: Claude/OpenAI
// each carry per-stream state (open content block / tool-call index), while
// the Gemini leg forwards each upstream SSE event mostly as-is.
func protocolStreamMapper(family model.ModelFamily, sigs *signature.Cache, tc thinking.Config) dispatch.StreamMapper {
	switch family {
	case model.FamilyClaude:
		deps := claude.Deps{Signatures: sigs, ThinkingConfig: tc}
		state := claude.NewStreamState(deps)
		return dispatch.StreamMapper{
			ToGemini: func(f model.ModelFamily, raw []byte) ([]byte, error) { return claude.ToGemini(deps, f, raw) },
			NextChunks: func(raw []byte) []dispatch.Chunk {
				frames := state.Next(raw)
				out := make([]dispatch.Chunk, 0, len(frames))
				for _, f := range frames {
					out = append(out, dispatch.Chunk{Event: f.Event, Data: f.Data})
				}
				return out
			},
		}
	case model.FamilyOpenAI:
		deps := openai.Deps{Signatures: sigs, ThinkingConfig: tc}
		state := openai.NewStreamState(deps)
		return dispatch.StreamMapper{
			ToGemini: func(f model.ModelFamily, raw []byte) ([]byte, error) { return openai.ToGemini(deps, f, raw) },
			NextChunks: func(raw []byte) []dispatch.Chunk {
				chunk := state.Next(raw)
				if chunk == nil {
					return nil
				}
				return []dispatch.Chunk{{Data: chunk}}
			},
		}
	default:
		deps := gemini.Deps{Signatures: sigs, ThinkingConfig: tc}
		return dispatch.StreamMapper{
			ToGemini: func(f model.ModelFamily, raw []byte) ([]byte, error) { return gemini.Normalize(deps, f, raw) },
			NextChunks: func(raw []byte) []dispatch.Chunk {
				return []dispatch.Chunk{{Data: raw}}
			},
		}
	}
}
