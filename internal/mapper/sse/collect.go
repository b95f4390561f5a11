package sse

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Collect folds a full Gemini SSE stream into a single
// GenerateContentResponse-shaped JSON document (§4.8: "A non-streaming
// collector exists to fold a Gemini SSE into a single JSON"). Text parts
// across chunks are concatenated in arrival order; the last chunk's
// finishReason and usageMetadata win. An error frame anywhere in the
// stream is returned as Err and never converted into a graceful
// finishReason, since a client that asked for the non-streaming shape
// must see the failure as a failure.
func Collect(ctx context.Context, r *Reader) ([]byte, error) {
	var text string
	var finishReason string
	var usage gjson.Result
	var role string
	seenChunk := false

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		ev, err := r.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
		if ev.IsComment || len(ev.Data) == 0 {
			continue
		}
		if string(ev.Data) == "[DONE]" {
			break
		}

		chunk := gjson.ParseBytes(ev.Data)
		if errField := chunk.Get("error"); errField.Exists() {
			return nil, fmt.Errorf("sse: upstream error frame: %s", errField.Raw)
		}

		seenChunk = true
		cand := chunk.Get("candidates.0")
		if r := cand.Get("content.role"); r.Exists() {
			role = r.String()
		}
		for _, part := range cand.Get("content.parts").Array() {
			text += part.Get("text").String()
		}
		if fr := cand.Get("finishReason"); fr.Exists() {
			finishReason = fr.String()
		}
		if u := chunk.Get("usageMetadata"); u.Exists() {
			usage = u
		}
	}

	if !seenChunk {
		return nil, fmt.Errorf("sse: collect: %w: empty stream", ErrRetryEligible)
	}
	if role == "" {
		role = "model"
	}

	out := `{"candidates":[{"content":{"role":"","parts":[{"text":""}]},"finishReason":""}]}`
	out, _ = sjson.Set(out, "candidates.0.content.role", role)
	out, _ = sjson.Set(out, "candidates.0.content.parts.0.text", text)
	out, _ = sjson.Set(out, "candidates.0.finishReason", finishReason)
	if usage.Exists() {
		out, _ = sjson.SetRaw(out, "usageMetadata", usage.Raw)
	}
	return []byte(out), nil
}
