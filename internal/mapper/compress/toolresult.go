// Package compress implements tool-result compression: Compress counts a
// tool_result body's tokens with tiktoken-go/tokenizer and truncates it to a
// token budget. The protocol mappers do not call it; tool_result content is
// forwarded upstream at its full length.
package compress

import (
	"fmt"
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

// ClaudeContextTokens is the upstream context ceiling tool-result content is
// compressed against (§4.9).
const ClaudeContextTokens = 200000

// ReserveRatio is the fraction of the ceiling a single tool_result is allowed
// to occupy; the rest is reserved for the rest of the conversation.
const ReserveRatio = 0.25

// TruncationMarker is inserted at the cut point so the model and any human
// inspecting logs can tell the content was shortened.
const TruncationMarker = "\n...[truncated by relaygate: tool result exceeded token budget]...\n"

var (
	codecOnce sync.Once
	codec     tokenizer.Codec
	codecErr  error
)

func defaultCodec() (tokenizer.Codec, error) {
	codecOnce.Do(func() {
		codec, codecErr = tokenizer.Get(tokenizer.Cl100kBase)
	})
	return codec, codecErr
}

// Result is the outcome of compressing one tool_result body.
type Result struct {
	Text       string
	Truncated  bool
	TokenCount int
}

// Compress counts text's tokens and, if it exceeds budget, truncates it to
// fit with TruncationMarker inserted, keeping a prefix and suffix window so
// both the start and end of the result remain visible to the model.
func Compress(text string, budget int) (Result, error) {
	enc, err := defaultCodec()
	if err != nil {
		return Result{}, fmt.Errorf("compress: load tokenizer: %w", err)
	}
	if budget <= 0 {
		budget = int(ClaudeContextTokens * ReserveRatio)
	}

	count, err := enc.Count(text)
	if err != nil {
		return Result{}, fmt.Errorf("compress: count tokens: %w", err)
	}
	if count <= budget {
		return Result{Text: text, TokenCount: count}, nil
	}

	ids, _, err := enc.Encode(text)
	if err != nil {
		return Result{}, fmt.Errorf("compress: encode: %w", err)
	}

	markerIDs, err := enc.Count(TruncationMarker)
	if err != nil {
		return Result{}, fmt.Errorf("compress: count marker tokens: %w", err)
	}
	remaining := budget - markerIDs
	if remaining < 2 {
		remaining = 2
	}
	head := remaining * 2 / 3
	tail := remaining - head
	if head+tail >= len(ids) {
		return Result{Text: text, TokenCount: count}, nil
	}

	headIDs := ids[:head]
	tailIDs := ids[len(ids)-tail:]

	headText, err := enc.Decode(headIDs)
	if err != nil {
		return Result{}, fmt.Errorf("compress: decode head: %w", err)
	}
	tailText, err := enc.Decode(tailIDs)
	if err != nil {
		return Result{}, fmt.Errorf("compress: decode tail: %w", err)
	}

	truncated := headText + TruncationMarker + tailText
	finalCount, err := enc.Count(truncated)
	if err != nil {
		return Result{}, fmt.Errorf("compress: count truncated: %w", err)
	}
	return Result{Text: truncated, Truncated: true, TokenCount: finalCount}, nil
}
