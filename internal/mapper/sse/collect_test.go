package sse

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/tidwall/gjson"
)

func TestCollectConcatenatesTextAcrossChunks(t *testing.T) {
	stream := `data: {"candidates":[{"content":{"role":"model","parts":[{"text":"hello "}]}}]}` + "\n\n" +
		`data: {"candidates":[{"content":{"role":"model","parts":[{"text":"world"}]},"finishReason":"STOP"}],"usageMetadata":{"totalTokenCount":5}}` + "\n\n"

	r := newReaderFromString(stream)
	out, err := Collect(context.Background(), r)
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}

	got := gjson.GetBytes(out, "candidates.0.content.parts.0.text").String()
	if got != "hello world" {
		t.Fatalf("text = %q, want %q", got, "hello world")
	}
	if fr := gjson.GetBytes(out, "candidates.0.finishReason").String(); fr != "STOP" {
		t.Fatalf("finishReason = %q, want STOP", fr)
	}
	if tc := gjson.GetBytes(out, "usageMetadata.totalTokenCount").Int(); tc != 5 {
		t.Fatalf("totalTokenCount = %d, want 5", tc)
	}
}

func TestCollectPropagatesErrorFrameAsErr(t *testing.T) {
	stream := `data: {"error":{"code":429,"message":"rate limited"}}` + "\n\n"
	r := newReaderFromString(stream)

	_, err := Collect(context.Background(), r)
	if err == nil {
		t.Fatalf("Collect() error = nil, want non-nil")
	}
	if !strings.Contains(err.Error(), "rate limited") {
		t.Fatalf("Collect() error = %v, want it to mention the error frame", err)
	}
}

func TestCollectReturnsRetryEligibleOnEmptyStream(t *testing.T) {
	r := newReaderFromString("")
	_, err := Collect(context.Background(), r)
	if !errors.Is(err, ErrRetryEligible) {
		t.Fatalf("Collect() error = %v, want ErrRetryEligible", err)
	}
}
