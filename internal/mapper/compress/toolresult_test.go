package compress

import (
	"strings"
	"testing"
)

func TestCompressLeavesSmallResultUntouched(t *testing.T) {
	text := "short tool output"
	got, err := Compress(text, 1000)
	if err != nil {
		t.Fatalf("Compress() error = %v", err)
	}
	if got.Truncated {
		t.Fatalf("Compress() truncated a result well under budget")
	}
	if got.Text != text {
		t.Fatalf("Compress() = %q, want unchanged %q", got.Text, text)
	}
}

func TestCompressTruncatesOversizedResult(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 50000; i++ {
		b.WriteString("token ")
	}
	got, err := Compress(b.String(), 100)
	if err != nil {
		t.Fatalf("Compress() error = %v", err)
	}
	if !got.Truncated {
		t.Fatalf("Compress() did not truncate an oversized result")
	}
	if !strings.Contains(got.Text, TruncationMarker) {
		t.Fatalf("Compress() output missing truncation marker")
	}
	if got.TokenCount > 100+20 {
		t.Fatalf("Compress() TokenCount = %d, want roughly within budget 100", got.TokenCount)
	}
}

func TestCompressKeepsHeadAndTail(t *testing.T) {
	text := strings.Repeat("a", 2000) + " MIDDLE-MARKER-XYZ " + strings.Repeat("b", 2000)
	got, err := Compress(text, 50)
	if err != nil {
		t.Fatalf("Compress() error = %v", err)
	}
	if !strings.HasPrefix(got.Text, "aaa") {
		t.Fatalf("Compress() output lost the head window")
	}
	if !strings.HasSuffix(strings.TrimRight(got.Text, "\n"), "bbb") && !strings.Contains(got.Text, "bbb") {
		t.Fatalf("Compress() output lost the tail window")
	}
}

func TestCompressDefaultsBudgetWhenNotProvided(t *testing.T) {
	got, err := Compress("hello world", 0)
	if err != nil {
		t.Fatalf("Compress() error = %v", err)
	}
	if got.Truncated {
		t.Fatalf("Compress() with default budget truncated a tiny result")
	}
}
