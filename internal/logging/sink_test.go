package logging

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"
)

func TestSinkPersistsEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "requests.db")
	sink, err := NewSink(path, 8)
	if err != nil {
		t.Fatalf("NewSink() error = %v", err)
	}

	sink.Enqueue(Entry{
		Time:       time.Now(),
		RequestID:  "req-1",
		Method:     "POST",
		Path:       "/v1/chat/completions",
		Status:     200,
		AccountID:  "acct-1",
		LatencyMS:  42,
		RetryCount: 1,
		ErrorKind:  "",
	})

	if err := sink.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("reopen database: %v", err)
	}
	defer db.Close()

	var accountID string
	var retryCount int
	row := db.QueryRow("SELECT account_id, retry_count FROM request_log WHERE request_id = ?", "req-1")
	if err := row.Scan(&accountID, &retryCount); err != nil {
		t.Fatalf("scan persisted row: %v", err)
	}
	if accountID != "acct-1" {
		t.Fatalf("account_id = %q, want acct-1", accountID)
	}
	if retryCount != 1 {
		t.Fatalf("retry_count = %d, want 1", retryCount)
	}
}

func TestSinkEnqueueOnNilIsNoop(t *testing.T) {
	var sink *Sink
	sink.Enqueue(Entry{RequestID: "ignored"})
	if err := sink.Close(); err != nil {
		t.Fatalf("Close() on nil sink error = %v, want nil", err)
	}
}
