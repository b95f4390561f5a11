package logging

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// Entry is one durable request-log row (§4.11): method, path, status,
// upstream account id, latency, retry count, and error kind, plus the
// request id for cross-referencing against a Monitor capture.
type Entry struct {
	Time       time.Time
	RequestID  string
	Method     string
	Path       string
	Status     int
	AccountID  string
	LatencyMS  int64
	RetryCount int
	ErrorKind  string
}

// Sink persists Entries to a SQLite file through a bounded channel, off the
// request path: RequestLogger's goroutine never blocks on disk I/O, and a
// sink that falls behind drops the newest entries rather than growing
// without bound or stalling requests (§4.11 "bounded async queue").
// Grounded on the teacher's modernc.org/sqlite + database/sql wiring
// (internal/store/sqlite3/sqlite3.go in the rakunlabs-at example repo: WAL
// mode, single-writer connection limit).
type Sink struct {
	db      *sql.DB
	queue   chan Entry
	dropped uint64
	done    chan struct{}
}

// NewSink opens (creating if absent) a SQLite database at path and starts
// the drain goroutine. queueSize bounds how many entries may be in flight
// before new ones are dropped.
func NewSink(path string, queueSize int) (*Sink, error) {
	if queueSize <= 0 {
		queueSize = 1024
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("logging: open sink database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("logging: ping sink database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("logging: set WAL mode: %w", err)
	}
	// SQLite is single-writer; the drain goroutine is the only writer, so one
	// connection is all this sink ever needs.
	db.SetMaxOpenConns(1)

	const schema = `CREATE TABLE IF NOT EXISTS request_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ts INTEGER NOT NULL,
		request_id TEXT NOT NULL,
		method TEXT NOT NULL,
		path TEXT NOT NULL,
		status INTEGER NOT NULL,
		account_id TEXT NOT NULL,
		latency_ms INTEGER NOT NULL,
		retry_count INTEGER NOT NULL,
		error_kind TEXT NOT NULL
	)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("logging: create request_log table: %w", err)
	}

	s := &Sink{
		db:    db,
		queue: make(chan Entry, queueSize),
		done:  make(chan struct{}),
	}
	go s.drain()
	return s, nil
}

// Enqueue submits e for durable persistence without blocking the caller. A
// full queue means the sink can't keep up; the entry is dropped and counted
// rather than applying backpressure to the request path.
func (s *Sink) Enqueue(e Entry) {
	if s == nil {
		return
	}
	select {
	case s.queue <- e:
	default:
		s.dropped++
		if s.dropped%100 == 1 {
			log.WithField("dropped", s.dropped).Warn("request log sink queue full, dropping entries")
		}
	}
}

func (s *Sink) drain() {
	defer close(s.done)
	const insert = `INSERT INTO request_log
		(ts, request_id, method, path, status, account_id, latency_ms, retry_count, error_kind)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	for e := range s.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_, err := s.db.ExecContext(ctx, insert,
			e.Time.Unix(), e.RequestID, e.Method, e.Path, e.Status,
			e.AccountID, e.LatencyMS, e.RetryCount, e.ErrorKind)
		cancel()
		if err != nil {
			log.WithError(err).Warn("request log sink: insert failed")
		}
	}
}

// Close drains any queued entries and closes the database. It blocks until
// the drain goroutine has exited.
func (s *Sink) Close() error {
	if s == nil {
		return nil
	}
	close(s.queue)
	<-s.done
	return s.db.Close()
}
