// Package sse implements line-buffered Server-Sent Events consumption: a
// peek phase that bounds time-to-first-event so the dispatcher can rotate
// accounts on a stalled upstream, and a non-streaming collector that folds
// a full SSE stream into one JSON response.
package sse

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"time"
)

// ErrRetryEligible signals that the stream stalled during the peek phase
// (no meaningful event within the bound, or too many consecutive
// heartbeats) and the dispatcher may rotate to another account (§4.8).
var ErrRetryEligible = errors.New("sse: stream stalled before first meaningful event")

// Bounds per upstream family (§4.8).
const (
	ClaudePeekBound = 120 * time.Second
	OpenAIPeekBound = 90 * time.Second
	MaxConsecutiveHeartbeats = 20
)

// Event is one decoded SSE frame. Comment lines (heartbeats, `: ...`) are
// surfaced with IsComment=true so the peek phase can count them without the
// caller re-parsing raw bytes.
type Event struct {
	Data      []byte
	IsComment bool
}

// maxLineBuffer bounds a single SSE line, grounded on the teacher's
// scanner.Buffer(nil, streamScannerBuffer) sizing for upstream SSE reads.
const maxLineBuffer = 1 << 20

// Reader assembles upstream bytes into Events, splitting only on newline
// boundaries — UTF-8 continuation bytes never contain 0x0A, so a byte-level
// newline split never cuts a multi-byte rune in half. bufio.Scanner's
// default split function returns subslices of its own internal buffer
// rather than allocating a new slice per line.
type Reader struct {
	scanner *bufio.Scanner
	body    io.Closer
}

// NewReader wraps body's byte stream for line-buffered SSE consumption.
func NewReader(body io.ReadCloser) *Reader {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBuffer)
	return &Reader{scanner: scanner, body: body}
}

// Next returns the next SSE "data:" event, skipping blank separator lines.
// Comment lines are returned as IsComment events so callers can track
// heartbeats without discarding them silently.
func (r *Reader) Next() (Event, error) {
	for {
		if !r.scanner.Scan() {
			if err := r.scanner.Err(); err != nil {
				return Event{}, err
			}
			return Event{}, io.EOF
		}
		line := r.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if line[0] == ':' {
			return Event{IsComment: true, Data: line}, nil
		}
		if bytes.HasPrefix(line, []byte("data:")) {
			data := bytes.TrimPrefix(line, []byte("data:"))
			data = bytes.TrimPrefix(data, []byte(" "))
			return Event{Data: append([]byte(nil), data...)}, nil
		}
		// Non-data SSE fields (event:, id:, retry:) are not meaningful to
		// this gateway's mapping; skip without allocating a copy.
	}
}

func (r *Reader) Close() error { return r.body.Close() }

// Peek consumes comment/heartbeat events until the first meaningful
// (non-comment) event arrives, or until bound elapses, or until
// MaxConsecutiveHeartbeats comments pass without one — whichever comes
// first triggers ErrRetryEligible.
func Peek(ctx context.Context, r *Reader, bound time.Duration) (Event, error) {
	deadline := time.Now().Add(bound)
	heartbeats := 0

	type result struct {
		ev  Event
		err error
	}
	events := make(chan result, 1)

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return Event{}, ErrRetryEligible
		}

		go func() {
			ev, err := r.Next()
			events <- result{ev, err}
		}()

		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case <-time.After(remaining):
			return Event{}, ErrRetryEligible
		case res := <-events:
			if res.err != nil {
				return Event{}, res.err
			}
			if !res.ev.IsComment {
				return res.ev, nil
			}
			heartbeats++
			if heartbeats >= MaxConsecutiveHeartbeats {
				return Event{}, ErrRetryEligible
			}
		}
	}
}
