package logging

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Bounds on captured request/response bodies (§4.13 ambient logging): a
// request body is buffered up to 512 KiB and a streamed response tail up to
// 8 KiB, beyond which captured bytes are dropped oldest-first so the monitor
// never grows unbounded on a large payload.
const (
	MaxRequestCapture  = 512 * 1024
	MaxResponseCapture = 8 * 1024
)

// Capture holds the bounded snapshot of one request/response exchange for
// diagnostics (GET /api/requests surfaces these on demand).
type Capture struct {
	// ID is a time-sortable record id distinct from RequestID (a uuid),
	// so captures listed by GET /api/requests sort in capture order
	// without re-deriving it from RequestID.
	ID           string
	RequestID    string
	Account      string
	Model        string
	RequestBody  []byte
	ResponseTail []byte
	Dropped      bool
}

// Monitor keeps the most recent N captures in a fixed-size ring, evicting
// the oldest entry rather than growing without bound.
type Monitor struct {
	mu       sync.Mutex
	capacity int
	entries  []Capture
	next     int
	full     bool
}

// NewMonitor builds a Monitor retaining up to capacity recent captures.
func NewMonitor(capacity int) *Monitor {
	if capacity <= 0 {
		capacity = 64
	}
	return &Monitor{capacity: capacity, entries: make([]Capture, capacity)}
}

// Record appends a capture, truncating its buffers to the module bounds and
// marking Dropped when truncation occurred.
func (m *Monitor) Record(c Capture) {
	if c.ID == "" {
		c.ID = ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
	}
	if len(c.RequestBody) > MaxRequestCapture {
		c.RequestBody = c.RequestBody[len(c.RequestBody)-MaxRequestCapture:]
		c.Dropped = true
	}
	if len(c.ResponseTail) > MaxResponseCapture {
		c.ResponseTail = c.ResponseTail[len(c.ResponseTail)-MaxResponseCapture:]
		c.Dropped = true
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[m.next] = c
	m.next = (m.next + 1) % m.capacity
	if m.next == 0 {
		m.full = true
	}
}

// Recent returns captures newest-first.
func (m *Monitor) Recent() []Capture {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := m.next
	if !m.full {
		out := make([]Capture, n)
		for i := 0; i < n; i++ {
			out[i] = m.entries[n-1-i]
		}
		return out
	}

	out := make([]Capture, m.capacity)
	for i := 0; i < m.capacity; i++ {
		idx := (n - 1 - i + m.capacity) % m.capacity
		out[i] = m.entries[idx]
	}
	return out
}
