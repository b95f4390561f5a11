// Package upstream provides the pooled HTTP client used to reach Google and
// Anthropic upstream APIs, fingerprinted via utls to avoid TLS-level
// blocking, with response decompression and a failure taxonomy mapped onto
// internal/errs.
package upstream

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	tls "github.com/refraction-networking/utls"
	"golang.org/x/net/http2"
	"golang.org/x/net/proxy"
)

// MinTimeout is the floor every client timeout is clamped to (§4.9).
const MinTimeout = 5 * time.Second

// key identifies one pooled client: same proxy + same timeout share a
// transport and its connection cache.
type key struct {
	proxyURL string
	timeout  time.Duration
}

// Pool hands out *http.Client-shaped round trippers keyed by (proxy_url?,
// timeout), clamping timeouts below MinTimeout with a warning to the caller
// via the returned bool.
type Pool struct {
	mu      sync.Mutex
	clients map[key]*utlsRoundTripper
}

// NewPool constructs an empty client pool.
func NewPool() *Pool {
	return &Pool{clients: make(map[key]*utlsRoundTripper)}
}

// Get returns the round tripper for (proxyURL, timeout), clamping timeout to
// MinTimeout. clamped reports whether clamping occurred so the caller can
// log a warning (§4.9: "Timeouts below 5s are clamped with a warning").
//
// A non-empty proxyURL that fails to parse is a configuration error (§4.9:
// "must not fall through to a direct connection").
func (p *Pool) Get(proxyURL string, timeout time.Duration) (rt *utlsRoundTripper, clamped bool, err error) {
	clamped = timeout < MinTimeout
	if clamped {
		timeout = MinTimeout
	}
	k := key{proxyURL: proxyURL, timeout: timeout}

	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.clients[k]; ok {
		return existing, clamped, nil
	}

	dialer, err := dialerFor(proxyURL)
	if err != nil {
		return nil, clamped, fmt.Errorf("upstream: build proxy dialer for %q: %w", proxyURL, err)
	}

	rt = newUtlsRoundTripper(dialer, timeout)
	p.clients[k] = rt
	return rt, clamped, nil
}

func dialerFor(proxyURL string) (proxy.Dialer, error) {
	if proxyURL == "" {
		return proxy.Direct, nil
	}
	u, err := url.Parse(proxyURL)
	if err != nil {
		return nil, err
	}
	return proxy.FromURL(u, proxy.Direct)
}

// utlsRoundTripper fingerprints outbound TLS as Firefox to avoid
// upstream TLS-level blocking of the Go stdlib fingerprint, caching one
// HTTP/2 connection per host the way a connection pool would.
type utlsRoundTripper struct {
	mu          sync.Mutex
	connections map[string]*http2.ClientConn
	pending     map[string]*sync.Cond
	dialer      proxy.Dialer
	timeout     time.Duration
}

func newUtlsRoundTripper(dialer proxy.Dialer, timeout time.Duration) *utlsRoundTripper {
	return &utlsRoundTripper{
		connections: make(map[string]*http2.ClientConn),
		pending:     make(map[string]*sync.Cond),
		dialer:      dialer,
		timeout:     timeout,
	}
}

func (t *utlsRoundTripper) getOrCreateConnection(host, addr string) (*http2.ClientConn, error) {
	t.mu.Lock()
	if conn, ok := t.connections[host]; ok && conn.CanTakeNewRequest() {
		t.mu.Unlock()
		return conn, nil
	}
	if cond, ok := t.pending[host]; ok {
		cond.Wait()
		if conn, ok := t.connections[host]; ok && conn.CanTakeNewRequest() {
			t.mu.Unlock()
			return conn, nil
		}
	}
	cond := sync.NewCond(&t.mu)
	t.pending[host] = cond
	t.mu.Unlock()

	conn, err := t.dial(host, addr)

	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pending, host)
	cond.Broadcast()
	if err != nil {
		return nil, err
	}
	t.connections[host] = conn
	return conn, nil
}

func (t *utlsRoundTripper) dial(host, addr string) (*http2.ClientConn, error) {
	conn, err := t.dialer.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	tlsConn := tls.UClient(conn, &tls.Config{ServerName: host}, tls.HelloFirefox_Auto)
	if err := tlsConn.Handshake(); err != nil {
		conn.Close()
		return nil, err
	}
	h2, err := (&http2.Transport{}).NewClientConn(tlsConn)
	if err != nil {
		tlsConn.Close()
		return nil, err
	}
	return h2, nil
}

// RoundTrip implements http.RoundTripper, evicting the cached connection on
// failure so the next request dials fresh.
func (t *utlsRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	host := req.URL.Hostname()
	addr := req.URL.Host
	if !strings.Contains(addr, ":") {
		addr += ":443"
	}

	conn, err := t.getOrCreateConnection(host, addr)
	if err != nil {
		return nil, err
	}
	resp, err := conn.RoundTrip(req)
	if err != nil {
		t.mu.Lock()
		if cached, ok := t.connections[host]; ok && cached == conn {
			delete(t.connections, host)
		}
		t.mu.Unlock()
		return nil, err
	}
	return resp, nil
}

// HTTPClient wraps the round tripper in a standard *http.Client with the
// pooled timeout applied.
func (p *Pool) HTTPClient(proxyURL string, timeout time.Duration) (*http.Client, bool, error) {
	rt, clamped, err := p.Get(proxyURL, timeout)
	if err != nil {
		return nil, clamped, err
	}
	return &http.Client{Transport: rt, Timeout: rt.timeout}, clamped, nil
}
