package upstream

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/kestrel-proxy/relaygate/internal/errs"
)

// Classify maps a transport-level failure onto the gateway's error taxonomy
// (§4.9: ConnectionError, Timeout, Http4xx, Http5xx, Decode, Cancelled).
// Timeouts and connection failures are always ConnectionError, never
// mistaken for a token-acquisition failure (§4.10).
func Classify(err error) *errs.Error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return errs.Wrap(errs.Cancelled, "request cancelled", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errs.Wrap(errs.ConnectionError, "upstream request timed out", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return errs.Wrap(errs.ConnectionError, "upstream connection failed", err)
	}
	return errs.Wrap(errs.ConnectionError, "upstream transport error", err)
}

// ClassifyStatus maps an upstream HTTP status code onto the taxonomy once a
// response was actually received.
func ClassifyStatus(status int) *errs.Error {
	switch {
	case status == http.StatusTooManyRequests:
		return errs.New(errs.RateLimited, "upstream rate limited")
	case status >= 500:
		return errs.New(errs.UpstreamHTTP5xx, "upstream server error")
	case status >= 400:
		return errs.New(errs.UpstreamHTTP4xx, "upstream rejected request")
	default:
		return nil
	}
}
