package upstream

import (
	"context"
	"net/http"
	"testing"

	"github.com/kestrel-proxy/relaygate/internal/errs"
)

func TestClassifyCancelledContext(t *testing.T) {
	got := Classify(context.Canceled)
	if got.Kind != errs.Cancelled {
		t.Fatalf("Kind = %v, want Cancelled", got.Kind)
	}
}

func TestClassifyDeadlineExceeded(t *testing.T) {
	got := Classify(context.DeadlineExceeded)
	if got.Kind != errs.ConnectionError {
		t.Fatalf("Kind = %v, want ConnectionError for a timed-out request", got.Kind)
	}
}

func TestClassifyStatusRateLimited(t *testing.T) {
	got := ClassifyStatus(http.StatusTooManyRequests)
	if got.Kind != errs.RateLimited {
		t.Fatalf("Kind = %v, want RateLimited", got.Kind)
	}
}

func TestClassifyStatusServerError(t *testing.T) {
	got := ClassifyStatus(http.StatusBadGateway)
	if got.Kind != errs.UpstreamHTTP5xx {
		t.Fatalf("Kind = %v, want UpstreamHTTP5xx", got.Kind)
	}
}

func TestClassifyStatusClientError(t *testing.T) {
	got := ClassifyStatus(http.StatusBadRequest)
	if got.Kind != errs.UpstreamHTTP4xx {
		t.Fatalf("Kind = %v, want UpstreamHTTP4xx", got.Kind)
	}
}

func TestClassifyStatusSuccessReturnsNil(t *testing.T) {
	if got := ClassifyStatus(http.StatusOK); got != nil {
		t.Fatalf("ClassifyStatus(200) = %v, want nil", got)
	}
}
