// Package dispatch implements the Request Handlers' common dispatch
// function (§4.10): authenticate has already happened by the time a caller
// reaches this package; from here it is select → refresh → map → send →
// map, in a bounded retry loop that rotates accounts on classified
// retry-eligible failure and updates every resilience signal along the way.
package dispatch

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/kestrel-proxy/relaygate/internal/errs"
	"github.com/kestrel-proxy/relaygate/internal/model"
	"github.com/kestrel-proxy/relaygate/internal/repository"
	"github.com/kestrel-proxy/relaygate/internal/selector"
	"github.com/kestrel-proxy/relaygate/internal/tokenstore"
	"github.com/kestrel-proxy/relaygate/internal/upstream"
)

// DefaultRetryBudget is R_total from §4.10.
const DefaultRetryBudget = 3

// Mapper adapts one protocol family onto the gateway's outbound Gemini
// wire shape. Each of internal/mapper/{openai,claude,gemini} satisfies this
// with its ToGemini/FromGeminiNonStream pair; callers pass a closure since
// the three packages don't share a common Deps type.
type Mapper struct {
	ToGemini         func(family model.ModelFamily, rawJSON []byte) ([]byte, error)
	FromGeminiResult func(modelName string, rawJSON []byte) ([]byte, error)
}

// Deps wires every collaborator the retry loop reads or updates.
type Deps struct {
	Repository  repository.AccountRepository
	Tokens      *tokenstore.Store
	Selector    selector.Dependencies
	Upstream    *upstream.Pool
	UpstreamURL string // base URL of the resolved upstream for this family
	Timeout     time.Duration
	ProxyURL    string
	RetryBudget int
	// Client overrides the pooled upstream client when set, bypassing
	// Upstream/ProxyURL entirely. Production wiring leaves this nil; tests
	// use it to point at an httptest server without the pool's uTLS/H2
	// dialer, which assumes a real TLS upstream.
	Client *http.Client
}

func (d Deps) httpClient() (*http.Client, error) {
	if d.Client != nil {
		return d.Client, nil
	}
	client, _, err := d.Upstream.HTTPClient(d.ProxyURL, d.Timeout)
	return client, err
}

// Request bundles one inbound call's routing-relevant fields.
type Request struct {
	SessionID   string
	ModelName   string
	ModelFamily model.ModelFamily
	OperatorPin string
	Body        []byte
}

// Result is the final mapped response body for a non-streaming call.
type Result struct {
	Body       []byte
	AccountID  string
	RetryCount int
}

// Run executes the §4.10 retry loop for one non-streaming request. Streaming
// calls use RunStreaming instead, since the retry loop there only covers
// the peek phase (§4.10 step 4).
func Run(ctx context.Context, deps Deps, mapper Mapper, req Request) (*Result, error) {
	if deps.RetryBudget <= 0 {
		deps.RetryBudget = DefaultRetryBudget
	}
	attempted := make(map[string]bool)
	graceUsed := false
	retries := 0

	for {
		sel, err := selectAccount(ctx, deps, req, attempted)
		if err != nil {
			return nil, err
		}
		guard := sel.Guard
		accountID := sel.Account.ID

		result, dispatchErr := attempt(ctx, deps, mapper, req, sel.Account)
		guard.Release()

		if dispatchErr == nil {
			deps.Selector.Circuits.RecordSuccess(accountID)
			deps.Selector.AIMD.RecordSuccess(accountID, 0)
			if req.SessionID != "" && deps.Selector.Sessions != nil {
				deps.Selector.Sessions.Bind(req.SessionID, accountID)
			}
			return &Result{Body: result, AccountID: accountID, RetryCount: retries}, nil
		}

		classified := classifyDispatchErr(dispatchErr)
		attempted[accountID] = true
		applyTelemetry(deps.Selector, accountID, classified)
		if req.SessionID != "" && deps.Selector.Sessions != nil {
			deps.Selector.Sessions.Bind(req.SessionID, accountID)
		}

		log.WithFields(log.Fields{"account": accountID, "error": classified.Kind}).Warn("dispatch attempt failed")

		if !errs.Recoverable(classified) {
			if !graceUsed && classified.Kind == errs.SchemaViolation {
				graceUsed = true
				continue
			}
			return nil, classified
		}

		retries++
		if retries > deps.RetryBudget {
			return nil, classified
		}
	}
}

// selectResult is the shared return type of selectFrom, reused by both
// Run and RunStreaming.
type selectResult = selector.Result

// selectFrom resolves one eligible account for req against the live
// account pool, per the §4.7 selection algorithm.
func selectFrom(deps Deps, accounts []*model.Account, req Request, attempted map[string]bool) (*selectResult, error) {
	return selector.Select(deps.Selector, accounts, selector.Request{
		SessionID:   req.SessionID,
		ModelFamily: req.ModelFamily,
		Attempted:   attempted,
		OperatorPin: req.OperatorPin,
	})
}

func classifyDispatchErr(err error) *errs.Error {
	if e, ok := err.(*errs.Error); ok {
		return e
	}
	return upstream.Classify(err)
}

// applyTelemetry updates rate-limit tracker (429), circuit breaker (5xx/
// connect), and AIMD (both), per §4.10 step 3.
func applyTelemetry(deps selector.Dependencies, accountID string, e *errs.Error) {
	switch e.Kind {
	case errs.RateLimited:
		deps.RateLimits.RecordShort(accountID, 0)
		deps.AIMD.RecordRateLimit(accountID)
	case errs.ConnectionError, errs.UpstreamHTTP5xx, errs.UpstreamUnresponsive:
		deps.Circuits.RecordFailure(accountID)
		deps.AIMD.RecordRateLimit(accountID)
	}
}

// attempt performs one select-refresh-map-send-map cycle against a chosen
// account.
func attempt(ctx context.Context, deps Deps, mapper Mapper, req Request, acc *model.Account) ([]byte, error) {
	cred, err := deps.Tokens.Get(ctx, acc.ID)
	if err != nil {
		return nil, errs.Wrap(errs.TokenExpiredRefreshFail, "refresh credential", err)
	}

	outbound, err := mapper.ToGemini(req.ModelFamily, req.Body)
	if err != nil {
		return nil, errs.Wrap(errs.SchemaViolation, "map request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, deps.UpstreamURL, bytes.NewReader(outbound))
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "build upstream request", err)
	}
	httpReq.Header.Set("content-type", "application/json")
	httpReq.Header.Set("authorization", "Bearer "+cred.AccessToken)

	client, err := deps.httpClient()
	if err != nil {
		return nil, errs.Wrap(errs.ConnectionError, "build upstream client", err)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, upstream.Classify(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, upstream.ClassifyStatus(resp.StatusCode)
	}

	decoded, err := upstream.DecodeBody(resp)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "decode upstream body", err)
	}
	defer decoded.Close()

	raw, err := io.ReadAll(decoded)
	if err != nil {
		return nil, errs.Wrap(errs.ConnectionError, "read upstream body", err)
	}

	mapped, err := mapper.FromGeminiResult(req.ModelName, raw)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "map response", err)
	}
	return mapped, nil
}
