package dispatch

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/kestrel-proxy/relaygate/internal/errs"
	"github.com/kestrel-proxy/relaygate/internal/mapper/sse"
	"github.com/kestrel-proxy/relaygate/internal/model"
	"github.com/kestrel-proxy/relaygate/internal/upstream"
)

// Chunk is one protocol-mapped frame ready to write to the client.
type Chunk struct {
	Event string // empty for a bare "data:" frame
	Data  []byte
}

// StreamMapper adapts one protocol family's SSE translation onto the
// dispatcher. NextChunks is called once per upstream Gemini SSE event and
// returns zero or more client-shaped frames; protocols without an explicit
// block-boundary state (the Gemini passthrough leg) return at most one.
type StreamMapper struct {
	ToGemini   func(family model.ModelFamily, rawJSON []byte) ([]byte, error)
	NextChunks func(rawJSON []byte) []Chunk
}

// Emit receives one client-bound frame. Implementations typically write an
// SSE-formatted line to the response and flush.
type Emit func(Chunk) error

// StreamResult carries the streaming counterpart of Result's observability
// fields (§4.11: every request log line needs the upstream account id and
// retry count, streaming included). It is returned on both success and
// failure — even an attempt that never got past the peek phase already
// rotated through one or more accounts worth logging.
type StreamResult struct {
	AccountID  string
	RetryCount int
}

// RunStreaming executes the §4.10 streaming variant of the retry loop:
// account rotation is only possible up through the peek phase of each
// attempt (§4.8's ClaudePeekBound/OpenAIPeekBound, chosen by the caller and
// passed as peekBound). Once a meaningful event has been relayed to the
// caller, the loop becomes terminal for that attempt — a later mid-stream
// failure is surfaced to the caller as-is rather than silently retried,
// since bytes have already reached the client.
func RunStreaming(ctx context.Context, deps Deps, mapper StreamMapper, req Request, peekBound time.Duration, emit Emit) (*StreamResult, error) {
	if deps.RetryBudget <= 0 {
		deps.RetryBudget = DefaultRetryBudget
	}
	attempted := make(map[string]bool)
	result := &StreamResult{}

	for {
		sel, err := selectAccount(ctx, deps, req, attempted)
		if err != nil {
			return result, err
		}
		accountID := sel.Account.ID
		guard := sel.Guard
		result.AccountID = accountID

		reader, relayErr := attemptStream(ctx, deps, mapper, req, sel.Account)
		if relayErr != nil {
			guard.Release()
			classified := classifyDispatchErr(relayErr)
			attempted[accountID] = true
			applyTelemetry(deps.Selector, accountID, classified)
			if !errs.Recoverable(classified) {
				return result, classified
			}
			result.RetryCount++
			if result.RetryCount > deps.RetryBudget {
				return result, classified
			}
			continue
		}

		first, peekErr := sse.Peek(ctx, reader, peekBound)
		if peekErr != nil {
			reader.Close()
			guard.Release()
			if errors.Is(peekErr, sse.ErrRetryEligible) {
				attempted[accountID] = true
				deps.Selector.Circuits.RecordFailure(accountID)
				deps.Selector.AIMD.RecordRateLimit(accountID)
				result.RetryCount++
				if result.RetryCount > deps.RetryBudget {
					return result, errs.Wrap(errs.UpstreamUnresponsive, "stream stalled before first event", peekErr)
				}
				continue
			}
			return result, errs.Wrap(errs.ConnectionError, "stream peek failed", peekErr)
		}

		// First meaningful event relayed: this attempt is now terminal.
		deps.Selector.Circuits.RecordSuccess(accountID)
		deps.Selector.AIMD.RecordSuccess(accountID, 0)
		if req.SessionID != "" && deps.Selector.Sessions != nil {
			deps.Selector.Sessions.Bind(req.SessionID, accountID)
		}

		err = relayStream(reader, mapper, first, emit)
		guard.Release()
		reader.Close()
		if err != nil {
			log.WithFields(log.Fields{"account": accountID, "error": err}).Warn("stream interrupted mid-flight")
		}
		return result, err
	}
}

// selectAccount is the selection step shared by Run and RunStreaming.
func selectAccount(ctx context.Context, deps Deps, req Request, attempted map[string]bool) (*selectResult, error) {
	accounts, err := deps.Repository.List(ctx)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "list accounts", err)
	}
	sel, err := selectFrom(deps, accounts, req, attempted)
	if err != nil {
		return nil, errs.Wrap(errs.NoEligibleAccount, "no eligible account", err)
	}
	return sel, nil
}

func relayStream(reader *sse.Reader, mapper StreamMapper, first sse.Event, emit Emit) error {
	if !first.IsComment {
		for _, c := range mapper.NextChunks(first.Data) {
			if err := emit(c); err != nil {
				return err
			}
		}
	}
	for {
		ev, err := reader.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if ev.IsComment {
			continue
		}
		if string(ev.Data) == "[DONE]" {
			return nil
		}
		for _, c := range mapper.NextChunks(ev.Data) {
			if err := emit(c); err != nil {
				return err
			}
		}
	}
}

func attemptStream(ctx context.Context, deps Deps, mapper StreamMapper, req Request, acc *model.Account) (*sse.Reader, error) {
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
	httpReq.Header.Set("accept", "text/event-stream")
	httpReq.Header.Set("authorization", "Bearer "+cred.AccessToken)

	client, err := deps.httpClient()
	if err != nil {
		return nil, errs.Wrap(errs.ConnectionError, "build upstream client", err)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, upstream.Classify(err)
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return nil, upstream.ClassifyStatus(resp.StatusCode)
	}

	decoded, err := upstream.DecodeBody(resp)
	if err != nil {
		resp.Body.Close()
		return nil, errs.Wrap(errs.Internal, "decode upstream body", err)
	}
	return sse.NewReader(decoded), nil
}
