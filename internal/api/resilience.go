package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kestrel-proxy/relaygate/internal/circuit"
	"github.com/kestrel-proxy/relaygate/internal/routing"
)

// resilienceHealth implements GET /api/resilience/health (§6): per-account
// availability, folding rate-limit lock state and circuit state into one
// view per known account.
func (h *Handler) resilienceHealth(c *gin.Context) {
	accounts, err := h.Dispatch.Repository.List(c.Request.Context())
	if err != nil {
		writeError(c, dispatchInternal("list accounts"))
		return
	}
	out := make([]gin.H, 0, len(accounts))
	for _, acc := range accounts {
		locked := h.Selector.RateLimits != nil && h.Selector.RateLimits.IsLocked(acc.ID)
		state := circuit.Closed
		if h.Selector.Circuits != nil {
			state = h.Selector.Circuits.StateOf(acc.ID)
		}
		out = append(out, gin.H{
			"account_id":     acc.ID,
			"proxy_disabled": acc.ProxyDisabled,
			"rate_limited":   locked,
			"circuit_state":  state.String(),
			"available":      !acc.ProxyDisabled && !locked && state != circuit.Open,
		})
	}
	c.JSON(http.StatusOK, gin.H{"accounts": out})
}

// recentRequests implements GET /api/requests (§6): the bounded recent
// request/response capture history kept by the resilience Monitor.
func (h *Handler) recentRequests(c *gin.Context) {
	captures := h.Monitor.Recent()
	out := make([]gin.H, 0, len(captures))
	for _, rec := range captures {
		out = append(out, gin.H{
			"id":         rec.ID,
			"request_id": rec.RequestID,
			"account_id": rec.Account,
			"model":      rec.Model,
			"dropped":    rec.Dropped,
		})
	}
	c.JSON(http.StatusOK, gin.H{"requests": out})
}

// resilienceCircuits implements GET /api/resilience/circuits (§6).
func (h *Handler) resilienceCircuits(c *gin.Context) {
	snap := h.Selector.Circuits.Snapshot()
	out := make(gin.H, len(snap))
	for id, st := range snap {
		out[id] = st.String()
	}
	c.JSON(http.StatusOK, gin.H{"circuits": out})
}

// resilienceAIMD implements GET /api/resilience/aimd (§6).
func (h *Handler) resilienceAIMD(c *gin.Context) {
	snaps := h.Selector.AIMD.SnapshotAll()
	out := make([]gin.H, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, gin.H{
			"account_id":       s.AccountID,
			"cap":              s.Cap,
			"ewma_latency_ms":  s.EWMALatencyMs,
			"last_adjusted_at": s.LastAdjustedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"aimd": out})
}

// resilienceBypass implements the supplemented operator-pin bypass endpoint
// (SUPPLEMENTED FEATURES: "operator-pin bypass endpoint for rate-limit
// warmup", §4.2's "used only for administrative warmup"): it clears an
// account's rate-limit lock so the next request can reach it regardless of
// the lockout window, for manual recovery testing.
func (h *Handler) resilienceBypass(c *gin.Context) {
	accountID := c.Param("account_id")
	if h.Selector.RateLimits != nil {
		h.Selector.RateLimits.Clear(accountID)
	}
	c.JSON(http.StatusOK, gin.H{"account_id": accountID, "bypassed": true})
}

// metrics implements GET /api/metrics (§6): hand-rendered Prometheus text
// exposition (SUPPLEMENTED FEATURES: no client library in the pack exposes
// this format without a metrics-registry dependency this gateway doesn't
// otherwise need).
func (h *Handler) metrics(c *gin.Context) {
	var b strings.Builder
	b.WriteString("# HELP relaygate_circuit_state Circuit breaker state (0=closed,1=open,2=half_open)\n")
	b.WriteString("# TYPE relaygate_circuit_state gauge\n")
	for id, st := range h.Selector.Circuits.Snapshot() {
		fmt.Fprintf(&b, "relaygate_circuit_state{account_id=%q} %d\n", id, int(st))
	}
	b.WriteString("# HELP relaygate_aimd_cap Current AIMD concurrency cap\n")
	b.WriteString("# TYPE relaygate_aimd_cap gauge\n")
	for _, s := range h.Selector.AIMD.SnapshotAll() {
		fmt.Fprintf(&b, "relaygate_aimd_cap{account_id=%q} %d\n", s.AccountID, s.Cap)
	}
	c.Data(http.StatusOK, "text/plain; version=0.0.4", []byte(b.String()))
}

// getRoutingMap implements GET /api/config/mapping (§6).
func (h *Handler) getRoutingMap(c *gin.Context) {
	entries := h.Routing.Snapshot()
	out := make([]gin.H, 0, len(entries))
	for _, e := range entries {
		out = append(out, gin.H{
			"pattern":   e.Pattern,
			"target":    e.Target,
			"updated_at": e.UpdatedAt,
			"tombstone": e.Tombstone,
		})
	}
	c.JSON(http.StatusOK, gin.H{"entries": out})
}

// postRoutingMap implements POST /api/config/mapping (§6): merges a remote
// map via last-write-wins (routing.Map.Merge, P6).
func (h *Handler) postRoutingMap(c *gin.Context) {
	var body struct {
		Entries []routing.Entry `json:"entries"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, dispatchBadRequest("invalid routing map payload"))
		return
	}
	h.Routing.Merge(body.Entries)
	c.JSON(http.StatusOK, gin.H{"merged": len(body.Entries), "at": time.Now()})
}
