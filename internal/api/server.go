// Package api wires the gateway's inbound HTTP surface (§6): the three
// protocol-compatible dispatch routes, model listing, media passthrough,
// and the operator-facing resilience/config endpoints, all behind a single
// bearer API key except the unauthenticated /api/health liveness check.
package api

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/kestrel-proxy/relaygate/internal/config"
	"github.com/kestrel-proxy/relaygate/internal/dispatch"
	"github.com/kestrel-proxy/relaygate/internal/logging"
	"github.com/kestrel-proxy/relaygate/internal/mapper/sse"
	"github.com/kestrel-proxy/relaygate/internal/mapper/thinking"
	"github.com/kestrel-proxy/relaygate/internal/model"
	"github.com/kestrel-proxy/relaygate/internal/routing"
	"github.com/kestrel-proxy/relaygate/internal/selector"
	"github.com/kestrel-proxy/relaygate/internal/signature"
)

// KnownModels is the static catalogue /v1/models walks through the routing
// map (§6 "List model IDs after routing-map rewrites"). Production wiring
// would source this from each upstream's own model-list endpoint; this
// gateway treats it as configuration since its core never calls an
// upstream except to relay an already-authenticated chat/messages/generate
// request.
var KnownModels = []string{
	"gpt-4o", "gpt-4o-mini",
	"claude-opus-4", "claude-sonnet-4",
	"gemini-2.5-pro", "gemini-2.5-flash", "gemini-3-pro",
}

// Handler bundles everything route handlers need: resilience signals for
// the operator endpoints, the dispatch pipeline's collaborators for the
// three protocol routes, and the ambient logging/monitor pair.
type Handler struct {
	Config   *config.Config
	Live     *config.Live
	Selector selector.Dependencies
	Routing  *routing.Map
	Monitor  *logging.Monitor
	Sink     *logging.Sink

	Dispatch   dispatch.Deps
	Signatures *signature.Cache
}

// NewEngine builds the configured gin.Engine with every route from §6
// registered. Grounded on the teacher's route module pattern
// (internal/api/modules/modules.go registers each protocol family's routes
// onto one shared engine) and its gemini handler's `:action`-splitting
// convention for the `model:method` Gemini route shape
// (sdk/api/handlers/gemini/gemini_handlers.go).
func NewEngine(h *Handler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(logging.Recovery(), logging.RequestLogger(h.Sink))

	r.GET("/api/health", h.health)

	authorized := r.Group("/")
	authorized.Use(func(c *gin.Context) {
		keys := h.Config.APIKeys
		if h.Live != nil && !h.Live.Security().RequireAPIKey {
			c.Next()
			return
		}
		logging.APIKeyAuth(keys)(c)
	})

	authorized.POST("/v1/chat/completions", h.chatCompletions)
	authorized.POST("/v1/messages", h.messages)
	authorized.POST("/v1beta/models/*action", h.geminiAction)
	authorized.GET("/v1/models", h.listModels)
	authorized.POST("/v1/images/generations", h.imageGenerations)
	authorized.POST("/v1/audio/transcriptions", h.audioTranscriptions)

	authorized.GET("/api/requests", h.recentRequests)
	authorized.GET("/api/resilience/health", h.resilienceHealth)
	authorized.GET("/api/resilience/circuits", h.resilienceCircuits)
	authorized.GET("/api/resilience/aimd", h.resilienceAIMD)
	authorized.POST("/api/resilience/bypass/:account_id", h.resilienceBypass)
	authorized.GET("/api/metrics", h.metrics)
	authorized.GET("/api/config/mapping", h.getRoutingMap)
	authorized.POST("/api/config/mapping", h.postRoutingMap)

	return r
}

func (h *Handler) health(c *gin.Context) {
	logging.SkipRequestLogging(c)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ServeListener runs the engine behind an *http.Server bound to ln, honoring
// §5's graceful shutdown: once ctx is cancelled, Shutdown drains in-flight
// requests up to a 30s grace period rather than severing them. Taking a
// pre-bound net.Listener (rather than dialing inside Serve) lets the caller
// detect a bind failure — port already in use, no permission — as a plain
// error before the process ever reports itself as listening, so a startup
// failure becomes a clean non-zero exit instead of a panic deep in a
// background goroutine (§6: "non-zero on startup failure"). The returned
// channel closes once Shutdown has returned.
func ServeListener(ctx context.Context, h *Handler, ln net.Listener) (*http.Server, <-chan struct{}) {
	srv := &http.Server{Handler: NewEngine(h)}
	done := make(chan struct{})

	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("http server stopped unexpectedly")
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("graceful shutdown did not complete cleanly")
		}
		close(done)
	}()
	return srv, done
}

// mapperFor resolves the dispatch.Mapper/StreamMapper pair for family,
// wiring each protocol package's Deps from the handler's shared signature
// cache and the thinking-budget policy re-read from Live on every call, so a
// hot config reload (§4.13) takes effect on the very next request rather
// than only at process start.
func (h *Handler) mapperFor(family model.ModelFamily) dispatch.Mapper {
	return protocolMapper(family, h.Signatures, h.thinkingConfig())
}

func (h *Handler) streamMapperFor(family model.ModelFamily) dispatch.StreamMapper {
	return protocolStreamMapper(family, h.Signatures, h.thinkingConfig())
}

// thinkingConfig builds the §4.8 thinking-budget policy from the live config
// view. Experimental().AdaptiveThinkingBudget, when set, overrides whatever
// mode the operator configured and forces adaptive mode — the one
// experimental flag this gateway currently gates (§4.13).
func (h *Handler) thinkingConfig() thinking.Config {
	if h.Live == nil {
		return thinking.Config{}
	}
	tc := thinking.Config{
		Mode:         thinking.Mode(h.Live.ThinkingBudgetMode()),
		CustomBudget: h.Live.ThinkingBudget(),
		Effort:       thinking.Effort(h.Live.ThinkingEffort()),
	}
	if h.Live.Experimental().AdaptiveThinkingBudget {
		tc.Mode = thinking.ModeAdaptive
	}
	return tc
}

func peekBoundFor(family model.ModelFamily) time.Duration {
	if family == model.FamilyClaude {
		return sse.ClaudePeekBound
	}
	return sse.OpenAIPeekBound
}

// resolveUpstream picks the outbound base URL and per-request model family
// for an inbound model name, applying the routing map's rewrites (§3, §9).
// Without a routing-map entry it uses Dispatch.UpstreamURL when that is set,
// and the family's default upstream otherwise.
func (h *Handler) resolveUpstream(modelName string) (model.ModelFamily, string) {
	family := model.DeriveFamily(modelName)
	target, ok := h.Routing.Resolve(modelName)
	if !ok {
		target = h.Dispatch.UpstreamURL
		if target == "" {
			target = defaultUpstreamFor(family)
		}
	}
	return family, target
}

func defaultUpstreamFor(family model.ModelFamily) string {
	switch family {
	case model.FamilyClaude:
		return "https://api.anthropic.com/v1/messages"
	default:
		return "https://generativelanguage.googleapis.com/v1beta/models/gemini:generateContent"
	}
}

// dispatchDeps clones Deps with the per-request upstream URL applied and the
// outbound proxy re-read from Live, so a hot-reloaded upstream_proxy_url
// (§4.13) takes effect on the next dispatch instead of staying pinned to
// whatever was configured at process start.
func (h *Handler) dispatchDeps(upstreamURL string) dispatch.Deps {
	d := h.Dispatch
	d.UpstreamURL = upstreamURL
	if h.Live != nil {
		d.ProxyURL = h.Live.UpstreamProxyURL()
	}
	return d
}
