package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kestrel-proxy/relaygate/internal/model"
)

// listModels implements GET /v1/models (§6): model IDs after routing-map
// rewrites, excluding the internal background-task sentinel (§4.10 step 2).
func (h *Handler) listModels(c *gin.Context) {
	data := make([]gin.H, 0, len(KnownModels))
	seen := make(map[string]bool)
	for _, id := range KnownModels {
		resolved := id
		if target, ok := h.Routing.Resolve(id); ok {
			resolved = target
		}
		if resolved == model.InternalBackgroundTaskModel || seen[resolved] {
			continue
		}
		seen[resolved] = true
		data = append(data, gin.H{"id": resolved, "object": "model", "owned_by": "relaygate"})
	}
	c.JSON(http.StatusOK, gin.H{"object": "list", "data": data})
}
