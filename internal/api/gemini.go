package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/kestrel-proxy/relaygate/internal/dispatch"
	"github.com/kestrel-proxy/relaygate/internal/logging"
	"github.com/kestrel-proxy/relaygate/internal/model"
)

// geminiAction implements both `/v1beta/models/{model}:generateContent` and
// `/v1beta/models/{model}:streamGenerateContent` (§6): Gemini encodes the
// method in the same path segment as the model name, separated by a colon,
// so both routes share one gin wildcard registration. Grounded on the
// teacher's GeminiHandler (sdk/api/handlers/gemini/gemini_handlers.go),
// which splits the `:action` URI param the same way.
func (h *Handler) geminiAction(c *gin.Context) {
	action := strings.TrimPrefix(c.Param("action"), "/")
	parts := strings.SplitN(action, ":", 2)
	if len(parts) != 2 {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: ErrorDetail{
			Message: c.Request.URL.Path + " not found",
			Type:    "invalid_request_error",
		}})
		return
	}
	modelName, method := parts[0], parts[1]

	body, err := c.GetRawData()
	if err != nil {
		writeError(c, dispatchBadRequest("read request body"))
		return
	}

	family, upstreamURL := h.resolveUpstream(modelName)
	if family == model.FamilyUnknown {
		family = model.FamilyGeminiPro
	}
	deps := h.dispatchDeps(upstreamURL)
	req := dispatch.Request{
		ModelName:   modelName,
		ModelFamily: family,
		Body:        body,
		SessionID:   c.GetHeader("x-session-id"),
		OperatorPin: c.GetHeader("x-operator-pin"),
	}

	switch method {
	case "generateContent":
		result, err := dispatch.Run(c.Request.Context(), deps, h.mapperFor(family), req)
		if err != nil {
			writeError(c, err)
			return
		}
		logging.SetGinDispatchOutcome(c, result.AccountID, result.RetryCount)
		h.capture(c, result.AccountID, modelName, body, result.Body)
		c.Data(http.StatusOK, "application/json", result.Body)
	case "streamGenerateContent":
		h.streamRoute(c, deps, family, req)
	default:
		c.JSON(http.StatusNotFound, ErrorResponse{Error: ErrorDetail{
			Message: "unsupported action: " + method,
			Type:    "invalid_request_error",
		}})
	}
}
