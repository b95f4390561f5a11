package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"

	"github.com/kestrel-proxy/relaygate/internal/dispatch"
	"github.com/kestrel-proxy/relaygate/internal/logging"
	"github.com/kestrel-proxy/relaygate/internal/model"
)

// imageGenerations implements POST /v1/images/generations (§6): a
// DALL·E-compatible envelope. No separate protocol mapper exists for image
// generation (§4.8 only covers chat/messages/generateContent), so the body
// is relayed to the resolved upstream unmodified — an identity Mapper run
// through the same selector/retry/telemetry pipeline as every other route.
func (h *Handler) imageGenerations(c *gin.Context) {
	h.relayIdentity(c, "dall-e-3")
}

// audioTranscriptions implements POST /v1/audio/transcriptions (§6): a
// Whisper-compatible envelope, relayed the same way as imageGenerations.
func (h *Handler) audioTranscriptions(c *gin.Context) {
	h.relayIdentity(c, "whisper-1")
}

func (h *Handler) relayIdentity(c *gin.Context, defaultModel string) {
	body, err := c.GetRawData()
	if err != nil {
		writeError(c, dispatchBadRequest("read request body"))
		return
	}
	modelName := gjson.GetBytes(body, "model").String()
	if modelName == "" {
		modelName = defaultModel
	}
	_, upstreamURL := h.resolveUpstream(modelName)

	deps := h.dispatchDeps(upstreamURL)
	mapper := dispatch.Mapper{
		ToGemini:         func(f model.ModelFamily, raw []byte) ([]byte, error) { return raw, nil },
		FromGeminiResult: func(modelName string, raw []byte) ([]byte, error) { return raw, nil },
	}
	result, err := dispatch.Run(c.Request.Context(), deps, mapper, dispatch.Request{
		ModelName:   modelName,
		ModelFamily: model.FamilyOpenAI,
		Body:        body,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	logging.SetGinDispatchOutcome(c, result.AccountID, result.RetryCount)
	h.capture(c, result.AccountID, modelName, body, result.Body)
	c.Data(http.StatusOK, "application/json", result.Body)
}
