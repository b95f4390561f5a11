package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"

	"github.com/kestrel-proxy/relaygate/internal/dispatch"
	"github.com/kestrel-proxy/relaygate/internal/errs"
	"github.com/kestrel-proxy/relaygate/internal/logging"
	"github.com/kestrel-proxy/relaygate/internal/model"
)

// chatCompletions implements POST /v1/chat/completions (§6): OpenAI-shaped
// chat, streaming when the body's "stream" field is true.
func (h *Handler) chatCompletions(c *gin.Context) {
	h.handleProtocolRoute(c, model.FamilyOpenAI)
}

// messages implements POST /v1/messages (§6): Claude-shaped messages,
// streaming when "stream" is true.
func (h *Handler) messages(c *gin.Context) {
	h.handleProtocolRoute(c, model.FamilyClaude)
}

// handleProtocolRoute is shared by the OpenAI and Claude routes: both carry
// their model name and stream flag in the request body rather than the URL
// (unlike the Gemini route, which encodes both in the path).
func (h *Handler) handleProtocolRoute(c *gin.Context, defaultFamily model.ModelFamily) {
	body, err := c.GetRawData()
	if err != nil {
		writeError(c, dispatchBadRequest("read request body"))
		return
	}

	modelName := gjson.GetBytes(body, "model").String()
	family, upstreamURL := h.resolveUpstream(modelName)
	if family == model.FamilyUnknown {
		family = defaultFamily
	}
	streaming := gjson.GetBytes(body, "stream").Bool()

	req := dispatch.Request{
		ModelName:   modelName,
		ModelFamily: family,
		Body:        body,
		SessionID:   c.GetHeader("x-session-id"),
		OperatorPin: c.GetHeader("x-operator-pin"),
	}
	deps := h.dispatchDeps(upstreamURL)

	if !streaming {
		result, err := dispatch.Run(c.Request.Context(), deps, h.mapperFor(family), req)
		if err != nil {
			writeError(c, err)
			return
		}
		logging.SetGinDispatchOutcome(c, result.AccountID, result.RetryCount)
		h.capture(c, result.AccountID, modelName, body, result.Body)
		c.Data(http.StatusOK, "application/json", result.Body)
		return
	}

	h.streamRoute(c, deps, family, req)
}

// capture records the exchange in the Monitor (GET /api/requests surfaces
// recent request/response captures on demand).
func (h *Handler) capture(c *gin.Context, accountID, modelName string, reqBody, respTail []byte) {
	if h.Monitor == nil {
		return
	}
	h.Monitor.Record(logging.Capture{
		RequestID:    logging.GetGinRequestID(c),
		Account:      accountID,
		Model:        modelName,
		RequestBody:  reqBody,
		ResponseTail: respTail,
	})
}

// streamRoute runs the streaming retry loop and relays frames as SSE,
// grounded on the teacher's forwardGeminiStream (write "data: "+chunk+"\n\n",
// flush per chunk).
func (h *Handler) streamRoute(c *gin.Context, deps dispatch.Deps, family model.ModelFamily, req dispatch.Request) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		writeError(c, dispatchInternal("streaming not supported"))
		return
	}

	headersSent := false
	var lastData []byte
	emit := func(chunk dispatch.Chunk) error {
		if !headersSent {
			c.Header("Content-Type", "text/event-stream")
			c.Header("Cache-Control", "no-cache")
			c.Header("Connection", "keep-alive")
			c.Writer.WriteHeader(http.StatusOK)
			headersSent = true
		}
		if chunk.Event != "" {
			c.Writer.Write([]byte("event: " + chunk.Event + "\n"))
		}
		c.Writer.Write([]byte("data: "))
		c.Writer.Write(chunk.Data)
		c.Writer.Write([]byte("\n\n"))
		flusher.Flush()
		lastData = chunk.Data
		return nil
	}

	streamResult, err := dispatch.RunStreaming(c.Request.Context(), deps, h.streamMapperFor(family), req, peekBoundFor(family), emit)
	logging.SetGinDispatchOutcome(c, streamResult.AccountID, streamResult.RetryCount)
	if headersSent {
		h.capture(c, streamResult.AccountID, req.ModelName, req.Body, lastData)
	}
	if err != nil {
		if !headersSent {
			writeError(c, err)
			return
		}
		// Bytes already reached the client (§4.10): surface the failure as
		// a terminal comment frame rather than an HTTP error status, which
		// can no longer be changed once headers are written.
		logging.SetGinErrorKind(c, string(errs.KindOf(err)))
		c.Writer.Write([]byte(": error " + err.Error() + "\n\n"))
		flusher.Flush()
	}
}
