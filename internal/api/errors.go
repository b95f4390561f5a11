package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kestrel-proxy/relaygate/internal/errs"
	"github.com/kestrel-proxy/relaygate/internal/logging"
)

// ErrorResponse is the OpenAI-compatible error envelope every inbound route
// uses, Claude's and Gemini's native error shapes included — the three
// protocol families converge on this one on the way out, same as the
// teacher's handlers.ErrorResponse (sdk/api/handlers/handlers.go).
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// writeError maps a classified dispatch error onto an HTTP status and the
// shared envelope, and records the error kind for the terminal request log
// line (§4.11).
func writeError(c *gin.Context, err error) {
	kind := errs.KindOf(err)
	status := http.StatusInternalServerError
	if e, ok := err.(*errs.Error); ok {
		status = e.HTTPStatus
	}
	logging.SetGinErrorKind(c, string(kind))
	c.JSON(status, ErrorResponse{Error: ErrorDetail{Message: err.Error(), Type: string(kind)}})
}
