package logging

import (
	"errors"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

var apiPrefixes = []string{
	"/v1/chat/completions",
	"/v1/messages",
	"/v1beta/models/",
	"/v1/images/generations",
	"/v1/audio/transcriptions",
}

const skipLogKey = "__skip_request_logging__"

// RequestLogger logs every HTTP request once it completes, attaching a
// request id for the gateway's own API surface only (§6); operator and
// health endpoints log without one. When sink is non-nil, the same fields
// are additionally enqueued for durable persistence (§4.11); a nil sink
// (request_log disabled in config) skips that without changing the log line.
func RequestLogger(sink *Sink) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		var requestID string
		if isAPIPath(path) {
			requestID = GenerateRequestID()
			SetGinRequestID(c, requestID)
			c.Request = c.Request.WithContext(WithRequestID(c.Request.Context(), requestID))
		}

		c.Next()

		if skipped(c) {
			return
		}

		if raw := c.Request.URL.RawQuery; raw != "" {
			path = path + "?" + raw
		}

		latency := time.Since(start).Truncate(time.Millisecond)
		status := c.Writer.Status()
		errMsg := c.Errors.ByType(gin.ErrorTypePrivate).String()

		if requestID == "" {
			requestID = "--------"
		}
		logLine := path + " " + c.Request.Method + " " + latency.String()
		if errMsg != "" {
			logLine += " | " + errMsg
		}

		fields := log.Fields{"request_id": requestID}
		if accountID := getGinAccountID(c); accountID != "" {
			fields["account_id"] = accountID
		}
		if retries, ok := getGinRetryCount(c); ok {
			fields["retry_count"] = retries
		}
		if kind := getGinErrorKind(c); kind != "" {
			fields["error_kind"] = kind
		}

		entry := log.WithFields(fields)
		switch {
		case status >= http.StatusInternalServerError:
			entry.Error(logLine)
		case status >= http.StatusBadRequest:
			entry.Warn(logLine)
		default:
			entry.Info(logLine)
		}

		if sink != nil {
			accountID, _ := fields["account_id"].(string)
			retries, _ := fields["retry_count"].(int)
			kind, _ := fields["error_kind"].(string)
			sink.Enqueue(Entry{
				Time:       start,
				RequestID:  requestID,
				Method:     c.Request.Method,
				Path:       path,
				Status:     status,
				AccountID:  accountID,
				LatencyMS:  latency.Milliseconds(),
				RetryCount: retries,
				ErrorKind:  kind,
			})
		}
	}
}

func isAPIPath(path string) bool {
	for _, p := range apiPrefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// SkipRequestLogging marks a context so RequestLogger emits no line for it,
// used by the health-check poller to avoid log spam.
func SkipRequestLogging(c *gin.Context) {
	if c != nil {
		c.Set(skipLogKey, true)
	}
}

func skipped(c *gin.Context) bool {
	v, ok := c.Get(skipLogKey)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// Recovery recovers panics in handlers, logging the stack trace and
// returning 500 rather than crashing the process.
func Recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		if err, ok := recovered.(error); ok && errors.Is(err, http.ErrAbortHandler) {
			panic(http.ErrAbortHandler)
		}
		log.WithFields(log.Fields{
			"panic": recovered,
			"stack": string(debug.Stack()),
			"path":  c.Request.URL.Path,
		}).Error("recovered from panic")
		c.AbortWithStatus(http.StatusInternalServerError)
	})
}
