package logging

import "github.com/gin-gonic/gin"

// Keys RequestLogger reads back after c.Next() returns, set by handlers as
// dispatch results become known (§4.11: every request log line carries the
// upstream account id, retry count, and error kind alongside the fields gin
// already tracks).
const (
	ginAccountIDKey  = "__dispatch_account_id__"
	ginRetryCountKey = "__dispatch_retry_count__"
	ginErrorKindKey  = "__dispatch_error_kind__"
)

// SetGinDispatchOutcome records the account a request was ultimately served
// by (or last attempted) and how many retries the dispatch loop spent.
func SetGinDispatchOutcome(c *gin.Context, accountID string, retryCount int) {
	if c == nil {
		return
	}
	if accountID != "" {
		c.Set(ginAccountIDKey, accountID)
	}
	c.Set(ginRetryCountKey, retryCount)
}

// SetGinErrorKind records the classified error kind (internal/errs.Kind) a
// request failed with, for the terminal log line.
func SetGinErrorKind(c *gin.Context, kind string) {
	if c != nil {
		c.Set(ginErrorKindKey, kind)
	}
}

func getGinAccountID(c *gin.Context) string {
	v, ok := c.Get(ginAccountIDKey)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

func getGinRetryCount(c *gin.Context) (int, bool) {
	v, ok := c.Get(ginRetryCountKey)
	if !ok {
		return 0, false
	}
	n, ok := v.(int)
	return n, ok
}

func getGinErrorKind(c *gin.Context) string {
	v, ok := c.Get(ginErrorKindKey)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}
