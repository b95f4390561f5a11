package logging

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// APIKeyAuth rejects requests whose bearer token does not match one of the
// configured keys. Comparison is constant-time: the keys gate access to
// paid upstream accounts, so a timing side-channel on key comparison is a
// real leak, not a theoretical one. No pack library addresses that (it is a
// two-line use of crypto/subtle, not a concern worth a dependency).
func APIKeyAuth(keys []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(keys) == 0 {
			c.Next()
			return
		}
		presented := extractKey(c.Request)
		for _, k := range keys {
			if subtle.ConstantTimeCompare([]byte(presented), []byte(k)) == 1 && len(presented) > 0 {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": gin.H{"type": "authentication_error", "message": "invalid API key"}})
	}
}

func extractKey(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	if k := r.Header.Get("x-api-key"); k != "" {
		return k
	}
	return r.URL.Query().Get("key")
}
