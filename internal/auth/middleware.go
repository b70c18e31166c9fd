package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GinAuth returns a Gin middleware that rejects requests without a valid
// token. With no tokens configured every request passes.
func (t *Tokens) GinAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !t.Enabled() {
			c.Next()
			return
		}
		if err := t.Check(FromRequest(c.Request)); err != nil {
			c.Header("WWW-Authenticate", `Bearer realm="logship"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "authentication_failed",
				"message": err.Error(),
			})
			return
		}
		c.Next()
	}
}

// HTTPAuth is the net/http form of GinAuth.
func (t *Tokens) HTTPAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !t.Enabled() {
			next.ServeHTTP(w, r)
			return
		}
		if err := t.Check(FromRequest(r)); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("WWW-Authenticate", `Bearer realm="logship"`)
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"authentication_failed","message":"` + err.Error() + `"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}
