package stub

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const ctxDoctorUUID = "doctorUUID"

// authMiddleware enforces bearer-token authentication and rejects revoked
// tokens. The doctor identity is placed in the gin context for handlers.
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abortError(c, http.StatusUnauthorized, "Authorization header required")
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			abortError(c, http.StatusUnauthorized, "Invalid authorization header format")
			return
		}

		tokenString := parts[1]
		if s.isRevoked(tokenString) {
			abortError(c, http.StatusUnauthorized, "Token has been revoked")
			return
		}
		claims, err := ValidateToken(tokenString, s.cfg.JWTSecret)
		if err != nil {
			abortError(c, http.StatusUnauthorized, "Invalid token: "+err.Error())
			return
		}

		c.Set(ctxDoctorUUID, claims.DoctorUUID)
		c.Next()
	}
}

// doctorUUID returns the authenticated doctor's identifier from the context.
func doctorUUID(c *gin.Context) string {
	v, _ := c.Get(ctxDoctorUUID)
	uuid, _ := v.(string)
	return uuid
}

func abortError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"error": message})
}
