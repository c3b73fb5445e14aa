package edge

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/voicebridge/voicebridge/pkg/logging"
)

// CORSMiddleware allows any origin to call the conversation API.
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Stream-Mode")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// RequestLoggerMiddleware routes gin's access log through the shared zap
// logger instead of gin's default writer.
func RequestLoggerMiddleware(logger *logging.Logger) gin.HandlerFunc {
	return gin.LoggerWithFormatter(func(p gin.LogFormatterParams) string {
		if logger != nil {
			logger.Infof("[%s] %s %s %d %s", p.TimeStamp.Format("2006-01-02T15:04:05"), p.Method, p.Path, p.StatusCode, p.Latency)
		}
		return ""
	})
}

// ErrorHandlerMiddleware recovers panics, logging and returning a generic
// 500 instead of crashing the process.
func ErrorHandlerMiddleware(logger *logging.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		if logger != nil {
			logger.Errorf("edge: panic recovered: %v", recovered)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	})
}

// AuthMiddleware is a thin bearer-token verifier: authentication itself
// stays an external collaborator, so this only checks the JWT's HS256
// signature against secret and never resolves a user identity or role.
func AuthMiddleware(secret string, logger *logging.Logger) gin.HandlerFunc {
	key := []byte(secret)
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization header required"})
			c.Abort()
			return
		}

		tokenString := strings.TrimPrefix(header, "Bearer ")
		if tokenString == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "token required"})
			c.Abort()
			return
		}

		_, err := jwt.Parse(tokenString, func(*jwt.Token) (any, error) {
			return key, nil
		}, jwt.WithValidMethods([]string{"HS256"}))
		if err != nil {
			if logger != nil {
				logger.Debugf("edge: token validation failed: %v", err)
			}
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			c.Abort()
			return
		}

		c.Next()
	}
}
