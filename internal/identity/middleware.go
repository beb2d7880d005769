package identity

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const ctxProducerClaims = "windchill_producer_claims"

// RequireScope returns a Gin middleware that enforces a valid Bearer
// producer token carrying scope.
//
// On success it injects the *ProducerClaims into the context.
func RequireScope(tokens *TokenIssuer, scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Bearer token required",
			})
			return
		}

		tokenStr := strings.TrimPrefix(authHeader, "Bearer ")
		claims, err := tokens.Verify(tokenStr)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid token: " + err.Error(),
			})
			return
		}
		if !claims.HasScope(scope) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "token lacks scope " + scope,
			})
			return
		}

		c.Set(ctxProducerClaims, claims)
		c.Next()
	}
}

// ClaimsFromCtx retrieves the producer claims injected by RequireScope.
func ClaimsFromCtx(c *gin.Context) *ProducerClaims {
	v, _ := c.Get(ctxProducerClaims)
	claims, _ := v.(*ProducerClaims)
	return claims
}
