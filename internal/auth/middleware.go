package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const ctxClaims = "kestrel_claims"

// RequireToken returns a Gin middleware that enforces a valid Bearer token.
//
// On success it injects the *Claims into the context under the
// "kestrel_claims" key.
func RequireToken(tokens *TokenIssuer) gin.HandlerFunc {
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

		c.Set(ctxClaims, claims)
		c.Next()
	}
}

// RequireOperator returns a Gin middleware that enforces a valid operator
// Bearer token. Use this on routes that act on arbitrary accounts.
func RequireOperator(tokens *TokenIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "operator Bearer token required",
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

		if !claims.IsOperator() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "operator role required",
			})
			return
		}

		c.Set(ctxClaims, claims)
		c.Next()
	}
}

// ClaimsFromCtx retrieves the claims injected by RequireToken.
// Returns nil if no token is present in the context.
func ClaimsFromCtx(c *gin.Context) *Claims {
	v, _ := c.Get(ctxClaims)
	claims, _ := v.(*Claims)
	return claims
}

// CanAccess reports whether the claims may act on the given user's account.
// Operators may act on any account; everyone else only on their own.
func CanAccess(claims *Claims, userID string) bool {
	if claims == nil {
		return false
	}
	return claims.IsOperator() || claims.UserID == userID
}
