package middleware

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/basepoll/backend/internal/auth"
	"github.com/basepoll/backend/pkg/response"
)

// ContextWallet is the key for the signed-in wallet address (common.Address) in gin context.
const ContextWallet = "wallet"

// RequireWallet returns a middleware that rejects requests without a valid wallet JWT.
func RequireWallet(jwtService *auth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Unauthorized(c, "missing authorization header")
			c.Abort()
			return
		}
		claims, ok := parseBearer(jwtService, header)
		if !ok {
			response.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}
		c.Set(ContextWallet, claims.Wallet())
		c.Next()
	}
}

// OptionalWallet sets the wallet address when a valid token is present and never rejects the request.
func OptionalWallet(jwtService *auth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if header := c.GetHeader("Authorization"); header != "" {
			if claims, ok := parseBearer(jwtService, header); ok {
				c.Set(ContextWallet, claims.Wallet())
			}
		}
		c.Next()
	}
}

// Wallet returns the signed-in wallet, if any.
func Wallet(c *gin.Context) (common.Address, bool) {
	v, ok := c.Get(ContextWallet)
	if !ok {
		return common.Address{}, false
	}
	addr, ok := v.(common.Address)
	return addr, ok
}

func parseBearer(jwtService *auth.JWTService, header string) (*auth.Claims, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return nil, false
	}
	claims, err := jwtService.Validate(parts[1])
	if err != nil {
		return nil, false
	}
	return claims, true
}
