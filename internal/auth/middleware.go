package auth

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/gopikiran22001/ReWear/internal/apperr"
)

// Resolver confirms that a token's subject still exists and returns its
// current principal.
type Resolver interface {
	Principal(ctx context.Context, userID string) (Principal, error)
}

// ErrorWriter renders a failure; handlers supply their own so the JSON
// error shape stays in one place.
type ErrorWriter func(c *gin.Context, err error)

// Require rejects requests without a valid session and stores the resolved
// principal for downstream handlers.
func Require(issuer *Issuer, resolver Resolver, writeErr ErrorWriter) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := issuer.Parse(TokenFrom(c))
		if err != nil {
			writeErr(c, err)
			c.Abort()
			return
		}
		if resolver != nil {
			resolved, err := resolver.Principal(c.Request.Context(), p.UserID)
			if err != nil {
				if apperr.Is(err, apperr.KindNotFound) {
					err = apperr.Unauthenticated("user not found, invalid token")
				}
				writeErr(c, err)
				c.Abort()
				return
			}
			p = resolved
		}
		Set(c, p)
		c.Next()
	}
}
