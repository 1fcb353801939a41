package session

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/schoolhub/schoolhub/internal/core"
)

// Claims are the parts of the bearer token the client routes on.
type Claims struct {
	UserID   string
	BranchID string
	Role     string
}

// ParseClaims reads claims without verifying the signature; the server
// verifies on every request.
func ParseClaims(token string) (Claims, error) {
	mc := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, mc); err != nil {
		return Claims{}, fmt.Errorf("%w: token: %v", core.ErrInvalidInput, err)
	}

	c := Claims{
		UserID:   stringClaim(mc, "sub"),
		BranchID: stringClaim(mc, "branch_id"),
		Role:     stringClaim(mc, "role"),
	}
	if c.UserID == "" {
		c.UserID = stringClaim(mc, "user_id")
	}
	if c.UserID == "" {
		return Claims{}, fmt.Errorf("%w: token has no subject", core.ErrInvalidInput)
	}
	return c, nil
}

func stringClaim(mc jwt.MapClaims, key string) string {
	switch v := mc[key].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	default:
		return ""
	}
}
