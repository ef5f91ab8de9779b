package auth

import (
	"strconv"

	"github.com/golang-jwt/jwt/v5"
)

// UserIDFromToken reads the user id from the JWT payload without verifying
// the signature; the backend does that. It prefers the userId claim and
// falls back to sub. Malformed tokens yield "".
func UserIDFromToken(token string) string {
	if token == "" {
		return ""
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return ""
	}

	if id := claimString(claims["userId"]); id != "" {
		return id
	}
	return claimString(claims["sub"])
}

func claimString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	}
	return ""
}
