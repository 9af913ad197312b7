package egauge

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultRenewalBuffer is the expiry offset applied when none is configured.
const DefaultRenewalBuffer = 60 * time.Second

// tokenExpired reports whether the bearer token should be replaced before the
// next request. The device is the signature authority, so claims are decoded
// without verification. A token that fails to decode, or that carries no
// expiry claim, is always treated as expired.
func tokenExpired(token string, offset time.Duration, now time.Time) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return true
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return true
	}

	return now.After(exp.Time.Add(offset))
}
