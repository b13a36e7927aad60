package token

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Info is what can be read off a bearer token without verifying it. The
// ingest service is the authority on validity; this exists only to warn
// the user before a run starts with a token that cannot work.
type Info struct {
	IsJWT     bool
	Subject   string
	ExpiresAt time.Time
}

// Inspect parses tok without signature verification. Opaque (non-JWT)
// tokens yield Info{IsJWT: false} and no error.
func Inspect(tok string) Info {
	tok = strings.TrimSpace(tok)
	if strings.Count(tok, ".") != 2 {
		return Info{}
	}

	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(tok, claims); err != nil {
		return Info{}
	}

	info := Info{IsJWT: true}
	if sub, err := claims.GetSubject(); err == nil {
		info.Subject = sub
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		info.ExpiresAt = exp.Time
	}
	return info
}

// Expired reports whether the token carries an expiry in the past.
func (i Info) Expired(now time.Time) bool {
	return i.IsJWT && !i.ExpiresAt.IsZero() && i.ExpiresAt.Before(now)
}

// ExpiresSoon reports whether the token expires within d of now.
func (i Info) ExpiresSoon(now time.Time, d time.Duration) bool {
	return i.IsJWT && !i.ExpiresAt.IsZero() && i.ExpiresAt.Before(now.Add(d)) && !i.Expired(now)
}
