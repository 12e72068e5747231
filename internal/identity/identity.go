package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v4"
)

// Placeholder is the identity used when a request carries no usable metadata
// at all. Collapsing such requests into one bucket trades session isolation
// for availability.
const Placeholder = "anonymous"

// Deriver maps inbound requests to stable, opaque session identities.
//
// With a JWT secret configured, a verified bearer token's subject wins.
// Otherwise the identity is a hash of source address + User-Agent, which is a
// heuristic: clients behind the same NAT with the same agent string share a
// session. Derivation never fails.
type Deriver struct {
	jwtSecret []byte
}

// New creates a deriver. An empty jwtSecret disables bearer-token identities.
func New(jwtSecret string) *Deriver {
	d := &Deriver{}
	if jwtSecret != "" {
		d.jwtSecret = []byte(jwtSecret)
	}
	return d
}

// FromRequest derives the session identity for r.
func (d *Deriver) FromRequest(r *http.Request) string {
	if sub := d.subjectFromBearer(r); sub != "" {
		return opaque("sub", sub)
	}

	addr := r.RemoteAddr
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	agent := r.UserAgent()
	if addr == "" && agent == "" {
		return Placeholder
	}
	return opaque(addr, agent)
}

// subjectFromBearer returns the subject of a verified HS256 bearer token, or
// empty when disabled, absent, or invalid. Invalid tokens fall through to the
// address heuristic rather than failing the request.
func (d *Deriver) subjectFromBearer(r *http.Request) string {
	if len(d.jwtSecret) == 0 {
		return ""
	}

	const prefix = "Bearer "
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, prefix) {
		return ""
	}

	claims := &jwt.RegisteredClaims{}
	tok, err := jwt.ParseWithClaims(strings.TrimPrefix(auth, prefix), claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return d.jwtSecret, nil
	})
	if err != nil || !tok.Valid {
		return ""
	}
	return claims.Subject
}

// opaque hashes the identity parts into a fixed-length token so raw addresses
// and agent strings never leak into logs or responses.
func opaque(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])[:16]
}
