// Package auth checks API keys on the admin surface.
package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/maypok86/otter/v2"
	"golang.org/x/crypto/bcrypt"

	"deltatv-proxy/work/config"
	"deltatv-proxy/work/logger"
	"deltatv-proxy/work/types"
)

// Roles, highest first
const (
	RoleAdmin  = "admin"
	RoleVIP    = "vip"
	RoleMember = "member"
)

var roleRank = map[string]int{
	RoleMember: 1,
	RoleVIP:    2,
	RoleAdmin:  3,
}

// Principal is an authenticated caller
type Principal struct {
	Name string
	Role string
}

// Allows reports whether p's role is at least role
func (p Principal) Allows(role string) bool {
	return roleRank[strings.ToLower(p.Role)] >= roleRank[strings.ToLower(role)] && roleRank[strings.ToLower(role)] > 0
}

// Authenticator verifies keys against the configured bcrypt hashes. Keys that
// verified recently are remembered by their sha256 so bcrypt runs once per key
// and TTL window.
type Authenticator struct {
	keys     []config.AdminKey
	verified *otter.Cache[string, Principal]
}

// New builds an Authenticator. An empty key list rejects every request.
func New(keys []config.AdminKey) *Authenticator {
	return &Authenticator{
		keys: keys,
		verified: otter.Must(&otter.Options[string, Principal]{
			MaximumSize:      1024,
			ExpiryCalculator: otter.ExpiryWriting[string, Principal](5 * time.Minute),
		}),
	}
}

// HashKey returns the bcrypt hash to put in the config for key
func HashKey(key string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash key: %w", err)
	}
	return string(h), nil
}

// KeyFromRequest reads "Authorization: Bearer <key>" or X-API-Key
func KeyFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if scheme, value, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(value)
		}
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

// Authenticate returns the principal owning the request's key
func (a *Authenticator) Authenticate(r *http.Request) (Principal, error) {
	key := KeyFromRequest(r)
	if key == "" {
		return Principal{}, fmt.Errorf("%w: missing api key", types.ErrUnauthorized)
	}

	sum := sha256.Sum256([]byte(key))
	fingerprint := hex.EncodeToString(sum[:])
	if p, ok := a.verified.GetIfPresent(fingerprint); ok {
		return p, nil
	}

	for _, k := range a.keys {
		if bcrypt.CompareHashAndPassword([]byte(k.Hash), []byte(key)) == nil {
			p := Principal{Name: k.Name, Role: k.Role}
			a.verified.Set(fingerprint, p)
			return p, nil
		}
	}
	return Principal{}, fmt.Errorf("%w: unknown api key", types.ErrUnauthorized)
}

// Require wraps next so it only runs for callers with at least role.
// Failures are written through onError so they share the JSON error shape.
func (a *Authenticator) Require(role string, onError func(http.ResponseWriter, *http.Request, error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := a.Authenticate(r)
			if err != nil {
				logger.Debug("{auth/auth - Require} rejected %s %s: %v", r.Method, r.URL.Path, err)
				onError(w, r, err)
				return
			}
			if !p.Allows(role) {
				logger.Warn("{auth/auth - Require} %s (%s) is not allowed on %s", p.Name, p.Role, r.URL.Path)
				onError(w, r, fmt.Errorf("%w: %s role required", types.ErrForbidden, role))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
