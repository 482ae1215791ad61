// Package auth issues and checks the credentials of export API callers:
// short-lived user JWTs that carry export scopes, and long-lived service
// keys for automation that schedules exports.
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// Audience is the aud claim every export API token must carry.
const Audience = "exporter-api"

// Scope is a permission on export jobs.
type Scope string

const (
	// ScopeRead covers polling, listing, watching and downloading jobs.
	ScopeRead Scope = "exports:read"
	// ScopeWrite covers creating and cancelling jobs.
	ScopeWrite Scope = "exports:write"
)

// AllScopes is what service keys are granted.
var AllScopes = []Scope{ScopeRead, ScopeWrite}

// ParseScopes turns "exports:read,exports:write" into scopes.
func ParseScopes(s string) ([]Scope, error) {
	var out []Scope
	for _, part := range strings.Split(s, ",") {
		sc := Scope(strings.TrimSpace(part))
		if sc == "" {
			continue
		}
		if !slices.Contains(AllScopes, sc) {
			return nil, fmt.Errorf("auth: unknown scope %q", sc)
		}
		out = append(out, sc)
	}
	return out, nil
}

// Principal is whoever owns the jobs a request touches.
type Principal struct {
	UserID string
	Scopes []Scope
}

// Can reports whether p holds scope.
func (p Principal) Can(scope Scope) bool {
	return slices.Contains(p.Scopes, scope)
}

// ── Service keys ─────────────────────────────────────────────────────────────

const (
	serviceKeyTag    = "gx_"
	serviceKeyBytes  = 32
	serviceKeyPrefix = 8 // base64url chars kept in config as the lookup key
	serviceKeyCost   = 12
)

// ServiceKey is a freshly minted key. Plaintext is shown to the operator
// once; Prefix and Hash go into jwt.service_keys.
type ServiceKey struct {
	Plaintext string
	Prefix    string
	Hash      string
}

// NewServiceKey mints a random service key.
func NewServiceKey() (ServiceKey, error) {
	raw := make([]byte, serviceKeyBytes)
	if _, err := rand.Read(raw); err != nil {
		return ServiceKey{}, fmt.Errorf("auth: rand: %w", err)
	}
	body := base64.RawURLEncoding.EncodeToString(raw)
	key := ServiceKey{Plaintext: serviceKeyTag + body, Prefix: body[:serviceKeyPrefix]}
	hash, err := bcrypt.GenerateFromPassword([]byte(key.Plaintext), serviceKeyCost)
	if err != nil {
		return ServiceKey{}, fmt.Errorf("auth: bcrypt: %w", err)
	}
	key.Hash = string(hash)
	return key, nil
}

// SplitServiceKey returns the lookup prefix of a bearer credential. ok is
// false when the credential is not shaped like a service key at all.
func SplitServiceKey(credential string) (prefix string, ok bool, err error) {
	body, ok := strings.CutPrefix(credential, serviceKeyTag)
	if !ok {
		return "", false, nil
	}
	if len(body) < serviceKeyPrefix {
		return "", true, errors.New("auth: service key too short")
	}
	return body[:serviceKeyPrefix], true, nil
}

// CheckServiceKey compares a plaintext key against its configured hash and
// returns the principal it acts as.
func CheckServiceKey(plaintext, prefix, hash string) (Principal, bool) {
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) != nil {
		return Principal{}, false
	}
	return Principal{UserID: "service:" + prefix, Scopes: AllScopes}, true
}

// ── JWT ──────────────────────────────────────────────────────────────────────

// Claims is the JWT payload. UserID owns the export jobs created with the token.
type Claims struct {
	UserID string  `json:"uid"`
	Scopes []Scope `json:"scp"`
	jwt.RegisteredClaims
}

// IssueJWT signs a token for userID holding scopes.
func IssueJWT(secret, userID string, ttl time.Duration, scopes ...Scope) (string, error) {
	if userID == "" {
		return "", errors.New("auth: empty user id")
	}
	if len(scopes) == 0 {
		return "", errors.New("auth: token needs at least one scope")
	}
	now := time.Now()
	claims := Claims{
		UserID: userID,
		Scopes: scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Audience:  jwt.ClaimStrings{Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// VerifyJWT checks signature, expiry and audience and returns the principal.
func VerifyJWT(secret, token string) (Principal, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (any, error) { return []byte(secret), nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(Audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return Principal{}, fmt.Errorf("auth: jwt verify: %w", err)
	}
	if claims.UserID == "" {
		return Principal{}, errors.New("auth: token carries no user id")
	}
	return Principal{UserID: claims.UserID, Scopes: claims.Scopes}, nil
}
