package auth_test

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/godata/exporter/internal/auth"
)

const secret = "auth-test-secret-that-is-long-enough"

// ── Scopes ───────────────────────────────────────────────────────────────────

func TestParseScopes(t *testing.T) {
	got, err := auth.ParseScopes(" exports:read , exports:write,")
	require.NoError(t, err)
	assert.Equal(t, []auth.Scope{auth.ScopeRead, auth.ScopeWrite}, got)

	_, err = auth.ParseScopes("exports:read,exports:delete")
	require.ErrorContains(t, err, "exports:delete")
}

func TestPrincipal_Can(t *testing.T) {
	p := auth.Principal{UserID: "u1", Scopes: []auth.Scope{auth.ScopeRead}}
	assert.True(t, p.Can(auth.ScopeRead))
	assert.False(t, p.Can(auth.ScopeWrite))
}

// ── Service keys ─────────────────────────────────────────────────────────────

func TestNewServiceKey_ShapeAndPrefix(t *testing.T) {
	key, err := auth.NewServiceKey()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(key.Plaintext, "gx_"))
	assert.Len(t, key.Prefix, 8)
	assert.NotEmpty(t, key.Hash)

	prefix, isKey, err := auth.SplitServiceKey(key.Plaintext)
	require.NoError(t, err)
	assert.True(t, isKey)
	assert.Equal(t, key.Prefix, prefix)
}

func TestCheckServiceKey_GrantsAllScopesToServicePrincipal(t *testing.T) {
	key, err := auth.NewServiceKey()
	require.NoError(t, err)

	p, ok := auth.CheckServiceKey(key.Plaintext, key.Prefix, key.Hash)
	require.True(t, ok)
	assert.Equal(t, "service:"+key.Prefix, p.UserID)
	assert.True(t, p.Can(auth.ScopeWrite))

	_, ok = auth.CheckServiceKey("gx_wrongkey", key.Prefix, key.Hash)
	assert.False(t, ok)
}

func TestSplitServiceKey_NotAKeyOrTooShort(t *testing.T) {
	_, isKey, err := auth.SplitServiceKey("eyJhbGciOiJIUzI1NiJ9.x.y")
	assert.False(t, isKey)
	assert.NoError(t, err)

	_, isKey, err = auth.SplitServiceKey("gx_short")
	assert.True(t, isKey)
	assert.Error(t, err)
}

// ── JWT ──────────────────────────────────────────────────────────────────────

func TestJWT_IssueAndVerifyCarriesScopes(t *testing.T) {
	token, err := auth.IssueJWT(secret, "user-42", time.Hour, auth.ScopeRead)
	require.NoError(t, err)

	p, err := auth.VerifyJWT(secret, token)
	require.NoError(t, err)
	assert.Equal(t, "user-42", p.UserID)
	assert.Equal(t, []auth.Scope{auth.ScopeRead}, p.Scopes)
}

func TestIssueJWT_RequiresUserAndScope(t *testing.T) {
	_, err := auth.IssueJWT(secret, "", time.Hour, auth.ScopeRead)
	require.Error(t, err)
	_, err = auth.IssueJWT(secret, "u1", time.Hour)
	require.ErrorContains(t, err, "scope")
}

func TestVerifyJWT_Rejects(t *testing.T) {
	valid, err := auth.IssueJWT(secret, "u1", time.Hour, auth.ScopeRead)
	require.NoError(t, err)
	expired, err := auth.IssueJWT(secret, "u1", -time.Second, auth.ScopeRead)
	require.NoError(t, err)
	otherAudience, err := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{
		UserID: "u1",
		RegisteredClaims: jwt.RegisteredClaims{
			Audience:  jwt.ClaimStrings{"someone-else"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte(secret))
	require.NoError(t, err)
	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{
		UserID:           "u1",
		RegisteredClaims: jwt.RegisteredClaims{Audience: jwt.ClaimStrings{auth.Audience}},
	}).SignedString([]byte(secret))
	require.NoError(t, err)
	wrongAlg, err := jwt.NewWithClaims(jwt.SigningMethodHS512, auth.Claims{
		UserID: "u1",
		RegisteredClaims: jwt.RegisteredClaims{
			Audience:  jwt.ClaimStrings{auth.Audience},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte(secret))
	require.NoError(t, err)

	cases := map[string]struct{ secret, token string }{
		"wrong secret":   {"another-secret-that-is-long-enough!!", valid},
		"expired":        {secret, expired},
		"tampered":       {secret, valid + "x"},
		"other audience": {secret, otherAudience},
		"no expiry":      {secret, noExpiry},
		"wrong alg":      {secret, wrongAlg},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := auth.VerifyJWT(tc.secret, tc.token)
			require.Error(t, err)
		})
	}
}
