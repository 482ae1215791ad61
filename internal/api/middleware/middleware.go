package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/godata/exporter/internal/auth"
)

const (
	ContextKeyUserID    = "user_id"
	contextKeyPrincipal = "principal"
)

// ServiceKeys maps a service key lookup prefix to its bcrypt hash.
type ServiceKeys map[string]string

// Auth accepts either a signed JWT or a configured service key as bearer
// credential and stores the requesting principal in the context.
func Auth(secret string, keys ServiceKeys) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			credential, err := bearer(c)
			if err != nil {
				return err
			}
			p, err := authenticate(secret, keys, credential)
			if err != nil {
				return err
			}
			c.Set(ContextKeyUserID, p.UserID)
			c.Set(contextKeyPrincipal, p)
			return next(c)
		}
	}
}

func authenticate(secret string, keys ServiceKeys, credential string) (auth.Principal, error) {
	prefix, isKey, err := auth.SplitServiceKey(credential)
	if !isKey {
		p, err := auth.VerifyJWT(secret, credential)
		if err != nil {
			return auth.Principal{}, echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
		}
		return p, nil
	}
	if err != nil {
		return auth.Principal{}, echo.NewHTTPError(http.StatusUnauthorized, "invalid service key format")
	}
	hash, ok := keys[prefix]
	if !ok {
		return auth.Principal{}, echo.NewHTTPError(http.StatusUnauthorized, "invalid service key")
	}
	p, ok := auth.CheckServiceKey(credential, prefix, hash)
	if !ok {
		return auth.Principal{}, echo.NewHTTPError(http.StatusUnauthorized, "invalid service key")
	}
	return p, nil
}

// RequireScope rejects principals without scope. Mount it after Auth.
func RequireScope(scope auth.Scope) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p, _ := c.Get(contextKeyPrincipal).(auth.Principal)
			if !p.Can(scope) {
				return echo.NewHTTPError(http.StatusForbidden, "missing scope "+string(scope))
			}
			return next(c)
		}
	}
}

// bearer reads the credential from the Authorization header. Browsers cannot
// set headers on websocket upgrades, so the access_token query parameter is
// accepted as well.
func bearer(c echo.Context) (string, error) {
	authHeader := c.Request().Header.Get("Authorization")
	if authHeader == "" {
		if tok := c.QueryParam("access_token"); tok != "" {
			return tok, nil
		}
		return "", echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
	}
	return parts[1], nil
}

// UserID returns the authenticated user id.
func UserID(c echo.Context) string {
	id, _ := c.Get(ContextKeyUserID).(string)
	return id
}
