package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/quorumhq/quorum/internal/policy"
)

// SignJWT issues a signed token with the provided subject, role and TTL.
func SignJWT(subject string, role policy.Role, secret []byte, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"sub":  subject,
		"role": string(role),
		"exp":  time.Now().Add(ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// withAuth validates the bearer token (or auth cookie) and stashes the
// subject and access role on the request context. An absent or
// unrecognized role claim degrades to reader.
func withAuth(next echo.HandlerFunc, secret []byte) echo.HandlerFunc {
	return func(c echo.Context) error {
		tok := extractToken(c)
		if tok == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "missing token")
		}
		parsed, err := jwt.Parse(tok, func(t *jwt.Token) (interface{}, error) { return secret, nil })
		if err != nil || !parsed.Valid {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
		}
		claims, ok := parsed.Claims.(jwt.MapClaims)
		if !ok {
			return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
		}
		sub, ok := claims["sub"].(string)
		if !ok || sub == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
		}
		role := policy.RoleReader
		if r, ok := claims["role"].(string); ok {
			if candidate := policy.Role(strings.TrimSpace(r)); candidate.Valid() {
				role = candidate
			}
		}
		c.Set("user_id", sub)
		c.Set("role", role)
		return next(c)
	}
}

func extractToken(c echo.Context) string {
	if h := c.Request().Header.Get("Authorization"); len(h) > 7 && h[:7] == "Bearer " {
		return h[7:]
	}
	if ck, err := c.Cookie("auth"); err == nil {
		return ck.Value
	}
	return ""
}

// requestRole reads the role set by withAuth; reader when absent.
func requestRole(c echo.Context) policy.Role {
	if r, ok := c.Get("role").(policy.Role); ok {
		return r
	}
	return policy.RoleReader
}
