package server

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

// SignJWT issues a signed token with the provided subject and TTL.
func SignJWT(subject string, secret []byte, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"sub": subject,
		"exp": time.Now().Add(ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// jobAuth guards the trigger endpoints. Scheduled callers present the shared
// X-Job-Secret header; manual callers pass ?manual=true with a JWT instead.
func (a *App) jobAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if c.QueryParam("manual") == "true" {
			return a.requireJWT(c, next)
		}
		secret := c.Request().Header.Get("X-Job-Secret")
		if secret == "" || subtle.ConstantTimeCompare([]byte(secret), []byte(a.cfg.Server.JobSecret)) != 1 {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid job secret")
		}
		return next(c)
	}
}

// jwtAuth guards the review endpoints.
func (a *App) jwtAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		return a.requireJWT(c, next)
	}
}

func (a *App) requireJWT(c echo.Context, next echo.HandlerFunc) error {
	raw := bearerToken(c)
	if raw == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing token")
	}
	token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(a.cfg.Server.JWTSecret), nil
	})
	if err != nil || !token.Valid {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
	}
	if claims, ok := token.Claims.(jwt.MapClaims); ok {
		if sub, _ := claims["sub"].(string); sub != "" {
			c.Set("user_id", sub)
		}
	}
	return next(c)
}

func bearerToken(c echo.Context) string {
	h := c.Request().Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	if cookie, err := c.Cookie("auth"); err == nil {
		return cookie.Value
	}
	return ""
}
