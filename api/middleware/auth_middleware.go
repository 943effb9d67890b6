package middleware

import (
	"errors"
	"net/http"
	"strings"

	"nutrihub/internal/entity"
	"nutrihub/internal/utils"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// TokenVerifier checks an access token without touching session storage.
type TokenVerifier interface {
	Verify(accessToken string) (*utils.AccessClaims, error)
}

type AuthMiddleware struct {
	Verifier TokenVerifier
}

func (m AuthMiddleware) RequireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token := extractBearerToken(c.Request())
		if token == "" || m.Verifier == nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "token missing")
		}
		claims, err := m.Verifier.Verify(token)
		if err != nil {
			if errors.Is(err, utils.ErrTokenExpired) {
				return echo.NewHTTPError(http.StatusUnauthorized, "token expired")
			}
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
		}
		userID, err := uuid.Parse(claims.UserID)
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
		}
		SetAuthContext(c, userID, claims.Email, entity.Role(claims.Role))
		return next(c)
	}
}

func extractBearerToken(r *http.Request) string {
	authorization := r.Header.Get("Authorization")
	if authorization == "" {
		return ""
	}
	parts := strings.SplitN(authorization, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
