package middleware

import (
	"net/http"

	"nutrihub/internal/entity"

	"github.com/labstack/echo/v4"
)

// RequireRole must run after RequireAuth. Unknown roles are always rejected.
func RequireRole(roles ...entity.Role) echo.MiddlewareFunc {
	allowed := make(map[entity.Role]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			currentRole, ok := RoleFromContext(c)
			if !ok || !currentRole.Valid() {
				return echo.NewHTTPError(http.StatusForbidden, "insufficient role")
			}
			if _, permitted := allowed[currentRole]; !permitted {
				return echo.NewHTTPError(http.StatusForbidden, "insufficient role")
			}
			return next(c)
		}
	}
}
