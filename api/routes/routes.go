package routes

import (
	"time"

	"nutrihub/api/handler"
	"nutrihub/api/middleware"
	"nutrihub/internal/entity"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

type Router struct {
	Echo           *echo.Echo
	Auth           *handler.AuthHandler
	AuthMiddleware middleware.AuthMiddleware
	AuthRate       *middleware.RateLimiter
	LoginRate      *middleware.RateLimiter
}

func NewRouter(e *echo.Echo, authHandler *handler.AuthHandler, authMiddleware middleware.AuthMiddleware) *Router {
	return &Router{
		Echo:           e,
		Auth:           authHandler,
		AuthMiddleware: authMiddleware,
		AuthRate:       middleware.NewRateLimiter(rate.Limit(5), 10, 5*time.Minute),
		LoginRate:      middleware.NewRateLimiter(rate.Limit(2), 4, 10*time.Minute),
	}
}

func (r *Router) RegisterRoutes() {
	e := r.Echo
	requireAuth := r.AuthMiddleware.RequireAuth

	auth := e.Group("/auth")
	auth.POST("/register", r.Auth.Register, r.AuthRate.Middleware())
	auth.POST("/login", r.Auth.Login, r.LoginRate.Middleware())
	auth.POST("/login/mfa", r.Auth.LoginWithMFA, r.LoginRate.Middleware())
	auth.POST("/refresh", r.Auth.Refresh, r.AuthRate.Middleware())
	auth.POST("/logout", r.Auth.Logout)
	auth.POST("/logout-all", r.Auth.LogoutAll, requireAuth)
	auth.GET("/verify", r.Auth.Verify, requireAuth)
	auth.POST("/password/forgot", r.Auth.PasswordForgot, r.LoginRate.Middleware())
	auth.POST("/password/reset", r.Auth.PasswordReset, r.AuthRate.Middleware())
	auth.POST("/mfa/enable", r.Auth.EnableMFA, requireAuth)
	auth.POST("/mfa/confirm", r.Auth.ConfirmMFA, requireAuth)
	auth.POST("/mfa/disable", r.Auth.DisableMFA, requireAuth)

	e.GET("/me", r.Auth.Me, requireAuth)

	admin := e.Group("/admin", requireAuth, middleware.RequireRole(entity.RoleAdmin))
	admin.GET("/users", r.Auth.AdminListUsers)
	admin.POST("/users/:id/revoke-sessions", r.Auth.AdminRevokeUserSessions)
	admin.PATCH("/users/:id/status", r.Auth.AdminSetUserStatus)
}
