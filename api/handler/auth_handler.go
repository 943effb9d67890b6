package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"nutrihub/api/middleware"
	"nutrihub/internal/dto"
	"nutrihub/internal/entity"
	"nutrihub/internal/service"
	"nutrihub/internal/utils"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

// AuthService is the slice of *service.AuthService the HTTP layer calls.
type AuthService interface {
	Register(ctx context.Context, input service.RegisterInput) (*entity.User, error)
	Login(ctx context.Context, input service.LoginInput) (*service.LoginResult, error)
	LoginWithMFA(ctx context.Context, input service.LoginMFAInput) (*service.LoginResult, error)
	Refresh(ctx context.Context, input service.RefreshInput) (*service.LoginResult, error)
	Logout(ctx context.Context, refreshToken string, ipAddress *string) error
	LogoutAll(ctx context.Context, userID uuid.UUID, ipAddress *string) error
	Verify(accessToken string) (*utils.AccessClaims, error)
	CurrentUser(ctx context.Context, userID uuid.UUID) (*entity.User, error)
	ListUsers(ctx context.Context, limit, offset int) ([]entity.User, error)
	RevokeUserSessions(ctx context.Context, userID uuid.UUID) error
	SetUserStatus(ctx context.Context, userID uuid.UUID, status entity.UserStatus) error
	StartMFAEnrollment(ctx context.Context, userID uuid.UUID) (int64, error)
	ConfirmMFAEnrollment(ctx context.Context, userID uuid.UUID, code string) error
	DisableMFA(ctx context.Context, userID uuid.UUID, password string) error
	RequestPasswordReset(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token string, newPassword string) error
}

type AuthHandler struct {
	Service           AuthService
	Validate          *validator.Validate
	Logger            logrus.FieldLogger
	RefreshCookieName string
	CookieDomain      string
	SecureCookies     bool
	SameSite          http.SameSite
}

func NewAuthHandler(svc AuthService, validate *validator.Validate, logger logrus.FieldLogger) *AuthHandler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &AuthHandler{
		Service:           svc,
		Validate:          validate,
		Logger:            logger,
		RefreshCookieName: "refresh_token",
		SecureCookies:     true,
		SameSite:          http.SameSiteStrictMode,
	}
}

func (h *AuthHandler) Register(c echo.Context) error {
	var req dto.RegisterRequest
	if err := h.bind(c, &req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	user, err := h.Service.Register(c.Request().Context(), service.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
	})
	if err != nil {
		return h.writeServiceError(c, err)
	}
	return c.JSON(http.StatusCreated, dto.UserResponseFromEntity(user))
}

// Login answers 202 with mfa_required when a code was sent instead of tokens.
func (h *AuthHandler) Login(c echo.Context) error {
	var req dto.LoginRequest
	if err := h.bind(c, &req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	result, err := h.Service.Login(c.Request().Context(), service.LoginInput{
		Email:    req.Email,
		Password: req.Password,
		Device:   deviceInfo(c, req.DeviceID, req.DeviceName),
	})
	if err != nil {
		return h.writeServiceError(c, err)
	}
	if result.MFARequired {
		return c.JSON(http.StatusAccepted, dto.LoginResponse{
			MFARequired:      true,
			MFACodeExpiresIn: result.MFACodeExpiresIn,
		})
	}
	h.setRefreshCookie(c, result.RefreshToken, result.RefreshExpiresIn)
	return c.JSON(http.StatusOK, mapLoginResponse(result))
}

func (h *AuthHandler) LoginWithMFA(c echo.Context) error {
	var req dto.LoginMFARequest
	if err := h.bind(c, &req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	result, err := h.Service.LoginWithMFA(c.Request().Context(), service.LoginMFAInput{
		Email:    req.Email,
		Password: req.Password,
		Code:     req.Code,
		Device:   deviceInfo(c, req.DeviceID, req.DeviceName),
	})
	if err != nil {
		return h.writeServiceError(c, err)
	}
	h.setRefreshCookie(c, result.RefreshToken, result.RefreshExpiresIn)
	return c.JSON(http.StatusOK, mapLoginResponse(result))
}

// Refresh takes the token from the body and falls back to the cookie.
func (h *AuthHandler) Refresh(c echo.Context) error {
	var req dto.RefreshRequest
	if err := h.bindOptional(c, &req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	refreshToken := req.RefreshToken
	if refreshToken == "" {
		refreshToken = h.readRefreshCookie(c)
	}
	if refreshToken == "" {
		return writeError(c, http.StatusUnauthorized, service.ErrInvalidRefreshToken)
	}
	result, err := h.Service.Refresh(c.Request().Context(), service.RefreshInput{
		RefreshToken: refreshToken,
		Device:       deviceInfo(c, req.DeviceID, req.DeviceName),
	})
	if err != nil {
		return h.writeServiceError(c, err)
	}
	h.setRefreshCookie(c, result.RefreshToken, result.RefreshExpiresIn)
	return c.JSON(http.StatusOK, mapLoginResponse(result))
}

func (h *AuthHandler) Logout(c echo.Context) error {
	var req dto.LogoutRequest
	if err := h.bindOptional(c, &req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	refreshToken := req.RefreshToken
	if refreshToken == "" {
		refreshToken = h.readRefreshCookie(c)
	}
	if err := h.Service.Logout(c.Request().Context(), refreshToken, stringPtr(c.RealIP())); err != nil {
		return h.writeServiceError(c, err)
	}
	h.clearRefreshCookie(c)
	return c.JSON(http.StatusOK, dto.SuccessResponse{Success: true})
}

func (h *AuthHandler) LogoutAll(c echo.Context) error {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		return writeError(c, http.StatusUnauthorized, errors.New("token missing"))
	}
	if err := h.Service.LogoutAll(c.Request().Context(), userID, stringPtr(c.RealIP())); err != nil {
		return h.writeServiceError(c, err)
	}
	h.clearRefreshCookie(c)
	return c.JSON(http.StatusOK, dto.SuccessResponse{Success: true})
}

// Verify echoes the identity RequireAuth already extracted from the bearer token.
func (h *AuthHandler) Verify(c echo.Context) error {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		return writeError(c, http.StatusUnauthorized, errors.New("token missing"))
	}
	email, _ := middleware.EmailFromContext(c)
	role, _ := middleware.RoleFromContext(c)
	return c.JSON(http.StatusOK, dto.VerifyResponse{
		UserID: userID.String(),
		Email:  email,
		Role:   string(role),
	})
}

func (h *AuthHandler) PasswordForgot(c echo.Context) error {
	var req dto.PasswordForgotRequest
	if err := h.bind(c, &req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	if err := h.Service.RequestPasswordReset(c.Request().Context(), req.Email); err != nil {
		return h.writeServiceError(c, err)
	}
	return c.NoContent(http.StatusAccepted)
}

func (h *AuthHandler) PasswordReset(c echo.Context) error {
	var req dto.PasswordResetRequest
	if err := h.bind(c, &req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	if err := h.Service.ResetPassword(c.Request().Context(), req.Token, req.NewPassword); err != nil {
		return h.writeServiceError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *AuthHandler) EnableMFA(c echo.Context) error {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		return writeError(c, http.StatusUnauthorized, errors.New("token missing"))
	}
	expiresIn, err := h.Service.StartMFAEnrollment(c.Request().Context(), userID)
	if err != nil {
		return h.writeServiceError(c, err)
	}
	return c.JSON(http.StatusAccepted, dto.MFAEnableResponse{CodeExpiresIn: expiresIn})
}

func (h *AuthHandler) ConfirmMFA(c echo.Context) error {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		return writeError(c, http.StatusUnauthorized, errors.New("token missing"))
	}
	var req dto.MFAConfirmRequest
	if err := h.bind(c, &req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	if err := h.Service.ConfirmMFAEnrollment(c.Request().Context(), userID, req.Code); err != nil {
		return h.writeServiceError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *AuthHandler) DisableMFA(c echo.Context) error {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		return writeError(c, http.StatusUnauthorized, errors.New("token missing"))
	}
	var req dto.MFADisableRequest
	if err := h.bind(c, &req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	if err := h.Service.DisableMFA(c.Request().Context(), userID, req.Password); err != nil {
		return h.writeServiceError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *AuthHandler) Me(c echo.Context) error {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		return writeError(c, http.StatusUnauthorized, errors.New("token missing"))
	}
	user, err := h.Service.CurrentUser(c.Request().Context(), userID)
	if err != nil {
		return h.writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, dto.UserResponseFromEntity(user))
}

func (h *AuthHandler) AdminListUsers(c echo.Context) error {
	limit, offset := parseLimitOffset(c)
	users, err := h.Service.ListUsers(c.Request().Context(), limit, offset)
	if err != nil {
		return h.writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, dto.UserResponsesFromEntities(users))
}

func (h *AuthHandler) AdminRevokeUserSessions(c echo.Context) error {
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return writeError(c, http.StatusBadRequest, errors.New("invalid user id"))
	}
	if err := h.Service.RevokeUserSessions(c.Request().Context(), userID); err != nil {
		return h.writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, dto.SuccessResponse{Success: true})
}

func (h *AuthHandler) AdminSetUserStatus(c echo.Context) error {
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return writeError(c, http.StatusBadRequest, errors.New("invalid user id"))
	}
	var req dto.UserStatusRequest
	if err := h.bind(c, &req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	if err := h.Service.SetUserStatus(c.Request().Context(), userID, entity.UserStatus(req.Status)); err != nil {
		return h.writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, dto.SuccessResponse{Success: true})
}

func (h *AuthHandler) bind(c echo.Context, target any) error {
	if err := decodeJSON(c, target); err != nil {
		return errors.New("invalid request body")
	}
	return h.validate(target)
}

// bindOptional accepts an empty body, including a chunked one.
func (h *AuthHandler) bindOptional(c echo.Context, target any) error {
	if c.Request().ContentLength == 0 {
		return nil
	}
	if err := decodeJSON(c, target); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return errors.New("invalid request body")
	}
	return h.validate(target)
}

func (h *AuthHandler) validate(payload any) error {
	if h.Validate == nil {
		return nil
	}
	if err := h.Validate.Struct(payload); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return errors.New("invalid " + strings.ToLower(fieldErrs[0].Field()))
		}
		return err
	}
	return nil
}

func (h *AuthHandler) setRefreshCookie(c echo.Context, token string, expiresIn int64) {
	if token == "" {
		return
	}
	maxAge := int(expiresIn)
	if maxAge < 0 {
		maxAge = 0
	}
	c.SetCookie(&http.Cookie{
		Name:     h.RefreshCookieName,
		Value:    token,
		Path:     "/auth",
		Domain:   h.CookieDomain,
		MaxAge:   maxAge,
		Expires:  time.Now().Add(time.Duration(expiresIn) * time.Second),
		HttpOnly: true,
		Secure:   h.SecureCookies,
		SameSite: h.SameSite,
	})
}

func (h *AuthHandler) clearRefreshCookie(c echo.Context) {
	c.SetCookie(&http.Cookie{
		Name:     h.RefreshCookieName,
		Value:    "",
		Path:     "/auth",
		Domain:   h.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.SecureCookies,
		SameSite: h.SameSite,
	})
}

func (h *AuthHandler) readRefreshCookie(c echo.Context) string {
	cookie, err := c.Cookie(h.RefreshCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func decodeJSON(c echo.Context, target any) error {
	decoder := json.NewDecoder(c.Request().Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

func writeError(c echo.Context, status int, err error) error {
	return c.JSON(status, map[string]string{"message": err.Error()})
}

func (h *AuthHandler) writeServiceError(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrValidationFailed):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrInvalidCredentials),
		errors.Is(err, service.ErrMFAInvalidOrExpired),
		errors.Is(err, service.ErrInvalidRefreshToken),
		errors.Is(err, service.ErrInvalidToken),
		errors.Is(err, service.ErrTokenExpired),
		errors.Is(err, service.ErrTokenMalformed):
		status = http.StatusUnauthorized
	case errors.Is(err, service.ErrAccountInactive):
		status = http.StatusForbidden
	case errors.Is(err, service.ErrUserNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrUserExists):
		status = http.StatusConflict
	case errors.Is(err, service.ErrTooManyAttempts):
		status = http.StatusTooManyRequests
	}
	if status == http.StatusInternalServerError {
		h.Logger.WithError(err).WithFields(logrus.Fields{
			"method": c.Request().Method,
			"path":   c.Path(),
		}).Error("request failed")
		return writeError(c, status, errors.New("internal server error"))
	}
	return writeError(c, status, err)
}

func parseLimitOffset(c echo.Context) (int, int) {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	return limit, offset
}

func deviceInfo(c echo.Context, deviceID, deviceName string) service.DeviceInfo {
	return service.DeviceInfo{
		DeviceID:   strings.TrimSpace(deviceID),
		DeviceName: strings.TrimSpace(deviceName),
		IPAddress:  stringPtr(c.RealIP()),
		UserAgent:  stringPtr(c.Request().UserAgent()),
	}
}

func stringPtr(value string) *string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return &value
}

func mapLoginResponse(result *service.LoginResult) dto.LoginResponse {
	if result == nil {
		return dto.LoginResponse{}
	}
	return dto.LoginResponse{
		AccessToken:      result.AccessToken,
		TokenType:        "Bearer",
		ExpiresIn:        result.ExpiresIn,
		RefreshToken:     result.RefreshToken,
		RefreshExpiresIn: result.RefreshExpiresIn,
	}
}
