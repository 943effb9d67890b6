package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"nutrihub/api/middleware"
	"nutrihub/internal/entity"
	"nutrihub/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubService embeds the interface so tests only override what they call.
type stubService struct {
	AuthService

	register  func(service.RegisterInput) (*entity.User, error)
	login     func(service.LoginInput) (*service.LoginResult, error)
	loginMFA  func(service.LoginMFAInput) (*service.LoginResult, error)
	refresh   func(service.RefreshInput) (*service.LoginResult, error)
	logout    func(string) error
	logoutAll func(uuid.UUID) error
	setStatus func(uuid.UUID, entity.UserStatus) error
}

func (s *stubService) Register(_ context.Context, in service.RegisterInput) (*entity.User, error) {
	return s.register(in)
}

func (s *stubService) Login(_ context.Context, in service.LoginInput) (*service.LoginResult, error) {
	return s.login(in)
}

func (s *stubService) LoginWithMFA(_ context.Context, in service.LoginMFAInput) (*service.LoginResult, error) {
	return s.loginMFA(in)
}

func (s *stubService) Refresh(_ context.Context, in service.RefreshInput) (*service.LoginResult, error) {
	return s.refresh(in)
}

func (s *stubService) Logout(_ context.Context, token string, _ *string) error {
	return s.logout(token)
}

func (s *stubService) LogoutAll(_ context.Context, userID uuid.UUID, _ *string) error {
	return s.logoutAll(userID)
}

func (s *stubService) SetUserStatus(_ context.Context, userID uuid.UUID, status entity.UserStatus) error {
	return s.setStatus(userID, status)
}

func newTestHandler(svc AuthService) (*AuthHandler, *test.Hook) {
	logger, hook := test.NewNullLogger()
	h := NewAuthHandler(svc, validator.New(), logger)
	h.SecureCookies = false
	return h, hook
}

func doJSON(t *testing.T, handle echo.HandlerFunc, body string, setup func(c echo.Context)) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(http.MethodPost, "/", nil)
	} else {
		req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	}
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if setup != nil {
		setup(c)
	}
	require.NoError(t, handle(c))
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestRegister(t *testing.T) {
	userID := uuid.New()
	svc := &stubService{register: func(in service.RegisterInput) (*entity.User, error) {
		if in.Email == "taken@example.com" {
			return nil, service.ErrUserExists
		}
		return &entity.User{ID: userID, Email: in.Email, Role: entity.RoleUser, Status: entity.UserStatusActive}, nil
	}}
	h, _ := newTestHandler(svc)

	rec := doJSON(t, h.Register, `{"email":"alice@example.com","password":"Secret123!"}`, nil)
	assert.Equal(t, http.StatusCreated, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, userID.String(), body["id"])
	assert.Equal(t, "user", body["role"])
	assert.NotContains(t, rec.Body.String(), "password")

	rec = doJSON(t, h.Register, `{"email":"taken@example.com","password":"Secret123!"}`, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, h.Register, `{"email":"not-an-email","password":"Secret123!"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h.Register, `{"email":"alice@example.com","password":"short"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h.Register, `{"email":"alice@example.com","password":"Secret123!","role":"admin"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLogin_StatusCodes(t *testing.T) {
	cases := []struct {
		name   string
		result *service.LoginResult
		err    error
		status int
	}{
		{name: "tokens", result: &service.LoginResult{AccessToken: "access", ExpiresIn: 900, RefreshToken: "refresh", RefreshExpiresIn: 604800}, status: http.StatusOK},
		{name: "mfa required", result: &service.LoginResult{MFARequired: true, MFACodeExpiresIn: 600}, status: http.StatusAccepted},
		{name: "bad credentials", err: service.ErrInvalidCredentials, status: http.StatusUnauthorized},
		{name: "inactive", err: service.ErrAccountInactive, status: http.StatusForbidden},
		{name: "locked", err: service.ErrTooManyAttempts, status: http.StatusTooManyRequests},
		{name: "storage", err: fmt.Errorf("%w: connection refused", service.ErrStorageFailure), status: http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubService{login: func(service.LoginInput) (*service.LoginResult, error) {
				return tc.result, tc.err
			}}
			h, _ := newTestHandler(svc)
			rec := doJSON(t, h.Login, `{"email":"alice@example.com","password":"Secret123!","device_id":"phone"}`, nil)
			assert.Equal(t, tc.status, rec.Code)
		})
	}
}

func TestLogin_TokenResponseSetsCookie(t *testing.T) {
	var got service.LoginInput
	svc := &stubService{login: func(in service.LoginInput) (*service.LoginResult, error) {
		got = in
		return &service.LoginResult{AccessToken: "access", ExpiresIn: 900, RefreshToken: "refresh", RefreshExpiresIn: 604800}, nil
	}}
	h, _ := newTestHandler(svc)

	rec := doJSON(t, h.Login, `{"email":"alice@example.com","password":"Secret123!","device_id":"phone","device_name":"Pixel"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "access", body["access_token"])
	assert.Equal(t, "refresh", body["refresh_token"])
	assert.Equal(t, "Bearer", body["token_type"])
	assert.Contains(t, rec.Header().Get("Set-Cookie"), "refresh_token=refresh")
	assert.Contains(t, rec.Header().Get("Set-Cookie"), "HttpOnly")
	assert.Equal(t, "phone", got.Device.DeviceID)
	assert.Equal(t, "Pixel", got.Device.DeviceName)
}

func TestLogin_MFARequiredHasNoTokens(t *testing.T) {
	svc := &stubService{login: func(service.LoginInput) (*service.LoginResult, error) {
		return &service.LoginResult{MFARequired: true, MFACodeExpiresIn: 600}, nil
	}}
	h, _ := newTestHandler(svc)

	rec := doJSON(t, h.Login, `{"email":"alice@example.com","password":"Secret123!"}`, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["mfa_required"])
	assert.NotContains(t, body, "access_token")
	assert.Empty(t, rec.Header().Get("Set-Cookie"))
}

func TestLoginWithMFA(t *testing.T) {
	svc := &stubService{loginMFA: func(in service.LoginMFAInput) (*service.LoginResult, error) {
		if in.Code != "123456" {
			return nil, service.ErrMFAInvalidOrExpired
		}
		return &service.LoginResult{AccessToken: "access", RefreshToken: "refresh", RefreshExpiresIn: 60}, nil
	}}
	h, _ := newTestHandler(svc)

	rec := doJSON(t, h.LoginWithMFA, `{"email":"alice@example.com","password":"Secret123!","code":"123456"}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h.LoginWithMFA, `{"email":"alice@example.com","password":"Secret123!","code":"654321"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, service.ErrMFAInvalidOrExpired.Error(), decodeBody(t, rec)["message"])

	rec = doJSON(t, h.LoginWithMFA, `{"email":"alice@example.com","password":"Secret123!","code":"12ab56"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRefresh_BodyOrCookie(t *testing.T) {
	var seen []string
	svc := &stubService{refresh: func(in service.RefreshInput) (*service.LoginResult, error) {
		seen = append(seen, in.RefreshToken)
		if in.RefreshToken == "stale" {
			return nil, service.ErrInvalidRefreshToken
		}
		return &service.LoginResult{AccessToken: "access", RefreshToken: "next", RefreshExpiresIn: 60}, nil
	}}
	h, _ := newTestHandler(svc)

	rec := doJSON(t, h.Refresh, `{"refresh_token":"from-body"}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h.Refresh, "", func(c echo.Context) {
		c.Request().AddCookie(&http.Cookie{Name: "refresh_token", Value: "from-cookie"})
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h.Refresh, `{"refresh_token":"stale"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, h.Refresh, "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	assert.Equal(t, []string{"from-body", "from-cookie", "stale"}, seen)
}

func TestCookieOnly_ChunkedEmptyBody(t *testing.T) {
	var loggedOut, refreshed []string
	svc := &stubService{
		logout: func(token string) error {
			loggedOut = append(loggedOut, token)
			return nil
		},
		refresh: func(in service.RefreshInput) (*service.LoginResult, error) {
			refreshed = append(refreshed, in.RefreshToken)
			return &service.LoginResult{AccessToken: "access", RefreshToken: "next", RefreshExpiresIn: 60}, nil
		},
	}
	h, _ := newTestHandler(svc)

	send := func(handle echo.HandlerFunc, body string) *httptest.ResponseRecorder {
		e := echo.New()
		req := httptest.NewRequest(http.MethodPost, "/", io.NopCloser(strings.NewReader(body)))
		req.ContentLength = -1
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		req.AddCookie(&http.Cookie{Name: "refresh_token", Value: "from-cookie"})
		rec := httptest.NewRecorder()
		require.NoError(t, handle(e.NewContext(req, rec)))
		return rec
	}

	assert.Equal(t, http.StatusOK, send(h.Logout, "").Code)
	assert.Equal(t, http.StatusOK, send(h.Refresh, "").Code)
	assert.Equal(t, http.StatusBadRequest, send(h.Refresh, "{not json").Code)

	assert.Equal(t, []string{"from-cookie"}, loggedOut)
	assert.Equal(t, []string{"from-cookie"}, refreshed)
}

func TestLogoutAndLogoutAll(t *testing.T) {
	userID := uuid.New()
	var loggedOut []string
	var revoked []uuid.UUID
	svc := &stubService{
		logout: func(token string) error {
			loggedOut = append(loggedOut, token)
			return nil
		},
		logoutAll: func(id uuid.UUID) error {
			revoked = append(revoked, id)
			return nil
		},
	}
	h, _ := newTestHandler(svc)

	rec := doJSON(t, h.Logout, `{"refresh_token":"abc"}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["success"])
	assert.Contains(t, rec.Header().Get("Set-Cookie"), "Max-Age=0")

	rec = doJSON(t, h.LogoutAll, "", func(c echo.Context) {
		middleware.SetAuthContext(c, userID, "alice@example.com", entity.RoleUser)
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h.LogoutAll, "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	assert.Equal(t, []string{"abc"}, loggedOut)
	assert.Equal(t, []uuid.UUID{userID}, revoked)
}

func TestVerify(t *testing.T) {
	userID := uuid.New()
	h, _ := newTestHandler(&stubService{})

	rec := doJSON(t, h.Verify, "", func(c echo.Context) {
		middleware.SetAuthContext(c, userID, "alice@example.com", entity.RoleAdmin)
	})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, userID.String(), body["user_id"])
	assert.Equal(t, "alice@example.com", body["email"])
	assert.Equal(t, "admin", body["role"])
}

func TestAdminSetUserStatus(t *testing.T) {
	target := uuid.New()
	var got entity.UserStatus
	svc := &stubService{setStatus: func(id uuid.UUID, status entity.UserStatus) error {
		if id != target {
			return service.ErrUserNotFound
		}
		got = status
		return nil
	}}
	h, _ := newTestHandler(svc)

	withID := func(id string) func(c echo.Context) {
		return func(c echo.Context) {
			c.SetParamNames("id")
			c.SetParamValues(id)
		}
	}

	rec := doJSON(t, h.AdminSetUserStatus, `{"status":"suspended"}`, withID(target.String()))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, entity.UserStatusSuspended, got)

	rec = doJSON(t, h.AdminSetUserStatus, `{"status":"deleted"}`, withID(target.String()))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h.AdminSetUserStatus, `{"status":"active"}`, withID("nope"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h.AdminSetUserStatus, `{"status":"active"}`, withID(uuid.NewString()))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInternalErrorsAreLoggedNotLeaked(t *testing.T) {
	svc := &stubService{login: func(service.LoginInput) (*service.LoginResult, error) {
		return nil, fmt.Errorf("%w: dial tcp 10.0.0.5:5432: connection refused", service.ErrStorageFailure)
	}}
	h, hook := newTestHandler(svc)

	rec := doJSON(t, h.Login, `{"email":"alice@example.com","password":"Secret123!"}`, nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal server error", decodeBody(t, rec)["message"])
	assert.NotContains(t, rec.Body.String(), "10.0.0.5")

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.ErrorLevel, entry.Level)
}
