package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"nutrihub/internal/entity"
	"nutrihub/internal/repository"
	"nutrihub/internal/utils"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

// Used only when the configured hasher cannot produce a dummy hash of its own.
const dummyPasswordHash = "$2a$10$CwTycUXWue0Thq9StjUM0uJ8yQbWc1x9uxw2sQ2sXUNx5x9xJ9F2S"

const (
	minPasswordLength = 8
	maxListLimit      = 100
)

type AuthService struct {
	users         repository.UserRepository
	sessions      repository.SessionRepository
	verifications repository.VerificationTokenRepository
	authLogs      repository.AuthLogRepository

	challenges   ChallengeManager
	mailer       Mailer
	limiter      LoginLimiter
	passwordHash PasswordHasher
	accessTokens AccessTokenIssuer
	clock        Clock
	logger       logrus.FieldLogger
	config       AuthConfig

	// dummyHash is compared against for unknown e-mails. It comes from
	// passwordHash so both failure paths pay the same cost.
	dummyHash string
}

func NewAuthService(
	users repository.UserRepository,
	sessions repository.SessionRepository,
	verifications repository.VerificationTokenRepository,
	authLogs repository.AuthLogRepository,
	challenges ChallengeManager,
	mailer Mailer,
	limiter LoginLimiter,
	passwordHash PasswordHasher,
	accessTokens AccessTokenIssuer,
	clock Clock,
	logger logrus.FieldLogger,
	config AuthConfig,
) *AuthService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &AuthService{
		users:         users,
		sessions:      sessions,
		verifications: verifications,
		authLogs:      authLogs,
		challenges:    challenges,
		mailer:        mailer,
		limiter:       limiter,
		passwordHash:  passwordHash,
		accessTokens:  accessTokens,
		clock:         clock,
		logger:        logger,
		config:        config,
		dummyHash:     newDummyHash(passwordHash),
	}
}

func newDummyHash(hasher PasswordHasher) string {
	if hasher == nil {
		return dummyPasswordHash
	}
	secret, err := utils.GenerateRandomToken(32)
	if err != nil {
		return dummyPasswordHash
	}
	hash, err := hasher.Hash(secret)
	if err != nil {
		return dummyPasswordHash
	}
	return hash
}

func (s *AuthService) Register(ctx context.Context, input RegisterInput) (*entity.User, error) {
	email := utils.NormalizeEmail(input.Email)
	if email == "" || !strings.Contains(email, "@") || len(input.Password) < minPasswordLength {
		return nil, ErrValidationFailed
	}

	existing, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, storageError(err)
	}
	if existing != nil {
		s.audit(ctx, auditEntry{userID: &existing.ID, email: email, action: entity.ActionRegister, reason: "user_exists"})
		return nil, ErrUserExists
	}

	hash, err := s.passwordHash.Hash(input.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &entity.User{
		Email:        email,
		PasswordHash: hash,
		Name:         strings.TrimSpace(input.Name),
		Role:         entity.RoleUser,
		Status:       entity.UserStatusActive,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrUserExists
		}
		return nil, storageError(err)
	}

	s.audit(ctx, auditEntry{userID: &user.ID, email: email, action: entity.ActionRegister, success: true})
	return user, nil
}

// Login verifies credentials and either issues a token pair or, for users with
// MFA enabled, e-mails a challenge and reports MFARequired without tokens.
func (s *AuthService) Login(ctx context.Context, input LoginInput) (*LoginResult, error) {
	user, err := s.authenticate(ctx, input.Email, input.Password, input.Device.IPAddress)
	if err != nil {
		return nil, err
	}

	if user.MFAEnabled {
		code, err := s.challenges.Issue(ctx, user.ID)
		if err != nil {
			return nil, err
		}
		s.deliverMFACode(ctx, user, code)
		s.audit(ctx, auditEntry{userID: &user.ID, email: user.Email, ip: input.Device.IPAddress, action: entity.ActionMFAChallenge, success: true})
		return &LoginResult{
			MFARequired:      true,
			MFACodeExpiresIn: int64(s.challenges.TTL().Seconds()),
		}, nil
	}

	return s.completeLogin(ctx, user, input.Device, false)
}

func (s *AuthService) LoginWithMFA(ctx context.Context, input LoginMFAInput) (*LoginResult, error) {
	if strings.TrimSpace(input.Code) == "" {
		return nil, ErrValidationFailed
	}
	user, err := s.authenticate(ctx, input.Email, input.Password, input.Device.IPAddress)
	if err != nil {
		return nil, err
	}

	ok, err := s.challenges.Verify(ctx, user.ID, strings.TrimSpace(input.Code))
	if err != nil {
		return nil, err
	}
	if !ok {
		s.recordLoginFailure(ctx, &user.ID, user.Email, input.Device.IPAddress, entity.ActionMFAFailed, "mfa_invalid_or_expired")
		return nil, ErrMFAInvalidOrExpired
	}

	return s.completeLogin(ctx, user, input.Device, true)
}

// Refresh rotates a refresh token. The old session is deactivated with a
// conditional update before the new one is created, so a replayed or raced
// token can never yield a second pair.
func (s *AuthService) Refresh(ctx context.Context, input RefreshInput) (*LoginResult, error) {
	token := strings.TrimSpace(input.RefreshToken)
	if token == "" {
		return nil, ErrInvalidRefreshToken
	}

	session, err := s.sessions.FindActiveByTokenHash(ctx, utils.HashToken(token), s.now())
	if err != nil {
		return nil, storageError(err)
	}
	if session == nil {
		s.audit(ctx, auditEntry{ip: input.Device.IPAddress, action: entity.ActionRefreshFailed, reason: "unknown_or_inactive"})
		return nil, ErrInvalidRefreshToken
	}

	user, err := s.users.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, storageError(err)
	}
	if user == nil {
		s.audit(ctx, auditEntry{userID: &session.UserID, ip: input.Device.IPAddress, action: entity.ActionRefreshFailed, reason: "user_missing"})
		return nil, ErrInvalidRefreshToken
	}
	if !user.IsActive() {
		s.audit(ctx, auditEntry{userID: &user.ID, email: user.Email, ip: input.Device.IPAddress, action: entity.ActionRefreshFailed, reason: "account_inactive"})
		return nil, ErrAccountInactive
	}

	rotated, err := s.sessions.Deactivate(ctx, session.ID)
	if err != nil {
		return nil, storageError(err)
	}
	if !rotated {
		s.audit(ctx, auditEntry{userID: &user.ID, email: user.Email, ip: input.Device.IPAddress, action: entity.ActionRefreshFailed, reason: "already_rotated"})
		return nil, ErrInvalidRefreshToken
	}

	device := input.Device
	if device.DeviceID == "" {
		device.DeviceID = session.DeviceID
		device.DeviceName = session.DeviceName
	}
	result, err := s.createSessionAndTokens(ctx, user, device)
	if err != nil {
		return nil, err
	}

	s.audit(ctx, auditEntry{
		userID:   &user.ID,
		email:    user.Email,
		ip:       input.Device.IPAddress,
		action:   entity.ActionRefresh,
		success:  true,
		metadata: map[string]any{"previous_session_id": session.ID.String()},
	})
	return result, nil
}

// Logout deactivates the session behind refreshToken. Unknown or already
// inactive tokens are not an error.
func (s *AuthService) Logout(ctx context.Context, refreshToken string, ipAddress *string) error {
	token := strings.TrimSpace(refreshToken)
	if token == "" {
		return nil
	}
	if err := s.sessions.DeactivateByTokenHash(ctx, utils.HashToken(token)); err != nil {
		return storageError(err)
	}
	s.audit(ctx, auditEntry{ip: ipAddress, action: entity.ActionLogout, success: true})
	return nil
}

func (s *AuthService) LogoutAll(ctx context.Context, userID uuid.UUID, ipAddress *string) error {
	if err := s.sessions.DeactivateAllByUser(ctx, userID); err != nil {
		return storageError(err)
	}
	s.audit(ctx, auditEntry{userID: &userID, ip: ipAddress, action: entity.ActionSessionRevoked, success: true, metadata: map[string]any{"scope": "all"}})
	return nil
}

// Verify is a stateless signature and expiry check; it never consults sessions.
func (s *AuthService) Verify(accessToken string) (*utils.AccessClaims, error) {
	return s.accessTokens.VerifyAccessToken(accessToken)
}

func (s *AuthService) CurrentUser(ctx context.Context, userID uuid.UUID) (*entity.User, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, storageError(err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

func (s *AuthService) ListUsers(ctx context.Context, limit, offset int) ([]entity.User, error) {
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	users, err := s.users.List(ctx, limit, offset)
	if err != nil {
		return nil, storageError(err)
	}
	return users, nil
}

func (s *AuthService) RevokeUserSessions(ctx context.Context, userID uuid.UUID) error {
	return s.LogoutAll(ctx, userID, nil)
}

// SetUserStatus suspends or reactivates an account. Suspension also revokes
// every session so refresh stops working immediately.
func (s *AuthService) SetUserStatus(ctx context.Context, userID uuid.UUID, status entity.UserStatus) error {
	if !status.Valid() {
		return ErrValidationFailed
	}
	user, err := s.CurrentUser(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.users.UpdateFields(ctx, user.ID, map[string]any{"status": status}); err != nil {
		return storageError(err)
	}
	if status != entity.UserStatusActive {
		if err := s.sessions.DeactivateAllByUser(ctx, user.ID); err != nil {
			return storageError(err)
		}
	}
	s.audit(ctx, auditEntry{userID: &user.ID, email: user.Email, action: entity.ActionStatusChanged, success: true, metadata: map[string]any{"status": status}})
	return nil
}

// AssignRole is the operator path for granting nutritionist or admin; no HTTP
// route exposes it.
func (s *AuthService) AssignRole(ctx context.Context, email string, role entity.Role) error {
	if !role.Valid() {
		return ErrValidationFailed
	}
	user, err := s.users.FindByEmail(ctx, utils.NormalizeEmail(email))
	if err != nil {
		return storageError(err)
	}
	if user == nil {
		return ErrUserNotFound
	}
	if err := s.users.UpdateFields(ctx, user.ID, map[string]any{"role": role}); err != nil {
		return storageError(err)
	}
	s.audit(ctx, auditEntry{userID: &user.ID, email: user.Email, action: entity.ActionRoleChanged, success: true, metadata: map[string]any{"role": role}})
	return nil
}

// StartMFAEnrollment e-mails a challenge that ConfirmMFAEnrollment must echo back.
func (s *AuthService) StartMFAEnrollment(ctx context.Context, userID uuid.UUID) (int64, error) {
	user, err := s.CurrentUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	code, err := s.challenges.Issue(ctx, user.ID)
	if err != nil {
		return 0, err
	}
	if s.mailer == nil {
		return 0, ErrMailerNotConfigured
	}
	if err := s.mailer.Send(ctx, user.Email, mfaMailSubject, s.mfaMailBody(code)); err != nil {
		return 0, fmt.Errorf("deliver mfa code: %w", err)
	}
	return int64(s.challenges.TTL().Seconds()), nil
}

func (s *AuthService) ConfirmMFAEnrollment(ctx context.Context, userID uuid.UUID, code string) error {
	if strings.TrimSpace(code) == "" {
		return ErrValidationFailed
	}
	user, err := s.CurrentUser(ctx, userID)
	if err != nil {
		return err
	}
	ok, err := s.challenges.Verify(ctx, user.ID, strings.TrimSpace(code))
	if err != nil {
		return err
	}
	if !ok {
		s.audit(ctx, auditEntry{userID: &user.ID, email: user.Email, action: entity.ActionMFAFailed, reason: "enrollment"})
		return ErrMFAInvalidOrExpired
	}
	if err := s.users.UpdateFields(ctx, user.ID, map[string]any{"mfa_enabled": true}); err != nil {
		return storageError(err)
	}
	s.audit(ctx, auditEntry{userID: &user.ID, email: user.Email, action: entity.ActionMFAChanged, success: true, metadata: map[string]any{"mfa_enabled": true}})
	return nil
}

func (s *AuthService) DisableMFA(ctx context.Context, userID uuid.UUID, password string) error {
	user, err := s.CurrentUser(ctx, userID)
	if err != nil {
		return err
	}
	if !s.passwordHash.Verify(user.PasswordHash, password) {
		return ErrInvalidCredentials
	}
	if err := s.users.UpdateFields(ctx, user.ID, map[string]any{"mfa_enabled": false}); err != nil {
		return storageError(err)
	}
	s.audit(ctx, auditEntry{userID: &user.ID, email: user.Email, action: entity.ActionMFAChanged, success: true, metadata: map[string]any{"mfa_enabled": false}})
	return nil
}

// RequestPasswordReset succeeds silently for unknown or inactive accounts.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email string) error {
	normalized := utils.NormalizeEmail(email)
	if normalized == "" {
		return ErrValidationFailed
	}

	user, err := s.users.FindByEmail(ctx, normalized)
	if err != nil {
		return storageError(err)
	}
	if user == nil || !user.IsActive() {
		return nil
	}

	rawToken, err := utils.GenerateRandomToken(32)
	if err != nil {
		return err
	}
	verification := &entity.VerificationToken{
		UserID:    user.ID,
		TokenHash: utils.HashToken(rawToken),
		Type:      entity.PasswordReset,
		ExpiresAt: s.now().Add(s.resetTokenTTL()),
	}
	if err := s.verifications.Create(ctx, verification); err != nil {
		return storageError(err)
	}

	if s.mailer != nil {
		if err := s.mailer.Send(ctx, user.Email, "Reset your nutrihub password", s.resetMailBody(rawToken)); err != nil {
			s.logger.WithError(err).WithField("user_id", user.ID).Warn("password reset mail not delivered")
		}
	}
	return nil
}

func (s *AuthService) ResetPassword(ctx context.Context, token string, newPassword string) error {
	if strings.TrimSpace(token) == "" || len(newPassword) < minPasswordLength {
		return ErrValidationFailed
	}

	verification, err := s.verifications.FindValid(ctx, utils.HashToken(token), entity.PasswordReset, s.now())
	if err != nil {
		return storageError(err)
	}
	if verification == nil {
		return ErrInvalidToken
	}

	hash, err := s.passwordHash.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	used, err := s.verifications.MarkUsed(ctx, verification.ID)
	if err != nil {
		return storageError(err)
	}
	if !used {
		return ErrInvalidToken
	}
	if err := s.users.UpdateFields(ctx, verification.UserID, map[string]any{"password_hash": hash}); err != nil {
		return storageError(err)
	}
	if err := s.sessions.DeactivateAllByUser(ctx, verification.UserID); err != nil {
		return storageError(err)
	}

	s.audit(ctx, auditEntry{userID: &verification.UserID, action: entity.ActionPasswordReset, success: true})
	return nil
}

// authenticate runs the credential half of the login state machine. Unknown
// e-mails and wrong passwords both return ErrInvalidCredentials.
func (s *AuthService) authenticate(ctx context.Context, rawEmail string, password string, ipAddress *string) (*entity.User, error) {
	email := utils.NormalizeEmail(rawEmail)
	if email == "" || password == "" {
		return nil, ErrValidationFailed
	}

	if s.limiter != nil {
		locked, err := s.limiter.Locked(ctx, email)
		if err != nil {
			return nil, storageError(err)
		}
		if locked {
			s.audit(ctx, auditEntry{email: email, ip: ipAddress, action: entity.ActionLoginFailed, reason: "locked_out"})
			return nil, ErrTooManyAttempts
		}
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, storageError(err)
	}
	if user == nil {
		_ = s.passwordHash.Verify(s.dummyHash, password)
		s.recordLoginFailure(ctx, nil, email, ipAddress, entity.ActionLoginFailed, "unknown_email")
		return nil, ErrInvalidCredentials
	}

	if !user.IsActive() {
		s.audit(ctx, auditEntry{userID: &user.ID, email: email, ip: ipAddress, action: entity.ActionLoginFailed, reason: "account_inactive"})
		return nil, ErrAccountInactive
	}

	if !s.passwordHash.Verify(user.PasswordHash, password) {
		s.recordLoginFailure(ctx, &user.ID, email, ipAddress, entity.ActionLoginFailed, "wrong_password")
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

func (s *AuthService) completeLogin(ctx context.Context, user *entity.User, device DeviceInfo, viaMFA bool) (*LoginResult, error) {
	if err := s.users.TouchLastLogin(ctx, user.ID, s.now()); err != nil {
		return nil, storageError(err)
	}

	result, err := s.createSessionAndTokens(ctx, user, device)
	if err != nil {
		return nil, err
	}

	if s.limiter != nil {
		if err := s.limiter.Reset(ctx, user.Email); err != nil {
			s.logger.WithError(err).WithField("user_id", user.ID).Warn("login limiter reset failed")
		}
	}
	s.audit(ctx, auditEntry{
		userID:   &user.ID,
		email:    user.Email,
		ip:       device.IPAddress,
		action:   entity.ActionLoginSuccess,
		success:  true,
		metadata: map[string]any{"device_id": device.DeviceID, "mfa": viaMFA},
	})
	return result, nil
}

func (s *AuthService) createSessionAndTokens(ctx context.Context, user *entity.User, device DeviceInfo) (*LoginResult, error) {
	refreshToken, refreshHash, err := utils.IssueRefreshToken()
	if err != nil {
		return nil, err
	}
	now := s.now()
	refreshExpiry := now.Add(s.refreshTokenTTL())

	session := &entity.Session{
		UserID:     user.ID,
		TokenHash:  refreshHash,
		TokenType:  entity.TokenTypeRefresh,
		DeviceID:   device.DeviceID,
		DeviceName: device.DeviceName,
		IPAddress:  device.IPAddress,
		UserAgent:  device.UserAgent,
		Active:     true,
		ExpiresAt:  refreshExpiry,
		CreatedAt:  now,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, storageError(err)
	}

	accessToken, expiresIn, err := s.accessTokens.IssueAccessToken(*user)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}

	return &LoginResult{
		AccessToken:      accessToken,
		ExpiresIn:        int64(expiresIn.Seconds()),
		RefreshToken:     refreshToken,
		RefreshExpiresIn: int64(refreshExpiry.Sub(now).Seconds()),
	}, nil
}

func (s *AuthService) recordLoginFailure(
	ctx context.Context,
	userID *uuid.UUID,
	email string,
	ipAddress *string,
	action entity.AuthAction,
	reason string,
) {
	if s.limiter != nil {
		if err := s.limiter.RecordFailure(ctx, email); err != nil {
			s.logger.WithError(err).WithField("email", email).Warn("login limiter update failed")
		}
	}
	s.audit(ctx, auditEntry{userID: userID, email: email, ip: ipAddress, action: action, reason: reason})
}

const mfaMailSubject = "Your nutrihub verification code"

func (s *AuthService) mfaMailBody(code string) string {
	minutes := int(s.challenges.TTL().Minutes())
	return fmt.Sprintf("Your verification code is %s. It expires in %d minutes.", code, minutes)
}

func (s *AuthService) resetMailBody(token string) string {
	base := strings.TrimRight(s.config.AppBaseURL, "/")
	if base == "" {
		return fmt.Sprintf("Use this token to reset your password: %s", token)
	}
	return fmt.Sprintf("Reset your password: %s/reset-password?token=%s", base, token)
}

// deliverMFACode is best effort: a mail failure is logged and the login still
// answers MFARequired.
func (s *AuthService) deliverMFACode(ctx context.Context, user *entity.User, code string) {
	entry := s.logger.WithField("user_id", user.ID)
	if s.mailer == nil {
		entry.Warn("mfa code not delivered: mailer not configured")
		return
	}
	if err := s.mailer.Send(ctx, user.Email, mfaMailSubject, s.mfaMailBody(code)); err != nil {
		entry.WithError(err).Warn("mfa code not delivered")
	}
}

type auditEntry struct {
	userID   *uuid.UUID
	email    string
	ip       *string
	action   entity.AuthAction
	success  bool
	reason   string
	metadata map[string]any
}

// audit never fails the request; write errors only reach the log.
func (s *AuthService) audit(ctx context.Context, e auditEntry) {
	if s.authLogs == nil {
		return
	}
	var payload datatypes.JSON
	if e.metadata != nil {
		bytes, err := json.Marshal(e.metadata)
		if err != nil {
			s.logger.WithError(err).WithField("action", e.action).Warn("auth log metadata dropped")
		} else {
			payload = datatypes.JSON(bytes)
		}
	}

	log := &entity.AuthLog{
		UserID:    e.userID,
		Email:     e.email,
		IPAddress: e.ip,
		Action:    e.action,
		Success:   e.success,
		Reason:    e.reason,
		Metadata:  payload,
	}
	if err := s.authLogs.Log(ctx, log); err != nil {
		s.logger.WithError(err).WithField("action", e.action).Warn("auth log write failed")
	}
}

func (s *AuthService) now() time.Time {
	if s.clock == nil {
		return time.Now()
	}
	return s.clock.Now()
}

func (s *AuthService) resetTokenTTL() time.Duration {
	if s.config.ResetTokenTTL > 0 {
		return s.config.ResetTokenTTL
	}
	return 30 * time.Minute
}

func (s *AuthService) refreshTokenTTL() time.Duration {
	if s.config.RefreshTokenTTL > 0 {
		return s.config.RefreshTokenTTL
	}
	return 7 * 24 * time.Hour
}
