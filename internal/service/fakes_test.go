package service

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"nutrihub/internal/entity"
	"nutrihub/internal/repository"
	"nutrihub/internal/utils"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// plainHasher keeps the tests fast; bcrypt itself is covered separately.
type plainHasher struct{}

func (plainHasher) Hash(password string) (string, error) {
	return "plain:" + password, nil
}

func (plainHasher) Verify(hash string, password string) bool {
	return hash == "plain:"+password
}

type failingHasher struct{ plainHasher }

func (failingHasher) Hash(string) (string, error) {
	return "", errBoom
}

type fakeUserRepo struct {
	mu    sync.Mutex
	users map[uuid.UUID]entity.User
	err   error
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: map[uuid.UUID]entity.User{}}
}

func (r *fakeUserRepo) Create(_ context.Context, user *entity.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	for _, existing := range r.users {
		if existing.Email == user.Email {
			return repository.ErrDuplicate
		}
	}
	user.ID = uuid.New()
	r.users[user.ID] = *user
	return nil
}

func (r *fakeUserRepo) FindByID(_ context.Context, id uuid.UUID) (*entity.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	user, ok := r.users[id]
	if !ok {
		return nil, nil
	}
	return &user, nil
}

func (r *fakeUserRepo) FindByEmail(_ context.Context, email string) (*entity.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	for _, user := range r.users {
		if user.Email == email {
			u := user
			return &u, nil
		}
	}
	return nil, nil
}

func (r *fakeUserRepo) UpdateFields(_ context.Context, id uuid.UUID, fields map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return nil
	}
	for key, value := range fields {
		switch key {
		case "mfa_enabled":
			user.MFAEnabled = value.(bool)
		case "status":
			user.Status = value.(entity.UserStatus)
		case "role":
			user.Role = value.(entity.Role)
		case "password_hash":
			user.PasswordHash = value.(string)
		}
	}
	r.users[id] = user
	return nil
}

func (r *fakeUserRepo) TouchLastLogin(_ context.Context, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user := r.users[id]
	user.LastLoginAt = &at
	r.users[id] = user
	return nil
}

func (r *fakeUserRepo) List(_ context.Context, _, _ int) ([]entity.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]entity.User, 0, len(r.users))
	for _, user := range r.users {
		out = append(out, user)
	}
	return out, nil
}

func (r *fakeUserRepo) set(t *testing.T, email string, mutate func(*entity.User)) {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, user := range r.users {
		if user.Email == email {
			mutate(&user)
			r.users[id] = user
			return
		}
	}
	t.Fatalf("no user %s", email)
}

type fakeSessionRepo struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*entity.Session
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{sessions: map[uuid.UUID]*entity.Session{}}
}

func (r *fakeSessionRepo) Create(_ context.Context, s *entity.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s.ID = uuid.New()
	copied := *s
	r.sessions[s.ID] = &copied
	return nil
}

func (r *fakeSessionRepo) FindActiveByTokenHash(_ context.Context, hash string, now time.Time) (*entity.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.TokenHash == hash && s.Usable(now) {
			copied := *s
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *fakeSessionRepo) Deactivate(_ context.Context, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok || !s.Active {
		return false, nil
	}
	s.Active = false
	return true, nil
}

func (r *fakeSessionRepo) DeactivateByTokenHash(_ context.Context, hash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.TokenHash == hash {
			s.Active = false
		}
	}
	return nil
}

func (r *fakeSessionRepo) DeactivateAllByUser(_ context.Context, userID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.UserID == userID {
			s.Active = false
		}
	}
	return nil
}

func (r *fakeSessionRepo) CleanupExpired(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed int64
	for id, s := range r.sessions {
		if s.ExpiresAt.Before(before) {
			delete(r.sessions, id)
			removed++
		}
	}
	return removed, nil
}

func (r *fakeSessionRepo) activeCount(userID uuid.UUID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, s := range r.sessions {
		if s.UserID == userID && s.Active {
			count++
		}
	}
	return count
}

type fakeChallengeRepo struct {
	mu         sync.Mutex
	challenges []*entity.MFAChallenge
	err        error
}

func (r *fakeChallengeRepo) Create(_ context.Context, c *entity.MFAChallenge) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	c.ID = uuid.New()
	copied := *c
	r.challenges = append(r.challenges, &copied)
	return nil
}

func (r *fakeChallengeRepo) FindUsable(_ context.Context, userID uuid.UUID, codeHash string, now time.Time) (*entity.MFAChallenge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	var latest *entity.MFAChallenge
	for _, c := range r.challenges {
		if c.UserID != userID || c.Consumed || c.CodeHash != codeHash || !now.Before(c.ExpiresAt) {
			continue
		}
		if latest == nil || !c.CreatedAt.Before(latest.CreatedAt) {
			latest = c
		}
	}
	if latest == nil {
		return nil, nil
	}
	copied := *latest
	return &copied, nil
}

func (r *fakeChallengeRepo) MarkConsumed(_ context.Context, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.challenges {
		if c.ID == id && !c.Consumed {
			c.Consumed = true
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeChallengeRepo) ConsumeAllByUser(_ context.Context, userID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.challenges {
		if c.UserID == userID {
			c.Consumed = true
		}
	}
	return nil
}

func (r *fakeChallengeRepo) all() []entity.MFAChallenge {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]entity.MFAChallenge, 0, len(r.challenges))
	for _, c := range r.challenges {
		out = append(out, *c)
	}
	return out
}

type fakeVerificationRepo struct {
	mu     sync.Mutex
	tokens []*entity.VerificationToken
}

func (r *fakeVerificationRepo) Create(_ context.Context, t *entity.VerificationToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t.ID = uuid.New()
	copied := *t
	r.tokens = append(r.tokens, &copied)
	return nil
}

func (r *fakeVerificationRepo) FindValid(_ context.Context, hash string, typ entity.VerificationType, now time.Time) (*entity.VerificationToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tokens {
		if t.TokenHash == hash && t.Type == typ && t.UsedAt == nil && t.ExpiresAt.After(now) {
			copied := *t
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *fakeVerificationRepo) MarkUsed(_ context.Context, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tokens {
		if t.ID == id && t.UsedAt == nil {
			now := time.Now()
			t.UsedAt = &now
			return true, nil
		}
	}
	return false, nil
}

type fakeAuthLogRepo struct {
	mu      sync.Mutex
	entries []entity.AuthLog
	err     error
}

func (r *fakeAuthLogRepo) Log(_ context.Context, log *entity.AuthLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.entries = append(r.entries, *log)
	return nil
}

func (r *fakeAuthLogRepo) byAction(action entity.AuthAction) []entity.AuthLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []entity.AuthLog
	for _, e := range r.entries {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

type sentMail struct {
	to      string
	subject string
	body    string
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (m *fakeMailer) Send(_ context.Context, to string, subject string, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMail{to: to, subject: subject, body: body})
	return nil
}

var mailCodePattern = regexp.MustCompile(`\b(\d{6})\b`)

func (m *fakeMailer) lastCode(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.sent, "no mail sent")
	match := mailCodePattern.FindStringSubmatch(m.sent[len(m.sent)-1].body)
	require.Len(t, match, 2, "no code in mail body")
	return match[1]
}

func (m *fakeMailer) lastResetToken(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.sent, "no mail sent")
	body := m.sent[len(m.sent)-1].body
	return body[strings.LastIndex(body, " ")+1:]
}

type fixture struct {
	service       *AuthService
	users         *fakeUserRepo
	sessions      *fakeSessionRepo
	challenges    *fakeChallengeRepo
	verifications *fakeVerificationRepo
	logs          *fakeAuthLogRepo
	mailer        *fakeMailer
	clock         *fakeClock
	jwt           *utils.JWTManager
	hook          *test.Hook
}

func newFixture(t *testing.T, limiter LoginLimiter) *fixture {
	t.Helper()
	f := &fixture{
		users:         newFakeUserRepo(),
		sessions:      newFakeSessionRepo(),
		challenges:    &fakeChallengeRepo{},
		verifications: &fakeVerificationRepo{},
		logs:          &fakeAuthLogRepo{},
		mailer:        &fakeMailer{},
		clock:         &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
	}
	f.jwt = &utils.JWTManager{
		Secret:         []byte("test-secret"),
		Issuer:         "nutrihub-test",
		AccessTokenTTL: 15 * time.Minute,
		Now:            f.clock.Now,
	}
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	f.hook = hook

	challenges := NewMFAChallengeManager(f.challenges, f.clock, 10*time.Minute, false)
	f.service = NewAuthService(
		f.users,
		f.sessions,
		f.verifications,
		f.logs,
		challenges,
		f.mailer,
		limiter,
		plainHasher{},
		JWTAccessIssuer{Manager: f.jwt},
		f.clock,
		logger,
		AuthConfig{RefreshTokenTTL: 7 * 24 * time.Hour},
	)
	return f
}

func (f *fixture) register(t *testing.T, email, password string) *entity.User {
	t.Helper()
	user, err := f.service.Register(context.Background(), RegisterInput{Email: email, Password: password, Name: "Test"})
	require.NoError(t, err)
	return user
}

func device(id string) DeviceInfo {
	ip := "10.0.0.1"
	return DeviceInfo{DeviceID: id, DeviceName: "test " + id, IPAddress: &ip}
}

var errBoom = errors.New("boom")
