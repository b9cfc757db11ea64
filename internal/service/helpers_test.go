package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"mestredb/api/internal/audit"
	"mestredb/api/internal/models"
	"mestredb/api/internal/ratelimit"
	"mestredb/api/internal/repository"
	"mestredb/api/internal/security"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type countingHasher struct {
	inner    *security.PasswordHasher
	verifies atomic.Int32
}

func (h *countingHasher) Hash(p string) (string, error) { return h.inner.Hash(p) }

func (h *countingHasher) Verify(p, hash string) (bool, error) {
	h.verifies.Add(1)
	return h.inner.Verify(p, hash)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []audit.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e audit.Event) error {
	p.mu.Lock()
	p.events = append(p.events, e)
	p.mu.Unlock()
	return nil
}

func (p *recordingPublisher) types() []audit.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]audit.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	clock     *clock
	repo      *repository.MemoryUserRepository
	hasher    *countingHasher
	blacklist *security.MemoryBlacklist
	tokens    *security.TokenService
	limiter   *ratelimit.Limiter
	events    *recordingPublisher
	auth      *AuthService
	users     *UserService
}

func newFixture(t *testing.T, limits ratelimit.Config) *fixture {
	t.Helper()

	f := &fixture{
		clock:     &clock{t: time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)},
		repo:      repository.NewMemoryUserRepository(),
		hasher:    &countingHasher{inner: security.NewPasswordHasher(security.Argon2Params{Time: 1, Memory: 8 * 1024, Threads: 1, KeyLen: 32, SaltLen: 16})},
		blacklist: security.NewMemoryBlacklist(),
		events:    &recordingPublisher{},
	}

	var err error
	f.tokens, err = security.NewTokenService(security.TokenConfig{
		Secret:     "service-test-secret",
		Issuer:     "mestredb",
		AccessTTL:  time.Hour,
		RefreshTTL: 24 * time.Hour,
	}, f.blacklist, security.WithTokenClock(f.clock.Now))
	require.NoError(t, err)

	f.limiter, err = ratelimit.New(limits, ratelimit.WithClock(f.clock.Now))
	require.NoError(t, err)

	f.auth = NewAuthService(f.repo, f.hasher, f.tokens, f.limiter, f.events, zerolog.Nop())
	f.auth.now = f.clock.Now
	f.users = NewUserService(f.repo, f.hasher, f.events, zerolog.Nop())
	f.users.now = f.clock.Now
	return f
}

func (f *fixture) createUser(t *testing.T, email, password string) models.PublicUser {
	t.Helper()
	u, err := f.users.Create(context.Background(), 0, CreateUserInput{Name: "Test User", Email: email, Password: password})
	require.NoError(t, err)
	return u
}

// brokenRepo fails every call with err.
type brokenRepo struct {
	err error
}

func (r brokenRepo) Create(context.Context, models.NewUser) (models.User, error) {
	return models.User{}, r.err
}
func (r brokenRepo) FindByID(context.Context, int64) (models.User, error) { return models.User{}, r.err }
func (r brokenRepo) FindByIDWithDeleted(context.Context, int64) (models.User, error) {
	return models.User{}, r.err
}
func (r brokenRepo) FindByEmail(context.Context, string) (models.User, error) {
	return models.User{}, r.err
}
func (r brokenRepo) FindByEmailWithDeleted(context.Context, string) (models.User, error) {
	return models.User{}, r.err
}
func (r brokenRepo) Update(context.Context, int64, models.UserUpdate) (models.User, error) {
	return models.User{}, r.err
}
func (r brokenRepo) SoftDelete(context.Context, int64) error { return r.err }
func (r brokenRepo) Restore(context.Context, int64) (models.User, error) {
	return models.User{}, r.err
}
func (r brokenRepo) HardDelete(context.Context, int64) error { return r.err }
func (r brokenRepo) List(context.Context, repository.ListFilter) ([]models.User, int, error) {
	return nil, 0, r.err
}
func (r brokenRepo) UpdateLastLogin(context.Context, int64, time.Time) error  { return r.err }
func (r brokenRepo) UpdateLastAccess(context.Context, int64, time.Time) error { return r.err }
