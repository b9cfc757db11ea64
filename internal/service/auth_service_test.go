package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mestredb/api/internal/audit"
	"mestredb/api/internal/models"
	"mestredb/api/internal/ratelimit"
	"mestredb/api/internal/security"
)

func TestLogin_Succeeds(t *testing.T) {
	f := newFixture(t, ratelimit.DefaultConfig())
	ctx := context.Background()
	created := f.createUser(t, "user@example.com", "s3cret-pass")

	res, err := f.auth.Login(ctx, LoginInput{Identifier: "ip1", Email: "  USER@example.com ", Password: "s3cret-pass"})
	require.NoError(t, err)

	assert.Equal(t, created.ID, res.User.ID)
	require.NotNil(t, res.User.LastLogin)
	assert.Equal(t, f.clock.Now(), *res.User.LastLogin)

	access, err := f.tokens.ValidateAccess(ctx, res.Tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, created.ID, access.UserID)

	refresh, err := f.tokens.ValidateRefresh(ctx, res.Tokens.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, created.ID, refresh.UserID)

	stored, err := f.repo.FindByID(ctx, created.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LastLogin)

	assert.Contains(t, f.events.types(), audit.LoginSucceeded)
}

func TestLogin_RequiresEmailAndPassword(t *testing.T) {
	f := newFixture(t, ratelimit.DefaultConfig())

	_, err := f.auth.Login(context.Background(), LoginInput{Email: " ", Password: ""})
	require.ErrorIs(t, err, ErrBadRequest)

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Len(t, verr.Fields, 2)
	assert.Zero(t, f.limiter.Len())
}

func TestLogin_UnknownEmailAndWrongPasswordLookTheSame(t *testing.T) {
	f := newFixture(t, ratelimit.DefaultConfig())
	ctx := context.Background()
	f.createUser(t, "user@example.com", "s3cret-pass")

	_, errUnknown := f.auth.Login(ctx, LoginInput{Identifier: "ip1", Email: "nobody@example.com", Password: "whatever1"})
	_, errWrong := f.auth.Login(ctx, LoginInput{Identifier: "ip1", Email: "user@example.com", Password: "wrong-pass"})

	assert.ErrorIs(t, errUnknown, ErrInvalidCredentials)
	assert.ErrorIs(t, errWrong, ErrInvalidCredentials)
	assert.Equal(t, errUnknown.Error(), errWrong.Error())

	stats, ok := f.limiter.Stats("ip1")
	require.True(t, ok)
	assert.Equal(t, 2, stats.Count)
}

func TestLogin_IdentifierDefaultsToEmail(t *testing.T) {
	f := newFixture(t, ratelimit.DefaultConfig())

	_, err := f.auth.Login(context.Background(), LoginInput{Email: "Ghost@Example.com", Password: "whatever1"})
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, ok := f.limiter.Stats("ghost@example.com")
	assert.True(t, ok)
}

func TestLogin_DeletedAccountIsDisabled(t *testing.T) {
	f := newFixture(t, ratelimit.DefaultConfig())
	ctx := context.Background()
	u := f.createUser(t, "gone@example.com", "s3cret-pass")
	require.NoError(t, f.users.Delete(ctx, 0, u.ID))

	_, err := f.auth.Login(ctx, LoginInput{Identifier: "ip1", Email: "gone@example.com", Password: "s3cret-pass"})
	assert.ErrorIs(t, err, ErrAccountDisabled)
	assert.NotErrorIs(t, err, ErrInvalidCredentials)

	_, ok := f.limiter.Stats("ip1")
	assert.False(t, ok)
	assert.Zero(t, f.hasher.verifies.Load())
}

func TestLogin_BlockedAfterMaxAttemptsThenRecovers(t *testing.T) {
	f := newFixture(t, ratelimit.Config{MaxAttempts: 3, Window: 15 * time.Minute, Block: 15 * time.Minute})
	ctx := context.Background()
	f.createUser(t, "user@example.com", "right-password")

	for i := 0; i < 3; i++ {
		_, err := f.auth.Login(ctx, LoginInput{Identifier: "ip1", Email: "user@example.com", Password: "wrong-password"})
		require.ErrorIs(t, err, ErrInvalidCredentials)
		f.clock.Advance(time.Second)
	}
	verifies := f.hasher.verifies.Load()

	_, err := f.auth.Login(ctx, LoginInput{Identifier: "ip1", Email: "user@example.com", Password: "right-password"})
	require.ErrorIs(t, err, ErrTooManyAttempts)
	var rl *RateLimitError
	require.True(t, errors.As(err, &rl))
	assert.Greater(t, rl.RetryAfter, time.Duration(0))
	assert.Equal(t, verifies, f.hasher.verifies.Load(), "hasher must not run while blocked")
	assert.Contains(t, f.events.types(), audit.LoginBlocked)

	// Another identifier is unaffected.
	_, err = f.auth.Login(ctx, LoginInput{Identifier: "ip2", Email: "user@example.com", Password: "right-password"})
	require.NoError(t, err)

	f.clock.Advance(rl.RetryAfter)
	res, err := f.auth.Login(ctx, LoginInput{Identifier: "ip1", Email: "user@example.com", Password: "right-password"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Tokens.AccessToken)
	assert.NotEmpty(t, res.Tokens.RefreshToken)
}

func TestLogin_SuccessResetsFailures(t *testing.T) {
	f := newFixture(t, ratelimit.Config{MaxAttempts: 3, Window: time.Hour, Block: time.Hour})
	ctx := context.Background()
	f.createUser(t, "user@example.com", "right-password")

	for i := 0; i < 2; i++ {
		_, _ = f.auth.Login(ctx, LoginInput{Identifier: "ip1", Email: "user@example.com", Password: "nope-nope"})
	}
	_, err := f.auth.Login(ctx, LoginInput{Identifier: "ip1", Email: "user@example.com", Password: "right-password"})
	require.NoError(t, err)

	d := f.limiter.CanAttempt("ip1")
	assert.True(t, d.Allowed)
	assert.Equal(t, 3, d.AttemptsLeft)
}

func TestLogin_RepositoryFailureIsInternal(t *testing.T) {
	f := newFixture(t, ratelimit.DefaultConfig())
	auth := NewAuthService(brokenRepo{err: errors.New("db down")}, f.hasher, f.tokens, f.limiter, nil, zerolog.Nop())

	_, err := auth.Login(context.Background(), LoginInput{Email: "a@x.com", Password: "password1"})
	assert.ErrorIs(t, err, ErrInternal)
	assert.Zero(t, f.limiter.Len())
}

func TestRegister(t *testing.T) {
	f := newFixture(t, ratelimit.DefaultConfig())
	ctx := context.Background()

	res, err := f.auth.Register(ctx, RegisterInput{Name: "Ana", Email: "Ana@Example.com", Password: "long-enough"})
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", res.User.Email)
	assert.False(t, res.User.IsSuperuser)

	payload, err := f.tokens.ValidateAccess(ctx, res.Tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, res.User.ID, payload.UserID)

	_, err = f.auth.Register(ctx, RegisterInput{Name: "Ana Two", Email: "ana@example.com", Password: "long-enough"})
	assert.ErrorIs(t, err, ErrConflict)

	stored, err := f.repo.FindByEmail(ctx, "ana@example.com")
	require.NoError(t, err)
	assert.NotEqual(t, "long-enough", stored.PasswordHash)
}

func TestRegister_Validation(t *testing.T) {
	f := newFixture(t, ratelimit.DefaultConfig())

	_, err := f.auth.Register(context.Background(), RegisterInput{Name: "A", Email: "not-an-email", Password: "short"})
	require.ErrorIs(t, err, ErrBadRequest)

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	fields := make([]string, 0, len(verr.Fields))
	for _, fe := range verr.Fields {
		fields = append(fields, fe.Field)
	}
	assert.ElementsMatch(t, []string{"name", "email", "password"}, fields)
}

func TestRefresh(t *testing.T) {
	f := newFixture(t, ratelimit.DefaultConfig())
	ctx := context.Background()
	f.createUser(t, "user@example.com", "right-password")

	login, err := f.auth.Login(ctx, LoginInput{Email: "user@example.com", Password: "right-password"})
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	res, err := f.auth.Refresh(ctx, login.Tokens.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, login.Tokens.AccessToken, res.Tokens.AccessToken)

	_, err = f.auth.Refresh(ctx, login.Tokens.AccessToken)
	assert.ErrorIs(t, err, security.ErrWrongKind)

	_, err = f.auth.Refresh(ctx, "garbage")
	assert.ErrorIs(t, err, security.ErrInvalidToken)
}

func TestRefresh_DeletedOrPurgedAccount(t *testing.T) {
	f := newFixture(t, ratelimit.DefaultConfig())
	ctx := context.Background()
	admin := f.createUser(t, "admin@example.com", "right-password")
	u := f.createUser(t, "user@example.com", "right-password")

	login, err := f.auth.Login(ctx, LoginInput{Email: "user@example.com", Password: "right-password"})
	require.NoError(t, err)

	require.NoError(t, f.users.Delete(ctx, admin.ID, u.ID))
	_, err = f.auth.Refresh(ctx, login.Tokens.RefreshToken)
	assert.ErrorIs(t, err, ErrAccountDisabled)

	require.NoError(t, f.users.HardDelete(ctx, u.ID, admin.ID))
	_, err = f.auth.Refresh(ctx, login.Tokens.RefreshToken)
	assert.ErrorIs(t, err, security.ErrInvalidToken)
}

func TestLogoutRevokesToken(t *testing.T) {
	f := newFixture(t, ratelimit.DefaultConfig())
	ctx := context.Background()
	f.createUser(t, "user@example.com", "right-password")

	login, err := f.auth.Login(ctx, LoginInput{Email: "user@example.com", Password: "right-password"})
	require.NoError(t, err)

	_, _, err = f.auth.Authenticate(ctx, login.Tokens.AccessToken)
	require.NoError(t, err)

	require.NoError(t, f.auth.Logout(ctx, login.Tokens.AccessToken))
	_, _, err = f.auth.Authenticate(ctx, login.Tokens.AccessToken)
	assert.ErrorIs(t, err, security.ErrRevoked)

	require.NoError(t, f.auth.Logout(ctx, login.Tokens.RefreshToken))
	_, err = f.auth.Refresh(ctx, login.Tokens.RefreshToken)
	assert.ErrorIs(t, err, security.ErrRevoked)

	err = f.auth.Logout(ctx, "not-a-token")
	assert.ErrorIs(t, err, security.ErrInvalidToken)

	assert.Contains(t, f.events.types(), audit.UserLoggedOut)
}

func TestAuthenticate(t *testing.T) {
	f := newFixture(t, ratelimit.DefaultConfig())
	ctx := context.Background()
	u := f.createUser(t, "user@example.com", "right-password")

	login, err := f.auth.Login(ctx, LoginInput{Email: "user@example.com", Password: "right-password"})
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	user, payload, err := f.auth.Authenticate(ctx, login.Tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, u.ID, user.ID)
	assert.Equal(t, u.ID, payload.UserID)
	assert.Equal(t, f.clock.Now(), user.LastAccess)

	_, _, err = f.auth.Authenticate(ctx, login.Tokens.RefreshToken)
	assert.ErrorIs(t, err, security.ErrWrongKind)

	require.NoError(t, f.users.Delete(ctx, 0, u.ID))
	_, _, err = f.auth.Authenticate(ctx, login.Tokens.AccessToken)
	assert.ErrorIs(t, err, ErrAccountDisabled)

	f.clock.Advance(2 * time.Hour)
	_, _, err = f.auth.Authenticate(ctx, login.Tokens.AccessToken)
	assert.ErrorIs(t, err, security.ErrExpiredToken)
}

type unreachableBlacklist struct{ security.MemoryBlacklist }

func (*unreachableBlacklist) Contains(context.Context, string) (bool, error) {
	return false, errors.New("dial tcp: connection refused")
}

func TestAuthenticate_BlacklistOutageIsInternal(t *testing.T) {
	f := newFixture(t, ratelimit.DefaultConfig())
	tokens, err := security.NewTokenService(security.TokenConfig{Secret: "s", AccessTTL: time.Minute, RefreshTTL: time.Hour}, &unreachableBlacklist{})
	require.NoError(t, err)
	auth := NewAuthService(f.repo, f.hasher, tokens, f.limiter, nil, zerolog.Nop())

	u := f.createUser(t, "user@example.com", "right-password")
	token, err := tokens.IssueAccessToken(models.User{ID: u.ID, Email: u.Email})
	require.NoError(t, err)

	_, _, err = auth.Authenticate(context.Background(), token)
	assert.ErrorIs(t, err, ErrInternal)
}

func TestMe(t *testing.T) {
	f := newFixture(t, ratelimit.DefaultConfig())
	ctx := context.Background()
	u := f.createUser(t, "user@example.com", "right-password")

	me, err := f.auth.Me(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", me.Email)

	_, err = f.auth.Me(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)
}
