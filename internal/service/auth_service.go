package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"mestredb/api/internal/audit"
	"mestredb/api/internal/models"
	"mestredb/api/internal/ratelimit"
	"mestredb/api/internal/repository"
	"mestredb/api/internal/security"
)

type UserRepository interface {
	Create(ctx context.Context, user models.NewUser) (models.User, error)
	FindByID(ctx context.Context, id int64) (models.User, error)
	FindByIDWithDeleted(ctx context.Context, id int64) (models.User, error)
	FindByEmail(ctx context.Context, email string) (models.User, error)
	FindByEmailWithDeleted(ctx context.Context, email string) (models.User, error)
	Update(ctx context.Context, id int64, upd models.UserUpdate) (models.User, error)
	SoftDelete(ctx context.Context, id int64) error
	Restore(ctx context.Context, id int64) (models.User, error)
	HardDelete(ctx context.Context, id int64) error
	List(ctx context.Context, filter repository.ListFilter) ([]models.User, int, error)
	UpdateLastLogin(ctx context.Context, id int64, at time.Time) error
	UpdateLastAccess(ctx context.Context, id int64, at time.Time) error
}

type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, hash string) (bool, error)
}

type AuthService struct {
	users   UserRepository
	hasher  PasswordHasher
	tokens  *security.TokenService
	limiter *ratelimit.Limiter
	audit   audit.Publisher
	log     zerolog.Logger
	now     func() time.Time
}

func NewAuthService(
	users UserRepository,
	hasher PasswordHasher,
	tokens *security.TokenService,
	limiter *ratelimit.Limiter,
	publisher audit.Publisher,
	log zerolog.Logger,
) *AuthService {
	if publisher == nil {
		publisher = audit.Discard{}
	}
	return &AuthService{
		users:   users,
		hasher:  hasher,
		tokens:  tokens,
		limiter: limiter,
		audit:   publisher,
		log:     log.With().Str("component", "auth").Logger(),
		now:     time.Now,
	}
}

type AuthResult struct {
	Tokens security.TokenPair `json:"tokens"`
	User   models.PublicUser  `json:"user"`
}

// LoginInput carries the credentials. Identifier keys the rate limiter and
// defaults to the normalized email.
type LoginInput struct {
	Identifier string
	Email      string
	Password   string
}

func (s *AuthService) Login(ctx context.Context, input LoginInput) (AuthResult, error) {
	email := normalizeEmail(input.Email)

	var fields []FieldError
	fields = checkRequired("email", email, fields)
	fields = checkRequired("password", input.Password, fields)
	if err := validationFailed(fields); err != nil {
		return AuthResult{}, err
	}

	id := strings.TrimSpace(input.Identifier)
	if id == "" {
		id = email
	}

	decision := s.limiter.CanAttempt(id)
	if !decision.Allowed {
		s.publish(ctx, audit.LoginBlocked, func(e *audit.Event) {
			e.Email = email
			e.Identifier = id
		})
		s.log.Warn().Str("identifier", id).Dur("retry_after", decision.RetryAfter).Msg("login blocked")
		return AuthResult{}, &RateLimitError{RetryAfter: decision.RetryAfter}
	}

	user, err := s.users.FindByEmailWithDeleted(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			s.loginFailed(ctx, id, email, 0)
			return AuthResult{}, ErrInvalidCredentials
		}
		return AuthResult{}, internal(s.log, "find user by email", err)
	}

	if user.IsDeleted() {
		return AuthResult{}, ErrAccountDisabled
	}

	ok, err := s.hasher.Verify(input.Password, user.PasswordHash)
	if err != nil {
		return AuthResult{}, internal(s.log, "verify password", err)
	}
	if !ok {
		s.loginFailed(ctx, id, email, user.ID)
		return AuthResult{}, ErrInvalidCredentials
	}

	s.limiter.RecordAttempt(id, true)

	now := s.now()
	if err := s.users.UpdateLastLogin(ctx, user.ID, now); err != nil {
		return AuthResult{}, internal(s.log, "update last login", err)
	}
	user.LastLogin = &now
	user.LastAccess = now

	pair, err := s.tokens.IssuePair(user)
	if err != nil {
		return AuthResult{}, internal(s.log, "issue tokens", err)
	}

	s.publish(ctx, audit.LoginSucceeded, func(e *audit.Event) {
		e.ActorID = user.ID
		e.TargetID = user.ID
		e.Email = email
		e.Identifier = id
	})
	return AuthResult{Tokens: pair, User: user.Public()}, nil
}

func (s *AuthService) loginFailed(ctx context.Context, id, email string, userID int64) {
	s.limiter.RecordAttempt(id, false)
	s.publish(ctx, audit.LoginFailed, func(e *audit.Event) {
		e.TargetID = userID
		e.Email = email
		e.Identifier = id
	})
}

type RegisterInput struct {
	Name     string
	Email    string
	Password string
}

func (s *AuthService) Register(ctx context.Context, input RegisterInput) (AuthResult, error) {
	input.Email = normalizeEmail(input.Email)
	input.Name = strings.TrimSpace(input.Name)

	var fields []FieldError
	fields = checkName(input.Name, fields)
	fields = checkEmail(input.Email, fields)
	fields = checkPassword(input.Password, fields)
	if err := validationFailed(fields); err != nil {
		return AuthResult{}, err
	}

	user, err := createUser(ctx, s.users, s.hasher, s.log, models.NewUser{
		Name:  input.Name,
		Email: input.Email,
	}, input.Password)
	if err != nil {
		return AuthResult{}, err
	}

	pair, err := s.tokens.IssuePair(user)
	if err != nil {
		return AuthResult{}, internal(s.log, "issue tokens", err)
	}

	s.publish(ctx, audit.UserRegistered, func(e *audit.Event) {
		e.ActorID = user.ID
		e.TargetID = user.ID
		e.Email = user.Email
	})
	return AuthResult{Tokens: pair, User: user.Public()}, nil
}

// createUser enforces email uniqueness among active users and stores the
// hashed password. Shared by registration and admin creation.
func createUser(ctx context.Context, users UserRepository, hasher PasswordHasher, log zerolog.Logger, in models.NewUser, password string) (models.User, error) {
	if _, err := users.FindByEmail(ctx, in.Email); err == nil {
		return models.User{}, ErrConflict
	} else if !errors.Is(err, repository.ErrUserNotFound) {
		return models.User{}, internal(log, "find user by email", err)
	}

	hash, err := hasher.Hash(password)
	if err != nil {
		return models.User{}, internal(log, "hash password", err)
	}
	in.PasswordHash = hash

	user, err := users.Create(ctx, in)
	if err != nil {
		if errors.Is(err, repository.ErrEmailTaken) {
			return models.User{}, ErrConflict
		}
		return models.User{}, internal(log, "create user", err)
	}
	return user, nil
}

// Refresh exchanges a refresh token for a new pair. A refresh token that
// belongs to a deleted account stops working even before it expires.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (AuthResult, error) {
	payload, err := s.tokens.ValidateRefresh(ctx, refreshToken)
	if err != nil {
		return AuthResult{}, s.tokenError("validate refresh token", err)
	}

	user, err := s.users.FindByIDWithDeleted(ctx, payload.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return AuthResult{}, security.ErrInvalidToken
		}
		return AuthResult{}, internal(s.log, "find user by id", err)
	}
	if user.IsDeleted() {
		return AuthResult{}, ErrAccountDisabled
	}

	pair, err := s.tokens.RefreshPair(ctx, refreshToken, user)
	if err != nil {
		return AuthResult{}, s.tokenError("refresh pair", err)
	}
	return AuthResult{Tokens: pair, User: user.Public()}, nil
}

func (s *AuthService) Logout(ctx context.Context, token string) error {
	payload, _ := s.tokens.PeekPayload(token)

	if err := s.tokens.Revoke(ctx, token); err != nil {
		return s.tokenError("revoke token", err)
	}

	if payload != nil {
		s.publish(ctx, audit.UserLoggedOut, func(e *audit.Event) {
			e.ActorID = payload.UserID
			e.TargetID = payload.UserID
			e.Email = payload.Email
		})
	}
	return nil
}

// Authenticate resolves an access token to the active user it was issued for.
func (s *AuthService) Authenticate(ctx context.Context, accessToken string) (models.User, *security.TokenPayload, error) {
	payload, err := s.tokens.ValidateAccess(ctx, accessToken)
	if err != nil {
		return models.User{}, nil, s.tokenError("validate access token", err)
	}

	user, err := s.users.FindByIDWithDeleted(ctx, payload.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return models.User{}, nil, security.ErrInvalidToken
		}
		return models.User{}, nil, internal(s.log, "find user by id", err)
	}
	if user.IsDeleted() {
		return models.User{}, nil, ErrAccountDisabled
	}

	now := s.now()
	if err := s.users.UpdateLastAccess(ctx, user.ID, now); err != nil {
		s.log.Warn().Err(err).Int64("user_id", user.ID).Msg("update last access failed")
	} else {
		user.LastAccess = now
	}
	return user, payload, nil
}

func (s *AuthService) Me(ctx context.Context, userID int64) (models.PublicUser, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return models.PublicUser{}, ErrNotFound
		}
		return models.PublicUser{}, internal(s.log, "find user by id", err)
	}
	return user.Public(), nil
}

var tokenErrors = []error{
	security.ErrInvalidToken,
	security.ErrExpiredToken,
	security.ErrWrongKind,
	security.ErrRevoked,
}

// tokenError passes token validation failures through and treats anything
// else, such as an unreachable blacklist, as an infrastructure failure.
func (s *AuthService) tokenError(op string, err error) error {
	for _, target := range tokenErrors {
		if errors.Is(err, target) {
			return err
		}
	}
	return internal(s.log, op, err)
}

func (s *AuthService) publish(ctx context.Context, t audit.EventType, fill func(*audit.Event)) {
	publishEvent(ctx, s.audit, s.log, t, fill)
}

func publishEvent(ctx context.Context, pub audit.Publisher, log zerolog.Logger, t audit.EventType, fill func(*audit.Event)) {
	event := audit.NewEvent(t)
	fill(&event)
	if err := pub.Publish(ctx, event); err != nil {
		log.Warn().Err(err).Str("type", string(t)).Msg("publish audit event failed")
	}
}
