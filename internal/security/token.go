package security

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/segmentio/ksuid"

	"mestredb/api/internal/models"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrWrongKind    = errors.New("wrong token type")
	ErrRevoked      = errors.New("token revoked")
)

type TokenKind string

const (
	KindAccess  TokenKind = "access"
	KindRefresh TokenKind = "refresh"
)

type TokenConfig struct {
	Secret     string
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	TokenType    string `json:"tokenType"`
	ExpiresIn    int64  `json:"expiresIn"`
}

type TokenPayload struct {
	ID          string
	UserID      int64
	Email       string
	IsSuperuser bool
	Kind        TokenKind
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

type tokenClaims struct {
	Email       string    `json:"email"`
	IsSuperuser bool      `json:"is_superuser"`
	Kind        TokenKind `json:"type"`
	jwt.RegisteredClaims
}

type TokenService struct {
	cfg       TokenConfig
	blacklist Blacklist
	now       func() time.Time
}

type TokenOption func(*TokenService)

// WithTokenClock replaces time.Now for issuing and validating tokens.
func WithTokenClock(now func() time.Time) TokenOption {
	return func(s *TokenService) {
		s.now = now
	}
}

func NewTokenService(cfg TokenConfig, blacklist Blacklist, opts ...TokenOption) (*TokenService, error) {
	if strings.TrimSpace(cfg.Secret) == "" {
		return nil, errors.New("token service: secret is required")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("token service: ttl values must be positive")
	}
	if cfg.AccessTTL >= cfg.RefreshTTL {
		return nil, fmt.Errorf("token service: access ttl %s must be shorter than refresh ttl %s", cfg.AccessTTL, cfg.RefreshTTL)
	}
	if blacklist == nil {
		blacklist = NewMemoryBlacklist()
	}

	s := &TokenService{cfg: cfg, blacklist: blacklist, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Config returns the token lifetimes and issuer. The secret is never exposed.
func (s *TokenService) Config() TokenConfig {
	cfg := s.cfg
	cfg.Secret = ""
	return cfg
}

func (s *TokenService) IssueAccessToken(user models.User) (string, error) {
	return s.issue(user, KindAccess, s.cfg.AccessTTL)
}

func (s *TokenService) IssueRefreshToken(user models.User) (string, error) {
	return s.issue(user, KindRefresh, s.cfg.RefreshTTL)
}

func (s *TokenService) IssuePair(user models.User) (TokenPair, error) {
	access, err := s.IssueAccessToken(user)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := s.IssueRefreshToken(user)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.cfg.AccessTTL.Seconds()),
	}, nil
}

func (s *TokenService) issue(user models.User, kind TokenKind, ttl time.Duration) (string, error) {
	now := s.now()
	claims := tokenClaims{
		Email:       user.Email,
		IsSuperuser: user.IsSuperuser,
		Kind:        kind,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        ksuid.New().String(),
			Subject:   strconv.FormatInt(user.ID, 10),
			Issuer:    s.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("sign jwt: %w", err)
	}
	return signed, nil
}

func (s *TokenService) ValidateAccess(ctx context.Context, token string) (*TokenPayload, error) {
	return s.validate(ctx, token, KindAccess)
}

func (s *TokenService) ValidateRefresh(ctx context.Context, token string) (*TokenPayload, error) {
	return s.validate(ctx, token, KindRefresh)
}

// validate checks signature and expiry first, then the blacklist, then the kind.
func (s *TokenService) validate(ctx context.Context, token string, want TokenKind) (*TokenPayload, error) {
	payload, err := s.parse(token, true)
	if err != nil {
		return nil, err
	}

	revoked, err := s.blacklist.Contains(ctx, payload.ID)
	if err != nil {
		return nil, fmt.Errorf("check blacklist: %w", err)
	}
	if revoked {
		return nil, ErrRevoked
	}

	if payload.Kind != want {
		return nil, ErrWrongKind
	}
	return payload, nil
}

// RefreshPair validates the refresh token and mints a new pair for user.
// The consumed refresh token stays valid until it expires.
func (s *TokenService) RefreshPair(ctx context.Context, refreshToken string, user models.User) (TokenPair, error) {
	payload, err := s.ValidateRefresh(ctx, refreshToken)
	if err != nil {
		return TokenPair{}, err
	}
	if payload.UserID != user.ID {
		return TokenPair{}, fmt.Errorf("%w: subject mismatch", ErrInvalidToken)
	}
	return s.IssuePair(user)
}

// Revoke blacklists a token of either kind. Expired or forged tokens are
// rejected with ErrInvalidToken.
func (s *TokenService) Revoke(ctx context.Context, token string) error {
	payload, err := s.parse(token, true)
	if err != nil {
		if errors.Is(err, ErrInvalidToken) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if err := s.blacklist.Add(ctx, payload.ID, payload.ExpiresAt); err != nil {
		return fmt.Errorf("blacklist token: %w", err)
	}
	return nil
}

// PeekPayload verifies the signature but ignores expiry.
func (s *TokenService) PeekPayload(token string) (*TokenPayload, bool) {
	payload, err := s.parse(token, false)
	if err != nil {
		return nil, false
	}
	return payload, true
}

// IsExpired reports true for expired tokens and for tokens that cannot be read at all.
func (s *TokenService) IsExpired(token string) bool {
	payload, ok := s.PeekPayload(token)
	if !ok {
		return true
	}
	return !s.now().Before(payload.ExpiresAt)
}

func (s *TokenService) parse(token string, validateClaims bool) (*TokenPayload, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	}
	if validateClaims {
		opts = append(opts, jwt.WithExpirationRequired())
		if s.cfg.Issuer != "" {
			opts = append(opts, jwt.WithIssuer(s.cfg.Issuer))
		}
	} else {
		opts = append(opts, jwt.WithoutClaimsValidation())
	}

	claims := &tokenClaims{}
	parsed, err := jwt.NewParser(opts...).ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(s.cfg.Secret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidToken
	}

	return claims.payload()
}

func (c *tokenClaims) payload() (*TokenPayload, error) {
	userID, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad subject", ErrInvalidToken)
	}
	if c.ID == "" || c.ExpiresAt == nil {
		return nil, fmt.Errorf("%w: missing claims", ErrInvalidToken)
	}
	if c.Kind != KindAccess && c.Kind != KindRefresh {
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidToken, c.Kind)
	}

	p := &TokenPayload{
		ID:          c.ID,
		UserID:      userID,
		Email:       c.Email,
		IsSuperuser: c.IsSuperuser,
		Kind:        c.Kind,
		ExpiresAt:   c.ExpiresAt.Time,
	}
	if c.IssuedAt != nil {
		p.IssuedAt = c.IssuedAt.Time
	}
	return p, nil
}
