package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"tabi/internal/apperror"
	"tabi/internal/config"

	"github.com/golang-jwt/jwt/v5"
)

type TokenKind string

const (
	AccessToken  TokenKind = "access"
	RefreshToken TokenKind = "refresh"
)

var (
	ErrInvalidToken = apperror.Auth("INVALID_TOKEN", "Invalid or expired token")
	ErrTokenExpired = apperror.Auth("TOKEN_EXPIRED", "Token has expired")
)

type claims struct {
	Kind TokenKind `json:"typ"`
	jwt.RegisteredClaims
}

// Tokens signs and parses HS256 access and refresh tokens. Each kind has its
// own secret, so a refresh token is never accepted as an access token.
type Tokens struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
}

func NewTokens(cfg config.JWTConfig, now func() time.Time) *Tokens {
	if now == nil {
		now = time.Now
	}
	return &Tokens{
		accessSecret:  []byte(cfg.AccessSecret),
		refreshSecret: []byte(cfg.RefreshSecret),
		accessTTL:     cfg.AccessTTL,
		refreshTTL:    cfg.RefreshTTL,
		now:           now,
	}
}

func (t *Tokens) secret(kind TokenKind) []byte {
	if kind == RefreshToken {
		return t.refreshSecret
	}
	return t.accessSecret
}

func (t *Tokens) sign(userID uint, kind TokenKind, ttl time.Duration) (string, error) {
	now := t.now()
	c := claims{
		Kind: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(uint64(userID), 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(t.secret(kind))
}

// Issue returns a fresh access and refresh token pair for userID.
func (t *Tokens) Issue(userID uint) (access, refresh string, err error) {
	if access, err = t.sign(userID, AccessToken, t.accessTTL); err != nil {
		return "", "", apperror.Unexpected("TOKEN_GENERATION_ERROR", fmt.Errorf("sign access token: %w", err))
	}
	if refresh, err = t.sign(userID, RefreshToken, t.refreshTTL); err != nil {
		return "", "", apperror.Unexpected("TOKEN_GENERATION_ERROR", fmt.Errorf("sign refresh token: %w", err))
	}
	return access, refresh, nil
}

// Parse validates a token of the given kind and returns its user id.
func (t *Tokens) Parse(token string, kind TokenKind) (uint, error) {
	var c claims
	_, err := jwt.ParseWithClaims(token, &c, func(*jwt.Token) (interface{}, error) {
		return t.secret(kind), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(t.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return 0, ErrTokenExpired
		}
		return 0, ErrInvalidToken.Wrap(err)
	}
	if c.Kind != kind {
		return 0, ErrInvalidToken
	}

	id, err := strconv.ParseUint(c.Subject, 10, 64)
	if err != nil || id == 0 {
		return 0, ErrInvalidToken
	}
	return uint(id), nil
}
