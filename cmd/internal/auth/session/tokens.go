package session

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"codetalk/cmd/internal/ids"

	"github.com/golang-jwt/jwt/v5"
)

// Role names carried in access tokens.
const (
	RoleUser  = "USER"
	RoleAdmin = "ADMIN"
)

// Subject is the user data a token pair is minted for.
type Subject struct {
	ID       int64
	Username string
	Email    string
	Role     string
}

// TokenPair is always issued as a unit.
type TokenPair struct {
	AccessToken      string    `json:"accessToken"`
	RefreshToken     string    `json:"refreshToken"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}

// Claims is the verified view of a token. Email and Role are empty for refresh tokens.
type Claims struct {
	UserID    int64
	Username  string
	Email     string
	Role      string
	Refresh   bool
	ExpiresAt time.Time
}

// IsAdmin reports whether the claims carry the admin role.
func (c *Claims) IsAdmin() bool { return c != nil && c.Role == RoleAdmin }

type accessClaims struct {
	UserID   int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

type refreshClaims struct {
	UserID   int64  `json:"id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// GenerateTokens signs a fresh access/refresh pair for s.
func (a *Authority) GenerateTokens(s Subject) (TokenPair, error) {
	if a == nil || a.cfg.AccessSecret == "" || a.cfg.RefreshSecret == "" {
		return TokenPair{}, fmt.Errorf("%w: token secrets are required", ErrConfig)
	}

	now := a.now().UTC()
	accessExp := now.Add(a.accessTTL)
	refreshExp := now.Add(a.refreshTTL)

	access := jwt.NewWithClaims(jwt.SigningMethodHS256, accessClaims{
		UserID:           s.ID,
		Username:         s.Username,
		Email:            s.Email,
		Role:             s.Role,
		RegisteredClaims: a.registered(s.ID, now, accessExp),
	})
	accessToken, err := access.SignedString([]byte(a.cfg.AccessSecret))
	if err != nil {
		return TokenPair{}, fmt.Errorf("sign access token: %w", err)
	}

	refresh := jwt.NewWithClaims(jwt.SigningMethodHS256, refreshClaims{
		UserID:           s.ID,
		Username:         s.Username,
		RegisteredClaims: a.registered(s.ID, now, refreshExp),
	})
	refreshToken, err := refresh.SignedString([]byte(a.cfg.RefreshSecret))
	if err != nil {
		return TokenPair{}, fmt.Errorf("sign refresh token: %w", err)
	}

	return TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func (a *Authority) registered(userID int64, now, exp time.Time) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		ID:        ids.New(now),
		Subject:   strconv.FormatInt(userID, 10),
		Issuer:    a.cfg.Issuer,
		Audience:  jwt.ClaimStrings{a.cfg.Audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
}

// VerifyToken checks signature, algorithm, issuer, audience and expiry using
// the access secret, or the refresh secret when isRefresh is set. An expired
// token fails with ErrTokenExpired; every other failure wraps ErrInvalidToken.
func (a *Authority) VerifyToken(token string, isRefresh bool) (*Claims, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}

	secret := []byte(a.cfg.AccessSecret)
	if isRefresh {
		secret = []byte(a.cfg.RefreshSecret)
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(a.cfg.Issuer),
		jwt.WithAudience(a.cfg.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(a.cfg.Leeway),
		jwt.WithTimeFunc(a.now),
	)
	keyFunc := func(*jwt.Token) (any, error) { return secret, nil }

	if isRefresh {
		var rc refreshClaims
		if _, err := parser.ParseWithClaims(token, &rc, keyFunc); err != nil {
			return nil, classifyJWTError(err)
		}
		return &Claims{
			UserID:    rc.UserID,
			Username:  rc.Username,
			Refresh:   true,
			ExpiresAt: rc.ExpiresAt.Time,
		}, nil
	}

	var ac accessClaims
	if _, err := parser.ParseWithClaims(token, &ac, keyFunc); err != nil {
		return nil, classifyJWTError(err)
	}
	return &Claims{
		UserID:    ac.UserID,
		Username:  ac.Username,
		Email:     ac.Email,
		Role:      ac.Role,
		ExpiresAt: ac.ExpiresAt.Time,
	}, nil
}

func classifyJWTError(err error) error {
	if errors.Is(err, jwt.ErrTokenExpired) {
		return ErrTokenExpired
	}
	return fmt.Errorf("%w: %v", ErrInvalidToken, err)
}
