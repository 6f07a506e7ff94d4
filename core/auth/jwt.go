package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"VoteFM/model"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrEmptyToken   = errors.New("empty token")
)

// TokenManager 签发和校验 HS256 JWT
type TokenManager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenManager creates a signer/verifier; tokens live for ttl.
func NewTokenManager(secret string, ttl time.Duration) *TokenManager {
	return &TokenManager{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Sign creates a token for the identity.
func (m *TokenManager) Sign(id model.UserIdentity) (string, error) {
	if id.UserID <= 0 {
		return "", errors.New("empty user id")
	}
	now := m.now()
	claims := jwt.MapClaims{
		"sub":  strconv.FormatInt(id.UserID, 10),
		"name": id.Username,
		"iat":  now.Unix(),
		"exp":  now.Add(m.ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// Parse checks signature and expiry and returns the identity in the claims.
func (m *TokenManager) Parse(tok string) (model.UserIdentity, error) {
	if tok == "" {
		return model.UserIdentity{}, ErrEmptyToken
	}
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(tok, claims, func(token *jwt.Token) (interface{}, error) {
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(m.now), jwt.WithExpirationRequired())
	if err != nil {
		return model.UserIdentity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	sub, _ := claims["sub"].(string)
	uid, err := strconv.ParseInt(sub, 10, 64)
	if err != nil || uid <= 0 {
		return model.UserIdentity{}, fmt.Errorf("%w: bad sub", ErrInvalidToken)
	}
	name, _ := claims["name"].(string)
	return model.UserIdentity{UserID: uid, Username: name}, nil
}

type ctxKey int

const userKey ctxKey = 1

// WithUser adds the verified identity to the context.
func WithUser(ctx context.Context, id model.UserIdentity) context.Context {
	return context.WithValue(ctx, userKey, id)
}

// UserFromContext extracts the identity set by WithUser.
func UserFromContext(ctx context.Context) (model.UserIdentity, bool) {
	id, ok := ctx.Value(userKey).(model.UserIdentity)
	return id, ok
}
