package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"VoteFM/model"
	"VoteFM/repository"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInvalidInput       = errors.New("username, email and password are required")
)

// Verifier turns a bearer credential into a verified identity.
type Verifier interface {
	Verify(ctx context.Context, credential string) (model.UserIdentity, error)
}

// Service 用户注册、登录与凭证校验
type Service struct {
	users  repository.UserRepository
	tokens *TokenManager
}

// NewService creates the auth service.
func NewService(users repository.UserRepository, tokens *TokenManager) *Service {
	return &Service{users: users, tokens: tokens}
}

// Register creates a user and returns a signed token.
func (s *Service) Register(ctx context.Context, username, email, password string) (*model.User, string, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)
	if username == "" || email == "" || password == "" {
		return nil, "", ErrInvalidInput
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, "", err
	}
	user := &model.User{Username: username, Email: email, PasswordHash: hash}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, "", err
	}

	token, err := s.tokens.Sign(model.UserIdentity{UserID: user.ID, Username: user.Username})
	if err != nil {
		return nil, "", fmt.Errorf("failed to sign token: %w", err)
	}
	return user, token, nil
}

// Login checks the password and returns a signed token. login may be a
// username or an email address.
func (s *Service) Login(ctx context.Context, login, password string) (*model.User, string, error) {
	login = strings.TrimSpace(login)
	var user *model.User
	var err error
	// 支持用户名或邮箱登录
	if strings.Contains(login, "@") {
		user, err = s.users.GetUserByEmail(ctx, login)
	} else {
		user, err = s.users.GetUserByUsername(ctx, login)
	}
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, "", ErrInvalidCredentials
		}
		return nil, "", err
	}
	if !CheckPasswordHash(password, user.PasswordHash) {
		return nil, "", ErrInvalidCredentials
	}

	token, err := s.tokens.Sign(model.UserIdentity{UserID: user.ID, Username: user.Username})
	if err != nil {
		return nil, "", fmt.Errorf("failed to sign token: %w", err)
	}
	return user, token, nil
}

// Verify parses the token and confirms the user still exists.
func (s *Service) Verify(ctx context.Context, credential string) (model.UserIdentity, error) {
	id, err := s.tokens.Parse(credential)
	if err != nil {
		return model.UserIdentity{}, err
	}
	user, err := s.users.GetUserByID(ctx, id.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return model.UserIdentity{}, fmt.Errorf("%w: unknown user", ErrInvalidToken)
		}
		return model.UserIdentity{}, err
	}
	return model.UserIdentity{UserID: user.ID, Username: user.Username}, nil
}
