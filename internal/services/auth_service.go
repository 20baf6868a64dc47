package services

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/context8/context8-docker/internal/apperr"
	"github.com/context8/context8-docker/internal/auth"
	"github.com/context8/context8-docker/internal/db/models"
	"github.com/context8/context8-docker/internal/db/repositories"
)

// Session is an issued login.
type Session struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

// AuthService handles the admin bootstrap and password logins. API key
// authentication never passes through here; it lives in auth.Resolver.
type AuthService struct {
	users  *repositories.UserRepository
	tokens *auth.TokenVerifier
}

// NewAuthService creates an AuthService.
func NewAuthService(users *repositories.UserRepository, tokens *auth.TokenVerifier) *AuthService {
	return &AuthService{users: users, tokens: tokens}
}

// SetupRequired reports whether no admin has been bootstrapped yet.
func (s *AuthService) SetupRequired(ctx context.Context) (bool, error) {
	exists, err := s.users.AdminExists(ctx)
	if err != nil {
		return false, apperr.Wrap(apperr.Internal, err, "check admin")
	}
	return !exists, nil
}

// Setup creates the first admin account. It runs exactly once; later calls
// fail regardless of credentials.
func (s *AuthService) Setup(ctx context.Context, email, password string) (*Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, apperr.New(apperr.Invalid, "a valid email is required")
	}
	if len(password) < 8 {
		return nil, apperr.New(apperr.Invalid, "password must be at least 8 characters")
	}

	exists, err := s.users.AdminExists(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "check admin")
	}
	if exists {
		return nil, apperr.New(apperr.Forbidden, "setup has already been completed")
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "hash password")
	}
	user := &models.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		IsAdmin:      true,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "create admin user")
	}
	return s.issue(user)
}

// Login verifies a password login and issues a session token. Invalid email
// and invalid password are indistinguishable in the response.
func (s *AuthService) Login(ctx context.Context, email, password string) (*Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "load user")
	}
	if user == nil || user.PasswordHash == "" || !auth.CheckPassword(password, user.PasswordHash) {
		return nil, apperr.New(apperr.Unauthenticated, "invalid email or password")
	}
	return s.issue(user)
}

func (s *AuthService) issue(user *models.User) (*Session, error) {
	token, err := s.tokens.Sign(user.ID, user.Email, user.IsAdmin)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "sign session token")
	}
	return &Session{Token: token, User: user}, nil
}
