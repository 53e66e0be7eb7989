// Package service holds account management: registration, login, token
// verification and user administration.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gamerequest/gamerequest-server/internal/auth"
	"github.com/gamerequest/gamerequest-server/internal/domain"
	domainerrors "github.com/gamerequest/gamerequest-server/internal/errors"
	"github.com/gamerequest/gamerequest-server/internal/id"
	"github.com/gamerequest/gamerequest-server/internal/store"
	"github.com/gamerequest/gamerequest-server/internal/validation"
)

// Notifier receives the registration event.
type Notifier interface {
	Dispatch(event domain.NotificationEvent) bool
}

// AuthService handles accounts and access tokens.
type AuthService struct {
	store        store.UserStore
	tokenService *auth.TokenService
	notifier     Notifier
	validator    *validation.Validator
	hashParams   auth.Argon2Params
	logger       *slog.Logger
}

// NewAuthService creates a new authentication service.
func NewAuthService(st store.UserStore, tokenService *auth.TokenService, notifier Notifier, logger *slog.Logger) *AuthService {
	return &AuthService{
		store:        st,
		tokenService: tokenService,
		notifier:     notifier,
		validator:    validation.New(),
		hashParams:   auth.DefaultArgon2Params,
		logger:       logger,
	}
}

// SetPasswordParams overrides the argon2id cost used for new hashes.
func (s *AuthService) SetPasswordParams(p auth.Argon2Params) {
	s.hashParams = p
}

// RegisterRequest contains the data for a new account.
type RegisterRequest struct {
	Username string `json:"username" validate:"required,notblank,min=3,max=32"`
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=8,max=1024"`
}

// LoginRequest holds credentials. Login accepts a username or an email.
type LoginRequest struct {
	Login    string `json:"login" validate:"required,notblank"`
	Password string `json:"password" validate:"required"`
}

// AuthResponse carries an access token and the user it belongs to.
type AuthResponse struct {
	AccessToken string       `json:"access_token"`
	TokenType   string       `json:"token_type"`
	ExpiresAt   time.Time    `json:"expires_at"`
	User        *domain.User `json:"user"`
}

// Register creates an account and logs it in. The first account on a fresh
// server becomes an admin.
func (s *AuthService) Register(ctx context.Context, req RegisterRequest) (*AuthResponse, error) {
	count, err := s.store.CountUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("count users: %w", err)
	}
	role := domain.RoleUser
	if count == 0 {
		role = domain.RoleAdmin
	}

	user, err := s.CreateUser(ctx, req, role)
	if err != nil {
		return nil, err
	}

	event := domain.NewEvent(domain.EventRegistration)
	event.User = user
	s.notifier.Dispatch(event)

	return s.issue(user)
}

// CreateUser creates an account with an explicit role. It is used by
// registration and by operator tooling.
func (s *AuthService) CreateUser(ctx context.Context, req RegisterRequest, role domain.Role) (*domain.User, error) {
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)
	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}
	if !role.Valid() {
		return nil, domainerrors.Validation(fmt.Sprintf("unknown role %q", role))
	}

	passwordHash, err := auth.HashPasswordWithParams(req.Password, s.hashParams)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	userID, err := id.Generate(id.PrefixUser)
	if err != nil {
		return nil, fmt.Errorf("generate user ID: %w", err)
	}

	user := &domain.User{
		ID:           userID,
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: passwordHash,
		Role:         role,
		Active:       true,
	}
	user.InitTimestamps()

	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return nil, domainerrors.AlreadyExists("username or email already registered")
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	s.logger.Info("user registered",
		"user_id", user.ID,
		"username", user.Username,
		"role", user.Role,
	)
	return user, nil
}

// Login checks credentials and issues an access token.
func (s *AuthService) Login(ctx context.Context, req LoginRequest) (*AuthResponse, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}
	login := strings.TrimSpace(req.Login)

	user, err := s.store.GetUserByUsername(ctx, login)
	if errors.Is(err, store.ErrNotFound) && strings.Contains(login, "@") {
		user, err = s.store.GetUserByEmail(ctx, login)
	}
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Don't leak whether the account exists.
			return nil, invalidCredentials()
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	if !auth.VerifyPassword(user.PasswordHash, req.Password) {
		return nil, invalidCredentials()
	}
	if !user.Active {
		return nil, domainerrors.Forbidden("account is disabled")
	}

	s.logger.Info("user logged in", "user_id", user.ID)
	return s.issue(user)
}

// VerifyAccessToken validates a token and returns the current user. The
// stored role wins over the one in the token, so demotions apply at once.
func (s *AuthService) VerifyAccessToken(ctx context.Context, token string) (*domain.User, error) {
	claims, err := s.tokenService.VerifyAccessToken(token)
	if err != nil {
		return nil, domainerrors.Unauthorized("invalid or expired token")
	}

	user, err := s.store.GetUser(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, domainerrors.Unauthorized("user no longer exists")
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	if !user.Active {
		return nil, domainerrors.Unauthorized("account is disabled")
	}
	return user, nil
}

// GetUser returns a user by ID.
func (s *AuthService) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, domainerrors.NotFound("user not found")
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

// ListUsers returns one page of accounts. Admin only.
func (s *AuthService) ListUsers(ctx context.Context, actor domain.Actor, p store.PageParams) (*store.Page[*domain.User], error) {
	if !actor.IsAdmin() {
		return nil, domainerrors.Forbidden("admin access required")
	}
	p = p.Normalize()
	users, total, err := s.store.ListUsers(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return store.NewPage(users, total, p), nil
}

// UpdateUserRole changes a user's role. Admins cannot change their own role,
// which keeps at least one admin on the server.
func (s *AuthService) UpdateUserRole(ctx context.Context, actor domain.Actor, userID string, role domain.Role) (*domain.User, error) {
	if !actor.IsAdmin() {
		return nil, domainerrors.Forbidden("admin access required")
	}
	if !role.Valid() {
		return nil, domainerrors.Validation(fmt.Sprintf("unknown role %q", role))
	}
	if userID == actor.UserID {
		return nil, domainerrors.Validation("you cannot change your own role")
	}

	user, err := s.store.UpdateUserRole(ctx, userID, role)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, domainerrors.NotFound("user not found")
		}
		return nil, fmt.Errorf("update user role: %w", err)
	}

	s.logger.Info("user role changed", "user_id", userID, "role", role, "by", actor.UserID)
	return user, nil
}

// SetUserActive enables or disables an account. A disabled account cannot
// log in and its existing tokens stop working. Admins cannot disable
// themselves.
func (s *AuthService) SetUserActive(ctx context.Context, actor domain.Actor, userID string, active bool) (*domain.User, error) {
	if !actor.IsAdmin() {
		return nil, domainerrors.Forbidden("admin access required")
	}
	if userID == actor.UserID {
		return nil, domainerrors.Validation("you cannot change your own account status")
	}

	user, err := s.store.SetUserActive(ctx, userID, active)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, domainerrors.NotFound("user not found")
		}
		return nil, fmt.Errorf("set user active: %w", err)
	}

	s.logger.Info("user account status changed", "user_id", userID, "active", active, "by", actor.UserID)
	return user, nil
}

func (s *AuthService) issue(user *domain.User) (*AuthResponse, error) {
	token, expiresAt, err := s.tokenService.GenerateAccessToken(user)
	if err != nil {
		return nil, fmt.Errorf("generate access token: %w", err)
	}
	return &AuthResponse{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresAt:   expiresAt,
		User:        user,
	}, nil
}

func invalidCredentials() error {
	return domainerrors.Newf(domainerrors.CodeInvalidCredentials, "invalid username or password")
}
