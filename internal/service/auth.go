// Package service holds the business rules of the catalog. It sits between
// the HTTP handlers and the repositories:
//
//	Handler (HTTP) → Service (rules, identity checks) → Repository (SQL)
//
// Services never see an *http.Request. The caller's identity arrives as an
// explicit requester user ID, and "" means anonymous.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/sakif/movie-catalog/internal/apperror"
	"github.com/sakif/movie-catalog/internal/auth"
	"github.com/sakif/movie-catalog/internal/model"
	"github.com/sakif/movie-catalog/internal/repository"
	"github.com/sakif/movie-catalog/internal/validation"
)

const invalidCredentials = "no active account found with the given credentials"

// AuthService handles registration, login and token refresh.
//
// DEPENDENCIES (injected via NewAuthService):
//   - users      repository.UserRepository  → read/write user records
//   - tokens     *auth.TokenService         → issue/validate JWTs
//   - passwords  *auth.PasswordService      → bcrypt hashing
//   - policy     auth.PasswordPolicy        → strength rules for new passwords
type AuthService struct {
	users     repository.UserRepository
	tokens    *auth.TokenService
	passwords *auth.PasswordService
	policy    auth.PasswordPolicy
	logger    *slog.Logger
}

func NewAuthService(
	users repository.UserRepository,
	tokens *auth.TokenService,
	passwords *auth.PasswordService,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		users:     users,
		tokens:    tokens,
		passwords: passwords,
		policy:    auth.DefaultPasswordPolicy(),
		logger:    logger,
	}
}

// RegisterInput is the registration form.
type RegisterInput struct {
	Username  string `json:"username" validate:"required,max=150"`
	Email     string `json:"email" validate:"required,email,max=254"`
	Password  string `json:"password" validate:"required"`
	Password2 string `json:"password2" validate:"required"`
}

type LoginInput struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// AuthResult is what register and login return: the account and a fresh
// token pair.
type AuthResult struct {
	User   model.Account  `json:"user"`
	Tokens auth.TokenPair `json:"tokens"`
}

// Register creates a password account and signs the new user in.
//
// Checks run cheapest first, and nothing is written unless all of them
// pass:
//  1. required fields and formats
//  2. password and password2 match
//  3. username is free
//  4. password policy
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)

	if err := validation.ValidateStruct(&in); err != nil {
		return nil, err
	}
	if in.Password != in.Password2 {
		return nil, apperror.ValidationFailed("password", "password fields didn't match")
	}

	if _, err := s.users.GetUserByUsername(ctx, in.Username); err == nil {
		return nil, usernameTaken()
	} else if !errors.Is(err, apperror.ErrNotFound) {
		return nil, fmt.Errorf("service/auth: checking username: %w", err)
	}

	if problems := s.policy.Check(in.Password, in.Username); len(problems) > 0 {
		return nil, apperror.ValidationFailed("password", strings.Join(problems, "; "))
	}

	hash, err := s.passwords.Hash(in.Password)
	if err != nil {
		return nil, apperror.ValidationFailed("password", err.Error())
	}

	user := &model.User{
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: hash,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		// lost a race with another registration for the same name
		if errors.Is(err, apperror.ErrConflict) {
			return nil, usernameTaken()
		}
		return nil, fmt.Errorf("service/auth: creating user: %w", err)
	}

	s.logger.Info("user registered",
		slog.String("userID", user.ID),
		slog.String("username", user.Username),
	)

	return s.result(user)
}

func usernameTaken() error {
	return apperror.ValidationFailed("username", "a user with that username already exists")
}

// Login verifies a username and password. Unknown users and wrong
// passwords get the same error so the response doesn't reveal which
// usernames exist.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (*AuthResult, error) {
	if err := validation.ValidateStruct(&in); err != nil {
		return nil, err
	}

	user, err := s.users.GetUserByUsername(ctx, in.Username)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.AuthenticationRequired(invalidCredentials)
		}
		return nil, fmt.Errorf("service/auth: looking up user: %w", err)
	}

	if err := s.passwords.Verify(user.PasswordHash, in.Password); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			s.logger.Info("login failed", slog.String("username", in.Username))
			return nil, apperror.AuthenticationRequired(invalidCredentials)
		}
		return nil, fmt.Errorf("service/auth: verifying password: %w", err)
	}

	s.logger.Info("user logged in", slog.String("userID", user.ID))
	return s.result(user)
}

// AccessToken is the response to a refresh.
type AccessToken struct {
	Access string `json:"access"`
}

// Refresh exchanges a refresh token for a new access token. The user must
// still exist.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*AccessToken, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return nil, apperror.ValidationFailed("refresh", "refresh is required")
	}

	userID, err := s.tokens.ValidateRefresh(refreshToken)
	if err != nil {
		return nil, apperror.AuthenticationRequired("token is invalid or expired")
	}

	if _, err := s.users.GetUserByID(ctx, userID); err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.AuthenticationRequired("user not found")
		}
		return nil, fmt.Errorf("service/auth: looking up user %s: %w", userID, err)
	}

	access, err := s.tokens.GenerateAccess(userID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: %w", err)
	}
	return &AccessToken{Access: access}, nil
}

// Me returns the caller's own account.
func (s *AuthService) Me(ctx context.Context, requester string) (*model.Account, error) {
	if requester == "" {
		return nil, apperror.AuthenticationRequired("")
	}

	user, err := s.users.GetUserByID(ctx, requester)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.AuthenticationRequired("user not found")
		}
		return nil, fmt.Errorf("service/auth: fetching user %s: %w", requester, err)
	}

	account := user.Account()
	return &account, nil
}

// LoginOrRegisterGitHub signs in the owner of a GitHub account, creating
// a local account on first login.
//
// The GitHub login becomes the username. If a password account already
// holds that name, the GitHub ID is appended to keep usernames unique.
func (s *AuthService) LoginOrRegisterGitHub(ctx context.Context, ghUser *auth.GitHubUser) (*AuthResult, error) {
	if ghUser == nil {
		return nil, fmt.Errorf("service/auth: GitHub user must not be nil")
	}

	ghID := ghUser.ID
	user := &model.User{
		Username: ghUser.Login,
		Email:    ghUser.Email,
		GitHubID: &ghID,
	}

	err := s.users.UpsertGitHubUser(ctx, user)
	if errors.Is(err, apperror.ErrConflict) {
		user.Username = ghUser.Login + "-" + strconv.FormatInt(ghID, 10)
		err = s.users.UpsertGitHubUser(ctx, user)
	}
	if err != nil {
		return nil, fmt.Errorf("service/auth: upserting user (githubID=%d): %w", ghID, err)
	}

	s.logger.Info("user authenticated via GitHub",
		slog.String("userID", user.ID),
		slog.String("username", user.Username),
	)

	return s.result(user)
}

func (s *AuthService) result(user *model.User) (*AuthResult, error) {
	pair, err := s.tokens.IssuePair(user.ID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: issuing tokens for user %s: %w", user.ID, err)
	}
	return &AuthResult{User: user.Account(), Tokens: pair}, nil
}
