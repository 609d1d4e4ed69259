package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/mmynk/blueledger/internal/apperr"
	"github.com/mmynk/blueledger/internal/auth"
	"github.com/mmynk/blueledger/internal/mail"
	"github.com/mmynk/blueledger/internal/models"
	"github.com/mmynk/blueledger/internal/storage"
)

// AuthService registers users, logs them in and verifies email addresses.
type AuthService struct {
	authenticator auth.Authenticator
	jwtManager    *auth.JWTManager
	users         storage.UserStore
	mailer        Mailer
	appURL        string
	logger        *slog.Logger
}

// NewAuthService creates a new authentication service.
func NewAuthService(authenticator auth.Authenticator, jwtManager *auth.JWTManager, users storage.UserStore, mailer Mailer, appURL string, logger *slog.Logger) *AuthService {
	return &AuthService{
		authenticator: authenticator,
		jwtManager:    jwtManager,
		users:         users,
		mailer:        mailer,
		appURL:        appURL,
		logger:        logger,
	}
}

// Session is a user with a freshly issued token.
type Session struct {
	User  *models.User `json:"user"`
	Token string       `json:"token"`
}

// Register creates a new user account and mails a verification link.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*Session, error) {
	s.logger.Info("Register request", "email", in.Email)

	user, err := s.authenticator.Register(ctx, in.Email, in.DisplayName, in.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrEmailExists):
			s.logger.Warn("Registration rejected", "email", in.Email, "error", err)
			return nil, apperr.Conflict("Email already registered")
		case errors.Is(err, auth.ErrWeakPassword):
			return nil, apperr.Validation("invalid registration", apperr.FieldError{
				Field: "password", Rule: "min", Message: err.Error(),
			})
		}
		s.logger.Error("Registration failed", "email", in.Email, "error", err)
		return nil, apperr.Internal(err)
	}

	token, err := s.jwtManager.Generate(user)
	if err != nil {
		s.logger.Error("Failed to generate token", "user_id", user.ID, "error", err)
		return nil, apperr.Internal(err)
	}

	s.sendVerification(ctx, user)
	s.logger.Info("User registered successfully", "user_id", user.ID, "email", user.Email)
	return &Session{User: user, Token: token}, nil
}

// Login authenticates a user and returns a JWT token.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (*Session, error) {
	user, err := s.authenticator.Authenticate(ctx, in.Email, in.Password)
	if err != nil {
		s.logger.Warn("Login failed", "email", in.Email, "error", err)
		return nil, apperr.Unauthorized("Invalid email or password", err)
	}

	token, err := s.jwtManager.Generate(user)
	if err != nil {
		s.logger.Error("Failed to generate token", "user_id", user.ID, "error", err)
		return nil, apperr.Internal(err)
	}

	s.logger.Info("User logged in successfully", "user_id", user.ID)
	return &Session{User: user, Token: token}, nil
}

// VerifyEmail marks the address named by a verification token as verified.
func (s *AuthService) VerifyEmail(ctx context.Context, token string) (*models.User, error) {
	claims, err := s.jwtManager.ValidateVerification(token)
	if err != nil {
		return nil, apperr.Validation("invalid verification link", apperr.FieldError{
			Field: "token", Rule: "format", Message: "is invalid or expired",
		})
	}

	user, err := s.users.GetUserByID(ctx, claims.UserID)
	if err != nil {
		return nil, storeError(err, "User")
	}
	// The address changed since the link was sent.
	if user.Email != claims.Email {
		return nil, apperr.Validation("invalid verification link", apperr.FieldError{
			Field: "token", Rule: "format", Message: "does not match the account email",
		})
	}

	if !user.EmailVerified {
		if err := s.users.MarkEmailVerified(ctx, user.ID); err != nil {
			return nil, storeError(err, "User")
		}
		user.EmailVerified = true
		s.logger.Info("Email verified", "user_id", user.ID)
	}
	return user, nil
}

func (s *AuthService) sendVerification(ctx context.Context, user *models.User) {
	token, err := s.jwtManager.GenerateVerification(user)
	if err != nil {
		s.logger.Error("Failed to generate verification token", "user_id", user.ID, "error", err)
		return
	}
	link := fmt.Sprintf("%s/auth/verify?token=%s", s.appURL, url.QueryEscape(token))
	s.mailer.SendMail(ctx, mail.Message{
		To:      user.Email,
		Subject: "Verify your Blue Ledger email",
		Body:    fmt.Sprintf("Hi %s,\n\nConfirm your email address by opening:\n\n%s\n", user.DisplayName, link),
	})
}
