package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/vardalab/varda-engine/pkg/apperrors"
	"github.com/vardalab/varda-engine/pkg/models"
	"github.com/vardalab/varda-engine/pkg/repositories"
)

// Service authenticates credentials and issues bearer tokens.
type Service interface {
	// Authenticate verifies a login/password pair.
	Authenticate(ctx context.Context, login, password string) (*models.User, error)

	// IssueToken mints a signed bearer token for the user.
	IssueToken(user *models.User) (string, error)

	// ResolveToken verifies a bearer token and loads its user. An invalid,
	// expired or unknown token resolves to ErrAuthRequired.
	ResolveToken(ctx context.Context, token string) (*models.User, error)
}

type service struct {
	users  repositories.UserRepository
	secret []byte
	ttl    time.Duration
}

// NewService creates an auth service signing tokens with the given secret.
func NewService(users repositories.UserRepository, secret string, ttl time.Duration) Service {
	return &service{users: users, secret: []byte(secret), ttl: ttl}
}

// HashPassword derives the stored hash for a password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

func (s *service) Authenticate(ctx context.Context, login, password string) (*models.User, error) {
	user, err := s.users.GetByLogin(ctx, login)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.ErrAuthRequired
		}
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, apperrors.ErrAuthRequired
	}
	return user, nil
}

func (s *service) IssueToken(user *models.User) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   user.Login,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

func (s *service) ResolveToken(ctx context.Context, tokenString string) (*models.User, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{},
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return s.secret, nil
		})
	if err != nil || !token.Valid {
		return nil, apperrors.ErrAuthRequired
	}

	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return nil, apperrors.ErrAuthRequired
	}

	user, err := s.users.GetByLogin(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.ErrAuthRequired
		}
		return nil, err
	}
	return user, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	token, ok := strings.CutPrefix(header, "Bearer ")
	return token, ok && token != ""
}
