// Package auth registers accounts, checks passwords and issues the signed
// tokens that resolve an Account actor.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/bobarin/slnpart/internal/models"
)

// Store is the account persistence auth needs.
type Store interface {
	CreateAccount(ctx context.Context, account *models.Account) error
	GetAccount(ctx context.Context, id uuid.UUID) (*models.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*models.Account, error)
	GetAccountByUsername(ctx context.Context, username string) (*models.Account, error)
}

// Claims carried in account tokens. The subject is the account id.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

type Service struct {
	store          Store
	jwtSecret      []byte
	tokenTTL       time.Duration
	startingTokens int
}

func NewService(store Store, jwtSecret string, tokenTTL time.Duration, startingTokens int) *Service {
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	return &Service{
		store:          store,
		jwtSecret:      []byte(jwtSecret),
		tokenTTL:       tokenTTL,
		startingTokens: startingTokens,
	}
}

// TokenTTL is how long issued tokens stay valid.
func (s *Service) TokenTTL() time.Duration {
	return s.tokenTTL
}

// Register creates an account with the starting balance and returns it with a token.
func (s *Service) Register(ctx context.Context, req models.RegisterRequest) (string, *models.Account, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	username := strings.TrimSpace(req.Username)

	if _, err := s.store.GetAccountByEmail(ctx, email); err == nil {
		return "", nil, fmt.Errorf("email %w", models.ErrAccountExists)
	} else if !errors.Is(err, models.ErrNotFound) {
		return "", nil, err
	}
	if _, err := s.store.GetAccountByUsername(ctx, username); err == nil {
		return "", nil, fmt.Errorf("username %w", models.ErrAccountExists)
	} else if !errors.Is(err, models.ErrNotFound) {
		return "", nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return "", nil, fmt.Errorf("failed to hash password: %w", err)
	}

	account := &models.Account{
		ID:           uuid.New(),
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
		Tokens:       s.startingTokens,
	}
	if err := s.store.CreateAccount(ctx, account); err != nil {
		return "", nil, err
	}

	token, err := s.issue(account)
	if err != nil {
		return "", nil, err
	}
	return token, account, nil
}

// Login checks the password for email and returns a fresh token.
func (s *Service) Login(ctx context.Context, email, password string) (string, *models.Account, error) {
	if email == "" || password == "" {
		return "", nil, models.ErrInvalidCredentials
	}

	account, err := s.store.GetAccountByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, models.ErrNotFound) {
		return "", nil, models.ErrInvalidCredentials
	}
	if err != nil {
		return "", nil, err
	}

	if bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)) != nil {
		return "", nil, models.ErrInvalidCredentials
	}

	token, err := s.issue(account)
	if err != nil {
		return "", nil, err
	}
	return token, account, nil
}

// ParseToken validates a token and returns the account id it names.
func (s *Service) ParseToken(tokenString string) (uuid.UUID, error) {
	claims := &Claims{}
	tkn, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return s.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil || !tkn.Valid {
		return uuid.Nil, models.ErrUnauthorized
	}

	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, models.ErrUnauthorized
	}
	return id, nil
}

// Account loads the account for a validated id.
func (s *Service) Account(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	return s.store.GetAccount(ctx, id)
}

func (s *Service) issue(account *models.Account) (string, error) {
	now := time.Now()
	claims := Claims{
		Username: account.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   account.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
		},
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := t.SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
