package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Paparusi/labo-sub000/internal/domain"
	"github.com/Paparusi/labo-sub000/internal/repository"
	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

const tokenTTL = 7 * 24 * time.Hour

// TrialStarter grants a trial to a new factory account.
type TrialStarter interface {
	StartTrial(ctx context.Context, factoryID string) (*domain.Subscription, error)
}

// AuthService handles authentication, JWT, and account management.
type AuthService struct {
	jwtSecret     string
	adminEmail    string
	adminPassword string
	accounts      repository.AccountStore
	trials        TrialStarter
	validate      *validator.Validate
	log           *zerolog.Logger
}

// NewAuthService creates a new AuthService. trials may be nil.
func NewAuthService(jwtSecret, adminEmail, adminPassword string, accounts repository.AccountStore, trials TrialStarter, logger *zerolog.Logger) *AuthService {
	return &AuthService{
		jwtSecret:     jwtSecret,
		adminEmail:    adminEmail,
		adminPassword: adminPassword,
		accounts:      accounts,
		trials:        trials,
		validate:      validator.New(),
		log:           logger,
	}
}

// SeedAdmin creates the default admin account if it doesn't exist.
func (s *AuthService) SeedAdmin(ctx context.Context) error {
	email := normalizeEmail(s.adminEmail)
	exists, err := s.accounts.AccountExists(ctx, email)
	if err != nil {
		return fmt.Errorf("failed to check admin existence: %w", err)
	}
	if exists {
		s.log.Info().Str("email", s.adminEmail).Msg("admin account already exists")
		return nil
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(s.adminPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}

	now := time.Now()
	admin := &domain.Account{
		ID:        domain.NewID(),
		Email:     email,
		Password:  string(hashedPassword),
		Role:      domain.RoleAdmin,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.accounts.CreateAccount(ctx, admin); err != nil {
		return fmt.Errorf("failed to create admin account: %w", err)
	}

	s.log.Info().Str("email", s.adminEmail).Msg("admin account created")
	return nil
}

// Login validates credentials and returns a JWT token.
func (s *AuthService) Login(ctx context.Context, req *domain.LoginRequest) (*domain.LoginResponse, error) {
	req.Email = normalizeEmail(req.Email)
	if err := s.validate.Struct(req); err != nil {
		return nil, domain.ErrBadRequest("a valid email and password are required")
	}
	account, err := s.accounts.FindAccountByEmail(ctx, req.Email)
	if err != nil {
		return nil, domain.ErrInternal("failed to find account", err)
	}
	if account == nil {
		return nil, domain.ErrUnauthorized("invalid credentials")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.Password), []byte(req.Password)); err != nil {
		return nil, domain.ErrUnauthorized("invalid credentials")
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"sub":   account.ID,
		"email": account.Email,
		"role":  account.Role,
		"exp":   now.Add(tokenTTL).Unix(),
		"iat":   now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.jwtSecret))
	if err != nil {
		return nil, domain.ErrInternal("failed to sign token", err)
	}

	return &domain.LoginResponse{
		Token: signed,
		Account: domain.LoginAccount{
			ID:    account.ID,
			Email: account.Email,
			Role:  account.Role,
		},
	}, nil
}

// VerifyToken validates a JWT token and returns the claims.
func (s *AuthService) VerifyToken(tokenStr string) (*domain.JWTClaims, error) {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.jwtSecret), nil
	})
	if err != nil {
		return nil, domain.ErrUnauthorized("invalid or expired token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, domain.ErrUnauthorized("invalid token claims")
	}

	return &domain.JWTClaims{
		Sub:   getClaimString(claims, "sub"),
		Email: getClaimString(claims, "email"),
		Role:  getClaimString(claims, "role"),
	}, nil
}

func getClaimString(claims jwt.MapClaims, key string) string {
	if v, ok := claims[key].(string); ok {
		return v
	}
	return ""
}

// ListAccounts returns all accounts (admin only).
func (s *AuthService) ListAccounts(ctx context.Context) ([]*domain.AccountResponse, error) {
	accounts, err := s.accounts.ListAccounts(ctx)
	if err != nil {
		return nil, domain.ErrInternal("failed to list accounts", err)
	}

	responses := make([]*domain.AccountResponse, len(accounts))
	for i, a := range accounts {
		responses[i] = toAccountResponse(a)
	}
	return responses, nil
}

// CreateAccount creates a new account with a bcrypt password (admin only).
// Factory accounts start with a trial term.
func (s *AuthService) CreateAccount(ctx context.Context, req *domain.CreateAccountRequest) (*domain.AccountResponse, error) {
	// Normalized first so padded or mixed-case input passes the email rule.
	req.Email = normalizeEmail(req.Email)
	if err := s.validate.Struct(req); err != nil {
		return nil, domain.ErrValidation(formatValidationErrors(err))
	}
	email := req.Email

	exists, err := s.accounts.AccountExists(ctx, email)
	if err != nil {
		return nil, domain.ErrInternal("failed to check account", err)
	}
	if exists {
		return nil, domain.ErrConflict("email already registered")
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, domain.ErrInternal("failed to hash password", err)
	}

	role := req.Role
	if role == "" {
		role = domain.RoleFactory
	}

	now := time.Now()
	account := &domain.Account{
		ID:          domain.NewID(),
		Email:       email,
		Password:    string(hashedPassword),
		Role:        role,
		CompanyName: strings.TrimSpace(req.CompanyName),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.accounts.CreateAccount(ctx, account); err != nil {
		return nil, domain.ErrInternal("failed to create account", err)
	}

	resp := toAccountResponse(account)
	if role == domain.RoleFactory && s.trials != nil {
		trial, err := s.trials.StartTrial(ctx, account.ID)
		if err != nil {
			s.log.Error().Err(err).Str("factory_id", account.ID).Msg("failed to start trial")
		}
		resp.Trial = trial
	}
	return resp, nil
}

// GetAccount returns an account profile by ID (for /api/auth/me).
func (s *AuthService) GetAccount(ctx context.Context, id string) (*domain.AccountResponse, error) {
	account, err := s.accounts.FindAccountByID(ctx, id)
	if err != nil {
		return nil, domain.ErrInternal("failed to find account", err)
	}
	if account == nil {
		return nil, domain.ErrNotFound("account not found")
	}
	return toAccountResponse(account), nil
}

func toAccountResponse(a *domain.Account) *domain.AccountResponse {
	return &domain.AccountResponse{
		ID:          a.ID,
		Email:       a.Email,
		Role:        a.Role,
		CompanyName: a.CompanyName,
		CreatedAt:   a.CreatedAt,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
