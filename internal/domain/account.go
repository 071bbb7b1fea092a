package domain

import (
	"time"

	"github.com/google/uuid"
)

// Account roles.
const (
	RoleFactory = "factory"
	RoleAdmin   = "admin"
)

// LoginRequest is the input for POST /api/auth/login.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=1"`
}

// LoginResponse is the API response after successful login.
type LoginResponse struct {
	Token   string       `json:"token"`
	Account LoginAccount `json:"account"`
}

// LoginAccount is the account info returned after login.
type LoginAccount struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// JWTClaims represents the JWT payload.
type JWTClaims struct {
	Sub   string `json:"sub"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// Account is a factory or administrator login.
type Account struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	Password    string    `json:"-"` // bcrypt hash, never serialized
	Role        string    `json:"role"`
	CompanyName string    `json:"companyName,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// CreateAccountRequest is the input for creating an account (admin only).
type CreateAccountRequest struct {
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required,min=6"`
	Role        string `json:"role" validate:"omitempty,oneof=factory admin"`
	CompanyName string `json:"companyName" validate:"max=200"`
}

// AccountResponse is the safe API response for an account (no password).
type AccountResponse struct {
	ID          string        `json:"id"`
	Email       string        `json:"email"`
	Role        string        `json:"role"`
	CompanyName string        `json:"companyName,omitempty"`
	CreatedAt   time.Time     `json:"createdAt"`
	Trial       *Subscription `json:"trial,omitempty"`
}

// NewID generates a new UUID string.
func NewID() string {
	return uuid.New().String()
}
