package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/Paparusi/labo-sub000/internal/domain"
	"github.com/jackc/pgx/v5"
)

const accountColumns = `id, email, password, role, company_name, created_at, updated_at`

// CreateAccount inserts a new account into the database.
func (s *PostgresStore) CreateAccount(ctx context.Context, a *domain.Account) error {
	query := `
		INSERT INTO accounts (id, email, password, role, company_name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.db.Exec(ctx, query,
		a.ID, a.Email, a.Password, a.Role, a.CompanyName, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

// FindAccountByEmail returns an account by email address.
func (s *PostgresStore) FindAccountByEmail(ctx context.Context, email string) (*domain.Account, error) {
	row := s.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE email = $1`, email)
	return scanAccountRow(row)
}

// FindAccountByID returns an account by ID.
func (s *PostgresStore) FindAccountByID(ctx context.Context, id string) (*domain.Account, error) {
	row := s.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	return scanAccountRow(row)
}

// AccountExists checks if an account with the given email already exists.
func (s *PostgresStore) AccountExists(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM accounts WHERE email = $1)`, email).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check account existence: %w", err)
	}
	return exists, nil
}

// ListAccounts returns all accounts ordered by creation date.
func (s *PostgresStore) ListAccounts(ctx context.Context) ([]*domain.Account, error) {
	rows, err := s.db.Query(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*domain.Account
	for rows.Next() {
		var a domain.Account
		if err := rows.Scan(&a.ID, &a.Email, &a.Password, &a.Role, &a.CompanyName, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, &a)
	}
	return accounts, rows.Err()
}

func scanAccountRow(row pgx.Row) (*domain.Account, error) {
	var a domain.Account
	err := row.Scan(&a.ID, &a.Email, &a.Password, &a.Role, &a.CompanyName, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find account: %w", err)
	}
	return &a, nil
}
