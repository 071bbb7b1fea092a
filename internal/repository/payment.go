package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Paparusi/labo-sub000/internal/domain"
	"github.com/jackc/pgx/v5"
)

const intentColumns = `id, factory_id, order_ref, amount, method, transfer_note, status, payload, gateway_response, created_at, updated_at, resolved_at`

// CreateIntent inserts a new pending payment intent.
func (s *PostgresStore) CreateIntent(ctx context.Context, p *domain.PaymentIntent) error {
	payload, err := json.Marshal(p.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode intent payload: %w", err)
	}
	query := `
		INSERT INTO payment_intents (id, factory_id, order_ref, amount, method, transfer_note, status, payload, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = s.db.Exec(ctx, query,
		p.ID, p.FactoryID, p.OrderRef, p.Amount, string(p.Method), p.TransferNote,
		string(p.Status), payload, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create payment intent: %w", err)
	}
	return nil
}

// FindIntent returns an intent by id.
func (s *PostgresStore) FindIntent(ctx context.Context, id string) (*domain.PaymentIntent, error) {
	row := s.db.QueryRow(ctx, `SELECT `+intentColumns+` FROM payment_intents WHERE id = $1`, id)
	return scanIntentRow(row)
}

// FindIntentByOrderRef returns an intent by its gateway order reference.
func (s *PostgresStore) FindIntentByOrderRef(ctx context.Context, orderRef string) (*domain.PaymentIntent, error) {
	row := s.db.QueryRow(ctx, `SELECT `+intentColumns+` FROM payment_intents WHERE order_ref = $1`, orderRef)
	return scanIntentRow(row)
}

// ListIntents returns intents matching f, oldest first.
func (s *PostgresStore) ListIntents(ctx context.Context, f IntentFilter) ([]*domain.PaymentIntent, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.Method != "" {
		args = append(args, string(f.Method))
		where = append(where, fmt.Sprintf("method = $%d", len(args)))
	}
	if f.FactoryID != "" {
		args = append(args, f.FactoryID)
		where = append(where, fmt.Sprintf("factory_id = $%d", len(args)))
	}

	query := `SELECT ` + intentColumns + ` FROM payment_intents`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list payment intents: %w", err)
	}
	defer rows.Close()

	var out []*domain.PaymentIntent
	for rows.Next() {
		p, err := scanIntent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CountIntentsByStatus groups intents by status.
func (s *PostgresStore) CountIntentsByStatus(ctx context.Context) (map[domain.PaymentStatus]int, error) {
	rows, err := s.db.Query(ctx, `SELECT status, COUNT(*) FROM payment_intents GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count payment intents: %w", err)
	}
	defer rows.Close()

	out := make(map[domain.PaymentStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan intent count: %w", err)
		}
		out[domain.PaymentStatus(status)] = n
	}
	return out, rows.Err()
}

// LockIntent reads an intent with a row lock held until the transaction ends.
func (t *pgBillingTx) LockIntent(ctx context.Context, id string) (*domain.PaymentIntent, error) {
	row := t.q.QueryRow(ctx, `SELECT `+intentColumns+` FROM payment_intents WHERE id = $1 FOR UPDATE`, id)
	return scanIntentRow(row)
}

// ResolveIntent performs the single allowed transition out of pending.
func (t *pgBillingTx) ResolveIntent(ctx context.Context, id string, status domain.PaymentStatus, raw []byte, at time.Time) error {
	if !status.IsTerminal() {
		return fmt.Errorf("cannot resolve intent to %q", status)
	}
	tag, err := t.q.Exec(ctx, `
		UPDATE payment_intents
		SET status = $1, gateway_response = $2, resolved_at = $3, updated_at = $3
		WHERE id = $4 AND status = 'pending'
	`, string(status), nullableJSON(raw), at, id)
	if err != nil {
		return fmt.Errorf("failed to resolve payment intent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrIntentNotPending
	}
	return nil
}

func scanIntentRow(row pgx.Row) (*domain.PaymentIntent, error) {
	p, err := scanIntent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return p, nil
}

func scanIntent(row pgx.Row) (*domain.PaymentIntent, error) {
	var (
		p               domain.PaymentIntent
		method, status  string
		payload, gwResp []byte
	)
	err := row.Scan(
		&p.ID, &p.FactoryID, &p.OrderRef, &p.Amount, &method, &p.TransferNote,
		&status, &payload, &gwResp, &p.CreatedAt, &p.UpdatedAt, &p.ResolvedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan payment intent: %w", err)
	}
	if p.Method, err = domain.ParsePaymentMethod(method); err != nil {
		return nil, err
	}
	if p.Status, err = domain.ParsePaymentStatus(status); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payload, &p.Payload); err != nil {
		return nil, fmt.Errorf("failed to decode intent payload: %w", err)
	}
	if len(gwResp) > 0 {
		p.GatewayResponse = json.RawMessage(gwResp)
	}
	return &p, nil
}

func nullableJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
