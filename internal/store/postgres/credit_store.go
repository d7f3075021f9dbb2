package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/swarmleads/leadengine/internal/lead"
	"github.com/swarmleads/leadengine/internal/store"
)

// SignupCredits is the balance granted to newly created accounts.
const SignupCredits = 100

// CreditStore implements store.CreditLedger over Postgres. The decrement is a
// single conditional UPDATE, so the precondition check and the mutation are
// one atomic statement; a separate read followed by a write would reintroduce
// the check-then-act race between concurrent deductions.
type CreditStore struct {
	db DB
}

// NewCreditStore builds a CreditStore over the given pool.
func NewCreditStore(db DB) *CreditStore {
	return &CreditStore{db: db}
}

// Deduct decrements the balance by amount where the balance covers it, and
// returns the updated balance. A zero-row match means the balance was short:
// ErrInsufficientCredits, nothing mutated.
func (s *CreditStore) Deduct(ctx context.Context, ownerID string, amount int) (int, error) {
	if ownerID == "" {
		return 0, lead.ErrMissingOwner
	}
	if amount <= 0 {
		return 0, fmt.Errorf("deduct amount must be > 0, got %d", amount)
	}
	var remaining int
	err := s.db.QueryRow(ctx, `
		UPDATE credit_accounts SET credits = credits - $2
		WHERE owner_id = $1 AND credits >= $2
		RETURNING credits`, ownerID, amount).Scan(&remaining)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, store.ErrInsufficientCredits
	}
	if err != nil {
		return 0, fmt.Errorf("deduct credits: %w", err)
	}
	return remaining, nil
}

// Account returns the current account state or store.ErrNotFound.
func (s *CreditStore) Account(ctx context.Context, ownerID string) (store.Account, error) {
	var acct store.Account
	err := s.db.QueryRow(ctx, `
		SELECT owner_id, credits, metered FROM credit_accounts
		WHERE owner_id = $1`, ownerID).
		Scan(&acct.OwnerID, &acct.Credits, &acct.Metered)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Account{}, store.ErrNotFound
	}
	if err != nil {
		return store.Account{}, fmt.Errorf("get credit account: %w", err)
	}
	return acct, nil
}

// EnsureAccount creates the account with the signup grant if it is missing.
// Existing accounts are left untouched.
func (s *CreditStore) EnsureAccount(ctx context.Context, ownerID string, metered bool) error {
	if ownerID == "" {
		return lead.ErrMissingOwner
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO credit_accounts (owner_id, credits, metered)
		VALUES ($1, $2, $3)
		ON CONFLICT (owner_id) DO NOTHING`, ownerID, SignupCredits, metered)
	if err != nil {
		return fmt.Errorf("ensure credit account: %w", err)
	}
	return nil
}
