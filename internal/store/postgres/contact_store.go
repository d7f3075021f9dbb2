package postgres

import (
	"context"
	"fmt"

	"github.com/swarmleads/leadengine/internal/lead"
)

// ContactStore implements store.ContactStore over Postgres.
type ContactStore struct {
	db DB
}

// NewContactStore builds a ContactStore over the given pool.
func NewContactStore(db DB) *ContactStore {
	return &ContactStore{db: db}
}

// Insert writes the contact records for a lead. Contacts are immutable once
// written except for verification backfill, so this is a plain append.
func (s *ContactStore) Insert(ctx context.Context, contacts []lead.Contact) error {
	for _, c := range contacts {
		if c.OwnerID == "" {
			return lead.ErrMissingOwner
		}
		_, err := s.db.Exec(ctx, `
			INSERT INTO contacts (
				lead_id, owner_id, email, confidence_score, source,
				email_type, verification_status, mx_provider
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			c.LeadID, c.OwnerID, c.Email, c.ConfidenceScore, c.Source,
			c.EmailType, c.VerificationStatus, c.MXProvider,
		)
		if err != nil {
			return fmt.Errorf("insert contact %s: %w", c.Email, err)
		}
	}
	return nil
}
