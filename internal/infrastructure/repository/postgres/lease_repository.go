package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ragbridge/pipeline/internal/core/domain"
)

// LeaseRepository hands out time-bounded exclusive claims on documents.
// The TTL bounds how long a crashed worker can block a document.
type LeaseRepository struct {
	db *sql.DB
}

func NewLeaseRepository(db *sql.DB) *LeaseRepository {
	return &LeaseRepository{db: db}
}

// Acquire takes the lease when it is free, expired, or already held by
// the same owner (renewal). The conditional upsert makes the grant a
// single atomic statement.
func (r *LeaseRepository) Acquire(ctx context.Context, documentID, owner string, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	result, err := r.db.ExecContext(ctx, `
INSERT INTO document_leases (document_id, owner, expires_at)
VALUES ($1, $2, $3)
ON CONFLICT (document_id) DO UPDATE
SET owner = EXCLUDED.owner, expires_at = EXCLUDED.expires_at
WHERE document_leases.expires_at <= $4 OR document_leases.owner = EXCLUDED.owner
`, documentID, owner, now.Add(ttl), now)
	if err != nil {
		return false, domain.WrapError(domain.ErrTemporary, "acquire lease", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("acquire lease rows affected: %w", err)
	}
	return rows > 0, nil
}

// Release drops the lease only for its current owner, so a stale worker
// cannot release a lease another run took over after expiry.
func (r *LeaseRepository) Release(ctx context.Context, documentID, owner string) error {
	_, err := r.db.ExecContext(ctx, `
DELETE FROM document_leases
WHERE document_id = $1 AND owner = $2
`, documentID, owner)
	if err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}
