package bunstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/conductkit/conduct/id"
)

// TryAcquire attempts to take one lease on key. The count-then-insert
// runs in a transaction under a per-key advisory lock so concurrent
// holders cannot exceed the limit.
func (s *Store) TryAcquire(ctx context.Context, key string, limit int, ttl time.Duration) (bool, error) {
	acquired := false
	err := s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`SELECT pg_advisory_xact_lock(hashtext(?))`, key,
		); err != nil {
			return fmt.Errorf("advisory lock: %w", err)
		}

		now := time.Now().UTC()
		if _, err := tx.NewDelete().Model((*leaseModel)(nil)).
			Where("key = ?", key).
			Where("expires_at <= ?", now).
			Exec(ctx); err != nil {
			return fmt.Errorf("prune expired: %w", err)
		}

		held, err := tx.NewSelect().Model((*leaseModel)(nil)).
			Where("key = ?", key).
			Count(ctx)
		if err != nil {
			return fmt.Errorf("count held: %w", err)
		}
		if held >= limit {
			return nil
		}

		m := &leaseModel{
			ID:        id.NewLeaseID().String(),
			Key:       key,
			ExpiresAt: now.Add(ttl),
		}
		if _, err := tx.NewInsert().Model(m).Exec(ctx); err != nil {
			return fmt.Errorf("insert lease: %w", err)
		}
		acquired = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("conduct/bun: lease acquire: %w", err)
	}
	return acquired, nil
}

// Release gives back one lease on key: the earliest-expiring grant is
// dropped. Returns false if no lease was held.
func (s *Store) Release(ctx context.Context, key string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM conduct_leases
		WHERE id = (
			SELECT id FROM conduct_leases
			WHERE key = ?
			ORDER BY expires_at ASC
			LIMIT 1
		)`, key)
	if err != nil {
		return false, fmt.Errorf("conduct/bun: lease release: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	return rows > 0, nil
}

// Available reports whether the database is reachable; throttles
// degrade to no-ops when it is not.
func (s *Store) Available(ctx context.Context) bool {
	return s.db.PingContext(ctx) == nil
}
