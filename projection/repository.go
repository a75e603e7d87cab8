package projection

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"escrowflow/role"
)

// Repository is the PostgreSQL-backed role store. Rows are append-only;
// duplicate inserts for the same (user, agreement) pair are silent no-ops so
// concurrent backfills stay idempotent.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// List returns the role records for a user, newest first.
func (r *Repository) List(ctx context.Context, userAddress string) ([]RoleRecord, error) {
	const query = `
		SELECT agreement_address, role, network_id, created_at
		FROM user_agreements
		WHERE user_address = $1
		ORDER BY created_at DESC
	`

	rows, err := r.pool.Query(ctx, query, strings.ToLower(userAddress))
	if err != nil {
		return nil, fmt.Errorf("projection: list role records: %w", err)
	}
	defer rows.Close()

	records := make([]RoleRecord, 0, 8)
	for rows.Next() {
		rec := RoleRecord{UserAddress: strings.ToLower(userAddress)}
		var roleLabel string
		if err := rows.Scan(&rec.AgreementAddress, &roleLabel, &rec.NetworkID, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("projection: scan role record: %w", err)
		}
		rec.Role, err = role.Parse(roleLabel)
		if err != nil {
			return nil, fmt.Errorf("projection: stored role record invalid: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("projection: iterate role records: %w", err)
	}
	return records, nil
}

// Add appends a role record. Re-adding an existing (user, agreement) pair is
// harmless.
func (r *Repository) Add(ctx context.Context, rec RoleRecord) error {
	if rec.UserAddress == "" || rec.AgreementAddress == "" {
		return fmt.Errorf("projection: role record missing addresses")
	}
	parsed, err := role.Parse(string(rec.Role))
	if err != nil {
		return fmt.Errorf("projection: role record invalid: %w", err)
	}
	if parsed == role.None {
		return fmt.Errorf("projection: role record must name a concrete role")
	}

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	const query = `
		INSERT INTO user_agreements (user_address, agreement_address, role, network_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_address, agreement_address) DO NOTHING
	`

	if _, err := r.pool.Exec(ctx, query,
		strings.ToLower(rec.UserAddress),
		strings.ToLower(rec.AgreementAddress),
		string(rec.Role),
		rec.NetworkID,
		createdAt,
	); err != nil {
		return fmt.Errorf("projection: insert role record: %w", err)
	}
	return nil
}
