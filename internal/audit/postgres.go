package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mbd888/sentinel/internal/decision"
)

// PostgresStore persists audit records in PostgreSQL. The schema lives in
// migrations/postgres and is applied with cmd/migrate.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed audit store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *PostgresStore) Put(ctx context.Context, rec *Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	body, err := Encode(rec)
	if err != nil {
		return err
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// The pointer is moved first so a rejected revisioned write leaves the
	// incident row untouched.
	res, err := tx.ExecContext(ctx, `
		INSERT INTO audit_latest (subject_id, surface, record_id, body, digest, created_at, revision, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (subject_id, surface) DO UPDATE SET
			record_id = EXCLUDED.record_id,
			body = EXCLUDED.body,
			digest = EXCLUDED.digest,
			created_at = EXCLUDED.created_at,
			revision = EXCLUDED.revision,
			updated_at = NOW()
		WHERE CASE WHEN EXCLUDED.revision > 0
			THEN audit_latest.revision = EXCLUDED.revision - 1
				OR (audit_latest.revision = EXCLUDED.revision AND audit_latest.digest = EXCLUDED.digest)
			ELSE audit_latest.created_at <= EXCLUDED.created_at
		END`,
		rec.SubjectID, string(rec.Surface), rec.ID, body, rec.Digest, rec.CreatedAt, rec.Revision(),
	)
	if err != nil {
		return fmt.Errorf("upsert audit latest: %w", err)
	}
	if rec.Revision() > 0 {
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("upsert audit latest: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("%w: %s revision %d", ErrConflict, rec.ID, rec.Revision())
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO audit_records (id, subject_id, surface, body, digest, created_at, resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			body = EXCLUDED.body,
			digest = EXCLUDED.digest,
			resolved_at = EXCLUDED.resolved_at`,
		rec.ID, rec.SubjectID, string(rec.Surface), body, rec.Digest, rec.CreatedAt, rec.ResolvedAt(),
	)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}

	return tx.Commit()
}

func (p *PostgresStore) GetHistory(ctx context.Context, subjectID string, surface decision.Surface, limit int) ([]*Record, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT body FROM audit_records
		WHERE subject_id = $1 AND surface = $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3`,
		subjectID, string(surface), clampLimit(limit),
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Record
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		rec, err := Decode(body)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Latest(ctx context.Context, subjectID string, surface decision.Surface) (*Record, error) {
	var body []byte
	err := p.db.QueryRowContext(ctx, `
		SELECT body FROM audit_latest WHERE subject_id = $1 AND surface = $2`,
		subjectID, string(surface),
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return Decode(body)
}
