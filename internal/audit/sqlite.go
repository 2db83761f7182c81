package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/mbd888/sentinel/internal/decision"
	"github.com/mbd888/sentinel/migrations"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

// SQLiteStore persists audit records in a local SQLite file. It suits
// single-node deployments that want durability without a database server.
type SQLiteStore struct {
	db *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

// OpenSQLite opens the database at path and applies the embedded migrations.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	s := &SQLiteStore{db: db}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate applies pending migrations.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	provider, err := goose.NewProvider(goose.DialectSQLite3, s.db, migrations.SQLite())
	if err != nil {
		return fmt.Errorf("create migration provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// Close closes the SQLite handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Put(ctx context.Context, rec *Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := rec.Validate(); err != nil {
		return err
	}
	body, err := Encode(rec)
	if err != nil {
		return err
	}

	var resolved sql.NullInt64
	if at := rec.ResolvedAt(); at != nil {
		resolved = sql.NullInt64{Int64: toMillis(*at), Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO audit_latest (subject_id, surface, record_id, body, digest, created_at, revision, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (subject_id, surface) DO UPDATE SET
		   record_id = excluded.record_id,
		   body = excluded.body,
		   digest = excluded.digest,
		   created_at = excluded.created_at,
		   revision = excluded.revision,
		   updated_at = excluded.updated_at
		 WHERE CASE WHEN excluded.revision > 0
		   THEN audit_latest.revision = excluded.revision - 1
		     OR (audit_latest.revision = excluded.revision AND audit_latest.digest = excluded.digest)
		   ELSE audit_latest.created_at <= excluded.created_at
		 END`,
		rec.SubjectID, string(rec.Surface), rec.ID, string(body), rec.Digest,
		toMillis(rec.CreatedAt), rec.Revision(), toMillis(time.Now()),
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

	_, err = tx.ExecContext(ctx,
		`INSERT INTO audit_records (id, subject_id, surface, body, digest, created_at, resolved_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   body = excluded.body,
		   digest = excluded.digest,
		   resolved_at = excluded.resolved_at`,
		rec.ID, rec.SubjectID, string(rec.Surface), string(body), rec.Digest, toMillis(rec.CreatedAt), resolved,
	)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetHistory(ctx context.Context, subjectID string, surface decision.Surface, limit int) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT body FROM audit_records
		 WHERE subject_id = ? AND surface = ?
		 ORDER BY created_at DESC, rowid DESC
		 LIMIT ?`,
		subjectID, string(surface), clampLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("query audit history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Record
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		rec, err := Decode([]byte(body))
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Latest(ctx context.Context, subjectID string, surface decision.Surface) (*Record, error) {
	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM audit_latest WHERE subject_id = ? AND surface = ?`,
		subjectID, string(surface),
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query audit latest: %w", err)
	}
	return Decode([]byte(body))
}

func (s *SQLiteStore) recordCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_records`).Scan(&n)
	return n, err
}
