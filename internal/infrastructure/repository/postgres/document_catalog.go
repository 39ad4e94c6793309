package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/josephwmusso/IntraNest/internal/core/domain"
	"github.com/josephwmusso/IntraNest/internal/core/ports"
)

var _ ports.DocumentCatalog = (*DocumentCatalog)(nil)

// DocumentCatalog stores terminal document snapshots so listings outlive the status cache TTL.
type DocumentCatalog struct {
	db *sql.DB
}

func NewDocumentCatalog(db *sql.DB) *DocumentCatalog {
	return &DocumentCatalog{db: db}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (c *DocumentCatalog) EnsureSchema(ctx context.Context) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026101701)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS document_catalog (
	document_id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	filename TEXT NOT NULL,
	mime_type TEXT NOT NULL,
	size_bytes BIGINT NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	chunks_created INTEGER NOT NULL DEFAULT 0,
	error_message TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_document_catalog_user_completed ON document_catalog(user_id, completed_at DESC);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (c *DocumentCatalog) Upsert(ctx context.Context, entry domain.CatalogEntry) error {
	if entry.DocumentID == "" {
		return domain.WrapError(domain.ErrInvalidInput, "catalog upsert", fmt.Errorf("document_id is required"))
	}
	completedAt := entry.CompletedAt
	if completedAt.IsZero() {
		completedAt = time.Now().UTC()
	}

	_, err := c.db.ExecContext(ctx, `
INSERT INTO document_catalog (
	document_id, tenant_id, user_id, filename, mime_type, size_bytes, status, chunks_created, error_message, created_at, completed_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
ON CONFLICT (document_id) DO UPDATE SET
	status = EXCLUDED.status,
	chunks_created = EXCLUDED.chunks_created,
	error_message = EXCLUDED.error_message,
	completed_at = EXCLUDED.completed_at
`,
		entry.DocumentID, entry.TenantID, entry.UserID, entry.Filename, entry.MimeType, entry.SizeBytes,
		string(entry.Status), entry.ChunksCreated, entry.Error, entry.CreatedAt, completedAt,
	)
	if err != nil {
		return domain.WrapError(domain.ErrTemporary, "catalog upsert", err)
	}
	return nil
}

func (c *DocumentCatalog) ListByUser(ctx context.Context, userID string, limit int) ([]domain.CatalogEntry, error) {
	rows, err := c.db.QueryContext(ctx, `
SELECT document_id, tenant_id, user_id, filename, mime_type, size_bytes, status, chunks_created, error_message, created_at, completed_at
FROM document_catalog
WHERE user_id = $1
ORDER BY completed_at DESC
LIMIT $2
`, userID, limit)
	if err != nil {
		return nil, domain.WrapError(domain.ErrTemporary, "catalog list", err)
	}
	defer rows.Close()

	out := make([]domain.CatalogEntry, 0, limit)
	for rows.Next() {
		var entry domain.CatalogEntry
		var status string
		if err := rows.Scan(
			&entry.DocumentID, &entry.TenantID, &entry.UserID, &entry.Filename, &entry.MimeType, &entry.SizeBytes,
			&status, &entry.ChunksCreated, &entry.Error, &entry.CreatedAt, &entry.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("scan catalog entry: %w", err)
		}
		entry.Status = domain.DocumentStatus(status)
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.WrapError(domain.ErrTemporary, "catalog list", err)
	}
	return out, nil
}

func (c *DocumentCatalog) Ping(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return domain.WrapError(domain.ErrTemporary, "postgres ping", err)
	}
	return nil
}
