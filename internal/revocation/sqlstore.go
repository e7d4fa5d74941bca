package revocation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS revocations (
	serial     TEXT PRIMARY KEY,
	issuer_dn  TEXT NOT NULL,
	revoked_at TIMESTAMP NOT NULL,
	reason     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_revocations_issuer ON revocations(issuer_dn);
`

// SQLStore is the SQLite-backed revocation store.
type SQLStore struct {
	db *sqlx.DB
}

// OpenSQLStore opens (and creates, if needed) the revocation database at
// path. Use ":memory:" for an ephemeral store.
func OpenSQLStore(path string) (*SQLStore, error) {
	db, err := sqlx.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open revocation database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create revocation schema: %w", err)
	}
	return &SQLStore{db: db}, nil
}

// Close releases the database handle.
func (s *SQLStore) Close() error { return s.db.Close() }

// AddRevocation implements Store. Re-revoking a serial replaces the prior
// record.
func (s *SQLStore) AddRevocation(ctx context.Context, rec Record) error {
	rec.Serial = NormalizeSerial(rec.Serial)
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO revocations (serial, issuer_dn, revoked_at, reason) VALUES (?, ?, ?, ?)`,
		rec.Serial, rec.IssuerDN, rec.RevokedAt.UTC(), int(rec.Reason))
	if err != nil {
		return fmt.Errorf("failed to add revocation for %s: %w", rec.Serial, err)
	}
	return nil
}

// GetRevocation implements Store.
func (s *SQLStore) GetRevocation(ctx context.Context, serial string) (*Record, error) {
	var rec Record
	err := s.db.GetContext(ctx, &rec,
		`SELECT serial, issuer_dn, revoked_at, reason FROM revocations WHERE serial = ?`,
		NormalizeSerial(serial))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up revocation for %s: %w", serial, err)
	}
	return &rec, nil
}

// GetRevocationsByIssuer implements Store.
func (s *SQLStore) GetRevocationsByIssuer(ctx context.Context, issuerDN string) ([]Record, error) {
	var recs []Record
	err := s.db.SelectContext(ctx, &recs,
		`SELECT serial, issuer_dn, revoked_at, reason FROM revocations WHERE issuer_dn = ? ORDER BY serial`,
		issuerDN)
	if err != nil {
		return nil, fmt.Errorf("failed to list revocations for %q: %w", issuerDN, err)
	}
	return recs, nil
}
