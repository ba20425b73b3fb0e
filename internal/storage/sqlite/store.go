package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/relves/trustkit/internal/storage"
	"github.com/relves/trustkit/pkg/types"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

const dbFileName = "statuslists.db"

type Store struct {
	db     *sql.DB
	dbPath string
}

// Open opens (creating if needed) the status list database under basePath.
func Open(basePath string) (*Store, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	dbPath := filepath.Join(basePath, dbFileName)
	db, err := sql.Open("sqlite", dbPath+
		"?_pragma=journal_mode(WAL)"+
		"&_pragma=foreign_keys(ON)"+
		"&_pragma=busy_timeout(5000)"+ // Wait up to 5s on lock instead of returning SQLITE_BUSY immediately
		"&_pragma=synchronous(NORMAL)"+
		"&_pragma=wal_autocheckpoint(1000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite handles concurrent writers poorly
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return &Store{
		db:     db,
		dbPath: dbPath,
	}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) DBPath() string {
	return s.dbPath
}

func (s *Store) CreateStatusList(ctx context.Context, rec *storage.StatusListRecord) error {
	now := time.Now().UTC()
	created := rec.CreatedAt
	if created.IsZero() {
		created = now
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO status_lists (id, issuer, purpose, size, bits, set_count, version, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Issuer, string(rec.Purpose), rec.Size, rec.Bits, rec.SetCount, rec.Version,
		created.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
	if err != nil && isUniqueViolation(err) {
		return storage.ErrExists
	}
	return err
}

func (s *Store) GetStatusList(ctx context.Context, id string) (*storage.StatusListRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, issuer, purpose, size, bits, set_count, version, created_at, updated_at
		 FROM status_lists WHERE id = ?`, id)
	rec, err := scanStatusList(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	return rec, err
}

// UpdateStatusList writes the record only if its version is newer than the
// stored one, so concurrent writers can never roll a list back.
func (s *Store) UpdateStatusList(ctx context.Context, rec *storage.StatusListRecord) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx,
		`UPDATE status_lists SET bits = ?, set_count = ?, version = ?, updated_at = ?
		 WHERE id = ? AND version < ?`,
		rec.Bits, rec.SetCount, rec.Version, now, rec.ID, rec.Version)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM status_lists WHERE id = ?`, rec.ID).Scan(&exists)
	if err != nil {
		return err
	}
	if exists == 0 {
		return storage.ErrNotFound
	}
	return storage.ErrStaleVersion
}

func (s *Store) ListStatusLists(ctx context.Context, issuer string) ([]*storage.StatusListRecord, error) {
	query := `SELECT id, issuer, purpose, size, bits, set_count, version, created_at, updated_at
		 FROM status_lists`
	var args []any
	if issuer != "" {
		query += ` WHERE issuer = ?`
		args = append(args, issuer)
	}
	query += ` ORDER BY rowid`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*storage.StatusListRecord
	for rows.Next() {
		rec, err := scanStatusList(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanStatusList(row scanner) (*storage.StatusListRecord, error) {
	var rec storage.StatusListRecord
	var purpose, createdAt, updatedAt string
	if err := row.Scan(&rec.ID, &rec.Issuer, &purpose, &rec.Size, &rec.Bits,
		&rec.SetCount, &rec.Version, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	rec.Purpose = types.StatusPurpose(purpose)

	var parseErr error
	rec.CreatedAt, parseErr = time.Parse(time.RFC3339Nano, createdAt)
	if parseErr != nil {
		slog.Warn("failed to parse created_at timestamp", "listID", rec.ID, "value", createdAt, "error", parseErr)
	}
	rec.UpdatedAt, parseErr = time.Parse(time.RFC3339Nano, updatedAt)
	if parseErr != nil {
		slog.Warn("failed to parse updated_at timestamp", "listID", rec.ID, "value", updatedAt, "error", parseErr)
	}
	return &rec, nil
}

func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "PRIMARY KEY")
}
