// Package bond is the device manager: it persists bonded peers in SQLite,
// derives their key material, and reports storage completions the way a
// flash-backed bond store would.
package bond

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when no bond exists for a peer.
var ErrNotFound = errors.New("bond: not found")

// timeLayout sorts lexically in time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Bond is one bonded peer.
type Bond struct {
	ID        int64
	Addr      string
	Keys      Keys
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store persists bonds in a SQLite database.
type Store struct {
	db  *sql.DB
	key []byte // seals LTKs at rest
}

// OpenStore opens (or creates) the bond database at path. root is the local
// identity root the storage key is derived from.
func OpenStore(path string, root []byte) (*Store, error) {
	key, err := storageKey(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("bond: create db dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("bond: open db: %w", err)
	}
	// One writer at a time, like the flash it stands in for.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("bond: set WAL mode: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("bond: migrate: %w", err)
	}
	return &Store{db: db, key: key}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS bonds (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			addr       TEXT NOT NULL UNIQUE,
			irk        BLOB NOT NULL,
			ltk_iv     BLOB NOT NULL,
			ltk_ct     BLOB NOT NULL,
			ltk_tag    BLOB NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)
	`)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put inserts or replaces the bond for b.Addr and returns its ID. The ID of
// an existing bond is kept.
func (s *Store) Put(ctx context.Context, b Bond) (int64, error) {
	iv, ct, tag, err := seal(s.key, b.Keys.LTK[:])
	if err != nil {
		return 0, err
	}
	now := time.Now().UTC().Format(timeLayout)
	var id int64
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO bonds (addr, irk, ltk_iv, ltk_ct, ltk_tag, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(addr) DO UPDATE SET
			irk = excluded.irk,
			ltk_iv = excluded.ltk_iv,
			ltk_ct = excluded.ltk_ct,
			ltk_tag = excluded.ltk_tag,
			updated_at = excluded.updated_at
		RETURNING id`,
		b.Addr, b.Keys.IRK[:], iv, ct, tag, now, now,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("bond: put %s: %w", b.Addr, err)
	}
	return id, nil
}

// Get returns the bond for addr.
func (s *Store) Get(ctx context.Context, addr string) (Bond, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, addr, irk, ltk_iv, ltk_ct, ltk_tag, created_at, updated_at FROM bonds WHERE addr = ?", addr)
	return s.scanBond(row)
}

// List returns up to limit bonds, most recently updated first. limit <= 0
// returns all of them.
func (s *Store) List(ctx context.Context, limit int) ([]Bond, error) {
	query := "SELECT id, addr, irk, ltk_iv, ltk_ct, ltk_tag, created_at, updated_at FROM bonds ORDER BY updated_at DESC, id DESC"
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("bond: list: %w", err)
	}
	defer rows.Close()

	var out []Bond
	for rows.Next() {
		b, err := s.scanBond(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// Delete removes the bond with the given ID.
func (s *Store) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM bonds WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("bond: delete %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAll removes every bond and returns how many were dropped.
func (s *Store) DeleteAll(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM bonds")
	if err != nil {
		return 0, fmt.Errorf("bond: delete all: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanBond(row scanner) (Bond, error) {
	var (
		b                    Bond
		irk, iv, ct, tag     []byte
		createdAt, updatedAt string
	)
	if err := row.Scan(&b.ID, &b.Addr, &irk, &iv, &ct, &tag, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Bond{}, ErrNotFound
		}
		return Bond{}, fmt.Errorf("bond: scan: %w", err)
	}
	ltk, err := open(s.key, iv, ct, tag)
	if err != nil {
		return Bond{}, err
	}
	if len(ltk) != len(b.Keys.LTK) || len(irk) != len(b.Keys.IRK) {
		return Bond{}, fmt.Errorf("bond: corrupt key material for %s", b.Addr)
	}
	copy(b.Keys.LTK[:], ltk)
	copy(b.Keys.IRK[:], irk)
	b.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	b.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)
	return b, nil
}
