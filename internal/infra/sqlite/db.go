// Package sqlite provides SQLite-based persistence for the admission chain.
// Uses WAL mode for concurrent reads and crash-safe writes. The store is a
// write-through mirror of the in-memory chain so audit export survives
// restarts; it is never accepted as an input that mutates live state beyond
// the boot-time reload.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver (no CGO required)

	"github.com/meshgate/meshgate/internal/domain"
)

// DB wraps a SQLite connection with WAL mode and migrations.
type DB struct {
	db *sql.DB
}

// Open creates or opens the SQLite database at dir/chain.db.
// Enables WAL mode and a 5-second busy timeout.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dir, "chain.db")
	dsn := dbPath + "?_journal_mode=WAL&_busy_timeout=5000"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// Connection pool settings for SQLite
	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)

	d := &DB{db: db}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return d, nil
}

// Close cleanly shuts down the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Ping checks database connectivity.
func (d *DB) Ping() error {
	return d.db.Ping()
}

// migrate runs idempotent schema migrations.
func (d *DB) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS admission_chain (
			sequence  INTEGER PRIMARY KEY,
			peer_id   TEXT NOT NULL,
			decision  TEXT NOT NULL,
			score     REAL NOT NULL,
			timestamp INTEGER NOT NULL,
			prev_hash TEXT NOT NULL,
			hash      TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chain_peer ON admission_chain(peer_id)`,
	}

	for _, m := range migrations {
		if _, err := d.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// ─── Admission Chain ────────────────────────────────────────────────────────

// InsertRecord appends one admission record.
func (d *DB) InsertRecord(rec domain.AdmissionRecord) error {
	_, err := d.db.Exec(
		`INSERT INTO admission_chain (sequence, peer_id, decision, score, timestamp, prev_hash, hash)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.Sequence, rec.PeerID, string(rec.Decision), rec.Score,
		rec.Timestamp.UnixNano(), rec.PrevHash, rec.Hash,
	)
	if err != nil {
		return fmt.Errorf("insert admission record %d: %w", rec.Sequence, err)
	}
	return nil
}

// Records returns all stored records in sequence order.
func (d *DB) Records() ([]domain.AdmissionRecord, error) {
	rows, err := d.db.Query(
		`SELECT sequence, peer_id, decision, score, timestamp, prev_hash, hash
		 FROM admission_chain ORDER BY sequence ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.AdmissionRecord
	for rows.Next() {
		var r domain.AdmissionRecord
		var ts int64
		if err := rows.Scan(&r.Sequence, &r.PeerID, &r.Decision, &r.Score,
			&ts, &r.PrevHash, &r.Hash); err != nil {
			return nil, err
		}
		r.Timestamp = time.Unix(0, ts)
		records = append(records, r)
	}
	return records, rows.Err()
}

// RecordCount returns the number of stored records.
func (d *DB) RecordCount() (int64, error) {
	var n int64
	err := d.db.QueryRow(`SELECT COUNT(*) FROM admission_chain`).Scan(&n)
	return n, err
}
