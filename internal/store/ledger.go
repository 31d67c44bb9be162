package store

import (
	"database/sql"
	"fmt"
	"time"
)

// LedgerEntry is one row of the append-only audit ledger.
type LedgerEntry struct {
	Seq       int64     `json:"seq"`
	ID        string    `json:"id"`
	Event     string    `json:"event"`
	Payload   string    `json:"payload"`
	PrevHash  string    `json:"prev_hash"`
	Hash      string    `json:"hash"`
	CreatedAt time.Time `json:"created_at"`
}

// AppendLedger appends an entry chained to the current tail. seal receives
// the tail hash (genesis when the ledger is empty) and returns the new
// entry's hash. Reading the tail and inserting happen in one transaction.
func (db *DB) AppendLedger(e LedgerEntry, genesis string, seal func(prevHash string) string) (*LedgerEntry, error) {
	err := db.write(func(tx *sql.Tx) error {
		prev := genesis
		err := tx.QueryRow(`SELECT hash FROM audit_ledger ORDER BY seq DESC LIMIT 1`).Scan(&prev)
		if err != nil && err != sql.ErrNoRows {
			return fmt.Errorf("ledger tail: %w", err)
		}

		e.PrevHash = prev
		e.Hash = seal(prev)
		res, err := tx.Exec(`
			INSERT INTO audit_ledger (id, event, payload, prev_hash, hash, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, e.ID, e.Event, e.Payload, e.PrevHash, e.Hash, toMillis(e.CreatedAt))
		if err != nil {
			return fmt.Errorf("append ledger: %w", err)
		}
		e.Seq, _ = res.LastInsertId()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// LedgerEntries returns the whole ledger in append order.
func (db *DB) LedgerEntries() ([]LedgerEntry, error) {
	rows, err := db.Query(`
		SELECT seq, id, event, payload, prev_hash, hash, created_at
		FROM audit_ledger ORDER BY seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		var created int64
		if err := rows.Scan(&e.Seq, &e.ID, &e.Event, &e.Payload, &e.PrevHash, &e.Hash, &created); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		e.CreatedAt = fromMillis(created)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
