package store

import (
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// SummaryVector holds the embedding of one event summary.
type SummaryVector struct {
	EventID     string
	ContactHash string
	Summary     string
	Embedding   []float64
	Model       string
	Dimensions  int
	CreatedAt   time.Time
}

// encodeEmbedding converts a []float64 to a binary BLOB (8 bytes per float64).
func encodeEmbedding(vec []float64) []byte {
	buf := make([]byte, len(vec)*8)
	for i, v := range vec {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	return buf
}

// decodeEmbedding converts a binary BLOB back to []float64.
func decodeEmbedding(buf []byte) []float64 {
	n := len(buf) / 8
	vec := make([]float64, n)
	for i := 0; i < n; i++ {
		vec[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[i*8:]))
	}
	return vec
}

// SaveSummaryVector stores or replaces the embedding for an event summary.
func (db *DB) SaveSummaryVector(v SummaryVector) error {
	return db.write(func(tx *sql.Tx) error {
		now := toMillis(db.clock())
		blob := encodeEmbedding(v.Embedding)
		_, err := tx.Exec(`
			INSERT INTO summary_vectors (event_id, contact_hash, summary, embedding, model, dimensions, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(contact_hash, event_id) DO UPDATE SET
				summary = excluded.summary, embedding = excluded.embedding,
				model = excluded.model, dimensions = excluded.dimensions, created_at = excluded.created_at
		`, v.EventID, v.ContactHash, v.Summary, blob, v.Model, len(v.Embedding), now)
		if err != nil {
			return fmt.Errorf("save summary vector: %w", err)
		}
		return nil
	})
}

// ContactVectors returns the contact's summary vectors produced by model.
func (db *DB) ContactVectors(hash, model string) ([]SummaryVector, error) {
	rows, err := db.Query(`
		SELECT event_id, contact_hash, summary, embedding, model, dimensions, created_at
		FROM summary_vectors WHERE contact_hash = ? AND model = ?
	`, hash, model)
	if err != nil {
		return nil, fmt.Errorf("contact vectors: %w", err)
	}
	defer rows.Close()

	var records []SummaryVector
	for rows.Next() {
		var v SummaryVector
		var blob []byte
		var created int64
		if err := rows.Scan(&v.EventID, &v.ContactHash, &v.Summary, &blob, &v.Model, &v.Dimensions, &created); err != nil {
			return nil, fmt.Errorf("scan vector: %w", err)
		}
		v.Embedding = decodeEmbedding(blob)
		v.CreatedAt = fromMillis(created)
		records = append(records, v)
	}
	return records, rows.Err()
}
