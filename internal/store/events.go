package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/clustercoder/bubbleOne/internal/core"
)

const week = 7 * 24 * time.Hour

// AppendEvents adds events to the contact's log, creating the contact at the
// default score if it does not exist yet. Event ids are scoped to the
// contact; ids already stored for this contact are skipped. The alias, event count and last interaction time are
// refreshed even when events is empty. Returns the events actually
// inserted, in input order.
func (db *DB) AppendEvents(hash, alias string, events []core.MetadataEvent) ([]core.MetadataEvent, error) {
	var inserted []core.MetadataEvent
	err := db.write(func(tx *sql.Tx) error {
		now := toMillis(db.clock())

		_, err := tx.Exec(`
			INSERT INTO contacts (contact_hash, alias, last_updated_at, created_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(contact_hash) DO UPDATE SET alias = CASE WHEN excluded.alias != '' THEN excluded.alias ELSE alias END
		`, hash, alias, now, now)
		if err != nil {
			return fmt.Errorf("upsert contact: %w", err)
		}

		for _, ev := range events {
			meta := ev.Metadata
			if meta == nil {
				meta = map[string]any{}
			}
			metaJSON, err := json.Marshal(meta)
			if err != nil {
				return fmt.Errorf("marshal metadata %s: %w", ev.EventID, err)
			}

			res, err := tx.Exec(`
				INSERT INTO events (event_id, contact_hash, ts, interaction_type, sentiment, intent, summary, metadata, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(contact_hash, event_id) DO NOTHING
			`, ev.EventID, hash, toMillis(ev.Timestamp), string(ev.InteractionType),
				ev.Sentiment, ev.Intent, ev.Summary, string(metaJSON), now)
			if err != nil {
				return fmt.Errorf("insert event %s: %w", ev.EventID, err)
			}
			if n, _ := res.RowsAffected(); n > 0 {
				ev.ContactHash = hash
				inserted = append(inserted, ev)
			}
		}

		_, err = tx.Exec(`
			UPDATE contacts SET
				events_count = (SELECT COUNT(*) FROM events WHERE contact_hash = ?),
				last_interaction_at = (SELECT MAX(ts) FROM events WHERE contact_hash = ?)
			WHERE contact_hash = ?
		`, hash, hash, hash)
		if err != nil {
			return fmt.Errorf("update event bookkeeping: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return inserted, nil
}

// EventWindow returns the contact's most recent limit events in timestamp
// order. limit <= 0 returns the full log.
func (db *DB) EventWindow(hash string, limit int) ([]core.MetadataEvent, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.Query(`
		SELECT event_id, contact_hash, ts, interaction_type, sentiment, intent, summary, metadata
		FROM events WHERE contact_hash = ?
		ORDER BY ts DESC, id DESC
		LIMIT ?
	`, hash, limit)
	if err != nil {
		return nil, fmt.Errorf("event window: %w", err)
	}
	defer rows.Close()

	var events []core.MetadataEvent
	for rows.Next() {
		var ev core.MetadataEvent
		var ts int64
		var kind, metaJSON string
		if err := rows.Scan(&ev.EventID, &ev.ContactHash, &ts, &kind, &ev.Sentiment, &ev.Intent, &ev.Summary, &metaJSON); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Timestamp = fromMillis(ts)
		ev.InteractionType = core.InteractionType(kind)
		if err := json.Unmarshal([]byte(metaJSON), &ev.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata %s: %w", ev.EventID, err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, nil
}

// InteractionCounts returns the number of events in the seven days up to now
// and in the seven days before that.
func (db *DB) InteractionCounts(hash string, now time.Time) (recent, prior int, err error) {
	nowMs := toMillis(now)
	weekAgo := toMillis(now.Add(-week))
	twoWeeksAgo := toMillis(now.Add(-2 * week))

	err = db.QueryRow(`
		SELECT
			COALESCE(SUM(CASE WHEN ts > ? AND ts <= ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN ts > ? AND ts <= ? THEN 1 ELSE 0 END), 0)
		FROM events WHERE contact_hash = ?
	`, weekAgo, nowMs, twoWeeksAgo, weekAgo, hash).Scan(&recent, &prior)
	if err != nil {
		return 0, 0, fmt.Errorf("interaction counts: %w", err)
	}
	return recent, prior, nil
}
