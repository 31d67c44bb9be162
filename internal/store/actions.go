package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/clustercoder/bubbleOne/internal/core"
	"github.com/google/uuid"
)

// Action is a unit of recommended or user-initiated work. Status moves from
// pending to completed or ignored exactly once.
type Action struct {
	ID           string            `json:"id"`
	ContactHash  string            `json:"contact_hash"`
	Type         core.ActionType   `json:"action_type"`
	Text         string            `json:"text"`
	Status       core.ActionStatus `json:"status"`
	Origin       core.ActionOrigin `json:"origin"`
	ScheduledFor *time.Time        `json:"scheduled_for"`
	CreatedAt    time.Time         `json:"created_at"`
	CompletedAt  *time.Time        `json:"completed_at"`
	IgnoredAt    *time.Time        `json:"ignored_at"`
}

const actionColumns = `id, contact_hash, action_type, text, status, origin, scheduled_for, created_at, completed_at, ignored_at`

func scanAction(row rowScanner) (*Action, error) {
	var a Action
	var kind, status, origin string
	var scheduled, completed, ignored sql.NullInt64
	var created int64
	if err := row.Scan(&a.ID, &a.ContactHash, &kind, &a.Text, &status, &origin, &scheduled, &created, &completed, &ignored); err != nil {
		return nil, err
	}
	a.Type = core.ActionType(kind)
	a.Status = core.ActionStatus(status)
	a.Origin = core.ActionOrigin(origin)
	a.ScheduledFor = timePtr(scheduled)
	a.CreatedAt = fromMillis(created)
	a.CompletedAt = timePtr(completed)
	a.IgnoredAt = timePtr(ignored)
	return &a, nil
}

// AddAction inserts a pending action. ID and CreatedAt are filled in when
// empty.
func (db *DB) AddAction(a *Action) error {
	return db.write(func(tx *sql.Tx) error {
		return db.insertActionTx(tx, a)
	})
}

// AddActionIfNone inserts a as pending unless the contact already has a
// pending action with the same origin and one of dedupTypes. The check and
// the insert happen under one lock. Returns whether a was created.
func (db *DB) AddActionIfNone(a *Action, dedupTypes ...core.ActionType) (bool, error) {
	created := false
	err := db.write(func(tx *sql.Tx) error {
		exists, err := hasPendingTx(tx, a.ContactHash, a.Origin, dedupTypes)
		if err != nil {
			return err
		}
		if exists {
			return nil
		}
		if err := db.insertActionTx(tx, a); err != nil {
			return err
		}
		created = true
		return nil
	})
	return created, err
}

func (db *DB) insertActionTx(tx *sql.Tx, a *Action) error {
	if !a.Type.Valid() {
		return fmt.Errorf("add action: unknown type %q: %w", a.Type, core.ErrInvalidInput)
	}
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = db.clock()
	}
	if a.Origin == "" {
		a.Origin = core.OriginUser
	}
	a.Status = core.ActionPending
	a.CompletedAt = nil
	a.IgnoredAt = nil

	_, err := tx.Exec(`
		INSERT INTO actions (id, contact_hash, action_type, text, status, origin, scheduled_for, created_at)
		VALUES (?, ?, ?, ?, 'pending', ?, ?, ?)
	`, a.ID, a.ContactHash, string(a.Type), a.Text, string(a.Origin), nullMillis(a.ScheduledFor), toMillis(a.CreatedAt))
	if err != nil {
		return fmt.Errorf("add action: %w", err)
	}
	return nil
}

// GetAction returns an action by id, or nil if not found.
func (db *DB) GetAction(id string) (*Action, error) {
	a, err := scanAction(db.QueryRow(`SELECT `+actionColumns+` FROM actions WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get action: %w", err)
	}
	return a, nil
}

// CompleteAction moves a pending action to completed. It returns nil, nil
// when the action does not exist or is already terminal.
func (db *DB) CompleteAction(id string, at time.Time) (*Action, error) {
	return db.resolveAction(id, core.ActionCompleted, "completed_at", at)
}

// IgnoreAction moves a pending action to ignored. It returns nil, nil when
// the action does not exist or is already terminal.
func (db *DB) IgnoreAction(id string, at time.Time) (*Action, error) {
	return db.resolveAction(id, core.ActionIgnored, "ignored_at", at)
}

func (db *DB) resolveAction(id string, status core.ActionStatus, column string, at time.Time) (*Action, error) {
	var resolved *Action
	err := db.write(func(tx *sql.Tx) error {
		res, err := tx.Exec(
			`UPDATE actions SET status = ?, `+column+` = ? WHERE id = ? AND status = 'pending'`,
			string(status), toMillis(at), id,
		)
		if err != nil {
			return fmt.Errorf("resolve action: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}
		resolved, err = scanAction(tx.QueryRow(`SELECT `+actionColumns+` FROM actions WHERE id = ?`, id))
		return err
	})
	if err != nil {
		return nil, err
	}
	return resolved, nil
}

// ListPendingActions returns pending actions, oldest first.
func (db *DB) ListPendingActions() ([]Action, error) {
	return db.queryActions(`SELECT ` + actionColumns + ` FROM actions WHERE status = 'pending' ORDER BY created_at ASC, id ASC`)
}

// ListOverduePendingActions returns pending actions whose anchor time
// (scheduled_for, else created_at) is more than threshold before now.
func (db *DB) ListOverduePendingActions(threshold time.Duration, now time.Time) ([]Action, error) {
	cutoff := toMillis(now.Add(-threshold))
	return db.queryActions(`
		SELECT `+actionColumns+` FROM actions
		WHERE status = 'pending' AND COALESCE(scheduled_for, created_at) < ?
		ORDER BY created_at ASC, id ASC
	`, cutoff)
}

func (db *DB) queryActions(query string, args ...any) ([]Action, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query actions: %w", err)
	}
	defer rows.Close()

	var actions []Action
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		actions = append(actions, *a)
	}
	return actions, rows.Err()
}

// HasPendingAction reports whether the contact has a pending action. An
// empty origin matches any origin; no types matches any type.
func (db *DB) HasPendingAction(hash string, origin core.ActionOrigin, types ...core.ActionType) (bool, error) {
	query, args := pendingQuery(hash, origin, types)
	var count int
	if err := db.QueryRow(query, args...).Scan(&count); err != nil {
		return false, fmt.Errorf("has pending action: %w", err)
	}
	return count > 0, nil
}

func hasPendingTx(tx *sql.Tx, hash string, origin core.ActionOrigin, types []core.ActionType) (bool, error) {
	query, args := pendingQuery(hash, origin, types)
	var count int
	if err := tx.QueryRow(query, args...).Scan(&count); err != nil {
		return false, fmt.Errorf("has pending action: %w", err)
	}
	return count > 0, nil
}

func pendingQuery(hash string, origin core.ActionOrigin, types []core.ActionType) (string, []any) {
	var b strings.Builder
	b.WriteString(`SELECT COUNT(*) FROM actions WHERE contact_hash = ? AND status = 'pending'`)
	args := []any{hash}
	if origin != "" {
		b.WriteString(` AND origin = ?`)
		args = append(args, string(origin))
	}
	if len(types) > 0 {
		b.WriteString(` AND action_type IN (?` + strings.Repeat(", ?", len(types)-1) + `)`)
		for _, t := range types {
			args = append(args, string(t))
		}
	}
	return b.String(), args
}
