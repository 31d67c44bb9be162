package store

import (
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/clustercoder/bubbleOne/internal/core"
	"github.com/clustercoder/bubbleOne/internal/scoring"
)

// decayNoiseFloor is the smallest realtime-decay change worth writing.
const decayNoiseFloor = 0.005

// Contact is the authoritative per-contact record.
type Contact struct {
	ContactHash       string             `json:"contact_hash"`
	Alias             string             `json:"alias"`
	PreviousScore     float64            `json:"previous_score"`
	CurrentScore      float64            `json:"current_score"`
	Band              core.Band          `json:"band"`
	RiskLevel         core.RiskLevel     `json:"risk_level"`
	Recommendation    string             `json:"recommended_action"`
	ActionType        core.ActionType    `json:"action_type"`
	Priority          string             `json:"priority"`
	ScheduledAt       *time.Time         `json:"schedule_at"`
	AnomalyDetected   bool               `json:"anomaly_detected"`
	AnomalyReason     core.AnomalyReason `json:"anomaly_reason"`
	DraftMessage      string             `json:"draft_message"`
	LastUpdatedAt     time.Time          `json:"last_updated_at"`
	LastInteractionAt *time.Time         `json:"last_interaction_at"`
	EventsCount       int                `json:"events_count"`
	AutoNudgeEnabled  bool               `json:"auto_nudge_enabled"`
	LastAutoActionAt  *time.Time         `json:"last_auto_action_at"`
	Tuning            core.TuningState   `json:"tuning"`
	CreatedAt         time.Time          `json:"created_at"`
}

// Outcome is a scoring and planning result to write onto a contact.
// LambdaDecay is nil unless the decay rate was retrained.
type Outcome struct {
	Score           float64
	Recommendation  string
	DraftMessage    string
	ActionType      core.ActionType
	Priority        string
	ScheduledAt     *time.Time
	AnomalyDetected bool
	AnomalyReason   core.AnomalyReason
	LambdaDecay     *float64
}

const contactColumns = `
	contact_hash, alias, previous_score, current_score, band, risk_level,
	recommendation, action_type, priority, scheduled_at, anomaly_detected, anomaly_reason,
	draft_message, last_updated_at, last_interaction_at, events_count, auto_nudge,
	last_auto_action_at, interaction_multiplier, lambda_decay, positive_feedback,
	negative_feedback, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContact(row rowScanner) (*Contact, error) {
	var c Contact
	var band, risk, actionType, reason string
	var scheduledAt, lastInteraction, lastAuto sql.NullInt64
	var anomaly, autoNudge int
	var lastUpdated, created int64

	err := row.Scan(
		&c.ContactHash, &c.Alias, &c.PreviousScore, &c.CurrentScore, &band, &risk,
		&c.Recommendation, &actionType, &c.Priority, &scheduledAt, &anomaly, &reason,
		&c.DraftMessage, &lastUpdated, &lastInteraction, &c.EventsCount, &autoNudge,
		&lastAuto, &c.Tuning.InteractionMultiplier, &c.Tuning.LambdaDecay,
		&c.Tuning.PositiveFeedback, &c.Tuning.NegativeFeedback, &created,
	)
	if err != nil {
		return nil, err
	}

	c.Band = core.Band(band)
	c.RiskLevel = core.RiskLevel(risk)
	c.ActionType = core.ActionType(actionType)
	c.AnomalyReason = core.AnomalyReason(reason)
	c.AnomalyDetected = anomaly != 0
	c.AutoNudgeEnabled = autoNudge != 0
	c.ScheduledAt = timePtr(scheduledAt)
	c.LastInteractionAt = timePtr(lastInteraction)
	c.LastAutoActionAt = timePtr(lastAuto)
	c.LastUpdatedAt = fromMillis(lastUpdated)
	c.CreatedAt = fromMillis(created)
	return &c, nil
}

// GetContact returns a contact by hash, or nil if not found.
func (db *DB) GetContact(hash string) (*Contact, error) {
	c, err := scanContact(db.QueryRow(`SELECT `+contactColumns+` FROM contacts WHERE contact_hash = ?`, hash))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get contact: %w", err)
	}
	return c, nil
}

// ListContacts returns every contact, most at-risk (lowest score) first.
func (db *DB) ListContacts() ([]Contact, error) {
	return db.queryContacts(`SELECT ` + contactColumns + ` FROM contacts ORDER BY current_score ASC, contact_hash ASC`)
}

// ListContactsWithEvents returns contacts that have at least one stored event.
func (db *DB) ListContactsWithEvents() ([]Contact, error) {
	return db.queryContacts(`SELECT ` + contactColumns + ` FROM contacts WHERE events_count > 0 ORDER BY contact_hash ASC`)
}

func (db *DB) queryContacts(query string, args ...any) ([]Contact, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query contacts: %w", err)
	}
	defer rows.Close()

	var contacts []Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		contacts = append(contacts, *c)
	}
	return contacts, rows.Err()
}

func getContactTx(tx *sql.Tx, hash string) (*Contact, error) {
	c, err := scanContact(tx.QueryRow(`SELECT `+contactColumns+` FROM contacts WHERE contact_hash = ?`, hash))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get contact: %w", err)
	}
	return c, nil
}

// ApplyOutcome writes a scoring result onto the contact in one transaction.
// The old current score becomes the previous score; band and risk are
// derived from the clamped score. Tuning is untouched unless the outcome
// carries a retrained lambda.
func (db *DB) ApplyOutcome(hash string, o Outcome, at time.Time) (*Contact, error) {
	var updated *Contact
	err := db.write(func(tx *sql.Tx) error {
		c, err := getContactTx(tx, hash)
		if err != nil {
			return err
		}
		if c == nil {
			return fmt.Errorf("apply outcome %s: %w", hash, core.ErrNotFound)
		}

		score := scoring.Clamp(o.Score)
		reason := o.AnomalyReason
		if reason == "" {
			reason = core.AnomalyNone
		}
		lambda := c.Tuning.LambdaDecay
		if o.LambdaDecay != nil {
			lambda = scoring.ClampLambda(*o.LambdaDecay)
		}

		_, err = tx.Exec(`
			UPDATE contacts SET
				previous_score = ?, current_score = ?, band = ?, risk_level = ?,
				recommendation = ?, action_type = ?, priority = ?, scheduled_at = ?,
				anomaly_detected = ?, anomaly_reason = ?, draft_message = ?,
				lambda_decay = ?, last_updated_at = ?
			WHERE contact_hash = ?
		`, c.CurrentScore, score, string(scoring.BandFor(score)), string(scoring.RiskFor(score, o.AnomalyDetected)),
			o.Recommendation, string(o.ActionType), o.Priority, nullMillis(o.ScheduledAt),
			boolInt(o.AnomalyDetected), string(reason), o.DraftMessage,
			lambda, toMillis(at), hash)
		if err != nil {
			return fmt.Errorf("apply outcome: %w", err)
		}

		updated, err = getContactTx(tx, hash)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ApplyRealtimeDecay decays every contact from its last update to now. Only
// contacts whose score moves by more than the noise floor are written, and
// only those get a new last-updated stamp, so small per-tick decay
// accumulates until it is worth persisting. Returns the number changed.
func (db *DB) ApplyRealtimeDecay(now time.Time) (int, error) {
	changed := 0
	err := db.write(func(tx *sql.Tx) error {
		rows, err := tx.Query(`
			SELECT contact_hash, current_score, lambda_decay, anomaly_detected, last_updated_at
			FROM contacts
		`)
		if err != nil {
			return fmt.Errorf("query decay targets: %w", err)
		}

		type decayTarget struct {
			hash        string
			score       float64
			lambda      float64
			anomaly     bool
			lastUpdated int64
		}

		var targets []decayTarget
		for rows.Next() {
			var t decayTarget
			var anomaly int
			if err := rows.Scan(&t.hash, &t.score, &t.lambda, &anomaly, &t.lastUpdated); err != nil {
				rows.Close()
				return fmt.Errorf("scan decay target: %w", err)
			}
			t.anomaly = anomaly != 0
			targets = append(targets, t)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, t := range targets {
			days := scoring.DaysSince(now, fromMillis(t.lastUpdated))
			if days <= 0 {
				continue
			}
			decayed := scoring.Decay(t.score, t.lambda, days)
			if math.Abs(decayed-t.score) <= decayNoiseFloor {
				continue
			}
			_, err := tx.Exec(`
				UPDATE contacts SET current_score = ?, band = ?, risk_level = ?, last_updated_at = ?
				WHERE contact_hash = ?
			`, decayed, string(scoring.BandFor(decayed)), string(scoring.RiskFor(decayed, t.anomaly)), toMillis(now), t.hash)
			if err != nil {
				return fmt.Errorf("update decay %s: %w", t.hash, err)
			}
			changed++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return changed, nil
}

// ApplyFeedback nudges the contact's tuning and persists it.
func (db *DB) ApplyFeedback(hash string, positive bool) (*core.TuningState, error) {
	var tuning core.TuningState
	err := db.write(func(tx *sql.Tx) error {
		c, err := getContactTx(tx, hash)
		if err != nil {
			return err
		}
		if c == nil {
			return fmt.Errorf("apply feedback %s: %w", hash, core.ErrNotFound)
		}

		tuning = scoring.ApplyFeedback(c.Tuning, positive)
		_, err = tx.Exec(`
			UPDATE contacts SET interaction_multiplier = ?, lambda_decay = ?,
				positive_feedback = ?, negative_feedback = ?
			WHERE contact_hash = ?
		`, tuning.InteractionMultiplier, tuning.LambdaDecay,
			tuning.PositiveFeedback, tuning.NegativeFeedback, hash)
		if err != nil {
			return fmt.Errorf("apply feedback: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &tuning, nil
}

// SetAutoNudge flips the auto-nudge flag.
func (db *DB) SetAutoNudge(hash string, enabled bool) (*Contact, error) {
	var updated *Contact
	err := db.write(func(tx *sql.Tx) error {
		res, err := tx.Exec(`UPDATE contacts SET auto_nudge = ? WHERE contact_hash = ?`, boolInt(enabled), hash)
		if err != nil {
			return fmt.Errorf("set auto nudge: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("set auto nudge %s: %w", hash, core.ErrNotFound)
		}
		updated, err = getContactTx(tx, hash)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// StampAutoAction records when the last auto-triggered action was created.
func (db *DB) StampAutoAction(hash string, at time.Time) error {
	return db.write(func(tx *sql.Tx) error {
		_, err := tx.Exec(`UPDATE contacts SET last_auto_action_at = ? WHERE contact_hash = ?`, toMillis(at), hash)
		if err != nil {
			return fmt.Errorf("stamp auto action: %w", err)
		}
		return nil
	})
}
