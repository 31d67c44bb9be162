package store

import (
	"database/sql"
	"fmt"
	"time"
)

// WorkerMeta is the tick loop's process-wide bookkeeping.
type WorkerMeta struct {
	LastDailyRecomputeAt *time.Time `json:"last_daily_recompute_at"`
	LastWorkerTickAt     *time.Time `json:"last_worker_tick_at"`
	AutoRuns             int        `json:"auto_runs"`
}

// GetWorkerMeta returns the current worker bookkeeping.
func (db *DB) GetWorkerMeta() (WorkerMeta, error) {
	var m WorkerMeta
	var recompute, tick sql.NullInt64
	err := db.QueryRow(`
		SELECT last_daily_recompute_at, last_worker_tick_at, auto_runs
		FROM worker_meta WHERE id = 1
	`).Scan(&recompute, &tick, &m.AutoRuns)
	if err != nil {
		return m, fmt.Errorf("get worker meta: %w", err)
	}
	m.LastDailyRecomputeAt = timePtr(recompute)
	m.LastWorkerTickAt = timePtr(tick)
	return m, nil
}

// StampTick records the start of a worker tick.
func (db *DB) StampTick(at time.Time) error {
	return db.updateMeta(`UPDATE worker_meta SET last_worker_tick_at = ? WHERE id = 1`, toMillis(at))
}

// StampDailyRecompute records the completion of a daily recompute.
func (db *DB) StampDailyRecompute(at time.Time) error {
	return db.updateMeta(`UPDATE worker_meta SET last_daily_recompute_at = ? WHERE id = 1`, toMillis(at))
}

// IncrementAutoRuns bumps the cumulative auto-trigger counter.
func (db *DB) IncrementAutoRuns() error {
	return db.updateMeta(`UPDATE worker_meta SET auto_runs = auto_runs + 1 WHERE id = 1`)
}

func (db *DB) updateMeta(query string, args ...any) error {
	return db.write(func(tx *sql.Tx) error {
		if _, err := tx.Exec(query, args...); err != nil {
			return fmt.Errorf("update worker meta: %w", err)
		}
		return nil
	})
}
