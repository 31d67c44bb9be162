package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/clustercoder/bubbleOne/internal/store"
	"github.com/google/uuid"
)

// Genesis is the previous-hash of the first ledger entry.
const Genesis = "0000000000000000000000000000000000000000000000000000000000000000"

// Ledger appends events to the hash-chained audit table.
type Ledger struct {
	db  *store.DB
	log *slog.Logger
	now func() time.Time
}

// NewLedger creates a ledger over db.
func NewLedger(db *store.DB, log *slog.Logger) *Ledger {
	return &Ledger{db: db, log: log, now: time.Now}
}

// SetClock overrides the timestamp source.
func (l *Ledger) SetClock(now func() time.Time) { l.now = now }

// Emit appends the event and logs a failure instead of returning it.
func (l *Ledger) Emit(ctx context.Context, name string, payload map[string]any) {
	if _, err := l.Append(ctx, name, payload); err != nil {
		l.log.Error("audit ledger append failed", "event", name, "err", err)
	}
}

// Append writes one entry chained to the current tail.
func (l *Ledger) Append(_ context.Context, name string, payload map[string]any) (*store.LedgerEntry, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal audit payload: %w", err)
	}

	e := store.LedgerEntry{
		ID:        uuid.New().String(),
		Event:     name,
		Payload:   string(body),
		CreatedAt: l.now().UTC().Truncate(time.Millisecond),
	}
	return l.db.AppendLedger(e, Genesis, func(prev string) string {
		return entryHash(prev, e)
	})
}

// entryHash digests the entry's content together with the previous hash.
func entryHash(prev string, e store.LedgerEntry) string {
	h := sha256.New()
	for _, part := range []string{prev, e.ID, e.Event, e.Payload, strconv.FormatInt(e.CreatedAt.UnixMilli(), 10)} {
		h.Write([]byte(part))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Verification is the result of walking the ledger.
type Verification struct {
	Valid    bool   `json:"valid"`
	Entries  int    `json:"entries"`
	BrokenAt int64  `json:"broken_at,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Head     string `json:"head"`
}

// Verify recomputes every hash and checks each link to its predecessor.
func (l *Ledger) Verify() (Verification, error) {
	entries, err := l.db.LedgerEntries()
	if err != nil {
		return Verification{}, err
	}

	v := Verification{Valid: true, Entries: len(entries), Head: Genesis}
	prev := Genesis
	for _, e := range entries {
		if e.PrevHash != prev {
			return Verification{Entries: len(entries), BrokenAt: e.Seq, Reason: "prev_hash mismatch", Head: prev}, nil
		}
		if entryHash(prev, e) != e.Hash {
			return Verification{Entries: len(entries), BrokenAt: e.Seq, Reason: "hash mismatch", Head: prev}, nil
		}
		prev = e.Hash
	}
	v.Head = prev
	return v, nil
}
