// Package normalize turns raw interaction payloads into MetadataEvents.
package normalize

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/clustercoder/bubbleOne/internal/core"
	"github.com/google/uuid"
)

const (
	minSummaryLen = 8
	maxSummaryLen = 280
	maxIntentLen  = 40

	// PlaceholderSummary replaces summaries that are missing or too short.
	PlaceholderSummary = "Interaction summary unavailable."
	DefaultIntent      = "check_in"
)

// rawTextKeys are metadata keys that could carry message bodies.
var rawTextKeys = []string{"raw_message", "message_text", "full_text", "chat_text"}

// RawEvent is an event as received from a client, before validation.
// Sentiment and Summary are left untyped so that sloppy payloads degrade
// instead of failing the whole batch.
type RawEvent struct {
	EventID         string         `json:"event_id" yaml:"event_id"`
	Timestamp       string         `json:"ts" yaml:"ts"`
	InteractionType string         `json:"interaction_type" yaml:"interaction_type"`
	Sentiment       any            `json:"sentiment" yaml:"sentiment"`
	Intent          string         `json:"intent" yaml:"intent"`
	Summary         any            `json:"summary" yaml:"summary"`
	Metadata        map[string]any `json:"metadata" yaml:"metadata"`
}

// InvalidEventError reports a raw event that cannot be normalized.
type InvalidEventError struct {
	Position int
	Reason   string
}

func (e *InvalidEventError) Error() string {
	return fmt.Sprintf("invalid event at position %d: %s", e.Position, e.Reason)
}

// Unwrap lets callers match with errors.Is(err, core.ErrInvalidInput).
func (e *InvalidEventError) Unwrap() error { return core.ErrInvalidInput }

// Normalizer validates and sanitizes raw events.
type Normalizer struct {
	disallowed map[string]bool
}

// New creates a Normalizer. extraKeys are stripped from metadata in addition
// to the built-in raw-text keys.
func New(extraKeys ...string) *Normalizer {
	n := &Normalizer{disallowed: make(map[string]bool)}
	for _, k := range rawTextKeys {
		n.disallowed[k] = true
	}
	for _, k := range extraKeys {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" {
			n.disallowed[k] = true
		}
	}
	return n
}

// Normalize converts raw into a MetadataEvent for contactHash. now and
// position are used to synthesize a missing id or timestamp.
func (n *Normalizer) Normalize(raw RawEvent, contactHash string, now time.Time, position int) (core.MetadataEvent, error) {
	if strings.TrimSpace(contactHash) == "" {
		return core.MetadataEvent{}, &InvalidEventError{Position: position, Reason: "contact hash is empty"}
	}

	ts, err := n.timestamp(raw.Timestamp, now, position)
	if err != nil {
		return core.MetadataEvent{}, &InvalidEventError{Position: position, Reason: err.Error()}
	}

	sentiment := parseSentiment(raw.Sentiment)

	kind := core.InteractionType(strings.ToLower(strings.TrimSpace(raw.InteractionType)))
	if !kind.Valid() {
		kind = core.InteractionText
	}

	id := strings.TrimSpace(raw.EventID)
	if id == "" {
		id = SyntheticID(contactHash, now, position)
	}

	return core.MetadataEvent{
		EventID:         id,
		ContactHash:     contactHash,
		Timestamp:       ts,
		InteractionType: kind,
		Sentiment:       sentiment,
		Intent:          normalizeIntent(raw.Intent),
		Summary:         normalizeSummary(raw.Summary),
		Metadata:        n.stripMetadata(raw.Metadata),
	}, nil
}

// NormalizeBatch normalizes every event in order, failing on the first
// invalid one.
func (n *Normalizer) NormalizeBatch(raws []RawEvent, contactHash string, now time.Time) ([]core.MetadataEvent, error) {
	events := make([]core.MetadataEvent, 0, len(raws))
	for i, raw := range raws {
		ev, err := n.Normalize(raw, contactHash, now, i)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

// SyntheticID derives a stable event id from the contact, the wall clock and
// the position in the batch.
func SyntheticID(contactHash string, now time.Time, position int) string {
	name := fmt.Sprintf("%s:%d:%d", contactHash, now.UnixNano(), position)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
}

func (n *Normalizer) timestamp(raw string, now time.Time, position int) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return now.Add(time.Duration(position) * time.Millisecond).UTC(), nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", raw)
}

// parseSentiment reads a number or numeric string clamped to [-1,1].
// Anything else, NaN and the infinities included, reads as neutral.
func parseSentiment(v any) float64 {
	var f float64
	switch s := v.(type) {
	case float64:
		f = s
	case float32:
		f = float64(s)
	case int:
		f = float64(s)
	case int64:
		f = float64(s)
	case json.Number:
		parsed, err := s.Float64()
		if err != nil {
			return 0
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0
		}
		f = parsed
	default:
		return 0
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return math.Max(-1, math.Min(1, f))
}

func normalizeIntent(intent string) string {
	intent = strings.ToLower(strings.TrimSpace(intent))
	if intent == "" {
		return DefaultIntent
	}
	if len(intent) > maxIntentLen {
		intent = truncateRunes(intent, maxIntentLen)
	}
	return intent
}

func normalizeSummary(v any) string {
	s, ok := v.(string)
	if !ok {
		return PlaceholderSummary
	}
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) < minSummaryLen {
		return PlaceholderSummary
	}
	return truncateRunes(s, maxSummaryLen)
}

func (n *Normalizer) stripMetadata(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		if n.disallowed[strings.ToLower(k)] {
			continue
		}
		out[k] = v
	}
	return out
}

// truncateRunes cuts s to at most max runes.
func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}
