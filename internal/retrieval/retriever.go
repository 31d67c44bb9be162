package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/clustercoder/bubbleOne/internal/core"
)

// Context strings returned when retrieval has nothing to offer.
const (
	NoHistory = "No historical context found."
	NoMatches = "No similar past summaries in vector memory."
)

const (
	DefaultTopK = 4
	queryWindow = 3
)

// Retriever embeds summaries into an index and builds context text from
// the nearest past summaries.
type Retriever struct {
	embedder Embedder
	index    Index
	topK     int
	log      *slog.Logger
}

// New creates a retriever. topK <= 0 uses DefaultTopK.
func New(embedder Embedder, index Index, topK int, log *slog.Logger) *Retriever {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Retriever{embedder: embedder, index: index, topK: topK, log: log}
}

// Remember embeds and indexes each event summary. A failing event is logged
// and skipped; the returned count is the number indexed. It stops early once
// ctx is done.
func (r *Retriever) Remember(ctx context.Context, events []core.MetadataEvent) int {
	indexed := 0
	for i, ev := range events {
		if err := ctx.Err(); err != nil {
			r.log.Warn("remember interrupted", "indexed", indexed, "skipped", len(events)-i, "err", err)
			break
		}
		if ev.Summary == "" {
			continue
		}
		vec, err := r.embedder.Embed(ctx, ev.Summary)
		if err != nil {
			r.log.Warn("embed summary failed", "event_id", ev.EventID, "err", err)
			continue
		}
		err = r.index.Upsert(ctx, Record{
			EventID:     ev.EventID,
			ContactHash: ev.ContactHash,
			Summary:     ev.Summary,
			Embedding:   vec,
		})
		if err != nil {
			r.log.Warn("index summary failed", "event_id", ev.EventID, "err", err)
			continue
		}
		indexed++
	}
	return indexed
}

// Context queries with the last few summaries joined together and renders
// the matches as a bulleted list.
func (r *Retriever) Context(ctx context.Context, contactHash string, summaries []string) (string, []Match, error) {
	var nonEmpty []string
	for _, s := range summaries {
		if strings.TrimSpace(s) != "" {
			nonEmpty = append(nonEmpty, s)
		}
	}
	if len(nonEmpty) == 0 {
		return NoHistory, nil, nil
	}
	if len(nonEmpty) > queryWindow {
		nonEmpty = nonEmpty[len(nonEmpty)-queryWindow:]
	}

	vec, err := r.embedder.Embed(ctx, strings.Join(nonEmpty, " "))
	if err != nil {
		return NoMatches, nil, fmt.Errorf("embed query: %w", err)
	}
	matches, err := r.index.Query(ctx, contactHash, vec, r.topK)
	if err != nil {
		return NoMatches, nil, fmt.Errorf("query index: %w", err)
	}
	if len(matches) == 0 {
		return NoMatches, nil, nil
	}

	lines := make([]string, len(matches))
	for i, m := range matches {
		lines[i] = "- " + m.Summary
	}
	return strings.Join(lines, "\n"), matches, nil
}
