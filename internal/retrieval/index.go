package retrieval

import (
	"context"
	"fmt"
	"sort"

	"github.com/clustercoder/bubbleOne/internal/store"
)

// Record is one embedded summary.
type Record struct {
	EventID     string
	ContactHash string
	Summary     string
	Embedding   []float64
}

// Match is a retrieved summary with its similarity to the query.
type Match struct {
	EventID string  `json:"event_id"`
	Summary string  `json:"summary"`
	Score   float64 `json:"score"`
}

// Index stores embedded summaries and answers per-contact nearest-neighbour
// queries.
type Index interface {
	Upsert(ctx context.Context, r Record) error
	Query(ctx context.Context, contactHash string, vec []float64, k int) ([]Match, error)
}

// SQLiteIndex keeps vectors in the store and scores them in process.
type SQLiteIndex struct {
	db    *store.DB
	model string
}

// NewSQLiteIndex creates an index over vectors produced by model.
func NewSQLiteIndex(db *store.DB, model string) *SQLiteIndex {
	return &SQLiteIndex{db: db, model: model}
}

func (s *SQLiteIndex) Upsert(_ context.Context, r Record) error {
	return s.db.SaveSummaryVector(store.SummaryVector{
		EventID:     r.EventID,
		ContactHash: r.ContactHash,
		Summary:     r.Summary,
		Embedding:   r.Embedding,
		Model:       s.model,
	})
}

func (s *SQLiteIndex) Query(_ context.Context, contactHash string, vec []float64, k int) ([]Match, error) {
	vectors, err := s.db.ContactVectors(contactHash, s.model)
	if err != nil {
		return nil, fmt.Errorf("load vectors: %w", err)
	}

	matches := make([]Match, 0, len(vectors))
	for _, v := range vectors {
		matches = append(matches, Match{
			EventID: v.EventID,
			Summary: v.Summary,
			Score:   CosineSimilarity(vec, v.Embedding),
		})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].EventID < matches[j].EventID
	})
	if k > 0 && len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}
