package store

import (
	"math"
	"testing"
)

func TestEncodeDecodeEmbedding(t *testing.T) {
	original := []float64{1.0, -0.5, 0.333, math.Pi, 0.0}
	blob := encodeEmbedding(original)
	decoded := decodeEmbedding(blob)

	if len(decoded) != len(original) {
		t.Fatalf("length mismatch: %d vs %d", len(decoded), len(original))
	}
	for i := range original {
		if decoded[i] != original[i] {
			t.Errorf("index %d: got %f, want %f", i, decoded[i], original[i])
		}
	}
}

func TestSaveSummaryVector(t *testing.T) {
	db := testDB(t)

	v := SummaryVector{
		EventID:     "evt_1",
		ContactHash: "abc",
		Summary:     "Talked about the move to Lisbon.",
		Embedding:   []float64{0.1, 0.2, 0.3},
		Model:       "hash",
	}
	if err := db.SaveSummaryVector(v); err != nil {
		t.Fatalf("SaveSummaryVector: %v", err)
	}

	// Upsert replaces.
	v.Embedding = []float64{0.4, 0.5, 0.6, 0.7}
	if err := db.SaveSummaryVector(v); err != nil {
		t.Fatalf("SaveSummaryVector upsert: %v", err)
	}

	got, err := db.ContactVectors("abc", "hash")
	if err != nil {
		t.Fatalf("ContactVectors: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	if got[0].Dimensions != 4 || got[0].Embedding[3] != 0.7 {
		t.Errorf("vector = %+v, want upserted 4-dim vector", got[0])
	}

	v.ContactHash = "xyz"
	if err := db.SaveSummaryVector(v); err != nil {
		t.Fatalf("SaveSummaryVector other contact: %v", err)
	}
	if got, _ := db.ContactVectors("abc", "hash"); len(got) != 1 {
		t.Errorf("abc vectors = %d, want 1 after same id for xyz", len(got))
	}

	other, _ := db.ContactVectors("abc", "ollama:nomic-embed-text")
	if len(other) != 0 {
		t.Errorf("other model returned %d vectors, want 0", len(other))
	}
}
