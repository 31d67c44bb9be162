package retrieval

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// QdrantIndex stores summary vectors in a Qdrant collection, filtered per
// contact by payload.
type QdrantIndex struct {
	client     *qdrant.Client
	collection string
	dims       uint64

	once    sync.Once
	initErr error
}

// NewQdrantIndex connects to Qdrant over gRPC. The collection is created on
// first use with the given vector width.
func NewQdrantIndex(host string, port int, collection string, dims int) (*QdrantIndex, error) {
	if host == "" {
		host = "localhost"
	}
	if port == 0 {
		port = 6334
	}
	client, err := qdrant.NewClient(&qdrant.Config{Host: host, Port: port})
	if err != nil {
		return nil, fmt.Errorf("connect qdrant: %w", err)
	}
	return &QdrantIndex{client: client, collection: collection, dims: uint64(dims)}, nil
}

// Close closes the Qdrant connection.
func (q *QdrantIndex) Close() error {
	return q.client.Close()
}

func (q *QdrantIndex) ensureCollection(ctx context.Context) error {
	q.once.Do(func() {
		exists, err := q.client.CollectionExists(ctx, q.collection)
		if err != nil {
			q.initErr = fmt.Errorf("check collection %s: %w", q.collection, err)
			return
		}
		if exists {
			return
		}
		err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: q.collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     q.dims,
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			q.initErr = fmt.Errorf("create collection %s: %w", q.collection, err)
		}
	})
	return q.initErr
}

// pointID maps a contact-scoped event id onto the UUID space Qdrant requires.
func pointID(contactHash, eventID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("bubbleone:event:"+contactHash+"/"+eventID)).String()
}

func (q *QdrantIndex) Upsert(ctx context.Context, r Record) error {
	if err := q.ensureCollection(ctx); err != nil {
		return err
	}
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewIDUUID(pointID(r.ContactHash, r.EventID)),
			Vectors: qdrant.NewVectors(toFloat32(r.Embedding)...),
			Payload: map[string]*qdrant.Value{
				"event_id":     qdrant.NewValueString(r.EventID),
				"contact_hash": qdrant.NewValueString(r.ContactHash),
				"summary":      qdrant.NewValueString(r.Summary),
			},
		}},
	})
	if err != nil {
		return fmt.Errorf("qdrant upsert: %w", err)
	}
	return nil
}

func (q *QdrantIndex) Query(ctx context.Context, contactHash string, vec []float64, k int) ([]Match, error) {
	if err := q.ensureCollection(ctx); err != nil {
		return nil, err
	}
	if k <= 0 {
		k = 4
	}

	results, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQuery(toFloat32(vec)...),
		Limit:          qdrant.PtrOf(uint64(k)),
		WithPayload:    qdrant.NewWithPayload(true),
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{{
				ConditionOneOf: &qdrant.Condition_Field{
					Field: &qdrant.FieldCondition{
						Key: "contact_hash",
						Match: &qdrant.Match{
							MatchValue: &qdrant.Match_Keyword{Keyword: contactHash},
						},
					},
				},
			}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant query: %w", err)
	}

	matches := make([]Match, 0, len(results))
	for _, r := range results {
		matches = append(matches, Match{
			EventID: r.Payload["event_id"].GetStringValue(),
			Summary: r.Payload["summary"].GetStringValue(),
			Score:   float64(r.Score),
		})
	}
	return matches, nil
}

func toFloat32(vec []float64) []float32 {
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(v)
	}
	return out
}
