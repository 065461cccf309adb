// Package index mirrors document embeddings into a Qdrant collection so
// nearest-neighbour ranking can run outside the primary database.
//
// Qdrant is optional: when QDRANT_HOST is unset the store ranks vectors
// itself. Point IDs are the document UUIDs and each point carries a single
// payload field, "slug", used for slug-based deletes.
package index

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"
)

// slugField is the payload key holding the document slug.
const slugField = "slug"

// Config holds connection parameters for a Qdrant instance.
type Config struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the collection name.
	Collection string

	// VectorSize is the embedding dimensionality of the collection.
	VectorSize uint64

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// Hit is a single nearest-neighbour result.
type Hit struct {
	// ID is the document UUID.
	ID string
	// Slug is the payload slug, when present.
	Slug string
	// Score is the cosine similarity reported by Qdrant.
	Score float32
}

// QdrantIndex is a vector index backed by a Qdrant collection.
type QdrantIndex struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client

	// cfg holds the resolved configuration.
	cfg Config
}

// NewQdrantIndex connects to Qdrant and ensures the collection exists,
// creating it with cosine distance if necessary.
func NewQdrantIndex(ctx context.Context, cfg Config) (*QdrantIndex, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.Collection == "" {
		return nil, fmt.Errorf("qdrant: collection name is required")
	}
	if cfg.VectorSize == 0 {
		return nil, fmt.Errorf("qdrant: vector size is required")
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}

	idx := &QdrantIndex{client: client, cfg: cfg}
	if err := idx.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return idx, nil
}

// ensureCollection creates the collection if it does not already exist.
func (q *QdrantIndex) ensureCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}
	if exists {
		return nil
	}

	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     q.cfg.VectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to create collection %q: %w", q.cfg.Collection, err)
	}
	return nil
}

// Upsert stores or replaces the vector of one document.
func (q *QdrantIndex) Upsert(ctx context.Context, id, slug string, vec []float32) error {
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.cfg.Collection,
		Wait:           qdrant.PtrOf(true),
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewIDUUID(id),
			Vectors: qdrant.NewVectors(vec...),
			Payload: qdrant.NewValueMap(map[string]any{slugField: slug}),
		}},
	})
	if err != nil {
		return fmt.Errorf("qdrant: upsert %s: %w", slug, err)
	}
	return nil
}

// Search returns the limit nearest points to vec, best first.
func (q *QdrantIndex) Search(ctx context.Context, vec []float32, limit int) ([]Hit, error) {
	n := uint64(limit)
	results, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.cfg.Collection,
		Query:          qdrant.NewQuery(vec...),
		Limit:          &n,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: search failed: %w", err)
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		h := Hit{ID: r.GetId().GetUuid(), Score: r.GetScore()}
		if v, ok := r.GetPayload()[slugField]; ok {
			h.Slug = v.GetStringValue()
		}
		hits = append(hits, h)
	}
	return hits, nil
}

// Delete removes points by document ID.
func (q *QdrantIndex) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	pointIDs := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		pointIDs = append(pointIDs, qdrant.NewIDUUID(id))
	}

	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.cfg.Collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelector(pointIDs...),
	})
	if err != nil {
		return fmt.Errorf("qdrant: delete failed: %w", err)
	}
	return nil
}

// DeleteBySlug removes every point whose payload slug is in slugs.
func (q *QdrantIndex) DeleteBySlug(ctx context.Context, slugs []string) error {
	if len(slugs) == 0 {
		return nil
	}
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.cfg.Collection,
		Wait:           qdrant.PtrOf(true),
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatchKeywords(slugField, slugs...)},
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: delete by slug failed: %w", err)
	}
	return nil
}

// Name implements the readiness Pinger.
func (q *QdrantIndex) Name() string { return "qdrant" }

// Ping checks the Qdrant server health endpoint.
func (q *QdrantIndex) Ping(ctx context.Context) error {
	if _, err := q.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("qdrant: health check: %w", err)
	}
	return nil
}

// Close closes the underlying gRPC connection.
func (q *QdrantIndex) Close() error {
	return q.client.Close()
}
