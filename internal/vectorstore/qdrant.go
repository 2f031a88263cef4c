package vectorstore

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/studypath/retrieval/internal/embedder"
)

// payload keys reserved by the store; everything else is user metadata.
const (
	payloadDocID   = "doc_id"
	payloadContent = "content"
)

// QdrantStore implements VectorStore using a Qdrant server. Schema
// repair does not apply to this backend; Qdrant manages its own
// storage layout.
type QdrantStore struct {
	client   *qdrant.Client
	embedder embedder.Embedder
	metric   DistanceMetric
}

// NewQdrantStore creates a new Qdrant vector store client.
// url should be in format "host:port" (e.g., "localhost:6334").
func NewQdrantStore(ctx context.Context, url string, embed embedder.Embedder) (*QdrantStore, error) {
	host, portStr, err := net.SplitHostPort(url)
	if err != nil {
		// If no port specified, assume default
		host = url
		portStr = "6334"
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid port in qdrant url: %w", err)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host: host,
		Port: port,
	})
	if err != nil {
		return nil, fmt.Errorf("creating qdrant client: %w", err)
	}

	return &QdrantStore{client: client, embedder: embed, metric: DistanceCosine}, nil
}

// Close closes the Qdrant client connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// GetOrCreateCollection creates the collection if it does not exist.
func (s *QdrantStore) GetOrCreateCollection(ctx context.Context, name string, _ map[string]string) error {
	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("checking collection existence: %w", err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(s.embedder.Dimension()),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("creating collection: %w", err)
	}
	return nil
}

// Add embeds and upserts documents in bounded batches. Point IDs are
// derived deterministically from the document ID, so re-adding the
// same content overwrites rather than duplicating.
func (s *QdrantStore) Add(ctx context.Context, collection string, docs []Document) ([]string, error) {
	if len(docs) == 0 {
		return nil, nil
	}

	if err := s.GetOrCreateCollection(ctx, collection, nil); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(docs))
	for start := 0; start < len(docs); start += addBatchSize {
		end := start + addBatchSize
		if end > len(docs) {
			end = len(docs)
		}
		batch := docs[start:end]

		texts := make([]string, len(batch))
		for i, doc := range batch {
			texts[i] = doc.Content
		}
		vectors, err := s.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return ids, fmt.Errorf("embedding batch: %w", err)
		}

		points := make([]*qdrant.PointStruct, len(batch))
		for i, doc := range batch {
			id := doc.ID
			if id == "" {
				id = ContentID(doc.Content)
			}
			ids = append(ids, id)

			payload := map[string]*qdrant.Value{
				payloadDocID:   qdrant.NewValueString(id),
				payloadContent: qdrant.NewValueString(doc.Content),
			}
			for k, v := range doc.Metadata {
				payload[k] = qdrant.NewValueString(fmt.Sprint(v))
			}

			points[i] = &qdrant.PointStruct{
				Id:      qdrant.NewIDUUID(pointID(id)),
				Payload: payload,
				Vectors: qdrant.NewVectors(vectors[i]...),
			}
		}

		if _, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: collection,
			Points:         points,
		}); err != nil {
			return ids[:len(ids)-len(batch)], fmt.Errorf("upserting points: %w", err)
		}
	}

	return ids, nil
}

// Query runs similarity search against Qdrant.
func (s *QdrantStore) Query(ctx context.Context, collection, query string, topK int, filters map[string]any) ([]Document, error) {
	if topK <= 0 {
		return nil, nil
	}

	queryVec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	response, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(queryVec...),
		Limit:          qdrant.PtrOf(uint64(topK)),
		WithPayload:    qdrant.NewWithPayload(true),
		Filter:         buildFilter(filters),
	})
	if err != nil {
		// Read path degrades to empty per the error policy.
		return []Document{}, nil
	}

	docs := make([]Document, 0, len(response))
	for _, point := range response {
		doc := documentFromPayload(point.Payload)
		// Qdrant reports cosine similarity; convert to a distance the
		// metric understands before computing relevance.
		doc.Metadata[MetaRelevance] = s.metric.Relevance(1.0 - float64(point.Score))
		docs = append(docs, doc)
	}
	return docs, nil
}

// GetAll scrolls the full collection.
func (s *QdrantStore) GetAll(ctx context.Context, collection string, filters map[string]any) ([]Document, error) {
	var (
		docs   []Document
		offset *qdrant.PointId
	)
	for {
		points, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: collection,
			Limit:          qdrant.PtrOf(uint32(256)),
			Offset:         offset,
			WithPayload:    qdrant.NewWithPayload(true),
			Filter:         buildFilter(filters),
		})
		if err != nil {
			return []Document{}, nil
		}
		if len(points) == 0 {
			return docs, nil
		}
		for _, point := range points {
			docs = append(docs, documentFromPayload(point.Payload))
		}
		offset = points[len(points)-1].Id
	}
}

// Delete removes a document by its store-assigned ID.
func (s *QdrantStore) Delete(ctx context.Context, collection, id string) error {
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: &qdrant.Filter{
					Must: []*qdrant.Condition{
						qdrant.NewMatch(payloadDocID, id),
					},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("deleting document: %w", err)
	}
	return nil
}

// ClearCollection drops and recreates the collection.
func (s *QdrantStore) ClearCollection(ctx context.Context, collection string) error {
	if err := s.client.DeleteCollection(ctx, collection); err != nil {
		return fmt.Errorf("deleting collection: %w", err)
	}
	return s.GetOrCreateCollection(ctx, collection, nil)
}

// Count returns the number of points in the collection.
func (s *QdrantStore) Count(ctx context.Context, collection string) (int, error) {
	count, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: collection,
	})
	if err != nil {
		return 0, fmt.Errorf("counting points: %w", err)
	}
	return int(count), nil
}

// pointID maps an arbitrary document ID onto the UUID space Qdrant
// requires, deterministically.
func pointID(docID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(docID)).String()
}

// buildFilter converts metadata filters to Qdrant match conditions.
// Payload values are stored as strings, so filter values compare by
// their string form.
func buildFilter(filters map[string]any) *qdrant.Filter {
	if len(filters) == 0 {
		return nil
	}
	must := make([]*qdrant.Condition, 0, len(filters))
	for key, want := range filters {
		switch w := want.(type) {
		case []any:
			keywords := make([]string, len(w))
			for i, v := range w {
				keywords[i] = fmt.Sprint(v)
			}
			must = append(must, qdrant.NewMatchKeywords(key, keywords...))
		case []string:
			must = append(must, qdrant.NewMatchKeywords(key, w...))
		default:
			must = append(must, qdrant.NewMatch(key, fmt.Sprint(want)))
		}
	}
	return &qdrant.Filter{Must: must}
}

// documentFromPayload rebuilds a Document from a point payload.
func documentFromPayload(payload map[string]*qdrant.Value) Document {
	doc := Document{Metadata: make(map[string]any)}
	for k, v := range payload {
		switch k {
		case payloadDocID:
			doc.ID = v.GetStringValue()
		case payloadContent:
			doc.Content = v.GetStringValue()
		default:
			doc.Metadata[k] = v.GetStringValue()
		}
	}
	return doc
}

// Ensure QdrantStore implements VectorStore.
var _ VectorStore = (*QdrantStore)(nil)
