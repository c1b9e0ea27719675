package memory

import (
	"context"
	"fmt"
	"sync"

	chromem "github.com/philippgille/chromem-go"
	"github.com/northstarfp/compass/pkg/logger"
)

// Corpus names. Each corpus is a chromem collection scoped by a user_id
// metadata filter.
const (
	CorpusMessages = "messages"
	CorpusContacts = "contacts"
)

// Hit is a single retrieval result handed to the orchestrator.
type Hit struct {
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata"`
	Score    float32           `json:"score"` // cosine similarity; 0 on the lexical path
}

// VectorIndex holds the in-memory similarity index over items that carry an
// embedding. Items without a vector never enter the index; they stay
// reachable through the lexical path only.
type VectorIndex struct {
	db       *chromem.DB
	messages *chromem.Collection
	contacts *chromem.Collection

	mu     sync.RWMutex
	counts map[string]int // corpus/userID -> indexed document count
}

// NewVectorIndex creates an empty index. Documents always arrive with
// precomputed embeddings, so the collection embedding function only exists
// to reject accidental un-embedded adds.
func NewVectorIndex() (*VectorIndex, error) {
	db := chromem.NewDB()

	noEmbed := chromem.EmbeddingFunc(func(ctx context.Context, text string) ([]float32, error) {
		return nil, fmt.Errorf("vector index requires precomputed embeddings")
	})

	messages, err := db.GetOrCreateCollection(CorpusMessages, nil, noEmbed)
	if err != nil {
		return nil, fmt.Errorf("create messages collection: %w", err)
	}
	contacts, err := db.GetOrCreateCollection(CorpusContacts, nil, noEmbed)
	if err != nil {
		return nil, fmt.Errorf("create contacts collection: %w", err)
	}

	return &VectorIndex{
		db:       db,
		messages: messages,
		contacts: contacts,
		counts:   make(map[string]int),
	}, nil
}

func (vi *VectorIndex) collection(corpus string) (*chromem.Collection, error) {
	switch corpus {
	case CorpusMessages:
		return vi.messages, nil
	case CorpusContacts:
		return vi.contacts, nil
	default:
		return nil, fmt.Errorf("unknown corpus: %s", corpus)
	}
}

// Index adds one item with its precomputed embedding.
func (vi *VectorIndex) Index(ctx context.Context, corpus, userID, externalID, content string, embedding []float32, extra map[string]string) error {
	col, err := vi.collection(corpus)
	if err != nil {
		return err
	}
	if len(embedding) == 0 {
		return fmt.Errorf("refusing to index %s/%s without an embedding", corpus, externalID)
	}

	metadata := map[string]string{
		"user_id":     userID,
		"external_id": externalID,
	}
	for k, v := range extra {
		metadata[k] = v
	}

	doc := chromem.Document{
		ID:        userID + ":" + externalID,
		Content:   content,
		Embedding: embedding,
		Metadata:  metadata,
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("indexing %s/%s: %w", corpus, externalID, err)
	}

	vi.mu.Lock()
	vi.counts[corpus+"/"+userID]++
	vi.mu.Unlock()

	logger.DebugCF("memory", "Indexed item", map[string]interface{}{
		"corpus":      corpus,
		"external_id": externalID,
		"dims":        len(embedding),
	})
	return nil
}

// Count returns how many documents a user has in a corpus.
func (vi *VectorIndex) Count(corpus, userID string) int {
	vi.mu.RLock()
	defer vi.mu.RUnlock()
	return vi.counts[corpus+"/"+userID]
}

// Query ranks a user's corpus by similarity to the query embedding and
// returns the top limit hits, best match first.
func (vi *VectorIndex) Query(ctx context.Context, corpus, userID string, queryEmbedding []float32, limit int) ([]Hit, error) {
	col, err := vi.collection(corpus)
	if err != nil {
		return nil, err
	}

	n := vi.Count(corpus, userID)
	if n == 0 {
		return nil, nil
	}
	if limit < n {
		n = limit
	}

	results, err := col.QueryEmbedding(ctx, queryEmbedding, n, map[string]string{"user_id": userID}, nil)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", corpus, err)
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		hits = append(hits, Hit{
			Content:  r.Content,
			Metadata: r.Metadata,
			Score:    r.Similarity,
		})
	}
	return hits, nil
}
