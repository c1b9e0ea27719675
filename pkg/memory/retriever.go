package memory

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/northstarfp/compass/pkg/logger"
	"github.com/northstarfp/compass/pkg/providers"
	"github.com/northstarfp/compass/pkg/store"
)

const defaultContextLimit = 5

// minTokenLen is exclusive: lexical matching only considers tokens longer
// than this, so short noise words never match.
const minTokenLen = 2

// Retriever answers "what prior emails and contacts are relevant to this
// query" for a single user. Vector similarity when the embedder cooperates,
// lexical substring matching otherwise.
type Retriever struct {
	store    *store.Store
	embedder providers.Embedder
	index    *VectorIndex
}

// Results holds ranked hits per corpus.
type Results struct {
	MessageHits []Hit `json:"messageHits"`
	ContactHits []Hit `json:"contactHits"`
}

func NewRetriever(s *store.Store, embedder providers.Embedder, index *VectorIndex) *Retriever {
	return &Retriever{store: s, embedder: embedder, index: index}
}

// Retrieve returns the top hits per corpus. It never fails: embedding or
// index trouble degrades to lexical matching, and an unexpected corpus
// error degrades that corpus to an empty list. An empty corpus is an empty
// list, not an error.
func (r *Retriever) Retrieve(ctx context.Context, userID, query string, limit int) Results {
	if limit <= 0 {
		limit = defaultContextLimit
	}

	var queryVec []float32
	if providers.EmbedderAvailable(r.embedder) {
		vec, err := r.embedder.Embed(ctx, query)
		if err != nil {
			logger.WarnCF("memory", "Query embedding failed, degrading to lexical search", map[string]interface{}{
				"user_id": userID,
				"error":   err.Error(),
			})
		} else {
			queryVec = vec
		}
	}

	// The two corpora have no ordering dependency; query them concurrently
	// but join before returning.
	var res Results
	var g errgroup.Group
	g.Go(func() error {
		hits, err := r.retrieveCorpus(ctx, CorpusMessages, userID, query, queryVec, limit)
		if err != nil {
			return fmt.Errorf("%s: %w", CorpusMessages, err)
		}
		res.MessageHits = hits
		return nil
	})
	g.Go(func() error {
		hits, err := r.retrieveCorpus(ctx, CorpusContacts, userID, query, queryVec, limit)
		if err != nil {
			return fmt.Errorf("%s: %w", CorpusContacts, err)
		}
		res.ContactHits = hits
		return nil
	})
	if err := g.Wait(); err != nil {
		// Retrieval must never fail a chat turn; grounding degrades to
		// whatever (possibly nothing) was gathered.
		logger.ErrorCF("memory", "Corpus retrieval failed", map[string]interface{}{
			"user_id": userID,
			"error":   err.Error(),
		})
	}
	return res
}

// retrieveCorpus tries the similarity path first, then lexical. Zero
// similarity hits also fall through to lexical: items imported while the
// embedder was down carry no vector yet, and they must stay reachable
// until backfill catches up.
func (r *Retriever) retrieveCorpus(ctx context.Context, corpus, userID, query string, queryVec []float32, limit int) ([]Hit, error) {
	if queryVec != nil {
		hits, err := r.index.Query(ctx, corpus, userID, queryVec, limit)
		if err == nil && len(hits) > 0 {
			return hits, nil
		}
		if err != nil {
			logger.WarnCF("memory", "Similarity query failed, degrading to lexical search", map[string]interface{}{
				"corpus":  corpus,
				"user_id": userID,
				"error":   err.Error(),
			})
		}
	}
	return r.lexical(ctx, corpus, userID, query, limit)
}

// lexical matches whitespace tokens of length > 2 case-insensitively against
// the item's textual fields. No similarity score exists on this path, so
// every hit carries score 0 and ranking is by recency.
func (r *Retriever) lexical(ctx context.Context, corpus, userID, query string, limit int) ([]Hit, error) {
	tokens := Tokenize(query)
	if len(tokens) == 0 {
		return nil, nil
	}

	switch corpus {
	case CorpusMessages:
		recs, err := r.store.SearchMessages(ctx, userID, tokens, limit)
		if err != nil {
			return nil, err
		}
		hits := make([]Hit, 0, len(recs))
		for _, m := range recs {
			hits = append(hits, messageHit(m, 0))
		}
		return hits, nil
	case CorpusContacts:
		recs, err := r.store.SearchContacts(ctx, userID, tokens, limit)
		if err != nil {
			return nil, err
		}
		hits := make([]Hit, 0, len(recs))
		for _, c := range recs {
			hits = append(hits, contactHit(c, 0))
		}
		return hits, nil
	default:
		return nil, fmt.Errorf("unknown corpus: %s", corpus)
	}
}

// Context builds the composite grounding block for a question: message hits
// first, then contact hits, each prefixed with its corpus label, at most
// limit hits per corpus. The output is deterministic for identical inputs
// over a stable corpus.
func (r *Retriever) Context(ctx context.Context, userID, question string, limit int) string {
	res := r.Retrieve(ctx, userID, question, limit)
	if len(res.MessageHits) == 0 && len(res.ContactHits) == 0 {
		return ""
	}

	var sb strings.Builder
	for _, h := range res.MessageHits {
		sb.WriteString("[email] ")
		sb.WriteString(h.Content)
		sb.WriteString("\n\n")
	}
	for _, h := range res.ContactHits {
		sb.WriteString("[contact] ")
		sb.WriteString(h.Content)
		sb.WriteString("\n\n")
	}
	return strings.TrimSpace(sb.String())
}

// Tokenize splits a query into lowercase whitespace tokens longer than two
// characters.
func Tokenize(query string) []string {
	var tokens []string
	for _, f := range strings.Fields(query) {
		if len([]rune(f)) > minTokenLen {
			tokens = append(tokens, strings.ToLower(f))
		}
	}
	return tokens
}

// messageContent is the canonical text form of a message, used both as the
// embedded text and as hit content so the vector and lexical paths ground
// the model identically.
func messageContent(m store.MessageRecord) string {
	return fmt.Sprintf("Subject: %s\nFrom: %s\nTo: %s\nDate: %s\n%s",
		m.Subject, m.Sender, m.Recipient, m.SentAt.UTC().Format("2006-01-02"), m.Body)
}

func contactContent(c store.ContactRecord) string {
	return fmt.Sprintf("Name: %s\nEmail: %s\nPhone: %s\nCompany: %s\nNotes: %s",
		c.Name, c.Email, c.Phone, c.Company, c.Notes)
}

func messageHit(m store.MessageRecord, score float32) Hit {
	return Hit{
		Content: messageContent(m),
		Metadata: map[string]string{
			"user_id":     m.UserID,
			"external_id": m.ExternalID,
			"sent_at":     m.SentAt.UTC().Format("2006-01-02"),
		},
		Score: score,
	}
}

func contactHit(c store.ContactRecord, score float32) Hit {
	return Hit{
		Content: contactContent(c),
		Metadata: map[string]string{
			"user_id":     c.UserID,
			"external_id": c.ExternalID,
			"created_at":  c.CreatedAt.UTC().Format("2006-01-02"),
		},
		Score: score,
	}
}
