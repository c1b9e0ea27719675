package memory

import (
	"context"

	"github.com/northstarfp/compass/pkg/logger"
	"github.com/northstarfp/compass/pkg/providers"
	"github.com/northstarfp/compass/pkg/store"
)

// Importer brings external items (emails, CRM contacts) into the store and
// the vector index. Import is idempotent on external id; embedding is
// best-effort — when the embedder is down the item lands without a vector
// and stays eligible for lexical retrieval until Backfill catches it up.
type Importer struct {
	store    *store.Store
	embedder providers.Embedder
	index    *VectorIndex
}

func NewImporter(s *store.Store, embedder providers.Embedder, index *VectorIndex) *Importer {
	return &Importer{store: s, embedder: embedder, index: index}
}

// tryEmbed returns nil instead of an error: a missing vector degrades
// ranking quality, it never blocks an import.
func (im *Importer) tryEmbed(ctx context.Context, content, externalID string) []float32 {
	if !providers.EmbedderAvailable(im.embedder) {
		return nil
	}
	vec, err := im.embedder.Embed(ctx, content)
	if err != nil {
		logger.WarnCF("memory", "Embedding failed, importing without vector", map[string]interface{}{
			"external_id": externalID,
			"error":       err.Error(),
		})
		return nil
	}
	return vec
}

// ImportMessage imports one email. The bool reports whether the item was new.
func (im *Importer) ImportMessage(ctx context.Context, m *store.MessageRecord) (bool, error) {
	content := messageContent(*m)
	m.Embedding = im.tryEmbed(ctx, content, m.ExternalID)

	inserted, err := im.store.ImportMessage(ctx, m)
	if err != nil || !inserted {
		return inserted, err
	}

	if m.Embedding != nil {
		extra := map[string]string{"sent_at": m.SentAt.UTC().Format("2006-01-02")}
		if err := im.index.Index(ctx, CorpusMessages, m.UserID, m.ExternalID, content, m.Embedding, extra); err != nil {
			logger.WarnCF("memory", "Failed to index imported message", map[string]interface{}{
				"external_id": m.ExternalID,
				"error":       err.Error(),
			})
		}
	}
	return true, nil
}

// ImportContact imports one CRM contact. The bool reports whether the item
// was new.
func (im *Importer) ImportContact(ctx context.Context, c *store.ContactRecord) (bool, error) {
	content := contactContent(*c)
	c.Embedding = im.tryEmbed(ctx, content, c.ExternalID)

	inserted, err := im.store.ImportContact(ctx, c)
	if err != nil || !inserted {
		return inserted, err
	}

	if c.Embedding != nil {
		extra := map[string]string{"created_at": c.CreatedAt.UTC().Format("2006-01-02")}
		if err := im.index.Index(ctx, CorpusContacts, c.UserID, c.ExternalID, content, c.Embedding, extra); err != nil {
			logger.WarnCF("memory", "Failed to index imported contact", map[string]interface{}{
				"external_id": c.ExternalID,
				"error":       err.Error(),
			})
		}
	}
	return true, nil
}
