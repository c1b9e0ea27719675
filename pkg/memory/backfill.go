package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/northstarfp/compass/pkg/logger"
	"github.com/northstarfp/compass/pkg/providers"
	"github.com/northstarfp/compass/pkg/store"
)

// BackfillStats tracks progress of a backfill run.
type BackfillStats struct {
	MessagesEmbedded int
	ContactsEmbedded int
	Errors           int
}

// embedDelay spaces out embedding calls so a large backfill doesn't hammer
// the provider.
const embedDelay = 100 * time.Millisecond

// Backfill embeds and indexes items that were imported while the embedder
// was unavailable. Safe to run repeatedly; it only touches items whose
// vector is still missing.
func Backfill(ctx context.Context, s *store.Store, embedder providers.Embedder, index *VectorIndex, batch int) (*BackfillStats, error) {
	if !providers.EmbedderAvailable(embedder) {
		return nil, fmt.Errorf("backfill requires a live embedder")
	}
	if batch <= 0 {
		batch = 100
	}
	stats := &BackfillStats{}

	messages, err := s.MessagesMissingEmbedding(ctx, batch)
	if err != nil {
		return stats, fmt.Errorf("listing messages for backfill: %w", err)
	}
	for _, m := range messages {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		content := messageContent(m)
		vec, err := embedder.Embed(ctx, content)
		if err != nil {
			logger.WarnCF("memory", "Backfill embedding failed", map[string]interface{}{
				"external_id": m.ExternalID,
				"error":       err.Error(),
			})
			stats.Errors++
			continue
		}
		if err := s.SetMessageEmbedding(ctx, m.UserID, m.ExternalID, vec); err != nil {
			stats.Errors++
			continue
		}
		extra := map[string]string{"sent_at": m.SentAt.UTC().Format("2006-01-02")}
		if err := index.Index(ctx, CorpusMessages, m.UserID, m.ExternalID, content, vec, extra); err != nil {
			stats.Errors++
			continue
		}
		stats.MessagesEmbedded++
		time.Sleep(embedDelay)
	}

	contacts, err := s.ContactsMissingEmbedding(ctx, batch)
	if err != nil {
		return stats, fmt.Errorf("listing contacts for backfill: %w", err)
	}
	for _, c := range contacts {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		content := contactContent(c)
		vec, err := embedder.Embed(ctx, content)
		if err != nil {
			logger.WarnCF("memory", "Backfill embedding failed", map[string]interface{}{
				"external_id": c.ExternalID,
				"error":       err.Error(),
			})
			stats.Errors++
			continue
		}
		if err := s.SetContactEmbedding(ctx, c.UserID, c.ExternalID, vec); err != nil {
			stats.Errors++
			continue
		}
		extra := map[string]string{"created_at": c.CreatedAt.UTC().Format("2006-01-02")}
		if err := index.Index(ctx, CorpusContacts, c.UserID, c.ExternalID, content, vec, extra); err != nil {
			stats.Errors++
			continue
		}
		stats.ContactsEmbedded++
		time.Sleep(embedDelay)
	}

	logger.InfoCF("memory", "Backfill complete", map[string]interface{}{
		"messages": stats.MessagesEmbedded,
		"contacts": stats.ContactsEmbedded,
		"errors":   stats.Errors,
	})
	return stats, nil
}

// Reload rebuilds the in-memory vector index from embeddings already
// persisted in the store. Run once at startup.
func Reload(ctx context.Context, s *store.Store, index *VectorIndex) error {
	messages, err := s.MessagesWithEmbedding(ctx)
	if err != nil {
		return fmt.Errorf("loading message embeddings: %w", err)
	}
	for _, m := range messages {
		extra := map[string]string{"sent_at": m.SentAt.UTC().Format("2006-01-02")}
		if err := index.Index(ctx, CorpusMessages, m.UserID, m.ExternalID, messageContent(m), m.Embedding, extra); err != nil {
			return err
		}
	}

	contacts, err := s.ContactsWithEmbedding(ctx)
	if err != nil {
		return fmt.Errorf("loading contact embeddings: %w", err)
	}
	for _, c := range contacts {
		extra := map[string]string{"created_at": c.CreatedAt.UTC().Format("2006-01-02")}
		if err := index.Index(ctx, CorpusContacts, c.UserID, c.ExternalID, contactContent(c), c.Embedding, extra); err != nil {
			return err
		}
	}

	logger.InfoCF("memory", "Vector index reloaded", map[string]interface{}{
		"messages": len(messages),
		"contacts": len(contacts),
	})
	return nil
}
