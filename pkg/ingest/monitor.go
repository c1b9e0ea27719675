package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/northstarfp/compass/pkg/auth"
	"github.com/northstarfp/compass/pkg/logger"
	"github.com/northstarfp/compass/pkg/memory"
	"github.com/northstarfp/compass/pkg/store"
	"github.com/northstarfp/compass/pkg/tools"
)

const sweepQuery = "is:unread"
const sweepLimit = 50

// EventSink receives one event per newly imported message. The webhook
// reactor satisfies this.
type EventSink interface {
	OnEvent(ctx context.Context, userID, eventType string, payload map[string]interface{}) error
}

// Monitor periodically sweeps the advisor's mailbox, imports new messages
// into the retrieval corpus, and hands each one to the event sink as an
// email.received event.
type Monitor struct {
	userID   string
	schedule string
	dial     tools.EmailDialer
	creds    *auth.CredentialSource
	importer *memory.Importer
	sink     EventSink
	cron     *gronx.Gronx

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
}

func NewMonitor(userID, schedule string, dial tools.EmailDialer, creds *auth.CredentialSource, importer *memory.Importer, sink EventSink) *Monitor {
	return &Monitor{
		userID:   userID,
		schedule: schedule,
		dial:     dial,
		creds:    creds,
		importer: importer,
		sink:     sink,
		cron:     gronx.New(),
		stopCh:   make(chan struct{}),
	}
}

// Start begins the sweep loop. The cron schedule gates which minutes
// actually sweep; the loop itself ticks once a minute.
func (m *Monitor) Start() error {
	if !m.cron.IsValid(m.schedule) {
		return fmt.Errorf("invalid ingest schedule %q", m.schedule)
	}

	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = true
	m.mu.Unlock()

	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				due, err := m.cron.IsDue(m.schedule, time.Now())
				if err != nil || !due {
					continue
				}
				m.Sweep(context.Background())
			case <-m.stopCh:
				return
			}
		}
	}()

	logger.InfoCF("ingest", "Mailbox monitor started", map[string]interface{}{
		"user_id":  m.userID,
		"schedule": m.schedule,
	})
	return nil
}

// Stop stops the sweep loop.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		close(m.stopCh)
		m.running = false
	}
}

// Sweep fetches unread mail once and imports anything new. Already-imported
// messages are skipped by the idempotent import, so re-sweeping the same
// mailbox is harmless.
func (m *Monitor) Sweep(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	token, err := m.creds.Token(ctx)
	if err != nil {
		logger.WarnCF("ingest", "No mailbox credential, skipping sweep", map[string]interface{}{
			"user_id": m.userID,
			"error":   err.Error(),
		})
		return
	}

	messages, err := m.dial(token).Search(ctx, sweepQuery, sweepLimit)
	if err != nil {
		logger.WarnCF("ingest", "Mailbox fetch failed", map[string]interface{}{
			"user_id": m.userID,
			"error":   err.Error(),
		})
		return
	}

	imported := 0
	for _, msg := range messages {
		inserted, err := m.importer.ImportMessage(ctx, messageRecord(m.userID, msg))
		if err != nil {
			logger.WarnCF("ingest", "Message import failed", map[string]interface{}{
				"user_id":     m.userID,
				"external_id": msg.ID,
				"error":       err.Error(),
			})
			continue
		}
		if !inserted {
			continue
		}
		imported++

		if m.sink != nil {
			if err := m.sink.OnEvent(ctx, m.userID, "email.received", map[string]interface{}{
				"from":    msg.From,
				"subject": msg.Subject,
				"body":    msg.Body,
				"date":    msg.Date.Format(time.RFC3339),
			}); err != nil {
				logger.WarnCF("ingest", "Event sink failed", map[string]interface{}{
					"user_id":     m.userID,
					"external_id": msg.ID,
					"error":       err.Error(),
				})
			}
		}
	}

	if imported > 0 {
		logger.InfoCF("ingest", "Sweep imported new messages", map[string]interface{}{
			"user_id":  m.userID,
			"imported": imported,
			"fetched":  len(messages),
		})
	}
}

func messageRecord(userID string, msg tools.EmailMessage) *store.MessageRecord {
	return &store.MessageRecord{
		UserID:     userID,
		ExternalID: msg.ID,
		Subject:    msg.Subject,
		Sender:     msg.From,
		Recipient:  msg.To,
		Body:       msg.Body,
		SentAt:     msg.Date,
	}
}
