package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// MessageRecord is an imported email, the message-corpus RetrievableItem.
type MessageRecord struct {
	UserID     string
	ExternalID string
	Subject    string
	Sender     string
	Recipient  string
	Body       string
	SentAt     time.Time
	Embedding  []float32 // nil when the embedder was unavailable at import
}

// ContactRecord is an imported CRM contact, the contact-corpus RetrievableItem.
type ContactRecord struct {
	UserID     string
	ExternalID string
	Name       string
	Email      string
	Phone      string
	Company    string
	Notes      string
	CreatedAt  time.Time
	Embedding  []float32
}

// ImportMessage inserts a message keyed on (user_id, external_id). Importing
// the same external id twice is a no-op; the bool reports whether a row was
// actually inserted.
func (s *Store) ImportMessage(ctx context.Context, m *MessageRecord) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (user_id, external_id, subject, sender, recipient, body, sent_at, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, external_id) DO NOTHING`,
		m.UserID, m.ExternalID, m.Subject, m.Sender, m.Recipient, m.Body,
		m.SentAt.UTC().Format(time.RFC3339), encodeFloat32s(m.Embedding))
	if err != nil {
		return false, fmt.Errorf("importing message %s: %w", m.ExternalID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ImportContact inserts a contact keyed on (user_id, external_id), idempotent
// like ImportMessage.
func (s *Store) ImportContact(ctx context.Context, c *ContactRecord) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO contacts (user_id, external_id, name, email, phone, company, notes, created_at, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, external_id) DO NOTHING`,
		c.UserID, c.ExternalID, c.Name, c.Email, c.Phone, c.Company, c.Notes,
		c.CreatedAt.UTC().Format(time.RFC3339), encodeFloat32s(c.Embedding))
	if err != nil {
		return false, fmt.Errorf("importing contact %s: %w", c.ExternalID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// SetMessageEmbedding attaches a vector to an already-imported message.
func (s *Store) SetMessageEmbedding(ctx context.Context, userID, externalID string, vec []float32) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE messages SET embedding = ? WHERE user_id = ? AND external_id = ?`,
		encodeFloat32s(vec), userID, externalID)
	if err != nil {
		return fmt.Errorf("setting message embedding %s: %w", externalID, err)
	}
	return nil
}

// SetContactEmbedding attaches a vector to an already-imported contact.
func (s *Store) SetContactEmbedding(ctx context.Context, userID, externalID string, vec []float32) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE contacts SET embedding = ? WHERE user_id = ? AND external_id = ?`,
		encodeFloat32s(vec), userID, externalID)
	if err != nil {
		return fmt.Errorf("setting contact embedding %s: %w", externalID, err)
	}
	return nil
}

const messageCols = `user_id, external_id, subject, sender, recipient, body, sent_at, embedding`

func scanMessage(rows *sql.Rows) (MessageRecord, error) {
	var m MessageRecord
	var sentAt string
	var blob []byte
	if err := rows.Scan(&m.UserID, &m.ExternalID, &m.Subject, &m.Sender, &m.Recipient, &m.Body, &sentAt, &blob); err != nil {
		return m, err
	}
	m.SentAt, _ = time.Parse(time.RFC3339, sentAt)
	vec, err := decodeFloat32s(blob)
	if err != nil {
		return m, fmt.Errorf("message %s: %w", m.ExternalID, err)
	}
	m.Embedding = vec
	return m, nil
}

const contactCols = `user_id, external_id, name, email, phone, company, notes, created_at, embedding`

func scanContact(rows *sql.Rows) (ContactRecord, error) {
	var c ContactRecord
	var createdAt string
	var blob []byte
	if err := rows.Scan(&c.UserID, &c.ExternalID, &c.Name, &c.Email, &c.Phone, &c.Company, &c.Notes, &createdAt, &blob); err != nil {
		return c, err
	}
	c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	vec, err := decodeFloat32s(blob)
	if err != nil {
		return c, fmt.Errorf("contact %s: %w", c.ExternalID, err)
	}
	c.Embedding = vec
	return c, nil
}

func (s *Store) collectMessages(ctx context.Context, query string, args ...interface{}) ([]MessageRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MessageRecord
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) collectContacts(ctx context.Context, query string, args ...interface{}) ([]ContactRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ContactRecord
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SearchMessages performs lexical matching: a message matches when any token
// is a case-insensitive substring of its subject, sender or body. Results
// come back newest-first since no similarity score exists on this path.
func (s *Store) SearchMessages(ctx context.Context, userID string, tokens []string, limit int) ([]MessageRecord, error) {
	if len(tokens) == 0 {
		return nil, nil
	}

	conds := make([]string, 0, len(tokens))
	args := []interface{}{userID}
	for _, tok := range tokens {
		conds = append(conds, `instr(lower(subject), ?) > 0 OR instr(lower(sender), ?) > 0 OR instr(lower(body), ?) > 0`)
		lt := strings.ToLower(tok)
		args = append(args, lt, lt, lt)
	}
	args = append(args, limit)

	query := fmt.Sprintf(`SELECT %s FROM messages WHERE user_id = ? AND (%s) ORDER BY sent_at DESC, id DESC LIMIT ?`,
		messageCols, strings.Join(conds, " OR "))
	return s.collectMessages(ctx, query, args...)
}

// SearchContacts is the contact-corpus counterpart of SearchMessages,
// matching over name, email, company and notes.
func (s *Store) SearchContacts(ctx context.Context, userID string, tokens []string, limit int) ([]ContactRecord, error) {
	if len(tokens) == 0 {
		return nil, nil
	}

	conds := make([]string, 0, len(tokens))
	args := []interface{}{userID}
	for _, tok := range tokens {
		conds = append(conds, `instr(lower(name), ?) > 0 OR instr(lower(email), ?) > 0 OR instr(lower(company), ?) > 0 OR instr(lower(notes), ?) > 0`)
		lt := strings.ToLower(tok)
		args = append(args, lt, lt, lt, lt)
	}
	args = append(args, limit)

	query := fmt.Sprintf(`SELECT %s FROM contacts WHERE user_id = ? AND (%s) ORDER BY created_at DESC, id DESC LIMIT ?`,
		contactCols, strings.Join(conds, " OR "))
	return s.collectContacts(ctx, query, args...)
}

// MessagesMissingEmbedding returns messages whose vector is absent, oldest
// first, for backfill once the embedder is reachable again.
func (s *Store) MessagesMissingEmbedding(ctx context.Context, limit int) ([]MessageRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM messages WHERE embedding IS NULL ORDER BY id LIMIT ?`, messageCols)
	return s.collectMessages(ctx, query, limit)
}

// ContactsMissingEmbedding returns contacts whose vector is absent.
func (s *Store) ContactsMissingEmbedding(ctx context.Context, limit int) ([]ContactRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM contacts WHERE embedding IS NULL ORDER BY id LIMIT ?`, contactCols)
	return s.collectContacts(ctx, query, limit)
}

// MessagesWithEmbedding returns every message carrying a vector, used to
// rebuild the in-memory vector index at startup.
func (s *Store) MessagesWithEmbedding(ctx context.Context) ([]MessageRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM messages WHERE embedding IS NOT NULL ORDER BY id`, messageCols)
	return s.collectMessages(ctx, query)
}

// ContactsWithEmbedding returns every contact carrying a vector.
func (s *Store) ContactsWithEmbedding(ctx context.Context) ([]ContactRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM contacts WHERE embedding IS NOT NULL ORDER BY id`, contactCols)
	return s.collectContacts(ctx, query)
}
