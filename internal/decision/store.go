// Package decision persists captured career decisions.
package decision

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("decision not found")

// Decision is one journaled decision record.
type Decision struct {
	ID        string          `json:"id"`
	AccountID string          `json:"account_id"`
	Source    string          `json:"source"` // "github" | "slack" | "api"
	RawText   string          `json:"raw_text"`
	Title     string          `json:"title,omitempty"`
	Enriched  json.RawMessage `json:"enriched,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Store persists decisions in sqlite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Create inserts a decision record and returns its id.
func (s *Store) Create(ctx context.Context, accountID, source, rawText, title string, enriched json.RawMessage) (string, error) {
	if accountID == "" {
		return "", fmt.Errorf("account id is empty")
	}
	if source == "" {
		return "", fmt.Errorf("source is empty")
	}
	if rawText == "" {
		return "", fmt.Errorf("raw text is empty")
	}

	id := uuid.NewString()
	now := s.now().UTC().Format(time.RFC3339Nano)

	var enrichedVal any
	if len(enriched) > 0 {
		enrichedVal = string(enriched)
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO decisions(id, account_id, source, raw_text, title, enriched_json, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?);
`, id, accountID, source, rawText, title, enrichedVal, now)
	if err != nil {
		return "", fmt.Errorf("insert decision: %w", err)
	}
	return id, nil
}

// Get loads a single decision by id.
func (s *Store) Get(ctx context.Context, id string) (*Decision, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, account_id, source, raw_text, title, enriched_json, created_at
FROM decisions WHERE id = ?;
`, id)
	return scanDecision(row)
}

// ListByAccount returns an account's decisions, newest first.
func (s *Store) ListByAccount(ctx context.Context, accountID string, limit int) ([]*Decision, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, account_id, source, raw_text, title, enriched_json, created_at
FROM decisions
WHERE account_id = ?
ORDER BY created_at DESC
LIMIT ?;
`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	defer rows.Close()

	var out []*Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDecision(row rowScanner) (*Decision, error) {
	var (
		d         Decision
		title     sql.NullString
		enriched  sql.NullString
		createdAt string
	)
	err := row.Scan(&d.ID, &d.AccountID, &d.Source, &d.RawText, &title, &enriched, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan decision: %w", err)
	}
	d.Title = title.String
	if enriched.Valid {
		d.Enriched = json.RawMessage(enriched.String)
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		d.CreatedAt = t
	}
	return &d, nil
}
