// Package queue is the durable enrichment queue. Webhook handlers
// acknowledge the sender immediately and park the narrative here; the
// dispatch worker drains it. Jobs survive a process restart because the
// queue lives in the same sqlite database as everything else.
package queue

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"
)

type Queue struct {
	db *sql.DB
}

func New(db *sql.DB) *Queue {
	return &Queue{db: db}
}

// DeliveryDedupeKey derives a stable dedupe key from a webhook delivery.
// GitHub redelivers on 5xx and operators can redeliver manually; hashing
// (provider, delivery id) collapses those into one job.
func DeliveryDedupeKey(provider, deliveryID string) string {
	sum := blake3.Sum256([]byte(provider + ":" + deliveryID))
	return hex.EncodeToString(sum[:])
}

// Enqueue inserts a job and returns its id. A request whose dedupe key
// matches an existing job is a no-op that returns the existing job's id.
func (q *Queue) Enqueue(ctx context.Context, req EnqueueRequest) (string, error) {
	if req.Source == "" {
		return "", fmt.Errorf("source is empty")
	}
	if req.AccountID == "" {
		return "", fmt.Errorf("account_id is empty")
	}
	if req.Narrative == "" {
		return "", fmt.Errorf("narrative is empty")
	}

	id := uuid.NewString()
	now := time.Now().UTC().Format(time.RFC3339Nano)

	var dedupeKey any
	if req.DedupeKey != "" {
		dedupeKey = req.DedupeKey
	}
	var responseURL any
	if req.ResponseURL != "" {
		responseURL = req.ResponseURL
	}

	res, err := q.db.ExecContext(ctx, `
INSERT INTO enrich_queue(id, source, account_id, narrative, response_url, status, attempt, dedupe_key, created_at)
VALUES(?, ?, ?, ?, ?, ?, 1, ?, ?)
ON CONFLICT(dedupe_key) DO NOTHING;
`, id, req.Source, req.AccountID, req.Narrative, responseURL, StatusQueued, dedupeKey, now)
	if err != nil {
		return "", fmt.Errorf("enqueue enrichment job: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("enqueue enrichment job: %w", err)
	}
	if n == 0 {
		// Redelivered webhook: hand back the job it already created.
		var existingID string
		if err := q.db.QueryRowContext(ctx,
			"SELECT id FROM enrich_queue WHERE dedupe_key = ?;", req.DedupeKey).Scan(&existingID); err != nil {
			return "", fmt.Errorf("look up deduped job: %w", err)
		}
		return existingID, nil
	}
	return id, nil
}

// Dequeue claims the oldest queued job and marks it running. Returns
// (nil, nil) if the queue is empty.
func (q *Queue) Dequeue(ctx context.Context) (*Job, error) {
	nowS := time.Now().UTC().Format(time.RFC3339Nano)

	row := q.db.QueryRowContext(ctx, `
WITH next AS (
  SELECT id
  FROM enrich_queue
  WHERE status = ?
  ORDER BY created_at ASC, rowid ASC
  LIMIT 1
)
UPDATE enrich_queue
SET status = ?, started_at = ?
WHERE id IN (SELECT id FROM next)
RETURNING id, source, account_id, narrative, response_url, status, attempt, dedupe_key,
  created_at, started_at, completed_at, last_error;
`, StatusQueued, StatusRunning, nowS)

	var (
		j            Job
		responseURL  sql.NullString
		statusS      string
		dedupeKey    sql.NullString
		createdAtS   string
		startedAtS   sql.NullString
		completedAtS sql.NullString
		lastError    sql.NullString
	)
	err := row.Scan(
		&j.ID, &j.Source, &j.AccountID, &j.Narrative, &responseURL, &statusS, &j.Attempt, &dedupeKey,
		&createdAtS, &startedAtS, &completedAtS, &lastError,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue enrichment job: %w", err)
	}

	j.Status = Status(statusS)
	if responseURL.Valid {
		j.ResponseURL = &responseURL.String
	}
	if dedupeKey.Valid {
		j.DedupeKey = &dedupeKey.String
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAtS); err == nil {
		j.CreatedAt = t
	}
	if startedAtS.Valid {
		if t, err := time.Parse(time.RFC3339Nano, startedAtS.String); err == nil {
			j.StartedAt = &t
		}
	}
	if completedAtS.Valid {
		if t, err := time.Parse(time.RFC3339Nano, completedAtS.String); err == nil {
			j.CompletedAt = &t
		}
	}
	if lastError.Valid {
		j.LastError = &lastError.String
	}
	return &j, nil
}

// Complete marks a job terminal and appends a row to enrich_log.
func (q *Queue) Complete(ctx context.Context, jobID string, status Status, lastError *string) error {
	if jobID == "" {
		return fmt.Errorf("jobID is empty")
	}
	if status != StatusSucceeded && status != StatusFailed {
		return fmt.Errorf("invalid terminal status: %q", status)
	}

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		source    string
		accountID string
		attempt   int
		createdAt string
	)
	if err := tx.QueryRowContext(ctx, `
SELECT source, account_id, attempt, created_at FROM enrich_queue WHERE id = ?;
`, jobID).Scan(&source, &accountID, &attempt, &createdAt); err != nil {
		return fmt.Errorf("load job for completion: %w", err)
	}

	completedAt := time.Now().UTC().Format(time.RFC3339Nano)

	if _, err := tx.ExecContext(ctx, `
UPDATE enrich_queue SET status = ?, completed_at = ?, last_error = ? WHERE id = ?;
`, status, completedAt, lastError, jobID); err != nil {
		return fmt.Errorf("update job completion: %w", err)
	}

	logID := fmt.Sprintf("%s-%d", jobID, attempt)
	if _, err := tx.ExecContext(ctx, `
INSERT INTO enrich_log(id, source, account_id, status, attempt, created_at, completed_at, last_error)
VALUES(?, ?, ?, ?, ?, ?, ?, ?);
`, logID, source, accountID, status, attempt, createdAt, completedAt, lastError); err != nil {
		return fmt.Errorf("insert enrich_log: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Depth counts jobs still waiting or running.
func (q *Queue) Depth(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM enrich_queue WHERE status IN (?, ?);",
		StatusQueued, StatusRunning).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("queue depth: %w", err)
	}
	return n, nil
}
