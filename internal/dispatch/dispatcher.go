// Package dispatch drains the enrichment queue. It is the asynchronous half
// of webhook handling: the webhook server has already acknowledged the
// sender by the time a job lands here, so nothing in this loop is on a
// third-party timeout budget.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/blackboxhq/blackbox-gw/internal/enrich"
	"github.com/blackboxhq/blackbox-gw/internal/log"
	"github.com/blackboxhq/blackbox-gw/internal/queue"
	"github.com/blackboxhq/blackbox-gw/internal/slack"
)

// JobQueue is the queue surface the dispatcher needs.
type JobQueue interface {
	Dequeue(ctx context.Context) (*queue.Job, error)
	Complete(ctx context.Context, jobID string, status queue.Status, lastError *string) error
}

// Enricher structures a narrative via the hosted model.
type Enricher interface {
	Enrich(ctx context.Context, narrative string) (*enrich.Enriched, json.RawMessage, error)
}

// DecisionWriter persists finished decisions.
type DecisionWriter interface {
	Create(ctx context.Context, accountID, source, rawText, title string, enriched json.RawMessage) (string, error)
}

// Notifier pushes delayed Slack responses. May be nil-like via a no-op in tests.
type Notifier interface {
	Respond(ctx context.Context, responseURL string, msg slack.Message) error
}

// Dispatcher polls the queue and runs enrichment jobs one at a time.
type Dispatcher struct {
	queue     JobQueue
	enricher  Enricher
	decisions DecisionWriter
	notifier  Notifier
	logger    *slog.Logger

	pollInterval time.Duration
}

func New(q JobQueue, e Enricher, d DecisionWriter, n Notifier) *Dispatcher {
	return &Dispatcher{
		queue:        q,
		enricher:     e,
		decisions:    d,
		notifier:     n,
		logger:       log.WithComponent("dispatch"),
		pollInterval: time.Second,
	}
}

// Start runs the dispatch loop until ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.logger.Info("dispatch loop started")
	defer d.logger.Info("dispatch loop stopped")

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := d.ProcessNext(ctx); err != nil {
				d.logger.Error("failed to process job", "error", err)
				// Keep polling; individual job errors must not kill the loop.
			}
		}
	}
}

// ProcessNext claims and executes at most one job.
func (d *Dispatcher) ProcessNext(ctx context.Context) error {
	job, err := d.queue.Dequeue(ctx)
	if err != nil {
		return fmt.Errorf("dequeue: %w", err)
	}
	if job == nil {
		return nil
	}
	d.executeJob(ctx, job)
	return nil
}

func (d *Dispatcher) executeJob(ctx context.Context, job *queue.Job) {
	jobLogger := log.WithJob(job.ID).With("source", job.Source, "account_id", job.AccountID)
	jobLogger.Info("enriching decision", "attempt", job.Attempt)

	enriched, raw, err := d.enricher.Enrich(ctx, job.Narrative)
	if err != nil {
		// No retry: timeouts and model failures are terminal, logged, and
		// surfaced to the user only when a Slack callback exists.
		errMsg := fmt.Sprintf("enrichment failed: %v", err)
		jobLogger.Error("enrichment failed", "error", err)
		d.completeJob(ctx, jobLogger, job.ID, queue.StatusFailed, &errMsg)
		d.notify(ctx, jobLogger, job,
			"Sorry - structuring that decision failed. It was not saved; please try again.")
		return
	}

	decisionID, err := d.decisions.Create(ctx, job.AccountID, job.Source, job.Narrative, enriched.Title, raw)
	if err != nil {
		errMsg := fmt.Sprintf("persist decision: %v", err)
		jobLogger.Error("failed to persist decision", "error", err)
		d.completeJob(ctx, jobLogger, job.ID, queue.StatusFailed, &errMsg)
		d.notify(ctx, jobLogger, job,
			"Sorry - saving that decision failed. Please try again.")
		return
	}

	jobLogger.Info("decision recorded", "decision_id", decisionID, "title", enriched.Title)
	d.completeJob(ctx, jobLogger, job.ID, queue.StatusSucceeded, nil)
	d.notify(ctx, jobLogger, job,
		fmt.Sprintf("Decision saved: *%s*", enriched.Title))
}

func (d *Dispatcher) completeJob(ctx context.Context, jobLogger *slog.Logger, jobID string, status queue.Status, lastError *string) {
	if err := d.queue.Complete(ctx, jobID, status, lastError); err != nil {
		jobLogger.Error("failed to mark job complete", "status", string(status), "error", err)
	}
}

// notify pushes a best-effort status callback to Slack-originated jobs.
// There is no channel back to GitHub commenters, so jobs without a
// response_url are silent.
func (d *Dispatcher) notify(ctx context.Context, jobLogger *slog.Logger, job *queue.Job, text string) {
	if job.ResponseURL == nil || *job.ResponseURL == "" {
		return
	}
	if err := d.notifier.Respond(ctx, *job.ResponseURL, slack.Ephemeral(text)); err != nil {
		jobLogger.Warn("slack callback failed", "error", err)
	}
}
