package webhook

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/blackboxhq/blackbox-gw/internal/config"
	"github.com/blackboxhq/blackbox-gw/internal/github"
	"github.com/blackboxhq/blackbox-gw/internal/linkcode"
	"github.com/blackboxhq/blackbox-gw/internal/queue"
	"github.com/blackboxhq/blackbox-gw/internal/ratelimit"
	"github.com/blackboxhq/blackbox-gw/internal/signature"
	"github.com/blackboxhq/blackbox-gw/internal/trigger"
)

// handleGitHub processes GitHub webhook deliveries. Everything that is not
// our concern (wrong event, no trigger, unlinked author) is a 200 no-op so
// GitHub never retries it; failure responses are reserved for genuinely
// broken requests.
func (s *Server) handleGitHub(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if s.cfg.GitHub.WebhookSecret == "" {
		s.logger.Error("github webhook secret not configured")
		s.respondError(w, http.StatusInternalServerError, "webhook not configured")
		return
	}

	body, err := s.readBody(r)
	if err != nil {
		if errors.Is(err, errBodyTooLarge) {
			s.respondError(w, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}
		s.respondError(w, http.StatusInternalServerError, "failed to read request body")
		return
	}

	sig := r.Header.Get("x-hub-signature-256")
	if err := signature.VerifyGitHub(s.cfg.GitHub.WebhookSecret, sig, body); err != nil {
		s.logger.Warn("github signature verification failed",
			"delivery_id", r.Header.Get("x-github-delivery"))
		s.respondError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	eventType := r.Header.Get("x-github-event")
	event, err := github.Decode(eventType, body)
	if err != nil {
		switch {
		case errors.Is(err, github.ErrUnsupportedEvent):
			s.respondStatus(w, http.StatusOK, "Event type not handled")
		case errors.Is(err, github.ErrIgnoredAction):
			s.respondStatus(w, http.StatusOK, "Action not handled")
		default:
			s.logger.Warn("github payload decode failed", "event", eventType, "error", err)
			s.respondError(w, http.StatusBadRequest, "malformed payload")
		}
		return
	}

	narrative, ok := trigger.Extract(event.Body)
	if !ok {
		s.respondStatus(w, http.StatusOK, "No decision trigger found")
		return
	}

	externalID := strconv.FormatInt(event.User.ID, 10)
	link, err := s.links.FindByExternal(ctx, "github", externalID)
	if err != nil {
		if errors.Is(err, linkcode.ErrNotLinked) {
			s.respondStatus(w, http.StatusOK, "GitHub account not linked")
			return
		}
		s.logger.Error("link lookup failed", "error", err)
		s.respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	minLen := s.cfg.Webhooks.MinNarrativeLen
	if minLen == 0 {
		minLen = config.DefaultGitHubNarrativeLen
	}
	if len(narrative) < minLen {
		s.respondStatus(w, http.StatusOK, "Decision text too short")
		return
	}

	result, err := s.limiter.Check(ctx, ratelimit.BucketAI, link.AccountID)
	if err != nil {
		s.logger.Error("rate limit check failed", "error", err)
		s.respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !result.Allowed {
		s.respondError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	// Redeliveries reuse the delivery id, so hashing it makes the enqueue
	// idempotent. Deliveries without one are never deduplicated.
	deliveryID := r.Header.Get("x-github-delivery")
	dedupeKey := ""
	if deliveryID != "" {
		dedupeKey = queue.DeliveryDedupeKey("github", deliveryID)
	}
	jobID, err := s.queue.Enqueue(ctx, queue.EnqueueRequest{
		Source:    "github",
		AccountID: link.AccountID,
		Narrative: narrative,
		DedupeKey: dedupeKey,
	})
	if err != nil {
		s.logger.Error("failed to enqueue enrichment job",
			"delivery_id", deliveryID, "error", err)
		s.respondError(w, http.StatusInternalServerError, "failed to enqueue job")
		return
	}

	s.logger.Info("github decision enqueued",
		"job_id", jobID,
		"delivery_id", deliveryID,
		"event", string(event.Kind),
		"repo", event.RepoName,
		"account_id", link.AccountID,
	)
	s.respondStatus(w, http.StatusOK, "Decision processing started")
}
