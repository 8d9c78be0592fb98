package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/blackboxhq/blackbox-gw/internal/linkcode"
	"github.com/blackboxhq/blackbox-gw/internal/ratelimit"
)

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	depth, err := s.queue.Depth(r.Context())
	if err != nil {
		s.logger.Error("failed to compute queue depth", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to compute queue depth")
		return
	}

	s.writeJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		QueueDepth:    depth,
	})
}

// handleIssueCode handles POST /link-code. Re-issuing replaces the pending
// code, so a user who lost a code just asks for another.
func (s *Server) handleIssueCode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID := requestAccountID(r)

	result, err := s.limiter.Check(ctx, ratelimit.BucketAuth, accountID)
	if err != nil {
		s.logger.Error("rate limit check failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !result.Allowed {
		s.writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	issued, err := s.links.Issue(ctx, accountID)
	if err != nil {
		s.logger.Error("failed to issue link code", "account_id", accountID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to issue link code")
		return
	}

	s.logger.Info("link code issued", "account_id", accountID, "expires_at", issued.ExpiresAt)
	s.writeJSON(w, http.StatusOK, IssueCodeResponse{
		Code:      issued.Code,
		ExpiresAt: issued.ExpiresAt,
	})
}

// handleLinkStatus handles GET /link-code.
func (s *Server) handleLinkStatus(w http.ResponseWriter, r *http.Request) {
	accountID := requestAccountID(r)

	status, err := s.links.GetStatus(r.Context(), accountID)
	if err != nil {
		s.logger.Error("failed to load link status", "account_id", accountID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to load link status")
		return
	}

	resp := StatusResponse{Status: "none"}
	for _, link := range status.Linked {
		resp.Linked = append(resp.Linked, LinkedIdentity{
			Provider: link.Provider,
			Username: link.ExternalUsername,
		})
	}
	if len(resp.Linked) > 0 {
		resp.Status = "linked"
	}
	if status.Pending != nil {
		resp.Pending = &IssueCodeResponse{
			Code:      status.Pending.Code,
			ExpiresAt: status.Pending.ExpiresAt,
		}
		if resp.Status == "none" {
			resp.Status = "pending"
		}
	}

	s.writeJSON(w, http.StatusOK, resp)
}

// handleUnlink handles DELETE /link-code. The optional ?provider= query
// restricts the unlink to one provider; without it every binding goes.
func (s *Server) handleUnlink(w http.ResponseWriter, r *http.Request) {
	accountID := requestAccountID(r)
	provider := r.URL.Query().Get("provider")

	if err := s.links.Unlink(r.Context(), accountID, provider); err != nil {
		if errors.Is(err, linkcode.ErrNotLinked) {
			s.writeError(w, http.StatusNotFound, "nothing to unlink")
			return
		}
		s.logger.Error("failed to unlink", "account_id", accountID, "provider", provider, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to unlink")
		return
	}

	s.logger.Info("account unlinked", "account_id", accountID, "provider", provider)
	w.WriteHeader(http.StatusNoContent)
}
