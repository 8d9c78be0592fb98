package webhook

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/blackboxhq/blackbox-gw/internal/config"
	"github.com/blackboxhq/blackbox-gw/internal/linkcode"
	"github.com/blackboxhq/blackbox-gw/internal/queue"
	"github.com/blackboxhq/blackbox-gw/internal/ratelimit"
	"github.com/blackboxhq/blackbox-gw/internal/signature"
	"github.com/blackboxhq/blackbox-gw/internal/slack"
)

const slackHelpText = "Log a career decision: `/logdecision <what you decided and why>`\n" +
	"Link your account: `/logdecision link <CODE>` (get a code from the dashboard)\n" +
	"Show this message: `/logdecision help`"

// handleSlackCommand processes slash-command invocations. Slack expects a
// 200 no matter what happened, so every outcome including a bad signature
// comes back as an in-band ephemeral message.
func (s *Server) handleSlackCommand(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Slack.SigningSecret == "" {
		s.logger.Error("slack signing secret not configured")
		s.respondJSON(w, http.StatusOK, slack.Ephemeral("This integration is not configured yet. Ask your admin."))
		return
	}

	body, err := s.readBody(r)
	if err != nil {
		s.respondJSON(w, http.StatusOK, slack.Ephemeral("Sorry - could not read that request."))
		return
	}

	sig := r.Header.Get("x-slack-signature")
	timestamp := r.Header.Get("x-slack-request-timestamp")
	if err := signature.VerifySlack(s.cfg.Slack.SigningSecret, sig, timestamp, body, s.now()); err != nil {
		s.logger.Warn("slack signature verification failed")
		s.respondJSON(w, http.StatusOK, slack.Ephemeral("Request verification failed. Please try again."))
		return
	}

	form, err := url.ParseQuery(string(body))
	if err != nil {
		s.respondJSON(w, http.StatusOK, slack.Ephemeral("Sorry - could not parse that command."))
		return
	}
	cmd := slack.ParseCommand(form)
	sub := slack.ParseSubcommand(cmd.Text)

	switch sub.Kind {
	case slack.SubHelp:
		s.respondJSON(w, http.StatusOK, slack.Ephemeral(slackHelpText))
	case slack.SubLink:
		s.handleSlackLink(w, r, cmd, sub.Arg)
	default:
		s.handleSlackNarrative(w, r, cmd)
	}
}

// slackExternalID namespaces a Slack user id by workspace; Slack user ids
// are only unique within a team.
func slackExternalID(cmd slack.Command) string {
	return cmd.TeamID + ":" + cmd.UserID
}

func (s *Server) handleSlackLink(w http.ResponseWriter, r *http.Request, cmd slack.Command, code string) {
	ctx := r.Context()

	if code == "" {
		s.respondJSON(w, http.StatusOK, slack.Ephemeral("Usage: `/logdecision link <CODE>`"))
		return
	}

	result, err := s.limiter.Check(ctx, ratelimit.BucketAuth, slackExternalID(cmd))
	if err != nil || !result.Allowed {
		if err != nil {
			s.logger.Error("rate limit check failed", "error", err)
		}
		s.respondJSON(w, http.StatusOK, slack.Ephemeral("Too many attempts. Wait a minute and try again."))
		return
	}

	accountID, err := s.links.Redeem(ctx, code, linkcode.ExternalIdentity{
		Provider: "slack",
		UserID:   slackExternalID(cmd),
		Username: cmd.UserName,
	})
	switch {
	case err == nil:
		s.logger.Info("slack identity linked", "account_id", accountID)
		s.respondJSON(w, http.StatusOK, slack.Ephemeral("Linked! Your decisions will be logged to your account."))
	case errors.Is(err, linkcode.ErrCodeNotFound):
		s.respondJSON(w, http.StatusOK, slack.Ephemeral("That code is not valid. Check it and try again."))
	case errors.Is(err, linkcode.ErrCodeExpired):
		s.respondJSON(w, http.StatusOK, slack.Ephemeral("That code has expired. Generate a new one from the dashboard."))
	case errors.Is(err, linkcode.ErrAlreadyLinked):
		s.respondJSON(w, http.StatusOK, slack.Ephemeral("This Slack account is already linked."))
	default:
		s.logger.Error("link redemption failed", "error", err)
		s.respondJSON(w, http.StatusOK, slack.Ephemeral("Sorry - linking failed. Please try again."))
	}
}

func (s *Server) handleSlackNarrative(w http.ResponseWriter, r *http.Request, cmd slack.Command) {
	ctx := r.Context()

	link, err := s.links.FindByExternal(ctx, "slack", slackExternalID(cmd))
	if err != nil {
		if errors.Is(err, linkcode.ErrNotLinked) {
			s.respondJSON(w, http.StatusOK, slack.Ephemeral(
				"Your Slack account is not linked yet. Run `/logdecision link <CODE>` first."))
			return
		}
		s.logger.Error("link lookup failed", "error", err)
		s.respondJSON(w, http.StatusOK, slack.Ephemeral("Sorry - something went wrong. Please try again."))
		return
	}

	minLen := s.cfg.Slack.MinNarrativeLen
	if minLen == 0 {
		minLen = config.DefaultSlackNarrativeLen
	}
	if len(cmd.Text) < minLen {
		s.respondJSON(w, http.StatusOK, slack.Ephemeral(fmt.Sprintf(
			"That's a bit short to be a decision record. Add some context (at least %d characters).", minLen)))
		return
	}

	result, err := s.limiter.Check(ctx, ratelimit.BucketAI, link.AccountID)
	if err != nil || !result.Allowed {
		if err != nil {
			s.logger.Error("rate limit check failed", "error", err)
		}
		s.respondJSON(w, http.StatusOK, slack.Ephemeral("You're logging decisions faster than I can keep up. Try again shortly."))
		return
	}

	jobID, err := s.queue.Enqueue(ctx, queue.EnqueueRequest{
		Source:      "slack",
		AccountID:   link.AccountID,
		Narrative:   cmd.Text,
		ResponseURL: cmd.ResponseURL,
	})
	if err != nil {
		s.logger.Error("failed to enqueue enrichment job", "error", err)
		s.respondJSON(w, http.StatusOK, slack.Ephemeral("Sorry - saving that decision failed. Please try again."))
		return
	}

	s.logger.Info("slack decision enqueued", "job_id", jobID, "account_id", link.AccountID)
	s.respondJSON(w, http.StatusOK, slack.Ephemeral("Got it - structuring your decision now. I'll follow up here."))
}
