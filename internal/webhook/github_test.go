package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackboxhq/blackbox-gw/internal/config"
	"github.com/blackboxhq/blackbox-gw/internal/linkcode"
	"github.com/blackboxhq/blackbox-gw/internal/queue"
	"github.com/blackboxhq/blackbox-gw/internal/ratelimit"
	"github.com/blackboxhq/blackbox-gw/internal/signature"
)

type mockQueue struct {
	requests []queue.EnqueueRequest
	err      error
}

func (m *mockQueue) Enqueue(ctx context.Context, req queue.EnqueueRequest) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.requests = append(m.requests, req)
	return "job-123", nil
}

type mockLinks struct {
	// byExternal maps provider+":"+externalUserID to a link.
	byExternal map[string]*linkcode.Link
	redeemFn   func(code string, ext linkcode.ExternalIdentity) (string, error)
}

func (m *mockLinks) FindByExternal(ctx context.Context, provider, externalUserID string) (*linkcode.Link, error) {
	if link, ok := m.byExternal[provider+":"+externalUserID]; ok {
		return link, nil
	}
	return nil, linkcode.ErrNotLinked
}

func (m *mockLinks) Redeem(ctx context.Context, code string, ext linkcode.ExternalIdentity) (string, error) {
	if m.redeemFn != nil {
		return m.redeemFn(code, ext)
	}
	return "", linkcode.ErrCodeNotFound
}

type mockLimiter struct {
	allowed bool
	checks  []ratelimit.Bucket
}

func (m *mockLimiter) Check(ctx context.Context, bucket ratelimit.Bucket, identifier string) (ratelimit.Result, error) {
	m.checks = append(m.checks, bucket)
	return ratelimit.Result{Allowed: m.allowed, Remaining: 1}, nil
}

const githubSecret = "gh-test-secret"

func newTestServer(q *mockQueue, links *mockLinks, limiter *mockLimiter) *Server {
	cfg := config.Config{
		GitHub:   config.GitHubConfig{WebhookSecret: githubSecret},
		Slack:    config.SlackConfig{SigningSecret: slackSecret},
		Webhooks: config.WebhooksConfig{Listen: "127.0.0.1:0"},
	}
	return New(cfg, q, links, limiter)
}

func linkedGitHubUser(githubUserID int64, accountID string) *mockLinks {
	return &mockLinks{byExternal: map[string]*linkcode.Link{
		fmt.Sprintf("github:%d", githubUserID): {AccountID: accountID, Provider: "github"},
	}}
}

func issueCommentBody(t *testing.T, action, comment string, userID int64) []byte {
	t.Helper()
	payload := map[string]any{
		"action": action,
		"comment": map[string]any{
			"body": comment,
			"user": map[string]any{"id": userID, "login": "octocat"},
		},
		"issue":      map[string]any{"number": 7},
		"repository": map[string]any{"full_name": "acme/widgets"},
	}
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	return body
}

func postGitHub(s *Server, eventType string, body []byte, sign bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", "/webhook/github", bytes.NewReader(body))
	req.Header.Set("x-github-event", eventType)
	req.Header.Set("x-github-delivery", "delivery-abc")
	if sign {
		req.Header.Set("x-hub-signature-256", signature.SignGitHub(githubSecret, body))
	} else {
		req.Header.Set("x-hub-signature-256", "sha256=deadbeef")
	}
	rec := httptest.NewRecorder()
	s.setupRoutes().ServeHTTP(rec, req)
	return rec
}

func decodeStatus(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Message
}

func TestGitHubDecisionProcessed(t *testing.T) {
	q := &mockQueue{}
	limiter := &mockLimiter{allowed: true}
	s := newTestServer(q, linkedGitHubUser(42, "acct-1"), limiter)

	body := issueCommentBody(t, "created",
		"@blackbox Decided to switch databases because of latency", 42)
	rec := postGitHub(s, "issue_comment", body, true)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Decision processing started", decodeStatus(t, rec))

	require.Len(t, q.requests, 1)
	assert.Equal(t, "github", q.requests[0].Source)
	assert.Equal(t, "acct-1", q.requests[0].AccountID)
	assert.Equal(t, "Decided to switch databases because of latency", q.requests[0].Narrative)
	assert.Equal(t, queue.DeliveryDedupeKey("github", "delivery-abc"), q.requests[0].DedupeKey)
	assert.Equal(t, []ratelimit.Bucket{ratelimit.BucketAI}, limiter.checks)
}

func TestGitHubNoTrigger(t *testing.T) {
	q := &mockQueue{}
	s := newTestServer(q, linkedGitHubUser(42, "acct-1"), &mockLimiter{allowed: true})

	rec := postGitHub(s, "issue_comment", issueCommentBody(t, "created", "nice PR!", 42), true)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "No decision trigger found", decodeStatus(t, rec))
	assert.Empty(t, q.requests)
}

func TestGitHubBadSignature(t *testing.T) {
	q := &mockQueue{}
	s := newTestServer(q, linkedGitHubUser(42, "acct-1"), &mockLimiter{allowed: true})

	body := issueCommentBody(t, "created", "@blackbox a perfectly valid decision narrative", 42)
	rec := postGitHub(s, "issue_comment", body, false)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, q.requests)
}

func TestGitHubMissingSecret(t *testing.T) {
	s := newTestServer(&mockQueue{}, &mockLinks{}, &mockLimiter{allowed: true})
	s.cfg.GitHub.WebhookSecret = ""

	rec := postGitHub(s, "issue_comment", []byte("{}"), false)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestGitHubUnsupportedEvent(t *testing.T) {
	q := &mockQueue{}
	s := newTestServer(q, &mockLinks{}, &mockLimiter{allowed: true})

	body := []byte(`{"ref":"refs/heads/main"}`)
	rec := postGitHub(s, "push", body, true)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Event type not handled", decodeStatus(t, rec))
	assert.Empty(t, q.requests)
}

func TestGitHubIgnoredAction(t *testing.T) {
	s := newTestServer(&mockQueue{}, &mockLinks{}, &mockLimiter{allowed: true})

	body := issueCommentBody(t, "edited", "@blackbox edited decisions do not count here", 42)
	rec := postGitHub(s, "issue_comment", body, true)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Action not handled", decodeStatus(t, rec))
}

func TestGitHubMalformedPayload(t *testing.T) {
	s := newTestServer(&mockQueue{}, &mockLinks{}, &mockLimiter{allowed: true})

	body := []byte(`{"action":"created"}`)
	rec := postGitHub(s, "issue_comment", body, true)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGitHubNotLinked(t *testing.T) {
	q := &mockQueue{}
	s := newTestServer(q, &mockLinks{}, &mockLimiter{allowed: true})

	body := issueCommentBody(t, "created", "@blackbox a decision from an unlinked github account", 42)
	rec := postGitHub(s, "issue_comment", body, true)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "GitHub account not linked", decodeStatus(t, rec))
	assert.Empty(t, q.requests)
}

func TestGitHubNarrativeTooShort(t *testing.T) {
	q := &mockQueue{}
	s := newTestServer(q, linkedGitHubUser(42, "acct-1"), &mockLimiter{allowed: true})

	// Trigger present but the remainder is under the 30-char gate.
	rec := postGitHub(s, "issue_comment", issueCommentBody(t, "created", "@blackbox ship it", 42), true)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Decision text too short", decodeStatus(t, rec))
	assert.Empty(t, q.requests)
}

func TestGitHubRateLimited(t *testing.T) {
	q := &mockQueue{}
	s := newTestServer(q, linkedGitHubUser(42, "acct-1"), &mockLimiter{allowed: false})

	body := issueCommentBody(t, "created", "@blackbox a decision blocked by the enrichment rate limit", 42)
	rec := postGitHub(s, "issue_comment", body, true)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Empty(t, q.requests)
}

func TestGitHubBodyTooLarge(t *testing.T) {
	s := newTestServer(&mockQueue{}, &mockLinks{}, &mockLimiter{allowed: true})
	s.maxBodySize = 64

	body := bytes.Repeat([]byte("x"), 65)
	rec := postGitHub(s, "issue_comment", body, true)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestGitHubReviewEvent(t *testing.T) {
	q := &mockQueue{}
	s := newTestServer(q, linkedGitHubUser(9, "acct-9"), &mockLimiter{allowed: true})

	payload := map[string]any{
		"action": "submitted",
		"review": map[string]any{
			"body": "/blackbox approving this because the rollback plan is solid",
			"user": map[string]any{"id": 9, "login": "reviewer"},
		},
		"pull_request": map[string]any{"number": 12},
		"repository":   map[string]any{"full_name": "acme/widgets"},
	}
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	rec := postGitHub(s, "pull_request_review", body, true)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Decision processing started", decodeStatus(t, rec))
	require.Len(t, q.requests, 1)
	assert.Equal(t, "acct-9", q.requests[0].AccountID)
}

// Guards against the logging middleware or recoverer swallowing handler
// responses when wired through the full router.
func TestRouterWiring(t *testing.T) {
	s := newTestServer(&mockQueue{}, &mockLinks{}, &mockLimiter{allowed: true})

	req := httptest.NewRequest("GET", "/webhook/github", nil)
	rec := httptest.NewRecorder()
	s.setupRoutes().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
