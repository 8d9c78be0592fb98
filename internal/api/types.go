package api

import (
	"context"
	"time"

	"github.com/blackboxhq/blackbox-gw/internal/linkcode"
	"github.com/blackboxhq/blackbox-gw/internal/ratelimit"
)

// LinkStore is the link-code surface the API exposes.
type LinkStore interface {
	Issue(ctx context.Context, accountID string) (*linkcode.IssuedCode, error)
	GetStatus(ctx context.Context, accountID string) (*linkcode.Status, error)
	Unlink(ctx context.Context, accountID, provider string) error
}

// QueueDepther reports pending enrichment work for health checks.
type QueueDepther interface {
	Depth(ctx context.Context) (int, error)
}

// RateChecker guards code issuance against brute-force probing.
type RateChecker interface {
	Check(ctx context.Context, bucket ratelimit.Bucket, identifier string) (ratelimit.Result, error)
}

// IssueCodeResponse is the body for POST /link-code.
type IssueCodeResponse struct {
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
}

// LinkedIdentity is one bound identity in a status response.
type LinkedIdentity struct {
	Provider string `json:"provider"`
	Username string `json:"username,omitempty"`
}

// StatusResponse is the body for GET /link-code.
type StatusResponse struct {
	// Status is "linked", "pending", or "none".
	Status  string             `json:"status"`
	Linked  []LinkedIdentity   `json:"linked,omitempty"`
	Pending *IssueCodeResponse `json:"pending,omitempty"`
}

// HealthzResponse is the body for GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	QueueDepth    int    `json:"queue_depth"`
}

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}
