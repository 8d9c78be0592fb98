package webhook

import (
	"context"

	"github.com/blackboxhq/blackbox-gw/internal/linkcode"
	"github.com/blackboxhq/blackbox-gw/internal/queue"
	"github.com/blackboxhq/blackbox-gw/internal/ratelimit"
)

// JobQueuer is the queue interface the webhook server depends on.
type JobQueuer interface {
	Enqueue(ctx context.Context, req queue.EnqueueRequest) (string, error)
}

// AccountLinker resolves and mutates account-to-identity bindings.
type AccountLinker interface {
	FindByExternal(ctx context.Context, provider, externalUserID string) (*linkcode.Link, error)
	Redeem(ctx context.Context, code string, ext linkcode.ExternalIdentity) (string, error)
}

// RateChecker guards the expensive enrichment path.
type RateChecker interface {
	Check(ctx context.Context, bucket ratelimit.Bucket, identifier string) (ratelimit.Result, error)
}

// StatusResponse is the JSON body for accepted and no-op outcomes.
type StatusResponse struct {
	Message string `json:"message"`
}

// ErrorResponse is the JSON body for rejected requests.
type ErrorResponse struct {
	Error string `json:"error"`
}
