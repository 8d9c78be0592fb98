// Package ratelimit bounds request rates per identifier per logical bucket.
//
// The primary backend is a hosted Redis counter. When Redis is unconfigured
// or a call fails, checks fall back to an in-process counter map so a
// degraded dependency cannot be used to bypass limits. The fallback is
// process-local: in a multi-instance deployment it is a best-effort
// backstop, not a correctness guarantee.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"
)

// Bucket identifies a logical rate-limit class.
type Bucket string

const (
	BucketAPI     Bucket = "api"
	BucketAI      Bucket = "ai"
	BucketAIAnon  Bucket = "ai-anon"
	BucketExport  Bucket = "export"
	BucketAuth    Bucket = "auth"
	BucketPayment Bucket = "payment"
)

// Limit is a request ceiling within a window.
type Limit struct {
	Requests int
	Window   time.Duration
}

// limits is the static bucket table.
var limits = map[Bucket]Limit{
	BucketAPI:     {Requests: 100, Window: time.Minute},
	BucketAI:      {Requests: 20, Window: time.Minute},
	BucketAIAnon:  {Requests: 5, Window: 24 * time.Hour},
	BucketExport:  {Requests: 10, Window: time.Minute},
	BucketAuth:    {Requests: 10, Window: time.Minute},
	BucketPayment: {Requests: 5, Window: time.Minute},
}

// LimitFor returns the configured limit for a bucket.
func LimitFor(b Bucket) (Limit, bool) {
	l, ok := limits[b]
	return l, ok
}

// Result is the outcome of a single rate-limit check.
type Result struct {
	Allowed   bool
	Remaining int
	ResetIn   time.Duration
}

// Limiter checks request rates against the bucket table.
type Limiter struct {
	client *redis.Client // nil when Redis is unconfigured
	mem    *memoryLimiter
	logger *slog.Logger
}

// New creates a Limiter. client may be nil, in which case every check uses
// the in-process fallback; that degradation is logged once here, not per
// request.
func New(client *redis.Client, logger *slog.Logger) *Limiter {
	if client == nil {
		logger.Warn("rate limiter running without redis; falling back to in-process counters")
	}
	return &Limiter{
		client: client,
		mem:    newMemoryLimiter(),
		logger: logger,
	}
}

// Check records one request for identifier in bucket and reports whether it
// is allowed. Redis failures fall back to the in-process limiter rather
// than allowing the request unchecked.
func (l *Limiter) Check(ctx context.Context, bucket Bucket, identifier string) (Result, error) {
	limit, ok := limits[bucket]
	if !ok {
		return Result{}, fmt.Errorf("unknown rate-limit bucket %q", bucket)
	}
	if identifier == "" {
		return Result{}, fmt.Errorf("rate-limit identifier is empty")
	}

	key := fmt.Sprintf("rate:%s:%s", bucket, identifier)

	var res Result
	if l.client != nil {
		var err error
		res, err = l.checkRedis(ctx, key, limit)
		if err != nil {
			l.logger.Error("redis rate-limit check failed; using in-process fallback",
				"bucket", string(bucket), "error", err)
			res = l.mem.check(key, limit)
		}
	} else {
		res = l.mem.check(key, limit)
	}

	if !res.Allowed {
		// Security-relevant signal, not debug noise.
		l.logger.Warn("rate limit exceeded",
			"identifier", identifier,
			"bucket", string(bucket),
			"remaining", res.Remaining,
		)
	}
	return res, nil
}
