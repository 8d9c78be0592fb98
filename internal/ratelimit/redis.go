package ratelimit

import (
	"context"

	"github.com/go-redis/redis/v8"
)

// incrWithExpire atomically increments a counter and stamps its window TTL
// on first use. Doing both in one script closes the gap where a crash
// between INCR and EXPIRE leaves an immortal counter.
var incrWithExpire = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
return {count, ttl}
`)

func (l *Limiter) checkRedis(ctx context.Context, key string, limit Limit) (Result, error) {
	raw, err := incrWithExpire.Run(ctx, l.client, []string{key}, limit.Window.Milliseconds()).Result()
	if err != nil {
		return Result{}, err
	}

	vals, ok := raw.([]interface{})
	if !ok || len(vals) != 2 {
		return Result{}, errUnexpectedReply
	}
	count, ok1 := vals[0].(int64)
	ttlMs, ok2 := vals[1].(int64)
	if !ok1 || !ok2 {
		return Result{}, errUnexpectedReply
	}

	resetIn := millisToDuration(ttlMs, limit)

	if count > int64(limit.Requests) {
		return Result{Allowed: false, Remaining: 0, ResetIn: resetIn}, nil
	}
	return Result{
		Allowed:   true,
		Remaining: limit.Requests - int(count),
		ResetIn:   resetIn,
	}, nil
}
