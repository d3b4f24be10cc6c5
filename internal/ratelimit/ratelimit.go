// Package ratelimit implements the per-user, per-event budget for chat
// operations. State lives in Redis so the budget holds across server
// processes.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"carechat/backend/internal/apperr"
	"carechat/backend/internal/config"

	"github.com/redis/go-redis/v9"
)

// The script counts the event inside the current fixed window and, once the
// caller is past the burst threshold, compares the time since their previous
// event against the cooldown interval. Returns {count, cooled} where cooled
// is 1 when the burst rule rejects.
var windowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local cooled = 0
if count > tonumber(ARGV[2]) then
  local last = redis.call("GET", KEYS[2])
  local now = tonumber(ARGV[3])
  if last and (now - tonumber(last)) < tonumber(ARGV[4]) then
    cooled = 1
  end
  redis.call("SET", KEYS[2], now, "PX", ARGV[1])
end
return {count, cooled}
`)

// Limiter enforces a fixed-window budget per (user, event) plus a burst
// cooldown once a smaller threshold is crossed within the window.
type Limiter struct {
	client *redis.Client
	prefix string

	window         time.Duration
	limits         map[string]int
	defaultLimit   int
	burstThreshold int
	minInterval    time.Duration
}

// NewLimiter builds a limiter with the configured chat budgets.
func NewLimiter(client *redis.Client) *Limiter {
	return &Limiter{
		client: client,
		prefix: "ratelimit",
		window: config.RateLimitWindow,
		limits: map[string]int{
			"send_message":  config.SendMessageLimit,
			"join_question": config.JoinLimit,
			"typing":        config.TypingLimit,
			"mark_as_read":  config.MarkReadLimit,
			"history":       config.HistoryLimit,
			"unread":        config.UnreadLimit,
		},
		defaultLimit:   config.SendMessageLimit,
		burstThreshold: config.BurstThreshold,
		minInterval:    config.MinRequestInterval,
	}
}

// NewCustomLimiter builds a limiter with explicit budgets. Used by tests
// and deployments that tune the defaults.
func NewCustomLimiter(client *redis.Client, window time.Duration, limit, burstThreshold int, minInterval time.Duration) *Limiter {
	return &Limiter{
		client:         client,
		prefix:         "ratelimit",
		window:         window,
		limits:         map[string]int{},
		defaultLimit:   limit,
		burstThreshold: burstThreshold,
		minInterval:    minInterval,
	}
}

// Allow returns nil when the event is within budget, apperr.ErrRateLimited
// when rejected, and the underlying error on store failure (callers treat
// that as a denial too; the limiter fails closed).
func (l *Limiter) Allow(userID, event string) error {
	limit, ok := l.limits[event]
	if !ok {
		limit = l.defaultLimit
	}

	windowMs := l.window.Milliseconds()
	now := time.Now().UTC().UnixMilli()
	slot := now / windowMs
	countKey := fmt.Sprintf("%s:%s:%s:%d", l.prefix, userID, event, slot)
	lastKey := fmt.Sprintf("%s:last:%s:%s", l.prefix, userID, event)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := windowScript.Run(ctx, l.client,
		[]string{countKey, lastKey},
		windowMs, l.burstThreshold, now, l.minInterval.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return err
	}
	count, cooled := res[0], res[1]

	if count > int64(limit) {
		return fmt.Errorf("%s budget of %d per window exceeded: %w", event, limit, apperr.ErrRateLimited)
	}
	if cooled == 1 {
		return fmt.Errorf("%s bursts faster than %s: %w", event, l.minInterval, apperr.ErrRateLimited)
	}
	return nil
}
