package throttle

import (
	"context"
	"strconv"
	"time"

	"github.com/mkholodov/authgate/internal/cache"
	"github.com/mkholodov/authgate/internal/logger"
)

// Key prefixes. Failure counter and lock marker are independent keys so each
// expires on its own schedule; ResetOnSuccess is the only eager clear of both.
const (
	failKeyPrefix = "login:fail:"
	lockKeyPrefix = "login:lock:"
)

type Config struct {
	// MaxAttempts is the consecutive-failure threshold that triggers a lock.
	MaxAttempts int
	// FailureWindow is how long failures count toward the threshold. The
	// window starts at the first failure.
	FailureWindow time.Duration
	// LockDuration is how long a triggered lock holds.
	LockDuration time.Duration
}

// LoginThrottle tracks consecutive login failures per principal and enforces
// a lockout window on top of an atomic counter store.
//
// When the store is unavailable every operation degrades to "no throttling
// effect": login availability is prioritized over strict enforcement. That
// degradation is deliberate policy, not an oversight.
type LoginThrottle struct {
	cache cache.Cache
	cfg   Config
	l     logger.Logger
}

func NewLoginThrottle(c cache.Cache, cfg Config, l logger.Logger) *LoginThrottle {
	return &LoginThrottle{cache: c, cfg: cfg, l: l}
}

func failKey(principal string) string {
	return failKeyPrefix + principal
}

func lockKey(principal string) string {
	return lockKeyPrefix + principal
}

// IsLocked reports whether a live lock marker exists for the principal.
// Fails open when the store is unreachable.
func (t *LoginThrottle) IsLocked(ctx context.Context, principal string) bool {
	locked, err := t.cache.Exists(ctx, lockKey(principal))
	if err != nil {
		t.l.Error("Lock status check failed, failing open",
			logger.String("principal", principal),
			logger.Error(err))
		return false
	}
	return locked
}

// RecordFailure atomically counts one failed attempt and reports the
// post-increment count plus whether this failure triggered a lock. Degrades
// to (0, false) on store failure.
func (t *LoginThrottle) RecordFailure(ctx context.Context, principal string) (int64, bool) {
	attempts, err := t.cache.Increment(ctx, failKey(principal))
	if err != nil {
		t.l.Error("Failure count increment failed, skipping throttle",
			logger.String("principal", principal),
			logger.Error(err))
		return 0, false
	}

	// First failure in a fresh window starts the window's expiry.
	if attempts == 1 {
		if err := t.cache.Expire(ctx, failKey(principal), t.cfg.FailureWindow); err != nil {
			t.l.Error("Failure window expiry set failed",
				logger.String("principal", principal),
				logger.Error(err))
			return 0, false
		}
	}

	if attempts >= int64(t.cfg.MaxAttempts) {
		if err := t.cache.SetEx(ctx, lockKey(principal), "1", t.cfg.LockDuration); err != nil {
			t.l.Error("Lock marker set failed",
				logger.String("principal", principal),
				logger.Error(err))
			return attempts, false
		}
		return attempts, true
	}

	return attempts, false
}

// ResetOnSuccess clears both the failure counter and the lock marker.
// Best-effort: store errors are logged and swallowed.
func (t *LoginThrottle) ResetOnSuccess(ctx context.Context, principal string) {
	if err := t.cache.Delete(ctx, failKey(principal), lockKey(principal)); err != nil {
		t.l.Error("Throttle reset failed",
			logger.String("principal", principal),
			logger.Error(err))
	}
}

// Attempts returns the current failure count. Introspection helper for
// debugging and tests; degrades to 0.
func (t *LoginThrottle) Attempts(ctx context.Context, principal string) int64 {
	val, err := t.cache.Get(ctx, failKey(principal))
	if err != nil {
		return 0
	}
	count, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		t.l.Error("Failure count is not an integer",
			logger.String("principal", principal),
			logger.String("value", val))
		return 0
	}
	return count
}

// LockTTL returns the remaining lock time, following redis TTL semantics
// (-2 when no lock exists). Introspection helper.
func (t *LoginThrottle) LockTTL(ctx context.Context, principal string) time.Duration {
	ttl, err := t.cache.TTL(ctx, lockKey(principal))
	if err != nil {
		return -2
	}
	return ttl
}
