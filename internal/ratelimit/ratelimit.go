// Package ratelimit implements sliding-window admission control per client key.
package ratelimit

import (
	"context"
	"time"
)

// Result describes a single admission decision.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Governor decides whether a request identified by key may proceed.
type Governor interface {
	Take(ctx context.Context, key string) (Result, error)
}
