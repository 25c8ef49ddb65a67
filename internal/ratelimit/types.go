// Package ratelimit enforces per-user generation submission limits with a
// fixed one-minute window, backed by memory or Redis.
package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// Result describes the outcome of a rate limit check.
type Result struct {
	Allowed   bool
	Remaining int
	Reset     time.Time
}

// Limiter provides rate limit checks.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, now time.Time) (Result, error)
}

// KeyForUser builds the limiter key for a user's generation submissions.
func KeyForUser(userID string) string {
	if userID == "" {
		return ""
	}
	return fmt.Sprintf("gen:u:%s", userID)
}
