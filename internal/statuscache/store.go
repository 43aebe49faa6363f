// Package statuscache keeps short-lived per-session processing status and the last
// produced reply for clients that poll instead of subscribing.
package statuscache

import (
	"context"
	"errors"
	"time"
)

var ErrMiss = errors.New("statuscache: miss")

type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}
