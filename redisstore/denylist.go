// Package redisstore keeps revoked session ids in Redis so every instance
// of the service sees a logout.
package redisstore

import (
	"context"
	"time"

	"github.com/goliatone/go-accounts"
	goerrors "github.com/goliatone/go-errors"
	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "accounts:denylist:"

// Denylist implements accounts.Denylist on Redis. Entries expire with the
// token they revoke.
type Denylist struct {
	client redis.UniversalClient
	prefix string
}

var _ accounts.Denylist = (*Denylist)(nil)

// NewDenylist creates a denylist. An empty prefix uses "accounts:denylist:".
func NewDenylist(client redis.UniversalClient, prefix string) *Denylist {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Denylist{client: client, prefix: prefix}
}

func (d *Denylist) key(tokenID string) string {
	return d.prefix + tokenID
}

// Add records tokenID until ttl elapses with SET NX, so concurrent
// revocations of one token have a single winner. Non positive ttls are
// ignored, the token has already expired.
func (d *Denylist) Add(ctx context.Context, tokenID string, ttl time.Duration) (bool, error) {
	if tokenID == "" || ttl <= 0 {
		return true, nil
	}
	added, err := d.client.SetNX(ctx, d.key(tokenID), 1, ttl).Result()
	if err != nil {
		return false, goerrors.Wrap(err, goerrors.CategoryOperation, "failed to revoke session").
			WithMetadata(map[string]any{"store": "redis"})
	}
	return added, nil
}

func (d *Denylist) Contains(ctx context.Context, tokenID string) (bool, error) {
	if tokenID == "" {
		return false, nil
	}
	n, err := d.client.Exists(ctx, d.key(tokenID)).Result()
	if err != nil {
		return false, goerrors.Wrap(err, goerrors.CategoryOperation, "failed to check session denylist").
			WithMetadata(map[string]any{"store": "redis"})
	}
	return n > 0, nil
}

// Ping checks the connection, used at startup
func (d *Denylist) Ping(ctx context.Context) error {
	if err := d.client.Ping(ctx).Err(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryOperation, "redis unreachable")
	}
	return nil
}
