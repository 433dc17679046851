package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "yacall:presence:"

// Deletes the entry only while it still names the calling node, so a user
// who already reconnected elsewhere is not knocked offline.
// KEYS[1] = presence key
// ARGV[1] = node id
var luaReleaseIfOwner = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// Directory implements port.PresenceDirectory on a shared Redis instance:
// one string key per user holding the owning node id, expiring after ttl.
type Directory struct {
	rdb redis.UniversalClient
}

func NewDirectory(rdb redis.UniversalClient) *Directory {
	return &Directory{rdb: rdb}
}

// Dial connects to addr and checks the connection.
func Dial(ctx context.Context, addr, password string, db int) (*Directory, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return NewDirectory(rdb), nil
}

func presenceKey(userID domain.UserID) string {
	return keyPrefix + userID.String()
}

func (d *Directory) SetOnline(ctx context.Context, userID domain.UserID, node domain.NodeID, ttl time.Duration) error {
	return d.rdb.Set(ctx, presenceKey(userID), node.String(), ttl).Err()
}

func (d *Directory) SetOffline(ctx context.Context, userID domain.UserID, node domain.NodeID) error {
	return luaReleaseIfOwner.Run(ctx, d.rdb, []string{presenceKey(userID)}, node.String()).Err()
}

func (d *Directory) Lookup(ctx context.Context, userID domain.UserID) (domain.NodeID, bool, error) {
	node, err := d.rdb.Get(ctx, presenceKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return domain.NodeID(node), true, nil
}

func (d *Directory) Close() error {
	return d.rdb.Close()
}
