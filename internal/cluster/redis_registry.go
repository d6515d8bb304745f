package cluster

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "tidecast:cluster:"

// RedisRegistry is a Registry backed by Redis: each node's address is a
// key with its own TTL, and a per-vhost set tracks which node ids are
// currently live so Origins can enumerate without a key-space scan.
type RedisRegistry struct {
	client *redis.Client
}

// NewRedisRegistry wraps an already-configured *redis.Client.
func NewRedisRegistry(client *redis.Client) *RedisRegistry {
	return &RedisRegistry{client: client}
}

func nodeKey(vhost, id string) string { return fmt.Sprintf("%sorigin:%s:%s", keyPrefix, vhost, id) }
func membersKey(vhost string) string  { return fmt.Sprintf("%sorigins:%s", keyPrefix, vhost) }

// Register writes node's address under a TTL-bound key and adds its id to
// the vhost's membership set.
func (r *RedisRegistry) Register(ctx context.Context, node Node, ttl time.Duration) error {
	if node.ID == "" || node.Vhost == "" {
		return errors.New("cluster: node id and vhost are required")
	}
	pipe := r.client.Pipeline()
	pipe.Set(ctx, nodeKey(node.Vhost, node.ID), node.Addr, ttl)
	pipe.SAdd(ctx, membersKey(node.Vhost), node.ID)
	_, err := pipe.Exec(ctx)
	return err
}

// Deregister removes node id's address key and its membership entry.
func (r *RedisRegistry) Deregister(ctx context.Context, vhost, id string) error {
	pipe := r.client.Pipeline()
	pipe.Del(ctx, nodeKey(vhost, id))
	pipe.SRem(ctx, membersKey(vhost), id)
	_, err := pipe.Exec(ctx)
	return err
}

// Origins returns every node currently registered for vhost. A member
// whose address key has already expired is pruned from the membership
// set as it is encountered rather than surfaced as a node.
func (r *RedisRegistry) Origins(ctx context.Context, vhost string) ([]Node, error) {
	ids, err := r.client.SMembers(ctx, membersKey(vhost)).Result()
	if err != nil {
		return nil, err
	}
	var out []Node
	for _, id := range ids {
		addr, err := r.client.Get(ctx, nodeKey(vhost, id)).Result()
		if errors.Is(err, redis.Nil) {
			r.client.SRem(ctx, membersKey(vhost), id)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, Node{ID: id, Addr: addr, Vhost: vhost})
	}
	return out, nil
}
