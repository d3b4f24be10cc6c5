// Package ephemeral holds the shared short-lived state of the chat
// subsystem: presence, room membership and typing flags. Everything here
// carries a TTL and is best-effort; access control is never derived from it.
package ephemeral

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const opTimeout = 2 * time.Second

// OpKind enumerates the mutations a Batch can carry.
type OpKind int

const (
	OpSetValue OpKind = iota
	OpSetAdd
	OpSetRemove
	OpDelete
	OpExpire
)

// Op is one mutation inside an atomic batch.
type Op struct {
	Kind    OpKind
	Key     string
	Value   string
	Members []string
	TTL     time.Duration
}

// Store is the narrow contract over the shared key-value store. All
// multi-key mutations that must appear atomic go through Batch so a
// concurrent reader never observes a partial update.
type Store interface {
	GetValue(key string) (string, bool, error)
	SetValue(key, value string, ttl time.Duration) error
	Delete(keys ...string) error
	Expire(key string, ttl time.Duration) error

	SetMembers(key string) ([]string, error)
	IsSetMember(key, member string) (bool, error)
	Keys(pattern string) ([]string, error)

	Batch(ops ...Op) error

	Publish(channel string, payload []byte) error
	Subscribe(pattern string) *redis.PubSub
}

// RedisStore implements Store on a shared Redis instance, which makes the
// state visible to every server process.
type RedisStore struct {
	Client *redis.Client
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{Client: client}
}

func (s *RedisStore) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), opTimeout)
}

// GetValue reads a key; the second result is false when the key is absent.
func (s *RedisStore) GetValue(key string) (string, bool, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	val, err := s.Client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// SetValue writes a key with a TTL.
func (s *RedisStore) SetValue(key, value string, ttl time.Duration) error {
	ctx, cancel := s.ctx()
	defer cancel()
	return s.Client.Set(ctx, key, value, ttl).Err()
}

// Delete removes keys. Missing keys are not an error.
func (s *RedisStore) Delete(keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	ctx, cancel := s.ctx()
	defer cancel()
	return s.Client.Del(ctx, keys...).Err()
}

// Expire refreshes a key's TTL.
func (s *RedisStore) Expire(key string, ttl time.Duration) error {
	ctx, cancel := s.ctx()
	defer cancel()
	return s.Client.Expire(ctx, key, ttl).Err()
}

// SetMembers returns all members of a set; empty slice when absent.
func (s *RedisStore) SetMembers(key string) ([]string, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	return s.Client.SMembers(ctx, key).Result()
}

// IsSetMember reports set membership.
func (s *RedisStore) IsSetMember(key, member string) (bool, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	return s.Client.SIsMember(ctx, key, member).Result()
}

// Keys lists keys matching a pattern. Used only by the periodic sweep, not
// on the request hot path.
func (s *RedisStore) Keys(pattern string) ([]string, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	return s.Client.Keys(ctx, pattern).Result()
}

// Batch applies all ops in a single MULTI/EXEC transaction.
func (s *RedisStore) Batch(ops ...Op) error {
	if len(ops) == 0 {
		return nil
	}
	ctx, cancel := s.ctx()
	defer cancel()
	pipe := s.Client.TxPipeline()
	for _, op := range ops {
		switch op.Kind {
		case OpSetValue:
			pipe.Set(ctx, op.Key, op.Value, op.TTL)
		case OpSetAdd:
			members := make([]interface{}, len(op.Members))
			for i, m := range op.Members {
				members[i] = m
			}
			pipe.SAdd(ctx, op.Key, members...)
			if op.TTL > 0 {
				pipe.Expire(ctx, op.Key, op.TTL)
			}
		case OpSetRemove:
			members := make([]interface{}, len(op.Members))
			for i, m := range op.Members {
				members[i] = m
			}
			pipe.SRem(ctx, op.Key, members...)
		case OpDelete:
			pipe.Del(ctx, op.Key)
		case OpExpire:
			pipe.Expire(ctx, op.Key, op.TTL)
		}
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Publish fans a payload out to every subscribed process.
func (s *RedisStore) Publish(channel string, payload []byte) error {
	ctx, cancel := s.ctx()
	defer cancel()
	return s.Client.Publish(ctx, channel, payload).Err()
}

// Subscribe opens a pattern subscription. The caller owns the PubSub and
// must close it.
func (s *RedisStore) Subscribe(pattern string) *redis.PubSub {
	return s.Client.PSubscribe(context.Background(), pattern)
}
