package sharedctx

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Iron-Ham/planrunner/internal/errors"
)

// DefaultKeyPrefix is the key prefix used when none is configured.
const DefaultKeyPrefix = "planrunner"

// Redis is a Store backed by Redis. Each entry is a string key of the form
// <prefix>:<instance>:<producer>:<kind>, so entries of different plan
// instances never collide.
type Redis struct {
	client   redis.UniversalClient
	prefix   string
	instance string
	ttl      time.Duration
}

var _ Store = (*Redis)(nil)

// RedisOption configures a Redis store.
type RedisOption func(*Redis)

// WithKeyPrefix sets the key prefix. Defaults to DefaultKeyPrefix.
func WithKeyPrefix(prefix string) RedisOption {
	return func(r *Redis) {
		if prefix != "" {
			r.prefix = prefix
		}
	}
}

// WithTTL expires entries after ttl. Zero keeps them forever.
func WithTTL(ttl time.Duration) RedisOption {
	return func(r *Redis) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// NewRedis creates a store for one plan instance on client.
func NewRedis(client redis.UniversalClient, instanceID string, opts ...RedisOption) (*Redis, error) {
	if client == nil {
		return nil, errors.New("redis client is nil")
	}
	if instanceID == "" {
		return nil, errors.NewValidationError("instance id is required").WithField("instance_id")
	}
	r := &Redis{client: client, prefix: DefaultKeyPrefix, instance: instanceID}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func (r *Redis) base() string {
	return r.prefix + ":" + r.instance + ":"
}

func (r *Redis) key(producer, kind string) string {
	return r.base() + producer + ":" + kind
}

// Get returns the stored value.
func (r *Redis) Get(ctx context.Context, producer, kind string) ([]byte, error) {
	v, err := r.client.Get(ctx, r.key(producer, kind)).Bytes()
	if err == redis.Nil {
		return nil, notFound(producer, kind)
	}
	if err != nil {
		return nil, describe(Key{Producer: producer, Kind: kind}, err)
	}
	return v, nil
}

// Put stores value, refreshing the TTL when one is configured.
func (r *Redis) Put(ctx context.Context, producer, kind string, value []byte) error {
	if err := validateKey(producer, kind); err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.key(producer, kind), value, r.ttl).Err(); err != nil {
		return describe(Key{Producer: producer, Kind: kind}, err)
	}
	return nil
}

// Keys scans the instance's key space. The kind is the segment after the
// last ':' so producers may contain colons.
func (r *Redis) Keys(ctx context.Context) ([]Key, error) {
	base := r.base()
	keys := []Key{}
	iter := r.client.Scan(ctx, 0, escapePattern(base)+"*", 100).Iterator()
	for iter.Next(ctx) {
		rest := strings.TrimPrefix(iter.Val(), base)
		i := strings.LastIndex(rest, ":")
		if i <= 0 {
			continue
		}
		keys = append(keys, Key{Producer: rest[:i], Kind: rest[i+1:]})
	}
	if err := iter.Err(); err != nil {
		return nil, errors.Wrap(err, "scan shared context keys")
	}
	sortKeys(keys)
	return keys, nil
}

// Clear deletes every entry of the instance.
func (r *Redis) Clear(ctx context.Context) error {
	keys, err := r.Keys(ctx)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = r.key(k.Producer, k.Kind)
	}
	return r.client.Del(ctx, names...).Err()
}

// escapePattern escapes glob metacharacters for SCAN MATCH.
func escapePattern(s string) string {
	var b strings.Builder
	for _, c := range s {
		switch c {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(c)
	}
	return b.String()
}
