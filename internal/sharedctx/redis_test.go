package sharedctx

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/planrunner/internal/errors"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	opts, err := redis.ParseURL("redis://" + mr.Addr())
	require.NoError(t, err)
	client := redis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestNewRedis_Validation(t *testing.T) {
	_, client := setupTestRedis(t)

	_, err := NewRedis(nil, "inst")
	assert.Error(t, err)

	_, err = NewRedis(client, "")
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))
}

func TestRedis_PutGet(t *testing.T) {
	mr, client := setupTestRedis(t)
	ctx := context.Background()

	s, err := NewRedis(client, "inst-1", WithKeyPrefix("test"))
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, "extract", KindOutput, []byte("hello")))

	got, err := s.Get(ctx, "extract", KindOutput)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)

	raw, err := mr.Get("test:inst-1:extract:output")
	require.NoError(t, err)
	assert.Equal(t, "hello", raw)

	_, err = s.Get(ctx, "extract", "summary")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestRedis_KeysAreScopedToInstance(t *testing.T) {
	_, client := setupTestRedis(t)
	ctx := context.Background()

	first, err := NewRedis(client, "first")
	require.NoError(t, err)
	second, err := NewRedis(client, "second")
	require.NoError(t, err)

	require.NoError(t, first.Put(ctx, "b", KindOutput, []byte("1")))
	require.NoError(t, first.Put(ctx, "ns:a", KindOutput, []byte("2")))
	require.NoError(t, second.Put(ctx, "c", KindOutput, []byte("3")))

	keys, err := first.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Key{{"b", "output"}, {"ns:a", "output"}}, keys)

	_, err = second.Get(ctx, "b", KindOutput)
	assert.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, first.Clear(ctx))
	keys, err = first.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)

	keys, err = second.Keys(ctx)
	require.NoError(t, err)
	assert.Len(t, keys, 1)
}

func TestRedis_TTL(t *testing.T) {
	mr, client := setupTestRedis(t)
	ctx := context.Background()

	s, err := NewRedis(client, "inst", WithTTL(time.Minute))
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, "a", KindOutput, []byte("x")))

	assert.Equal(t, time.Minute, mr.TTL("planrunner:inst:a:output"))

	mr.FastForward(2 * time.Minute)
	_, err = s.Get(ctx, "a", KindOutput)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestRedis_InvalidKey(t *testing.T) {
	_, client := setupTestRedis(t)
	s, err := NewRedis(client, "inst")
	require.NoError(t, err)

	err = s.Put(context.Background(), "a", "bad:kind", nil)
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))
}
