package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreCache(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryStoreCache(2, time.Hour)

	_, ok := c.Get(ctx, "conway")
	assert.False(t, ok)

	c.Set(ctx, "conway", "fileSearchStores/conway")
	c.Set(ctx, "madison", "fileSearchStores/madison")
	id, ok := c.Get(ctx, "conway")
	assert.True(t, ok)
	assert.Equal(t, "fileSearchStores/conway", id)

	// madison is now least recently used
	c.Set(ctx, "eaton", "fileSearchStores/eaton")
	_, ok = c.Get(ctx, "madison")
	assert.False(t, ok)

	c.Invalidate(ctx, "conway")
	_, ok = c.Get(ctx, "conway")
	assert.False(t, ok)
}

func TestMemoryStoreCacheExpires(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryStoreCache(0, 10*time.Millisecond)
	c.Set(ctx, "conway", "fileSearchStores/conway")

	assert.Eventually(t, func() bool {
		_, ok := c.Get(ctx, "conway")
		return !ok
	}, time.Second, 5*time.Millisecond)
}

// fakeRedis answers GET/SET/DEL in process by short-circuiting the client's
// command pipeline; no connection is ever dialed.
type fakeRedis struct {
	mu   sync.Mutex
	vals map[string]string
	ttls map[string]time.Duration
	err  error
}

func newFakeRedisClient(t *testing.T) (*redis.Client, *fakeRedis) {
	t.Helper()
	fake := &fakeRedis{vals: map[string]string{}, ttls: map[string]time.Duration{}}
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	rdb.AddHook(fake)
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb, fake
}

func (f *fakeRedis) DialHook(next redis.DialHook) redis.DialHook { return next }

func (f *fakeRedis) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

func (f *fakeRedis) ProcessHook(redis.ProcessHook) redis.ProcessHook {
	return func(_ context.Context, cmd redis.Cmder) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.err != nil {
			return f.err
		}
		args := cmd.Args()
		key := fmt.Sprint(args[1])
		switch c := cmd.(type) {
		case *redis.StringCmd:
			val, ok := f.vals[key]
			if !ok {
				return redis.Nil
			}
			c.SetVal(val)
		case *redis.StatusCmd:
			f.vals[key] = fmt.Sprint(args[2])
			if len(args) >= 5 && args[3] == "ex" {
				f.ttls[key] = time.Duration(args[4].(int64)) * time.Second
			}
			c.SetVal("OK")
		case *redis.IntCmd:
			_, ok := f.vals[key]
			delete(f.vals, key)
			delete(f.ttls, key)
			if ok {
				c.SetVal(1)
			}
		default:
			return fmt.Errorf("unexpected command %s", cmd.Name())
		}
		return nil
	}
}

func TestRedisStoreCacheRoundTripWithTTL(t *testing.T) {
	ctx := context.Background()
	rdb, fake := newFakeRedisClient(t)
	c := NewRedisStoreCache(rdb, 6*time.Hour, discardLogger())

	_, ok := c.Get(ctx, "conway")
	assert.False(t, ok)

	c.Set(ctx, "conway", "fileSearchStores/conway")
	id, ok := c.Get(ctx, "conway")
	require.True(t, ok)
	assert.Equal(t, "fileSearchStores/conway", id)
	assert.Equal(t, 6*time.Hour, fake.ttls[storeCachePrefix+"conway"])

	c.Invalidate(ctx, "conway")
	_, ok = c.Get(ctx, "conway")
	assert.False(t, ok)
}

func TestRedisStoreCacheErrorsAreMisses(t *testing.T) {
	ctx := context.Background()
	rdb, fake := newFakeRedisClient(t)
	c := NewRedisStoreCache(rdb, time.Hour, discardLogger())
	c.Set(ctx, "madison", "fileSearchStores/madison")

	fake.err = errors.New("connection reset by peer")
	_, ok := c.Get(ctx, "madison")
	assert.False(t, ok)
	c.Set(ctx, "eaton", "fileSearchStores/eaton")
	c.Invalidate(ctx, "madison")

	fake.err = nil
	_, ok = c.Get(ctx, "eaton")
	assert.False(t, ok, "a failed write leaves nothing behind")
	id, ok := c.Get(ctx, "madison")
	assert.True(t, ok, "a failed invalidate leaves the entry")
	assert.Equal(t, "fileSearchStores/madison", id)
}
