package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingOracle struct {
	mu         sync.Mutex
	text       int
	structured int
	err        error
}

func (c *countingOracle) Complete(_ context.Context, p TextPrompt) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.text++
	if c.err != nil {
		return "", c.err
	}
	return "tools for " + p.User, nil
}

func (c *countingOracle) CompleteStructured(_ context.Context, p StructuredPrompt) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.structured++
	if c.err != nil {
		return nil, c.err
	}
	return json.RawMessage(`{"topic":"` + p.User + `"}`), nil
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestCachedOracleHit(t *testing.T) {
	mr, rdb := newRedis(t)
	next := &countingOracle{}
	rec := &fakeRecorder{}
	c := NewCached(next, rdb, time.Hour, rec, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		out, err := c.Complete(ctx, TextPrompt{System: "s", User: "atoms"})
		require.NoError(t, err)
		assert.Equal(t, "tools for atoms", out)
	}
	assert.Equal(t, 1, next.text)
	assert.Len(t, rec.obs, 2)

	keys := mr.Keys()
	require.Len(t, keys, 1)
	assert.Equal(t, time.Hour, mr.TTL(keys[0]))

	_, err := c.Complete(ctx, TextPrompt{System: "s", User: "molecules"})
	require.NoError(t, err)
	assert.Equal(t, 2, next.text, "different prompt must miss")
}

func TestCachedOracleStructured(t *testing.T) {
	_, rdb := newRedis(t)
	next := &countingOracle{}
	c := NewCached(next, rdb, time.Minute, nil, nil)
	ctx := context.Background()
	p := StructuredPrompt{System: "s", Schema: json.RawMessage(`{"type":"object"}`), User: "cells"}

	first, err := c.CompleteStructured(ctx, p)
	require.NoError(t, err)
	second, err := c.CompleteStructured(ctx, p)
	require.NoError(t, err)
	assert.JSONEq(t, string(first), string(second))
	assert.Equal(t, 1, next.structured)

	p.Schema = json.RawMessage(`{"type":"object","required":["x"]}`)
	_, err = c.CompleteStructured(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, 2, next.structured, "schema is part of the key")
}

func TestCachedOracleDoesNotCacheErrors(t *testing.T) {
	mr, rdb := newRedis(t)
	next := &countingOracle{err: errors.New("backend down")}
	c := NewCached(next, rdb, time.Minute, nil, nil)

	for i := 0; i < 2; i++ {
		_, err := c.Complete(context.Background(), TextPrompt{User: "x"})
		require.Error(t, err)
	}
	assert.Equal(t, 2, next.text)
	assert.Empty(t, mr.Keys())
}

func TestCachedOracleBypassesRedisFailure(t *testing.T) {
	mr, rdb := newRedis(t)
	mr.SetError("ERR simulated outage")
	next := &countingOracle{}
	c := NewCached(next, rdb, time.Minute, nil, nil)

	out, err := c.Complete(context.Background(), TextPrompt{User: "x"})
	require.NoError(t, err)
	assert.Equal(t, "tools for x", out)
	_, err = c.Complete(context.Background(), TextPrompt{User: "x"})
	require.NoError(t, err)
	assert.Equal(t, 2, next.text)
}

func TestCacheKeyNoConcatenationCollision(t *testing.T) {
	assert.NotEqual(t, cacheKey(ShapeText, "ab", "c"), cacheKey(ShapeText, "a", "bc"))
	assert.NotEqual(t, cacheKey(ShapeText, "a"), cacheKey(ShapeStructured, "a"))
}
