package oracle

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const cacheKeyPrefix = "tutorflow:oracle:"

// CachedOracle memoizes successful replies in Redis. Identical prompts at
// temperature 0 are expected to yield identical replies, so a hit skips the
// backend entirely. Redis failures are logged and never reach the caller.
type CachedOracle struct {
	next     Oracle
	rdb      redis.UniversalClient
	ttl      time.Duration
	recorder Recorder
	logger   *slog.Logger
}

func NewCached(next Oracle, rdb redis.UniversalClient, ttl time.Duration, recorder Recorder, logger *slog.Logger) *CachedOracle {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedOracle{next: next, rdb: rdb, ttl: ttl, recorder: recorder, logger: logger}
}

func (c *CachedOracle) Complete(ctx context.Context, p TextPrompt) (string, error) {
	key := cacheKey(ShapeText, p.System, p.User)
	if v, ok := c.get(ctx, ShapeText, key); ok {
		return v, nil
	}
	out, err := c.next.Complete(ctx, p)
	if err != nil {
		return "", err
	}
	c.set(ctx, key, out)
	return out, nil
}

func (c *CachedOracle) CompleteStructured(ctx context.Context, p StructuredPrompt) (json.RawMessage, error) {
	key := cacheKey(ShapeStructured, p.System, string(p.Schema), p.User)
	if v, ok := c.get(ctx, ShapeStructured, key); ok && json.Valid([]byte(v)) {
		return json.RawMessage(v), nil
	}
	out, err := c.next.CompleteStructured(ctx, p)
	if err != nil {
		return nil, err
	}
	c.set(ctx, key, string(out))
	return out, nil
}

func (c *CachedOracle) get(ctx context.Context, shape, key string) (string, bool) {
	start := time.Now()
	v, err := c.rdb.Get(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("oracle cache read failed", "err", err)
		}
		return "", false
	}
	if c.recorder != nil {
		c.recorder.ObserveOracle(shape, OutcomeCached, time.Since(start))
	}
	return v, true
}

func (c *CachedOracle) set(ctx context.Context, key, value string) {
	if err := c.rdb.Set(ctx, key, value, c.ttl).Err(); err != nil {
		c.logger.Warn("oracle cache write failed", "err", err)
	}
}

// cacheKey hashes the length-prefixed parts so that no two distinct part
// lists collide by concatenation.
func cacheKey(shape string, parts ...string) string {
	h := sha256.New()
	var n [8]byte
	for _, p := range parts {
		binary.BigEndian.PutUint64(n[:], uint64(len(p)))
		h.Write(n[:])
		h.Write([]byte(p))
	}
	return cacheKeyPrefix + shape + ":" + hex.EncodeToString(h.Sum(nil))
}
