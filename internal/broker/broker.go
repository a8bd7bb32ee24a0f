// Package broker implements the typed schema over the key/value store:
// ordered streams, sets, TTL'd blobs, and hash metadata, all addressed
// through the colon-separated key layout in keys.go. It is the single
// synchronization substrate shared by the press reader, shuttle
// controller, camera agents, and image collector.
package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// DefaultMaxLen bounds every stream to roughly this many entries; trimming
// is approximate (~) so appends stay O(1) amortized.
const DefaultMaxLen = 1000

// DefaultFrameTTL is the shared lifetime of a frame blob, its metadata
// hash, and its photographed-set membership.
const DefaultFrameTTL = 60 * time.Second

// Broker wraps a redis.Client with the stream, set, blob, hash, and flag
// operations the coordination components share. It holds no line-specific
// state; every method takes the keys it needs.
type Broker struct {
	rdb *redis.Client
	log logrus.FieldLogger
}

// New wraps an already-configured redis.Client. Callers own the client's
// lifecycle (Close).
func New(rdb *redis.Client, log logrus.FieldLogger) *Broker {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Broker{rdb: rdb, log: log}
}

// Ping verifies connectivity at startup, where a transport failure is
// fatal rather than retried.
func (b *Broker) Ping(ctx context.Context) error {
	if err := b.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("broker: ping: %w", err)
	}
	return nil
}

func (b *Broker) Close() error {
	return b.rdb.Close()
}

// StreamEvent is one entry of an append-only stream.
type StreamEvent struct {
	ID     string
	Fields map[string]string
}

func decodeFields(raw map[string]interface{}) map[string]string {
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		out[k] = fmt.Sprintf("%v", v)
	}
	return out
}

// AppendStream appends fields to key, trimming it to roughly maxlen
// entries. maxlen<=0 uses DefaultMaxLen.
func (b *Broker) AppendStream(ctx context.Context, key string, fields map[string]interface{}, maxlen int64) (string, error) {
	if maxlen <= 0 {
		maxlen = DefaultMaxLen
	}
	id, err := b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		MaxLen: maxlen,
		Approx: true,
		Values: fields,
	}).Result()
	if err != nil {
		return "", fmt.Errorf("broker: append stream %q: %w", key, err)
	}
	return id, nil
}

// ErrStreamEmpty is returned by LatestStream when the stream has no
// entries yet.
var ErrStreamEmpty = errors.New("broker: stream is empty")

// LatestStream returns the last entry of key, or ErrStreamEmpty.
func (b *Broker) LatestStream(ctx context.Context, key string) (StreamEvent, error) {
	msgs, err := b.rdb.XRevRangeN(ctx, key, "+", "-", 1).Result()
	if err != nil {
		return StreamEvent{}, fmt.Errorf("broker: latest stream %q: %w", key, err)
	}
	if len(msgs) == 0 {
		return StreamEvent{}, ErrStreamEmpty
	}
	return StreamEvent{ID: msgs[0].ID, Fields: decodeFields(msgs[0].Values)}, nil
}

// Follower is a restartable, cancellation-friendly cursor over a stream:
// Next blocks up to blockMs for a new entry and returns (zero, true, nil)
// on timeout so the caller can check its stop signal without
// special-casing.
type Follower struct {
	b          *Broker
	key        string
	lastID     string
	blockMs    int64
	sentFirst  bool
	includeLst bool
}

// FollowStream returns a Follower over key. If includeLast is true, the
// first call to Next returns the stream's current last entry (if any)
// before waiting for new ones; otherwise the first call to Next pins the
// cursor to the stream's current last entry, so only entries appended after
// that are returned.
func (b *Broker) FollowStream(key string, blockMs int64, includeLast bool) *Follower {
	return &Follower{b: b, key: key, lastID: "$", blockMs: blockMs, includeLst: includeLast}
}

// Next returns the next stream entry. ok is false only when ctx is done.
// A (StreamEvent{}, true, nil) return with an empty ID means "no new
// message arrived within the block window" -- the caller should loop and
// re-check cancellation.
func (f *Follower) Next(ctx context.Context) (StreamEvent, bool, error) {
	if f.includeLst && !f.sentFirst {
		f.sentFirst = true
		latest, err := f.b.LatestStream(ctx, f.key)
		if err == nil {
			f.lastID = latest.ID
			return latest, true, nil
		}
		if !errors.Is(err, ErrStreamEmpty) {
			return StreamEvent{}, true, err
		}
		// stream empty: fall through and pin the cursor below
	} else if !f.sentFirst {
		f.sentFirst = true
	}

	if f.lastID == "$" {
		// Resolve "$" to a concrete ID once, so entries appended between two
		// XRead calls are not skipped.
		latest, err := f.b.LatestStream(ctx, f.key)
		switch {
		case err == nil:
			f.lastID = latest.ID
		case errors.Is(err, ErrStreamEmpty):
			f.lastID = "0-0"
		case ctx.Err() != nil:
			return StreamEvent{}, false, nil
		default:
			return StreamEvent{}, true, err
		}
	}

	select {
	case <-ctx.Done():
		return StreamEvent{}, false, nil
	default:
	}

	block := time.Duration(f.blockMs) * time.Millisecond
	if f.blockMs <= 0 {
		block = 0 // 0 blocks indefinitely in go-redis
	}

	res, err := f.b.rdb.XRead(ctx, &redis.XReadArgs{
		Streams: []string{f.key, f.lastID},
		Count:   1,
		Block:   block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		// timed out without a new message
		return StreamEvent{}, true, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return StreamEvent{}, false, nil
		}
		return StreamEvent{}, true, fmt.Errorf("broker: follow stream %q: %w", f.key, err)
	}
	for _, stream := range res {
		for _, msg := range stream.Messages {
			f.lastID = msg.ID
			return StreamEvent{ID: msg.ID, Fields: decodeFields(msg.Values)}, true, nil
		}
	}
	return StreamEvent{}, true, nil
}

// --- Sets -------------------------------------------------------------

func (b *Broker) SAdd(ctx context.Context, key string, members ...string) error {
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	if err := b.rdb.SAdd(ctx, key, args...).Err(); err != nil {
		return fmt.Errorf("broker: sadd %q: %w", key, err)
	}
	return nil
}

func (b *Broker) SRem(ctx context.Context, key string, members ...string) error {
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	if err := b.rdb.SRem(ctx, key, args...).Err(); err != nil {
		return fmt.Errorf("broker: srem %q: %w", key, err)
	}
	return nil
}

func (b *Broker) SMembers(ctx context.Context, key string) ([]string, error) {
	out, err := b.rdb.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("broker: smembers %q: %w", key, err)
	}
	return out, nil
}

func (b *Broker) SIsMember(ctx context.Context, key, member string) (bool, error) {
	ok, err := b.rdb.SIsMember(ctx, key, member).Result()
	if err != nil {
		return false, fmt.Errorf("broker: sismember %q: %w", key, err)
	}
	return ok, nil
}

func (b *Broker) SCard(ctx context.Context, key string) (int64, error) {
	n, err := b.rdb.SCard(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("broker: scard %q: %w", key, err)
	}
	return n, nil
}

// SDiff returns the members of the first set not present in any of the
// remaining sets (Redis SDIFF semantics).
func (b *Broker) SDiff(ctx context.Context, keys ...string) ([]string, error) {
	out, err := b.rdb.SDiff(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("broker: sdiff %v: %w", keys, err)
	}
	return out, nil
}

// --- Blobs & hashes -----------------------------------------------------

func (b *Broker) PutBlob(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if err := b.rdb.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("broker: put blob %q: %w", key, err)
	}
	return nil
}

func (b *Broker) GetBlob(ctx context.Context, key string) ([]byte, error) {
	data, err := b.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return nil, fmt.Errorf("broker: get blob %q: %w", key, err)
	}
	return data, nil
}

func (b *Broker) PutHash(ctx context.Context, key string, fields map[string]interface{}, ttl time.Duration) error {
	pipe := b.rdb.TxPipeline()
	pipe.HSet(ctx, key, fields)
	if ttl > 0 {
		pipe.PExpire(ctx, key, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("broker: put hash %q: %w", key, err)
	}
	return nil
}

func (b *Broker) GetHash(ctx context.Context, key string) (map[string]string, error) {
	out, err := b.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("broker: get hash %q: %w", key, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("broker: get hash %q: %w", key, redis.Nil)
	}
	return out, nil
}

// --- Boolean flags with optional TTL ------------------------------------

// SetFlag creates key's existence with an optional TTL (ttl<=0 means no
// expiry). Re-applying with no TTL clears any pending expiry.
func (b *Broker) SetFlag(ctx context.Context, key string, ttl time.Duration) error {
	if err := b.rdb.Set(ctx, key, 1, ttl).Err(); err != nil {
		return fmt.Errorf("broker: set flag %q: %w", key, err)
	}
	return nil
}

func (b *Broker) ClearFlag(ctx context.Context, key string) error {
	if err := b.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("broker: clear flag %q: %w", key, err)
	}
	return nil
}

// Exists reports whether key is currently set.
func (b *Broker) Exists(ctx context.Context, key string) (bool, error) {
	n, err := b.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("broker: exists %q: %w", key, err)
	}
	return n > 0, nil
}

// TTL returns the remaining time-to-live of key, or 0 with ok=false if the
// key has no expiry or doesn't exist.
func (b *Broker) TTL(ctx context.Context, key string) (d time.Duration, ok bool, err error) {
	d, err = b.rdb.TTL(ctx, key).Result()
	if err != nil {
		return 0, false, fmt.Errorf("broker: ttl %q: %w", key, err)
	}
	if d <= 0 {
		return 0, false, nil
	}
	return d, true, nil
}
