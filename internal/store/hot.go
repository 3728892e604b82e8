package store

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"

	"mnemos/internal/logging"
	"mnemos/internal/record"
)

// Hot tier key layout:
//
//	record:full:<id>          gzip JSON document, TTL-bound
//	user:hot:<user_id>        sorted set of (id, influence)
//	tag:hot:<user_id>:<tag>   sorted set of (id, influence)
//	user:timeline:<user_id>   sorted set of (id, unix timestamp)
const (
	keyRecordFull   = "record:full:%s"
	keyUserHot      = "user:hot:%s"
	keyTagHot       = "tag:hot:%s:%s"
	keyUserTimeline = "user:timeline:%s"
)

// HotTier stores full documents and ranked per-user/per-tag indices in
// Redis. Bounded by TTL and per-user capacity; eviction drops the lowest
// influence first.
type HotTier struct {
	client   *redis.Client
	ttl      time.Duration
	capacity int
}

// NewHotTier connects to Redis and verifies the connection.
func NewHotTier(ctx context.Context, addr, password string, db int, ttl time.Duration, capacity int) (*HotTier, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("hot tier unreachable at %s: %w", addr, err)
	}
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	logging.Store("Hot tier connected: %s ttl=%v capacity=%d", addr, ttl, capacity)
	return &HotTier{client: client, ttl: ttl, capacity: capacity}, nil
}

// NewHotTierFromClient wraps an existing client (tests use miniredis).
func NewHotTierFromClient(client *redis.Client, ttl time.Duration, capacity int) *HotTier {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &HotTier{client: client, ttl: ttl, capacity: capacity}
}

// Put stores the full document and maintains the ranked indices.
func (h *HotTier) Put(ctx context.Context, r *record.Record) error {
	doc, err := compressRecord(r)
	if err != nil {
		return fmt.Errorf("failed to encode record %s: %w", r.ID, err)
	}

	pipe := h.client.TxPipeline()
	pipe.Set(ctx, fmt.Sprintf(keyRecordFull, r.ID), doc, h.ttl)
	pipe.ZAdd(ctx, fmt.Sprintf(keyUserHot, r.UserID), redis.Z{Score: r.Influence, Member: r.ID})
	pipe.ZAdd(ctx, fmt.Sprintf(keyUserTimeline, r.UserID), redis.Z{Score: float64(r.Timestamp.Unix()), Member: r.ID})
	for _, tag := range r.AllTags() {
		pipe.ZAdd(ctx, fmt.Sprintf(keyTagHot, r.UserID, tag), redis.Z{Score: r.Influence, Member: r.ID})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("hot put failed for %s: %w", r.ID, err)
	}

	if h.capacity > 0 {
		h.evictOverCapacity(ctx, r.UserID)
	}
	return nil
}

// evictOverCapacity trims the user's hot set to capacity, removing the
// lowest-influence documents.
func (h *HotTier) evictOverCapacity(ctx context.Context, userID string) {
	userKey := fmt.Sprintf(keyUserHot, userID)
	size, err := h.client.ZCard(ctx, userKey).Result()
	if err != nil || int(size) <= h.capacity {
		return
	}
	excess := int(size) - h.capacity
	victims, err := h.client.ZRange(ctx, userKey, 0, int64(excess-1)).Result()
	if err != nil {
		return
	}
	pipe := h.client.TxPipeline()
	for _, id := range victims {
		pipe.Del(ctx, fmt.Sprintf(keyRecordFull, id))
		pipe.ZRem(ctx, userKey, id)
		pipe.ZRem(ctx, fmt.Sprintf(keyUserTimeline, userID), id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		logging.StoreWarn("Hot eviction failed for user %s: %v", userID, err)
		return
	}
	logging.StoreDebug("Hot tier evicted %d records for user %s", len(victims), userID)
}

// Get fetches a full document by id.
func (h *HotTier) Get(ctx context.Context, id string) (*record.Record, error) {
	doc, err := h.client.Get(ctx, fmt.Sprintf(keyRecordFull, id)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return decompressRecord(doc)
}

// QueryByUserWeight returns ids ranked by influence descending, filtered by
// a minimum influence.
func (h *HotTier) QueryByUserWeight(ctx context.Context, userID string, limit int, minInfluence float64) ([]string, error) {
	if limit <= 0 {
		limit = 10
	}
	return h.client.ZRevRangeByScore(ctx, fmt.Sprintf(keyUserHot, userID), &redis.ZRangeBy{
		Min:   fmt.Sprintf("%f", minInfluence),
		Max:   "+inf",
		Count: int64(limit),
	}).Result()
}

// QueryByTag returns ids for a tag ranked by influence descending.
func (h *HotTier) QueryByTag(ctx context.Context, userID, tag string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 10
	}
	return h.client.ZRevRange(ctx, fmt.Sprintf(keyTagHot, userID, tag), 0, int64(limit-1)).Result()
}

// QueryByTimeRange returns ids whose event time falls inside [from, to].
func (h *HotTier) QueryByTimeRange(ctx context.Context, userID string, from, to time.Time) ([]string, error) {
	return h.client.ZRangeByScore(ctx, fmt.Sprintf(keyUserTimeline, userID), &redis.ZRangeBy{
		Min: fmt.Sprintf("%d", from.Unix()),
		Max: fmt.Sprintf("%d", to.Unix()),
	}).Result()
}

// Delete removes a record and its index entries.
func (h *HotTier) Delete(ctx context.Context, r *record.Record) error {
	pipe := h.client.TxPipeline()
	pipe.Del(ctx, fmt.Sprintf(keyRecordFull, r.ID))
	pipe.ZRem(ctx, fmt.Sprintf(keyUserHot, r.UserID), r.ID)
	pipe.ZRem(ctx, fmt.Sprintf(keyUserTimeline, r.UserID), r.ID)
	for _, tag := range r.AllTags() {
		pipe.ZRem(ctx, fmt.Sprintf(keyTagHot, r.UserID, tag), r.ID)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Close releases the Redis connection.
func (h *HotTier) Close() error { return h.client.Close() }

func compressRecord(r *record.Record) ([]byte, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(raw); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompressRecord(doc []byte) (*record.Record, error) {
	gz, err := gzip.NewReader(bytes.NewReader(doc))
	if err != nil {
		return nil, err
	}
	defer gz.Close()
	raw, err := io.ReadAll(gz)
	if err != nil {
		return nil, err
	}
	var r record.Record
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, err
	}
	return &r, nil
}
