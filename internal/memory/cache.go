package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const summaryKeyPrefix = "session_summary:"

// cachedSummary is the redis payload for a generated summary. Keyed by
// message count so a new turn invalidates naturally.
type cachedSummary struct {
	Summary   string   `json:"summary"`
	KeyTopics []string `json:"key_topics"`
}

// SummaryCache caches generated conversation summaries in Redis. All
// methods are safe on a nil receiver and degrade to cache misses: a
// summary must always be regenerable from messages alone.
type SummaryCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSummaryCache connects to Redis and verifies the connection.
func NewSummaryCache(ctx context.Context, host, port, password string, db int, ttl time.Duration) (*SummaryCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", host, port),
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &SummaryCache{client: client, ttl: ttl}, nil
}

func summaryKey(sessionID string, messageCount int) string {
	return fmt.Sprintf("%s%s:%d", summaryKeyPrefix, sessionID, messageCount)
}

// Get returns the cached summary for the session at the given message
// count, if present.
func (c *SummaryCache) Get(ctx context.Context, sessionID string, messageCount int) (cachedSummary, bool) {
	if c == nil || c.client == nil {
		return cachedSummary{}, false
	}
	val, err := c.client.Get(ctx, summaryKey(sessionID, messageCount)).Result()
	if err != nil {
		return cachedSummary{}, false
	}
	var cached cachedSummary
	if err := json.Unmarshal([]byte(val), &cached); err != nil {
		return cachedSummary{}, false
	}
	return cached, true
}

// Set stores the summary; failures are ignored since the cache is an
// optimization.
func (c *SummaryCache) Set(ctx context.Context, sessionID string, messageCount int, summary cachedSummary) {
	if c == nil || c.client == nil {
		return
	}
	data, err := json.Marshal(summary)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, summaryKey(sessionID, messageCount), data, c.ttl).Err()
}
