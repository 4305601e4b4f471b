package counter

import (
	"context"
	"strconv"

	"github.com/docsignal/DocSignal/internal/pkg/cache"
)

const (
	duplicateEventsKey = "webhook:counters:duplicates"
	poisonedEventsKey  = "webhook:counters:poisoned"
)

// AddDuplicateEvent increments the duplicate delivery counter for a source.
func AddDuplicateEvent(source string) {
	ctx := context.Background()
	cache.GetClient().HIncrBy(ctx, duplicateEventsKey, source, 1)
}

// AddPoisonedEvent increments the poisoned event counter for a source.
func AddPoisonedEvent(source string) {
	ctx := context.Background()
	cache.GetClient().HIncrBy(ctx, poisonedEventsKey, source, 1)
}

// DuplicateEvents returns per-source duplicate delivery counts.
func DuplicateEvents(ctx context.Context) (map[string]int64, error) {
	return readCounters(ctx, duplicateEventsKey)
}

// PoisonedEvents returns per-source poisoned event counts.
func PoisonedEvents(ctx context.Context) (map[string]int64, error) {
	return readCounters(ctx, poisonedEventsKey)
}

func readCounters(ctx context.Context, key string) (map[string]int64, error) {
	raw, err := cache.GetClient().HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(raw))
	for source, count := range raw {
		if n, err := strconv.ParseInt(count, 10, 64); err == nil {
			out[source] = n
		}
	}
	return out, nil
}
