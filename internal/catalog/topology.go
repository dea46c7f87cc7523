package catalog

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/nebulastream/nebulastream-sub040/internal/topology"
)

// TopologyCatalog persists node capacity history to Redis as one sorted
// set per node (scored by timestamp), and hydrates it into an in-memory
// topology.VersionedCatalog so VersionAt/Latest/Explain stay the cheap
// synchronous lookups placement needs. Capacity changes on every
// heartbeat, so this is written far more often than it's read backwards
// for an explanation, which the sorted set's O(log n) insert suits
// better than a relational table would.
type TopologyCatalog struct {
	redis       *redis.Client
	local       *topology.VersionedCatalog
	maxVersions int64
}

func NewTopologyCatalog(client *redis.Client, maxVersions int) *TopologyCatalog {
	return &TopologyCatalog{
		redis:       client,
		local:       topology.NewVersionedCatalog(maxVersions),
		maxVersions: int64(maxVersions),
	}
}

func capacityKey(id topology.NodeID) string {
	return fmt.Sprintf("nebulastream:topology:capacity:%d", id)
}

// RecordCapacity appends a capacity observation, updating both the Redis
// sorted set and the in-memory cache that serves reads.
func (c *TopologyCatalog) RecordCapacity(ctx context.Context, id topology.NodeID, timestamp int64, capacity uint32) error {
	c.local.Record(id, timestamp, capacity)

	key := capacityKey(id)
	member := fmt.Sprintf("%d@%d", capacity, timestamp)
	if err := c.redis.ZAdd(ctx, key, redis.Z{Score: float64(timestamp), Member: member}).Err(); err != nil {
		return fmt.Errorf("catalog: recording capacity for node %d: %w", id, err)
	}
	if err := c.redis.ZRemRangeByRank(ctx, key, 0, -c.maxVersions-1).Err(); err != nil {
		return fmt.Errorf("catalog: trimming capacity history for node %d: %w", id, err)
	}
	return nil
}

// Hydrate loads a node's persisted capacity history from Redis into the
// in-memory cache, used once at coordinator startup per node so restarts
// don't lose placement failure explanations for recent decisions.
func (c *TopologyCatalog) Hydrate(ctx context.Context, id topology.NodeID) error {
	entries, err := c.redis.ZRangeWithScores(ctx, capacityKey(id), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("catalog: loading capacity history for node %d: %w", id, err)
	}
	for _, z := range entries {
		member, ok := z.Member.(string)
		if !ok {
			continue
		}
		var capacity uint32
		var timestamp int64
		if _, err := fmt.Sscanf(member, "%d@%d", &capacity, &timestamp); err != nil {
			continue
		}
		c.local.Record(id, timestamp, capacity)
	}
	return nil
}

// VersionAt, Latest and Explain delegate to the in-memory cache: callers
// must Hydrate a node once before relying on history recorded by a
// previous process.
func (c *TopologyCatalog) VersionAt(id topology.NodeID, timestamp int64) (topology.CapacityVersion, bool) {
	return c.local.VersionAt(id, timestamp)
}

func (c *TopologyCatalog) Latest(id topology.NodeID) (topology.CapacityVersion, bool) {
	return c.local.Latest(id)
}

func (c *TopologyCatalog) Explain(id topology.NodeID, decisionTime int64, currentCapacity uint32) string {
	return c.local.Explain(id, decisionTime, currentCapacity)
}
