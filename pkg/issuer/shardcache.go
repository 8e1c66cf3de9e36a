package issuer

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/credon/veridex/pkg/allocator"
)

const (
	// maxShardQueues bounds how many allocators keep a reuse queue in this
	// process.
	maxShardQueues = 1000
	// maxShardQueueSize bounds the shards parked per allocator.
	maxShardQueueSize = 10
)

// ShardCache is the process-wide pool of reusable shards, keyed by
// indexAllocator. Reuse lets the hot issuance path skip a full GetShard.
// Eviction is purely memory control: a dropped shard's truth lives in the
// document store, so nothing is lost beyond a cache hit.
type ShardCache struct {
	queues *lru.Cache[string, *shardQueue]
}

type shardQueue struct {
	mu     sync.Mutex
	shards []*allocator.Shard
}

// NewShardCache creates the cache. One instance is shared by every writer in
// the process.
func NewShardCache() (*ShardCache, error) {
	queues, err := lru.New[string, *shardQueue](maxShardQueues)
	if err != nil {
		return nil, err
	}
	return &ShardCache{queues: queues}, nil
}

// Pop removes and returns a reusable shard for the allocator, or nil.
func (c *ShardCache) Pop(allocatorID string) *allocator.Shard {
	queue, ok := c.queues.Get(allocatorID)
	if !ok {
		return nil
	}
	queue.mu.Lock()
	defer queue.mu.Unlock()
	if len(queue.shards) == 0 {
		return nil
	}
	shard := queue.shards[len(queue.shards)-1]
	queue.shards = queue.shards[:len(queue.shards)-1]
	return shard
}

// Push parks a shard for reuse. A full queue drops the shard.
func (c *ShardCache) Push(allocatorID string, shard *allocator.Shard) {
	queue, ok := c.queues.Get(allocatorID)
	if !ok {
		queue = &shardQueue{}
		if existing, found, _ := c.queues.PeekOrAdd(allocatorID, queue); found {
			queue = existing
		}
	}
	queue.mu.Lock()
	defer queue.mu.Unlock()
	if len(queue.shards) >= maxShardQueueSize {
		return
	}
	queue.shards = append(queue.shards, shard)
}
