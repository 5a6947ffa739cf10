package cache

import (
	"github.com/cespare/xxhash/v2"
	"github.com/cuemby/workloadcore/pkg/log"
)

// shardFor returns the index of the shard key maps to. It never panics:
// a recovered failure in the primary hash falls back to a documented
// deterministic position-weighted character sum.
func shardFor(key string, numShards int) (index int) {
	defer func() {
		if r := recover(); r != nil {
			log.Logger.Warn().Interface("panic", r).Str("key", key).Msg("cache: shard hash failed, using fallback")
			index = fallbackShard(key, numShards)
		}
	}()
	return int(xxhash.Sum64String(key) % uint64(numShards))
}

// fallbackShard sums each byte weighted by its 1-based position in the
// key, reduced modulo the shard count.
func fallbackShard(key string, numShards int) int {
	var sum int
	for i, b := range []byte(key) {
		sum += (i + 1) * int(b)
	}
	if sum < 0 {
		sum = -sum
	}
	return sum % numShards
}
