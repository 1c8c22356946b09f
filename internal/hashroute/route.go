// Package hashroute pins correlation ids to worker shards so work for one
// correlation id is processed in arrival order.
package hashroute

import (
	"hash/fnv"
	"strings"
)

const ShardCount = 16

// CanonicalizeKey normalizes correlation ids before hashing.
func CanonicalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

func ShardFor(key string) int {
	return ShardForN(key, ShardCount)
}

// ShardForN maps key onto [0, n). n <= 0 is treated as 1.
func ShardForN(key string, n int) int {
	if n <= 1 {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(CanonicalizeKey(key)))
	return int(h.Sum64() % uint64(n))
}
