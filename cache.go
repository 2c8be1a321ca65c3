package metastore

import (
	"encoding/binary"
	"math"
	"math/bits"
	"sync"

	"github.com/cespare/xxhash/v2"
)

const defaultCacheShards = 16

// cache is a sharded map safe for concurrent use. It only accelerates lookups;
// the backing store stays authoritative.
type cache[K comparable, V any] struct {
	shards []cacheShard[K, V]
	mask   uint64
	hash   func(K) uint64
}

type cacheShard[K comparable, V any] struct {
	mu sync.RWMutex
	m  map[K]V
}

func newCache[K comparable, V any](shards int, hash func(K) uint64) *cache[K, V] {
	if shards <= 0 {
		shards = defaultCacheShards
	}
	// round up to a power of two so a mask picks the shard
	shards = 1 << bits.Len(uint(shards-1))
	c := &cache[K, V]{
		shards: make([]cacheShard[K, V], shards),
		mask:   uint64(shards - 1),
		hash:   hash,
	}
	for i := range c.shards {
		c.shards[i].m = make(map[K]V)
	}
	return c
}

func (c *cache[K, V]) shard(k K) *cacheShard[K, V] {
	return &c.shards[c.hash(k)&c.mask]
}

func (c *cache[K, V]) get(k K) (V, bool) {
	s := c.shard(k)
	s.mu.RLock()
	v, ok := s.m[k]
	s.mu.RUnlock()
	return v, ok
}

func (c *cache[K, V]) put(k K, v V) {
	s := c.shard(k)
	s.mu.Lock()
	s.m[k] = v
	s.mu.Unlock()
}

func (c *cache[K, V]) clear() {
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		clear(s.m)
		s.mu.Unlock()
	}
}

func (c *cache[K, V]) len() int {
	var n int
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.RLock()
		n += len(s.m)
		s.mu.RUnlock()
	}
	return n
}

func hashString(s string) uint64 {
	return xxhash.Sum64String(s)
}

func hashInt(v int64) uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(v))
	return xxhash.Sum64(buf[:])
}

func hashValue(v Value) uint64 {
	var d xxhash.Digest
	d.Reset()
	var buf [9]byte
	buf[0] = byte(v.kind)
	if v.kind == KindNumber {
		binary.LittleEndian.PutUint64(buf[1:], math.Float64bits(v.n))
		d.Write(buf[:])
	} else {
		d.Write(buf[:1])
		d.WriteString(v.s)
	}
	return d.Sum64()
}
