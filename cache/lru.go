// Package cache implements the size+count-bounded LRU cache with TTL and
// priority used for models/results/metadata (C9, spec §4.9), with a cuckoo
// filter as a negative-lookup pre-check in front of the LRU map (avoids
// paying a full map probe for keys known never to have been inserted).
/*
 * Copyright (c) 2024-2026, KEI-Stream Authors. All rights reserved.
 */
package cache

import (
	"container/list"
	"sync"
	"time"

	cuckoo "github.com/seiflotfy/cuckoofilter"
)

// Entry is one cached item's metadata, §4.9 set({ttl, priority, metadata}).
type Entry struct {
	Key       string
	Data      []byte
	Priority  int
	Metadata  map[string]string
	CreatedAt time.Time
	TTL       time.Duration
	size      int64
}

// Stats mirrors §4.9's reported cache statistics.
type Stats struct {
	Hits           uint64
	Misses         uint64
	Evictions      uint64
	HitRate        float64
	AvgRetrievalMs float64
}

type node struct {
	entry *Entry
}

// Cache is one named, bounded LRU (models/results/metadata each get one).
type Cache struct {
	mu         sync.Mutex
	name       string
	maxBytes   int64
	maxEntries int
	curBytes   int64

	ll    *list.List // front = most recently used
	items map[string]*list.Element

	negFilter *cuckoo.Filter

	hits, misses, evictions uint64
	totalRetrievalNs        int64
	retrievalSamples        uint64
}

func New(name string, maxBytes int64, maxEntries int) *Cache {
	return &Cache{
		name:       name,
		maxBytes:   maxBytes,
		maxEntries: maxEntries,
		ll:         list.New(),
		items:      map[string]*list.Element{},
		negFilter:  cuckoo.NewFilter(1024),
	}
}

// Get returns (data, true) on a live hit, updating LRU recency; otherwise
// (nil, false) — missing or TTL-expired entries both count as a miss (§4.9).
func (c *Cache) Get(key string) ([]byte, bool) {
	start := time.Now()
	c.mu.Lock()
	defer func() {
		c.totalRetrievalNs += time.Since(start).Nanoseconds()
		c.retrievalSamples++
		c.mu.Unlock()
	}()

	if !c.negFilter.Lookup([]byte(key)) {
		c.misses++
		return nil, false
	}

	el, ok := c.items[key]
	if !ok {
		c.misses++
		return nil, false
	}
	e := el.Value.(*node).entry
	if e.TTL > 0 && time.Since(e.CreatedAt) > e.TTL {
		c.removeElementLocked(el)
		c.misses++
		return nil, false
	}
	c.ll.MoveToFront(el)
	c.hits++
	return e.Data, true
}

// SetOpts mirrors §4.9's set({ttl, priority, metadata}) options.
type SetOpts struct {
	TTL      time.Duration
	Priority int
	Metadata map[string]string
}

// Set inserts or replaces key, evicting expired entries first, then
// least-recently-used ones until both size constraints hold (§4.9).
func (c *Cache) Set(key string, data []byte, opts SetOpts) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		old := el.Value.(*node).entry
		c.curBytes -= old.size
		c.ll.Remove(el)
		delete(c.items, key)
	}

	e := &Entry{
		Key: key, Data: data, Priority: opts.Priority, Metadata: opts.Metadata,
		CreatedAt: time.Now(), TTL: opts.TTL, size: int64(len(data)),
	}
	el := c.ll.PushFront(&node{entry: e})
	c.items[key] = el
	c.curBytes += e.size
	c.negFilter.InsertUnique([]byte(key))

	c.evictExpiredLocked()
	for (c.maxBytes > 0 && c.curBytes > c.maxBytes) || (c.maxEntries > 0 && len(c.items) > c.maxEntries) {
		back := c.ll.Back()
		if back == nil || back == el {
			break
		}
		c.removeElementLocked(back)
		c.evictions++
	}
}

func (c *Cache) evictExpiredLocked() {
	for e := c.ll.Back(); e != nil; {
		prev := e.Prev()
		n := e.Value.(*node).entry
		if n.TTL > 0 && time.Since(n.CreatedAt) > n.TTL {
			c.removeElementLocked(e)
			c.evictions++
		}
		e = prev
	}
}

func (c *Cache) removeElementLocked(el *list.Element) {
	e := el.Value.(*node).entry
	c.curBytes -= e.size
	c.ll.Remove(el)
	delete(c.items, e.Key)
}

// Clear drops all entries (§4.9).
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ll.Init()
	c.items = map[string]*list.Element{}
	c.curBytes = 0
	c.negFilter.Reset()
}

// Stats reports hit/miss/eviction counters (§4.9).
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := c.hits + c.misses
	var hitRate, avgMs float64
	if total > 0 {
		hitRate = float64(c.hits) / float64(total)
	}
	if c.retrievalSamples > 0 {
		avgMs = float64(c.totalRetrievalNs) / float64(c.retrievalSamples) / 1e6
	}
	return Stats{
		Hits: c.hits, Misses: c.misses, Evictions: c.evictions,
		HitRate: hitRate, AvgRetrievalMs: avgMs,
	}
}

// Len reports the current entry count — test/introspection helper.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Set of named caches (models/results/metadata), §4.9.
type Set struct {
	Models   *Cache
	Results  *Cache
	Metadata *Cache
}

func NewSet(modelsBytes, resultsBytes, metadataBytes int64, maxEntries int) *Set {
	return &Set{
		Models:   New("models", modelsBytes, maxEntries),
		Results:  New("results", resultsBytes, maxEntries),
		Metadata: New("metadata", metadataBytes, maxEntries),
	}
}
