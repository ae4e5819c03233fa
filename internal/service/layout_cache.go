package service

import (
	"fmt"
	"strings"
	"sync"
)

// layoutCache holds computed map-layout results keyed by a
// "novelID:chapterRangeHash" string, per spec §5. Consolidation or any
// structural edit to the world structure invalidates every entry for the
// affected novel; the actual layout computation (terrain placement,
// coordinates) is out of scope and lives above this package.
type layoutCache struct {
	mu      sync.Mutex
	entries map[string]any
}

func newLayoutCache() *layoutCache {
	return &layoutCache{entries: make(map[string]any)}
}

func layoutKey(novelID string, rangeHash string) string {
	return novelID + ":" + rangeHash
}

// Get returns a cached layout, if present.
func (c *layoutCache) Get(novelID, rangeHash string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[layoutKey(novelID, rangeHash)]
	return v, ok
}

// Put stores a computed layout.
func (c *layoutCache) Put(novelID, rangeHash string, layout any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[layoutKey(novelID, rangeHash)] = layout
}

// invalidateNovel drops every cached layout for a novel.
func (c *layoutCache) invalidateNovel(novelID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prefix := fmt.Sprintf("%s:", novelID)
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
		}
	}
}
