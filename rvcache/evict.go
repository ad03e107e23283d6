package rvcache

// InvalidateBlocks evicts least-recently-used, unreferenced, attached
// entries from the LRU list until BlocksInMemory is at or below the
// configured threshold, or until every remaining entry is referenced.
// invalidate is called once per evicted entry, with the cache lock not
// held, so it is free to call back into the cache (e.g. the plugin's
// ops.invalidate, which calls MarkOnDisk, or Remove). A threshold of 0 makes
// this a no-op — the "no LRU" configuration.
func (c *Cache[T]) InvalidateBlocks(invalidate func(T) error) error {
	if c.threshold == 0 {
		return nil
	}
	for {
		h, ok := c.lruCandidate()
		if !ok {
			return nil
		}
		if err := invalidate(h); err != nil {
			return err
		}
	}
}

// lruCandidate returns the least-recently-used attached, unreferenced
// entry, walking from the back of the LRU list, if BlocksInMemory is
// still above threshold. It does not remove anything itself; invalidate's
// callback is expected to do that via MarkOnDisk or Remove, both of which
// unlink the LRU element.
func (c *Cache[T]) lruCandidate() (h T, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.blocksInMemory <= c.threshold {
		var zero T
		return zero, false
	}
	for el := c.lru.Back(); el != nil; el = el.Prev() {
		cand := el.Value.(T)
		base := cand.Base()
		if base.refcount == 0 {
			return cand, true
		}
	}
	var zero T
	return zero, false
}

// MarkOnDisk demotes h to ON_DISK without removing it from the read
// cache's index: the entry stays findable by number but its buffer is
// considered stale until the next Find reloads it. Used by a plugin's
// ops.invalidate to implement eviction-without-forgetting for read-cache
// entries, as an alternative to outright Remove.
func (c *Cache[T]) MarkOnDisk(h T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	base := h.Base()
	base.setOnDisk(true)
	if base.lruElem != nil {
		c.lru.Remove(base.lruElem)
		base.lruElem = nil
	}
	if base.Attached() {
		c.blocksInMemory--
	}
}
