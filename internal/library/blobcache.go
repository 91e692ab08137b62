package library

import (
	"sync"

	"github.com/google/uuid"
)

// blob cache key namespaces, one per blob collection.
const (
	blobKeyVideo     = "video/"
	blobKeyLessonTmb = "lesson-thumb/"
	blobKeyFigureTmb = "figure-thumb/"
)

// HandleCache maps stable blob ids to ephemeral in-memory handles. Handles
// are reference-counted per key: every Acquire must be paired with a Release
// or the payload stays pinned in memory. The cache is process-wide and must
// be cleared before any bulk replace of the underlying rows.
type HandleCache struct {
	mu       sync.Mutex
	entries  map[string]*handleEntry
	byHandle map[string]string
}

type handleEntry struct {
	url  string
	data []byte
	refs int
}

// NewHandleCache constructs an empty cache.
func NewHandleCache() *HandleCache {
	return &HandleCache{
		entries:  make(map[string]*handleEntry),
		byHandle: make(map[string]string),
	}
}

// Acquire returns the cached handle URL for key, loading the payload through
// load on a miss. Each call increments the key's reference count.
func (c *HandleCache) Acquire(key string, load func() ([]byte, error)) (string, error) {
	c.mu.Lock()
	if entry, ok := c.entries[key]; ok {
		entry.refs++
		url := entry.url
		c.mu.Unlock()
		return url, nil
	}
	c.mu.Unlock()

	data, err := load()
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.entries[key]; ok {
		// Another caller loaded the same key while we were reading.
		entry.refs++
		return entry.url, nil
	}
	entry := &handleEntry{
		url:  "mem://" + uuid.NewString(),
		data: data,
		refs: 1,
	}
	c.entries[key] = entry
	c.byHandle[entry.url] = key
	return entry.url, nil
}

// Release decrements the reference count for key and frees the handle when
// it reaches zero. Unknown keys are ignored.
func (c *HandleCache) Release(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(c.byHandle, entry.url)
		delete(c.entries, key)
	}
}

// Invalidate drops the handle for key regardless of outstanding references.
// Called before a blob is rewritten or deleted so stale payloads are never
// served to later readers.
func (c *HandleCache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return
	}
	delete(c.byHandle, entry.url)
	delete(c.entries, key)
}

// Bytes resolves a handle URL back to its payload.
func (c *HandleCache) Bytes(url string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key, ok := c.byHandle[url]
	if !ok {
		return nil, false
	}
	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	return entry.data, true
}

// Len reports the number of live handles.
func (c *HandleCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Clear frees every handle.
func (c *HandleCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*handleEntry)
	c.byHandle = make(map[string]string)
}
