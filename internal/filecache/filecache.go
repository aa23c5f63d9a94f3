// Package filecache implements the keyed map from a canonicalized base-file
// path to a cached parsed object (archive, decoder), per SPEC_FULL.md §4.3.
//
// Payloads are held via objref.Box so that replacing or pruning a key
// releases the old payload's ref rather than freeing it outright; other
// holders (open vfiles) keep it alive until they drop their own ref.
package filecache

import (
	"container/list"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/layerfs/avfs/internal/objref"
)

// Payload is anything stored in the cache: it must carry its own ref Box so
// the cache's Set/Get participate in the same lifecycle discipline as every
// other cache-held object.
type Payload interface {
	Box() *objref.Box
}

type entry struct {
	key     string
	payload Payload
	elem    *list.Element
}

// Cache is a filecache instance. The zero value is not usable; use New.
type Cache struct {
	mu    sync.Mutex
	items map[string]*entry
	mru   *list.List // most-recently-used hint, not load bearing for correctness
	group singleflight.Group
}

// New creates an empty filecache.
func New() *Cache {
	return &Cache{
		items: make(map[string]*entry),
		mru:   list.New(),
	}
}

// Key forms the composite filecache key: canonical base path + "#" +
// handler name, so different handlers over the same base file never
// collide and paths resolving to the same base file share the parsed
// object, per spec §4.3.
func Key(basePath, handlerName string) string {
	return basePath + "#" + handlerName
}

// Set associates key with obj, taking a ref. Replacement is explicit: a
// prior value at key is unref'd.
func (c *Cache) Set(key string, obj Payload) {
	obj.Box().Ref()

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.items[key]; ok {
		c.mru.Remove(old.elem)
		old.payload.Box().Unref()
	}

	e := &entry{key: key, payload: obj}
	e.elem = c.mru.PushFront(e)
	c.items[key] = e
}

// Get returns a new ref to the object stored at key, or (nil, false) on
// miss. A stored entry whose payload was already destroyed elsewhere is
// pruned and reported as a miss.
func (c *Cache) Get(key string) (Payload, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok {
		return nil, false
	}
	if !e.payload.Box().Alive() {
		c.mru.Remove(e.elem)
		delete(c.items, key)
		return nil, false
	}

	e.payload.Box().Ref()
	c.mru.MoveToFront(e.elem)
	return e.payload, true
}

// GetOrLoad returns the cached payload at key, or calls load exactly once
// across concurrent callers racing on the same key (the singleflight
// dedup named in SPEC_FULL.md §5) and stores its result.
func (c *Cache) GetOrLoad(key string, load func() (Payload, error)) (Payload, error) {
	if p, ok := c.Get(key); ok {
		return p, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		if p, ok := c.Get(key); ok {
			return p, nil
		}
		p, err := load()
		if err != nil {
			return nil, err
		}
		c.Set(key, p)
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Payload), nil
}

// Delete removes key from the cache, unref'ing its payload, without
// affecting outstanding holders.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.items[key]; ok {
		c.mru.Remove(e.elem)
		delete(c.items, key)
		e.payload.Box().Unref()
	}
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
