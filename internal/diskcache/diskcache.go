// Package diskcache implements the global disk-space-bounded LRU eviction
// list atop filecache payloads, per SPEC_FULL.md §4.4.
//
// The eviction watermark and MRU-reordering discipline are grounded on the
// teacher's internal/fuse/vfs.Cache. Unlike that cache there is no expiry
// phase and in-use objects are not skipped: eviction always drops the LRU
// tail. Here the unit of eviction is a whole cacheobj (one archive or codec
// index), not a byte range, per spec §4.4's "disk_usage" accounting.
package diskcache

import (
	"container/list"
	"sync"

	"github.com/layerfs/avfs/internal/avlog"
	"github.com/layerfs/avfs/internal/objref"
)

const (
	// DefaultLimit is the default disk_cache_limit (100 MiB), per spec §3.
	DefaultLimit = 100 * 1024 * 1024
	// DefaultKeepFree is the default disk_keep_free (10 MiB), per spec §3.
	DefaultKeepFree = 10 * 1024 * 1024
)

// FreeSpaceFunc reports free bytes on the filesystem backing the cache.
// NewManager's default reports a constant 1 TiB; Manager.SetFreeSpaceFunc
// replaces it (the tests do; avfsctl does not).
type FreeSpaceFunc func() int64

// Object is a disk-cache-managed wrapper around a payload: a reference to
// the payload, its current disk usage, a display name, and intrusive LRU
// links (held internally by the Manager's list).
type Object struct {
	payload   *objref.Box
	name      string
	diskUsage int64
	elem      *list.Element
}

// Name returns the object's display name.
func (o *Object) Name() string { return o.name }

// DiskUsage returns the object's current accounted disk usage.
func (o *Object) DiskUsage() int64 { return o.diskUsage }

// Manager is the process-wide disk cache manager: an MRU-first doubly
// linked list of Objects plus a disk_usage counter and the disk_cache_limit
// / disk_keep_free tunables, both settable live via the avfsstat control
// filesystem (SPEC_FULL.md §6).
type Manager struct {
	mu         sync.Mutex
	lru        *list.List // front = MRU, back = LRU
	diskUsage  int64
	limit      int64
	keepFree   int64
	freeSpace  FreeSpaceFunc
	forcedFull bool
}

// NewManager creates a Manager with the spec's default tunables.
func NewManager() *Manager {
	return &Manager{
		lru:       list.New(),
		limit:     DefaultLimit,
		keepFree:  DefaultKeepFree,
		freeSpace: func() int64 { return 1 << 40 }, // assume ample free space by default
	}
}

// SetFreeSpaceFunc overrides how the manager queries free space on the temp
// filesystem (used by disk_full()'s "treat tmp_free_bytes as 0" rule).
func (m *Manager) SetFreeSpaceFunc(f FreeSpaceFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.freeSpace = f
}

// SetLimit sets disk_cache_limit.
func (m *Manager) SetLimit(n int64) {
	m.mu.Lock()
	m.limit = n
	m.mu.Unlock()
	m.evict()
}

// Limit returns disk_cache_limit.
func (m *Manager) Limit() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.limit
}

// SetKeepFree sets disk_keep_free.
func (m *Manager) SetKeepFree(n int64) {
	m.mu.Lock()
	m.keepFree = n
	m.mu.Unlock()
	m.evict()
}

// KeepFree returns disk_keep_free.
func (m *Manager) KeepFree() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.keepFree
}

// Usage returns the current disk_usage.
func (m *Manager) Usage() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.diskUsage
}

// New wraps payload in a cacheobj, adds it to the MRU end, and runs
// eviction. payload's Box is ref'd; the ref drops when the object is
// evicted or explicitly removed.
func (m *Manager) New(payload *objref.Box, name string, diskUsage int64) *Object {
	payload.Ref()

	o := &Object{payload: payload, name: name, diskUsage: diskUsage}

	m.mu.Lock()
	o.elem = m.lru.PushFront(o)
	m.diskUsage += diskUsage
	m.mu.Unlock()

	m.evict()
	return o
}

// Get bumps o to the MRU end and runs eviction (an access is itself an
// eviction trigger per spec §4.4).
func (m *Manager) Get(o *Object) {
	m.mu.Lock()
	m.lru.MoveToFront(o.elem)
	m.mu.Unlock()
	m.evict()
}

// SetSize updates o's accounted disk usage and re-runs eviction.
func (m *Manager) SetSize(o *Object, n int64) {
	m.mu.Lock()
	m.diskUsage += n - o.diskUsage
	o.diskUsage = n
	m.mu.Unlock()
	m.evict()
}

// Remove explicitly drops o from the cache (used when a filecache entry is
// replaced because the base file changed).
func (m *Manager) Remove(o *Object) {
	m.mu.Lock()
	m.removeLocked(o)
	m.mu.Unlock()
}

func (m *Manager) removeLocked(o *Object) {
	if o.elem == nil {
		return
	}
	m.lru.Remove(o.elem)
	m.diskUsage -= o.diskUsage
	o.elem = nil
	o.payload.Unref()
}

// Clear empties the cache (the "cache/clear" avfsstat write, and
// cache_clear() in spec §8's testable properties).
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for e := m.lru.Front(); e != nil; {
		next := e.Next()
		o := e.Value.(*Object)
		m.removeLocked(o)
		e = next
	}
}

// MarkDiskFull is the disk_full() hint: forces eviction treating
// tmp_free_bytes as 0 until usage stops shrinking.
func (m *Manager) MarkDiskFull() {
	m.mu.Lock()
	m.forcedFull = true
	m.mu.Unlock()
	m.evict()
	m.mu.Lock()
	m.forcedFull = false
	m.mu.Unlock()
}

// evict runs the watermark in spec §4.4:
//
//	while disk_usage > min(limit, disk_usage - keepFree + freeSpace) { evict LRU tail }
func (m *Manager) evict() {
	for {
		m.mu.Lock()
		free := m.freeSpace()
		if m.forcedFull {
			free = 0
		}
		watermark := m.diskUsage - m.keepFree + free
		if watermark > m.limit {
			watermark = m.limit
		}
		if m.diskUsage <= watermark {
			m.mu.Unlock()
			return
		}

		back := m.lru.Back()
		if back == nil {
			m.mu.Unlock()
			return
		}
		o := back.Value.(*Object)
		m.removeLocked(o)
		m.mu.Unlock()

		avlog.Debug("diskcache: evicted", "name", o.Name(), "bytes", o.DiskUsage())
	}
}

// Len returns the number of live cache objects (test/diagnostic use).
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lru.Len()
}
