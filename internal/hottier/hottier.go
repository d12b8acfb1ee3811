// Package hottier implements the optional local cache of recently
// downloaded artifacts a querier keeps on disk so repeated queries over
// the same hot range don't re-fetch from object storage every time.
package hottier

import (
	"container/list"
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/stratumlake/stratum/internal/objstore"
	"github.com/stratumlake/stratum/internal/router"
)

// DefaultMaxBytes is the default total size budget for cached artifacts.
const DefaultMaxBytes = 10 * 1024 * 1024 * 1024 // 10 GiB

// Tier is an LRU cache of artifact object keys to local file paths,
// evicting least-recently-used entries once the total cached size
// exceeds maxBytes.
type Tier struct {
	store objstore.Store
	dir   string

	mu       sync.Mutex
	maxBytes int64
	curBytes int64
	items    map[string]*list.Element // object key -> list element
	order    *list.List                // front = most recently used
}

type cacheEntry struct {
	key       string
	localPath string
	sizeBytes int64
}

// New creates a Tier that materializes cached artifacts under dir.
func New(store objstore.Store, dir string, maxBytes int64) (*Tier, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Tier{
		store:    store,
		dir:      dir,
		maxBytes: maxBytes,
		items:    make(map[string]*list.Element),
		order:    list.New(),
	}, nil
}

// Fetch returns a local path to key's contents, downloading it from the
// object store on a cache miss. On hit the entry is promoted to
// most-recently-used.
func (t *Tier) Fetch(ctx context.Context, key string) (string, error) {
	if path := t.get(key); path != "" {
		return path, nil
	}

	data, err := t.store.Get(ctx, key)
	if err != nil {
		return "", err
	}

	localPath := filepath.Join(t.dir, sanitize(key))
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(localPath, data, 0o644); err != nil {
		return "", err
	}

	t.put(key, localPath, int64(len(data)))
	return localPath, nil
}

func (t *Tier) get(key string) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	elem, ok := t.items[key]
	if !ok {
		return ""
	}
	entry := elem.Value.(*cacheEntry)

	info, err := os.Stat(entry.localPath)
	if err != nil || info.Size() != entry.sizeBytes {
		t.removeLocked(elem)
		return ""
	}

	t.order.MoveToFront(elem)
	return entry.localPath
}

func (t *Tier) put(key, localPath string, sizeBytes int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if elem, ok := t.items[key]; ok {
		old := elem.Value.(*cacheEntry)
		t.curBytes -= old.sizeBytes
		old.localPath = localPath
		old.sizeBytes = sizeBytes
		t.curBytes += sizeBytes
		t.order.MoveToFront(elem)
	} else {
		entry := &cacheEntry{key: key, localPath: localPath, sizeBytes: sizeBytes}
		elem := t.order.PushFront(entry)
		t.items[key] = elem
		t.curBytes += sizeBytes
	}

	for t.curBytes > t.maxBytes && t.order.Len() > 1 {
		t.evictOldestLocked()
	}
}

func (t *Tier) evictOldestLocked() {
	back := t.order.Back()
	if back == nil {
		return
	}
	t.removeLocked(back)
}

func (t *Tier) removeLocked(elem *list.Element) {
	entry := elem.Value.(*cacheEntry)
	t.order.Remove(elem)
	delete(t.items, entry.key)
	t.curBytes -= entry.sizeBytes
	os.Remove(entry.localPath)
}

// Evict drops key from the cache, if present, and removes its local file.
func (t *Tier) Evict(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if elem, ok := t.items[key]; ok {
		t.removeLocked(elem)
	}
}

// EvictStream drops every cached entry whose object key belongs to stream.
// Subscribed to router.StreamDeleted notifications.
func (t *Tier) EvictStream(stream string) {
	t.mu.Lock()
	var stale []*list.Element
	for key, elem := range t.items {
		if len(key) > len(stream) && key[:len(stream)+1] == stream+"/" {
			stale = append(stale, elem)
		}
	}
	for _, elem := range stale {
		t.removeLocked(elem)
	}
	t.mu.Unlock()
}

// Size returns the current total cached size in bytes.
func (t *Tier) Size() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.curBytes
}

// Len returns the number of cached entries.
func (t *Tier) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.items)
}

// Subscribe wires the tier to a notifier so a deleted stream's artifacts
// (router.StreamDeleted) are evicted without waiting for a natural LRU cycle.
func (t *Tier) Subscribe(n *router.Notifier) {
	ch := n.SubscribeAutoID()
	go func() {
		for notif := range ch {
			if notif.Type == router.StreamDeleted {
				t.EvictStream(notif.Stream)
			}
		}
	}()
}

func sanitize(key string) string {
	out := make([]byte, len(key))
	for i := 0; i < len(key); i++ {
		c := key[i]
		if c == '/' {
			out[i] = '_'
		} else {
			out[i] = c
		}
	}
	return string(out)
}
