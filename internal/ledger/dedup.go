package ledger

import "container/list"

// betDedup is an LRU over resolved bet ids. A resubmitted bet id is rejected
// rather than re-resolved, extending exactly-once resolution across transport
// retries. Not thread-safe — only accessed under the ledger lock.
type betDedup struct {
	capacity int
	cache    map[string]*list.Element
	lruList  *list.List
}

type dedupEntry struct {
	key string
}

func newBetDedup(capacity int) *betDedup {
	return &betDedup{
		capacity: capacity,
		cache:    make(map[string]*list.Element, capacity),
		lruList:  list.New(),
	}
}

// Contains checks if key exists (promotes to front)
func (d *betDedup) Contains(key string) bool {
	elem, exists := d.cache[key]
	if exists {
		d.lruList.MoveToFront(elem)
		return true
	}
	return false
}

// Add inserts a key (or promotes if exists)
func (d *betDedup) Add(key string) {
	if elem, exists := d.cache[key]; exists {
		d.lruList.MoveToFront(elem)
		return
	}

	entry := &dedupEntry{key: key}
	elem := d.lruList.PushFront(entry)
	d.cache[key] = elem

	if d.lruList.Len() > d.capacity {
		d.evictOldest()
	}
}

// Remove drops a key, used when a resolved bet is rolled back.
func (d *betDedup) Remove(key string) {
	if elem, exists := d.cache[key]; exists {
		d.lruList.Remove(elem)
		delete(d.cache, key)
	}
}

func (d *betDedup) evictOldest() {
	elem := d.lruList.Back()
	if elem != nil {
		d.lruList.Remove(elem)
		entry := elem.Value.(*dedupEntry)
		delete(d.cache, entry.key)
	}
}

// Size returns the current number of entries
func (d *betDedup) Size() int {
	return d.lruList.Len()
}
