// Package forward maps relay tags to the users whose messages carried them.
// The index lives in memory only; a restart forgets every tag.
package forward

import (
	"container/list"
	"errors"
	"sync"
	"time"
)

var ErrDuplicateTag = errors.New("tag already indexed")

// Record associates a tag with the originating user.
type Record struct {
	Tag    string
	UserID int64
	// GroupMessageID is the lobby message that carries the tag, 0 if unknown.
	GroupMessageID int64
	CreatedAt      time.Time
}

// Index is safe for concurrent use. With a positive capacity the oldest
// records are evicted first; zero means unbounded.
type Index struct {
	mu       sync.RWMutex
	byTag    map[string]*list.Element
	order    *list.List
	capacity int
}

func NewIndex(capacity int) *Index {
	if capacity < 0 {
		capacity = 0
	}
	return &Index{
		byTag:    make(map[string]*list.Element),
		order:    list.New(),
		capacity: capacity,
	}
}

// Put inserts rec. An existing tag is never overwritten.
func (x *Index) Put(rec Record) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if _, ok := x.byTag[rec.Tag]; ok {
		return ErrDuplicateTag
	}
	x.byTag[rec.Tag] = x.order.PushBack(rec)
	for x.capacity > 0 && x.order.Len() > x.capacity {
		oldest := x.order.Front()
		x.order.Remove(oldest)
		delete(x.byTag, oldest.Value.(Record).Tag)
	}
	return nil
}

// Get looks a tag up.
func (x *Index) Get(tag string) (Record, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	el, ok := x.byTag[tag]
	if !ok {
		return Record{}, false
	}
	return el.Value.(Record), true
}

// Has reports whether a tag is indexed.
func (x *Index) Has(tag string) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	_, ok := x.byTag[tag]
	return ok
}

// Len returns the number of records.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.order.Len()
}
