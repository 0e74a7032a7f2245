package db

import (
	"context"
	"scrollfeed/feed"
	"scrollfeed/media"
	"sync"
	"time"
)

// Marks is the read and saved state kept alongside a feed
type Marks interface {
	feed.ReadState
	feed.SavedState

	MarkRead(ctx context.Context, postID string) error
	UnmarkRead(ctx context.Context, postID string) error
	// ReadSet returns the subset of ids that are marked read
	ReadSet(ctx context.Context, ids []string) (map[string]bool, error)

	Save(ctx context.Context, id string, variant media.Variant) error
	Unsave(ctx context.Context, id string, variant media.Variant) error
	// SavedSet returns the subset of keys that are saved
	SavedSet(ctx context.Context, keys []media.Key) (map[media.Key]bool, error)
}

// MemoryMarks keeps marks in process memory
type MemoryMarks struct {
	mu    sync.RWMutex
	read  map[string]time.Time
	saved map[media.Key]time.Time
	now   func() time.Time
}

func NewMemoryMarks() *MemoryMarks {
	return &MemoryMarks{
		read:  make(map[string]time.Time),
		saved: make(map[media.Key]time.Time),
		now:   time.Now,
	}
}

func (m *MemoryMarks) MarkRead(_ context.Context, postID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.read[postID]; !ok {
		m.read[postID] = m.now()
	}
	return nil
}

func (m *MemoryMarks) UnmarkRead(_ context.Context, postID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.read, postID)
	return nil
}

func (m *MemoryMarks) IsRead(_ context.Context, postID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.read[postID]
	return ok, nil
}

func (m *MemoryMarks) ReadSet(_ context.Context, ids []string) (map[string]bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set := make(map[string]bool)
	for _, id := range ids {
		if _, ok := m.read[id]; ok {
			set[id] = true
		}
	}
	return set, nil
}

func (m *MemoryMarks) Save(_ context.Context, id string, variant media.Variant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := media.Key{Variant: variant, ID: id}
	if _, ok := m.saved[key]; !ok {
		m.saved[key] = m.now()
	}
	return nil
}

func (m *MemoryMarks) Unsave(_ context.Context, id string, variant media.Variant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.saved, media.Key{Variant: variant, ID: id})
	return nil
}

func (m *MemoryMarks) IsSaved(_ context.Context, id string, variant media.Variant) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.saved[media.Key{Variant: variant, ID: id}]
	return ok, nil
}

func (m *MemoryMarks) SavedSet(_ context.Context, keys []media.Key) (map[media.Key]bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set := make(map[media.Key]bool)
	for _, key := range keys {
		if _, ok := m.saved[key]; ok {
			set[key] = true
		}
	}
	return set, nil
}

// PruneRead drops read marks set before cutoff and returns how many went
func (m *MemoryMarks) PruneRead(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var pruned int64
	for id, markedAt := range m.read {
		if markedAt.Before(cutoff) {
			delete(m.read, id)
			pruned++
		}
	}
	return pruned, nil
}

var (
	_ Marks = (*MemoryMarks)(nil)
	_ Marks = (*DB)(nil)
)
