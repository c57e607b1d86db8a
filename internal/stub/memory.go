package stub

import (
	"context"
	"sync"
)

// MemoryStore keeps documents in memory. It backs MemoryOnly and Mmap spaces.
type MemoryStore struct {
	mu   sync.RWMutex
	ids  []string
	docs map[string]*Document
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]*Document)}
}

func (m *MemoryStore) Upsert(ctx context.Context, doc *Document) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := *doc
	if prev, ok := m.docs[doc.ID]; ok {
		stored.Version = prev.Version + 1
		m.docs[doc.ID] = &stored
		return stored.Version, false, nil
	}
	stored.Version = 1
	m.docs[doc.ID] = &stored
	m.ids = append(m.ids, doc.ID)
	return 1, true, nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return doc, nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[id]; !ok {
		return false, nil
	}
	delete(m.docs, id)
	for i, existing := range m.ids {
		if existing == id {
			m.ids = append(m.ids[:i], m.ids[i+1:]...)
			break
		}
	}
	return true, nil
}

func (m *MemoryStore) Each(ctx context.Context, fn func(*Document) error) error {
	m.mu.RLock()
	docs := make([]*Document, len(m.ids))
	for i, id := range m.ids {
		docs[i] = m.docs[id]
	}
	m.mu.RUnlock()
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(doc); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryStore) Count(ctx context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.docs)), nil
}

func (m *MemoryStore) Close() error {
	return nil
}
