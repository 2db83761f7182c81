package audit

import (
	"context"
	"sort"
	"sync"

	"github.com/mbd888/sentinel/internal/decision"
)

type historyKey struct {
	subject string
	surface decision.Surface
}

// MemoryStore is an in-memory Store for development and testing. Records are
// held encoded so callers never share state with the store.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string][]byte
	history map[historyKey][]string
	latest  map[historyKey][]byte
	at      map[historyKey]pointer
}

// NewMemoryStore creates a new in-memory audit store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string][]byte),
		history: make(map[historyKey][]string),
		latest:  make(map[historyKey][]byte),
		at:      make(map[historyKey]pointer),
	}
}

func (m *MemoryStore) Put(ctx context.Context, rec *Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := rec.Validate(); err != nil {
		return err
	}
	data, err := Encode(rec)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := historyKey{rec.SubjectID, rec.Surface}
	var cur *pointer
	if p, ok := m.at[key]; ok {
		cur = &p
	}
	move, err := advance(cur, rec)
	if err != nil {
		return err
	}
	if _, exists := m.records[rec.ID]; !exists {
		m.history[key] = append(m.history[key], rec.ID)
	}
	m.records[rec.ID] = data
	if move {
		m.latest[key] = data
		m.at[key] = pointerOf(rec)
	}
	return nil
}

func (m *MemoryStore) GetHistory(ctx context.Context, subjectID string, surface decision.Surface, limit int) ([]*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit = clampLimit(limit)

	m.mu.RLock()
	ids := m.history[historyKey{subjectID, surface}]
	out := make([]*Record, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		rec, err := Decode(m.records[ids[i]])
		if err != nil {
			m.mu.RUnlock()
			return nil, err
		}
		out = append(out, rec)
	}
	m.mu.RUnlock()

	// Newest first; later writes win ties.
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) Latest(ctx context.Context, subjectID string, surface decision.Surface) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	data, ok := m.latest[historyKey{subjectID, surface}]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return Decode(data)
}
