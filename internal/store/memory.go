package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore keeps documents in process. Reads return copies in insertion
// order.
type MemoryStore struct {
	mu    sync.RWMutex
	docs  map[Collection]map[string]Record
	order map[Collection][]string
	subs  map[Collection]map[int]func(Change)
	next  int
}

var (
	_ DocumentStore = (*MemoryStore)(nil)
	_ BulkCreator   = (*MemoryStore)(nil)
)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:  make(map[Collection]map[string]Record),
		order: make(map[Collection][]string),
		subs:  make(map[Collection]map[int]func(Change)),
	}
}

func (s *MemoryStore) GetAll(ctx context.Context, c Collection) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	docs := s.docs[c]
	out := make([]Record, 0, len(docs))
	for _, id := range s.order[c] {
		doc, ok := docs[id]
		if !ok {
			continue
		}
		rec := doc.Clone()
		rec[IDField] = id
		out = append(out, rec)
	}
	return out, nil
}

func (s *MemoryStore) Create(ctx context.Context, c Collection, data Record) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	id := data.ID()
	if id == "" {
		id = uuid.NewString()
	}

	s.mu.Lock()
	if s.docs[c] == nil {
		s.docs[c] = make(map[string]Record)
	}
	if _, exists := s.docs[c][id]; exists {
		s.mu.Unlock()
		return "", fmt.Errorf("document %s/%s already exists", c, id)
	}
	s.docs[c][id] = WithoutID(data)
	s.order[c] = append(s.order[c], id)
	s.mu.Unlock()

	s.notify(Change{Collection: c, ID: id, Op: OpCreate})
	return id, nil
}

// CreateMany inserts every record or, on a duplicate id, none of them.
func (s *MemoryStore) CreateMany(ctx context.Context, c Collection, records []Record) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ids := make([]string, len(records))
	s.mu.Lock()
	if s.docs[c] == nil {
		s.docs[c] = make(map[string]Record)
	}
	seen := make(map[string]bool, len(records))
	for i, rec := range records {
		id := rec.ID()
		if id == "" {
			id = uuid.NewString()
		}
		if _, exists := s.docs[c][id]; exists || seen[id] {
			s.mu.Unlock()
			return nil, fmt.Errorf("document %s/%s already exists", c, id)
		}
		seen[id] = true
		ids[i] = id
	}
	for i, rec := range records {
		s.docs[c][ids[i]] = WithoutID(rec)
		s.order[c] = append(s.order[c], ids[i])
	}
	s.mu.Unlock()

	for _, id := range ids {
		s.notify(Change{Collection: c, ID: id, Op: OpCreate})
	}
	return ids, nil
}

func (s *MemoryStore) Update(ctx context.Context, c Collection, id string, partial Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	doc, ok := s.docs[c][id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%s/%s: %w", c, id, ErrNotFound)
	}
	for k, v := range partial {
		if k == IDField {
			continue
		}
		doc[k] = v
	}
	s.mu.Unlock()

	s.notify(Change{Collection: c, ID: id, Op: OpUpdate})
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, c Collection, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if _, ok := s.docs[c][id]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("%s/%s: %w", c, id, ErrNotFound)
	}
	delete(s.docs[c], id)
	order := s.order[c]
	for i, existing := range order {
		if existing == id {
			s.order[c] = append(order[:i:i], order[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	s.notify(Change{Collection: c, ID: id, Op: OpDelete})
	return nil
}

// Subscribe registers fn for changes on c. Callbacks run synchronously on the
// writer's goroutine after the write is applied.
func (s *MemoryStore) Subscribe(ctx context.Context, c Collection, fn func(Change)) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.subs[c] == nil {
		s.subs[c] = make(map[int]func(Change))
	}
	key := s.next
	s.next++
	s.subs[c][key] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs[c], key)
			s.mu.Unlock()
		})
	}, nil
}

func (s *MemoryStore) notify(change Change) {
	s.mu.RLock()
	fns := make([]func(Change), 0, len(s.subs[change.Collection]))
	for _, fn := range s.subs[change.Collection] {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()

	for _, fn := range fns {
		fn(change)
	}
}

// Len returns the number of documents in c.
func (s *MemoryStore) Len(c Collection) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs[c])
}
