package docstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// MemStore is an in-memory Store used by tests and local development. It
// provides the same CAS and unique-index semantics as BoltStore behind a
// single mutex, so concurrent workers observe each update atomically.
type MemStore struct {
	mu      sync.Mutex
	docs    map[string]*Document
	indexes []indexSpec
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{docs: make(map[string]*Document)}
}

// Get returns the document with the given ID.
func (s *MemStore) Get(ctx context.Context, id string) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[id]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	return doc.Clone(), nil
}

// Find returns up to limit documents matching the equality constraints.
func (s *MemStore) Find(ctx context.Context, equals map[string]string, limit int) ([]*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Document
	for _, doc := range s.docs {
		if matches(doc, equals) {
			out = append(out, doc.Clone())
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

// Update inserts or CAS-replaces the document.
func (s *MemStore) Update(ctx context.Context, doc *Document) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.docs[doc.ID]
	if doc.Sequence == 0 {
		if exists {
			return nil, fmt.Errorf("document %s already exists: %w", doc.ID, ErrDuplicate)
		}
	} else {
		if !exists {
			return nil, fmt.Errorf("document %s: %w", doc.ID, ErrNotFound)
		}
		if existing.Sequence != doc.Sequence {
			return nil, fmt.Errorf(
				"document %s at sequence %d, update expected %d: %w",
				doc.ID, existing.Sequence, doc.Sequence, ErrConflict)
		}
	}

	stored := doc.Clone()
	stored.Sequence = doc.Sequence + 1
	if err := s.checkUnique(stored); err != nil {
		return nil, err
	}
	s.docs[doc.ID] = stored
	return stored.Clone(), nil
}

// Count returns the number of documents matching the equality constraints.
func (s *MemStore) Count(ctx context.Context, equals map[string]string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, doc := range s.docs {
		if matches(doc, equals) {
			count++
		}
	}
	return count, nil
}

// GenerateID returns a fresh document ID.
func (s *MemStore) GenerateID() string {
	return uuid.New().String()
}

// EnsureIndex registers an index. Registering the same attribute set twice is
// a no-op.
func (s *MemStore) EnsureIndex(ctx context.Context, attributes []string, unique bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(attributes) == 0 {
		return fmt.Errorf("index requires at least one attribute")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	spec := indexSpec{Attributes: attributes, Unique: unique}
	for _, existing := range s.indexes {
		if existing.name() == spec.name() {
			return nil
		}
	}
	s.indexes = append(s.indexes, spec)
	return nil
}

// Close releases the store.
func (s *MemStore) Close() error {
	return nil
}

func (s *MemStore) checkUnique(candidate *Document) error {
	for _, spec := range s.indexes {
		if !spec.Unique {
			continue
		}
		keys := uniqueKeys(candidate, spec)
		if len(keys) == 0 {
			continue
		}
		keySet := make(map[string]struct{}, len(keys))
		for _, k := range keys {
			if _, dup := keySet[k]; dup {
				return fmt.Errorf("index %s violated within document %s: %w",
					spec.name(), candidate.ID, ErrDuplicate)
			}
			keySet[k] = struct{}{}
		}
		for id, other := range s.docs {
			if id == candidate.ID {
				continue
			}
			for _, k := range uniqueKeys(other, spec) {
				if _, hit := keySet[k]; hit {
					return fmt.Errorf("index %s violated by documents %s and %s: %w",
						spec.name(), candidate.ID, id, ErrDuplicate)
				}
			}
		}
	}
	return nil
}
