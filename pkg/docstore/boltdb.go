package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketDocuments  = []byte("documents")
	bucketIndexSpecs = []byte("index_specs")
	indexBucketFmt   = "index:%s"
)

// BoltStore implements Store using BoltDB. Every Update runs in one write
// transaction, which provides the per-document CAS atomicity the allocator
// relies on. When a Vault is attached, document values are sealed at rest and
// index keys are blinded, so the database file never contains credential
// plaintext.
type BoltStore struct {
	db    *bolt.DB
	vault *Vault

	mu      sync.RWMutex
	indexes []indexSpec
}

// BoltOption configures a BoltStore.
type BoltOption func(*BoltStore)

// WithVault seals stored document values with the given vault.
func WithVault(v *Vault) BoltOption {
	return func(s *BoltStore) {
		s.vault = v
	}
}

// NewBoltStore opens (or creates) the document database in dataDir.
func NewBoltStore(dataDir string, opts ...BoltOption) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "veridex.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &BoltStore{db: db}
	for _, opt := range opts {
		opt(s)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketDocuments, bucketIndexSpecs} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		// Reload indexes registered by earlier runs.
		return tx.Bucket(bucketIndexSpecs).ForEach(func(k, v []byte) error {
			var spec indexSpec
			if err := json.Unmarshal(v, &spec); err != nil {
				return fmt.Errorf("failed to decode index spec %s: %w", k, err)
			}
			s.indexes = append(s.indexes, spec)
			return nil
		})
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Get returns the document with the given ID.
func (s *BoltStore) Get(ctx context.Context, id string) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var doc *Document
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketDocuments).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("document %s: %w", id, ErrNotFound)
		}
		var err error
		doc, err = s.decodeDocument(id, data)
		return err
	})
	return doc, err
}

// Find returns up to limit documents matching the equality constraints.
func (s *BoltStore) Find(ctx context.Context, equals map[string]string, limit int) ([]*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []*Document
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDocuments).ForEach(func(k, v []byte) error {
			if limit > 0 && len(out) == limit {
				return nil
			}
			doc, err := s.decodeDocument(string(k), v)
			if err != nil {
				return err
			}
			if matches(doc, equals) {
				out = append(out, doc)
			}
			return nil
		})
	})
	return out, err
}

// Update inserts or CAS-replaces the document.
func (s *BoltStore) Update(ctx context.Context, doc *Document) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	specs := append([]indexSpec(nil), s.indexes...)
	s.mu.RUnlock()

	stored := doc.Clone()
	stored.Sequence = doc.Sequence + 1

	err := s.db.Update(func(tx *bolt.Tx) error {
		docs := tx.Bucket(bucketDocuments)
		existingData := docs.Get([]byte(doc.ID))
		var existing *Document
		if existingData != nil {
			var err error
			existing, err = s.decodeDocument(doc.ID, existingData)
			if err != nil {
				return err
			}
		}

		if doc.Sequence == 0 {
			if existing != nil {
				return fmt.Errorf("document %s already exists: %w", doc.ID, ErrDuplicate)
			}
		} else {
			if existing == nil {
				return fmt.Errorf("document %s: %w", doc.ID, ErrNotFound)
			}
			if existing.Sequence != doc.Sequence {
				return fmt.Errorf(
					"document %s at sequence %d, update expected %d: %w",
					doc.ID, existing.Sequence, doc.Sequence, ErrConflict)
			}
		}

		for _, spec := range specs {
			if !spec.Unique {
				continue
			}
			bucket, err := tx.CreateBucketIfNotExists(s.indexBucketName(spec))
			if err != nil {
				return err
			}
			newKeys := s.blindKeys(uniqueKeys(stored, spec))
			for _, key := range newKeys {
				if owner := bucket.Get(key); owner != nil && string(owner) != doc.ID {
					return fmt.Errorf("index %s violated by document %s: %w",
						spec.name(), doc.ID, ErrDuplicate)
				}
			}
			if existing != nil {
				for _, key := range s.blindKeys(uniqueKeys(existing, spec)) {
					if string(bucket.Get(key)) == doc.ID {
						if err := bucket.Delete(key); err != nil {
							return err
						}
					}
				}
			}
			for _, key := range newKeys {
				if err := bucket.Put(key, []byte(doc.ID)); err != nil {
					return err
				}
			}
		}

		data, err := s.encodeDocument(stored)
		if err != nil {
			return err
		}
		return docs.Put([]byte(doc.ID), data)
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// Count returns the number of documents matching the equality constraints.
func (s *BoltStore) Count(ctx context.Context, equals map[string]string) (int, error) {
	docs, err := s.Find(ctx, equals, 0)
	if err != nil {
		return 0, err
	}
	return len(docs), nil
}

// GenerateID returns a fresh document ID.
func (s *BoltStore) GenerateID() string {
	return uuid.New().String()
}

// EnsureIndex registers and persists an index.
func (s *BoltStore) EnsureIndex(ctx context.Context, attributes []string, unique bool) error {
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
	err := s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(spec)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketIndexSpecs).Put([]byte(spec.name()), data); err != nil {
			return err
		}
		if spec.Unique {
			// Backfill from any documents written before registration.
			bucket, err := tx.CreateBucketIfNotExists(s.indexBucketName(spec))
			if err != nil {
				return err
			}
			return tx.Bucket(bucketDocuments).ForEach(func(k, v []byte) error {
				doc, err := s.decodeDocument(string(k), v)
				if err != nil {
					return err
				}
				for _, key := range s.blindKeys(uniqueKeys(doc, spec)) {
					if owner := bucket.Get(key); owner != nil && !bytes.Equal(owner, []byte(doc.ID)) {
						return fmt.Errorf("index %s violated by existing document %s: %w",
							spec.name(), doc.ID, ErrDuplicate)
					}
					if err := bucket.Put(key, []byte(doc.ID)); err != nil {
						return err
					}
				}
				return nil
			})
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.indexes = append(s.indexes, spec)
	return nil
}

func (s *BoltStore) indexBucketName(spec indexSpec) []byte {
	return []byte(fmt.Sprintf(indexBucketFmt, spec.name()))
}

func (s *BoltStore) encodeDocument(doc *Document) ([]byte, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal document %s: %w", doc.ID, err)
	}
	if s.vault != nil {
		return s.vault.Seal(doc.ID, data)
	}
	return data, nil
}

func (s *BoltStore) decodeDocument(id string, data []byte) (*Document, error) {
	if s.vault != nil {
		plaintext, err := s.vault.Open(id, data)
		if err != nil {
			return nil, err
		}
		data = plaintext
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal document: %w", err)
	}
	return &doc, nil
}

// blindKeys maps index keys through the vault's blinding HMAC when one is
// attached, so plaintext attribute values never appear as bucket keys.
func (s *BoltStore) blindKeys(keys []string) [][]byte {
	out := make([][]byte, 0, len(keys))
	for _, key := range keys {
		if s.vault != nil {
			out = append(out, s.vault.Blind(key))
		} else {
			out = append(out, []byte(key))
		}
	}
	return out
}
