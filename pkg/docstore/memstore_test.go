package docstore

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testContent struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

func TestMemStoreInsertAndGet(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	doc, err := NewDocument("doc-1", testContent{ID: "alpha"}, map[string]any{"kind": "test"})
	require.NoError(t, err)

	stored, err := store.Update(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stored.Sequence)

	got, err := store.Get(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), got.Sequence)

	var content testContent
	require.NoError(t, got.DecodeContent(&content))
	assert.Equal(t, "alpha", content.ID)
}

func TestMemStoreGetNotFound(t *testing.T) {
	store := NewMemStore()
	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemStoreCAS(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	doc, err := NewDocument("doc-1", testContent{ID: "alpha"}, nil)
	require.NoError(t, err)
	stored, err := store.Update(ctx, doc)
	require.NoError(t, err)

	// Update at the current sequence succeeds.
	stored, err = store.Update(ctx, stored)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), stored.Sequence)

	// Replaying the old sequence conflicts.
	stale := stored.Clone()
	stale.Sequence = 1
	_, err = store.Update(ctx, stale)
	assert.ErrorIs(t, err, ErrConflict)

	// CAS on a missing document reports not found.
	ghost := stored.Clone()
	ghost.ID = "ghost"
	_, err = store.Update(ctx, ghost)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemStoreInsertDuplicateID(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	doc, err := NewDocument("doc-1", testContent{ID: "alpha"}, nil)
	require.NoError(t, err)
	_, err = store.Update(ctx, doc)
	require.NoError(t, err)

	again, err := NewDocument("doc-1", testContent{ID: "beta"}, nil)
	require.NoError(t, err)
	_, err = store.Update(ctx, again)
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestMemStoreUniqueIndex(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	require.NoError(t, store.EnsureIndex(ctx, []string{"content.id"}, true))

	a, err := NewDocument("doc-a", testContent{ID: "same"}, nil)
	require.NoError(t, err)
	_, err = store.Update(ctx, a)
	require.NoError(t, err)

	b, err := NewDocument("doc-b", testContent{ID: "same"}, nil)
	require.NoError(t, err)
	_, err = store.Update(ctx, b)
	assert.ErrorIs(t, err, ErrDuplicate)

	// A distinct value is fine.
	c, err := NewDocument("doc-c", testContent{ID: "other"}, nil)
	require.NoError(t, err)
	_, err = store.Update(ctx, c)
	assert.NoError(t, err)
}

func TestMemStoreCompoundUniqueIndex(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	require.NoError(t, store.EnsureIndex(ctx,
		[]string{"meta.blockAssignmentDocId", "meta.blockIndex"}, true))

	a, err := NewDocument("ia-1", testContent{}, map[string]any{
		"blockAssignmentDocId": "bad-1",
		"blockIndex":           3,
	})
	require.NoError(t, err)
	_, err = store.Update(ctx, a)
	require.NoError(t, err)

	// Same BAD, same block: duplicate.
	b, err := NewDocument("ia-2", testContent{}, map[string]any{
		"blockAssignmentDocId": "bad-1",
		"blockIndex":           3,
	})
	require.NoError(t, err)
	_, err = store.Update(ctx, b)
	assert.ErrorIs(t, err, ErrDuplicate)

	// Same BAD, different block: fine.
	c, err := NewDocument("ia-3", testContent{}, map[string]any{
		"blockAssignmentDocId": "bad-1",
		"blockIndex":           4,
	})
	require.NoError(t, err)
	_, err = store.Update(ctx, c)
	assert.NoError(t, err)
}

func TestMemStoreArrayIndexFanOut(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	require.NoError(t, store.EnsureIndex(ctx, []string{"meta.credentialStatus.id"}, true))

	a, err := NewDocument("vc-1", testContent{ID: "cred-1"}, map[string]any{
		"credentialStatus": []any{
			map[string]any{"id": "https://example.com/slc/1#0"},
			map[string]any{"id": "https://example.com/slc/2#0"},
		},
	})
	require.NoError(t, err)
	_, err = store.Update(ctx, a)
	require.NoError(t, err)

	// A second credential colliding on any one entry ID is rejected.
	b, err := NewDocument("vc-2", testContent{ID: "cred-2"}, map[string]any{
		"credentialStatus": []any{
			map[string]any{"id": "https://example.com/slc/2#0"},
		},
	})
	require.NoError(t, err)
	_, err = store.Update(ctx, b)
	assert.ErrorIs(t, err, ErrDuplicate)

	count, err := store.Count(ctx, map[string]string{
		"meta.credentialStatus.id": "https://example.com/slc/1#0",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMemStoreFind(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	for i := 0; i < 5; i++ {
		doc, err := NewDocument(fmt.Sprintf("doc-%d", i), testContent{ID: fmt.Sprintf("c-%d", i)},
			map[string]any{"type": "lm"})
		require.NoError(t, err)
		_, err = store.Update(ctx, doc)
		require.NoError(t, err)
	}

	docs, err := store.Find(ctx, map[string]string{"content.id": "c-3"}, 0)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "doc-3", docs[0].ID)

	docs, err = store.Find(ctx, map[string]string{"meta.type": "lm"}, 2)
	require.NoError(t, err)
	assert.Len(t, docs, 2)

	docs, err = store.Find(ctx, map[string]string{"content.id": "nope"}, 0)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestMemStoreConcurrentCAS(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	doc, err := NewDocument("counter", testContent{ID: "counter"}, nil)
	require.NoError(t, err)
	_, err = store.Update(ctx, doc)
	require.NoError(t, err)

	// Many workers race CAS updates; exactly one wins per sequence.
	const workers = 16
	var wg sync.WaitGroup
	wins := make(chan struct{}, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			current, err := store.Get(ctx, "counter")
			if err != nil {
				return
			}
			if _, err := store.Update(ctx, current); err == nil {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	won := 0
	for range wins {
		won++
	}
	require.GreaterOrEqual(t, won, 1)

	final, err := store.Get(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, uint64(1+won), final.Sequence)
}

func TestMemStoreContextCancelled(t *testing.T) {
	store := NewMemStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.Get(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
	_, err = store.Find(ctx, nil, 0)
	assert.ErrorIs(t, err, context.Canceled)
}
