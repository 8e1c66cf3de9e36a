package docstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoltStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.EnsureIndex(ctx, []string{"content.id"}, true))

	doc, err := NewDocument(store.GenerateID(), testContent{ID: "alpha", Name: "first"},
		map[string]any{"type": "lm"})
	require.NoError(t, err)

	stored, err := store.Update(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stored.Sequence)

	got, err := store.Get(ctx, doc.ID)
	require.NoError(t, err)
	var content testContent
	require.NoError(t, got.DecodeContent(&content))
	assert.Equal(t, "first", content.Name)

	// Unique index enforced across inserts.
	dup, err := NewDocument(store.GenerateID(), testContent{ID: "alpha"}, nil)
	require.NoError(t, err)
	_, err = store.Update(ctx, dup)
	assert.ErrorIs(t, err, ErrDuplicate)

	// CAS semantics match MemStore.
	stale := stored.Clone()
	_, err = store.Update(ctx, stored)
	require.NoError(t, err)
	_, err = store.Update(ctx, stale)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestBoltStoreFindAndCount(t *testing.T) {
	ctx := context.Background()
	store, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	for _, id := range []string{"a", "b", "c"} {
		doc, err := NewDocument("doc-"+id, testContent{ID: id}, map[string]any{"type": "test"})
		require.NoError(t, err)
		_, err = store.Update(ctx, doc)
		require.NoError(t, err)
	}

	docs, err := store.Find(ctx, map[string]string{"content.id": "b"}, 0)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "doc-b", docs[0].ID)

	count, err := store.Count(ctx, map[string]string{"meta.type": "test"})
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestBoltStoreWithVault(t *testing.T) {
	ctx := context.Background()
	vault, err := NewVaultFromPassword("correct horse battery staple")
	require.NoError(t, err)

	store, err := NewBoltStore(t.TempDir(), WithVault(vault))
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.EnsureIndex(ctx, []string{"content.id"}, true))

	doc, err := NewDocument(store.GenerateID(), testContent{ID: "sealed"}, nil)
	require.NoError(t, err)
	_, err = store.Update(ctx, doc)
	require.NoError(t, err)

	got, err := store.Get(ctx, doc.ID)
	require.NoError(t, err)
	var content testContent
	require.NoError(t, got.DecodeContent(&content))
	assert.Equal(t, "sealed", content.ID)

	// Uniqueness still enforced through blinded keys.
	dup, err := NewDocument(store.GenerateID(), testContent{ID: "sealed"}, nil)
	require.NoError(t, err)
	_, err = store.Update(ctx, dup)
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestVaultSealOpen(t *testing.T) {
	vault, err := NewVaultFromPassword("pw")
	require.NoError(t, err)

	sealed, err := vault.Seal("doc-1", []byte("plaintext"))
	require.NoError(t, err)
	assert.NotEqual(t, []byte("plaintext"), sealed)

	opened, err := vault.Open("doc-1", sealed)
	require.NoError(t, err)
	assert.Equal(t, []byte("plaintext"), opened)

	// A sealed value cannot be replayed under another document ID.
	_, err = vault.Open("doc-2", sealed)
	assert.Error(t, err)

	// Tampering and truncation are detected.
	_, err = vault.Open("doc-1", sealed[:8])
	assert.Error(t, err)
	sealed[len(sealed)-1] ^= 0xff
	_, err = vault.Open("doc-1", sealed)
	assert.Error(t, err)

	// Blinding is deterministic per key.
	assert.Equal(t, vault.Blind("k"), vault.Blind("k"))
	assert.NotEqual(t, vault.Blind("k"), vault.Blind("k2"))
}

func TestVaultKeyValidation(t *testing.T) {
	_, err := NewVault(make([]byte, 16))
	assert.Error(t, err)
	_, err = NewVaultFromPassword("")
	assert.Error(t, err)
}
