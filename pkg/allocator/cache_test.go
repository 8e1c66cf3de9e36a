package allocator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/credon/veridex/pkg/bitstring"
	"github.com/credon/veridex/pkg/docstore"
	"github.com/credon/veridex/pkg/types"
)

func testListConfig() *types.ListConfig {
	return &types.ListConfig{
		IndexAllocator: "2f37ab21-07c4-4af3-9c8f-9b4c86c93b26",
		Type:           types.ListTypeStatusList2021,
		StatusPurpose:  types.StatusPurposeRevocation,
		BlockCount:     8,
		BlockSize:      4,
	}
}

func mustPopulate(t *testing.T, store docstore.Store, cfg *types.ListConfig,
	items []*types.ListItem, randInt func(int) int) *IndexAllocationCache {
	t.Helper()
	cache := NewIndexAllocationCache(store, cfg, randInt)
	require.NoError(t, cache.Populate(context.Background(), items))
	return cache
}

func TestPopulateCreatesBlockAssignmentDocs(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemStore()
	cfg := testListConfig()
	item := &types.ListItem{
		BlockAssignmentDocID: store.GenerateID(),
		StatusListCredential: "https://example.com/slcs/1",
		SLSequence:           1,
	}

	cache := mustPopulate(t, store, cfg, []*types.ListItem{item}, nil)
	require.Equal(t, 1, cache.Len())
	assert.False(t, cache.OutOfSync())

	rec := cache.Records()[0]
	assert.Equal(t, uint64(1), rec.BlockAssignment.SLSequence)
	assert.Equal(t, cfg.BlockCount, rec.BlockAssignment.BlockCount)
	assert.Equal(t, 0, rec.BlockAssignment.AssignedBlockCount)

	// The document was persisted with the item's ID.
	doc, err := store.Get(ctx, item.BlockAssignmentDocID)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), doc.Sequence)

	// Repopulating reads rather than recreates.
	again := mustPopulate(t, store, cfg, []*types.ListItem{item}, nil)
	assert.Equal(t, doc.Sequence, again.Records()[0].Doc.Sequence)
}

func TestSyncCacheRecordResetsStaleDoc(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemStore()
	cfg := testListConfig()
	item := &types.ListItem{BlockAssignmentDocID: store.GenerateID(), SLSequence: 1}

	// Create the doc at sequence 1 with some assignments, then advance the
	// item to generation 2 as a reactivation would.
	cache := mustPopulate(t, store, cfg, []*types.ListItem{item}, nil)
	rec := cache.Records()[0]
	require.NoError(t, cache.markBlockAssigned(ctx, rec, 3))

	item.SLSequence = 2
	resynced := mustPopulate(t, store, cfg, []*types.ListItem{item}, nil)
	rec = resynced.Records()[0]
	assert.False(t, resynced.OutOfSync())
	assert.Equal(t, uint64(2), rec.BlockAssignment.SLSequence)
	assert.Equal(t, 0, rec.BlockAssignment.AssignedBlockCount)

	bits, err := bitstring.Decode(rec.BlockAssignment.AssignedBlocks)
	require.NoError(t, err)
	assert.Equal(t, 0, bits.OnesCount())
}

func TestOutOfSyncWhenDocAhead(t *testing.T) {
	store := docstore.NewMemStore()
	cfg := testListConfig()
	item := &types.ListItem{BlockAssignmentDocID: store.GenerateID(), SLSequence: 3}

	// Doc lands at generation 3; a reader holding an older item view is
	// stale and must reread the list management document.
	mustPopulate(t, store, cfg, []*types.ListItem{item}, nil)
	stale := &types.ListItem{BlockAssignmentDocID: item.BlockAssignmentDocID, SLSequence: 2}
	cache := mustPopulate(t, store, cfg, []*types.ListItem{stale}, nil)
	assert.True(t, cache.OutOfSync())
}

func TestRotateMovesFullyAssigned(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemStore()
	cfg := testListConfig()

	full := &types.ListItem{BlockAssignmentDocID: store.GenerateID(), SLSequence: 1}
	partial := &types.ListItem{BlockAssignmentDocID: store.GenerateID(), SLSequence: 2}
	sets := &types.BlockAssignmentSets{Active: []*types.ListItem{full, partial}}

	cache := mustPopulate(t, store, cfg, sets.Active, nil)
	for _, rec := range cache.Records() {
		if rec.Item == full {
			for i := 0; i < cfg.BlockCount; i++ {
				require.NoError(t, cache.markBlockAssigned(ctx, rec, i))
			}
		}
	}

	rotated := cache.Rotate(sets)
	require.Len(t, rotated, 1)
	assert.Equal(t, full, rotated[0].Item)
	assert.Equal(t, []*types.ListItem{partial}, sets.Active)
	assert.Equal(t, []*types.ListItem{full}, sets.Inactive)
	assert.Equal(t, 1, cache.Len())

	// Nothing left to rotate.
	assert.Nil(t, cache.Rotate(sets))
}

func TestSelectShardFreshBlock(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemStore()
	cfg := testListConfig()
	item := &types.ListItem{
		BlockAssignmentDocID: store.GenerateID(),
		StatusListCredential: "https://example.com/slcs/1",
		SLSequence:           1,
	}

	// Pin the choice to block 5.
	cache := mustPopulate(t, store, cfg, []*types.ListItem{item}, func(n int) int {
		require.Equal(t, cfg.BlockCount, n)
		return 5
	})

	shard, err := cache.SelectShard(ctx)
	require.NoError(t, err)
	require.NotNil(t, shard)
	assert.Equal(t, 5, shard.BlockIndex)
	assert.Equal(t, 0, shard.IndexAssignment.NextLocalIndex)
	assert.Equal(t, uint64(1), shard.IndexAssignment.SLSequence)
	assert.Equal(t, item, shard.Item)
	assert.Equal(t, int64(20), shard.NextStatusListIndex())

	// The cursor document is persisted under the compound key; selecting the
	// same block again reuses it.
	docs, err := store.Find(ctx, map[string]string{
		"meta.blockAssignmentDocId": item.BlockAssignmentDocID,
		"meta.blockIndex":           "5",
	}, 0)
	require.NoError(t, err)
	require.Len(t, docs, 1)

	again, err := cache.SelectShard(ctx)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, docs[0].ID, again.IndexAssignmentDoc.ID)
}

func TestSelectShardSkipsAssignedBlocks(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemStore()
	cfg := testListConfig()
	item := &types.ListItem{BlockAssignmentDocID: store.GenerateID(), SLSequence: 1}

	cache := mustPopulate(t, store, cfg, []*types.ListItem{item}, func(n int) int {
		// Choice 0 over the unassigned blocks.
		return 0
	})
	// Assign blocks 0 and 1; choice 0 must land on block 2.
	rec := cache.Records()[0]
	require.NoError(t, cache.markBlockAssigned(ctx, rec, 0))
	require.NoError(t, cache.markBlockAssigned(ctx, rec, 1))

	shard, err := cache.SelectShard(ctx)
	require.NoError(t, err)
	require.NotNil(t, shard)
	assert.Equal(t, 2, shard.BlockIndex)
}

func TestSelectShardFullBlockMarksAndReturnsNil(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemStore()
	cfg := testListConfig()
	item := &types.ListItem{BlockAssignmentDocID: store.GenerateID(), SLSequence: 1}

	cache := mustPopulate(t, store, cfg, []*types.ListItem{item}, func(n int) int { return 0 })
	rec := cache.Records()[0]

	// Exhaust block 0's cursor directly.
	shard, err := cache.SelectShard(ctx)
	require.NoError(t, err)
	require.NotNil(t, shard)
	content := shard.IndexAssignment
	content.NextLocalIndex = cfg.BlockSize
	doc := shard.IndexAssignmentDoc.Clone()
	require.NoError(t, doc.SetContent(content))
	_, err = store.Update(ctx, doc)
	require.NoError(t, err)

	// Selection now detects the full block, records it and yields nil.
	shard, err = cache.SelectShard(ctx)
	require.NoError(t, err)
	assert.Nil(t, shard)
	assert.Equal(t, 1, rec.BlockAssignment.AssignedBlockCount)

	stored, err := store.Get(ctx, rec.Doc.ID)
	require.NoError(t, err)
	persisted := new(types.BlockAssignmentContent)
	require.NoError(t, stored.DecodeContent(persisted))
	assert.Equal(t, 1, persisted.AssignedBlockCount)

	bits, err := bitstring.Decode(persisted.AssignedBlocks)
	require.NoError(t, err)
	set, err := bits.Get(0)
	require.NoError(t, err)
	assert.True(t, set)
	assert.Equal(t, persisted.AssignedBlockCount, bits.OnesCount())
}

func TestSelectShardStaleCursorReturnsNil(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemStore()
	cfg := testListConfig()
	item := &types.ListItem{BlockAssignmentDocID: store.GenerateID(), SLSequence: 2}

	cache := mustPopulate(t, store, cfg, []*types.ListItem{item}, func(n int) int { return 0 })

	// Another worker already moved the cursor to generation 3: this reader's
	// block assignment view is stale.
	iad := &types.IndexAssignmentContent{SLSequence: 3, NextLocalIndex: 1}
	doc, err := docstore.NewDocument(store.GenerateID(), iad, map[string]any{
		"type":                 types.DocTypeIndexAssignment,
		"blockAssignmentDocId": item.BlockAssignmentDocID,
		"blockIndex":           0,
	})
	require.NoError(t, err)
	_, err = store.Update(ctx, doc)
	require.NoError(t, err)

	shard, err := cache.SelectShard(ctx)
	require.NoError(t, err)
	assert.Nil(t, shard)
}

func TestSelectShardResetsOldCursor(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemStore()
	cfg := testListConfig()
	item := &types.ListItem{BlockAssignmentDocID: store.GenerateID(), SLSequence: 4}

	cache := mustPopulate(t, store, cfg, []*types.ListItem{item}, func(n int) int { return 0 })

	// A cursor left behind by the previous generation.
	iad := &types.IndexAssignmentContent{SLSequence: 3, NextLocalIndex: 4}
	doc, err := docstore.NewDocument(store.GenerateID(), iad, map[string]any{
		"type":                 types.DocTypeIndexAssignment,
		"blockAssignmentDocId": item.BlockAssignmentDocID,
		"blockIndex":           0,
	})
	require.NoError(t, err)
	_, err = store.Update(ctx, doc)
	require.NoError(t, err)

	shard, err := cache.SelectShard(ctx)
	require.NoError(t, err)
	require.NotNil(t, shard)
	assert.Equal(t, uint64(4), shard.IndexAssignment.SLSequence)
	assert.Equal(t, 0, shard.IndexAssignment.NextLocalIndex)
}
