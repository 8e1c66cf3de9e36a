package allocator

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/credon/veridex/pkg/bitstring"
	"github.com/credon/veridex/pkg/docstore"
	"github.com/credon/veridex/pkg/types"
)

// CacheRecord pairs one active list item with its block assignment document.
type CacheRecord struct {
	Item            *types.ListItem
	Doc             *docstore.Document
	BlockAssignment *types.BlockAssignmentContent
}

// unassigned returns the number of blocks not yet fully assigned.
func (r *CacheRecord) unassigned() int {
	return r.BlockAssignment.BlockCount - r.BlockAssignment.AssignedBlockCount
}

// IndexAllocationCache is an in-memory snapshot of the active block
// assignment documents for one list management document. It is rebuilt on
// every read of the active set; the sticky outOfSync bit tells the manager
// the snapshot disagrees with the store and must be rebuilt from a fresh
// list management document.
type IndexAllocationCache struct {
	store     docstore.Store
	cfg       *types.ListConfig
	randInt   func(n int) int
	records   []*CacheRecord
	outOfSync bool
}

// NewIndexAllocationCache creates an empty cache. randInt may be nil, in
// which case a uniform source is used.
func NewIndexAllocationCache(store docstore.Store, cfg *types.ListConfig, randInt func(n int) int) *IndexAllocationCache {
	if randInt == nil {
		randInt = rand.IntN
	}
	return &IndexAllocationCache{store: store, cfg: cfg, randInt: randInt}
}

// Records returns the cached records.
func (c *IndexAllocationCache) Records() []*CacheRecord {
	return c.records
}

// Len returns the number of cached records.
func (c *IndexAllocationCache) Len() int {
	return len(c.records)
}

// AddRecord reinserts a record, used when the manager optimistically
// reactivates a rotated item without rereading its document.
func (c *IndexAllocationCache) AddRecord(rec *CacheRecord) {
	c.records = append(c.records, rec)
}

// Populate loads (lazily creating) the block assignment document for each
// item and syncs every record against its item's slSequence. The outOfSync
// bit is cleared first and may be set again by sync failures.
func (c *IndexAllocationCache) Populate(ctx context.Context, items []*types.ListItem) error {
	c.records = nil
	c.outOfSync = false
	for _, item := range items {
		doc, content, err := c.readOrCreateBlockAssignmentDoc(ctx, item)
		if err != nil {
			return err
		}
		rec := &CacheRecord{Item: item, Doc: doc, BlockAssignment: content}
		if err := c.syncCacheRecord(ctx, rec); err != nil {
			return err
		}
		c.records = append(c.records, rec)
	}
	return nil
}

// OutOfSync reports whether the cache must be rebuilt from a fresh list
// management document. A block assignment document ahead of its item means
// the list management document itself is stale.
func (c *IndexAllocationCache) OutOfSync() bool {
	if c.outOfSync {
		return true
	}
	for _, rec := range c.records {
		if rec.BlockAssignment.SLSequence > rec.Item.SLSequence {
			return true
		}
	}
	return false
}

// Rotate moves every fully assigned record's item from blockAssignment.active
// to blockAssignment.inactive, drops those records from the cache and returns
// them. The mutation is purely in-memory; the caller persists the list
// management document.
func (c *IndexAllocationCache) Rotate(sets *types.BlockAssignmentSets) []*CacheRecord {
	var rotated []*CacheRecord
	var kept []*CacheRecord
	for _, rec := range c.records {
		if rec.BlockAssignment.AssignedBlockCount == rec.BlockAssignment.BlockCount {
			rotated = append(rotated, rec)
		} else {
			kept = append(kept, rec)
		}
	}
	if len(rotated) == 0 {
		return nil
	}

	rotatedItems := make(map[*types.ListItem]struct{}, len(rotated))
	for _, rec := range rotated {
		rotatedItems[rec.Item] = struct{}{}
	}
	var active []*types.ListItem
	for _, item := range sets.Active {
		if _, gone := rotatedItems[item]; gone {
			sets.Inactive = append(sets.Inactive, item)
		} else {
			active = append(active, item)
		}
	}
	sets.Active = active
	c.records = kept
	return rotated
}

// SelectShard draws a uniformly random unassigned block across all records
// and reserves its index assignment document. It returns (nil, nil) when the
// caller's view turned out to be stale and the selection loop should retry;
// CAS conflicts and duplicate creates on the index assignment document are
// returned to the caller as the primary contention signal.
func (c *IndexAllocationCache) SelectShard(ctx context.Context) (*Shard, error) {
	total := 0
	for _, rec := range c.records {
		total += rec.unassigned()
	}
	if total == 0 {
		return nil, fmt.Errorf("select shard requires at least one unassigned block")
	}

	choice := c.randInt(total)
	var target *CacheRecord
	blockIndex := -1
	for _, rec := range c.records {
		unassigned := rec.unassigned()
		if choice >= unassigned {
			choice -= unassigned
			continue
		}
		bits, err := bitstring.Decode(rec.BlockAssignment.AssignedBlocks)
		if err != nil {
			return nil, fmt.Errorf("failed to decode assigned blocks of %s: %w", rec.Doc.ID, err)
		}
		seen := 0
		for i := 0; i < rec.BlockAssignment.BlockCount; i++ {
			assigned, err := bits.Get(i)
			if err != nil {
				return nil, err
			}
			if assigned {
				continue
			}
			if seen == choice {
				target = rec
				blockIndex = i
				break
			}
			seen++
		}
		break
	}
	if target == nil {
		// assignedBlockCount disagreed with the bitstring; force a rebuild.
		c.outOfSync = true
		return nil, nil
	}

	iadDoc, iadContent, err := c.readOrCreateIndexAssignmentDoc(ctx, target, blockIndex)
	if err != nil {
		return nil, err
	}

	if iadContent.SLSequence < target.BlockAssignment.SLSequence {
		// The block's cursor belongs to the previous list generation; reset
		// it. A conflict here is a contention signal like the create above.
		iadContent.SLSequence = target.BlockAssignment.SLSequence
		iadContent.NextLocalIndex = 0
		if err := iadDoc.SetContent(iadContent); err != nil {
			return nil, err
		}
		updated, err := c.store.Update(ctx, iadDoc)
		if err != nil {
			return nil, err
		}
		iadDoc = updated
	}
	if iadContent.SLSequence > target.BlockAssignment.SLSequence {
		// Our block assignment view is stale.
		return nil, nil
	}

	if iadContent.NextLocalIndex >= target.BlockAssignment.BlockSize {
		// Block fully assigned; record that in the block assignment document
		// and retry. A concurrent worker doing the same work is fine.
		if err := c.markBlockAssigned(ctx, target, blockIndex); err != nil &&
			!errors.Is(err, docstore.ErrConflict) {
			return nil, err
		}
		return nil, nil
	}

	return &Shard{
		AllocatorID:        c.cfg.IndexAllocator,
		Item:               target.Item,
		BlockAssignmentDoc: target.Doc,
		BlockAssignment:    target.BlockAssignment,
		BlockIndex:         blockIndex,
		IndexAssignmentDoc: iadDoc,
		IndexAssignment:    iadContent,
	}, nil
}

// syncCacheRecord resets a block assignment document left behind by a
// reactivation: strictly smaller slSequence means the document still carries
// the previous list generation's assignments.
func (c *IndexAllocationCache) syncCacheRecord(ctx context.Context, rec *CacheRecord) error {
	if rec.BlockAssignment.SLSequence >= rec.Item.SLSequence {
		return nil
	}
	fresh, err := newBlockAssignmentContent(rec.Item.SLSequence, c.cfg)
	if err != nil {
		return err
	}
	doc := rec.Doc.Clone()
	if err := doc.SetContent(fresh); err != nil {
		return err
	}
	updated, err := c.store.Update(ctx, doc)
	if err == nil {
		rec.Doc = updated
		rec.BlockAssignment = fresh
		return nil
	}
	if !errors.Is(err, docstore.ErrConflict) {
		return err
	}
	// Another worker got there first; accept its result if it matches.
	reread, err := c.store.Get(ctx, rec.Doc.ID)
	if err != nil {
		return err
	}
	content := new(types.BlockAssignmentContent)
	if err := reread.DecodeContent(content); err != nil {
		return err
	}
	rec.Doc = reread
	rec.BlockAssignment = content
	if content.SLSequence != rec.Item.SLSequence {
		c.outOfSync = true
	}
	return nil
}

func (c *IndexAllocationCache) readOrCreateBlockAssignmentDoc(
	ctx context.Context, item *types.ListItem) (*docstore.Document, *types.BlockAssignmentContent, error) {
	for {
		doc, err := c.store.Get(ctx, item.BlockAssignmentDocID)
		if err == nil {
			content := new(types.BlockAssignmentContent)
			if err := doc.DecodeContent(content); err != nil {
				return nil, nil, err
			}
			return doc, content, nil
		}
		if !errors.Is(err, docstore.ErrNotFound) {
			return nil, nil, err
		}
		content, err := newBlockAssignmentContent(item.SLSequence, c.cfg)
		if err != nil {
			return nil, nil, err
		}
		doc, err = docstore.NewDocument(item.BlockAssignmentDocID, content, map[string]any{
			"type": types.DocTypeBlockAssignment,
		})
		if err != nil {
			return nil, nil, err
		}
		created, err := c.store.Update(ctx, doc)
		if err == nil {
			return created, content, nil
		}
		if errors.Is(err, docstore.ErrDuplicate) {
			// Lost the create race; read the winner.
			continue
		}
		return nil, nil, err
	}
}

// readOrCreateIndexAssignmentDoc reserves the cursor document for (block
// assignment doc, block index). Unlike the block assignment create, losing a
// race here is NOT converted to a read: the conflict is the signal selectShard
// uses to detect contention, so it propagates.
func (c *IndexAllocationCache) readOrCreateIndexAssignmentDoc(
	ctx context.Context, rec *CacheRecord, blockIndex int) (*docstore.Document, *types.IndexAssignmentContent, error) {
	docs, err := c.store.Find(ctx, map[string]string{
		"meta.blockAssignmentDocId": rec.Doc.ID,
		"meta.blockIndex":           fmt.Sprintf("%d", blockIndex),
	}, 1)
	if err != nil {
		return nil, nil, err
	}
	if len(docs) > 0 {
		content := new(types.IndexAssignmentContent)
		if err := docs[0].DecodeContent(content); err != nil {
			return nil, nil, err
		}
		return docs[0], content, nil
	}

	content := &types.IndexAssignmentContent{
		SLSequence:     rec.BlockAssignment.SLSequence,
		NextLocalIndex: 0,
	}
	doc, err := docstore.NewDocument(c.store.GenerateID(), content, map[string]any{
		"type":                 types.DocTypeIndexAssignment,
		"blockAssignmentDocId": rec.Doc.ID,
		"blockIndex":           blockIndex,
	})
	if err != nil {
		return nil, nil, err
	}
	created, err := c.store.Update(ctx, doc)
	if err != nil {
		return nil, nil, err
	}
	return created, content, nil
}

// markBlockAssigned sets the block's bit and bumps the assigned count via
// CAS. The in-memory record reflects the change so the caller's counts stay
// coherent even when the write conflicts.
func (c *IndexAllocationCache) markBlockAssigned(ctx context.Context, rec *CacheRecord, blockIndex int) error {
	bits, err := bitstring.Decode(rec.BlockAssignment.AssignedBlocks)
	if err != nil {
		return err
	}
	assigned, err := bits.Get(blockIndex)
	if err != nil {
		return err
	}
	if assigned {
		return nil
	}
	if err := bits.Set(blockIndex, true); err != nil {
		return err
	}
	encoded, err := bits.Encode()
	if err != nil {
		return err
	}
	rec.BlockAssignment.AssignedBlocks = encoded
	rec.BlockAssignment.AssignedBlockCount++

	doc := rec.Doc.Clone()
	if err := doc.SetContent(rec.BlockAssignment); err != nil {
		return err
	}
	updated, err := c.store.Update(ctx, doc)
	if err != nil {
		return err
	}
	rec.Doc = updated
	return nil
}

// newBlockAssignmentContent builds a fresh, zero-assigned content for the
// given list generation.
func newBlockAssignmentContent(slSequence uint64, cfg *types.ListConfig) (*types.BlockAssignmentContent, error) {
	bits, err := bitstring.New(cfg.BlockCount)
	if err != nil {
		return nil, err
	}
	encoded, err := bits.Encode()
	if err != nil {
		return nil, err
	}
	return &types.BlockAssignmentContent{
		SLSequence:         slSequence,
		BlockCount:         cfg.BlockCount,
		BlockSize:          cfg.BlockSize,
		AssignedBlocks:     encoded,
		AssignedBlockCount: 0,
	}, nil
}
