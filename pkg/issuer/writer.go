package issuer

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/credon/veridex/pkg/allocator"
	"github.com/credon/veridex/pkg/bitstring"
	"github.com/credon/veridex/pkg/docstore"
	"github.com/credon/veridex/pkg/log"
	"github.com/credon/veridex/pkg/metrics"
	"github.com/credon/veridex/pkg/types"
)

// StatusMeta records the lookup attributes of one emitted status entry. It
// is stored on the credential document for the uniqueness index and the
// duplicate-existence check, independent of the entry's wire shape.
type StatusMeta struct {
	ID                   string `json:"id"`
	StatusListCredential string `json:"statusListCredential"`
	StatusListIndex      int64  `json:"statusListIndex"`
	StatusPurpose        string `json:"statusPurpose"`
}

// StatusResult is the outcome of one writer's Write call.
type StatusResult struct {
	LocalIndex    int
	StatusEntries []*types.StatusEntry
	Meta          []StatusMeta
}

// DuplicateResult carries the rejected assignment back into the retry, so
// the writer can advance past the index another worker claimed first.
type DuplicateResult struct {
	LocalIndex int
	// Entries are the previously emitted status entries, which the retry
	// removes from the credential before stamping fresh ones.
	Entries []*types.StatusEntry
}

// CredentialStatusWriter assigns status list indexes to one credential under
// issuance, for one status list configuration. It holds at most one shard at
// a time; the shard either returns to the process-wide reuse queue or is
// dropped, never shared between in-flight writers.
type CredentialStatusWriter struct {
	store      docstore.Store
	manager    *allocator.ListManager
	shardCache *ShardCache
	cfg        *types.ListConfig
	listShard  *allocator.Shard
	logger     zerolog.Logger
}

// NewCredentialStatusWriter creates a writer bound to one list config.
func NewCredentialStatusWriter(
	store docstore.Store, manager *allocator.ListManager,
	shardCache *ShardCache, cfg *types.ListConfig) *CredentialStatusWriter {
	return &CredentialStatusWriter{
		store:      store,
		manager:    manager,
		shardCache: shardCache,
		cfg:        cfg,
		logger:     log.WithAllocatorID(cfg.IndexAllocator),
	}
}

// ListConfig returns the writer's status list configuration.
func (w *CredentialStatusWriter) ListConfig() *types.ListConfig {
	return w.cfg
}

// Write reserves the next status list index and returns the status entries
// to stamp into the credential. On a retry after a duplicate credential
// insert, dup carries the rejected local index; the writer advances the
// cursor past it before assigning anew.
func (w *CredentialStatusWriter) Write(ctx context.Context, dup *DuplicateResult) (*StatusResult, error) {
	if w.listShard != nil {
		if dup != nil {
			w.recoverDuplicate(ctx, dup)
		}
		w.listShard = nil
	}

	if shard := w.shardCache.Pop(w.cfg.IndexAllocator); shard != nil {
		w.listShard = shard
		metrics.ShardReuseHitsTotal.Inc()
	} else {
		shard, err := w.manager.GetShard(ctx)
		if err != nil {
			return nil, err
		}
		w.listShard = shard
	}

	shard := w.listShard
	localIndex := shard.IndexAssignment.NextLocalIndex
	statusListIndex := int64(shard.BlockIndex)*int64(shard.BlockSize()) + int64(localIndex)
	listCredential := shard.Item.StatusListCredential
	entryID := fmt.Sprintf("%s#%d", listCredential, statusListIndex)

	entry := &types.StatusEntry{
		ListType:             w.cfg.Type,
		ID:                   entryID,
		StatusListCredential: listCredential,
		StatusListIndex:      statusListIndex,
		StatusPurpose:        w.cfg.StatusPurpose,
	}
	if w.cfg.Type == types.ListTypeTerseBitstringStatusList {
		entry.TerseStatusListIndex = shard.ListNumber()*int64(w.cfg.ListSize()) + statusListIndex
	}

	return &StatusResult{
		LocalIndex:    localIndex,
		StatusEntries: []*types.StatusEntry{entry},
		Meta: []StatusMeta{{
			ID:                   entryID,
			StatusListCredential: listCredential,
			StatusListIndex:      statusListIndex,
			StatusPurpose:        w.cfg.StatusPurpose,
		}},
	}, nil
}

// recoverDuplicate advances the held shard's cursor past the index another
// worker claimed, returning the shard to the reuse queue when indexes
// remain. Failures drop the shard; its state is recovered from the store by
// whichever worker touches the block next.
func (w *CredentialStatusWriter) recoverDuplicate(ctx context.Context, dup *DuplicateResult) {
	shard := w.listShard
	doc, err := w.store.Get(ctx, shard.IndexAssignmentDoc.ID)
	if err != nil {
		return
	}
	content := new(types.IndexAssignmentContent)
	if err := doc.DecodeContent(content); err != nil {
		return
	}
	if content.SLSequence != shard.BlockAssignment.SLSequence ||
		content.NextLocalIndex > dup.LocalIndex {
		return
	}
	content.NextLocalIndex = min(shard.BlockSize(), dup.LocalIndex+1)
	if err := doc.SetContent(content); err != nil {
		return
	}
	updated, err := w.store.Update(ctx, doc)
	if err != nil {
		// Conflicts mean another worker advanced the cursor already.
		return
	}
	if content.NextLocalIndex < shard.BlockSize() {
		shard.IndexAssignmentDoc = updated
		shard.IndexAssignment = content
		w.shardCache.Push(w.cfg.IndexAllocator, shard)
	}
}

// Finish records the just-assigned index as used: it advances the index
// assignment cursor and, when the block fills, sets the block's bit in the
// block assignment document. Both writes tolerate concurrent equivalents.
func (w *CredentialStatusWriter) Finish(ctx context.Context) error {
	shard := w.listShard
	if shard == nil {
		return fmt.Errorf("finish requires a held shard")
	}
	w.listShard = nil

	content := shard.IndexAssignment
	content.NextLocalIndex = min(shard.BlockSize(), content.NextLocalIndex+1)
	doc := shard.IndexAssignmentDoc.Clone()
	if err := doc.SetContent(content); err != nil {
		return err
	}
	updated, err := w.store.Update(ctx, doc)
	if err == nil {
		shard.IndexAssignmentDoc = updated
	} else {
		if !errors.Is(err, docstore.ErrConflict) {
			return err
		}
		// Another worker advanced the cursor; adopt its state so a queued
		// shard stamps the right index next time.
		reread, err := w.store.Get(ctx, shard.IndexAssignmentDoc.ID)
		if err != nil {
			return err
		}
		if err := reread.DecodeContent(content); err != nil {
			return err
		}
		shard.IndexAssignmentDoc = reread
		if content.SLSequence != shard.BlockAssignment.SLSequence {
			// The block was recycled under us; drop the shard.
			return nil
		}
	}

	if content.NextLocalIndex >= shard.BlockSize() {
		return w.markBlockDone(ctx, shard)
	}
	w.shardCache.Push(w.cfg.IndexAllocator, shard)
	return nil
}

// markBlockDone sets the shard's block bit in the block assignment document.
// Stops silently when the document moved on to a newer list generation or
// another worker set the bit first.
func (w *CredentialStatusWriter) markBlockDone(ctx context.Context, shard *allocator.Shard) error {
	doc, err := w.store.Get(ctx, shard.BlockAssignmentDoc.ID)
	if err != nil {
		return err
	}
	content := new(types.BlockAssignmentContent)
	if err := doc.DecodeContent(content); err != nil {
		return err
	}
	if content.SLSequence != shard.BlockAssignment.SLSequence {
		return nil
	}
	bits, err := bitstring.Decode(content.AssignedBlocks)
	if err != nil {
		return err
	}
	assigned, err := bits.Get(shard.BlockIndex)
	if err != nil {
		return err
	}
	if assigned {
		return nil
	}
	if err := bits.Set(shard.BlockIndex, true); err != nil {
		return err
	}
	if content.AssignedBlocks, err = bits.Encode(); err != nil {
		return err
	}
	content.AssignedBlockCount++
	if err := doc.SetContent(content); err != nil {
		return err
	}
	if _, err := w.store.Update(ctx, doc); err != nil && !errors.Is(err, docstore.ErrConflict) {
		return err
	}
	return nil
}

// Exists reports whether any of the result's status entry IDs is already
// claimed by a stored credential. It distinguishes an index collision from
// other duplicate-key failures during credential insert.
func (w *CredentialStatusWriter) Exists(ctx context.Context, result *StatusResult) (bool, error) {
	for _, meta := range result.Meta {
		count, err := w.store.Count(ctx, map[string]string{
			"meta.credentialStatus.id": meta.ID,
		})
		if err != nil {
			return false, err
		}
		if count > 0 {
			return true, nil
		}
	}
	return false, nil
}
