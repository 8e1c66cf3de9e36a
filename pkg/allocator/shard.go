package allocator

import (
	"context"
	"errors"

	"github.com/credon/veridex/pkg/docstore"
	"github.com/credon/veridex/pkg/types"
)

// ErrInsufficientCapacity is returned when every active list is fully
// assigned and no further status lists can be created under the
// configuration. It is the only allocator error surfaced to issuance
// callers; conflicts and staleness are recovered internally.
var ErrInsufficientCapacity = errors.New("insufficient status list capacity")

// ListSource creates status lists on behalf of the allocator. CreateStatusList
// must be idempotent for a given id: workers that lost a CAS race on the list
// management document re-create the same pre-allocated lists while catching
// up, and must converge on the same result.
type ListSource interface {
	CreateStatusList(ctx context.Context, id, statusPurpose string, length int) (string, error)
}

// Shard is a reserved (item, block assignment doc, block index, index
// assignment doc) tuple from which a writer assigns consecutive status list
// indexes.
type Shard struct {
	// AllocatorID identifies the owning list management document.
	AllocatorID string
	Item        *types.ListItem
	// BlockAssignmentDoc and BlockAssignment are the shard's view of the
	// block assignment document at selection time.
	BlockAssignmentDoc *docstore.Document
	BlockAssignment    *types.BlockAssignmentContent
	BlockIndex         int
	// IndexAssignmentDoc and IndexAssignment carry the block's cursor; the
	// writer advances NextLocalIndex as indexes are consumed.
	IndexAssignmentDoc *docstore.Document
	IndexAssignment    *types.IndexAssignmentContent
}

// BlockSize returns the number of indexes per block for this shard's list.
func (s *Shard) BlockSize() int {
	return s.BlockAssignment.BlockSize
}

// NextStatusListIndex returns the absolute list index the shard would assign
// next.
func (s *Shard) NextStatusListIndex() int64 {
	return int64(s.BlockIndex)*int64(s.BlockAssignment.BlockSize) +
		int64(s.IndexAssignment.NextLocalIndex)
}

// ListNumber returns the zero-based ordinal of the shard's status list across
// the allocator's lifetime. Terse status entries use it to compute the
// cross-list index offset.
func (s *Shard) ListNumber() int64 {
	return int64(s.Item.SLSequence) - 1
}

// Exhausted reports whether the shard's block has no indexes left.
func (s *Shard) Exhausted() bool {
	return s.IndexAssignment.NextLocalIndex >= s.BlockAssignment.BlockSize
}
