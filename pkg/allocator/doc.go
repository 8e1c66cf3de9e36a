/*
Package allocator implements the concurrent status list index allocator.

Every issued credential needs a unique position in a published status list.
The allocator hands out those positions to any number of concurrent workers —
across goroutines and processes — coordinating through nothing but
compare-and-swap on a document store. No locks, no transactions.

# State model

Three document kinds, versioned against each other by slSequence:

  - The list management document (one per indexAllocator) holds the active
    and inactive list items plus the pre-allocated identities of the next
    status lists to create.
  - A block assignment document per item records which fixed-size blocks of
    the item's list are fully assigned, as a bitstring plus a count.
  - An index assignment document per (block assignment doc, block) pair is
    the cursor for the next index inside that block.

A block assignment document at a lower slSequence than its item is left over
from a previous list generation and is reset before use; a higher one means
the reader's list management view is stale. The same relation holds between a
cursor document and its block assignment document. Every step is continuable:
a worker crashing mid-change leaves state a later worker converges from.

# Shard selection

GetShard loops: read the active set (rotating fully assigned lists out and
growing capacity when the set runs empty), then draw a uniformly random
unassigned block across all active lists and reserve its cursor. Conflicts on
the cursor document are the contention signal; after repeated conflicts
against a mostly-full active set the manager activates another list, up to
the configured cap.

Rotated lists are recycled rather than deleted: reactivation binds the item
to a freshly created list at a bumped slSequence, and the stale block
assignment and cursor documents reset lazily on first use.
*/
package allocator
