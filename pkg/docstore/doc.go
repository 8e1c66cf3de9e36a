/*
Package docstore provides the document store the index allocator coordinates
through.

Every document carries a sequence number incremented on each successful
update. Update is an insert when the submitted sequence is zero and a
compare-and-swap otherwise: it succeeds only when the stored sequence matches
the submitted one. CAS failures surface as ErrConflict, unique-index
violations as ErrDuplicate, and missing documents as ErrNotFound; the
allocator's recovery logic is built entirely on these three signals.

Two implementations are provided:

  - MemStore: in-memory, mutex-guarded; used by tests and local development.
  - BoltStore: BoltDB-backed; each update runs inside a single write
    transaction. An optional Vault seals document values with AES-256-GCM and
    blinds index keys with HMAC-SHA256 for encryption at rest.

Indexes are registered with EnsureIndex over dotted attribute paths such as
"content.id" or "meta.blockAssignmentDocId". Array-valued paths fan out: a
credential with several status entries occupies one index key per entry ID.

# Usage

	store, err := docstore.NewBoltStore(dataDir, docstore.WithVault(vault))
	if err != nil {
		return err
	}
	defer store.Close()

	err = store.EnsureIndex(ctx, []string{"content.id"}, true)

	doc, err := docstore.NewDocument(store.GenerateID(), content, nil)
	stored, err := store.Update(ctx, doc) // insert, sequence becomes 1

	stored.Sequence = 999
	_, err = store.Update(ctx, stored) // docstore.ErrConflict
*/
package docstore
