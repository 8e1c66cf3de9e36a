/*
Package issuer drives credential issuance: stamping status entries, signing,
storing, and recovering from index collisions with concurrent workers.

Each issuance builds one CredentialStatusWriter per configured status list;
a CredentialStatusIssuer fans their work out in parallel and owns every
mutation of the credential. The issuance loop inserts the signed credential
under a unique index on its status entry IDs — a duplicate there means
another worker claimed the same (list, index) pair first, and the writer
re-runs with the rejected index carried forward so the cursor advances past
it.

Writers park partially consumed shards in a process-wide, LRU-bounded reuse
pool keyed by indexAllocator, letting the hot path skip a full shard
acquisition. The pool is purely a performance aid: between processes the CAS
on the cursor document disambiguates, and an evicted shard costs nothing but
a cache miss.

Index advancement after a successful issuance is fire-and-forget. A missed
advancement only means a later worker re-detects the block state and
self-corrects.
*/
package issuer
