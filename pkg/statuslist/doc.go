/*
Package statuslist manages status list credentials: creation, bit flips for
revocation and suspension, signing and publication.

Each list is stored as a document holding the working bitstring and the most
recently published credential over it. Status updates flip bits in the
working copy and mark the list dirty; publication re-signs the current
bitstring, so verifiers only ever observe signed snapshots. Creation is
idempotent per list ID — workers replaying a half-finished capacity change
converge on the existing list.

Reads of published credentials are served from a process-local LRU that
publication refreshes.
*/
package statuslist
