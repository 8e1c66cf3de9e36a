package issuer

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/credon/veridex/pkg/log"
	"github.com/credon/veridex/pkg/types"
)

// finishTimeout bounds the fire-and-forget index advancement after a
// successful issuance.
const finishTimeout = 30 * time.Second

// CredentialStatusIssuer coordinates one credential's status entries across
// all configured writers. It owns every mutation of the credential's
// credentialStatus set, so parallel writers never touch the credential
// concurrently.
type CredentialStatusIssuer struct {
	credential       *types.Credential
	writers          []*CredentialStatusWriter
	statusResults    map[int]*StatusResult
	duplicateResults map[int]*DuplicateResult
	logger           zerolog.Logger
}

// NewCredentialStatusIssuer prepares the credential for status stamping:
// each writer's list type gets its JSON-LD context ensured up front.
func NewCredentialStatusIssuer(credential *types.Credential, writers []*CredentialStatusWriter) *CredentialStatusIssuer {
	for _, w := range writers {
		credential.EnsureContext(types.StatusContext(w.ListConfig().Type))
	}
	return &CredentialStatusIssuer{
		credential:       credential,
		writers:          writers,
		statusResults:    make(map[int]*StatusResult),
		duplicateResults: make(map[int]*DuplicateResult),
		logger:           log.WithComponent("status-issuer"),
	}
}

// Issue runs every writer whose slot is not yet filled in parallel, then
// applies their entries to the credential. The first writer error fails the
// call.
func (ci *CredentialStatusIssuer) Issue(ctx context.Context) ([]*types.StatusEntry, error) {
	type outcome struct {
		index  int
		result *StatusResult
		err    error
	}

	var pending []int
	for i := range ci.writers {
		if _, done := ci.statusResults[i]; !done {
			pending = append(pending, i)
		}
	}

	outcomes := make(chan outcome, len(pending))
	for _, i := range pending {
		go func(i int) {
			result, err := ci.writers[i].Write(ctx, ci.duplicateResults[i])
			outcomes <- outcome{index: i, result: result, err: err}
		}(i)
	}

	var firstErr error
	results := make(map[int]*StatusResult, len(pending))
	for range pending {
		o := <-outcomes
		if o.err != nil {
			if firstErr == nil {
				firstErr = o.err
			}
			continue
		}
		results[o.index] = o.result
	}
	if firstErr != nil {
		return nil, firstErr
	}

	for i, result := range results {
		if dup := ci.duplicateResults[i]; dup != nil {
			ci.removeEntries(dup.Entries)
			delete(ci.duplicateResults, i)
		}
		ci.credential.CredentialStatus = append(ci.credential.CredentialStatus, result.StatusEntries...)
		ci.statusResults[i] = result
	}

	var all []*types.StatusEntry
	for _, result := range ci.statusResults {
		all = append(all, result.StatusEntries...)
	}
	return all, nil
}

// HasDuplicate checks whether any writer's assigned index already belongs to
// a stored credential. Hits move from the status result map to the duplicate
// map, so the next Issue re-runs exactly those writers with recovery state.
func (ci *CredentialStatusIssuer) HasDuplicate(ctx context.Context) (bool, error) {
	found := false
	for i, result := range ci.statusResults {
		exists, err := ci.writers[i].Exists(ctx, result)
		if err != nil {
			return false, err
		}
		if exists {
			ci.duplicateResults[i] = &DuplicateResult{
				LocalIndex: result.LocalIndex,
				Entries:    result.StatusEntries,
			}
			delete(ci.statusResults, i)
			found = true
		}
	}
	return found, nil
}

// Finish advances every writer's cursor without awaiting completion. Errors
// are logged and swallowed: a missed advancement only means a later worker
// re-detects the block state and self-corrects.
func (ci *CredentialStatusIssuer) Finish() {
	for _, w := range ci.writers {
		go func(w *CredentialStatusWriter) {
			ctx, cancel := context.WithTimeout(context.Background(), finishTimeout)
			defer cancel()
			if err := w.Finish(ctx); err != nil {
				ci.logger.Error().Err(err).
					Str("allocator_id", w.ListConfig().IndexAllocator).
					Msg("Best-effort index advancement failed")
			}
		}(w)
	}
}

// StatusMetas returns the lookup metadata of every emitted entry, for the
// credential document's uniqueness index.
func (ci *CredentialStatusIssuer) StatusMetas() []StatusMeta {
	var metas []StatusMeta
	for _, result := range ci.statusResults {
		metas = append(metas, result.Meta...)
	}
	return metas
}

// removeEntries strips previously stamped entries from the credential.
func (ci *CredentialStatusIssuer) removeEntries(entries []*types.StatusEntry) {
	drop := make(map[*types.StatusEntry]struct{}, len(entries))
	for _, e := range entries {
		drop[e] = struct{}{}
	}
	var kept []*types.StatusEntry
	for _, e := range ci.credential.CredentialStatus {
		if _, gone := drop[e]; !gone {
			kept = append(kept, e)
		}
	}
	ci.credential.CredentialStatus = kept
}
