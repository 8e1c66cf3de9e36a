/*
Package log holds the process-wide zerolog root logger and the child-logger
constructors the rest of Veridex hangs context on.

The root logger defaults to info-level JSON on stdout, so code running before
Init (flag parsing, config loading) can already log; Init swaps in the
configured level and output. Console rendering is an opt-in for development.
The level lives on the logger itself rather than zerolog's global filter,
which keeps repeated Init calls in tests from bleeding into each other.

Components take a tagged child once at construction and log through it:

	logger := log.WithComponent("allocator")
	logger.Info().Str("list_id", id).Msg("Status list capacity added")

WithIssuerID, WithAllocatorID and WithListID tag the identifiers that matter
when untangling concurrent issuance from logs: which issuer instance, which
list management document, which published list.
*/
package log
