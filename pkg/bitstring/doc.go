/*
Package bitstring implements the fixed-length bit arrays behind status lists
and block assignment tracking.

Bits are addressed MSB-first within each byte. Encode gzip-compresses the
array and returns it base64url-encoded without padding, the representation
published status list credentials carry in their encodedList property. The
encoding is deterministic for a given bit pattern, so derived values such as
assigned-block counts can be recomputed by any reader and compared across
workers.
*/
package bitstring
