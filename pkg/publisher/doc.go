/*
Package publisher runs the background republication loop.

Status updates only flip bits in a list's working bitstring; the publisher
periodically re-signs and republishes every dirty list so revocations become
visible to verifiers without an explicit publish call. Failures are logged
and retried on the next cycle.
*/
package publisher
