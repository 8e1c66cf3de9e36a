/*
Package events distributes issuer lifecycle events — credentials issued,
statuses updated, status lists created, rotated, grown and published — to
in-process subscribers.

The broker has no dispatch goroutine: Publish fans out inline under a read
lock, offering the event to each subscription's buffered channel and dropping
it when the buffer is full. Issuance must never wait on an observer, so
delivery is strictly best effort and no correctness property may depend on
it. Subscriptions are handles: receive on C, Cancel to detach.
*/
package events
