// Package dedupe tracks client-supplied idempotency keys so that a retried
// send within the TTL window is answered from the first attempt instead of
// appending a second message.
package dedupe
