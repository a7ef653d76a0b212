// Package ratelimit provides token-bucket admission control. The local
// Limiter guards outbound calls to the upstream data source; the keyed and
// Redis-backed variants guard inbound search traffic, per client and across
// instances respectively.
//
// All checks are non-blocking: a failed TryAcquire returns immediately and
// the caller decides the policy (the extractor backs off and retries, the
// search handler rejects with 429).
package ratelimit
