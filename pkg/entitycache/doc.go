// Package entitycache persists parsed entity statements keyed by
// (subject, issuer) with expiry derived from the statement's own exp
// claim. It wraps a pluggable Adapter (memory or postgres) with
// per-key write serialization so concurrent upserts for the same key
// never interleave.
package entitycache
