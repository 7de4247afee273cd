// Package rp is the top-level Relying Party orchestrator: it resolves a
// provider/anchor pair into a trust chain, loads the Relying Party's own
// federation identity, and assembles a signed OpenID Connect
// authorization request. It also serves the well-known document,
// delegating to the onboarding state machine when the self-record is
// not yet complete.
package rp
