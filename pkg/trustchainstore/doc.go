// Package trustchainstore persists completed trust chains and their
// derived final metadata, keyed by (subject, trust anchor, metadata
// type), and exposes the active/expired/absent read states the
// Relying Party Orchestrator reacts to.
package trustchainstore
