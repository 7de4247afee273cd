// Package fetch retrieves the remote artifacts the federation core needs
// over HTTP: entity configurations, subordinate entity statements, and
// plain JWKS documents referenced by jwks_uri. No trust decisions are
// made here; that is the job of pkg/entity and pkg/jose.
package fetch
