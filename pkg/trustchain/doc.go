// Package trustchain builds a Trust Chain: the ordered sequence of
// signed entity statements linking a subject up to a Trust Anchor,
// together with the metadata-policy-merged final metadata for one
// entity type. Builds for the same (subject, anchor, metadata type) are
// deduplicated so at most one is in flight at a time.
package trustchain
