// Package policy implements the OpenID Federation metadata-policy merge
// algebra: value, add, default, one_of, subset_of, superset_of, and
// essential, applied per parameter in Trust-Anchor-to-subject order to
// produce an entity's final, policy-constrained metadata.
package policy
