// Package federation holds the Relying Party's own published identity
// (its FederationEntity self-record) and the progressive onboarding
// state machine that produces it: from bare key generation, through an
// unpersisted self-assertion awaiting trust marks, to a persisted,
// fully onboarded entity.
package federation
