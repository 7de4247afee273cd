// Package jose provides the JOSE operations the federation core needs:
// fast (unverified) payload extraction, JWK set parsing, compact JWS
// signing and verification with an algorithm allow-list, and RSA key
// generation for onboarding. The service is stateless except for the
// caller-supplied signing/verification configuration.
package jose
