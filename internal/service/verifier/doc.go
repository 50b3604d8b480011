// Package verifier is the trust boundary of the bundler: it computes the
// SHA-256 digest of a downloaded vendor bundle and compares it with the pinned
// value, and optionally checks a detached OpenPGP signature of the bundle.
package verifier
