// Package bundler runs the release pipeline for one target.
//
// A run resolves the target, downloads the pinned vendor bundle, verifies
// its SHA-256 digest, assembles the build directory next to the prebuilt
// server binary and packages the result as <target>.<ext>. Every failure is
// returned as a *StageError naming the last state reached and a Kind.
package bundler
