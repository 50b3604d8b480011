// Package tagcheck holds the release gates run by CI before bundling: the
// tag must look like a release version and match the server crate version.
package tagcheck
