// Package fetcher streams the vendor bundle from its remote host to a local
// file. Transport failures and non-200 responses are reported as distinct
// sentinel errors that name the URL; nothing is retried.
package fetcher
