// Package packager turns an assembled build directory into the release
// artifact named after its target.
package packager
