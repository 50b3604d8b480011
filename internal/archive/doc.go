// Package archive reads and writes the compressed archive formats used by the
// bundler: vendor bundles are extracted with Extract and release artifacts
// are produced with Create.
//
// Tarballs are supported with gzip, xz and zstd compression; zip files use
// deflate. Extraction refuses entries that would escape the destination
// directory.
package archive
