// Package assembler builds the on-disk release tree: the prebuilt server
// binary at the root of the build directory and the verified vendor bundle
// extracted under its vendor subdirectory.
package assembler
