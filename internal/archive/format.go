package archive

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// Format identifies an archive container and its compression.
type Format string

const (
	// FormatTarGz is a gzip-compressed tarball.
	FormatTarGz Format = "tar.gz"
	// FormatTarXz is an xz-compressed tarball.
	FormatTarXz Format = "tar.xz"
	// FormatTarZst is a zstd-compressed tarball.
	FormatTarZst Format = "tar.zst"
	// FormatZip is a deflate-compressed zip file.
	FormatZip Format = "zip"
)

var (
	// ErrUnknownFormat is returned when a format name or file suffix is not recognized.
	ErrUnknownFormat = errors.New("unknown archive format")
	// ErrIllegalPath is returned for entries that would land outside the destination.
	ErrIllegalPath = errors.New("illegal path in archive")
	// ErrUnsupportedEntry is returned for entry types that cannot be materialized.
	ErrUnsupportedEntry = errors.New("unsupported archive entry")
)

// Formats returns every supported format in a stable order.
func Formats() []Format {
	return []Format{FormatTarGz, FormatTarXz, FormatTarZst, FormatZip}
}

// ParseFormat converts a user-supplied name into a Format.
// Common aliases such as "tgz" are accepted.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), ".")) {
	case "tar.gz", "tgz":
		return FormatTarGz, nil
	case "tar.xz", "txz":
		return FormatTarXz, nil
	case "tar.zst", "tzst":
		return FormatTarZst, nil
	case "zip":
		return FormatZip, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}

// FormatFromName detects the format from a file name or URL path suffix.
func FormatFromName(name string) (Format, error) {
	lower := strings.ToLower(name)

	switch {
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return FormatTarGz, nil
	case strings.HasSuffix(lower, ".tar.xz"), strings.HasSuffix(lower, ".txz"):
		return FormatTarXz, nil
	case strings.HasSuffix(lower, ".tar.zst"), strings.HasSuffix(lower, ".tzst"):
		return FormatTarZst, nil
	case strings.HasSuffix(lower, ".zip"):
		return FormatZip, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, name)
	}
}

// Extension returns the file name suffix without the leading dot.
func (f Format) Extension() string {
	return string(f)
}

// String implements fmt.Stringer.
func (f Format) String() string {
	return string(f)
}

// UnmarshalText lets formats be decoded from YAML and flags.
func (f *Format) UnmarshalText(text []byte) error {
	parsed, err := ParseFormat(string(text))
	if err != nil {
		return err
	}

	*f = parsed

	return nil
}

func (f Format) isTar() bool {
	return f == FormatTarGz || f == FormatTarXz || f == FormatTarZst
}

// newDecompressor wraps r with the stream decoder of a tar-based format.
func newDecompressor(f Format, r io.Reader) (io.ReadCloser, error) {
	switch f {
	case FormatTarGz:
		return gzip.NewReader(r)
	case FormatTarXz:
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, err
		}

		return io.NopCloser(xr), nil
	case FormatTarZst:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}

		return zr.IOReadCloser(), nil
	default:
		return nil, fmt.Errorf("%w: %s is not a compressed tarball", ErrUnknownFormat, f)
	}
}

// newCompressor wraps w with the stream encoder of a tar-based format.
func newCompressor(f Format, w io.Writer) (io.WriteCloser, error) {
	switch f {
	case FormatTarGz:
		return gzip.NewWriterLevel(w, gzip.BestCompression)
	case FormatTarXz:
		return xz.NewWriter(w)
	case FormatTarZst:
		return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
	default:
		return nil, fmt.Errorf("%w: %s is not a compressed tarball", ErrUnknownFormat, f)
	}
}
