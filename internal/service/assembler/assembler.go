package assembler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/oshokin/gitrs-bundler/internal/archive"
	"github.com/oshokin/gitrs-bundler/internal/config"
	"github.com/oshokin/gitrs-bundler/internal/logger"
)

// DefaultDirectoryMode is used for the build and vendor directories.
const DefaultDirectoryMode os.FileMode = 0o755

var (
	// ErrDirectory is returned when a required directory cannot be created.
	ErrDirectory = errors.New("create directory")
	// ErrCopyBinary is returned when the prebuilt server binary cannot be copied.
	ErrCopyBinary = errors.New("copy server binary")
	// ErrExtract is returned when the vendor bundle cannot be extracted.
	ErrExtract = errors.New("extract vendor bundle")
	// ErrRemoveTemp is returned when the consumed download cannot be deleted.
	ErrRemoveTemp = errors.New("remove downloaded bundle")
)

// EnsureBuildDirectory creates the build directory if it is missing.
func EnsureBuildDirectory(cfg *config.ReleaseConfig) error {
	return ensureDirectory(cfg.BuildDirectory())
}

// EnsureDirs creates the build and vendor directories.
// It succeeds when they already exist.
func EnsureDirs(cfg *config.ReleaseConfig) error {
	if err := ensureDirectory(cfg.BuildDirectory()); err != nil {
		return err
	}

	return ensureDirectory(cfg.VendorDirectory())
}

// Assemble materializes the build tree from a verified download:
// directories, server binary, extracted vendor bundle, in that order.
// The download is deleted once extracted. A failure part way leaves
// whatever was already written in place.
func Assemble(ctx context.Context, cfg *config.ReleaseConfig) error {
	if err := EnsureDirs(cfg); err != nil {
		return err
	}

	logger.InfoKV(ctx, "Copying server binary", "from", cfg.BinaryPath(), "name", cfg.BinaryName())

	if err := CopyBinary(cfg); err != nil {
		return err
	}

	logger.InfoKV(ctx, "Extracting vendor bundle",
		"archive", cfg.TempFile(), "format", cfg.BundleFormat(), "to", cfg.VendorDirectory())

	if err := archive.Extract(cfg.BundleFormat(), cfg.TempFile(), cfg.VendorDirectory()); err != nil {
		return fmt.Errorf("%w %s: %w", ErrExtract, cfg.TempFile(), err)
	}

	if err := os.Remove(cfg.TempFile()); err != nil {
		return fmt.Errorf("%w %s: %w", ErrRemoveTemp, cfg.TempFile(), err)
	}

	logger.DebugKV(ctx, "Removed downloaded bundle", "path", cfg.TempFile())

	return nil
}

// CopyBinary copies the prebuilt server binary into the build directory,
// keeping its permission bits.
func CopyBinary(cfg *config.ReleaseConfig) error {
	src := cfg.BinaryPath()
	dst := filepath.Join(cfg.BuildDirectory(), cfg.BinaryName())

	in, err := os.Open(filepath.Clean(src))
	if err != nil {
		return fmt.Errorf("%w %s: %w", ErrCopyBinary, src, err)
	}

	defer func() {
		_ = in.Close()
	}()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("%w %s: %w", ErrCopyBinary, src, err)
	}

	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w %s: not a regular file", ErrCopyBinary, src)
	}

	out, err := os.OpenFile(filepath.Clean(dst), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("%w to %s: %w", ErrCopyBinary, dst, err)
	}

	if _, err = io.Copy(out, in); err != nil {
		_ = out.Close()

		return fmt.Errorf("%w to %s: %w", ErrCopyBinary, dst, err)
	}

	if err = out.Close(); err != nil {
		return fmt.Errorf("%w to %s: %w", ErrCopyBinary, dst, err)
	}

	// OpenFile keeps the mode of a file left by an earlier run.
	if err = os.Chmod(dst, info.Mode().Perm()); err != nil {
		return fmt.Errorf("%w to %s: %w", ErrCopyBinary, dst, err)
	}

	return nil
}

func ensureDirectory(path string) error {
	if err := os.MkdirAll(path, DefaultDirectoryMode); err != nil {
		return fmt.Errorf("%w %s: %w", ErrDirectory, path, err)
	}

	return nil
}
