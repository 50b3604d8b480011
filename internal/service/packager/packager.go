package packager

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/oshokin/gitrs-bundler/internal/archive"
	"github.com/oshokin/gitrs-bundler/internal/config"
	"github.com/oshokin/gitrs-bundler/internal/logger"
	"github.com/oshokin/gitrs-bundler/internal/service/verifier"
)

// partialSuffix marks an artifact that is still being written.
const partialSuffix = ".partial"

// ErrPackage is returned when the release artifact cannot be produced.
var ErrPackage = errors.New("package build directory")

// Package archives the server binary and the vendor tree of the build
// directory into <target>.<ext> in the working directory and returns the
// artifact path. Anything else left in the build directory is not packed.
// The archive is written next to its final name first, so a failure never
// leaves a truncated or unreported artifact.
func Package(ctx context.Context, cfg *config.ReleaseConfig) (string, error) {
	dest := cfg.ArchivePath()
	partial := dest + partialSuffix

	logger.InfoKV(ctx, "Packaging build directory",
		"from", cfg.BuildDirectory(), "format", cfg.PackageFormat(), "to", dest)

	digest, err := writePartial(cfg, partial)
	if err != nil {
		_ = os.Remove(partial)

		return "", fmt.Errorf("%w into %s: %w", ErrPackage, dest, err)
	}

	if err = os.Rename(partial, dest); err != nil {
		_ = os.Remove(partial)

		return "", fmt.Errorf("%w into %s: %w", ErrPackage, dest, err)
	}

	logger.InfoKV(ctx, "Release artifact ready", "path", dest, "sha256", digest)

	return dest, nil
}

// writePartial creates the archive at partial and returns its digest.
func writePartial(cfg *config.ReleaseConfig, partial string) (string, error) {
	err := archive.Create(cfg.PackageFormat(), cfg.BuildDirectory(), partial,
		cfg.BinaryName(), config.VendorDirectoryName)
	if err != nil {
		return "", err
	}

	return verifier.Digest(partial)
}
