package tagcheck

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/pelletier/go-toml/v2"
)

// DefaultManifestPath is the server crate manifest relative to the working directory.
const DefaultManifestPath = "gitrs_server/Cargo.toml"

var (
	// ErrNoTag is returned when no tag is given and none is set by CI.
	ErrNoTag = errors.New("no release tag")
	// ErrNotReleaseTag is returned for tags that do not name a release.
	ErrNotReleaseTag = errors.New("not a release tag")
	// ErrNoVersion is returned when the manifest has no package version.
	ErrNoVersion = errors.New("manifest has no package version")
	// ErrVersionMismatch is returned when the tag and the manifest version differ.
	ErrVersionMismatch = errors.New("tag does not match manifest version")
)

// tagEnvironment lists the CI variables carrying the pushed tag, in lookup order.
//
//nolint:gochecknoglobals // Fixed lookup order.
var tagEnvironment = []string{"TRAVIS_TAG", "APPVEYOR_REPO_TAG_NAME"}

// releaseTag accepts 1.2.3 and 1.2.3-RC4, and also repeated dots before the patch number.
//
//nolint:gochecknoglobals // Compiled once.
var releaseTag = regexp.MustCompile(`^\d+\.\d+\.+\d(-RC\d+)?$`)

// manifest is the part of Cargo.toml the checks need.
type manifest struct {
	Package struct {
		Version string `toml:"version"`
	} `toml:"package"`
}

// TagFromEnv returns the first non-empty CI tag variable.
func TagFromEnv() string {
	for _, name := range tagEnvironment {
		if tag := os.Getenv(name); tag != "" {
			return tag
		}
	}

	return ""
}

// IsReleaseTag reports whether tag names a release.
func IsReleaseTag(tag string) bool {
	return releaseTag.MatchString(tag)
}

// CheckReleaseTag returns ErrNotReleaseTag unless tag names a release.
func CheckReleaseTag(tag string) error {
	if tag == "" {
		return ErrNoTag
	}

	if !IsReleaseTag(tag) {
		return fmt.Errorf("%w: %q", ErrNotReleaseTag, tag)
	}

	return nil
}

// ManifestVersion reads [package].version from a Cargo.toml file.
func ManifestVersion(path string) (string, error) {
	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("read manifest: %w", err)
	}

	var m manifest
	if err = toml.Unmarshal(contents, &m); err != nil {
		return "", fmt.Errorf("parse manifest %s: %w", path, err)
	}

	if m.Package.Version == "" {
		return "", fmt.Errorf("%w: %s", ErrNoVersion, path)
	}

	return m.Package.Version, nil
}

// CheckManifest verifies that the manifest at path declares exactly tag as its version.
func CheckManifest(path, tag string) error {
	if tag == "" {
		return ErrNoTag
	}

	version, err := ManifestVersion(path)
	if err != nil {
		return err
	}

	if version != tag {
		return fmt.Errorf("%w: tag %q, %s declares %q", ErrVersionMismatch, tag, path, version)
	}

	return nil
}
