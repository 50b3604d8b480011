package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/oshokin/gitrs-bundler/internal/archive"
)

// Target names one supported operating-system/architecture combination.
type Target string

const (
	// TargetDarwin is the macOS x86-64 target.
	TargetDarwin Target = "x86_64-apple-darwin"
	// TargetLinux is the GNU/Linux x86-64 target.
	TargetLinux Target = "x86_64-unknown-linux-gnu"
	// TargetWindows is the MSVC Windows x86-64 target.
	TargetWindows Target = "x86_64-pc-windows-msvc"
)

const (
	// TargetEnv is the environment variable that selects the target.
	TargetEnv = "TARGET"

	// BuildDirectoryName is the assembled tree root inside the working directory.
	BuildDirectoryName = "build"
	// VendorDirectoryName is where the vendor bundle is extracted inside the build directory.
	VendorDirectoryName = "vendor"
	// TempFileBaseName is the download file name without its format extension.
	TempFileBaseName = "git"

	// DigestLength is the length of a hex-encoded SHA-256 digest.
	DigestLength = 64

	baseBinaryName = "git_server"
)

// binarySourceDirectory is where the server build leaves its release binary.
//
//nolint:gochecknoglobals // Fixed path relative to the working directory.
var binarySourceDirectory = []string{"gitrs_server", "target", "release"}

// ErrUnknownTarget is returned when the target is not one of Targets.
var ErrUnknownTarget = errors.New("unrecognized target")

type targetSpec struct {
	source        string
	digest        string
	executable    bool
	packageFormat archive.Format
}

// knownTargets holds the dugite-native bundle pinned for every target.
//
//nolint:gochecknoglobals // Immutable lookup table.
var knownTargets = map[Target]targetSpec{
	TargetDarwin: {
		source:        "https://github.com/desktop/dugite-native/releases/download/v2.17.1-2/dugite-native-v2.17.1-macOS.tar.gz",
		digest:        "f92ff67688ddc9ce48ba50e9e9ed8cf49e958a697ca2571edce898a4b9dae474",
		packageFormat: archive.FormatTarGz,
	},
	TargetLinux: {
		source:        "https://github.com/desktop/dugite-native/releases/download/v2.17.1-2/dugite-native-v2.17.1-ubuntu.tar.gz",
		digest:        "a3750dade1682d1805623661e006f842c6bbf9cc4e450ed161e49edeb2847a86",
		packageFormat: archive.FormatTarGz,
	},
	TargetWindows: {
		source:        "https://github.com/desktop/dugite-native/releases/download/v2.17.1-2/dugite-native-v2.17.1-win32.tar.gz",
		digest:        "6a7f166a8211c60d724cc23ef378a059375a67f1c352f5a44846dd0c84285f30",
		executable:    true,
		packageFormat: archive.FormatZip,
	},
}

// Targets returns the supported targets in a stable order.
func Targets() []Target {
	return []Target{TargetDarwin, TargetLinux, TargetWindows}
}

// TargetFromEnv reads the target selected through TargetEnv.
func TargetFromEnv() Target {
	return Target(os.Getenv(TargetEnv))
}

// IsKnown reports whether t is one of Targets.
func (t Target) IsKnown() bool {
	_, ok := knownTargets[t]
	return ok
}

// String implements fmt.Stringer.
func (t Target) String() string {
	return string(t)
}

// BinaryName returns the server executable name for the target.
func (t Target) BinaryName() string {
	if known, ok := knownTargets[t]; ok && known.executable {
		return baseBinaryName + ".exe"
	}

	return baseBinaryName
}

// ReleaseConfig carries everything one pipeline run needs.
// It is immutable: fields are set by Resolve and exposed through accessors only.
type ReleaseConfig struct {
	target         Target
	source         string
	expectedDigest string
	signatureURL   string
	keyring        string
	binaryName     string
	bundleFormat   archive.Format
	packageFormat  archive.Format

	workDirectory   string
	buildDirectory  string
	vendorDirectory string
	tempFile        string
	binaryPath      string
}

// ResolveOption adjusts how Resolve builds a ReleaseConfig.
type ResolveOption func(*resolveOptions)

type resolveOptions struct {
	override      *Override
	packageFormat archive.Format
}

// WithOverride replaces the pinned source of the target, for mirrors.
func WithOverride(override *Override) ResolveOption {
	return func(o *resolveOptions) {
		o.override = override
	}
}

// WithPackageFormat replaces the packaging format of the target.
// It takes precedence over an Override format; empty keeps the default.
func WithPackageFormat(format archive.Format) ResolveOption {
	return func(o *resolveOptions) {
		o.packageFormat = format
	}
}

// Resolve maps a target onto a fully populated ReleaseConfig rooted at workDir.
// An unknown target yields ErrUnknownTarget and no configuration.
func Resolve(target Target, workDir string, opts ...ResolveOption) (*ReleaseConfig, error) {
	known, ok := knownTargets[target]
	if !ok {
		return nil, fmt.Errorf("%w: %q (expected one of %v)", ErrUnknownTarget, target, Targets())
	}

	var options resolveOptions
	for _, opt := range opts {
		opt(&options)
	}

	cfg := &ReleaseConfig{
		target:         target,
		source:         known.source,
		expectedDigest: known.digest,
		binaryName:     target.BinaryName(),
		packageFormat:  known.packageFormat,
	}

	if o := options.override; o != nil {
		if o.Source != "" {
			cfg.source = o.Source
		}

		if o.Digest != "" {
			cfg.expectedDigest = o.Digest
		}

		if o.Format != "" {
			cfg.packageFormat = o.Format
		}

		cfg.signatureURL = o.SignatureURL
		cfg.keyring = o.Keyring
	}

	if options.packageFormat != "" {
		cfg.packageFormat = options.packageFormat
	}

	if err := validateDigest(cfg.expectedDigest); err != nil {
		return nil, err
	}

	bundleFormat, err := archive.FormatFromName(sourcePath(cfg.source))
	if err != nil {
		return nil, fmt.Errorf("bundle format of %s: %w", cfg.source, err)
	}

	cfg.bundleFormat = bundleFormat

	cfg.workDirectory = filepath.Clean(workDir)
	cfg.buildDirectory = filepath.Join(cfg.workDirectory, BuildDirectoryName)
	cfg.vendorDirectory = filepath.Join(cfg.buildDirectory, VendorDirectoryName)
	cfg.tempFile = filepath.Join(cfg.buildDirectory, TempFileBaseName+"."+bundleFormat.Extension())
	cfg.binaryPath = filepath.Join(append(append([]string{cfg.workDirectory}, binarySourceDirectory...), cfg.binaryName)...)

	return cfg, nil
}

// Target returns the platform the run packages for.
func (c *ReleaseConfig) Target() Target { return c.target }

// Source returns the vendor bundle URL.
func (c *ReleaseConfig) Source() string { return c.source }

// ExpectedDigest returns the lowercase hex SHA-256 of the vendor bundle.
func (c *ReleaseConfig) ExpectedDigest() string { return c.expectedDigest }

// SignatureURL returns the detached signature URL, empty when none is configured.
func (c *ReleaseConfig) SignatureURL() string { return c.signatureURL }

// Keyring returns the OpenPGP keyring path used with SignatureURL.
func (c *ReleaseConfig) Keyring() string { return c.keyring }

// BinaryName returns the server executable name inside the build directory.
func (c *ReleaseConfig) BinaryName() string { return c.binaryName }

// BundleFormat returns the archive format of the vendor bundle.
func (c *ReleaseConfig) BundleFormat() archive.Format { return c.bundleFormat }

// PackageFormat returns the archive format of the release artifact.
func (c *ReleaseConfig) PackageFormat() archive.Format { return c.packageFormat }

// WorkDirectory returns the directory the run is rooted at.
func (c *ReleaseConfig) WorkDirectory() string { return c.workDirectory }

// BuildDirectory returns the assembled tree root.
func (c *ReleaseConfig) BuildDirectory() string { return c.buildDirectory }

// VendorDirectory returns the vendor bundle extraction directory.
func (c *ReleaseConfig) VendorDirectory() string { return c.vendorDirectory }

// TempFile returns the download destination of the vendor bundle.
func (c *ReleaseConfig) TempFile() string { return c.tempFile }

// SignatureFile returns the download destination of the detached signature.
// It sits next to the artifact so it never ends up inside the packaged tree.
func (c *ReleaseConfig) SignatureFile() string {
	return filepath.Join(c.workDirectory, filepath.Base(c.tempFile)+".sig")
}

// BinaryPath returns where the prebuilt server binary is expected.
func (c *ReleaseConfig) BinaryPath() string { return c.binaryPath }

// ArchiveName returns the release artifact file name, <target>.<ext>.
func (c *ReleaseConfig) ArchiveName() string {
	return string(c.target) + "." + c.packageFormat.Extension()
}

// ArchivePath returns where the release artifact is written.
func (c *ReleaseConfig) ArchivePath() string {
	return filepath.Join(c.workDirectory, c.ArchiveName())
}

// sourcePath drops the query and fragment so the format can be read from the suffix.
func sourcePath(source string) string {
	parsed, err := url.Parse(source)
	if err != nil || parsed.Path == "" {
		return source
	}

	return parsed.Path
}
