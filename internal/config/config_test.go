package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/gitrs-bundler/internal/archive"
)

// TestResolveKnownTargets checks every target resolves to a complete configuration.
func TestResolveKnownTargets(t *testing.T) {
	t.Parallel()

	workDir := t.TempDir()

	for _, target := range Targets() {
		cfg, err := Resolve(target, workDir)
		require.NoError(t, err, target)

		require.Equal(t, target, cfg.Target())
		require.True(t, strings.HasPrefix(cfg.Source(), "https://"))
		require.Len(t, cfg.ExpectedDigest(), DigestLength)
		require.Equal(t, strings.ToLower(cfg.ExpectedDigest()), cfg.ExpectedDigest())
		require.Equal(t, archive.FormatTarGz, cfg.BundleFormat())

		require.Equal(t, filepath.Join(workDir, "build"), cfg.BuildDirectory())
		require.Equal(t, filepath.Join(workDir, "build", "vendor"), cfg.VendorDirectory())
		require.Equal(t, filepath.Join(workDir, "build", "git.tar.gz"), cfg.TempFile())
		require.Equal(t,
			filepath.Join(workDir, "gitrs_server", "target", "release", cfg.BinaryName()),
			cfg.BinaryPath())

		if target == TargetWindows {
			require.Equal(t, "git_server.exe", cfg.BinaryName())
			require.Equal(t, archive.FormatZip, cfg.PackageFormat())
			require.Equal(t, "x86_64-pc-windows-msvc.zip", cfg.ArchiveName())
		} else {
			require.Equal(t, "git_server", cfg.BinaryName())
			require.Equal(t, archive.FormatTarGz, cfg.PackageFormat())
			require.Equal(t, string(target)+".tar.gz", cfg.ArchiveName())
		}

		require.Equal(t, filepath.Join(workDir, cfg.ArchiveName()), cfg.ArchivePath())
		require.Equal(t, filepath.Join(workDir, "git.tar.gz.sig"), cfg.SignatureFile())
		require.NotEqual(t, cfg.BuildDirectory(), filepath.Dir(cfg.SignatureFile()))
	}
}

// TestResolveUnknownTarget fails immediately instead of producing empty fields.
func TestResolveUnknownTarget(t *testing.T) {
	t.Parallel()

	for _, target := range []Target{"", "aarch64-unknown-linux-gnu", "X86_64-APPLE-DARWIN"} {
		cfg, err := Resolve(target, t.TempDir())
		require.ErrorIs(t, err, ErrUnknownTarget)
		require.Nil(t, cfg)
	}
}

// TestResolveOverrides applies mirror overrides and the explicit format in precedence order.
func TestResolveOverrides(t *testing.T) {
	t.Parallel()

	digest := strings.Repeat("ab", 32)
	override := &Override{
		Source: "http://mirror.local/git/bundle.tar.xz?token=1",
		Digest: digest,
		Format: archive.FormatTarZst,
	}

	cfg, err := Resolve(TargetLinux, t.TempDir(), WithOverride(override))
	require.NoError(t, err)
	require.Equal(t, override.Source, cfg.Source())
	require.Equal(t, digest, cfg.ExpectedDigest())
	require.Equal(t, archive.FormatTarXz, cfg.BundleFormat())
	require.True(t, strings.HasSuffix(cfg.TempFile(), "git.tar.xz"))
	require.Equal(t, archive.FormatTarZst, cfg.PackageFormat())

	cfg, err = Resolve(TargetLinux, t.TempDir(), WithOverride(override), WithPackageFormat(archive.FormatZip))
	require.NoError(t, err)
	require.Equal(t, archive.FormatZip, cfg.PackageFormat())
	require.Equal(t, "x86_64-unknown-linux-gnu.zip", cfg.ArchiveName())

	_, err = Resolve(TargetLinux, t.TempDir(), WithOverride(&Override{Digest: "short"}))
	require.ErrorIs(t, err, ErrInvalidDigest)
}

// TestTargetFromEnv reads the selecting environment variable.
func TestTargetFromEnv(t *testing.T) {
	t.Setenv(TargetEnv, string(TargetDarwin))

	require.Equal(t, TargetDarwin, TargetFromEnv())
}

// TestValidate checks defaults and override validation.
func TestValidate(t *testing.T) {
	t.Parallel()

	settings := new(Settings)
	require.NoError(t, Validate(settings))
	require.Equal(t, DefaultTimeout, settings.Timeout)

	require.Error(t, Validate(&Settings{Timeout: -time.Second}))
	require.Error(t, Validate(nil))

	settings = &Settings{Targets: map[Target]*Override{"sparc-sun-solaris": {}}}
	require.ErrorIs(t, Validate(settings), ErrUnknownTarget)

	settings = &Settings{Targets: map[Target]*Override{
		TargetLinux: {Source: "ftp://mirror.local/bundle.tar.gz", Digest: strings.Repeat("0", 64)},
	}}
	require.ErrorIs(t, Validate(settings), ErrInvalidSource)

	settings = &Settings{Targets: map[Target]*Override{
		TargetLinux: {Source: "https://mirror.local/bundle.tar.gz"},
	}}
	require.ErrorIs(t, Validate(settings), ErrInvalidDigest)

	settings = &Settings{Targets: map[Target]*Override{
		TargetLinux: {Digest: strings.Repeat("zz", 32)},
	}}
	require.ErrorIs(t, Validate(settings), ErrInvalidDigest)

	settings = &Settings{Targets: map[Target]*Override{
		TargetLinux: {SignatureURL: "https://mirror.local/bundle.tar.gz.asc"},
	}}
	require.Error(t, Validate(settings))
}

// TestSaveLoadRoundtrip ensures settings are persisted and loaded back correctly.
func TestSaveLoadRoundtrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "settings.yaml")

	settings := &Settings{
		Timeout: 90 * time.Second,
		Targets: map[Target]*Override{
			TargetWindows: {
				Source: "https://mirror.local/win32.tar.gz",
				Digest: strings.Repeat("1f", 32),
				Format: archive.FormatTarGz,
			},
		},
	}

	require.NoError(t, SaveSettings(path, settings))

	loaded, err := LoadSettings(path)
	require.NoError(t, err)
	require.Equal(t, settings.Timeout, loaded.Timeout)
	require.Equal(t, settings.Targets[TargetWindows], loaded.Override(TargetWindows))
	require.Nil(t, loaded.Override(TargetLinux))
}

// TestLoadSettingsMissingFile tolerates only the implicit default file being absent.
func TestLoadSettingsMissingFile(t *testing.T) {
	t.Chdir(t.TempDir())

	settings, err := LoadSettings("")
	require.NoError(t, err)
	require.Equal(t, DefaultTimeout, settings.Timeout)

	_, err = LoadSettings("missing.yaml")
	require.ErrorIs(t, err, os.ErrNotExist)
}

// TestLoadSettingsParsesYAML reads durations and formats written by hand.
func TestLoadSettingsParsesYAML(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "gitrs-bundler.yaml")
	contents := "timeout: 2m\ntargets:\n  x86_64-unknown-linux-gnu:\n    format: tgz\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	settings, err := LoadSettings(path)
	require.NoError(t, err)
	require.Equal(t, 2*time.Minute, settings.Timeout)
	require.Equal(t, archive.FormatTarGz, settings.Override(TargetLinux).Format)
}
