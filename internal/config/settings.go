package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/gitrs-bundler/internal/archive"
)

// Settings holds optional bundler settings read from YAML.
type Settings struct {
	// Timeout bounds every outbound request, including the body transfer.
	Timeout time.Duration `yaml:"timeout"`
	// Targets replaces pinned bundle sources per target, e.g. to use a mirror.
	Targets map[Target]*Override `yaml:"targets,omitempty"`
}

// Override replaces parts of the pinned source of one target.
type Override struct {
	// Source is the vendor bundle URL.
	Source string `yaml:"source,omitempty"`
	// Digest is the lowercase hex SHA-256 of the bundle served at Source.
	Digest string `yaml:"digest,omitempty"`
	// SignatureURL points to a detached OpenPGP signature of the bundle.
	SignatureURL string `yaml:"signature_url,omitempty"`
	// Keyring is the path to the OpenPGP public keyring that signed the bundle.
	Keyring string `yaml:"keyring,omitempty"`
	// Format is the packaging format of the release artifact.
	Format archive.Format `yaml:"format,omitempty"`
}

const (
	// DefaultSettingsFilename is looked up in the working directory when no path is given.
	DefaultSettingsFilename = "gitrs-bundler.yaml"

	// DefaultTimeout bounds a vendor bundle download.
	DefaultTimeout = 10 * time.Minute

	// DefaultFilePermissions is the default file permission for settings files.
	DefaultFilePermissions = 0o600
)

var (
	// errSettingsIsNotSet is returned when nil settings are provided.
	errSettingsIsNotSet = errors.New("settings are not set")
	// errNegativeTimeout is returned for a timeout below zero.
	errNegativeTimeout = errors.New("timeout must not be negative")
	// errSignatureWithoutKeyring is returned when a signature URL has no keyring to check it against.
	errSignatureWithoutKeyring = errors.New("signature_url requires keyring")

	// ErrInvalidDigest is returned for digests that are not 64 hex characters.
	ErrInvalidDigest = errors.New("invalid sha256 digest")
	// ErrInvalidSource is returned for bundle URLs that are not absolute http(s) URLs.
	ErrInvalidSource = errors.New("invalid source url")
)

// DefaultSettings returns settings used when no file exists.
func DefaultSettings() *Settings {
	return &Settings{
		Timeout: DefaultTimeout,
	}
}

// LoadSettings reads settings from path.
// An empty path means DefaultSettingsFilename, which may be absent.
func LoadSettings(path string) (*Settings, error) {
	optional := path == ""
	if optional {
		path = DefaultSettingsFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if optional && errors.Is(err, os.ErrNotExist) {
			return DefaultSettings(), nil
		}

		return nil, fmt.Errorf("read settings: %w", err)
	}

	settings := DefaultSettings()
	if err = yaml.Unmarshal(contents, settings); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err = Validate(settings); err != nil {
		return nil, err
	}

	return settings, nil
}

// SaveSettings writes settings to path.
func SaveSettings(path string, settings *Settings) error {
	if settings == nil {
		return errSettingsIsNotSet
	}

	if path == "" {
		path = DefaultSettingsFilename
	}

	if err := Validate(settings); err != nil {
		return err
	}

	data, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	if err = os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate checks settings and fills defaults.
func Validate(settings *Settings) error {
	if settings == nil {
		return errSettingsIsNotSet
	}

	if settings.Timeout < 0 {
		return errNegativeTimeout
	}

	if settings.Timeout == 0 {
		settings.Timeout = DefaultTimeout
	}

	for target, override := range settings.Targets {
		if !target.IsKnown() {
			return fmt.Errorf("%w: %q", ErrUnknownTarget, target)
		}

		if override == nil {
			continue
		}

		if err := validateOverride(override); err != nil {
			return fmt.Errorf("target %s: %w", target, err)
		}
	}

	return nil
}

// Override returns the override configured for target, or nil.
func (s *Settings) Override(target Target) *Override {
	if s == nil {
		return nil
	}

	return s.Targets[target]
}

func validateOverride(override *Override) error {
	if override.Source != "" {
		if err := validateURL(override.Source); err != nil {
			return err
		}

		// A new source without its own digest would be checked against the pinned bundle.
		if override.Digest == "" {
			return fmt.Errorf("%w: source %s has no digest", ErrInvalidDigest, override.Source)
		}
	}

	if override.Digest != "" {
		if err := validateDigest(override.Digest); err != nil {
			return err
		}
	}

	if override.SignatureURL != "" {
		if err := validateURL(override.SignatureURL); err != nil {
			return err
		}

		if override.Keyring == "" {
			return errSignatureWithoutKeyring
		}
	}

	return nil
}

func validateURL(raw string) error {
	parsed, err := url.ParseRequestURI(raw)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSource, err)
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%w: unsupported scheme %q", ErrInvalidSource, parsed.Scheme)
	}

	if parsed.Host == "" {
		return fmt.Errorf("%w: %s has no host", ErrInvalidSource, raw)
	}

	return nil
}

func validateDigest(digest string) error {
	if len(digest) != DigestLength {
		return fmt.Errorf("%w: %q has %d characters, want %d", ErrInvalidDigest, digest, len(digest), DigestLength)
	}

	if _, err := hex.DecodeString(digest); err != nil {
		return fmt.Errorf("%w: %q: %w", ErrInvalidDigest, digest, err)
	}

	return nil
}
