package verifier

import (
	"crypto"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp" //nolint:staticcheck // Maintained fork of x/crypto/openpgp.

	// Ensure SHA256 available for digest calculation.
	_ "crypto/sha256"
)

// DigestFunction is the hash used for vendor bundle digests.
const DigestFunction crypto.Hash = crypto.SHA256

var (
	// ErrChecksumMismatch is matched by every *MismatchError.
	ErrChecksumMismatch = errors.New("checksum mismatch")
	// ErrSignature is returned when a detached signature does not verify.
	ErrSignature = errors.New("signature verification failed")

	errHashUnavailable = errors.New("hash function unavailable")
	errEmptyKeyring    = errors.New("keyring is empty")
)

// MismatchError describes a downloaded file whose digest differs from the pinned one.
type MismatchError struct {
	// Path is the verified file.
	Path string
	// Expected is the pinned digest.
	Expected string
	// Actual is the digest computed over the file.
	Actual string
}

// Error implements error.
func (e *MismatchError) Error() string {
	return fmt.Sprintf("checksum validation failed for %s: expected %s but got %s", e.Path, e.Expected, e.Actual)
}

// Is makes errors.Is(err, ErrChecksumMismatch) hold.
func (e *MismatchError) Is(target error) bool {
	return target == ErrChecksumMismatch
}

// Digest returns the lowercase hex digest of the whole file at path.
func Digest(path string) (string, error) {
	if !DigestFunction.Available() {
		return "", fmt.Errorf("digest calculation not possible: %w", errHashUnavailable)
	}

	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}

	defer func() {
		_ = file.Close()
	}()

	hasher := DigestFunction.New()
	if _, err = io.Copy(hasher, file); err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// Verify reads the whole file and compares its digest with expected.
// The comparison ignores the case of expected.
func Verify(path, expected string) error {
	actual, err := Digest(path)
	if err != nil {
		return err
	}

	if actual != strings.ToLower(strings.TrimSpace(expected)) {
		return &MismatchError{
			Path:     path,
			Expected: expected,
			Actual:   actual,
		}
	}

	return nil
}

// VerifySignature checks a detached OpenPGP signature, armored or binary,
// of the file at path against the public keys in keyringPath.
func VerifySignature(path, signaturePath, keyringPath string) error {
	keyring, err := loadKeyring(keyringPath)
	if err != nil {
		return err
	}

	signed, err := os.Open(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}

	defer func() {
		_ = signed.Close()
	}()

	signature, err := os.Open(filepath.Clean(signaturePath))
	if err != nil {
		return fmt.Errorf("open signature: %w", err)
	}

	defer func() {
		_ = signature.Close()
	}()

	_, err = openpgp.CheckArmoredDetachedSignature(keyring, signed, signature, nil)
	if err == nil {
		return nil
	}

	if err = rewind(signed, signature); err != nil {
		return err
	}

	if _, err = openpgp.CheckDetachedSignature(keyring, signed, signature, nil); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSignature, path, err)
	}

	return nil
}

func loadKeyring(keyringPath string) (openpgp.EntityList, error) {
	file, err := os.Open(filepath.Clean(keyringPath))
	if err != nil {
		return nil, fmt.Errorf("open keyring: %w", err)
	}

	defer func() {
		_ = file.Close()
	}()

	keyring, err := openpgp.ReadArmoredKeyRing(file)
	if err != nil {
		if _, err = file.Seek(0, io.SeekStart); err != nil {
			return nil, fmt.Errorf("rewind keyring: %w", err)
		}

		if keyring, err = openpgp.ReadKeyRing(file); err != nil {
			return nil, fmt.Errorf("read keyring: %w", err)
		}
	}

	if len(keyring) == 0 {
		return nil, errEmptyKeyring
	}

	return keyring, nil
}

func rewind(files ...*os.File) error {
	for _, file := range files {
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("rewind %s: %w", file.Name(), err)
		}
	}

	return nil
}
