package archive

import (
	"archive/tar"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"
)

// buildTree creates a small tree resembling an assembled release.
func buildTree(t *testing.T) string {
	t.Helper()

	root := t.TempDir()
	files := map[string]string{
		"git_server":                    "#!/bin/sh\necho server\n",
		"vendor/bin/git":                "git binary",
		"vendor/libexec/git-core/git-a": "helper a",
		"vendor/share/empty.txt":        "",
	}

	for name, body := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	}

	require.NoError(t, os.Chmod(filepath.Join(root, "git_server"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "vendor", "etc"), 0o755))

	if runtime.GOOS != "windows" {
		require.NoError(t, os.Symlink("../bin/git", filepath.Join(root, "vendor", "libexec", "git")))
	}

	return root
}

// snapshot maps relative paths to file contents ("<dir>" for directories, "-> target" for links).
func snapshot(t *testing.T, root string) map[string]string {
	t.Helper()

	result := make(map[string]string)

	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		require.NoError(t, err)

		rel, err := filepath.Rel(root, path)
		require.NoError(t, err)

		switch {
		case rel == ".":
		case info.Mode()&os.ModeSymlink != 0:
			link, err := os.Readlink(path)
			require.NoError(t, err)

			result[filepath.ToSlash(rel)] = "-> " + link
		case info.IsDir():
			result[filepath.ToSlash(rel)] = "<dir>"
		default:
			body, err := os.ReadFile(path)
			require.NoError(t, err)

			result[filepath.ToSlash(rel)] = string(body)
		}

		return nil
	})
	require.NoError(t, err)

	return result
}

// TestCreateExtractRoundTrip checks every format reproduces the source tree byte for byte.
func TestCreateExtractRoundTrip(t *testing.T) {
	t.Parallel()

	for _, format := range Formats() {
		t.Run(format.String(), func(t *testing.T) {
			t.Parallel()

			src := buildTree(t)
			archivePath := filepath.Join(t.TempDir(), "release."+format.Extension())

			require.NoError(t, Create(format, src, archivePath))

			dest := filepath.Join(t.TempDir(), "out")
			require.NoError(t, Extract(format, archivePath, dest))

			require.Equal(t, snapshot(t, src), snapshot(t, dest))

			if runtime.GOOS != "windows" {
				info, err := os.Stat(filepath.Join(dest, "git_server"))
				require.NoError(t, err)
				require.Equal(t, os.FileMode(0o755), info.Mode().Perm())
			}
		})
	}
}

// TestCreateSelectedEntries packs only the named paths and rejects names outside the source.
func TestCreateSelectedEntries(t *testing.T) {
	t.Parallel()

	src := buildTree(t)
	require.NoError(t, os.WriteFile(filepath.Join(src, "git.tar.gz.sig"), []byte("sig"), 0o644))

	archivePath := filepath.Join(t.TempDir(), "release.tar.gz")
	require.NoError(t, Create(FormatTarGz, src, archivePath, "git_server", "vendor"))

	dest := t.TempDir()
	require.NoError(t, Extract(FormatTarGz, archivePath, dest))

	entries, err := os.ReadDir(dest)
	require.NoError(t, err)

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}

	require.Equal(t, []string{"git_server", "vendor"}, names)

	want := snapshot(t, src)
	delete(want, "git.tar.gz.sig")
	require.Equal(t, want, snapshot(t, dest))

	require.ErrorIs(t, Create(FormatTarGz, src, archivePath, "../outside"), ErrIllegalPath)
	require.ErrorIs(t, Create(FormatTarGz, src, archivePath, "."), ErrIllegalPath)
	require.ErrorIs(t, Create(FormatZip, src, archivePath, "missing"), os.ErrNotExist)
}

// TestExtractRejectsTraversal makes sure entries cannot escape the destination.
func TestExtractRejectsTraversal(t *testing.T) {
	t.Parallel()

	archivePath := writeTarGz(t, &tar.Header{
		Name:     "../evil.txt",
		Typeflag: tar.TypeReg,
		Mode:     0o644,
		Size:     4,
	}, "evil")

	dest := filepath.Join(t.TempDir(), "out")

	err := Extract(FormatTarGz, archivePath, dest)
	require.ErrorIs(t, err, ErrIllegalPath)

	_, err = os.Stat(filepath.Join(filepath.Dir(dest), "evil.txt"))
	require.True(t, os.IsNotExist(err))
}

// TestExtractRejectsEscapingSymlink refuses links pointing outside the destination.
func TestExtractRejectsEscapingSymlink(t *testing.T) {
	t.Parallel()

	archivePath := writeTarGz(t, &tar.Header{
		Name:     "link",
		Typeflag: tar.TypeSymlink,
		Linkname: "../../etc/passwd",
	}, "")

	err := Extract(FormatTarGz, archivePath, t.TempDir())
	require.ErrorIs(t, err, ErrIllegalPath)
}

// TestExtractRejectsChainedSymlinks refuses a link that only escapes once earlier links are followed.
func TestExtractRejectsChainedSymlinks(t *testing.T) {
	t.Parallel()

	if runtime.GOOS == "windows" {
		t.Skip("symlinks need extra privileges on windows")
	}

	archivePath := filepath.Join(t.TempDir(), "chain.tar.gz")

	out, err := os.Create(archivePath)
	require.NoError(t, err)

	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)

	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "d/", Typeflag: tar.TypeDir, Mode: 0o755}))
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "d/l", Typeflag: tar.TypeSymlink, Linkname: ".."}))
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "d/l/l2", Typeflag: tar.TypeSymlink, Linkname: ".."}))
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	require.NoError(t, out.Close())

	dest := filepath.Join(t.TempDir(), "out")

	err = Extract(FormatTarGz, archivePath, dest)
	require.ErrorIs(t, err, ErrIllegalPath)

	_, err = os.Lstat(filepath.Join(dest, "l2"))
	require.True(t, os.IsNotExist(err))
}

// TestExtractRejectsUnsupportedEntries fails on device and fifo entries.
func TestExtractRejectsUnsupportedEntries(t *testing.T) {
	t.Parallel()

	archivePath := writeTarGz(t, &tar.Header{
		Name:     "pipe",
		Typeflag: tar.TypeFifo,
		Mode:     0o644,
	}, "")

	err := Extract(FormatTarGz, archivePath, t.TempDir())
	require.ErrorIs(t, err, ErrUnsupportedEntry)
}

// TestExtractCorruptArchive reports an error instead of a partial success.
func TestExtractCorruptArchive(t *testing.T) {
	t.Parallel()

	archivePath := filepath.Join(t.TempDir(), "broken.tar.gz")
	require.NoError(t, os.WriteFile(archivePath, []byte("definitely not gzip"), 0o644))

	require.Error(t, Extract(FormatTarGz, archivePath, t.TempDir()))
	require.Error(t, Extract(FormatTarXz, archivePath, t.TempDir()))
	require.Error(t, Extract(FormatZip, archivePath, t.TempDir()))
}

// TestExtractHardlink materializes hard links against earlier entries.
func TestExtractHardlink(t *testing.T) {
	t.Parallel()

	archivePath := filepath.Join(t.TempDir(), "links.tar.gz")

	out, err := os.Create(archivePath)
	require.NoError(t, err)

	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)

	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "bin/git", Typeflag: tar.TypeReg, Mode: 0o755, Size: 3}))
	_, err = tw.Write([]byte("git"))
	require.NoError(t, err)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "bin/git-upload-pack", Typeflag: tar.TypeLink, Linkname: "bin/git"}))
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	require.NoError(t, out.Close())

	dest := t.TempDir()
	require.NoError(t, Extract(FormatTarGz, archivePath, dest))

	body, err := os.ReadFile(filepath.Join(dest, "bin", "git-upload-pack"))
	require.NoError(t, err)
	require.Equal(t, "git", string(body))
}

// TestFormatDetection covers name parsing and suffix detection.
func TestFormatDetection(t *testing.T) {
	t.Parallel()

	byName := map[string]Format{
		"https://example.com/dugite-native-v2.17.1-ubuntu.tar.gz": FormatTarGz,
		"bundle.TGZ":     FormatTarGz,
		"bundle.tar.xz":  FormatTarXz,
		"bundle.tar.zst": FormatTarZst,
		"bundle.zip":     FormatZip,
	}
	for name, want := range byName {
		got, err := FormatFromName(name)
		require.NoError(t, err, name)
		require.Equal(t, want, got)
	}

	_, err := FormatFromName("bundle.rar")
	require.ErrorIs(t, err, ErrUnknownFormat)

	parsed, err := ParseFormat(".tgz")
	require.NoError(t, err)
	require.Equal(t, FormatTarGz, parsed)

	_, err = ParseFormat("7z")
	require.ErrorIs(t, err, ErrUnknownFormat)

	var f Format
	require.NoError(t, f.UnmarshalText([]byte("zip")))
	require.Equal(t, FormatZip, f)
}

func writeTarGz(t *testing.T, header *tar.Header, body string) string {
	t.Helper()

	archivePath := filepath.Join(t.TempDir(), "test.tar.gz")

	out, err := os.Create(archivePath)
	require.NoError(t, err)

	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)

	require.NoError(t, tw.WriteHeader(header))

	if body != "" {
		_, err = tw.Write([]byte(body))
		require.NoError(t, err)
	}

	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	require.NoError(t, out.Close())

	return archivePath
}
