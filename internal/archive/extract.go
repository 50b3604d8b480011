package archive

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
)

const dirMode fs.FileMode = 0o755

// Extract unpacks the archive at archivePath into destDir, keeping the
// archive's internal directory structure. destDir is created if needed.
func Extract(format Format, archivePath, destDir string) error {
	if err := os.MkdirAll(destDir, dirMode); err != nil {
		return fmt.Errorf("create dest dir: %w", err)
	}

	if format == FormatZip {
		return extractZip(archivePath, destDir)
	}

	if !format.isTar() {
		return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}

	file, err := os.Open(filepath.Clean(archivePath))
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}

	defer func() {
		_ = file.Close()
	}()

	stream, err := newDecompressor(format, file)
	if err != nil {
		return fmt.Errorf("open %s stream: %w", format, err)
	}

	defer func() {
		_ = stream.Close()
	}()

	return extractTar(tar.NewReader(stream), destDir)
}

func extractTar(reader *tar.Reader, destDir string) error {
	root := filepath.Clean(destDir)

	for {
		header, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}

		if err != nil {
			return fmt.Errorf("read tar header: %w", err)
		}

		target, err := entryPath(root, header.Name)
		if err != nil {
			return err
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err = makeDirectory(root, target); err != nil {
				return err
			}
		case tar.TypeReg:
			if err = writeFile(root, target, reader, header.FileInfo().Mode().Perm()); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err = makeSymlink(root, target, header.Linkname); err != nil {
				return err
			}
		case tar.TypeLink:
			if err = makeHardlink(root, target, header.Linkname); err != nil {
				return err
			}
		case tar.TypeXGlobalHeader:
			continue
		default:
			return fmt.Errorf("%w: %s (type %q)", ErrUnsupportedEntry, header.Name, header.Typeflag)
		}
	}
}

func extractZip(archivePath, destDir string) error {
	reader, err := zip.OpenReader(filepath.Clean(archivePath))
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}

	defer func() {
		_ = reader.Close()
	}()

	root := filepath.Clean(destDir)

	for _, file := range reader.File {
		target, err := entryPath(root, file.Name)
		if err != nil {
			return err
		}

		mode := file.Mode()

		switch {
		case mode.IsDir():
			err = makeDirectory(root, target)
		case mode&fs.ModeSymlink != 0:
			err = extractZipSymlink(root, target, file)
		case mode.IsRegular():
			err = extractZipFile(root, target, file)
		default:
			err = fmt.Errorf("%w: %s (mode %s)", ErrUnsupportedEntry, file.Name, mode)
		}

		if err != nil {
			return err
		}
	}

	return nil
}

func extractZipFile(root, target string, file *zip.File) error {
	contents, err := file.Open()
	if err != nil {
		return fmt.Errorf("open %s: %w", file.Name, err)
	}

	defer func() {
		_ = contents.Close()
	}()

	return writeFile(root, target, contents, file.Mode().Perm())
}

func extractZipSymlink(root, target string, file *zip.File) error {
	contents, err := file.Open()
	if err != nil {
		return fmt.Errorf("open %s: %w", file.Name, err)
	}

	defer func() {
		_ = contents.Close()
	}()

	link, err := io.ReadAll(contents)
	if err != nil {
		return fmt.Errorf("read link %s: %w", file.Name, err)
	}

	return makeSymlink(root, target, string(link))
}

// entryPath joins name onto root and rejects anything escaping root.
func entryPath(root, name string) (string, error) {
	if filepath.IsAbs(name) || strings.HasPrefix(name, "/") {
		return "", fmt.Errorf("%w: %s", ErrIllegalPath, name)
	}

	target := filepath.Join(root, filepath.FromSlash(name))
	if !within(root, target) {
		return "", fmt.Errorf("%w: %s", ErrIllegalPath, name)
	}

	return target, nil
}

func within(root, path string) bool {
	return path == root || strings.HasPrefix(path, root+string(os.PathSeparator))
}

// makeDirectory creates target and checks it does not resolve outside root
// through a link extracted earlier.
func makeDirectory(root, target string) error {
	if err := os.MkdirAll(target, dirMode); err != nil {
		return fmt.Errorf("create directory %s: %w", target, err)
	}

	return checkResolved(root, target)
}

// makeParent creates the parent directory of target inside root.
func makeParent(root, target string) error {
	return makeDirectory(root, filepath.Dir(target))
}

// checkResolved rejects dir when following its links leads outside root.
func checkResolved(root, dir string) error {
	realRoot, realDir, err := resolve(root, dir)
	if err != nil {
		return err
	}

	if !within(realRoot, realDir) {
		return fmt.Errorf("%w: %s resolves to %s", ErrIllegalPath, dir, realDir)
	}

	return nil
}

// resolve returns root and dir with every link followed.
func resolve(root, dir string) (string, string, error) {
	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return "", "", fmt.Errorf("resolve %s: %w", root, err)
	}

	realDir, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return "", "", fmt.Errorf("resolve %s: %w", dir, err)
	}

	return realRoot, realDir, nil
}

func writeFile(root, target string, contents io.Reader, perm fs.FileMode) error {
	if err := makeParent(root, target); err != nil {
		return err
	}

	// A link left at target would otherwise be written through.
	if err := removeExisting(target); err != nil {
		return err
	}

	if perm == 0 {
		perm = 0o644
	}

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("create file %s: %w", target, err)
	}

	if _, err = io.Copy(out, contents); err != nil {
		_ = out.Close()

		return fmt.Errorf("write file %s: %w", target, err)
	}

	if err = out.Close(); err != nil {
		return fmt.Errorf("close file %s: %w", target, err)
	}

	return nil
}

// makeSymlink creates a relative link that must resolve inside root.
func makeSymlink(root, target, link string) error {
	if filepath.IsAbs(link) || !within(root, filepath.Join(filepath.Dir(target), link)) {
		return fmt.Errorf("%w: link %s -> %s", ErrIllegalPath, target, link)
	}

	if err := makeParent(root, target); err != nil {
		return err
	}

	realRoot, realParent, err := resolve(root, filepath.Dir(target))
	if err != nil {
		return err
	}

	if !within(realRoot, filepath.Join(realParent, link)) {
		return fmt.Errorf("%w: link %s -> %s", ErrIllegalPath, target, link)
	}

	if err = removeExisting(target); err != nil {
		return err
	}

	if err = os.Symlink(link, target); err != nil {
		return fmt.Errorf("create symlink %s: %w", target, err)
	}

	return nil
}

// makeHardlink links target to an entry already extracted under root.
func makeHardlink(root, target, link string) error {
	source, err := entryPath(root, link)
	if err != nil {
		return err
	}

	if err = checkResolved(root, filepath.Dir(source)); err != nil {
		return err
	}

	if err = makeParent(root, target); err != nil {
		return err
	}

	if err = removeExisting(target); err != nil {
		return err
	}

	if err = os.Link(source, target); err != nil {
		return fmt.Errorf("create hard link %s: %w", target, err)
	}

	return nil
}

func removeExisting(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("replace %s: %w", path, err)
	}

	return nil
}
