package archive

import (
	"archive/tar"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zip"
)

// Create packs the contents of srcDir into a new archive at destPath.
// Entry names are relative to srcDir, so extracting the result reproduces
// the tree under any destination. When entries are given, only those
// paths relative to srcDir are packed, in the given order.
func Create(format Format, srcDir, destPath string, entries ...string) (err error) {
	roots, err := entryRoots(srcDir, entries)
	if err != nil {
		return err
	}

	out, err := os.Create(filepath.Clean(destPath))
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}

	defer func() {
		if closeErr := out.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close archive: %w", closeErr)
		}
	}()

	switch {
	case format == FormatZip:
		return writeZip(out, srcDir, roots)
	case format.isTar():
		return writeTar(format, out, srcDir, roots)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

func writeTar(format Format, out io.Writer, srcDir string, roots []string) error {
	stream, err := newCompressor(format, out)
	if err != nil {
		return fmt.Errorf("open %s stream: %w", format, err)
	}

	writer := tar.NewWriter(stream)

	walkErr := walkTree(srcDir, roots, func(path, name string, info fs.FileInfo) error {
		return addTarEntry(writer, path, name, info)
	})
	if walkErr != nil {
		_ = writer.Close()
		_ = stream.Close()

		return walkErr
	}

	if err = writer.Close(); err != nil {
		_ = stream.Close()

		return fmt.Errorf("finish tar: %w", err)
	}

	if err = stream.Close(); err != nil {
		return fmt.Errorf("finish %s stream: %w", format, err)
	}

	return nil
}

func addTarEntry(writer *tar.Writer, path, name string, info fs.FileInfo) error {
	var link string

	if info.Mode()&fs.ModeSymlink != 0 {
		target, err := os.Readlink(path)
		if err != nil {
			return fmt.Errorf("read link %s: %w", path, err)
		}

		link = target
	}

	header, err := tar.FileInfoHeader(info, link)
	if err != nil {
		return fmt.Errorf("tar header for %s: %w", path, err)
	}

	header.Name = name
	if info.IsDir() {
		header.Name += "/"
	}

	// Ownership of the build machine is meaningless to consumers.
	header.Uid, header.Gid = 0, 0
	header.Uname, header.Gname = "", ""

	if err = writer.WriteHeader(header); err != nil {
		return fmt.Errorf("write header %s: %w", name, err)
	}

	if !info.Mode().IsRegular() {
		return nil
	}

	return copyFrom(writer, path)
}

func writeZip(out io.Writer, srcDir string, roots []string) error {
	writer := zip.NewWriter(out)

	walkErr := walkTree(srcDir, roots, func(path, name string, info fs.FileInfo) error {
		return addZipEntry(writer, path, name, info)
	})
	if walkErr != nil {
		_ = writer.Close()

		return walkErr
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("finish zip: %w", err)
	}

	return nil
}

func addZipEntry(writer *zip.Writer, path, name string, info fs.FileInfo) error {
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("zip header for %s: %w", path, err)
	}

	header.Name = name

	switch {
	case info.IsDir():
		header.Name += "/"
		header.Method = zip.Store
	case info.Mode().IsRegular():
		header.Method = zip.Deflate
	default:
		header.Method = zip.Store
	}

	entry, err := writer.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("write header %s: %w", name, err)
	}

	switch {
	case info.Mode()&fs.ModeSymlink != 0:
		link, err := os.Readlink(path)
		if err != nil {
			return fmt.Errorf("read link %s: %w", path, err)
		}

		_, err = io.WriteString(entry, link)

		return err
	case info.Mode().IsRegular():
		return copyFrom(entry, path)
	default:
		return nil
	}
}

// entryRoots maps the requested top-level entries onto paths under srcDir.
// No entries means srcDir itself.
func entryRoots(srcDir string, entries []string) ([]string, error) {
	if len(entries) == 0 {
		return []string{srcDir}, nil
	}

	root := filepath.Clean(srcDir)
	roots := make([]string, 0, len(entries))

	for _, entry := range entries {
		path, err := entryPath(root, entry)
		if err != nil {
			return nil, err
		}

		if path == root {
			return nil, fmt.Errorf("%w: %q names the source directory", ErrIllegalPath, entry)
		}

		if _, err = os.Lstat(path); err != nil {
			return nil, fmt.Errorf("archive entry %s: %w", entry, err)
		}

		roots = append(roots, path)
	}

	return roots, nil
}

// walkTree visits every entry under each of roots in lexical order, skipping
// root itself, and hands out slash-separated names relative to root.
func walkTree(root string, roots []string, visit func(path, name string, info fs.FileInfo) error) error {
	for _, start := range roots {
		err := filepath.WalkDir(start, func(path string, entry fs.DirEntry, err error) error {
			if err != nil {
				return err
			}

			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}

			if rel == "." {
				return nil
			}

			info, err := entry.Info()
			if err != nil {
				return err
			}

			if !info.IsDir() && !info.Mode().IsRegular() && info.Mode()&fs.ModeSymlink == 0 {
				return fmt.Errorf("%w: %s (mode %s)", ErrUnsupportedEntry, path, info.Mode())
			}

			return visit(path, filepath.ToSlash(rel), info)
		})
		if err != nil {
			return err
		}
	}

	return nil
}

func copyFrom(dst io.Writer, path string) error {
	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}

	defer func() {
		_ = file.Close()
	}()

	if _, err = io.Copy(dst, file); err != nil {
		return fmt.Errorf("copy %s: %w", path, err)
	}

	return nil
}
