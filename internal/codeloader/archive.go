package codeloader

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const (
	maxFileSize   = 256 * 1024 * 1024 // 256MB max single file size
	maxFiles      = 10000             // Max files in archive
	maxPathLength = 1024              // Max file path length
)

// ArchiveType is a supported archive encoding.
type ArchiveType string

const (
	ArchiveZip   ArchiveType = "zip"
	ArchiveTarGz ArchiveType = "tar.gz"
	ArchiveTar   ArchiveType = "tar"
)

var archiveSuffixes = []struct {
	suffix string
	typ    ArchiveType
}{
	{".tar.gz", ArchiveTarGz},
	{".tgz", ArchiveTarGz},
	{".tar", ArchiveTar},
	{".zip", ArchiveZip},
}

// DetectArchive reports whether path is an archive and, if so, the directory
// it expands into: the archive path with its archive suffix removed. The
// content must carry the signature of the type the suffix names. Zip files
// are also recognized by content when the name carries no known suffix.
func DetectArchive(path string) (ArchiveType, string, bool) {
	sniffed, ok := sniffArchive(path)
	if !ok {
		return "", "", false
	}
	lower := strings.ToLower(path)
	for _, s := range archiveSuffixes {
		if strings.HasSuffix(lower, s.suffix) && len(path) > len(s.suffix) {
			if s.typ != sniffed {
				return "", "", false
			}
			return s.typ, path[:len(path)-len(s.suffix)], true
		}
	}
	if sniffed != ArchiveZip {
		return "", "", false
	}
	dir := strings.TrimSuffix(path, filepath.Ext(path))
	if dir == path || dir == "" {
		dir = path + ".d"
	}
	return ArchiveZip, dir, true
}

var (
	zipMagic      = []byte("PK\x03\x04")
	zipEmptyMagic = []byte("PK\x05\x06")
	gzipMagic     = []byte{0x1f, 0x8b}
	tarMagic      = []byte("ustar")
)

const tarMagicOffset = 257

// sniffArchive classifies path by its leading bytes.
func sniffArchive(path string) (ArchiveType, bool) {
	f, err := os.Open(path)
	if err != nil {
		return "", false
	}
	defer f.Close()
	head := make([]byte, tarMagicOffset+len(tarMagic))
	n, _ := io.ReadFull(f, head)
	head = head[:n]

	switch {
	case bytes.HasPrefix(head, zipMagic), bytes.HasPrefix(head, zipEmptyMagic):
		return ArchiveZip, true
	case bytes.HasPrefix(head, gzipMagic):
		return ArchiveTarGz, true
	case len(head) == tarMagicOffset+len(tarMagic) && bytes.Equal(head[tarMagicOffset:], tarMagic):
		return ArchiveTar, true
	}
	return "", false
}

// ExtractArchive unpacks the archive at src into dest, creating dest when
// needed and overwriting files that already exist there.
func ExtractArchive(src, dest string, typ ArchiveType) (int, error) {
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return 0, fmt.Errorf("create %s: %w", dest, err)
	}
	switch typ {
	case ArchiveZip:
		return extractZip(src, dest)
	case ArchiveTarGz, ArchiveTar:
		return extractTar(src, dest, typ == ArchiveTar)
	default:
		return 0, fmt.Errorf("unsupported archive type: %s", typ)
	}
}

func extractZip(src, dest string) (int, error) {
	reader, err := zip.OpenReader(src)
	if err != nil {
		return 0, fmt.Errorf("open zip: %w", err)
	}
	defer reader.Close()

	n := 0
	for _, f := range reader.File {
		if n >= maxFiles {
			return n, fmt.Errorf("too many files in archive (max %d)", maxFiles)
		}
		target, err := safeJoin(dest, f.Name)
		if err != nil {
			return n, err
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return n, err
			}
			continue
		}
		if f.UncompressedSize64 > uint64(maxFileSize) {
			return n, fmt.Errorf("file %s too large: %d bytes (max %d)", f.Name, f.UncompressedSize64, maxFileSize)
		}
		rc, err := f.Open()
		if err != nil {
			return n, fmt.Errorf("open file %s: %w", f.Name, err)
		}
		err = writeFile(target, rc, f.Mode().Perm())
		rc.Close()
		if err != nil {
			return n, fmt.Errorf("extract %s: %w", f.Name, err)
		}
		n++
	}
	return n, nil
}

func extractTar(src, dest string, plainTar bool) (int, error) {
	file, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	var reader io.Reader = file
	if !plainTar {
		gzr, err := gzip.NewReader(file)
		if err != nil {
			return 0, fmt.Errorf("open gzip: %w", err)
		}
		defer gzr.Close()
		reader = gzr
	}

	tr := tar.NewReader(reader)
	n := 0
	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return n, fmt.Errorf("read tar: %w", err)
		}
		if n >= maxFiles {
			return n, fmt.Errorf("too many files in archive (max %d)", maxFiles)
		}

		target, err := safeJoin(dest, header.Name)
		if err != nil {
			return n, err
		}
		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return n, err
			}
		case tar.TypeReg:
			if header.Size > int64(maxFileSize) {
				return n, fmt.Errorf("file %s too large: %d bytes (max %d)", header.Name, header.Size, maxFileSize)
			}
			if err := writeFile(target, tr, os.FileMode(header.Mode).Perm()); err != nil {
				return n, fmt.Errorf("extract %s: %w", header.Name, err)
			}
			n++
		default:
			// Links and devices are not part of a code bundle.
			continue
		}
	}
	return n, nil
}

// safeJoin resolves an archive entry name below dest, rejecting entries that
// would escape it.
func safeJoin(dest, name string) (string, error) {
	if len(name) > maxPathLength {
		return "", fmt.Errorf("archive entry name too long: %d bytes (max %d)", len(name), maxPathLength)
	}
	cleaned := filepath.Clean(filepath.FromSlash(strings.TrimLeft(name, "/")))
	target := filepath.Join(dest, cleaned)
	rel, err := filepath.Rel(dest, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("archive entry %q escapes %s", name, dest)
	}
	return target, nil
}

func writeFile(target string, r io.Reader, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	if perm == 0 {
		perm = 0o644
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm|0o600)
	if err != nil {
		return err
	}
	written, err := io.Copy(out, io.LimitReader(r, maxFileSize+1))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	if written > maxFileSize {
		return fmt.Errorf("file too large (max %d bytes)", maxFileSize)
	}
	return nil
}
