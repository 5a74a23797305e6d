package remotecache

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	pkgreperrors "github.com/thomasjiangcy/pkgrep/pkg/errors"
)

// archiveDirectory packs a checkout tree, including its inner .git, into a
// gzip-compressed tar.
func archiveDirectory(sourceDir string) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	err := filepath.WalkDir(sourceDir, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if path == sourceDir {
			return nil
		}

		rel, err := filepath.Rel(sourceDir, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)

		info, err := entry.Info()
		if err != nil {
			return err
		}

		var linkTarget string
		if info.Mode()&fs.ModeSymlink != 0 {
			linkTarget, err = os.Readlink(path)
			if err != nil {
				return err
			}
		}

		header, err := tar.FileInfoHeader(info, linkTarget)
		if err != nil {
			return err
		}
		header.Name = name
		if entry.IsDir() {
			header.Name += "/"
		}

		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		file, err := os.Open(path)
		if err != nil {
			return err
		}
		defer file.Close()
		_, err = io.Copy(tw, file)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to archive source directory %s: %w", sourceDir, err)
	}

	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize tar archive: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize gzip archive encoding: %w", err)
	}
	return buf.Bytes(), nil
}

// unpackArchiveIntoDir untars an archive into a fresh checkout directory. A
// partially unpacked directory is removed before the error returns, so a
// failed hydrate never leaves a half-filled cache key behind.
func unpackArchiveIntoDir(archive []byte, checkoutPath string) error {
	if _, err := os.Stat(checkoutPath); err == nil {
		return pkgreperrors.New(pkgreperrors.KindCheckout,
			"refusing to unpack into existing checkout path %s", checkoutPath)
	}

	if err := os.MkdirAll(checkoutPath, 0755); err != nil {
		return pkgreperrors.Wrap(pkgreperrors.KindCheckout, err,
			"failed to create checkout directory %s", checkoutPath)
	}

	if err := unpackInto(archive, checkoutPath); err != nil {
		_ = os.RemoveAll(checkoutPath)
		return pkgreperrors.Wrap(pkgreperrors.KindCheckout, err,
			"failed to unpack archive to %s", checkoutPath)
	}
	return nil
}

func unpackInto(archive []byte, dest string) error {
	gz, err := gzip.NewReader(bytes.NewReader(archive))
	if err != nil {
		return err
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		target, err := safeJoin(dest, header.Name)
		if err != nil {
			return err
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, fs.FileMode(header.Mode)&0777|0700); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			file, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, fs.FileMode(header.Mode)&0777)
			if err != nil {
				return err
			}
			if _, err := io.Copy(file, tr); err != nil {
				file.Close()
				return err
			}
			if err := file.Close(); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			if err := os.Symlink(header.Linkname, target); err != nil {
				return err
			}
		default:
			// Hard links and special files do not occur in git checkouts.
		}
	}
}

// safeJoin rejects entries that would escape the destination directory.
func safeJoin(dest, name string) (string, error) {
	target := filepath.Join(dest, filepath.FromSlash(name))
	if rel, err := filepath.Rel(dest, target); err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("archive entry escapes destination: %s", name)
	}
	return target, nil
}
