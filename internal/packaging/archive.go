package packaging

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/exporter/internal/shared"
)

// ArchiveDirectory zips dir into a sibling archive named after it and returns the archive path.
//
// Entries are stored relative to dir's parent, so the archive unpacks into a single directory.
// Zip64 records are written as needed, so the archive and its entries may exceed 4 GiB.
func ArchiveDirectory(ctx context.Context, dir string, dryRun bool, logger *log.Logger) (string, error) {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	dir = filepath.Clean(dir)
	root := filepath.Dir(dir)
	archive := dir + ".zip"

	logger.Info("archiving directory", "dir", dir)
	if dryRun {
		logger.Info("dry run: skipping archive", "archive", archive)
		return archive, nil
	}

	if err := writeArchive(ctx, root, dir, archive); err != nil {
		os.Remove(archive)
		return "", fmt.Errorf("%w: archive %s: %w", shared.ErrPackaging, dir, err)
	}
	logger.Info("saved zip file", "archive", archive)
	return archive, nil
}

func writeArchive(ctx context.Context, root, dir, archive string) (err error) {
	f, err := os.Create(archive)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = cerr
		}
	}()

	zw := zip.NewWriter(f)
	defer func() {
		if cerr := zw.Close(); err == nil && cerr != nil {
			err = cerr
		}
	}()

	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}

		header, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(rel)
		if d.IsDir() {
			header.Name += "/"
			_, err := zw.CreateHeader(header)
			return err
		}
		header.Method = zip.Deflate

		w, err := zw.CreateHeader(header)
		if err != nil {
			return err
		}
		return copyInto(w, path)
	})
}

func copyInto(w io.Writer, path string) error {
	in, err := os.Open(path)
	if err != nil {
		return err
	}
	defer in.Close()
	_, err = io.Copy(w, in)
	return err
}
