package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
)

const (
	partsdir   = "parts"
	objectsdir = "objects"
)

type fs struct {
	workspace string
}

// NewFileSystem returns a new File System backend.
func NewFileSystem(workspace string) Backend {
	return &fs{
		workspace: workspace,
	}
}

func (b *fs) Name() string {
	return "file_system"
}

func (b *fs) PutPart(upload string, part int, r io.Reader) (int64, error) {
	dirname := filepath.Join(b.workspace, partsdir, upload)
	if err := os.MkdirAll(dirname, 0755); err != nil {
		return 0, errors.Wrap(err, "could not create parts directory")
	}

	wc, err := os.Create(filepath.Join(dirname, b.partname(part)))
	if err != nil {
		return 0, errors.Wrap(err, "could not create part file")
	}
	defer wc.Close()

	n, err := io.Copy(wc, r)
	if err != nil {
		return n, errors.Wrap(err, "could not write part file")
	}

	err = wc.Sync()
	return n, errors.Wrap(err, "could not sync part file")
}

func (b *fs) CompleteUpload(upload string) (int64, error) {
	// An upload completed without a single part yields an empty object.
	dirname := filepath.Join(b.workspace, partsdir, upload)
	entries, err := os.ReadDir(dirname)
	if err != nil && !os.IsNotExist(err) {
		return 0, errors.Wrap(err, "could not list parts")
	}

	filenames := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		filenames = append(filenames, entry.Name())
	}
	sort.Strings(filenames)

	//

	if err := os.MkdirAll(filepath.Join(b.workspace, objectsdir), 0755); err != nil {
		return 0, errors.Wrap(err, "could not create objects directory")
	}

	dst, err := os.Create(filepath.Join(b.workspace, objectsdir, upload))
	if err != nil {
		return 0, errors.Wrap(err, "could not create object")
	}
	defer dst.Close()

	var size int64
	for _, filename := range filenames {
		src, err := os.Open(filepath.Join(dirname, filename))
		if err != nil {
			return size, errors.Wrap(err, "could not open part")
		}

		n, err := io.Copy(dst, src)
		src.Close()
		size += n
		if err != nil {
			return size, errors.Wrap(err, "could not concatenate part")
		}
	}

	if err := dst.Sync(); err != nil {
		return size, errors.Wrap(err, "could not sync object")
	}

	err = os.RemoveAll(dirname)
	return size, errors.Wrap(err, "could not remove parts")
}

func (b *fs) AbortUpload(upload string) error {
	err := os.RemoveAll(filepath.Join(b.workspace, partsdir, upload))
	return errors.Wrap(err, "could not remove parts")
}

func (b *fs) Reader(upload string) (io.ReadCloser, error) {
	rc, err := os.Open(filepath.Join(b.workspace, objectsdir, upload))
	if err != nil {
		return rc, errors.Wrap(err, "could not open object")
	}
	return rc, err
}

func (b *fs) Remove(upload string) error {
	err := os.Remove(filepath.Join(b.workspace, objectsdir, upload))
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "could not delete object")
	}
	return nil
}

func (b *fs) Cleanup() error {
	// Remove empty part directories left by aborted uploads.
	dirname := filepath.Join(b.workspace, partsdir)
	entries, err := os.ReadDir(dirname)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "cleanup")
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		parts, err := os.ReadDir(filepath.Join(dirname, entry.Name()))
		if err != nil {
			continue
		}
		if len(parts) == 0 {
			os.RemoveAll(filepath.Join(dirname, entry.Name()))
		}
	}
	return nil
}

// partname formats a part number so lexicographic order matches part order.
func (b *fs) partname(part int) string {
	return fmt.Sprintf("%08d", part)
}
