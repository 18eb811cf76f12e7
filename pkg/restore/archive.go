package restore

import (
	"archive/zip"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
)

// Archive is a read-only view over a firmware bundle's ZIP-like container,
// generalized to extracting arbitrary signable-component members by name
// as well as the BuildManifest/Restore/SystemVersion plists the orchestrator
// reads up front.
type Archive struct {
	zr *zip.ReadCloser
}

// OpenArchive opens a firmware bundle for member extraction.
func OpenArchive(path string) (*Archive, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open firmware bundle")
	}
	return &Archive{zr: zr}, nil
}

func (a *Archive) Close() error {
	return a.zr.Close()
}

func (a *Archive) find(name string) (*zip.File, error) {
	for _, f := range a.zr.File {
		if f.Name == name {
			return f, nil
		}
	}
	return nil, &ArchiveMemberError{Path: name}
}

// ExtractToMemory reads a named member fully into memory. Archives this size
// make building an index not worth the complexity a reader would need to
// justify, so lookup is a linear scan.
func (a *Archive) ExtractToMemory(name string) ([]byte, error) {
	f, err := a.find(name)
	if err != nil {
		return nil, err
	}

	rc, err := f.Open()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open archive member %s", name)
	}
	defer rc.Close()

	data := make([]byte, f.UncompressedSize64)
	if _, err := io.ReadFull(rc, data); err != nil {
		return nil, errors.Wrapf(err, "failed to read archive member %s", name)
	}
	return data, nil
}

// ExtractToFile streams a named member to a filesystem path without loading
// it fully into memory, used only for the filesystem image.
func (a *Archive) ExtractToFile(name, dst string) error {
	f, err := a.find(name)
	if err != nil {
		return err
	}

	rc, err := f.Open()
	if err != nil {
		return errors.Wrapf(err, "failed to open archive member %s", name)
	}
	defer rc.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, rc); err != nil {
		return fmt.Errorf("failed to stream %s to %s: %w", name, dst, err)
	}
	return nil
}
