package storage

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"
)

const draftFilename = "package.zip"

var (
	ErrEmptyArea     = errors.New("storage: area is empty")
	ErrInvalidZip    = errors.New("storage: not a valid zip package")
	ErrPackageTooBig = errors.New("storage: package too large")
)

// Packages implements the package-level operations the content pipeline
// needs on top of a Storage.
type Packages struct {
	store       Storage
	maxUnpacked int64
}

// NewPackages wraps store. maxUnpacked bounds the total uncompressed size of
// one package; zero falls back to 1 GiB.
func NewPackages(store Storage, maxUnpacked int64) *Packages {
	if maxUnpacked <= 0 {
		maxUnpacked = 1 << 30
	}
	return &Packages{store: store, maxUnpacked: maxUnpacked}
}

// SaveDraft stores an uploaded zip in a fresh draft area owned by userID and
// returns the draft id.
func (p *Packages) SaveDraft(ctx context.Context, userID int64, r io.Reader, size int64) (string, error) {
	draftID := uuid.NewString()
	key := DraftArea(userID, draftID) + draftFilename
	if err := p.store.Put(ctx, key, r, size); err != nil {
		return "", err
	}
	return draftID, nil
}

// Unzip expands the zip package held in sourceArea into targetArea.
func (p *Packages) Unzip(ctx context.Context, targetArea, sourceArea string) error {
	raw, err := p.readPackage(ctx, sourceArea)
	if err != nil {
		return err
	}

	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidZip, err)
	}

	target := areaPrefix(targetArea)
	var total int64
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		name, err := entryName(f.Name)
		if err != nil {
			return err
		}
		total += int64(f.UncompressedSize64)
		if total > p.maxUnpacked {
			return ErrPackageTooBig
		}
		if err := p.putEntry(ctx, target+name, f); err != nil {
			return err
		}
	}
	return nil
}

func (p *Packages) putEntry(ctx context.Context, key string, f *zip.File) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", ErrInvalidZip, f.Name, err)
	}
	defer rc.Close()

	// The declared size can lie; cap what is actually read.
	limited := io.LimitReader(rc, int64(f.UncompressedSize64))
	return p.store.Put(ctx, key, limited, int64(f.UncompressedSize64))
}

func (p *Packages) readPackage(ctx context.Context, area string) ([]byte, error) {
	keys, err := p.store.List(ctx, areaPrefix(area))
	if err != nil {
		return nil, err
	}
	for _, k := range keys {
		if strings.HasSuffix(strings.ToLower(k), ".zip") {
			rc, err := p.store.Get(ctx, k)
			if err != nil {
				return nil, err
			}
			defer rc.Close()
			return io.ReadAll(rc)
		}
	}
	return nil, ErrEmptyArea
}

// entryName normalizes a zip entry path and rejects entries that would land
// outside the target area.
func entryName(name string) (string, error) {
	name = strings.ReplaceAll(name, "\\", "/")
	if strings.HasPrefix(name, "/") {
		return "", fmt.Errorf("%w: absolute entry %q", ErrInvalidZip, name)
	}
	clean := path.Clean(name)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: entry %q escapes package root", ErrInvalidZip, name)
	}
	return clean, nil
}

// ReadFile returns the bytes of name inside area, or ErrNotFound.
func (p *Packages) ReadFile(ctx context.Context, area, name string) ([]byte, error) {
	rc, err := p.store.Get(ctx, areaPrefix(area)+strings.TrimLeft(name, "/"))
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// AreaHash digests every object name and body in area. An empty area hashes
// to "".
func (p *Packages) AreaHash(ctx context.Context, area string) (string, error) {
	prefix := areaPrefix(area)
	keys, err := p.store.List(ctx, prefix)
	if err != nil {
		return "", err
	}
	if len(keys) == 0 {
		return "", nil
	}

	h := sha256.New()
	for _, k := range keys {
		io.WriteString(h, strings.TrimPrefix(k, prefix))
		h.Write([]byte{0})
		rc, err := p.store.Get(ctx, k)
		if err != nil {
			return "", err
		}
		_, err = io.Copy(h, rc)
		rc.Close()
		if err != nil {
			return "", fmt.Errorf("hash %s: %w", k, err)
		}
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// AreaEmpty reports whether area holds no objects.
func (p *Packages) AreaEmpty(ctx context.Context, area string) (bool, error) {
	keys, err := p.store.List(ctx, areaPrefix(area))
	if err != nil {
		return false, err
	}
	return len(keys) == 0, nil
}

func (p *Packages) DeleteArea(ctx context.Context, area string) error {
	return p.store.DeletePrefix(ctx, areaPrefix(area))
}
