package storage

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/google/uuid"
)

// ErrAssetWrite is returned when an uploaded file cannot be persisted.
var ErrAssetWrite = errors.New("asset write failed")

// Assets owns the directory uploaded images are written to. Files are only
// ever created, never overwritten.
type Assets struct {
	dir     string
	prefix  string
	stamper *Stamper
}

// NewAssets ensures dir exists and returns an Assets whose files are
// published under prefix (e.g. "/uploads").
func NewAssets(dir, prefix string) (*Assets, error) {
	if err := EnsureStorageDirs(dir); err != nil {
		return nil, err
	}
	return &Assets{
		dir:     dir,
		prefix:  strings.TrimRight(prefix, "/"),
		stamper: NewNanoStamper(),
	}, nil
}

// EnsureStorageDirs creates the given directories if they don't exist.
func EnsureStorageDirs(dirs ...string) error {
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory '%s': %w", dir, err)
		}
	}
	return nil
}

// Dir returns the on-disk asset directory.
func (a *Assets) Dir() string {
	return a.dir
}

// Prefix returns the public URL prefix assets are served under.
func (a *Assets) Prefix() string {
	return a.prefix
}

// Save writes an uploaded file as "<stamp>-<sanitized name>" and returns its
// public path.
func (a *Assets) Save(fh *multipart.FileHeader) (string, error) {
	src, err := fh.Open()
	if err != nil {
		return "", fmt.Errorf("%w: open upload '%s': %v", ErrAssetWrite, fh.Filename, err)
	}
	defer src.Close()

	return a.Write(fh.Filename, src)
}

// Write stores r under a fresh name derived from originalName.
func (a *Assets) Write(originalName string, r io.Reader) (string, error) {
	name := fmt.Sprintf("%d-%s", a.stamper.Next(), SanitizeFilename(originalName))
	dest := filepath.Join(a.dir, name)

	f, err := os.OpenFile(dest, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return "", fmt.Errorf("%w: create '%s': %v", ErrAssetWrite, dest, err)
	}

	_, werr := io.Copy(f, r)
	cerr := f.Close()
	if werr != nil {
		os.Remove(dest)
		return "", fmt.Errorf("%w: copy to '%s': %v", ErrAssetWrite, dest, werr)
	}
	if cerr != nil {
		os.Remove(dest)
		return "", fmt.Errorf("%w: flush '%s': %v", ErrAssetWrite, dest, cerr)
	}

	return a.PublicPath(name), nil
}

// PublicPath maps a stored file name to the path clients fetch it from.
func (a *Assets) PublicPath(name string) string {
	return a.prefix + "/" + name
}

// LocalPath maps a public path back to the file on disk. ok is false when the
// path does not belong to this asset directory.
func (a *Assets) LocalPath(publicPath string) (string, bool) {
	name, found := strings.CutPrefix(publicPath, a.prefix+"/")
	if !found || name == "" || strings.ContainsAny(name, `/\`) || name == ".." {
		return "", false
	}
	return filepath.Join(a.dir, name), true
}

// SanitizeFilename drops any directory part and all whitespace from name.
// Names that end up empty are replaced by a random one keeping the extension.
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	name = path.Base(name)
	name = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, name)

	switch {
	case name == "" || name == "." || name == ".." || name == "/":
		return uuid.NewString()
	case strings.HasPrefix(name, "."):
		// Hidden or extension-only names, e.g. " .jpg".
		return uuid.NewString() + name
	}
	return name
}
