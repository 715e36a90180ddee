package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/albert775f/myteamberlin/internal/domain/media"
)

// Store manages stored audio files under the uploads and outputs roots.
// Every path it builds comes from a validated storage name.
type Store struct {
	UploadsDir string
	OutputsDir string

	now func() time.Time
}

// NewStore creates filesystem adapter with configured roots.
func NewStore(uploadsDir, outputsDir string) *Store {
	return &Store{UploadsDir: uploadsDir, OutputsDir: outputsDir, now: time.Now}
}

// EnsureDirs creates filesystem roots used by service.
func (s *Store) EnsureDirs() error {
	if err := os.MkdirAll(s.UploadsDir, 0o755); err != nil {
		return err
	}
	return os.MkdirAll(s.OutputsDir, 0o755)
}

// NewName generates a collision-resistant storage name that keeps the
// original extension when it is safe to do so.
func (s *Store) NewName(originalName, mimeType string) (string, error) {
	ext := media.StorageExt(originalName, mimeType)
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return media.NewStorageName(s.now(), suffix, ext)
}

// Path resolves a storage name to its absolute location for the given kind.
func (s *Store) Path(kind media.AssetKind, name string) (string, error) {
	valid, err := media.ValidateStorageName(name)
	if err != nil {
		return "", err
	}
	root := s.root(kind)
	full := filepath.Join(root, valid)
	if !isWithinDir(root, full) {
		return "", media.ErrInvalidStorageName
	}
	return full, nil
}

// Locate finds a stored file by name in either root.
func (s *Store) Locate(name string) (string, bool) {
	for _, kind := range []media.AssetKind{media.AssetUpload, media.AssetMergeOutput} {
		full, err := s.Path(kind, name)
		if err != nil {
			return "", false
		}
		if info, err := os.Stat(full); err == nil && info.Mode().IsRegular() {
			return full, true
		}
	}
	return "", false
}

// Write streams r into a new upload named name, refusing payloads larger than
// limit bytes. A rejected or failed write leaves no file behind.
func (s *Store) Write(ctx context.Context, name string, r io.Reader, limit int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	full, err := s.Path(media.AssetUpload, name)
	if err != nil {
		return 0, err
	}
	file, err := os.OpenFile(full, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, media.FilesystemError("create upload", name, err)
	}

	written, copyErr := io.Copy(file, io.LimitReader(r, limit+1))
	closeErr := file.Close()
	switch {
	case copyErr != nil:
		_ = os.Remove(full)
		return 0, media.FilesystemError("write upload", name, copyErr)
	case written > limit:
		_ = os.Remove(full)
		return 0, media.ErrFileTooLarge
	case closeErr != nil:
		_ = os.Remove(full)
		return 0, media.FilesystemError("close upload", name, closeErr)
	}
	return written, nil
}

// Stat returns the size of a stored file.
func (s *Store) Stat(kind media.AssetKind, name string) (int64, error) {
	full, err := s.Path(kind, name)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(full)
	if err != nil {
		return 0, media.FilesystemError("stat", name, err)
	}
	return info.Size(), nil
}

// Remove deletes a stored file. It reports false without error when the file
// is already absent.
func (s *Store) Remove(kind media.AssetKind, name string) (bool, error) {
	full, err := s.Path(kind, name)
	if err != nil {
		return false, err
	}
	if err := os.Remove(full); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, media.FilesystemError("remove", name, err)
	}
	return true, nil
}

// ListOutputs returns generated files under the outputs root, oldest first.
// Files whose names were not produced by this store are skipped.
func (s *Store) ListOutputs() ([]media.StoredFile, error) {
	entries, err := os.ReadDir(s.OutputsDir)
	if err != nil {
		return nil, fmt.Errorf("read outputs dir: %w", err)
	}
	files := make([]media.StoredFile, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if _, err := media.ValidateStorageName(entry.Name()); err != nil {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, media.StoredFile{Name: entry.Name(), Size: info.Size(), ModifiedAt: info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].ModifiedAt.Before(files[j].ModifiedAt)
	})
	return files, nil
}

func (s *Store) root(kind media.AssetKind) string {
	if kind == media.AssetMergeOutput {
		return s.OutputsDir
	}
	return s.UploadsDir
}

func isWithinDir(basePath, targetPath string) bool {
	baseAbs, err := filepath.Abs(basePath)
	if err != nil {
		return false
	}
	targetAbs, err := filepath.Abs(targetPath)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(baseAbs, targetAbs)
	if err != nil {
		return false
	}
	sep := string(os.PathSeparator)
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+sep) {
		return false
	}
	return true
}
