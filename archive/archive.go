// Package archive stores uploads while they are processed and the generated
// reports until they are downloaded or reset.
package archive

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/referto-app/referto/report"
)

var ErrNoReport = errors.New("report not available")

type Store struct {
	uploadDir  string
	archiveDir string
}

// Open creates both folders when missing.
func Open(uploadDir, archiveDir string) (*Store, error) {
	for _, dir := range []string{uploadDir, archiveDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return &Store{uploadDir: uploadDir, archiveDir: archiveDir}, nil
}

func (s *Store) UploadDir() string  { return s.uploadDir }
func (s *Store) ArchiveDir() string { return s.archiveDir }

// SanitizeName reduces a client file name to a safe base name, keeping the
// extension used for format detection.
func SanitizeName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)
	var sb strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			sb.WriteRune(r)
		case r == ' ':
			sb.WriteRune('_')
		}
	}
	clean := strings.TrimLeft(sb.String(), ".")
	if clean == "" {
		clean = "file"
	}
	return clean
}

// SaveUpload writes r under a unique prefix so concurrent uploads of the same
// name do not collide, and returns the path.
func (s *Store) SaveUpload(name string, r io.Reader) (string, error) {
	path := filepath.Join(s.uploadDir, uuid.NewString()[:8]+"_"+SanitizeName(name))
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("save upload: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("save upload: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("save upload: %w", err)
	}
	return path, nil
}

// Remove deletes a saved upload. Missing files are not an error.
func (s *Store) Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// SaveReport atomically replaces the archived report of format f.
func (s *Store) SaveReport(f report.Format, data []byte) (string, error) {
	tmp, err := os.CreateTemp(s.archiveDir, ".report-*")
	if err != nil {
		return "", fmt.Errorf("save report: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("save report: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("save report: %w", err)
	}
	path := filepath.Join(s.archiveDir, f.Filename())
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("save report: %w", err)
	}
	return path, nil
}

// OpenReport opens the archived report of format f. The caller closes it.
func (s *Store) OpenReport(f report.Format) (*os.File, error) {
	file, err := os.Open(filepath.Join(s.archiveDir, f.Filename()))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoReport
	}
	return file, err
}

// Reset deletes every file in both folders.
func (s *Store) Reset() error {
	var errs []error
	for _, dir := range []string{s.uploadDir, s.archiveDir} {
		entries, err := os.ReadDir(dir)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, e := range entries {
			if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// PurgeOlderThan removes uploads left behind for longer than age and returns
// how many were removed. Reports are kept until reset.
func (s *Store) PurgeOlderThan(age time.Duration, now time.Time) (int, error) {
	entries, err := os.ReadDir(s.uploadDir)
	if err != nil {
		return 0, err
	}
	removed := 0
	var errs []error
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) < age {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.uploadDir, e.Name())); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}
