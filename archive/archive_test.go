package archive

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/referto-app/referto/report"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	root := t.TempDir()
	s, err := Open(filepath.Join(root, "uploads"), filepath.Join(root, "archive"))
	require.NoError(t, err)
	return s
}

func TestSanitizeName(t *testing.T) {
	cases := map[string]string{
		"referto.pdf":            "referto.pdf",
		"../../etc/passwd":       "passwd",
		`C:\Users\me\scan 1.PNG`: "scan_1.PNG",
		"..":                     "file",
		".hidden.txt":            "hidden.txt",
		"città.docx":             "citt.docx",
	}
	for in, want := range cases {
		assert.Equal(t, want, SanitizeName(in), in)
	}
}

func TestSaveUploadAndRemove(t *testing.T) {
	s := newStore(t)
	path, err := s.SaveUpload("../referto.pdf", strings.NewReader("%PDF-1.4"))
	require.NoError(t, err)
	assert.Equal(t, s.UploadDir(), filepath.Dir(path))
	assert.True(t, strings.HasSuffix(path, "_referto.pdf"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4", string(data))

	other, err := s.SaveUpload("referto.pdf", strings.NewReader("x"))
	require.NoError(t, err)
	assert.NotEqual(t, path, other)

	require.NoError(t, s.Remove(path))
	require.NoError(t, s.Remove(path))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestReports(t *testing.T) {
	s := newStore(t)
	_, err := s.OpenReport(report.FormatDOCX)
	assert.ErrorIs(t, err, ErrNoReport)

	_, err = s.SaveReport(report.FormatDOCX, []byte("v1"))
	require.NoError(t, err)
	path, err := s.SaveReport(report.FormatDOCX, []byte("v2"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(s.ArchiveDir(), "riassunto_referto.docx"), path)

	f, err := s.OpenReport(report.FormatDOCX)
	require.NoError(t, err)
	defer f.Close()
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))

	entries, err := os.ReadDir(s.ArchiveDir())
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestReset(t *testing.T) {
	s := newStore(t)
	_, err := s.SaveUpload("a.txt", strings.NewReader("a"))
	require.NoError(t, err)
	_, err = s.SaveReport(report.FormatPDF, []byte("%PDF"))
	require.NoError(t, err)

	require.NoError(t, s.Reset())
	for _, dir := range []string{s.UploadDir(), s.ArchiveDir()} {
		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		assert.Empty(t, entries)
	}
	_, err = s.OpenReport(report.FormatPDF)
	assert.ErrorIs(t, err, ErrNoReport)
}

func TestPurgeOlderThan(t *testing.T) {
	s := newStore(t)
	old, err := s.SaveUpload("old.txt", strings.NewReader("o"))
	require.NoError(t, err)
	fresh, err := s.SaveUpload("fresh.txt", strings.NewReader("f"))
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, os.Chtimes(old, now.Add(-48*time.Hour), now.Add(-48*time.Hour)))

	n, err := s.PurgeOlderThan(24*time.Hour, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = os.Stat(old)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(fresh)
	assert.NoError(t, err)
}
