package sync

import (
	"bytes"
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/maruel/natural"
	"github.com/stretchr/testify/require"
)

// createFiles creates empty files under root. A name ending in "/" creates
// an empty directory.
func createFiles(t *testing.T, root string, names ...string) {
	t.Helper()
	for _, name := range names {
		full := filepath.Join(root, filepath.FromSlash(name))
		if strings.HasSuffix(name, "/") {
			require.NoError(t, os.MkdirAll(full, 0755))
			continue
		}
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
		require.NoError(t, os.WriteFile(full, nil, 0644))
	}
}

// writeFile writes content to root/name, creating parent directories.
func writeFile(t *testing.T, root, name, content string) {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0644))
}

// listTree returns every file under root, plus empty directories with a
// trailing slash, in natural order.
func listTree(t *testing.T, root string) []string {
	t.Helper()
	var out []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if !d.IsDir() {
			out = append(out, rel)
			return nil
		}
		entries, err := os.ReadDir(path)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			out = append(out, rel+"/")
		}
		return nil
	})
	require.NoError(t, err)
	sort.Sort(natural.StringSlice(out))
	return out
}

// readTree maps every file under root to its content.
func readTree(t *testing.T, root string) map[string]string {
	t.Helper()
	out := make(map[string]string)
	for _, rel := range listTree(t, root) {
		if strings.HasSuffix(rel, "/") {
			out[rel] = ""
			continue
		}
		b, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
		require.NoError(t, err)
		out[rel] = string(b)
	}
	return out
}

// newTestLogger returns a debug logger writing into the returned buffer.
func newTestLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return NewLogger(LogOptions{Level: slog.LevelDebug, Stdout: &buf, Stderr: &buf}), &buf
}

type testRepo struct {
	root    string
	metaDir string
	syncer  *Syncer
	tmpDir  string
	logs    *bytes.Buffer
}

// setupPackedRepo creates a repository whose metadata directory holds the
// given files (see createFiles) and packs it.
func setupPackedRepo(t *testing.T, format Format, files ...string) *testRepo {
	t.Helper()
	repo := setupRepo(t, format, files...)
	require.NoError(t, repo.syncer.Pack(context.Background()))
	return repo
}

func setupRepo(t *testing.T, format Format, files ...string) *testRepo {
	t.Helper()
	root := t.TempDir()
	metaDir := filepath.Join(root, ".git")
	require.NoError(t, os.MkdirAll(metaDir, 0755))
	createFiles(t, metaDir, files...)

	logger, logs := newTestLogger()
	tmpDir := t.TempDir()
	s := NewSyncer(root, Config{Format: format, TempDir: tmpDir, Logger: logger})
	return &testRepo{root: root, metaDir: metaDir, syncer: s, tmpDir: tmpDir, logs: logs}
}

func (r *testRepo) archivePath() string {
	return r.syncer.Layout().ArchivePath()
}
