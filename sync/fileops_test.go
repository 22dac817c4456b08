package sync

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	gosync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTmpPattern_Short(t *testing.T) {
	assert.Equal(t, "gitzip.tar.gz.*.sync-tmp", tmpPattern("gitzip.tar.gz"))
}

func TestTmpPattern_LongFilename(t *testing.T) {
	longName := strings.Repeat("a", 250) + ".tar.gz"

	pattern := tmpPattern(longName)

	assert.True(t, strings.HasSuffix(pattern, ".*.sync-tmp"))
	assert.LessOrEqual(t, len(pattern)-1+randLen, 255)
	assert.Equal(t, pattern, tmpPattern(longName))
}

func TestCreateTmpSibling_Unique(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "gitzip.tar.gz")

	a, err := createTmpSibling(dst)
	require.NoError(t, err)
	defer a.Close()
	b, err := createTmpSibling(dst)
	require.NoError(t, err)
	defer b.Close()

	assert.NotEqual(t, a.Name(), b.Name())
	assert.Equal(t, filepath.Dir(dst), filepath.Dir(a.Name()))
	assert.True(t, isTmpSibling(filepath.Base(a.Name()), "gitzip.tar.gz"))
	assert.True(t, isTmpSibling(filepath.Base(b.Name()), "gitzip.tar.gz"))
}

func TestIsTmpSibling(t *testing.T) {
	tests := []struct {
		name     string
		expected bool
	}{
		{"gitzip.tar.gz.123456.sync-tmp", true},
		{"gitzip.tar.gz.sync-tmp", true},
		{"gitzip.tar.gz", false},
		{"gitzip.zip.1.sync-tmp", false},
		{"HEAD", false},
		{"objects.sync-tmp", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, isTmpSibling(tt.name, "gitzip.tar.gz"))
		})
	}
}

// tmpLeftovers returns the temporary siblings of dst still on disk.
func tmpLeftovers(t *testing.T, dst string) []string {
	t.Helper()
	entries, err := os.ReadDir(filepath.Dir(dst))
	require.NoError(t, err)
	var out []string
	for _, e := range entries {
		if isTmpSibling(e.Name(), filepath.Base(dst)) {
			out = append(out, e.Name())
		}
	}
	return out
}

func TestSafeCopy_Basic(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.tar.gz")
	dst := filepath.Join(dir, "dst.tar.gz")

	content := []byte("hello world")
	require.NoError(t, os.WriteFile(src, content, 0644))

	err := SafeCopy(context.Background(), src, dst)
	require.NoError(t, err)

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	// Verify mtime preserved
	srcInfo, _ := os.Stat(src)
	dstInfo, _ := os.Stat(dst)
	assert.Equal(t, srcInfo.ModTime().UnixNano(), dstInfo.ModTime().UnixNano())
}

func TestSafeCopy_ReplacesExisting(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "new")
	dst := filepath.Join(dir, "old")
	require.NoError(t, os.WriteFile(src, []byte("new content"), 0644))
	require.NoError(t, os.WriteFile(dst, []byte("old content that is longer"), 0644))

	require.NoError(t, SafeCopy(context.Background(), src, dst))

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "new content", string(got))

	// No tmp file left behind
	assert.Empty(t, tmpLeftovers(t, dst))
}

func TestSafeCopy_CreatesParentDirs(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	dst := filepath.Join(dir, "a", "b", "c", "dst.txt")

	require.NoError(t, os.WriteFile(src, []byte("data"), 0644))

	err := SafeCopy(context.Background(), src, dst)
	require.NoError(t, err)

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, []byte("data"), got)
}

func TestSafeCopy_LargeFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	dst := filepath.Join(dir, "dst.txt")

	data := make([]byte, copyChunkSize*3+17)
	for i := range data {
		data[i] = byte(i)
	}
	require.NoError(t, os.WriteFile(src, data, 0644))

	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(src, past, past))

	require.NoError(t, SafeCopy(context.Background(), src, dst))

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestSafeCopy_CancelledContext(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	dst := filepath.Join(dir, "dst.txt")

	data := make([]byte, copyChunkSize*3)
	require.NoError(t, os.WriteFile(src, data, 0644))

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancel immediately

	err := SafeCopy(ctx, src, dst)
	assert.Error(t, err)

	// tmp file should be cleaned up
	assert.Empty(t, tmpLeftovers(t, dst))
	_, err = os.Stat(dst)
	assert.True(t, os.IsNotExist(err))
}

func TestSafeCopy_ConcurrentWritersSameDestination(t *testing.T) {
	dir := t.TempDir()
	srcA := filepath.Join(dir, "a")
	srcB := filepath.Join(dir, "b")
	dst := filepath.Join(dir, "gitzip.tar.gz")

	dataA := bytes.Repeat([]byte("A"), copyChunkSize*8+17)
	dataB := bytes.Repeat([]byte("b"), copyChunkSize*5+3)
	require.NoError(t, os.WriteFile(srcA, dataA, 0644))
	require.NoError(t, os.WriteFile(srcB, dataB, 0644))

	for i := 0; i < 20; i++ {
		var wg gosync.WaitGroup
		errs := make([]error, 2)
		for j, src := range []string{srcA, srcB} {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs[j] = SafeCopy(context.Background(), src, dst)
			}()
		}
		wg.Wait()

		require.NoError(t, errs[0])
		require.NoError(t, errs[1])
		got, err := os.ReadFile(dst)
		require.NoError(t, err)
		if !bytes.Equal(got, dataA) && !bytes.Equal(got, dataB) {
			t.Fatalf("round %d: destination mixes both sources (%d bytes)", i, len(got))
		}
		assert.Empty(t, tmpLeftovers(t, dst))
	}
}

func TestSafeCopy_MissingSource(t *testing.T) {
	dir := t.TempDir()
	err := SafeCopy(context.Background(), filepath.Join(dir, "nope"), filepath.Join(dir, "dst"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestMakeWritable(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "objects/info/packs", "P pack-1.pack")
	file := filepath.Join(dir, "objects", "info", "packs")
	require.NoError(t, os.Chmod(file, 0444))
	require.NoError(t, os.Chmod(filepath.Join(dir, "objects", "info"), 0555))

	require.NoError(t, makeWritable(filepath.Join(dir, "objects")))

	info, err := os.Stat(file)
	require.NoError(t, err)
	assert.NotZero(t, info.Mode().Perm()&0o200)
	dirInfo, err := os.Stat(filepath.Join(dir, "objects", "info"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), dirInfo.Mode().Perm())
}

func TestTopLevelEntries(t *testing.T) {
	dir := t.TempDir()
	createFiles(t, dir, "HEAD", "objects/", "gitzip.tar.gz", "refs/heads/main")

	names, err := topLevelEntries(dir)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"HEAD", "gitzip.tar.gz", "objects", "refs"}, names)
}
