package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/mitchellh/go-homedir"
	"github.com/stretchr/testify/require"
)

// isolate points HOME at an empty directory so no user config leaks in.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("GIT_DIR", "")
	homedir.Reset()
	t.Cleanup(homedir.Reset)
	return home
}

// newRepo creates a repository with a small metadata directory.
func newRepo(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	for name, content := range map[string]string{
		".git/HEAD":            "ref: refs/heads/main\n",
		".git/refs/heads/main": "0123456789abcdef\n",
		".git/config":          "[core]\n",
		"main.c":               "int main() {}\n",
	} {
		full := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0644))
	}
	return root
}

func gitzip(t *testing.T, args ...string) (code int, stdout, stderr string) {
	t.Helper()
	var out, errOut bytes.Buffer
	code = Execute(context.Background(), args, Streams{In: strings.NewReader(""), Out: &out, Err: &errOut})
	return code, out.String(), errOut.String()
}

// fakeGit writes a stand-in for git that prints its environment and
// arguments, creates $GIT_DIR/<name> for "touch <name>", and exits with
// $FAKE_GIT_EXIT.
func fakeGit(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported")
	}
	dir := t.TempDir()
	script := `#!/bin/sh
echo "GIT_DIR=$GIT_DIR"
echo "ARGS=$*"
if [ "$1" = "touch" ]; then echo x > "$GIT_DIR/$2"; fi
exit ${FAKE_GIT_EXIT:-0}
`
	path := filepath.Join(dir, "git")
	require.NoError(t, os.WriteFile(path, []byte(script), 0755))
	return path
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}
