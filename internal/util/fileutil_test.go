package util

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAtomicWrite(t *testing.T) {
	dir := t.TempDir()
	dst := filepath.Join(dir, "nested", "out.txt")

	require.NoError(t, AtomicWrite(dst, strings.NewReader("hello"), 0600))

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	info, err := os.Stat(dst)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	entries, err := os.ReadDir(filepath.Dir(dst))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file must not be left behind")
}

func TestCopyFilePreservesAttributes(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	require.NoError(t, os.WriteFile(src, []byte("data"), 0640))
	mtime := time.Date(2020, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(src, mtime, mtime))

	dst := filepath.Join(dir, "copy", "dst.txt")
	require.NoError(t, CopyFile(src, dst))

	info, err := os.Stat(dst)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0640), info.Mode().Perm())
	assert.True(t, info.ModTime().Equal(mtime))
}

func TestCopyTree(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	require.NoError(t, os.MkdirAll(filepath.Join(src, "a", "b"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "a", "b", "f.txt"), []byte("x"), 0644))
	require.NoError(t, os.Symlink("b/f.txt", filepath.Join(src, "a", "link")))

	dst := filepath.Join(dir, "dst")
	require.NoError(t, CopyTree(src, dst, nil))

	data, err := os.ReadFile(filepath.Join(dst, "a", "b", "f.txt"))
	require.NoError(t, err)
	assert.Equal(t, "x", string(data))

	target, err := os.Readlink(filepath.Join(dst, "a", "link"))
	require.NoError(t, err)
	assert.Equal(t, "b/f.txt", target)
}

func TestCopyTreeSkips(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	require.NoError(t, os.MkdirAll(filepath.Join(src, "cache", "deep"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "cache", "deep", "blob"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "keep.txt"), []byte("k"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(src, ".DS_Store"), []byte("d"), 0644))

	var seen []string
	skip := func(rel string, isDir bool) bool {
		seen = append(seen, rel)
		return rel == "cache" || rel == ".DS_Store"
	}

	dst := filepath.Join(dir, "dst")
	require.NoError(t, CopyTree(src, dst, skip))

	ok, err := Exists(filepath.Join(dst, "keep.txt"))
	require.NoError(t, err)
	assert.True(t, ok)

	for _, rel := range []string{"cache", ".DS_Store"} {
		ok, err := Exists(filepath.Join(dst, rel))
		require.NoError(t, err)
		assert.False(t, ok, rel)
	}
	assert.NotContains(t, seen, "cache/deep", "skipped directories are pruned")
}

func TestMoveAndExists(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "f.txt")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0644))

	dst := filepath.Join(dir, "trash", "deep", "f.txt")
	require.NoError(t, Move(src, dst))

	ok, err := Exists(src)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = Exists(dst)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRemoveIfExists(t *testing.T) {
	assert.NoError(t, RemoveIfExists(filepath.Join(t.TempDir(), "missing")))
}
