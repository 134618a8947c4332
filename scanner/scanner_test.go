package scanner

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cerdastangkas/gdrive-uploader/model"
	"github.com/cerdastangkas/gdrive-uploader/testutils"
)

func relPaths[T any](items []T, rel func(T) string) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, rel(it))
	}
	sort.Strings(out)
	return out
}

func TestScan_ProjectTree(t *testing.T) {
	root := testutils.ProjectTree(t)

	inv, err := New(nil).Scan(context.Background(), root)
	require.NoError(t, err)
	testutils.LogJSON(t, inv)

	require.Equal(t, root, inv.Root)
	require.Equal(t, []string{"a.txt", "sub/b.txt"}, relPaths(inv.Files, func(f model.FileEntry) string { return f.RelPath }))
	require.Equal(t, []string{"sub", "sub/empty"}, relPaths(inv.Dirs, func(d model.DirEntry) string { return d.RelPath }))
	require.Equal(t, int64(30), inv.TotalBytes)

	for _, d := range inv.Dirs {
		switch d.RelPath {
		case "sub":
			require.Equal(t, model.RootPath, d.ParentPath)
			require.Equal(t, 0, d.Depth())
		case "sub/empty":
			require.Equal(t, "sub", d.ParentPath)
			require.Equal(t, "empty", d.Name)
			require.Equal(t, 1, d.Depth())
		}
	}
	for _, f := range inv.Files {
		require.Equal(t, filepath.Join(root, filepath.FromSlash(f.RelPath)), f.AbsPath)
	}
}

func TestScan_Symlinks(t *testing.T) {
	root := filepath.Join(t.TempDir(), "links")
	testutils.WriteTree(t, root, map[string]string{
		"real.txt":     "12345",
		"dir/inner.md": "x",
	})
	require.NoError(t, os.Symlink(filepath.Join(root, "real.txt"), filepath.Join(root, "alias.txt")))
	require.NoError(t, os.Symlink(filepath.Join(root, "gone.txt"), filepath.Join(root, "dangling.txt")))
	require.NoError(t, os.Symlink(filepath.Join(root, "dir"), filepath.Join(root, "dirlink")))

	inv, err := New(nil).Scan(context.Background(), root)
	require.NoError(t, err)

	require.Equal(t, []string{"alias.txt", "dir/inner.md", "real.txt"}, relPaths(inv.Files, func(f model.FileEntry) string { return f.RelPath }))
	require.Equal(t, []string{"dir"}, relPaths(inv.Dirs, func(d model.DirEntry) string { return d.RelPath }))
	require.Equal(t, 1, inv.BrokenLinks)
	require.Equal(t, int64(11), inv.TotalBytes)
}

func TestScan_Deterministic(t *testing.T) {
	root := testutils.DeepTree(t, "deep", 4)

	first, err := New(nil).Scan(context.Background(), root)
	require.NoError(t, err)
	second, err := New(nil).Scan(context.Background(), root)
	require.NoError(t, err)

	require.Equal(t, first, second)
	require.Len(t, first.Dirs, 4)
	require.Len(t, first.Files, 5)
}

func TestScan_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := New(nil).Scan(context.Background(), filepath.Join(dir, "missing"))
	require.ErrorIs(t, err, os.ErrNotExist)

	file := filepath.Join(dir, "file.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))
	_, err = New(nil).Scan(context.Background(), file)
	require.ErrorIs(t, err, ErrNotDirectory)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = New(nil).Scan(ctx, testutils.ProjectTree(t))
	require.ErrorIs(t, err, context.Canceled)
}

func TestScan_UnreadableSubdirectory(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced for root")
	}

	root := filepath.Join(t.TempDir(), "perm")
	testutils.WriteTree(t, root, map[string]string{
		"ok.txt":            "ok",
		"locked/hidden.txt": "hidden",
	})
	locked := filepath.Join(root, "locked")
	require.NoError(t, os.Chmod(locked, 0000))
	t.Cleanup(func() { _ = os.Chmod(locked, 0755) })

	inv, err := New(nil).Scan(context.Background(), root)
	require.NoError(t, err)
	require.Equal(t, 1, inv.SkippedDirs)
	require.Equal(t, []string{"ok.txt"}, relPaths(inv.Files, func(f model.FileEntry) string { return f.RelPath }))
}

func TestFolderSize(t *testing.T) {
	root := testutils.ProjectTree(t)
	require.NoError(t, os.Symlink(filepath.Join(root, "nope"), filepath.Join(root, "broken")))

	size, err := FolderSize(root)
	require.NoError(t, err)
	require.Equal(t, int64(30), size)

	_, err = FolderSize(filepath.Join(root, "missing"))
	require.Error(t, err)
}
