package processor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cerdastangkas/gdrive-uploader/model"
	"github.com/cerdastangkas/gdrive-uploader/remote"
)

func dir(rel, parent, name string) model.DirEntry {
	return model.DirEntry{RelPath: rel, ParentPath: parent, Name: name}
}

func TestSortByDepthAndGroup(t *testing.T) {
	dirs := []model.DirEntry{
		dir("a/b/c", "a/b", "c"),
		dir("z", ".", "z"),
		dir("a/b", "a", "b"),
		dir("a", ".", "a"),
		dir("a/x", "a", "x"),
	}

	sorted := sortByDepth(dirs)
	var order []string
	for _, d := range sorted {
		order = append(order, d.RelPath)
	}
	require.Equal(t, []string{"a", "z", "a/b", "a/x", "a/b/c"}, order)

	groups := groupByParent(sorted)
	require.Len(t, groups, 3)
	require.Equal(t, ".", groups[0].parent)
	require.Len(t, groups[0].dirs, 2)
	require.Equal(t, "a", groups[1].parent)
	require.Equal(t, "a/b", groups[2].parent)
}

func TestHierarchyBuilder_Build(t *testing.T) {
	mem, client := newMemoryClient(t)
	ordered := newOrderingRemote(client)
	h := NewHierarchyBuilder(ordered, nil)

	dirs := []model.DirEntry{
		dir("sub/empty", "sub", "empty"),
		dir("sub", ".", "sub"),
		dir("other", ".", "other"),
	}
	tree, err := h.Build(context.Background(), "Project", "", dirs)
	require.NoError(t, err)
	require.Empty(t, ordered.violations)
	require.Empty(t, tree.Failed)
	require.Len(t, tree.Paths, 4)
	require.Equal(t, tree.RootID, tree.Paths[model.RootPath])
	require.EqualValues(t, 3, tree.Stats.Resolved)

	sub, ok := mem.Lookup(tree.Paths["sub"])
	require.True(t, ok)
	require.Equal(t, tree.RootID, sub.ParentID)
	empty, ok := mem.Lookup(tree.Paths["sub/empty"])
	require.True(t, ok)
	require.Equal(t, sub.ID, empty.ParentID)
}

func TestHierarchyBuilder_WideGroupUsesBatch(t *testing.T) {
	mem, client := newMemoryClient(t)
	h := NewHierarchyBuilder(client, nil)

	var dirs []model.DirEntry
	for _, name := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		dirs = append(dirs, dir(name, ".", name))
	}
	tree, err := h.Build(context.Background(), "Wide", "", dirs)
	require.NoError(t, err)
	require.Len(t, tree.Paths, 9)
	require.Equal(t, 1, mem.CountCalls(remote.OpCreateFolders))
	require.Len(t, mem.Children(tree.RootID), 8)
}

func TestHierarchyBuilder_MissingParentFallsBackToRoot(t *testing.T) {
	mem, client := newMemoryClient(t)
	h := NewHierarchyBuilder(client, nil)

	tree, err := h.Build(context.Background(), "Project", "", []model.DirEntry{dir("ghost/child", "ghost", "child")})
	require.NoError(t, err)
	require.EqualValues(t, 1, tree.Stats.RootFallbacks)

	child, ok := mem.Lookup(tree.Paths["ghost/child"])
	require.True(t, ok)
	require.Equal(t, tree.RootID, child.ParentID)
}

func TestHierarchyBuilder_FailedFolderSkipsDescendants(t *testing.T) {
	mem, client := newMemoryClient(t)
	rejected := errors.New("name rejected")
	mem.SetFault(func(op remote.OpKind, name, parentID string) *remote.Fault {
		if op == remote.OpCreateFolder && name == "bad" {
			return &remote.Fault{Err: rejected}
		}
		return nil
	})
	h := NewHierarchyBuilder(client, nil)

	dirs := []model.DirEntry{
		dir("bad", ".", "bad"),
		dir("good", ".", "good"),
		dir("bad/child", "bad", "child"),
		dir("bad/child/deeper", "bad/child", "deeper"),
	}
	tree, err := h.Build(context.Background(), "Project", "", dirs)
	require.NoError(t, err)
	require.Contains(t, tree.Paths, "good")
	require.ErrorIs(t, tree.Failed["bad"], rejected)
	require.ErrorIs(t, tree.Failed["bad/child"], errParentFailed)
	require.ErrorIs(t, tree.Failed["bad/child/deeper"], errParentFailed)
	require.EqualValues(t, 1, tree.Stats.Failed)
	require.EqualValues(t, 2, tree.Stats.Skipped)
	require.Equal(t, 6, mem.CountCalls(remote.OpFindFolder, remote.OpCreateFolder),
		"root and the two top-level folders only, nothing below bad")
}

func TestHierarchyBuilder_RootFailure(t *testing.T) {
	mem, client := newMemoryClient(t)
	denied := errors.New("permission denied")
	mem.SetFault(func(op remote.OpKind, name, parentID string) *remote.Fault {
		if op == remote.OpCreateFolder {
			return &remote.Fault{Err: denied}
		}
		return nil
	})
	h := NewHierarchyBuilder(client, nil)

	_, err := h.Build(context.Background(), "Project", "", []model.DirEntry{dir("sub", ".", "sub")})
	require.ErrorIs(t, err, ErrRootFolder)
	require.ErrorIs(t, err, denied)
}
