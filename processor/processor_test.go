package processor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cerdastangkas/gdrive-uploader/config"
	"github.com/cerdastangkas/gdrive-uploader/ledger"
	"github.com/cerdastangkas/gdrive-uploader/remote"
	"github.com/cerdastangkas/gdrive-uploader/staging"
	"github.com/cerdastangkas/gdrive-uploader/testutils"
)

func newTestRunner(t *testing.T, l ledger.Ledger, r Remote, force bool) *Runner {
	t.Helper()
	return NewRunner(l, r, &config.UploadConfig{Workers: 3, BatchSize: 2, Force: force, ProgressSeconds: -1}, nil, false)
}

// childByName returns the child of parentID named name, failing if there is not exactly one
func childByName(t *testing.T, mem *remote.MemoryBackend, parentID, name string) remote.MemoryObject {
	t.Helper()
	var found []remote.MemoryObject
	for _, obj := range mem.Children(parentID) {
		if obj.Name == name {
			found = append(found, obj)
		}
	}
	require.Len(t, found, 1, "children named %s under %s", name, parentID)
	return found[0]
}

func TestUploadFolder_Project(t *testing.T) {
	mem, client := newMemoryClient(t)
	l, _ := newTestLedger(t)
	root := testutils.ProjectTree(t)

	report, err := newTestRunner(t, l, client, false).UploadFolder(context.Background(), root, nil)
	require.NoError(t, err)
	require.True(t, report.Recorded)
	require.True(t, report.Complete())
	require.Equal(t, 2, report.Files)
	require.Equal(t, 2, report.Dirs)
	require.EqualValues(t, 30, report.TotalBytes)

	require.Len(t, mem.Children(remote.MemoryRootID), 1)
	project := childByName(t, mem, remote.MemoryRootID, "Project")
	require.True(t, project.Folder)
	require.Equal(t, project.ID, report.RemoteID)

	a := childByName(t, mem, project.ID, "a.txt")
	require.EqualValues(t, 10, a.Size)
	sub := childByName(t, mem, project.ID, "sub")
	require.True(t, sub.Folder)
	b := childByName(t, mem, sub.ID, "b.txt")
	require.EqualValues(t, 20, b.Size)
	empty := childByName(t, mem, sub.ID, "empty")
	require.True(t, empty.Folder)
	require.Empty(t, mem.Children(empty.ID))
	require.Equal(t, 5, mem.Len())

	entries, err := l.List()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, root, entries[0].FolderPath)
	require.Equal(t, "Project", entries[0].FolderName)
	require.Equal(t, project.ID, entries[0].DriveFolderID)
	hash, err := ledger.Fingerprint(root)
	require.NoError(t, err)
	require.Equal(t, hash, entries[0].FolderHash)
}

func TestUploadFolder_IdempotentRerun(t *testing.T) {
	mem, client := newMemoryClient(t)
	l, _ := newTestLedger(t)
	root := testutils.ProjectTree(t)
	r := newTestRunner(t, l, client, false)

	_, err := r.UploadFolder(context.Background(), root, nil)
	require.NoError(t, err)
	mem.ResetCalls()

	// a fresh client has an empty folder cache, the ledger alone must stop the run
	_, fresh := newMemoryClient(t)
	report, err := newTestRunner(t, l, fresh, false).UploadFolder(context.Background(), root, nil)
	require.NoError(t, err)
	require.True(t, report.Skipped)
	require.Empty(t, mem.Calls())

	report, err = r.UploadFolder(context.Background(), root, nil)
	require.NoError(t, err)
	require.True(t, report.Skipped)
	require.Empty(t, mem.Calls())
}

func TestUploadFolder_ForcedRerunUpdatesRow(t *testing.T) {
	mem, client := newMemoryClient(t)
	l, _ := newTestLedger(t)
	root := testutils.ProjectTree(t)

	_, err := newTestRunner(t, l, client, false).UploadFolder(context.Background(), root, nil)
	require.NoError(t, err)
	objects := mem.Len()
	mem.ResetCalls()

	report, err := newTestRunner(t, l, client, true).UploadFolder(context.Background(), root, nil)
	require.NoError(t, err)
	require.False(t, report.Skipped)
	require.True(t, report.Recorded)
	require.EqualValues(t, 2, report.Transfer.Existing, "files already present are not sent again")
	require.Equal(t, objects, mem.Len())
	require.Zero(t, mem.CountCalls(remote.OpCreateFile))

	entries, err := l.List()
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestUploadFolder_ParentBeforeChild(t *testing.T) {
	mem, client := newMemoryClient(t)
	l, _ := newTestLedger(t)
	root := testutils.DeepTree(t, "Deep", 4)
	testutils.WriteTree(t, root, map[string]string{
		"level1/side/x.txt":         "x",
		"level1/level2/side2/y.txt": "y",
	})
	ordered := newOrderingRemote(client)

	report, err := newTestRunner(t, l, ordered, false).UploadFolder(context.Background(), root, nil)
	require.NoError(t, err)
	require.True(t, report.Recorded)
	require.Empty(t, ordered.violations)
	require.Equal(t, 6, report.Dirs)
	require.Equal(t, 7, report.Files)

	for _, obj := range allObjects(mem, remote.MemoryRootID) {
		if obj.ParentID == remote.MemoryRootID {
			continue
		}
		parent, ok := mem.Lookup(obj.ParentID)
		require.True(t, ok)
		require.False(t, obj.Created.Before(parent.Created), "%s created before its parent", obj.Name)
	}
}

// allObjects lists the tree under id breadth first, oldest first within each folder
func allObjects(mem *remote.MemoryBackend, id string) []remote.MemoryObject {
	var out []remote.MemoryObject
	queue := []string{id}
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		for _, child := range mem.Children(next) {
			out = append(out, child)
			if child.Folder {
				queue = append(queue, child.ID)
			}
		}
	}
	return out
}

func TestUploadFolder_DuplicateSafety(t *testing.T) {
	mem, client := newMemoryClient(t)
	l, _ := newTestLedger(t)
	root := testutils.ProjectTree(t)

	var folderFault, fileFault atomic.Bool
	lost := remote.Transient(errors.New("503 backend error"))
	mem.SetFault(func(op remote.OpKind, name, parentID string) *remote.Fault {
		switch {
		case op == remote.OpCreateFolder && name == "sub" && folderFault.CompareAndSwap(false, true):
			return &remote.Fault{Err: lost, Applied: true}
		case op == remote.OpCreateFile && name == "b.txt" && fileFault.CompareAndSwap(false, true):
			return &remote.Fault{Err: lost, Applied: true}
		}
		return nil
	})

	report, err := newTestRunner(t, l, client, false).UploadFolder(context.Background(), root, nil)
	require.NoError(t, err)
	require.True(t, report.Recorded)
	require.EqualValues(t, 1, report.Transfer.Recovered)

	project := childByName(t, mem, remote.MemoryRootID, "Project")
	sub := childByName(t, mem, project.ID, "sub")
	childByName(t, mem, sub.ID, "b.txt")
	require.Equal(t, 5, mem.Len())
}

// brokenExecutor fails every batch after starting its first task
type brokenExecutor struct{}

func (brokenExecutor) Execute(ctx context.Context, n int, task func(ctx context.Context, i int)) error {
	if n > 0 {
		task(ctx, 0)
	}
	return errors.New("worker pool crashed")
}

func TestUploadFolder_BatchFallback(t *testing.T) {
	mem, client := newMemoryClient(t)
	l, _ := newTestLedger(t)
	root := filepath.Join(t.TempDir(), "Many")
	entries := map[string]string{}
	for _, name := range []string{"1.txt", "2.txt", "3.txt", "4.txt", "5.txt", "d/6.txt", "d/7.txt"} {
		entries[name] = name
	}
	testutils.WriteTree(t, root, entries)

	r := newTestRunner(t, l, client, false)
	r.SetExecutor(brokenExecutor{})
	report, err := r.UploadFolder(context.Background(), root, nil)
	require.NoError(t, err)
	require.True(t, report.Recorded)
	require.EqualValues(t, 4, report.Transfer.Fallbacks)

	seen := map[string]int{}
	for _, res := range report.Results {
		require.True(t, res.Success, res.RelPath)
		seen[res.RelPath]++
	}
	require.Len(t, seen, 7)
	for rel, n := range seen {
		require.Equal(t, 1, n, rel)
	}
	many := childByName(t, mem, remote.MemoryRootID, "Many")
	require.Len(t, mem.Children(many.ID), 6)
	require.Equal(t, 7, mem.CountCalls(remote.OpCreateFile), "no file is sent twice")
}

func TestUploadFolder_CorruptLedger(t *testing.T) {
	_, client := newMemoryClient(t)
	l, path := newTestLedger(t)
	require.NoError(t, os.WriteFile(path, []byte("\x00\x01 not,a\n\"ledger"), 0644))
	root := testutils.ProjectTree(t)

	require.False(t, l.IsUploaded(root))
	report, err := newTestRunner(t, l, client, false).UploadFolder(context.Background(), root, nil)
	require.NoError(t, err)
	require.True(t, report.Recorded)

	entries, err := l.List()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.True(t, l.IsUploaded(root))
}

func TestUploadFolder_FailedFileIsNotRecorded(t *testing.T) {
	mem, client := newMemoryClient(t)
	l, _ := newTestLedger(t)
	root := testutils.ProjectTree(t)
	mem.SetFault(func(op remote.OpKind, name, parentID string) *remote.Fault {
		if op == remote.OpCreateFile && name == "b.txt" {
			return &remote.Fault{Err: errors.New("quota exceeded")}
		}
		return nil
	})

	report, err := newTestRunner(t, l, client, false).UploadFolder(context.Background(), root, nil)
	require.ErrorIs(t, err, ErrIncomplete)
	require.False(t, report.Recorded)
	require.EqualValues(t, 1, report.Transfer.Failed)
	require.False(t, l.IsUploaded(root))

	// the next run only sends what is missing
	mem.SetFault(nil)
	mem.ResetCalls()
	report, err = newTestRunner(t, l, client, false).UploadFolder(context.Background(), root, nil)
	require.NoError(t, err)
	require.True(t, report.Recorded)
	require.Equal(t, 1, mem.CountCalls(remote.OpCreateFile))
}

func TestUploadFolder_UnreadableSubdirectoryIsNotRecorded(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced for root")
	}

	mem, client := newMemoryClient(t)
	l, _ := newTestLedger(t)
	root := filepath.Join(t.TempDir(), "Locked")
	testutils.WriteTree(t, root, map[string]string{
		"ok.txt":            "ok",
		"locked/hidden.txt": "hidden",
	})
	locked := filepath.Join(root, "locked")
	require.NoError(t, os.Chmod(locked, 0000))
	t.Cleanup(func() { _ = os.Chmod(locked, 0755) })

	report, err := newTestRunner(t, l, client, false).UploadFolder(context.Background(), root, nil)
	require.ErrorIs(t, err, ErrIncomplete)
	require.Equal(t, 1, report.SkippedDirs)
	require.False(t, report.Complete())
	require.False(t, report.Recorded)
	require.Contains(t, report.String(), "incomplete")
	require.False(t, l.IsUploaded(root))

	project := childByName(t, mem, remote.MemoryRootID, "Locked")
	childByName(t, mem, project.ID, "ok.txt")
}

func TestUploadFolder_Stopped(t *testing.T) {
	mem, client := newMemoryClient(t)
	l, _ := newTestLedger(t)
	root := testutils.ProjectTree(t)
	stop := NewStopSignal()
	stop.Fire("timeout")

	report, err := newTestRunner(t, l, client, false).UploadFolder(context.Background(), root, stop)
	require.NoError(t, err)
	require.True(t, report.Stopped)
	require.False(t, report.Recorded)
	require.Zero(t, mem.Len())
	require.False(t, l.IsUploaded(root))
}

func TestUploadFolder_InvalidPath(t *testing.T) {
	_, client := newMemoryClient(t)
	l, _ := newTestLedger(t)
	r := newTestRunner(t, l, client, false)

	_, err := r.UploadFolder(context.Background(), filepath.Join(t.TempDir(), "missing"), nil)
	require.ErrorIs(t, err, ErrNotDirectory)
	require.ErrorIs(t, err, os.ErrNotExist)

	file := filepath.Join(testutils.ProjectTree(t), "a.txt")
	_, err = r.UploadFolder(context.Background(), file, nil)
	require.ErrorIs(t, err, ErrNotDirectory)
}

func TestUploadFolder_DryRunDoesNotRecord(t *testing.T) {
	mem, client := newMemoryClient(t)
	l, _ := newTestLedger(t)
	root := testutils.ProjectTree(t)

	r := NewRunner(l, client, &config.UploadConfig{ProgressSeconds: -1}, nil, true)
	report, err := r.UploadFolder(context.Background(), root, nil)
	require.NoError(t, err)
	require.False(t, report.Recorded)
	require.Equal(t, 5, mem.Len())
	require.False(t, l.IsUploaded(root))
}

func newStagedRunner(t *testing.T, force bool) (*Runner, *staging.Area, *remote.MemoryBackend, ledger.Ledger) {
	t.Helper()
	mem, client := newMemoryClient(t)
	l, _ := newTestLedger(t)
	base := t.TempDir()
	area := staging.New(&config.StagingConfig{
		PendingDir: filepath.Join(base, "to_upload"),
		DoneDir:    filepath.Join(base, "uploaded"),
	}, nil)
	r := newTestRunner(t, l, client, force)
	r.SetStaging(area)
	return r, area, mem, l
}

func TestUploadAll(t *testing.T) {
	r, area, mem, _ := newStagedRunner(t, false)
	testutils.WriteTree(t, area.PendingDir(), map[string]string{
		"Large/a.bin":       "0123456789012345678901234567890",
		"Small/a.txt":       "x",
		"Medium/sub/b.txt":  "0123456789",
		"Medium/sub/empty/": "",
	})

	summary, err := r.UploadAll(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, 3, summary.Pending)
	require.Equal(t, 3, summary.Uploaded)
	require.Equal(t, 3, summary.Moved)

	// smallest first
	var order []string
	for _, obj := range mem.Children(remote.MemoryRootID) {
		order = append(order, obj.Name)
	}
	require.Equal(t, []string{"Small", "Medium", "Large"}, order)

	pending, err := area.Pending()
	require.NoError(t, err)
	require.Empty(t, pending)
	for _, name := range order {
		require.DirExists(t, filepath.Join(area.DoneDir(), name))
	}
}

func TestUploadAll_SkipsUploadedAndKeepsFailed(t *testing.T) {
	r, area, mem, l := newStagedRunner(t, false)
	testutils.WriteTree(t, area.PendingDir(), map[string]string{
		"Done/a.txt": "a",
		"Bad/b.txt":  "b",
		"Good/c.txt": "c",
	})
	require.NoError(t, l.Record(filepath.Join(area.PendingDir(), "Done"), "remote-done"))
	mem.SetFault(func(op remote.OpKind, name, parentID string) *remote.Fault {
		if op == remote.OpCreateFile && name == "b.txt" {
			return &remote.Fault{Err: errors.New("rejected")}
		}
		return nil
	})

	summary, err := r.UploadAll(context.Background(), nil)
	require.ErrorIs(t, err, ErrIncomplete)
	require.Equal(t, 1, summary.AlreadyUploaded)
	require.Equal(t, 1, summary.Uploaded)
	require.Equal(t, 1, summary.Failed)
	require.Equal(t, 1, summary.Moved)

	require.DirExists(t, filepath.Join(area.PendingDir(), "Bad"))
	require.DirExists(t, filepath.Join(area.PendingDir(), "Done"))
	require.DirExists(t, filepath.Join(area.DoneDir(), "Good"))
}

func TestUploadAll_StopLeavesRestPending(t *testing.T) {
	r, area, _, _ := newStagedRunner(t, false)
	testutils.WriteTree(t, area.PendingDir(), map[string]string{
		"A/a.txt": "a",
		"B/b.txt": "bb",
	})
	stop := NewStopSignal()
	stop.Fire("timeout")

	summary, err := r.UploadAll(context.Background(), stop)
	require.NoError(t, err)
	require.True(t, summary.Stopped)
	require.Equal(t, 2, summary.NotStarted)
	require.Zero(t, summary.Moved)
}

func TestUploadAll_AuthFailureAborts(t *testing.T) {
	r, area, mem, _ := newStagedRunner(t, false)
	testutils.WriteTree(t, area.PendingDir(), map[string]string{
		"A/a.txt": "a",
		"B/b.txt": "bb",
	})
	mem.SetFault(func(op remote.OpKind, name, parentID string) *remote.Fault {
		return &remote.Fault{Err: remote.ErrAuth}
	})

	summary, err := r.UploadAll(context.Background(), nil)
	require.ErrorIs(t, err, remote.ErrAuth)
	require.Equal(t, 1, summary.Failed)
}

func TestUploadAll_WithoutStaging(t *testing.T) {
	_, client := newMemoryClient(t)
	l, _ := newTestLedger(t)
	_, err := newTestRunner(t, l, client, false).UploadAll(context.Background(), nil)
	require.ErrorIs(t, err, ErrNoStaging)
}
