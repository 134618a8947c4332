package processor

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/cerdastangkas/gdrive-uploader/logger"
	"github.com/cerdastangkas/gdrive-uploader/model"
)

// FolderResolver creates or finds remote folders. Implemented by *remote.Client.
type FolderResolver interface {
	FindOrCreateFolder(ctx context.Context, name, parentID string) (string, error)
	ResolveFolders(ctx context.Context, parentID string, names []string) (map[string]string, error)
}

// HierarchyStats contains statistics from one Build
type HierarchyStats struct {
	TotalDirs     int64 // sub-directories in the scan
	Resolved      int64 // folders with a known remote id
	Failed        int64 // folders that could not be created
	Skipped       int64 // folders under a failed folder, not attempted
	Groups        int64 // sibling groups resolved
	RootFallbacks int64 // groups whose parent id was missing and the root id was used
}

func (s *HierarchyStats) String() string {
	return fmt.Sprintf("Hierarchy: dirs=%d, resolved=%d, failed=%d, skipped=%d, groups=%d, root_fallbacks=%d",
		s.TotalDirs, s.Resolved, s.Failed, s.Skipped, s.Groups, s.RootFallbacks)
}

// Hierarchy is the outcome of Build
type Hierarchy struct {
	RootID string
	Paths  model.PathMap
	// Failed holds the folders without a remote id, keyed by relative path
	Failed map[string]error
	Stats  HierarchyStats
}

// HierarchyBuilder materializes a scanned directory tree remotely, parents before children
type HierarchyBuilder struct {
	remote FolderResolver
	logger logger.Logger
}

func NewHierarchyBuilder(remote FolderResolver, log logger.Logger) *HierarchyBuilder {
	return &HierarchyBuilder{remote: remote, logger: logger.OrNoOp(log)}
}

// errParentFailed marks folders that were not attempted because an ancestor failed
var errParentFailed = errors.New("parent folder was not created")

// sortByDepth orders dirs so every parent comes before its children. Ties keep path order.
func sortByDepth(dirs []model.DirEntry) []model.DirEntry {
	sorted := append([]model.DirEntry(nil), dirs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		di, dj := sorted[i].Depth(), sorted[j].Depth()
		if di != dj {
			return di < dj
		}
		return sorted[i].RelPath < sorted[j].RelPath
	})
	return sorted
}

type siblingGroup struct {
	parent string
	dirs   []model.DirEntry
}

// groupByParent splits depth-sorted dirs into sibling groups, keeping depth order
func groupByParent(sorted []model.DirEntry) []siblingGroup {
	var groups []siblingGroup
	index := make(map[string]int)
	for _, d := range sorted {
		i, ok := index[d.ParentPath]
		if !ok {
			i = len(groups)
			index[d.ParentPath] = i
			groups = append(groups, siblingGroup{parent: d.ParentPath})
		}
		groups[i].dirs = append(groups[i].dirs, d)
	}
	return groups
}

// Build creates or finds the root folder rootName under parentID, then every directory in dirs.
// A root failure is returned as ErrRootFolder; failures below the root are reported in Failed.
func (h *HierarchyBuilder) Build(ctx context.Context, rootName, parentID string, dirs []model.DirEntry) (*Hierarchy, error) {
	rootID, err := h.remote.FindOrCreateFolder(ctx, rootName, parentID)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrRootFolder, rootName, err)
	}
	h.logger.Debug("Root folder %s resolved to %s", rootName, rootID)

	result := &Hierarchy{
		RootID: rootID,
		Paths:  model.PathMap{model.RootPath: rootID},
		Failed: make(map[string]error),
	}
	result.Stats.TotalDirs = int64(len(dirs))

	for _, group := range groupByParent(sortByDepth(dirs)) {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		if perr, failed := result.Failed[group.parent]; failed {
			for _, d := range group.dirs {
				result.Failed[d.RelPath] = fmt.Errorf("%w: %s: %w", errParentFailed, group.parent, perr)
				result.Stats.Skipped++
			}
			h.logger.Warn("Skipping %d folders under %s, the parent folder failed", len(group.dirs), group.parent)
			continue
		}

		parentRemoteID, ok := result.Paths[group.parent]
		if !ok {
			h.logger.Warn("No remote id for parent %s, creating %d folders under the root folder instead", group.parent, len(group.dirs))
			parentRemoteID = rootID
			result.Stats.RootFallbacks++
		}

		names := make([]string, len(group.dirs))
		for i, d := range group.dirs {
			names[i] = d.Name
		}

		result.Stats.Groups++
		ids, err := h.remote.ResolveFolders(ctx, parentRemoteID, names)
		for _, d := range group.dirs {
			if id, ok := ids[d.Name]; ok {
				result.Paths[d.RelPath] = id
				result.Stats.Resolved++
				h.logger.Verbose("Folder %s -> %s", d.RelPath, id)
				continue
			}
			ferr := err
			if ferr == nil {
				ferr = fmt.Errorf("no id returned for %s", d.Name)
			}
			result.Failed[d.RelPath] = ferr
			result.Stats.Failed++
			h.logger.Error("Failed to create folder %s: %v", d.RelPath, ferr)
		}
	}

	return result, nil
}
