package scanner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"github.com/cerdastangkas/gdrive-uploader/logger"
	"github.com/cerdastangkas/gdrive-uploader/model"
)

// ErrNotDirectory is returned when the scan root is not a directory
var ErrNotDirectory = errors.New("not a directory")

// Scanner walks a local tree once and produces a flat inventory. It never talks to the remote.
type Scanner struct {
	logger logger.Logger
}

// New creates a scanner. A nil logger disables logging.
func New(log logger.Logger) *Scanner {
	return &Scanner{logger: logger.OrNoOp(log)}
}

// Scan walks root and returns every sub-directory and regular file below it.
// Symlinks are never followed into directories. A symlink to a file contributes the target's
// content, a dangling one is skipped and counted in BrokenLinks.
func (s *Scanner) Scan(ctx context.Context, root string) (*model.Inventory, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", root, err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s: %w", abs, ErrNotDirectory)
	}

	inv := &model.Inventory{Root: abs}

	walkErr := filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		if err != nil {
			if path == abs {
				return fmt.Errorf("failed to read %s: %w", abs, err)
			}
			if d != nil && d.IsDir() {
				s.logger.Warn("Skipping unreadable directory %s: %v", path, err)
				inv.SkippedDirs++
				return filepath.SkipDir
			}
			s.logger.Warn("Skipping %s: %v", path, err)
			return nil
		}

		if path == abs {
			return nil
		}

		rel, err := filepath.Rel(abs, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		switch {
		case d.Type()&fs.ModeSymlink != 0:
			s.addSymlink(inv, path, rel, d.Name())
		case d.IsDir():
			inv.Dirs = append(inv.Dirs, model.DirEntry{
				RelPath:    rel,
				ParentPath: model.ParentOf(rel),
				AbsPath:    path,
				Name:       d.Name(),
			})
		case d.Type().IsRegular():
			fi, err := d.Info()
			if err != nil {
				// removed between readdir and lstat
				s.logger.Warn("Skipping %s: %v", path, err)
				return nil
			}
			s.addFile(inv, path, rel, d.Name(), fi.Size())
		default:
			s.logger.Debug("Skipping special file %s (%s)", rel, d.Type())
		}
		return nil
	})
	if walkErr != nil {
		return nil, walkErr
	}

	s.logger.Debug("Scanned %s: %d files, %d folders, %s", abs, len(inv.Files), len(inv.Dirs), humanize.Bytes(uint64(inv.TotalBytes)))
	if inv.BrokenLinks > 0 {
		s.logger.Warn("Skipped %d broken symlinks under %s", inv.BrokenLinks, abs)
	}
	return inv, nil
}

func (s *Scanner) addSymlink(inv *model.Inventory, path, rel, name string) {
	target, err := os.Stat(path)
	if err != nil {
		inv.BrokenLinks++
		s.logger.Debug("Skipping broken symlink %s: %v", rel, err)
		return
	}
	if target.IsDir() {
		s.logger.Debug("Skipping symlinked directory %s", rel)
		return
	}
	if !target.Mode().IsRegular() {
		return
	}
	s.addFile(inv, path, rel, name, target.Size())
}

func (s *Scanner) addFile(inv *model.Inventory, path, rel, name string, size int64) {
	inv.Files = append(inv.Files, model.FileEntry{
		RelPath: rel,
		AbsPath: path,
		Name:    name,
		Size:    size,
	})
	inv.TotalBytes += size
	s.logger.Verbose("Found %s (%s)", rel, humanize.Bytes(uint64(size)))
}

// FolderSize returns the total size of regular files below path.
// Unresolvable symlinks and unreadable entries are ignored.
func FolderSize(path string) (int64, error) {
	var total int64
	err := filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == path {
				return err
			}
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		var fi fs.FileInfo
		if d.Type()&fs.ModeSymlink != 0 {
			fi, err = os.Stat(p)
		} else {
			fi, err = d.Info()
		}
		if err != nil || !fi.Mode().IsRegular() {
			return nil
		}
		total += fi.Size()
		return nil
	})
	return total, err
}
