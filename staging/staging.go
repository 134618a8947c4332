package staging

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/cerdastangkas/gdrive-uploader/config"
	"github.com/cerdastangkas/gdrive-uploader/logger"
	"github.com/cerdastangkas/gdrive-uploader/scanner"
)

// ErrAlreadyExists is returned by Add when the pending directory already holds a folder of that name
var ErrAlreadyExists = errors.New("folder already exists in the pending directory")

// suffixLayout is appended to a folder name that collides in the done directory
const suffixLayout = "20060102150405"

// Folder is a top-level folder waiting in the pending directory
type Folder struct {
	Name string
	Path string
	Size int64
}

// Area is the pair of pending and done directories around an upload run
type Area struct {
	pendingDir string
	doneDir    string
	logger     logger.Logger
	now        func() time.Time
}

func New(cfg *config.StagingConfig, log logger.Logger) *Area {
	cfg.ApplyDefaults()
	return &Area{
		pendingDir: cfg.PendingDir,
		doneDir:    cfg.DoneDir,
		logger:     logger.OrNoOp(log),
		now:        time.Now,
	}
}

func (a *Area) PendingDir() string { return a.pendingDir }

func (a *Area) DoneDir() string { return a.doneDir }

// Pending lists the direct sub-directories of the pending directory by name, creating it if missing
func (a *Area) Pending() ([]Folder, error) {
	if err := os.MkdirAll(a.pendingDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create pending directory: %w", err)
	}
	entries, err := os.ReadDir(a.pendingDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read pending directory: %w", err)
	}

	var folders []Folder
	for _, e := range entries {
		path := filepath.Join(a.pendingDir, e.Name())
		info, err := os.Stat(path)
		if err != nil || !info.IsDir() {
			continue
		}
		size, err := scanner.FolderSize(path)
		if err != nil {
			a.logger.Warn("Cannot size %s: %v", path, err)
		}
		folders = append(folders, Folder{Name: e.Name(), Path: path, Size: size})
	}
	sort.Slice(folders, func(i, j int) bool { return folders[i].Name < folders[j].Name })
	return folders, nil
}

// Add copies (or moves) the folder at src into the pending directory and returns its new path
func (a *Area) Add(src string, move bool) (string, error) {
	abs, err := filepath.Abs(src)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s: %w", abs, scanner.ErrNotDirectory)
	}
	if err := os.MkdirAll(a.pendingDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create pending directory: %w", err)
	}

	dest := filepath.Join(a.pendingDir, filepath.Base(abs))
	if _, err := os.Lstat(dest); err == nil {
		return "", fmt.Errorf("%s: %w", filepath.Base(abs), ErrAlreadyExists)
	}

	if move {
		if err := moveDir(abs, dest); err != nil {
			return "", err
		}
		a.logger.Info("Moved %s to %s", abs, dest)
		return dest, nil
	}

	if err := copyDir(abs, dest); err != nil {
		_ = os.RemoveAll(dest)
		return "", err
	}
	size, _ := scanner.FolderSize(dest)
	a.logger.Info("Copied %s to %s (%s)", abs, dest, humanize.Bytes(uint64(size)))
	return dest, nil
}

// MoveToDone moves path into the done directory. A name already taken there gets a timestamp suffix.
func (a *Area) MoveToDone(path string) (string, error) {
	if err := os.MkdirAll(a.doneDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create done directory: %w", err)
	}

	name := filepath.Base(path)
	dest := filepath.Join(a.doneDir, name)
	if _, err := os.Lstat(dest); err == nil {
		dest = filepath.Join(a.doneDir, name+"_"+a.now().Format(suffixLayout))
	}
	if err := moveDir(path, dest); err != nil {
		return "", err
	}
	a.logger.Debug("Moved %s to %s", path, dest)
	return dest, nil
}

// moveDir renames src to dest, copying across file systems when a rename is not possible
func moveDir(src, dest string) error {
	err := os.Rename(src, dest)
	if err == nil {
		return nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return err
	}
	if err := copyDir(src, dest); err != nil {
		_ = os.RemoveAll(dest)
		return err
	}
	return os.RemoveAll(src)
}

// copyDir copies the tree at src to dest, which must not exist.
// Symlinks are replaced by the content they point to; dangling ones are skipped.
func copyDir(src, dest string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)

		info, err := os.Stat(path)
		if err != nil {
			if d.Type()&fs.ModeSymlink != 0 {
				return nil
			}
			return err
		}

		switch {
		case d.IsDir():
			return os.Mkdir(target, info.Mode().Perm())
		case info.IsDir():
			// symlinked directory
			return nil
		case info.Mode().IsRegular():
			return copyFile(path, target, info.Mode().Perm())
		default:
			return nil
		}
	})
}

func copyFile(src, dest string, perm fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
