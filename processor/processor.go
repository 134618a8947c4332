package processor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/cerdastangkas/gdrive-uploader/config"
	"github.com/cerdastangkas/gdrive-uploader/ledger"
	"github.com/cerdastangkas/gdrive-uploader/logger"
	"github.com/cerdastangkas/gdrive-uploader/model"
	"github.com/cerdastangkas/gdrive-uploader/remote"
	"github.com/cerdastangkas/gdrive-uploader/scanner"
	"github.com/cerdastangkas/gdrive-uploader/staging"
)

var (
	// ErrNotDirectory is returned when the folder to upload is missing or not a directory
	ErrNotDirectory = scanner.ErrNotDirectory
	// ErrRootFolder is returned when the remote folder for the upload root cannot be created
	ErrRootFolder = errors.New("failed to create root folder")
	// ErrIncomplete is returned when some files or folders of an upload failed
	ErrIncomplete = errors.New("upload incomplete")
	// ErrNoStaging is returned by UploadAll on a runner without a staging area
	ErrNoStaging = errors.New("no staging area configured")
)

// Remote is what the runner needs from the remote client. Implemented by *remote.Client.
type Remote interface {
	FolderResolver
	FileUploader
}

type Runner struct {
	ledger    ledger.Ledger
	scanner   *scanner.Scanner
	hierarchy *HierarchyBuilder
	transfer  *TransferEngine
	staging   *staging.Area
	config    config.UploadConfig
	logger    logger.Logger
	dryRun    bool
}

// NewRunner creates a new Runner with the provided dependencies.
// In dry-run mode nothing is recorded in the ledger and no folder is moved.
func NewRunner(l ledger.Ledger, r Remote, cfg *config.UploadConfig, log logger.Logger, dryRun bool) *Runner {
	log = logger.OrNoOp(log)
	if cfg == nil {
		cfg = &config.UploadConfig{}
	}
	cfg.ApplyDefaults()
	return &Runner{
		ledger:    l,
		scanner:   scanner.New(log),
		hierarchy: NewHierarchyBuilder(r, log),
		transfer:  NewTransferEngine(r, cfg, log),
		config:    *cfg,
		logger:    log,
		dryRun:    dryRun,
	}
}

// SetStaging sets the pending and done directories used by UploadAll
func (r *Runner) SetStaging(a *staging.Area) {
	r.staging = a
}

// SetExecutor replaces the executor used for file batches
func (r *Runner) SetExecutor(x BatchExecutor) {
	r.transfer.SetExecutor(x)
}

// FolderReport is the outcome of UploadFolder
type FolderReport struct {
	Path     string
	Name     string
	RemoteID string

	Skipped  bool // already recorded in the ledger, nothing was done
	Stopped  bool // a stop was requested before the folder completed
	Recorded bool // the ledger row was written

	Files         int
	Dirs          int
	TotalBytes    int64
	BrokenLinks   int
	SkippedDirs   int // directories the scan could not read
	FailedFolders map[string]error
	Results       []model.UploadResult

	Hierarchy *HierarchyStats
	Transfer  *TransferStats
	Elapsed   time.Duration
}

// Complete reports whether every local folder was read and every folder and file has a remote id
func (f *FolderReport) Complete() bool {
	if f.Skipped {
		return true
	}
	if f.Transfer == nil || len(f.FailedFolders) > 0 || f.SkippedDirs > 0 {
		return false
	}
	return f.Transfer.Failed == 0 && f.Transfer.NotDispatched == 0
}

func (f *FolderReport) String() string {
	if f.Skipped {
		return fmt.Sprintf("%s: already uploaded", f.Name)
	}
	status := "complete"
	switch {
	case f.Stopped:
		status = "stopped"
	case !f.Complete():
		status = "incomplete"
	}
	var failedFiles int64
	if f.Transfer != nil {
		failedFiles = f.Transfer.Failed
	}
	return fmt.Sprintf("%s: %s, files=%d, dirs=%d, size=%s, failed_files=%d, failed_folders=%d, unreadable_dirs=%d, remote_id=%s, took %s",
		f.Name, status, f.Files, f.Dirs, humanize.Bytes(uint64(f.TotalBytes)), failedFiles, len(f.FailedFolders),
		f.SkippedDirs, f.RemoteID, f.Elapsed.Round(time.Millisecond))
}

// UploadFolder uploads the tree at path as a folder of the same name under the configured parent.
// The folder is recorded in the ledger only when everything was uploaded and no stop was requested.
func (r *Runner) UploadFolder(ctx context.Context, path string, stop *StopSignal) (*FolderReport, error) {
	started := time.Now()
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", abs, ErrNotDirectory, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s: %w", abs, ErrNotDirectory)
	}

	report := &FolderReport{Path: abs, Name: filepath.Base(abs), FailedFolders: map[string]error{}}
	log := r.logger.With("folder", report.Name)

	if !r.config.Force && r.ledger.IsUploaded(abs) {
		log.Info("Folder %s was already uploaded, skipping (use force to upload again)", abs)
		report.Skipped = true
		return report, nil
	}
	if stop.Fired() {
		report.Stopped = true
		return report, nil
	}

	// 1. Scan
	log.Debug("Step 1: Scanning %s", abs)
	inv, err := r.scanner.Scan(ctx, abs)
	if err != nil {
		return report, fmt.Errorf("failed to scan %s: %w", abs, err)
	}
	report.Files = len(inv.Files)
	report.Dirs = len(inv.Dirs)
	report.TotalBytes = inv.TotalBytes
	report.BrokenLinks = inv.BrokenLinks
	report.SkippedDirs = inv.SkippedDirs

	// 2. Remote folders
	log.Debug("Step 2: Creating %d folders", len(inv.Dirs))
	tree, err := r.hierarchy.Build(ctx, report.Name, r.config.ParentID, inv.Dirs)
	if err != nil {
		return report, err
	}
	report.RemoteID = tree.RootID
	report.FailedFolders = tree.Failed
	report.Hierarchy = &tree.Stats
	log.Info(tree.Stats.String())

	// 3. Files
	log.Debug("Step 3: Uploading %d files (%s) with %d workers", len(inv.Files), humanize.Bytes(uint64(inv.TotalBytes)), r.config.Workers)
	results, stats, err := r.transfer.Transfer(ctx, inv.Files, tree.Paths, stop)
	report.Results = results
	report.Transfer = stats
	report.Elapsed = time.Since(started)
	if err != nil {
		return report, err
	}
	log.Info(stats.String())

	// 4. Ledger
	if stop.Fired() {
		report.Stopped = true
		log.Warn("Upload of %s was interrupted (%s); run again to continue", report.Name, stop.Reason())
		return report, nil
	}
	if !report.Complete() {
		return report, fmt.Errorf("%w: %s: %d files and %d folders failed, %d folders unreadable",
			ErrIncomplete, report.Name, stats.Failed, len(report.FailedFolders), report.SkippedDirs)
	}
	if r.dryRun {
		log.Info("Dry-run mode: would record %s as uploaded (%s)", abs, tree.RootID)
		return report, nil
	}
	if err := r.ledger.Record(abs, tree.RootID); err != nil {
		return report, fmt.Errorf("failed to record upload of %s: %w", abs, err)
	}
	report.Recorded = true
	log.Info("Upload of %s complete in %s", report.Name, report.Elapsed.Round(time.Millisecond))
	return report, nil
}

// RunSummary contains statistics from one UploadAll
type RunSummary struct {
	Pending         int // folders in the pending directory
	AlreadyUploaded int // skipped through the ledger
	Uploaded        int // recorded in this run
	Failed          int
	NotStarted      int // left pending because of a stop
	Moved           int // moved into the done directory
	Stopped         bool
	TotalBytes      int64
	Reports         []*FolderReport
}

func (s *RunSummary) String() string {
	return fmt.Sprintf("UploadAll: pending=%d, already_uploaded=%d, uploaded=%d, failed=%d, not_started=%d, moved=%d, stopped=%t, size=%s",
		s.Pending, s.AlreadyUploaded, s.Uploaded, s.Failed, s.NotStarted, s.Moved, s.Stopped, humanize.Bytes(uint64(s.TotalBytes)))
}

// fatal reports whether err should end UploadAll instead of moving on to the next folder
func fatal(ctx context.Context, err error) bool {
	return ctx.Err() != nil || remote.IsAuthError(err) || errors.Is(err, ErrRootFolder)
}

// UploadAll uploads every pending folder that is not in the ledger yet, smallest first,
// and moves each completed one into the done directory.
func (r *Runner) UploadAll(ctx context.Context, stop *StopSignal) (*RunSummary, error) {
	if r.staging == nil {
		return nil, ErrNoStaging
	}

	pending, err := r.staging.Pending()
	if err != nil {
		return nil, err
	}
	summary := &RunSummary{Pending: len(pending)}

	var todo []staging.Folder
	for _, f := range pending {
		if !r.config.Force && r.ledger.IsUploaded(f.Path) {
			summary.AlreadyUploaded++
			r.logger.Debug("Skipping %s, already uploaded", f.Name)
			continue
		}
		todo = append(todo, f)
		summary.TotalBytes += f.Size
	}
	if len(todo) == 0 {
		r.logger.Info("No folders to upload in %s", r.staging.PendingDir())
		return summary, nil
	}
	sort.SliceStable(todo, func(i, j int) bool { return todo[i].Size < todo[j].Size })

	r.logger.Info("Found %d folder(s) to upload (%s)", len(todo), humanize.Bytes(uint64(summary.TotalBytes)))
	for i, f := range todo {
		r.logger.Info("%d. %s (%s)", i+1, f.Name, humanize.Bytes(uint64(f.Size)))
	}

	var errs []error
	for i, f := range todo {
		if stop.Fired() {
			summary.Stopped = true
			summary.NotStarted = len(todo) - i
			r.logger.Warn("Stopping before %s (%s), %d folder(s) left pending", f.Name, stop.Reason(), summary.NotStarted)
			break
		}

		r.logger.Info("[%d/%d] Uploading folder %s (%s)", i+1, len(todo), f.Name, humanize.Bytes(uint64(f.Size)))
		report, err := r.UploadFolder(ctx, f.Path, stop)
		if report != nil {
			summary.Reports = append(summary.Reports, report)
		}
		if err != nil {
			summary.Failed++
			if fatal(ctx, err) {
				return summary, err
			}
			r.logger.Error("Upload of %s failed, it stays pending: %v", f.Name, err)
			errs = append(errs, err)
			continue
		}
		if report.Stopped {
			summary.Stopped = true
			summary.NotStarted = len(todo) - i - 1
			break
		}
		if report.Recorded || report.Skipped {
			summary.Uploaded++
		}
		if !report.Recorded {
			continue
		}

		dest, err := r.staging.MoveToDone(f.Path)
		if err != nil {
			r.logger.Warn("Uploaded %s but could not move it to %s: %v", f.Name, r.staging.DoneDir(), err)
			continue
		}
		summary.Moved++
		r.logger.Info("Moved %s to %s", f.Name, dest)
	}

	r.logger.Info(summary.String())
	if len(errs) > 0 {
		return summary, fmt.Errorf("%d of %d folders failed: %w", len(errs), len(todo), errors.Join(errs...))
	}
	return summary, nil
}
