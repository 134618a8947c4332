package processor

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/cerdastangkas/gdrive-uploader/config"
	"github.com/cerdastangkas/gdrive-uploader/logger"
	"github.com/cerdastangkas/gdrive-uploader/model"
	"github.com/cerdastangkas/gdrive-uploader/remote"
)

// FileUploader uploads one local file into a remote folder. Implemented by *remote.Client.
type FileUploader interface {
	UploadFile(ctx context.Context, localPath, parentID string) (*remote.FileResult, error)
}

// ErrMissingParent is reported for files whose folder has no remote id
var ErrMissingParent = errors.New("no remote folder for parent path")

// BatchExecutor runs task for every index in [0, n). An error means the execution
// mechanism itself failed; per-file failures are reported through the results instead.
type BatchExecutor interface {
	Execute(ctx context.Context, n int, task func(ctx context.Context, i int)) error
}

// PoolExecutor runs tasks on a bounded number of goroutines
type PoolExecutor struct {
	Workers int
}

func (p PoolExecutor) Execute(ctx context.Context, n int, task func(ctx context.Context, i int)) error {
	workers := p.Workers
	if workers <= 0 {
		workers = 5
	}

	var g errgroup.Group
	g.SetLimit(workers)
	for i := 0; i < n; i++ {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("upload worker panicked: %v", r)
				}
			}()
			task(ctx, i)
			return nil
		})
	}
	return g.Wait()
}

// SequentialExecutor runs tasks one after another on the calling goroutine
type SequentialExecutor struct{}

func (SequentialExecutor) Execute(ctx context.Context, n int, task func(ctx context.Context, i int)) error {
	for i := 0; i < n; i++ {
		task(ctx, i)
	}
	return nil
}

type outcome int

const (
	outcomeFailed outcome = iota
	outcomeUploaded
	outcomeExisting
	outcomeRecovered
	outcomeNotDispatched
)

// TransferStats contains statistics from one Transfer
type TransferStats struct {
	TotalFiles    int64 // files handed to the engine
	TotalBytes    int64 // size of those files
	Uploaded      int64 // files sent in this run
	Existing      int64 // files already present remotely, nothing sent
	Recovered     int64 // files found after a reported failure
	Failed        int64 // terminal failures
	NotDispatched int64 // files never started because a stop was requested
	Retried       int64 // files that went through the synchronous retry
	Fallbacks     int64 // batches that ran sequentially after the executor failed
	Batches       int64
	BytesSent     int64
}

func (s *TransferStats) String() string {
	return fmt.Sprintf("Transfer: files=%d (%s), uploaded=%d, existing=%d, recovered=%d, failed=%d, not_dispatched=%d, retried=%d, batches=%d, fallbacks=%d, sent=%s",
		s.TotalFiles, humanize.Bytes(uint64(s.TotalBytes)), s.Uploaded, s.Existing, s.Recovered, s.Failed, s.NotDispatched,
		s.Retried, s.Batches, s.Fallbacks, humanize.Bytes(uint64(s.BytesSent)))
}

// TransferEngine uploads scanned files batch by batch
type TransferEngine struct {
	uploader      FileUploader
	executor      BatchExecutor
	batchSize     int
	progressEvery time.Duration
	logger        logger.Logger
}

func NewTransferEngine(uploader FileUploader, cfg *config.UploadConfig, log logger.Logger) *TransferEngine {
	if cfg == nil {
		cfg = &config.UploadConfig{}
	}
	cfg.ApplyDefaults()
	return &TransferEngine{
		uploader:      uploader,
		executor:      PoolExecutor{Workers: cfg.Workers},
		batchSize:     cfg.BatchSize,
		progressEvery: time.Duration(cfg.ProgressSeconds) * time.Second,
		logger:        logger.OrNoOp(log),
	}
}

// SetExecutor replaces the batch executor
func (e *TransferEngine) SetExecutor(x BatchExecutor) {
	e.executor = x
}

// runBatch executes the batch with the configured executor. A failing or panicking
// executor is replaced by a sequential pass over the whole batch.
func (e *TransferEngine) runBatch(ctx context.Context, n int, task func(ctx context.Context, i int)) (fellBack bool) {
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("batch executor panicked: %v", r)
			}
		}()
		return e.executor.Execute(ctx, n, task)
	}()
	if err == nil {
		return false
	}
	e.logger.Warn("Parallel upload of batch failed, uploading its %d files sequentially: %v", n, err)
	_ = SequentialExecutor{}.Execute(ctx, n, task)
	return true
}

// Transfer uploads files into the folders given by paths. Results are in input order.
// The returned error is set only when ctx was cancelled.
func (e *TransferEngine) Transfer(ctx context.Context, files []model.FileEntry, paths model.PathMap, stop *StopSignal) ([]model.UploadResult, *TransferStats, error) {
	stats := &TransferStats{TotalFiles: int64(len(files))}
	for _, f := range files {
		stats.TotalBytes += f.Size
	}
	results := make([]model.UploadResult, len(files))
	if len(files) == 0 {
		return results, stats, nil
	}

	var processed int64
	progressCtx, progressCancel := context.WithCancel(ctx)
	defer progressCancel()
	if e.progressEvery > 0 {
		go e.reportProgress(progressCtx, &processed, int64(len(files)))
	}

	kinds := make([]outcome, len(files))
	upload := func(ctx context.Context, i int) {
		f := files[i]
		res := model.UploadResult{RelPath: f.RelPath, Size: f.Size}
		kinds[i] = outcomeFailed
		defer func() { results[i] = res }()

		parentID, ok := paths[f.ParentPath()]
		if !ok {
			res.Err = fmt.Errorf("%w %s", ErrMissingParent, f.ParentPath())
			return
		}
		out, err := e.uploader.UploadFile(ctx, f.AbsPath, parentID)
		if err != nil {
			res.Err = err
			return
		}
		res.Success = true
		res.RemoteID = out.ID
		res.Attempts = out.Attempts
		switch {
		case out.Existing:
			kinds[i] = outcomeExisting
		case out.Recovered:
			kinds[i] = outcomeRecovered
		default:
			kinds[i] = outcomeUploaded
		}
	}
	notDispatched := func(i int) {
		results[i] = model.UploadResult{RelPath: files[i].RelPath, Size: files[i].Size, NotDispatched: true}
		kinds[i] = outcomeNotDispatched
	}

	batchSize := e.batchSize
	if batchSize <= 0 {
		batchSize = len(files)
	}

	for start := 0; start < len(files); start += batchSize {
		end := min(start+batchSize, len(files))

		if stop.Fired() || ctx.Err() != nil {
			for i := start; i < len(files); i++ {
				notDispatched(i)
			}
			break
		}

		stats.Batches++
		e.logger.Debug("Uploading batch %d (%d files)", stats.Batches, end-start)

		task := func(ctx context.Context, i int) {
			if stop.Fired() {
				notDispatched(start + i)
				return
			}
			upload(ctx, start+i)
			atomic.AddInt64(&processed, 1)
		}
		if e.runBatch(ctx, end-start, task) {
			stats.Fallbacks++
		}

		// failed files get one more synchronous attempt
		for i := start; i < end; i++ {
			if kinds[i] != outcomeFailed || errors.Is(results[i].Err, ErrMissingParent) {
				continue
			}
			if stop.Fired() || ctx.Err() != nil {
				break
			}
			stats.Retried++
			e.logger.Warn("Retrying %s after failure: %v", results[i].RelPath, results[i].Err)
			upload(ctx, i)
		}
	}

	for i, res := range results {
		switch kinds[i] {
		case outcomeUploaded:
			stats.Uploaded++
			stats.BytesSent += res.Size
		case outcomeExisting:
			stats.Existing++
		case outcomeRecovered:
			stats.Recovered++
		case outcomeNotDispatched:
			stats.NotDispatched++
		default:
			stats.Failed++
			e.logger.Error("Failed to upload %s: %v", res.RelPath, res.Err)
		}
	}

	if err := ctx.Err(); err != nil {
		return results, stats, err
	}
	return results, stats, nil
}

func (e *TransferEngine) reportProgress(ctx context.Context, processed *int64, total int64) {
	ticker := time.NewTicker(e.progressEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			done := atomic.LoadInt64(processed)
			if done > 0 && done < total {
				percentage := float64(done) / float64(total) * 100
				e.logger.Info("Upload progress: %d/%d files (%.1f%%)", done, total, percentage)
			}
		}
	}
}
