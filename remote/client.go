package remote

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/cerdastangkas/gdrive-uploader/config"
	"github.com/cerdastangkas/gdrive-uploader/logger"
)

// smallGroup is the sibling count up to which folders are resolved one by one
const smallGroup = 5

// Client wraps a Backend with a run-scoped folder cache, request pacing and
// the retry-then-probe policy. It is safe for concurrent use.
type Client struct {
	backend Backend
	cache   *FolderCache
	limiter *rate.Limiter
	retry   RetryPolicy
	timeout time.Duration
	logger  logger.Logger

	group    singleflight.Group
	rootOnce sync.Once
	rootID   string
	rootErr  error

	stats clientCounters
}

type clientCounters struct {
	requests       atomic.Int64
	retries        atomic.Int64
	recovered      atomic.Int64
	cacheHits      atomic.Int64
	foldersCreated atomic.Int64
	filesUploaded  atomic.Int64
	filesExisting  atomic.Int64
	bytesUploaded  atomic.Int64
}

// ClientStats is a snapshot of a Client's counters
type ClientStats struct {
	Requests       int64
	Retries        int64
	Recovered      int64
	CacheHits      int64
	FoldersCreated int64
	FilesUploaded  int64
	FilesExisting  int64
	BytesUploaded  int64
}

func (s ClientStats) String() string {
	return fmt.Sprintf("requests=%d retries=%d recovered=%d cache_hits=%d folders_created=%d files_uploaded=%d files_existing=%d bytes=%s",
		s.Requests, s.Retries, s.Recovered, s.CacheHits, s.FoldersCreated, s.FilesUploaded, s.FilesExisting, humanize.Bytes(uint64(s.BytesUploaded)))
}

// NewClient creates a client around backend. common may be nil for defaults.
func NewClient(backend Backend, common *config.CommonRemoteConfig, log logger.Logger) *Client {
	if common == nil {
		common = &config.CommonRemoteConfig{}
	}
	common.ApplyDefaults()

	var limiter *rate.Limiter
	if common.MaxRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(common.MaxRPS), common.MaxRPS) // burst = MaxRPS
	}

	return &Client{
		backend: backend,
		cache:   NewFolderCache(),
		limiter: limiter,
		retry:   NewRetryPolicy(common),
		timeout: time.Duration(common.TimeoutSeconds) * time.Second,
		logger:  logger.OrNoOp(log).With("remote", backend.Name()),
	}
}

// SetRetryPolicy replaces the retry policy; used by tests to skip real sleeps
func (c *Client) SetRetryPolicy(p RetryPolicy) {
	c.retry = p
}

// Backend returns the wrapped backend
func (c *Client) Backend() Backend {
	return c.backend
}

func (c *Client) Stats() ClientStats {
	return ClientStats{
		Requests:       c.stats.requests.Load(),
		Retries:        c.stats.retries.Load(),
		Recovered:      c.stats.recovered.Load(),
		CacheHits:      c.stats.cacheHits.Load(),
		FoldersCreated: c.stats.foldersCreated.Load(),
		FilesUploaded:  c.stats.filesUploaded.Load(),
		FilesExisting:  c.stats.filesExisting.Load(),
		BytesUploaded:  c.stats.bytesUploaded.Load(),
	}
}

func (c *Client) Close() error {
	return c.backend.Close()
}

// call paces one request. Metadata requests are also bounded by the per-request timeout;
// content transfers are not, their duration depends on the file size.
func (c *Client) call(fn Op, bounded bool) Op {
	return func(ctx context.Context) (string, error) {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return "", err
			}
		}
		c.stats.requests.Add(1)
		if bounded && c.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.timeout)
			defer cancel()
		}
		return fn(ctx)
	}
}

func (c *Client) onRetry(what string) func(int, time.Duration, error) {
	return func(attempt int, wait time.Duration, err error) {
		c.stats.retries.Add(1)
		c.logger.Warn("%s failed (attempt %d/%d), retrying in %s: %v", what, attempt, c.retry.MaxAttempts, wait, err)
	}
}

// lookup retries transient failures of a read-only call; ErrNotFound passes through
func (c *Client) lookup(ctx context.Context, what string, fn Op) (string, error) {
	out := c.retry.Run(ctx, c.call(fn, true), nil, c.onRetry(what))
	return out.ID, out.Err
}

// create runs a mutating call with probe-on-failure duplicate protection
func (c *Client) create(ctx context.Context, what string, fn, probe Op, bounded bool) Outcome {
	out := c.retry.Run(ctx, c.call(fn, bounded), c.call(probe, true), c.onRetry(what))
	if out.Recovered {
		c.stats.recovered.Add(1)
		c.logger.Info("%s was created despite the reported error (id %s)", what, out.ID)
	}
	return out
}

// RootID returns the id of the store's root folder, fetched once
func (c *Client) RootID(ctx context.Context) (string, error) {
	c.rootOnce.Do(func() {
		c.rootID, c.rootErr = c.lookup(ctx, "root lookup", c.backend.RootID)
	})
	return c.rootID, c.rootErr
}

func (c *Client) parentOrRoot(ctx context.Context, parentID string) (string, error) {
	if parentID != "" {
		return parentID, nil
	}
	return c.RootID(ctx)
}

// FindOrCreateFolder returns the id of the folder name under parentID (the root when empty),
// creating it when no such folder exists.
func (c *Client) FindOrCreateFolder(ctx context.Context, name, parentID string) (string, error) {
	parentID, err := c.parentOrRoot(ctx, parentID)
	if err != nil {
		return "", err
	}
	if id, ok := c.cache.Get(name, parentID); ok {
		c.stats.cacheHits.Add(1)
		return id, nil
	}

	// concurrent callers for the same folder share one lookup and create
	v, err, _ := c.group.Do(parentID+"\x00"+name, func() (interface{}, error) {
		if id, ok := c.cache.Get(name, parentID); ok {
			return id, nil
		}

		id, err := c.lookup(ctx, "folder lookup "+name, func(ctx context.Context) (string, error) {
			return c.backend.FindFolder(ctx, name, parentID)
		})
		if err == nil {
			c.logger.Verbose("Found folder %s under %s: %s", name, parentID, id)
			c.cache.Put(name, parentID, id)
			return id, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return "", fmt.Errorf("failed to look up folder %s: %w", name, err)
		}

		return c.createFolder(ctx, name, parentID)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// createFolder creates a folder known to be absent, probing after transient failures
func (c *Client) createFolder(ctx context.Context, name, parentID string) (string, error) {
	out := c.create(ctx, "folder create "+name,
		func(ctx context.Context) (string, error) { return c.backend.CreateFolder(ctx, name, parentID) },
		func(ctx context.Context) (string, error) { return c.backend.FindFolder(ctx, name, parentID) },
		true,
	)
	if out.Err != nil {
		return "", fmt.Errorf("failed to create folder %s: %w", name, out.Err)
	}
	if !out.Recovered {
		c.stats.foldersCreated.Add(1)
	}
	c.logger.Debug("Created folder %s under %s: %s", name, parentID, out.ID)
	c.cache.Put(name, parentID, out.ID)
	return out.ID, nil
}

// ResolveFolders returns ids for all names under parentID, creating the missing ones.
// Large groups are listed once and the missing names created in a batch where the backend
// supports it; names that still fail fall back to find-or-create. The map holds every name
// that was resolved, err joins the failures of the rest.
func (c *Client) ResolveFolders(ctx context.Context, parentID string, names []string) (map[string]string, error) {
	parentID, err := c.parentOrRoot(ctx, parentID)
	if err != nil {
		return nil, err
	}

	resolved := make(map[string]string, len(names))
	var pending []string
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		if id, ok := c.cache.Get(name, parentID); ok {
			c.stats.cacheHits.Add(1)
			resolved[name] = id
			continue
		}
		pending = append(pending, name)
	}

	if len(pending) > smallGroup {
		pending = c.resolveGroup(ctx, parentID, pending, resolved)
	}

	var errs []error
	for _, name := range pending {
		id, err := c.FindOrCreateFolder(ctx, name, parentID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		resolved[name] = id
	}
	return resolved, errors.Join(errs...)
}

// resolveGroup handles a large sibling group and returns the names left for find-or-create
func (c *Client) resolveGroup(ctx context.Context, parentID string, names []string, resolved map[string]string) []string {
	var existing map[string]string
	out := c.retry.Run(ctx, c.call(func(ctx context.Context) (string, error) {
		var err error
		existing, err = c.backend.ListFolders(ctx, parentID)
		return "", err
	}, true), nil, c.onRetry("folder listing"))
	if out.Err != nil {
		c.logger.Warn("Cannot list folders under %s, resolving %d folders one by one: %v", parentID, len(names), out.Err)
		return names
	}

	var missing []string
	for _, name := range names {
		if id, ok := existing[name]; ok {
			c.cache.Put(name, parentID, id)
			resolved[name] = id
			continue
		}
		missing = append(missing, name)
	}
	if len(missing) == 0 {
		return nil
	}

	batcher, ok := c.backend.(BatchFolderCreator)
	if !ok {
		// known absent: create directly, probe-protected
		var left []string
		for _, name := range missing {
			id, err := c.createFolder(ctx, name, parentID)
			if err != nil {
				c.logger.Warn("Create of %s failed, falling back to find-or-create: %v", name, err)
				left = append(left, name)
				continue
			}
			resolved[name] = id
		}
		return left
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return missing
		}
	}
	c.stats.requests.Add(1)
	created, err := batcher.CreateFolders(ctx, parentID, missing)
	var left []string
	for _, name := range missing {
		if id, ok := created[name]; ok {
			c.stats.foldersCreated.Add(1)
			c.cache.Put(name, parentID, id)
			resolved[name] = id
			continue
		}
		left = append(left, name)
	}
	if err != nil {
		c.logger.Warn("Batch create under %s left %d of %d folders unresolved: %v", parentID, len(left), len(missing), err)
	} else {
		c.logger.Debug("Batch created %d folders under %s", len(created), parentID)
	}
	// failed entries may still have been created, find-or-create looks them up first
	return left
}

// CheckFileExists returns the id of a file named name under parentID, if there is one
func (c *Client) CheckFileExists(ctx context.Context, name, parentID string) (string, bool, error) {
	parentID, err := c.parentOrRoot(ctx, parentID)
	if err != nil {
		return "", false, err
	}
	id, err := c.lookup(ctx, "file lookup "+name, func(ctx context.Context) (string, error) {
		return c.backend.FindFile(ctx, name, parentID)
	})
	if errors.Is(err, ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

// FileResult is the outcome of UploadFile
type FileResult struct {
	ID       string
	Attempts int
	// Existing is set when the file was already present and nothing was sent
	Existing bool
	// Recovered is set when the upload reported a failure but the file was found afterwards
	Recovered bool
}

// UploadFile uploads localPath into parentID unless a file with the same name is already there.
// Transient failures are retried; before every retry the remote is probed so an upload that
// actually landed is not repeated.
func (c *Client) UploadFile(ctx context.Context, localPath, parentID string) (*FileResult, error) {
	parentID, err := c.parentOrRoot(ctx, parentID)
	if err != nil {
		return nil, err
	}
	name := filepath.Base(localPath)

	if id, ok, err := c.CheckFileExists(ctx, name, parentID); err != nil {
		return nil, fmt.Errorf("failed to check %s: %w", name, err)
	} else if ok {
		c.stats.filesExisting.Add(1)
		c.logger.Debug("File %s already exists under %s (id %s)", name, parentID, id)
		return &FileResult{ID: id, Existing: true}, nil
	}

	info, err := os.Stat(localPath)
	if err != nil {
		return nil, err
	}
	req := FileRequest{
		Name:        name,
		ParentID:    parentID,
		Size:        info.Size(),
		ContentType: detectContentType(localPath),
		ChunkSize:   ChunkSize(info.Size()),
	}

	out := c.create(ctx, "upload "+name,
		func(ctx context.Context) (string, error) {
			f, err := os.Open(localPath)
			if err != nil {
				return "", err
			}
			defer f.Close()

			attempt := req
			attempt.Body = f
			return c.backend.CreateFile(ctx, attempt)
		},
		func(ctx context.Context) (string, error) { return c.backend.FindFile(ctx, name, parentID) },
		false,
	)
	if out.Err != nil {
		return nil, fmt.Errorf("failed to upload %s: %w", name, out.Err)
	}

	if !out.Recovered {
		c.stats.filesUploaded.Add(1)
		c.stats.bytesUploaded.Add(req.Size)
	}
	c.logger.Verbose("Uploaded %s (%s, chunk %s) as %s", name, humanize.Bytes(uint64(req.Size)), humanize.IBytes(uint64(req.ChunkSize)), out.ID)
	return &FileResult{ID: out.ID, Attempts: out.Attempts, Recovered: out.Recovered}, nil
}

func detectContentType(path string) string {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return "application/octet-stream"
	}
	return mt.String()
}
