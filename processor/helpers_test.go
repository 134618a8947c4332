package processor

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cerdastangkas/gdrive-uploader/config"
	"github.com/cerdastangkas/gdrive-uploader/ledger"
	"github.com/cerdastangkas/gdrive-uploader/remote"
)

func newMemoryClient(t *testing.T) (*remote.MemoryBackend, *remote.Client) {
	t.Helper()
	mem := remote.NewMemoryBackend()
	c := remote.NewClient(mem, &config.CommonRemoteConfig{MaxRetries: 3}, nil)
	c.SetRetryPolicy(remote.RetryPolicy{
		MaxAttempts: 3,
		Sleep:       func(ctx context.Context, _ time.Duration) error { return ctx.Err() },
	})
	return mem, c
}

func newTestLedger(t *testing.T) (ledger.Ledger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "uploaded_folders.csv")
	l, err := ledger.NewCSVLedger(&config.CSVLedgerConfig{Path: path}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l, path
}

// orderingRemote records ordering violations: a create or upload whose parent id
// was not handed out by an earlier call
type orderingRemote struct {
	inner Remote

	mu         sync.Mutex
	known      map[string]bool
	violations []string
}

func newOrderingRemote(inner Remote) *orderingRemote {
	return &orderingRemote{inner: inner, known: map[string]bool{"": true}}
}

func (o *orderingRemote) check(op, parentID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.known[parentID] {
		o.violations = append(o.violations, op+" under unknown parent "+parentID)
	}
}

func (o *orderingRemote) learn(ids ...string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, id := range ids {
		o.known[id] = true
	}
}

func (o *orderingRemote) FindOrCreateFolder(ctx context.Context, name, parentID string) (string, error) {
	o.check("folder "+name, parentID)
	id, err := o.inner.FindOrCreateFolder(ctx, name, parentID)
	if err == nil {
		o.learn(id)
	}
	return id, err
}

func (o *orderingRemote) ResolveFolders(ctx context.Context, parentID string, names []string) (map[string]string, error) {
	o.check("folders", parentID)
	ids, err := o.inner.ResolveFolders(ctx, parentID, names)
	for _, id := range ids {
		o.learn(id)
	}
	return ids, err
}

func (o *orderingRemote) UploadFile(ctx context.Context, localPath, parentID string) (*remote.FileResult, error) {
	o.check("file "+filepath.Base(localPath), parentID)
	return o.inner.UploadFile(ctx, localPath, parentID)
}
