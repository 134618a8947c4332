package remote

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/textproto"
	"path"
	"sort"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/cerdastangkas/gdrive-uploader/config"
	"github.com/cerdastangkas/gdrive-uploader/logger"
)

var _ Backend = (*FTPBackend)(nil)

// FTPBackend maps folders to FTP directories. Object ids are absolute server paths.
type FTPBackend struct {
	config     *config.FTPConfig
	timeout    time.Duration
	connPool   chan *ftp.ServerConn
	dialConfig []ftp.DialOption
	logger     logger.Logger
}

// NewFTPBackend connects once to verify the server and credentials
func NewFTPBackend(cfg *config.FTPConfig, common *config.CommonRemoteConfig, log logger.Logger) (*FTPBackend, error) {
	// Apply defaults
	cfg.ApplyDefaults()
	common.ApplyDefaults()

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid ftp config: %w", err)
	}

	timeout := time.Duration(common.TimeoutSeconds) * time.Second
	dialConfig := []ftp.DialOption{ftp.DialWithTimeout(timeout)}
	if cfg.UseTLS {
		dialConfig = append(dialConfig, ftp.DialWithExplicitTLS(&tls.Config{ServerName: cfg.Host}))
	}

	f := &FTPBackend{
		config:     cfg,
		timeout:    timeout,
		connPool:   make(chan *ftp.ServerConn, cfg.PoolSize),
		dialConfig: dialConfig,
		logger:     logger.OrNoOp(log).With("ftp", cfg.Host),
	}

	// Pre-populate connection pool with one connection to verify connectivity
	conn, err := f.createConnection(context.Background())
	if err != nil {
		if IsAuthError(err) {
			return nil, fmt.Errorf("%w: %v", ErrAuth, err)
		}
		return nil, fmt.Errorf("failed to connect to FTP server: %w", err)
	}
	f.returnConnection(conn)

	return f, nil
}

func (f *FTPBackend) Name() string { return "ftp" }

// createConnection dials and logs in
func (f *FTPBackend) createConnection(ctx context.Context) (*ftp.ServerConn, error) {
	addr := fmt.Sprintf("%s:%d", f.config.Host, f.config.Port)

	opts := append([]ftp.DialOption{ftp.DialWithContext(ctx)}, f.dialConfig...)
	conn, err := ftp.Dial(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to dial: %w", err)
	}

	if err := conn.Login(f.config.Username, f.config.Password); err != nil {
		_ = conn.Quit()
		return nil, fmt.Errorf("failed to login: %w", err)
	}
	return conn, nil
}

// getConnection retrieves a connection from the pool or creates a new one
func (f *FTPBackend) getConnection(ctx context.Context) (*ftp.ServerConn, error) {
	select {
	case conn := <-f.connPool:
		// Test if connection is still alive
		if err := conn.NoOp(); err != nil {
			_ = conn.Quit()
			return f.createConnection(ctx)
		}
		return conn, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
		return f.createConnection(ctx)
	}
}

// returnConnection returns a connection to the pool
func (f *FTPBackend) returnConnection(conn *ftp.ServerConn) {
	if conn == nil {
		return
	}
	select {
	case f.connPool <- conn:
	default:
		// Pool is full, close the connection
		_ = conn.Quit()
	}
}

// withConn runs fn on a pooled connection. Connections that saw a transport error are dropped.
func (f *FTPBackend) withConn(ctx context.Context, fn func(*ftp.ServerConn) error) error {
	conn, err := f.getConnection(ctx)
	if err != nil {
		return Transient(err)
	}

	err = fn(conn)
	var perr *textproto.Error
	if err != nil && !errors.As(err, &perr) {
		_ = conn.Quit()
		return err
	}
	f.returnConnection(conn)
	return err
}

func isFTPNotFound(err error) bool {
	var perr *textproto.Error
	return errors.As(err, &perr) && perr.Code == ftp.StatusFileUnavailable
}

func (f *FTPBackend) RootID(ctx context.Context) (string, error) {
	return path.Clean("/" + f.config.BasePath), nil
}

// list returns the entries of dir sorted by name
func (f *FTPBackend) list(ctx context.Context, dir string) ([]*ftp.Entry, error) {
	var entries []*ftp.Entry
	err := f.withConn(ctx, func(conn *ftp.ServerConn) error {
		var err error
		entries, err = conn.List(dir)
		return err
	})
	if isFTPNotFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

func (f *FTPBackend) find(ctx context.Context, name, parentID string, kind ftp.EntryType) (string, error) {
	entries, err := f.list(ctx, parentID)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if e.Name == name && e.Type == kind {
			return path.Join(parentID, name), nil
		}
	}
	return "", ErrNotFound
}

func (f *FTPBackend) FindFolder(ctx context.Context, name, parentID string) (string, error) {
	return f.find(ctx, name, parentID, ftp.EntryTypeFolder)
}

func (f *FTPBackend) ListFolders(ctx context.Context, parentID string) (map[string]string, error) {
	entries, err := f.list(ctx, parentID)
	if errors.Is(err, ErrNotFound) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}
	out := make(map[string]string)
	for _, e := range entries {
		if e.Type == ftp.EntryTypeFolder && e.Name != "." && e.Name != ".." {
			out[e.Name] = path.Join(parentID, e.Name)
		}
	}
	return out, nil
}

func (f *FTPBackend) CreateFolder(ctx context.Context, name, parentID string) (string, error) {
	dir := path.Join(parentID, name)
	err := f.withConn(ctx, func(conn *ftp.ServerConn) error {
		return conn.MakeDir(dir)
	})
	if err != nil {
		return "", err
	}
	return dir, nil
}

func (f *FTPBackend) FindFile(ctx context.Context, name, parentID string) (string, error) {
	file := path.Join(parentID, name)
	err := f.withConn(ctx, func(conn *ftp.ServerConn) error {
		_, err := conn.FileSize(file)
		return err
	})
	if isFTPNotFound(err) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return file, nil
}

func (f *FTPBackend) CreateFile(ctx context.Context, req FileRequest) (string, error) {
	file := path.Join(req.ParentID, req.Name)
	err := f.withConn(ctx, func(conn *ftp.ServerConn) error {
		return conn.Stor(file, req.Body)
	})
	if err != nil {
		return "", err
	}
	f.logger.Verbose("Stored %s", file)
	return file, nil
}

// Close closes all connections in the pool
func (f *FTPBackend) Close() error {
	close(f.connPool)
	for conn := range f.connPool {
		_ = conn.Quit()
	}
	return nil
}
