package ledger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
	"go.etcd.io/bbolt"

	"github.com/cerdastangkas/gdrive-uploader/config"
	"github.com/cerdastangkas/gdrive-uploader/logger"
	"github.com/cerdastangkas/gdrive-uploader/model"
)

const defaultBucket = "uploads"

var _ Ledger = (*BboltLedger)(nil)

// BboltLedger stores entries in a bbolt bucket keyed by fingerprint
type BboltLedger struct {
	db     *bbolt.DB
	bucket []byte
	logger logger.Logger
	now    func() time.Time
}

// NewBboltLedger opens or creates the database described by cfg.
// A file that is not a valid database is moved aside and replaced by an empty one.
func NewBboltLedger(cfg *config.BboltConfig, log logger.Logger) (*BboltLedger, error) {
	// Apply defaults to ensure required values are set
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid bbolt config: %w", err)
	}

	l := &BboltLedger{
		bucket: []byte(cfg.Bucket),
		logger: logger.OrNoOp(log).With("ledger", cfg.Path),
		now:    time.Now,
	}
	if len(l.bucket) == 0 {
		l.bucket = []byte(defaultBucket)
	}

	db, err := l.open(cfg)
	if err != nil {
		return nil, err
	}

	// Create bucket if not exists
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(l.bucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	l.db = db
	return l, nil
}

func (l *BboltLedger) open(cfg *config.BboltConfig) (*bbolt.DB, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}

	opts := &bbolt.Options{
		Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		NoSync:  cfg.NoSync,
	}

	db, err := bbolt.Open(cfg.Path, cfg.Mode, opts)
	if err == nil {
		return db, nil
	}
	if !isCorruptDB(err) {
		return nil, fmt.Errorf("failed to open ledger %s: %w", cfg.Path, err)
	}

	aside := quarantineName(cfg.Path, l.now())
	if renameErr := os.Rename(cfg.Path, aside); renameErr != nil {
		return nil, fmt.Errorf("failed to move corrupt ledger aside: %w", renameErr)
	}
	l.logger.Warn("Ledger database was corrupt (%v), moved to %s and starting fresh", err, aside)

	return bbolt.Open(cfg.Path, cfg.Mode, opts)
}

func isCorruptDB(err error) bool {
	return errors.Is(err, bbolt.ErrInvalid) ||
		errors.Is(err, bbolt.ErrVersionMismatch) ||
		errors.Is(err, bbolt.ErrChecksum)
}

func (l *BboltLedger) IsUploaded(folderPath string) bool {
	_, err := l.Lookup(folderPath)
	if err == nil {
		return true
	}
	if !errors.Is(err, ErrEntryNotFound) {
		l.logger.Warn("Cannot check ledger for %s, treating as not uploaded: %v", folderPath, err)
	}
	return false
}

func (l *BboltLedger) Lookup(folderPath string) (*model.LedgerEntry, error) {
	hash, err := Fingerprint(folderPath)
	if err != nil {
		return nil, err
	}

	var entry model.LedgerEntry
	err = l.db.View(func(tx *bbolt.Tx) error {
		val := tx.Bucket(l.bucket).Get([]byte(hash))
		if val == nil {
			return ErrEntryNotFound
		}
		if err := json.Unmarshal(val, &entry); err != nil {
			return fmt.Errorf("%w: entry %s: %v", ErrCorrupt, hash, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (l *BboltLedger) Record(folderPath, remoteFolderID string) error {
	entry, err := newEntry(folderPath, remoteFolderID, l.now())
	if err != nil {
		return fmt.Errorf("failed to fingerprint %s: %w", folderPath, err)
	}

	val, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return l.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(l.bucket).Put([]byte(entry.FolderHash), val)
	})
}

// List returns all entries ordered by upload time
func (l *BboltLedger) List() ([]model.LedgerEntry, error) {
	var entries []model.LedgerEntry
	err := l.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(l.bucket).ForEach(func(k, v []byte) error {
			var entry model.LedgerEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				l.logger.Warn("Skipping unreadable ledger entry %s: %v", k, err)
				return nil
			}
			entries = append(entries, entry)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sortByUploadTime(entries)
	return entries, nil
}

func (l *BboltLedger) Delete(fingerprint string) error {
	return l.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(l.bucket)
		if b.Get([]byte(fingerprint)) == nil {
			return ErrEntryNotFound
		}
		return b.Delete([]byte(fingerprint))
	})
}

func (l *BboltLedger) Clear() error {
	return l.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(l.bucket); err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
			return err
		}
		_, err := tx.CreateBucket(l.bucket)
		return err
	})
}

func (l *BboltLedger) Close() error {
	return l.db.Close()
}
