package ledger

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/cerdastangkas/gdrive-uploader/config"
	"github.com/cerdastangkas/gdrive-uploader/logger"
	"github.com/cerdastangkas/gdrive-uploader/model"
)

// Ledger records which local folders have been fully uploaded
type Ledger interface {
	// IsUploaded reports whether the folder's current fingerprint is recorded.
	// It never fails: unreadable state is logged and treated as not uploaded.
	IsUploaded(folderPath string) bool
	// Lookup returns the entry for the folder's current fingerprint or ErrEntryNotFound
	Lookup(folderPath string) (*model.LedgerEntry, error)
	// Record inserts or overwrites the entry for the folder's current fingerprint
	Record(folderPath, remoteFolderID string) error

	List() ([]model.LedgerEntry, error)
	Delete(fingerprint string) error
	Clear() error
	Close() error
}

var (
	ErrEntryNotFound = errors.New("ledger entry not found")
	ErrCorrupt       = errors.New("ledger is corrupt")
)

func CreateLedger(cfg *config.LedgerConfig, log logger.Logger) (Ledger, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid ledger configuration: %w", err)
	}

	switch cfg.LedgerType {
	case config.LedgerTypeCSV:
		return NewCSVLedger(cfg.CSV, log)
	case config.LedgerTypeBbolt:
		return NewBboltLedger(cfg.Bbolt, log)
	default:
		return nil, fmt.Errorf("unsupported ledger type: %s", cfg.LedgerType)
	}
}

// newEntry builds the row stored for folderPath at time now
func newEntry(folderPath, remoteFolderID string, now time.Time) (model.LedgerEntry, error) {
	abs, err := filepath.Abs(folderPath)
	if err != nil {
		return model.LedgerEntry{}, err
	}
	hash, err := Fingerprint(abs)
	if err != nil {
		return model.LedgerEntry{}, err
	}
	return model.LedgerEntry{
		FolderPath:    abs,
		FolderName:    filepath.Base(abs),
		FolderHash:    hash,
		DriveFolderID: remoteFolderID,
		UploadTime:    now.Truncate(time.Second),
		Uploaded:      true,
	}, nil
}

// quarantineName is where an unreadable ledger file is moved before a fresh one is written
func quarantineName(path string, now time.Time) string {
	return fmt.Sprintf("%s.corrupt-%s", path, now.Format("20060102150405"))
}

func sortByUploadTime(entries []model.LedgerEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].UploadTime.Before(entries[j].UploadTime)
	})
}
