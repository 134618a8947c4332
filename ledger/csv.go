package ledger

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/cerdastangkas/gdrive-uploader/config"
	"github.com/cerdastangkas/gdrive-uploader/logger"
	"github.com/cerdastangkas/gdrive-uploader/model"
)

// TimeLayout is the upload_time column format
const TimeLayout = "2006-01-02 15:04:05"

var csvHeader = []string{"folder_path", "folder_name", "folder_hash", "drive_folder_id", "upload_time", "uploaded"}

var _ Ledger = (*CSVLedger)(nil)

// CSVLedger keeps one row per fingerprint in a CSV file.
// Rewrites go through a temp file and rename, serialized by a lock file next to the ledger.
type CSVLedger struct {
	path   string
	lock   *flock.Flock
	mu     sync.Mutex
	logger logger.Logger
	now    func() time.Time
}

func NewCSVLedger(cfg *config.CSVLedgerConfig, log logger.Logger) (*CSVLedger, error) {
	if cfg == nil || cfg.Path == "" {
		return nil, fmt.Errorf("csv ledger path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}

	return &CSVLedger{
		path:   cfg.Path,
		lock:   flock.New(cfg.Path + ".lock"),
		logger: logger.OrNoOp(log).With("ledger", cfg.Path),
		now:    time.Now,
	}, nil
}

func (l *CSVLedger) IsUploaded(folderPath string) bool {
	_, err := l.Lookup(folderPath)
	if err == nil {
		return true
	}
	if !errors.Is(err, ErrEntryNotFound) {
		l.logger.Warn("Cannot check ledger for %s, treating as not uploaded: %v", folderPath, err)
	}
	return false
}

func (l *CSVLedger) Lookup(folderPath string) (*model.LedgerEntry, error) {
	hash, err := Fingerprint(folderPath)
	if err != nil {
		return nil, err
	}

	entries, err := l.read()
	if err != nil {
		return nil, err
	}
	for i := range entries {
		if entries[i].FolderHash == hash {
			return &entries[i], nil
		}
	}
	return nil, ErrEntryNotFound
}

func (l *CSVLedger) Record(folderPath, remoteFolderID string) error {
	entry, err := newEntry(folderPath, remoteFolderID, l.now())
	if err != nil {
		return fmt.Errorf("failed to fingerprint %s: %w", folderPath, err)
	}

	return l.update(func(entries []model.LedgerEntry) ([]model.LedgerEntry, error) {
		for i := range entries {
			if entries[i].FolderHash == entry.FolderHash {
				entries[i].DriveFolderID = entry.DriveFolderID
				entries[i].UploadTime = entry.UploadTime
				entries[i].Uploaded = true
				return entries, nil
			}
		}
		return append(entries, entry), nil
	}, true)
}

func (l *CSVLedger) List() ([]model.LedgerEntry, error) {
	return l.read()
}

func (l *CSVLedger) Delete(fingerprint string) error {
	return l.update(func(entries []model.LedgerEntry) ([]model.LedgerEntry, error) {
		for i := range entries {
			if entries[i].FolderHash == fingerprint {
				return append(entries[:i], entries[i+1:]...), nil
			}
		}
		return nil, ErrEntryNotFound
	}, false)
}

func (l *CSVLedger) Clear() error {
	return l.update(func([]model.LedgerEntry) ([]model.LedgerEntry, error) {
		return nil, nil
	}, true)
}

func (l *CSVLedger) Close() error {
	return l.lock.Close()
}

// update runs fn on the current rows under the ledger lock and writes the result.
// With replaceCorrupt set, an unreadable file is moved aside and fn starts from no rows.
func (l *CSVLedger) update(fn func([]model.LedgerEntry) ([]model.LedgerEntry, error), replaceCorrupt bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.lock.Lock(); err != nil {
		return fmt.Errorf("failed to lock ledger: %w", err)
	}
	defer func() { _ = l.lock.Unlock() }()

	entries, err := l.read()
	if err != nil {
		if !errors.Is(err, ErrCorrupt) || !replaceCorrupt {
			return err
		}
		aside := quarantineName(l.path, l.now())
		if renameErr := os.Rename(l.path, aside); renameErr != nil {
			return fmt.Errorf("failed to move corrupt ledger aside: %w", renameErr)
		}
		l.logger.Warn("Ledger was corrupt (%v), moved to %s and starting fresh", err, aside)
		entries = nil
	}

	entries, err = fn(entries)
	if err != nil {
		return err
	}
	return l.write(entries)
}

// read returns the persisted rows, none when the file does not exist yet
func (l *CSVLedger) read() ([]model.LedgerEntry, error) {
	data, err := os.ReadFile(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	entries, err := decodeCSV(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, l.path, err)
	}
	return entries, nil
}

func decodeCSV(r io.Reader) ([]model.LedgerEntry, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, err
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[name] = i
	}
	for _, required := range csvHeader[:5] {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("missing column %q", required)
		}
	}

	var entries []model.LedgerEntry
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(rec) != len(header) {
			return nil, fmt.Errorf("row has %d fields, header has %d", len(rec), len(header))
		}

		entry := model.LedgerEntry{
			FolderPath:    rec[col["folder_path"]],
			FolderName:    rec[col["folder_name"]],
			FolderHash:    rec[col["folder_hash"]],
			DriveFolderID: rec[col["drive_folder_id"]],
			Uploaded:      true,
		}
		if entry.FolderHash == "" {
			return nil, fmt.Errorf("row for %q has an empty folder_hash", entry.FolderPath)
		}
		if ts := rec[col["upload_time"]]; ts != "" {
			t, err := time.ParseInLocation(TimeLayout, ts, time.Local)
			if err != nil {
				return nil, fmt.Errorf("bad upload_time %q: %w", ts, err)
			}
			entry.UploadTime = t
		}
		if i, ok := col["uploaded"]; ok && rec[i] != "" {
			// pandas writes True/False
			if v, err := strconv.ParseBool(rec[i]); err == nil {
				entry.Uploaded = v
			}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (l *CSVLedger) write(entries []model.LedgerEntry) error {
	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, e := range entries {
		row := []string{
			e.FolderPath,
			e.FolderName,
			e.FolderHash,
			e.DriveFolderID,
			e.UploadTime.Format(TimeLayout),
			strconv.FormatBool(e.Uploaded),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return err
	}

	return writeFileAtomic(l.path, buf.Bytes(), 0644)
}

// writeFileAtomic replaces path with data so readers see either the old or the new content
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp ledger: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write temp ledger: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync temp ledger: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Chmod(tmpName, perm); err != nil {
		return err
	}
	if err = os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace ledger: %w", err)
	}
	return nil
}
