package config

import (
	"fmt"
	"os"
)

// LedgerType represents the type of ledger storage backend
type LedgerType string

const (
	LedgerTypeCSV   LedgerType = "csv"
	LedgerTypeBbolt LedgerType = "bbolt"
)

// LedgerConfig holds the configuration for the upload ledger
type LedgerConfig struct {
	LedgerType LedgerType `json:"type" yaml:"type" toml:"type"`

	CSV   *CSVLedgerConfig `json:"csv,omitempty" yaml:"csv,omitempty" toml:"csv,omitempty"`
	Bbolt *BboltConfig     `json:"bbolt,omitempty" yaml:"bbolt,omitempty" toml:"bbolt,omitempty"`
}

// CSVLedgerConfig holds the CSV ledger configuration
type CSVLedgerConfig struct {
	Path string `json:"path" yaml:"path" toml:"path"` // Path to the ledger file
}

// BboltConfig holds bbolt-specific configuration
type BboltConfig struct {
	Path   string      `json:"path" yaml:"path" toml:"path"`                             // Path to the database file
	Bucket string      `json:"bucket,omitempty" yaml:"bucket,omitempty" toml:"bucket"` // Bucket name (default: "uploads")
	Mode   os.FileMode `json:"mode,omitempty" yaml:"mode,omitempty" toml:"mode"`       // File mode (default: 0600)
	NoSync bool        `json:"no_sync,omitempty" yaml:"no_sync,omitempty" toml:"no_sync"` // Disable fsync (faster but less safe)

	// TimeoutSeconds bounds how long Open waits for the file lock held by another process
	TimeoutSeconds int `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty" toml:"timeout_seconds"`
}

// Validate ensures the configuration is valid for the specified ledger type
func (lc *LedgerConfig) Validate() error {
	switch lc.LedgerType {
	case LedgerTypeCSV:
		if lc.CSV == nil {
			return fmt.Errorf("csv configuration is required when type is 'csv'")
		}
		if lc.CSV.Path == "" {
			return fmt.Errorf("csv ledger path is required")
		}
		return nil
	case LedgerTypeBbolt:
		if lc.Bbolt == nil {
			return fmt.Errorf("bbolt configuration is required when type is 'bbolt'")
		}
		return lc.Bbolt.Validate()
	default:
		return fmt.Errorf("unsupported ledger type: %s", lc.LedgerType)
	}
}

// ApplyDefaults fills the active ledger config
func (lc *LedgerConfig) ApplyDefaults() {
	if lc.LedgerType == "" {
		lc.LedgerType = LedgerTypeCSV
	}
	switch lc.LedgerType {
	case LedgerTypeCSV:
		if lc.CSV == nil {
			lc.CSV = &CSVLedgerConfig{}
		}
		if lc.CSV.Path == "" {
			lc.CSV.Path = "data/uploaded_folders.csv"
		}
	case LedgerTypeBbolt:
		if lc.Bbolt == nil {
			lc.Bbolt = &BboltConfig{}
		}
		lc.Bbolt.ApplyDefaults()
	}
}

// Path returns the file backing the active ledger
func (lc *LedgerConfig) Path() string {
	switch lc.LedgerType {
	case LedgerTypeCSV:
		if lc.CSV != nil {
			return lc.CSV.Path
		}
	case LedgerTypeBbolt:
		if lc.Bbolt != nil {
			return lc.Bbolt.Path
		}
	}
	return ""
}

// Validate validates bbolt configuration
func (bc *BboltConfig) Validate() error {
	if bc.Path == "" {
		return fmt.Errorf("bbolt path is required")
	}
	if bc.TimeoutSeconds < 0 {
		return fmt.Errorf("bbolt timeout cannot be negative")
	}
	return nil
}

// ApplyDefaults sets default values for bbolt configuration
func (bc *BboltConfig) ApplyDefaults() {
	if bc.Path == "" {
		bc.Path = "data/uploaded_folders.db"
	}
	if bc.Bucket == "" {
		bc.Bucket = "uploads"
	}
	if bc.Mode == 0 {
		bc.Mode = 0600
	}
	if bc.TimeoutSeconds == 0 {
		bc.TimeoutSeconds = 5
	}
}
