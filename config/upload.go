package config

import "fmt"

// UploadConfig holds the per-run parameters of the upload pipeline
type UploadConfig struct {
	Workers   int `json:"workers" yaml:"workers" toml:"workers"`          // parallel file transfers per batch
	BatchSize int `json:"batch_size" yaml:"batch_size" toml:"batch_size"` // files per batch

	// TimeoutMinutes arms the graceful stop timer, 0 disables it
	TimeoutMinutes int `json:"timeout_minutes,omitempty" yaml:"timeout_minutes,omitempty" toml:"timeout_minutes,omitempty"`
	// Force re-uploads folders already present in the ledger
	Force bool `json:"force,omitempty" yaml:"force,omitempty" toml:"force,omitempty"`
	// ParentID is the remote folder to upload into, the remote root when empty
	ParentID string `json:"parent_id,omitempty" yaml:"parent_id,omitempty" toml:"parent_id,omitempty"`
	// ProgressSeconds is the interval of the progress log line
	ProgressSeconds int `json:"progress_seconds,omitempty" yaml:"progress_seconds,omitempty" toml:"progress_seconds,omitempty"`
}

// Validate validates upload configuration
func (uc *UploadConfig) Validate() error {
	if uc.Workers < 1 {
		return fmt.Errorf("workers must be at least 1")
	}
	if uc.Workers > 100 {
		return fmt.Errorf("workers cannot exceed 100")
	}
	if uc.BatchSize < 1 {
		return fmt.Errorf("batch_size must be at least 1")
	}
	if uc.TimeoutMinutes < 0 {
		return fmt.Errorf("timeout_minutes cannot be negative")
	}
	return nil
}

// ApplyDefaults sets default values for upload configuration
func (uc *UploadConfig) ApplyDefaults() {
	if uc.Workers == 0 {
		uc.Workers = 5
	}
	if uc.BatchSize == 0 {
		uc.BatchSize = 100
	}
	if uc.ProgressSeconds == 0 {
		uc.ProgressSeconds = 5
	}
}

// StagingConfig holds the pending and done directories used by upload-all
type StagingConfig struct {
	PendingDir string `json:"pending_dir" yaml:"pending_dir" toml:"pending_dir"`
	DoneDir    string `json:"done_dir" yaml:"done_dir" toml:"done_dir"`
}

// Validate validates staging configuration
func (sc *StagingConfig) Validate() error {
	if sc.PendingDir == "" {
		return fmt.Errorf("pending_dir is required")
	}
	if sc.DoneDir == "" {
		return fmt.Errorf("done_dir is required")
	}
	if sc.PendingDir == sc.DoneDir {
		return fmt.Errorf("pending_dir and done_dir must differ")
	}
	return nil
}

// ApplyDefaults sets default values for staging configuration
func (sc *StagingConfig) ApplyDefaults() {
	if sc.PendingDir == "" {
		sc.PendingDir = "data/to_upload"
	}
	if sc.DoneDir == "" {
		sc.DoneDir = "data/uploaded"
	}
}
