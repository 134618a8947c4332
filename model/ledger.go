package model

import "time"

// LedgerEntry is one completed folder upload
type LedgerEntry struct {
	FolderPath    string    `json:"folder_path"`
	FolderName    string    `json:"folder_name"`
	FolderHash    string    `json:"folder_hash"`
	DriveFolderID string    `json:"drive_folder_id"`
	UploadTime    time.Time `json:"upload_time"`
	Uploaded      bool      `json:"uploaded"`
}

// UploadResult is the outcome of one file transfer
type UploadResult struct {
	RelPath  string
	Size     int64
	Success  bool
	RemoteID string
	Err      error

	// NotDispatched is set when a stop was requested before the file was started.
	NotDispatched bool
	Attempts      int
}
