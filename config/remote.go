package config

import "fmt"

// RemoteType represents the type of remote store backend
type RemoteType string

const (
	RemoteTypeDrive  RemoteType = "drive"
	RemoteTypeFTP    RemoteType = "ftp"
	RemoteTypeS3     RemoteType = "s3"
	RemoteTypeMemory RemoteType = "memory" // in-process store, used for dry runs and benchmarks
)

// RemoteConfig holds the configuration for the remote store
type RemoteConfig struct {
	RemoteType RemoteType `json:"type" yaml:"type" toml:"type"`

	// Common options for all remotes
	Common CommonRemoteConfig `json:"common,omitempty" yaml:"common,omitempty" toml:"common,omitempty"`

	// Type-specific configurations
	Drive *DriveConfig `json:"drive,omitempty" yaml:"drive,omitempty" toml:"drive,omitempty"`
	FTP   *FTPConfig   `json:"ftp,omitempty" yaml:"ftp,omitempty" toml:"ftp,omitempty"`
	S3    *S3Config    `json:"s3,omitempty" yaml:"s3,omitempty" toml:"s3,omitempty"`
}

// CommonRemoteConfig contains retry and pacing settings applicable to all remotes
type CommonRemoteConfig struct {
	MaxRetries        int `json:"max_retries,omitempty" yaml:"max_retries,omitempty" toml:"max_retries,omitempty"`                         // retry ceiling for transient failures
	TimeoutSeconds    int `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty" toml:"timeout_seconds,omitempty"`             // per-request timeout
	MaxRPS            int `json:"max_rps,omitempty" yaml:"max_rps,omitempty" toml:"max_rps,omitempty"`                                     // 0 means no limit
	BackoffBaseMillis int `json:"backoff_base_millis,omitempty" yaml:"backoff_base_millis,omitempty" toml:"backoff_base_millis,omitempty"` // first retry delay
	BackoffMaxSeconds int `json:"backoff_max_seconds,omitempty" yaml:"backoff_max_seconds,omitempty" toml:"backoff_max_seconds,omitempty"` // delay cap
}

// DriveConfig holds Google Drive specific configuration
type DriveConfig struct {
	CredentialsFile string `json:"credentials_file" yaml:"credentials_file" toml:"credentials_file"`     // OAuth client or service account JSON
	TokenFile       string `json:"token_file,omitempty" yaml:"token_file,omitempty" toml:"token_file"`  // cached OAuth token
	SharedDrives    bool   `json:"shared_drives,omitempty" yaml:"shared_drives,omitempty" toml:"shared_drives"`
	NoPrompt        bool   `json:"no_prompt,omitempty" yaml:"no_prompt,omitempty" toml:"no_prompt"` // fail instead of asking for an auth code
}

// FTPConfig holds FTP-specific configuration
type FTPConfig struct {
	Host     string `json:"host" yaml:"host" toml:"host"`                                           // FTP server host
	Port     int    `json:"port" yaml:"port" toml:"port"`                                           // FTP server port (default: 21)
	Username string `json:"username" yaml:"username" toml:"username"`                               // FTP username
	Password string `json:"password,omitempty" yaml:"password,omitempty" toml:"password,omitempty"` // FTP password
	BasePath string `json:"base_path,omitempty" yaml:"base_path,omitempty" toml:"base_path"`        // Remote root folder
	UseTLS   bool   `json:"use_tls,omitempty" yaml:"use_tls,omitempty" toml:"use_tls,omitempty"`    // Use FTPS (FTP over TLS)
	PoolSize int    `json:"pool_size,omitempty" yaml:"pool_size,omitempty" toml:"pool_size,omitempty"`
}

// S3Config holds S3-specific configuration
type S3Config struct {
	Region          string `json:"region" yaml:"region" toml:"region"`
	Bucket          string `json:"bucket" yaml:"bucket" toml:"bucket"`
	AccessKeyID     string `json:"access_key_id,omitempty" yaml:"access_key_id,omitempty" toml:"access_key_id,omitempty"`
	SecretAccessKey string `json:"secret_access_key,omitempty" yaml:"secret_access_key,omitempty" toml:"secret_access_key,omitempty"`
	Endpoint        string `json:"endpoint,omitempty" yaml:"endpoint,omitempty" toml:"endpoint,omitempty"` // For S3-compatible services
	Prefix          string `json:"prefix,omitempty" yaml:"prefix,omitempty" toml:"prefix,omitempty"`       // Key prefix acting as the remote root
}

// Validate ensures the configuration is valid for the specified remote type
func (rc *RemoteConfig) Validate() error {
	if err := rc.Common.Validate(); err != nil {
		return err
	}

	switch rc.RemoteType {
	case RemoteTypeDrive:
		if rc.Drive == nil {
			return fmt.Errorf("drive configuration is required when type is 'drive'")
		}
		return rc.Drive.Validate()
	case RemoteTypeFTP:
		if rc.FTP == nil {
			return fmt.Errorf("ftp configuration is required when type is 'ftp'")
		}
		return rc.FTP.Validate()
	case RemoteTypeS3:
		if rc.S3 == nil {
			return fmt.Errorf("s3 configuration is required when type is 's3'")
		}
		return rc.S3.Validate()
	case RemoteTypeMemory:
		return nil
	default:
		return fmt.Errorf("unsupported remote type: %s", rc.RemoteType)
	}
}

// GetActiveConfig returns the active configuration based on the remote type
func (rc *RemoteConfig) GetActiveConfig() interface{} {
	switch rc.RemoteType {
	case RemoteTypeDrive:
		return rc.Drive
	case RemoteTypeFTP:
		return rc.FTP
	case RemoteTypeS3:
		return rc.S3
	default:
		return nil
	}
}

// ApplyDefaults sets default values for retry and pacing
func (c *CommonRemoteConfig) ApplyDefaults() {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = 60
	}
	if c.BackoffBaseMillis <= 0 {
		c.BackoffBaseMillis = 1000
	}
	if c.BackoffMaxSeconds <= 0 {
		c.BackoffMaxSeconds = 60
	}
	// MaxRPS stays 0 (no limit)
}

// Validate validates common remote configuration
func (c *CommonRemoteConfig) Validate() error {
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative")
	}
	if c.TimeoutSeconds < 0 {
		return fmt.Errorf("timeout_seconds cannot be negative")
	}
	if c.MaxRPS < 0 {
		return fmt.Errorf("max_rps cannot be negative")
	}
	return nil
}

// Validate validates Drive configuration
func (dc *DriveConfig) Validate() error {
	if dc.CredentialsFile == "" {
		return fmt.Errorf("drive credentials file is required")
	}
	return nil
}

// ApplyDefaults sets default values for Drive configuration
func (dc *DriveConfig) ApplyDefaults() {
	if dc.CredentialsFile == "" {
		dc.CredentialsFile = "credentials.json"
	}
	if dc.TokenFile == "" {
		dc.TokenFile = "token.json"
	}
}

// Validate validates FTP configuration
func (fc *FTPConfig) Validate() error {
	if fc.Host == "" {
		return fmt.Errorf("ftp host is required")
	}
	if fc.Port <= 0 || fc.Port > 65535 {
		return fmt.Errorf("ftp port must be between 1 and 65535")
	}
	if fc.Username == "" {
		return fmt.Errorf("ftp username is required")
	}
	// Password can be empty for anonymous FTP
	return nil
}

// ApplyDefaults sets default values for FTP configuration
func (fc *FTPConfig) ApplyDefaults() {
	if fc.Port == 0 {
		fc.Port = 21
	}
	if fc.BasePath == "" {
		fc.BasePath = "/"
	}
	if fc.PoolSize <= 0 {
		fc.PoolSize = 5
	}
}

// Validate validates S3 configuration
func (s3c *S3Config) Validate() error {
	if s3c.Bucket == "" {
		return fmt.Errorf("s3 bucket is required")
	}
	if s3c.AccessKeyID == "" {
		return fmt.Errorf("s3 access key is required")
	}
	if s3c.SecretAccessKey == "" {
		return fmt.Errorf("s3 secret key is required")
	}
	return nil
}
