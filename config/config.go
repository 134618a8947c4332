package config

import (
	"fmt"
	"os"
	"strconv"
)

// AppConfig represents the complete application configuration
type AppConfig struct {
	Remote  RemoteConfig  `json:"remote" yaml:"remote" toml:"remote"`
	Ledger  LedgerConfig  `json:"ledger" yaml:"ledger" toml:"ledger"`
	Upload  UploadConfig  `json:"upload" yaml:"upload" toml:"upload"`
	Staging StagingConfig `json:"staging" yaml:"staging" toml:"staging"`
	Logger  LoggerConfig  `json:"logger" yaml:"logger" toml:"logger"`
	DryRun  bool          `json:"dry_run" yaml:"dry_run" toml:"dry_run"` // If true, uploads go to an in-memory remote
}

// Validate validates the entire configuration
func (ac *AppConfig) Validate() error {
	if err := ac.Remote.Validate(); err != nil {
		return fmt.Errorf("remote config error: %w", err)
	}
	if err := ac.Ledger.Validate(); err != nil {
		return fmt.Errorf("ledger config error: %w", err)
	}
	if err := ac.Upload.Validate(); err != nil {
		return fmt.Errorf("upload config error: %w", err)
	}
	if err := ac.Staging.Validate(); err != nil {
		return fmt.Errorf("staging config error: %w", err)
	}
	if err := ac.Logger.Validate(); err != nil {
		return fmt.Errorf("logger config error: %w", err)
	}
	return nil
}

// ApplyDefaults applies default values to all components
func (ac *AppConfig) ApplyDefaults() {
	if ac.Remote.RemoteType == "" {
		ac.Remote.RemoteType = RemoteTypeDrive
	}
	ac.Remote.Common.ApplyDefaults()
	ac.Ledger.ApplyDefaults()
	ac.Upload.ApplyDefaults()
	ac.Staging.ApplyDefaults()
	ac.Logger.ApplyDefaults()

	switch ac.Remote.RemoteType {
	case RemoteTypeDrive:
		if ac.Remote.Drive == nil {
			ac.Remote.Drive = &DriveConfig{}
		}
		ac.Remote.Drive.ApplyDefaults()
	case RemoteTypeFTP:
		if ac.Remote.FTP != nil {
			ac.Remote.FTP.ApplyDefaults()
		}
	}
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() (*AppConfig, error) {
	cfg := &AppConfig{}

	// General configuration
	cfg.DryRun = getEnvBool("DRY_RUN", false)

	// Logger configuration
	cfg.Logger.Level = LogLevel(getEnv("LOG_LEVEL", string(LogLevelInfo)))
	cfg.Logger.NoColor = getEnvBool("NO_COLOR", false)

	// Ledger configuration
	cfg.Ledger.LedgerType = LedgerType(getEnv("LEDGER_TYPE", string(LedgerTypeCSV)))
	cfg.Ledger.CSV = &CSVLedgerConfig{
		Path: getEnv("LEDGER_CSV_PATH", "data/uploaded_folders.csv"),
	}
	cfg.Ledger.Bbolt = &BboltConfig{
		Path:   getEnv("LEDGER_BBOLT_PATH", "data/uploaded_folders.db"),
		Bucket: getEnv("LEDGER_BBOLT_BUCKET", "uploads"),
		Mode:   0600,
		NoSync: getEnvBool("LEDGER_BBOLT_NO_SYNC", false),
	}

	// Upload configuration
	cfg.Upload.Workers = getEnvInt("UPLOAD_WORKERS", 5)
	cfg.Upload.BatchSize = getEnvInt("UPLOAD_BATCH_SIZE", 100)
	cfg.Upload.TimeoutMinutes = getEnvInt("UPLOAD_TIMEOUT_MINUTES", 0)
	cfg.Upload.Force = getEnvBool("UPLOAD_FORCE", false)
	cfg.Upload.ParentID = getEnv("UPLOAD_PARENT_ID", "")

	// Staging configuration
	cfg.Staging.PendingDir = getEnv("STAGING_PENDING_DIR", "data/to_upload")
	cfg.Staging.DoneDir = getEnv("STAGING_DONE_DIR", "data/uploaded")

	// Remote configuration
	cfg.Remote.RemoteType = RemoteType(getEnv("REMOTE_TYPE", string(RemoteTypeDrive)))
	cfg.Remote.Common.MaxRetries = getEnvInt("REMOTE_MAX_RETRIES", 5)
	cfg.Remote.Common.TimeoutSeconds = getEnvInt("REMOTE_TIMEOUT_SECONDS", 60)
	cfg.Remote.Common.MaxRPS = getEnvInt("REMOTE_MAX_RPS", 0)
	cfg.Remote.Common.BackoffBaseMillis = getEnvInt("REMOTE_BACKOFF_BASE_MILLIS", 1000)
	cfg.Remote.Common.BackoffMaxSeconds = getEnvInt("REMOTE_BACKOFF_MAX_SECONDS", 60)

	cfg.Remote.Drive = &DriveConfig{
		CredentialsFile: getEnv("DRIVE_CREDENTIALS_FILE", "credentials.json"),
		TokenFile:       getEnv("DRIVE_TOKEN_FILE", "token.json"),
		SharedDrives:    getEnvBool("DRIVE_SHARED_DRIVES", false),
		NoPrompt:        getEnvBool("DRIVE_NO_PROMPT", false),
	}

	if host := getEnv("FTP_HOST", ""); host != "" {
		cfg.Remote.FTP = &FTPConfig{
			Host:     host,
			Port:     getEnvInt("FTP_PORT", 21),
			Username: getEnv("FTP_USERNAME", ""),
			Password: getEnv("FTP_PASSWORD", ""),
			BasePath: getEnv("FTP_BASE_PATH", "/"),
			UseTLS:   getEnvBool("FTP_USE_TLS", false),
			PoolSize: getEnvInt("FTP_POOL_SIZE", 5),
		}
	}

	if bucket := getEnv("S3_BUCKET", ""); bucket != "" {
		cfg.Remote.S3 = &S3Config{
			Region:          getEnv("S3_REGION", ""),
			Bucket:          bucket,
			AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", ""),
			Endpoint:        getEnv("S3_ENDPOINT", ""),
			Prefix:          getEnv("S3_PREFIX", ""),
		}
	}

	// Apply defaults
	cfg.ApplyDefaults()

	return cfg, nil
}

// Helper functions for environment variables
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
