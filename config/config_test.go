package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadFromEnvDefaults(t *testing.T) {
	for _, key := range []string{"REMOTE_TYPE", "LEDGER_TYPE", "UPLOAD_WORKERS", "UPLOAD_BATCH_SIZE", "FTP_HOST", "S3_BUCKET"} {
		t.Setenv(key, "")
	}

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	require.Equal(t, RemoteTypeDrive, cfg.Remote.RemoteType)
	require.Equal(t, 5, cfg.Remote.Common.MaxRetries)
	require.Equal(t, 60, cfg.Remote.Common.TimeoutSeconds)
	require.Equal(t, LedgerTypeCSV, cfg.Ledger.LedgerType)
	require.Equal(t, "data/uploaded_folders.csv", cfg.Ledger.Path())
	require.Equal(t, 5, cfg.Upload.Workers)
	require.Equal(t, 100, cfg.Upload.BatchSize)
	require.Equal(t, "data/to_upload", cfg.Staging.PendingDir)
	require.Equal(t, "data/uploaded", cfg.Staging.DoneDir)
	require.Nil(t, cfg.Remote.FTP)
	require.Nil(t, cfg.Remote.S3)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromEnvOverrides(t *testing.T) {
	t.Setenv("REMOTE_TYPE", "ftp")
	t.Setenv("FTP_HOST", "ftp.example.com")
	t.Setenv("FTP_USERNAME", "bob")
	t.Setenv("UPLOAD_WORKERS", "8")
	t.Setenv("UPLOAD_FORCE", "true")
	t.Setenv("LEDGER_TYPE", "bbolt")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	require.Equal(t, RemoteTypeFTP, cfg.Remote.RemoteType)
	require.NotNil(t, cfg.Remote.FTP)
	require.Equal(t, 21, cfg.Remote.FTP.Port)
	require.Equal(t, 8, cfg.Upload.Workers)
	require.True(t, cfg.Upload.Force)
	require.Equal(t, "data/uploaded_folders.db", cfg.Ledger.Path())
	require.NoError(t, cfg.Validate())
}

func TestLoadFromFileOverlaysEnv(t *testing.T) {
	t.Setenv("UPLOAD_WORKERS", "3")

	path := filepath.Join(t.TempDir(), "uploader.yaml")
	doc := `
remote:
  type: s3
  s3:
    region: eu-west-1
    bucket: archive
    access_key_id: key
    secret_access_key: secret
upload:
  batch_size: 50
ledger:
  type: bbolt
  bbolt:
    path: /tmp/ledger.db
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, RemoteTypeS3, cfg.Remote.RemoteType)
	require.Equal(t, "archive", cfg.Remote.S3.Bucket)
	require.Equal(t, 50, cfg.Upload.BatchSize)
	require.Equal(t, 3, cfg.Upload.Workers, "env value kept when file omits the key")
	require.Equal(t, "/tmp/ledger.db", cfg.Ledger.Path())
	require.Equal(t, "uploads", cfg.Ledger.Bbolt.Bucket)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromFileErrors(t *testing.T) {
	cfg := &AppConfig{}
	require.Error(t, LoadFromFile(cfg, filepath.Join(t.TempDir(), "missing.yaml")))

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("upload: [unterminated"), 0644))
	require.Error(t, LoadFromFile(cfg, path))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*AppConfig)
		wantErr string
	}{
		{"valid", func(*AppConfig) {}, ""},
		{"unknown remote", func(c *AppConfig) { c.Remote.RemoteType = "gopher" }, "unsupported remote type"},
		{"ftp without config", func(c *AppConfig) { c.Remote.RemoteType = RemoteTypeFTP }, "ftp configuration is required"},
		{"zero workers", func(c *AppConfig) { c.Upload.Workers = 0 }, "workers must be at least 1"},
		{"same staging dirs", func(c *AppConfig) { c.Staging.DoneDir = c.Staging.PendingDir }, "must differ"},
		{"bad log level", func(c *AppConfig) { c.Logger.Level = "loud" }, "invalid log level"},
		{"negative retries", func(c *AppConfig) { c.Remote.Common.MaxRetries = -1 }, "max_retries cannot be negative"},
		{"unknown ledger", func(c *AppConfig) { c.Ledger.LedgerType = "sqlite" }, "unsupported ledger type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &AppConfig{}
			cfg.ApplyDefaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}
