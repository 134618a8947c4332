package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cerdastangkas/gdrive-uploader/config"
	"github.com/cerdastangkas/gdrive-uploader/logger"
	"github.com/cerdastangkas/gdrive-uploader/processor"
	"github.com/cerdastangkas/gdrive-uploader/remote"
)

// Process exit codes
const (
	exitOK      = 0
	exitFailure = 1 // pipeline failure or operator abort
	exitBadPath = 2 // target missing or not a directory
	exitAuth    = 3
	exitConfig  = 4
)

var (
	errConfig  = errors.New("configuration error")
	errAborted = errors.New("upload aborted")
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "gdrive-uploader",
		Short:         "Upload local folder trees to Google Drive, FTP or S3",
		SilenceErrors: true,
		Long: `Uploads local folder trees to a remote store, recreating the folder hierarchy.

Configuration can be provided via environment variables, a YAML file (--config)
or command-line flags. Flags take precedence over the file, the file over the environment.`,
	}

	pf := root.PersistentFlags()
	pf.SortFlags = false
	pf.StringP("config", "c", "", "YAML config file")
	pf.String("log-level", "", "Log level: silent, error, warn, info, debug, verbose (env: LOG_LEVEL)")
	pf.String("remote", "", "Remote type: drive, ftp, s3, memory (env: REMOTE_TYPE)")
	pf.String("ledger-type", "", "Ledger type: csv, bbolt (env: LEDGER_TYPE)")
	pf.String("ledger-path", "", "Path to the ledger file (env: LEDGER_CSV_PATH, LEDGER_BBOLT_PATH)")
	pf.String("credentials", "", "Drive OAuth client or service account file (env: DRIVE_CREDENTIALS_FILE)")
	pf.String("token", "", "Drive OAuth token file (env: DRIVE_TOKEN_FILE)")

	root.AddCommand(newUploadAllCmd())
	root.AddCommand(newUploadCmd())
	root.AddCommand(newAddCmd())
	root.AddCommand(newLedgerCmd())
	return root
}

func main() {
	err := newRootCmd().Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, red.Render("Error: "+err.Error()))
	}
	os.Exit(exitCode(err))
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errConfig):
		return exitConfig
	case remote.IsAuthError(err):
		return exitAuth
	case errors.Is(err, processor.ErrNotDirectory):
		return exitBadPath
	default:
		return exitFailure
	}
}

// loadConfig builds the configuration from the environment, the --config file and the flags of cmd
func loadConfig(cmd *cobra.Command) (*config.AppConfig, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errConfig, err)
	}

	applyFlags(cmd, cfg)
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", errConfig, err)
	}
	return cfg, nil
}

// applyFlags overrides cfg with the flags that were set explicitly on the command line
func applyFlags(cmd *cobra.Command, cfg *config.AppConfig) {
	fs := cmd.Flags()
	str := func(name string) (string, bool) {
		if !fs.Changed(name) {
			return "", false
		}
		v, _ := fs.GetString(name)
		return v, true
	}
	num := func(name string, dst *int) {
		if fs.Changed(name) {
			*dst, _ = fs.GetInt(name)
		}
	}
	flag := func(name string, dst *bool) {
		if fs.Changed(name) {
			*dst, _ = fs.GetBool(name)
		}
	}

	// Logger
	if v, ok := str("log-level"); ok {
		cfg.Logger.Level = config.LogLevel(v)
	}

	// Remote
	if v, ok := str("remote"); ok {
		cfg.Remote.RemoteType = config.RemoteType(v)
	}
	if v, ok := str("credentials"); ok {
		if cfg.Remote.Drive == nil {
			cfg.Remote.Drive = &config.DriveConfig{}
		}
		cfg.Remote.Drive.CredentialsFile = v
	}
	if v, ok := str("token"); ok {
		if cfg.Remote.Drive == nil {
			cfg.Remote.Drive = &config.DriveConfig{}
		}
		cfg.Remote.Drive.TokenFile = v
	}

	// Ledger
	if v, ok := str("ledger-type"); ok {
		cfg.Ledger.LedgerType = config.LedgerType(v)
	}
	if v, ok := str("ledger-path"); ok {
		switch cfg.Ledger.LedgerType {
		case config.LedgerTypeBbolt:
			if cfg.Ledger.Bbolt == nil {
				cfg.Ledger.Bbolt = &config.BboltConfig{}
			}
			cfg.Ledger.Bbolt.Path = v
		default:
			if cfg.Ledger.CSV == nil {
				cfg.Ledger.CSV = &config.CSVLedgerConfig{}
			}
			cfg.Ledger.CSV.Path = v
		}
	}

	// Upload
	if v, ok := str("parent-id"); ok {
		cfg.Upload.ParentID = v
	}
	flag("force", &cfg.Upload.Force)
	num("timeout", &cfg.Upload.TimeoutMinutes)
	num("workers", &cfg.Upload.Workers)
	num("batch-size", &cfg.Upload.BatchSize)
	flag("dry-run", &cfg.DryRun)
}

// newLogger returns the configured logger tagged with a fresh run id
func newLogger(cfg *config.AppConfig) logger.Logger {
	return logger.NewLogger(&cfg.Logger).With("run", uuid.NewString()[:8])
}
