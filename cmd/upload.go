package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cerdastangkas/gdrive-uploader/config"
	"github.com/cerdastangkas/gdrive-uploader/ledger"
	"github.com/cerdastangkas/gdrive-uploader/logger"
	"github.com/cerdastangkas/gdrive-uploader/processor"
	"github.com/cerdastangkas/gdrive-uploader/remote"
	"github.com/cerdastangkas/gdrive-uploader/staging"
)

// Stop reasons
const (
	reasonTimeout   = "timeout reached"
	reasonInterrupt = "interrupted"
)

func addUploadFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.SortFlags = false
	f.String("parent-id", "", "Remote folder to upload into, the remote root when empty (env: UPLOAD_PARENT_ID)")
	f.Bool("force", false, "Upload folders already recorded in the ledger (env: UPLOAD_FORCE)")
	f.Int("timeout", 0, "Stop gracefully after this many minutes, 0 disables (env: UPLOAD_TIMEOUT_MINUTES)")
	f.Int("workers", 0, "Parallel file uploads (env: UPLOAD_WORKERS)")
	f.Int("batch-size", 0, "Files per batch (env: UPLOAD_BATCH_SIZE)")
	f.Bool("dry-run", false, "Upload to an in-memory remote and record nothing (env: DRY_RUN)")
}

func newUploadAllCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upload-all",
		Short: "Upload every folder in the pending directory, smallest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true

			return runUpload(cmd, cfg, func(ctx context.Context, u *uploader, stop *processor.StopSignal) error {
				u.runner.SetStaging(staging.New(&cfg.Staging, u.log))
				summary, err := u.runner.UploadAll(ctx, stop)
				if summary != nil {
					printSummary(cmd, summary)
					if err == nil && summary.Stopped && stop.Reason() != reasonTimeout {
						return fmt.Errorf("%w: %s", errAborted, stop.Reason())
					}
				}
				return err
			})
		},
	}
	addUploadFlags(cmd)
	return cmd
}

func newUploadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upload <path>",
		Short: "Upload a single folder tree without using the staging directories",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true

			return runUpload(cmd, cfg, func(ctx context.Context, u *uploader, stop *processor.StopSignal) error {
				report, err := u.runner.UploadFolder(ctx, args[0], stop)
				if report != nil {
					printReport(cmd, report)
					if err == nil && report.Stopped && stop.Reason() != reasonTimeout {
						return fmt.Errorf("%w: %s", errAborted, stop.Reason())
					}
				}
				return err
			})
		},
	}
	addUploadFlags(cmd)
	return cmd
}

// uploader holds the collaborators of one upload run
type uploader struct {
	log    logger.Logger
	ledger ledger.Ledger
	client *remote.Client
	runner *processor.Runner
}

func openUploader(ctx context.Context, cfg *config.AppConfig, log logger.Logger) (*uploader, error) {
	remoteCfg := cfg.Remote
	if cfg.DryRun {
		log.Info("Running in DRY-RUN mode - uploads go to an in-memory remote")
		remoteCfg.RemoteType = config.RemoteTypeMemory
	}
	backend, err := remote.CreateBackend(ctx, &remoteCfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create remote: %w", err)
	}
	log.Info("Remote initialized: type=%s, workers=%d, batch_size=%d", backend.Name(), cfg.Upload.Workers, cfg.Upload.BatchSize)

	l, err := ledger.CreateLedger(&cfg.Ledger, log)
	if err != nil {
		_ = backend.Close()
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	log.Info("Ledger initialized: type=%s, path=%s", cfg.Ledger.LedgerType, cfg.Ledger.Path())
	client := remote.NewClient(backend, &remoteCfg.Common, log)

	return &uploader{
		log:    log,
		ledger: l,
		client: client,
		runner: processor.NewRunner(l, client, &cfg.Upload, log, cfg.DryRun),
	}, nil
}

func (u *uploader) Close() {
	u.log.Debug("Remote stats: %s", u.client.Stats())
	if err := u.client.Close(); err != nil {
		u.log.Error("Error closing remote: %v", err)
	}
	if err := u.ledger.Close(); err != nil {
		u.log.Error("Error closing ledger: %v", err)
	}
}

// runUpload opens the collaborators, arms the stop signal and runs fn
func runUpload(cmd *cobra.Command, cfg *config.AppConfig, fn func(context.Context, *uploader, *processor.StopSignal) error) error {
	log := newLogger(cfg)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	u, err := openUploader(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer u.Close()

	stop := processor.NewStopSignal()
	if cfg.Upload.TimeoutMinutes > 0 {
		log.Info("Upload will stop gracefully after %d minute(s)", cfg.Upload.TimeoutMinutes)
		stop.FireAfter(time.Duration(cfg.Upload.TimeoutMinutes)*time.Minute, reasonTimeout)
		defer stop.Disarm()
	}
	release := watchSignals(cancel, stop, log)
	defer release()

	return fn(ctx, u, stop)
}

// watchSignals fires stop on the first SIGINT/SIGTERM and cancels the context on the second
func watchSignals(cancel context.CancelFunc, stop *processor.StopSignal, log logger.Logger) (release func()) {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		received := 0
		for {
			select {
			case sig := <-sigCh:
				received++
				if received == 1 {
					log.Warn("Received signal %v, finishing in-flight files. Send it again to abort immediately", sig)
					stop.Fire(reasonInterrupt)
					continue
				}
				log.Warn("Received signal %v again, aborting", sig)
				cancel()
				return
			case <-done:
				return
			}
		}
	}()

	return func() {
		signal.Stop(sigCh)
		close(done)
	}
}

func printReport(cmd *cobra.Command, report *processor.FolderReport) {
	style := green
	switch {
	case report.Stopped:
		style = yellow
	case !report.Complete():
		style = red
	}
	fmt.Fprintln(cmd.OutOrStdout(), style.Render(report.String()))
}

func printSummary(cmd *cobra.Command, summary *processor.RunSummary) {
	out := cmd.OutOrStdout()
	for _, r := range summary.Reports {
		printReport(cmd, r)
	}
	style := green
	switch {
	case summary.Failed > 0:
		style = red
	case summary.Stopped:
		style = yellow
	}
	fmt.Fprintln(out, style.Render(summary.String()))
}
