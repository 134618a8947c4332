package main

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/spf13/cobra"

	"github.com/cerdastangkas/gdrive-uploader/processor"
	"github.com/cerdastangkas/gdrive-uploader/staging"
)

func newAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <path>",
		Short: "Copy a folder into the pending directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true
			move, _ := cmd.Flags().GetBool("move")

			area := staging.New(&cfg.Staging, newLogger(cfg))
			dest, err := area.Add(args[0], move)
			if errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("%w: %w", processor.ErrNotDirectory, err)
			}
			if err != nil {
				return err
			}

			verb := "Copied"
			if move {
				verb = "Moved"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s to %s\n", verb, args[0], cyan.Render(dest))
			return nil
		},
	}
	cmd.Flags().Bool("move", false, "Move the folder instead of copying it")
	return cmd
}
