package main

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/cerdastangkas/gdrive-uploader/ledger"
	"github.com/cerdastangkas/gdrive-uploader/model"
)

func newLedgerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect and edit the record of uploaded folders",
	}
	cmd.AddCommand(newLedgerListCmd())
	cmd.AddCommand(newLedgerDeleteCmd())
	cmd.AddCommand(newLedgerClearCmd())
	return cmd
}

// withLedger opens the configured ledger for the duration of fn
func withLedger(cmd *cobra.Command, fn func(ledger.Ledger) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	l, err := ledger.CreateLedger(&cfg.Ledger, newLogger(cfg))
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}
	defer l.Close()
	return fn(l)
}

func newLedgerListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List uploaded folders, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd, func(l ledger.Ledger) error {
				entries, err := l.List()
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(entries) == 0 {
					fmt.Fprintln(out, gray.Render("No uploaded folders recorded"))
					return nil
				}
				fmt.Fprintln(out, renderEntries(entries))
				fmt.Fprintf(out, "%d folder(s)\n", len(entries))
				return nil
			})
		},
	}
}

func renderEntries(entries []model.LedgerEntry) string {
	header := lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cell := lipgloss.NewStyle().Padding(0, 1)

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(gray).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return header
			}
			return cell
		}).
		Headers("#", "FOLDER", "PATH", "REMOTE ID", "UPLOADED", "FINGERPRINT")

	for i, e := range entries {
		hash := e.FolderHash
		if len(hash) > 12 {
			hash = hash[:12]
		}
		t.Row(strconv.Itoa(i+1), e.FolderName, e.FolderPath, e.DriveFolderID,
			fmt.Sprintf("%s (%s)", e.UploadTime.Format("2006-01-02 15:04:05"), humanize.Time(e.UploadTime)), hash)
	}
	return t.Render()
}

func newLedgerDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <index>",
		Short: "Forget one uploaded folder by its index in 'ledger list'",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid index %q: %w", args[0], err)
			}
			return withLedger(cmd, func(l ledger.Ledger) error {
				entries, err := l.List()
				if err != nil {
					return err
				}
				if index < 1 || index > len(entries) {
					return fmt.Errorf("index %d out of range, the ledger has %d folder(s)", index, len(entries))
				}
				entry := entries[index-1]
				if err := l.Delete(entry.FolderHash); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s (%s)\n", entry.FolderName, entry.FolderPath)
				return nil
			})
		},
	}
}

func newLedgerClearCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Forget every uploaded folder",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			yes, _ := cmd.Flags().GetBool("yes")
			return withLedger(cmd, func(l ledger.Ledger) error {
				entries, err := l.List()
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(entries) == 0 {
					fmt.Fprintln(out, gray.Render("Ledger is already empty"))
					return nil
				}
				if !yes {
					fmt.Fprintf(out, "Clear %d folder(s) from the ledger? [y/N] ", len(entries))
					answer, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
					answer = strings.ToLower(strings.TrimSpace(answer))
					if answer != "y" && answer != "yes" {
						fmt.Fprintln(out, "Cancelled")
						return nil
					}
				}
				if err := l.Clear(); err != nil {
					return err
				}
				fmt.Fprintf(out, "Cleared %d folder(s)\n", len(entries))
				return nil
			})
		},
	}
	cmd.Flags().BoolP("yes", "y", false, "Do not ask for confirmation")
	return cmd
}
