package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jmerrifield20/windchill/internal/ledger"
)

// ── backup ───────────────────────────────────────────────────────────────────

var backupOut string

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Write a JSONL snapshot of the local ledger",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		return withLedger(ctx, func(fl *ledger.FileLedger) error {
			w := os.Stdout
			if backupOut != "" && backupOut != "-" {
				f, err := os.Create(backupOut)
				if err != nil {
					return fmt.Errorf("create backup: %w", err)
				}
				defer f.Close()
				w = f
			}
			n, err := ledger.Dump(ctx, fl, w)
			if err != nil {
				return err
			}
			if w != os.Stdout {
				if err := w.Sync(); err != nil {
					return fmt.Errorf("sync backup: %w", err)
				}
				fmt.Fprintf(os.Stderr, "wrote %d entries to %s\n", n, backupOut)
			}
			return nil
		})
	},
}

// ── check-backup ─────────────────────────────────────────────────────────────

var checkBackupCmd = &cobra.Command{
	Use:   "check-backup <file>",
	Short: "Replay a snapshot in memory and verify its chain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("open backup: %w", err)
		}
		defer f.Close()

		l, err := ledger.Load(ctx, f)
		if err != nil {
			return localVerdict(err)
		}
		n, _ := l.Len(ctx)
		root, _ := l.Root(ctx)
		fmt.Printf("ok: %d entries, root %s\n", n, root.Hex())
		return nil
	},
}

func init() {
	backupCmd.Flags().StringVarP(&backupOut, "out", "o", "", "output file (default stdout)")
}
