package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmerrifield20/windchill/internal/export"
	"github.com/jmerrifield20/windchill/internal/ledger"
)

var (
	exportVault      string
	exportS3Bucket   string
	exportS3Prefix   string
	exportS3Region   string
	exportS3Endpoint string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the ledger as audit documents",
	Long: `Export verifies the local ledger and writes one markdown document per entry,
plus a manifest, to a vault directory or an S3 bucket:

  windchill export --vault vault/audits/burn_in_2026
  windchill export --s3-bucket audits --s3-prefix burn_in_2026/

A ledger that fails verification is not exported.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if exportVault == "" {
			exportVault = viper.GetString("export.vault")
		}
		if exportS3Bucket == "" {
			exportS3Bucket = viper.GetString("export.s3.bucket")
		}

		var sink export.Sink
		switch {
		case exportS3Bucket != "":
			s3Sink, err := export.NewS3Sink(ctx, export.S3Config{
				Bucket:   exportS3Bucket,
				Region:   firstNonEmpty(exportS3Region, viper.GetString("export.s3.region")),
				Endpoint: firstNonEmpty(exportS3Endpoint, viper.GetString("export.s3.endpoint")),
				Prefix:   firstNonEmpty(exportS3Prefix, viper.GetString("export.s3.prefix")),
			})
			if err != nil {
				return err
			}
			sink = s3Sink
		case exportVault != "":
			dirSink, err := export.NewDirSink(exportVault)
			if err != nil {
				return err
			}
			sink = dirSink
		default:
			return fmt.Errorf("set --vault or --s3-bucket")
		}

		return withLedger(ctx, func(fl *ledger.FileLedger) error {
			m, err := export.New(sink, newLogger()).Export(ctx, fl)
			if err != nil {
				return localVerdict(err)
			}
			fmt.Printf("exported %d entries (%d refusals), root %s, run %s\n",
				m.Entries, m.Refusals, m.Root.Hex(), m.RunID)
			return nil
		})
	},
}

// ── check-vault ──────────────────────────────────────────────────────────────

var checkVaultCmd = &cobra.Command{
	Use:   "check-vault <dir>",
	Short: "Compare an exported vault with the local ledger",
	Long: `check-vault re-reads a vault written by 'windchill export' and checks every
document the manifest lists against the ledger it was exported from. An
edited, missing or foreign document fails the check.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		return withLedger(ctx, func(fl *ledger.FileLedger) error {
			m, err := export.CheckVault(ctx, os.DirFS(args[0]), fl)
			var vm *export.VaultMismatch
			if errors.As(err, &vm) {
				fmt.Fprintf(os.Stderr, "FAILED at %s: %s\n", vm.Name, vm.Reason)
				return errVerifyFailed
			}
			if err != nil {
				return err
			}
			fmt.Printf("ok: %d documents match, root %s, run %s\n", m.Entries, m.Root.Hex(), m.RunID)
			return nil
		})
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportVault, "vault", "", "local vault directory")
	exportCmd.Flags().StringVar(&exportS3Bucket, "s3-bucket", "", "S3 bucket to upload to")
	exportCmd.Flags().StringVar(&exportS3Prefix, "s3-prefix", "", "S3 key prefix")
	exportCmd.Flags().StringVar(&exportS3Region, "s3-region", "", "AWS region")
	exportCmd.Flags().StringVar(&exportS3Endpoint, "s3-endpoint", "", "custom S3 endpoint (MinIO, LocalStack)")
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
