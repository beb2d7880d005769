package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/jmerrifield20/windchill/internal/ledger"
	"github.com/jmerrifield20/windchill/pkg/client"
)

// version is overridden by goreleaser via -ldflags "-X main.version=...".
var version = "dev"

var (
	cfgFile    string
	ledgerPath string
	serverURL  string
	token      string
	verbose    bool
)

// errVerifyFailed makes the process exit non-zero after a failed
// verification has already been reported.
var errVerifyFailed = errors.New("verification failed")

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "windchill",
	Short: "Windchill sealing ledger CLI",
	Long: `windchill seals capture frames into a tamper-evident ledger and audits it.

By default commands operate on a local ledger file. With --server they talk
to a running windchilld instead.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			viper.SetConfigName("windchill")
			viper.SetConfigType("yaml")
			viper.AddConfigPath("configs")
			viper.AddConfigPath(".")
		}
		viper.SetEnvPrefix("windchill")
		viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		viper.AutomaticEnv()
		viper.SetDefault("ledger.path", "data/windchill.jsonl")

		if err := viper.ReadInConfig(); err != nil {
			var cfgNotFound viper.ConfigFileNotFoundError
			if !errors.As(err, &cfgNotFound) && cfgFile != "" {
				return fmt.Errorf("read config: %w", err)
			}
		}

		if ledgerPath == "" {
			ledgerPath = viper.GetString("ledger.path")
		}
		if serverURL == "" {
			serverURL = viper.GetString("cli.server")
		}
		if token == "" {
			token = viper.GetString("cli.token")
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./windchill.yaml)")
	rootCmd.PersistentFlags().StringVar(&ledgerPath, "ledger", "", "ledger file (default data/windchill.jsonl)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "windchilld base URL; operate remotely when set")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "producer bearer token for --server seals")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log ledger activity to stderr")

	rootCmd.AddCommand(sealCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(verifyEntryCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(checkVaultCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(checkBackupCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(versionCmd)
}

func newLogger() *zap.Logger {
	if !verbose {
		return zap.NewNop()
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// withLedger opens the local ledger file for the duration of fn.
func withLedger(ctx context.Context, fn func(*ledger.FileLedger) error) error {
	logger := newLogger()
	defer logger.Sync() //nolint:errcheck

	fl, err := ledger.OpenFileLedger(ctx, ledgerPath, logger)
	if err != nil {
		return err
	}
	defer fl.Close()
	return fn(fl)
}

func remote() (*client.Client, error) {
	return client.New(serverURL, client.WithBearerToken(token))
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the windchill CLI version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("windchill %s\n", version)
	},
}
