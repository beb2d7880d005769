package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmerrifield20/windchill/internal/identity"
)

var (
	tokenProducer string
	tokenScopes   []string
	tokenTTL      time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a producer token signed with auth.token_secret",
	Long: `token mints a bearer token for a capture producer. The signing secret and
issuer are read from the same configuration windchilld uses
(auth.token_secret, auth.issuer).

  windchill token --producer rig-a > rig-a.token
  windchill token --producer auditor --scope ledger:read`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		issuer := viper.GetString("auth.issuer")
		if issuer == "" {
			issuer = fmt.Sprintf("http://localhost:%d", viper.GetInt("server.port"))
		}
		ti, err := identity.NewTokenIssuer([]byte(viper.GetString("auth.token_secret")), issuer, tokenTTL)
		if err != nil {
			return fmt.Errorf("auth.token_secret: %w", err)
		}
		signed, err := ti.Issue(tokenProducer, tokenScopes)
		if err != nil {
			return err
		}
		fmt.Println(signed)
		return nil
	},
}

func init() {
	viper.SetDefault("server.port", 8080)
	tokenCmd.Flags().StringVar(&tokenProducer, "producer", "", "producer name (required)")
	tokenCmd.Flags().StringSliceVar(&tokenScopes, "scope", []string{identity.ScopeSeal}, "scopes to grant")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "token lifetime (default 24h)")
	_ = tokenCmd.MarkFlagRequired("producer")
}
