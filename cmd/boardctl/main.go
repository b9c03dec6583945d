// Command boardctl is the operator tool for the board service: it prepares
// storage and inspects or adjusts sprint boards directly against the store.
package main

import (
	"context"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"prism-board/config"
	"prism-board/domain"
	"prism-board/storage"
)

var (
	asUser string
	asOrg  string
	asRole string
)

var rootCmd = &cobra.Command{
	Use:           "boardctl",
	Short:         "Operate sprint boards",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if debug, _ := cmd.Flags().GetBool("debug"); debug {
			log.SetLevel(log.DebugLevel)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&asUser, "user", "boardctl", "user id to act as")
	rootCmd.PersistentFlags().StringVar(&asOrg, "org", "", "organization id to act in")
	rootCmd.PersistentFlags().StringVar(&asRole, "role", domain.OrgAdminRole, "organization role of the acting user")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")
}

func caller() domain.Caller {
	return domain.Caller{UserID: asUser, OrgID: asOrg, OrgRole: asRole}
}

// openStore loads the configuration and connects to the configured backend.
func openStore(ctx context.Context) (domain.Store, func() error, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	return storage.Open(ctx, cfg)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
