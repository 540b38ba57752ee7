package cmd

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/realtime-jobs-crawler/internal/identity"
)

type proxiesReport struct {
	Stats   identity.Stats   `json:"stats"`
	Proxies []identity.Proxy `json:"proxies"`
}

// newProxiesCmd creates the 'proxies' subcommand, which refreshes the pool once
// and prints what survived probing.
func newProxiesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "proxies",
		Short: "Refreshes the proxy pool and prints its contents",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			pool := appInstance.ProxyPool()
			if pool == nil {
				return errors.New("proxies are disabled (identity.proxy_enabled=false)")
			}
			if err := pool.Refresh(cmd.Context()); err != nil {
				return fmt.Errorf("refresh proxy pool: %w", err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(proxiesReport{Stats: pool.Stats(), Proxies: pool.Proxies()})
		},
	}
}
