package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type crawlOptions struct {
	keyword string
	serial  bool
}

// newCrawlCmd creates the 'crawl' subcommand, which runs exactly one pass.
func newCrawlCmd() *cobra.Command {
	opts := &crawlOptions{}
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Runs one crawl pass over every registered extractor",
		Long: `Runs every registered extractor once for the keyword, persists what
is new and prints the pass summary as JSON. Exits non-zero when any extractor
failed.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawl(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.keyword, "keyword", "", "search keyword (default crawler.keyword)")
	cmd.Flags().BoolVar(&opts.serial, "serial", false, "run extractors one at a time")
	return cmd
}

func runCrawl(cmd *cobra.Command, opts *crawlOptions) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	keyword := opts.keyword
	if keyword == "" {
		keyword = appInstance.Config().Keyword()
	}

	summary := appInstance.Orchestrator().RunAll(cmd.Context(), keyword, !opts.serial)

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}

	failed := 0
	for name, res := range summary.Results {
		if res.Failed() {
			failed++
			appInstance.Logger().Warn("extractor did not complete",
				zap.String("extractor", name), zap.String("status", string(res.Status)), zap.String("error", res.ErrorText))
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d extractors failed", failed, len(summary.Results))
	}
	return nil
}
