package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/knowledge-base-crawler/internal/linklist"
	"github.com/JakeFAU/knowledge-base-crawler/internal/spider"
)

type spiderFlags struct {
	startURL   string
	webhookURL string
	output     string
}

// newSpiderCmd creates the link-discovery subcommand the worker pool launches
// for every task.
func newSpiderCmd(rt *cliState) *cobra.Command {
	flags := &spiderFlags{}
	cmd := &cobra.Command{
		Use:   "spider",
		Short: "Discovers same-site links from a start URL and writes them as CSV",
		Long: `Follows every link whose host matches the start URL, records each absolute
URL once in discovery order, and writes the list to --output under a single
"Links" column.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSpider(cmd, rt, flags)
		},
	}
	cmd.Flags().StringVar(&flags.startURL, "start-url", "", "URL the crawl starts from (required)")
	cmd.Flags().StringVar(&flags.webhookURL, "webhook-url", "", "webhook of the owning task (informational)")
	cmd.Flags().StringVar(&flags.output, "output", "links.csv", "path of the CSV link list to write")
	return cmd
}

func runSpider(cmd *cobra.Command, rt *cliState, flags *spiderFlags) error {
	logger := rt.logger.Named("spider").With(zap.String("url", flags.startURL))
	if flags.webhookURL != "" {
		logger = logger.With(zap.String("webhook_url", flags.webhookURL))
	}

	s, err := spider.New(spider.Config{
		StartURL:      flags.startURL,
		UserAgent:     rt.cfg.Spider.UserAgent,
		MaxDepth:      rt.cfg.Spider.MaxDepth,
		RespectRobots: rt.cfg.Spider.RespectRobots,
		Timeout:       rt.cfg.SpiderTimeout(),
	}, logger)
	if err != nil {
		return err
	}

	links, err := s.Run(cmd.Context())
	if err != nil {
		return fmt.Errorf("crawl %s: %w", flags.startURL, err)
	}
	if err := linklist.Write(flags.output, links); err != nil {
		return err
	}
	logger.Info("link discovery finished",
		zap.Int("links", len(links)),
		zap.String("output", flags.output),
	)
	return nil
}
