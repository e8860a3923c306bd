package cmd

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/knowledge-base-crawler/internal/config"
	"github.com/JakeFAU/knowledge-base-crawler/internal/logging"
)

// cliState carries what PersistentPreRunE resolves for the subcommands.
type cliState struct {
	cfgFile string
	envFile string
	cfg     config.Config
	logger  *zap.Logger
}

// newRootCmd creates the root command and attaches every subcommand.
func newRootCmd() *cobra.Command {
	rt := &cliState{}

	cmd := &cobra.Command{
		Use:   "kbcrawler",
		Short: "Crawls websites into a knowledge base and reports each page to a webhook.",
		Long: `kbcrawler accepts crawl requests over HTTP, discovers every same-site link
from a start URL, extracts the main content of each page, and notifies the
caller's webhook as each page is processed.`,
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return rt.init()
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			if rt.logger != nil {
				_ = rt.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&rt.cfgFile, "config", "", "config file (YAML)")
	cmd.PersistentFlags().StringVar(&rt.envFile, "env-file", ".env", "optional dotenv file loaded before the environment is read")

	cmd.AddCommand(newServeCmd(rt))
	cmd.AddCommand(newSpiderCmd(rt))

	return cmd
}

func (rt *cliState) init() error {
	if rt.envFile != "" {
		if err := godotenv.Load(rt.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load env file: %w", err)
		}
	}

	cfg, err := config.Load(rt.cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(logging.Config{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	zap.ReplaceGlobals(logger)

	rt.cfg = cfg
	rt.logger = logger
	return nil
}

// Execute runs the root command. Cobra prints any error to stderr.
func Execute() error {
	return newRootCmd().Execute()
}
