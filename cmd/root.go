// Package cmd defines and implements the CLI commands for the jobcrawler executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/actuary-jobs-crawler/internal/config"
	"github.com/JakeFAU/actuary-jobs-crawler/internal/logging"
)

// envKeyType is the key for storing the command environment in the context.
type envKeyType string

const envKey envKeyType = "env"

// env is what every subcommand needs before it can do any work.
type env struct {
	cfg    config.Config
	logger *zap.Logger
}

// loadEnv is a variable so tests can inject configuration without a file.
var loadEnv = func(path string) (*env, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	logger, err := logging.NewWithLevel(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return &env{cfg: cfg, logger: logger}, nil
}

// newRootCmd creates and configures the root command.
func newRootCmd(out io.Writer) *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "jobcrawler",
		Short: "Collects actuarial job postings into a relational store.",
		Long: `jobcrawler walks the paginated listing of an actuarial job board,
opens each job card's detail page, extracts a normalized posting and stores
it idempotently. Each invocation is one crawl run.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if !needsEnv(cmd) {
				return nil
			}
			e, err := loadEnv(cfgFile)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), envKey, e))
			return nil
		},
	}
	cmd.SetOut(out)

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (defaults and JOBCRAWLER_* environment variables apply)")

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newMigrateCmd())
	cmd.AddCommand(newNormalizeCmd())
	return cmd
}

// needsEnv reports whether cmd requires configuration. Annotated commands
// run without it.
func needsEnv(cmd *cobra.Command) bool {
	_, standalone := cmd.Annotations["standalone"]
	return !standalone
}

func resolveEnv(ctx context.Context) (*env, error) {
	e, ok := ctx.Value(envKey).(*env)
	if !ok || e == nil {
		return nil, errors.New("configuration not loaded")
	}
	return e, nil
}

// Execute is the main entry point.
func Execute() {
	root := newRootCmd(os.Stdout)
	if err := root.ExecuteContext(context.Background()); err != nil {
		// Errors are already printed by cobra.
		os.Exit(1)
	}
}
