package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/RichardoC/talknow/internal/config"
	"github.com/RichardoC/talknow/internal/llm"
)

// encodingLoadTimeout bounds the startup fetch of the token encoding used in
// debug logs.
const encodingLoadTimeout = 10 * time.Second

// app is the state shared by all subcommands, filled in by the root
// command's PersistentPreRunE.
type app struct {
	configPath string
	envPath    string
	verbose    bool

	cfg    *config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "talknow",
		Short: "TalkNow - AI chat that adapts its answers to what you ask for",
		Long: `TalkNow answers questions with a hosted language model and shapes each
answer after the request: code, a table, slides or plain markdown.

Run without arguments to start the web server.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), a)
		},
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "Path to a YAML config file")
	root.PersistentFlags().StringVar(&a.envPath, "env-file", ".env", "Path to a .env file (ignored when missing)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Enable verbose logging")

	root.AddCommand(newServeCmd(a))
	root.AddCommand(newAskCmd(a))
	root.AddCommand(newClassifyCmd())
	root.AddCommand(newConfigCmd(a))
	return root
}

func (a *app) init() error {
	if err := config.LoadDotEnv(a.envPath); err != nil {
		return err
	}
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	a.cfg = cfg

	a.logger, err = newLogger(cfg.Log.Level, a.verbose)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	if a.logger.Core().Enabled(zapcore.DebugLevel) {
		ctx, cancel := context.WithTimeout(context.Background(), encodingLoadTimeout)
		defer cancel()
		if err := llm.LoadEncoding(ctx); err != nil {
			a.logger.Debug("Token encoding unavailable, estimating token counts", zap.Error(err))
		}
	}
	return nil
}

func newLogger(level string, verbose bool) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	lvl, err := zap.ParseAtomicLevel(strings.ToLower(level))
	if err != nil {
		return nil, err
	}
	zcfg.Level = lvl
	if verbose {
		zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	return zcfg.Build()
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
