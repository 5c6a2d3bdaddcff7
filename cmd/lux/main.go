// Command lux is the function lifecycle engine of the voice assistant: it
// answers requests with registered functions and creates new ones on demand.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"lux/cmd/lux/ui"
	"lux/internal/config"
	"lux/internal/llm"
	"lux/internal/logging"
	"lux/internal/manager"
	"lux/internal/sandbox"
)

var (
	// Global flags
	verbose    bool
	configPath string
	timeout    time.Duration

	logger *zap.Logger
	cfg    *config.Config
	styles = ui.DefaultStyles()

	// newAssistant builds the language-model collaborators. Tests replace it.
	newAssistant = defaultAssistant
)

var rootCmd = &cobra.Command{
	Use:   "lux",
	Short: "lux - dynamic function engine for the voice assistant",
	Long: `lux answers requests by running registered functions and, when none
fits, generates a new one, vets it, tests it and registers it.

Run without arguments to start the interactive chat.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// The child speaks JSON on stdout and needs nothing else.
		if cmd.Name() == sandbox.ChildCommandName {
			return nil
		}

		zc := zap.NewProductionConfig()
		if verbose {
			zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zc.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if verbose {
			cfg.Logging.Level = "debug"
		}
		if err := logging.Initialize(cfg.Paths.LogsDir, logging.Config{
			DebugMode:  cfg.Logging.DebugMode,
			Level:      cfg.Logging.Level,
			JSONFormat: cfg.Logging.JSONFormat(),
			Categories: cfg.Logging.Categories,
		}); err != nil {
			return err
		}
		if err := logging.InitAudit(); err != nil {
			logger.Warn("audit log disabled", zap.Error(err))
		}
		logger.Debug("configuration loaded",
			zap.String("config", configPath),
			zap.String("data_dir", cfg.Paths.DataDir))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAudit()
		logging.CloseAll()
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: runChat,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "lux.yaml", "Configuration file")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Minute, "Operation timeout")

	rootCmd.AddCommand(askCmd, createCmd, chatCmd, runCmd)
	rootCmd.AddCommand(listCmd, searchCmd, infoCmd, enableCmd, disableCmd, removeCmd, statsCmd, metricsCmd)
	rootCmd.AddCommand(childCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, styles.Error.Render(err.Error()))
		os.Exit(1)
	}
}

// childCmd serves isolated executions. The parent writes one request on
// stdin and reads one response from stdout.
var childCmd = &cobra.Command{
	Use:    sandbox.ChildCommandName,
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return sandbox.RunChild(os.Stdin, os.Stdout)
	},
}

func defaultAssistant(ctx context.Context, c *config.Config) manager.Assistant {
	ai, err := llm.NewGemini(ctx, c)
	if err != nil {
		logger.Warn("language model unavailable; running offline", zap.Error(err))
		return llm.Offline{Err: err}
	}
	return ai
}

// openRuntime wires the manager. Commands that only read state still go
// through it so every store is opened the same way.
func openRuntime(ctx context.Context, watch bool) (*manager.Runtime, error) {
	if cfg == nil {
		return nil, errors.New("configuration not loaded")
	}
	rt, err := manager.Build(ctx, cfg, newAssistant(ctx, cfg), watch)
	if err != nil {
		return nil, fmt.Errorf("failed to start: %w", err)
	}
	return rt, nil
}

// commandContext applies --timeout and cancels on SIGINT/SIGTERM.
func commandContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	return ctx, func() {
		stop()
		cancel()
	}
}
