package commands

import (
	"context"
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/neuna/neuna/internal/companion"
	"github.com/neuna/neuna/internal/config"
	"github.com/neuna/neuna/internal/logging"
	"github.com/neuna/neuna/internal/ui"
)

var (
	// Version is set at build time
	Version = "dev"
	// Commit is set at build time
	Commit = "none"
)

var rootCmd = &cobra.Command{
	Use:   "neuna",
	Short: "Neuna - a witty AI companion for your terminal",
	Long: `Neuna chats, roasts your pictures, writes study notes, checks the
weather and runs your smart home, all from the terminal.

Run "neuna" with no arguments to start an interactive chat.
Use "neuna [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runChat,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Log to stderr as well as the log file")
	rootCmd.PersistentFlags().String("backend", "", "Override NEUNA_BACKEND (gemini, openai, echo)")
	rootCmd.PersistentFlags().Bool("no-color", false, "Disable colored output")

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Neuna\n")
		fmt.Printf("  Version:  %s\n", Version)
		fmt.Printf("  Commit:   %s\n", Commit)
		fmt.Printf("  Platform: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	},
}

// session is a loaded configuration and the App built from it.
type session struct {
	cfg *config.Config
	log *zap.Logger
	app *companion.App
}

func (s *session) Close() {
	if err := s.app.Close(); err != nil {
		s.log.Warn("shutdown", zap.Error(err))
	}
	_ = s.log.Sync()
}

// loadConfig reads configuration and applies the global flags.
func loadConfig(cmd *cobra.Command) (*config.Config, *config.Paths, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if backend, _ := cmd.Flags().GetString("backend"); backend != "" {
		cfg.Backend = backend
		if err := cfg.Validate(); err != nil {
			return nil, nil, err
		}
	}
	if noColor, _ := cmd.Flags().GetBool("no-color"); noColor {
		ui.SetNoColor(true)
	}

	paths, err := config.GetPaths(cfg.Home)
	if err != nil {
		return nil, nil, err
	}
	if err := paths.EnsureDirectories(); err != nil {
		return nil, nil, err
	}
	return cfg, paths, nil
}

// openSession loads configuration, sets up logging and builds the App.
func openSession(ctx context.Context, cmd *cobra.Command) (*session, error) {
	cfg, paths, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	verbose, _ := cmd.Flags().GetBool("verbose")
	log := logging.New(logging.Options{
		File:    cfg.LogFilePath(paths),
		Level:   cfg.LogLevel,
		Console: verbose,
	}).With(zap.String("service", "neuna"), zap.String("version", Version))

	app, err := companion.FromConfig(ctx, cfg, paths, nil, log)
	if err != nil {
		_ = log.Sync()
		return nil, err
	}
	return &session{cfg: cfg, log: log, app: app}, nil
}
