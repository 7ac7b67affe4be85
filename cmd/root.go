package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/cloudchase/tfmeta/config"
	"github.com/cloudchase/tfmeta/errdefs"
	"github.com/cloudchase/tfmeta/registry"
)

var (
	configPath string

	// Set by the root command before any subcommand runs.
	appConfig *config.Config
	logger    = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "tfmeta",
	Short: "tfmeta - TFLite model metadata populator",
	Long: `Attach a self-describing metadata descriptor and a label file to a TFLite
image classifier, and keep a local registry of populated models.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		reportError(rootCmd.ErrOrStderr(), err)
		return err
	}
	return nil
}

func reportError(w io.Writer, err error) {
	errorColor := color.New(color.FgRed, color.Bold)
	errorColor.Fprintf(w, "Error: %v\n", err)
	if errdefs.IsMalformedConfiguration(err) {
		fmt.Fprintln(w, "Check tfmeta.yaml and the flags, or run 'tfmeta init' to write a starter config.")
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "Config file (default ./tfmeta.yaml)")
	pf.String("log-level", "warn", "Log level: debug, info, warn or error")
	pf.String("registry-dir", "", "Registry directory (default ~/.tfmeta)")

	rootCmd.AddCommand(populateCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(removeCmd)
}

func setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath, cmd.Flags())
	if err != nil {
		return err
	}
	l, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	appConfig = cfg
	logger = l
	return nil
}

// newLogger builds a console logger on stderr at the given level.
func newLogger(level string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zc := zap.NewDevelopmentConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	zc.DisableStacktrace = true
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}
	return zc.Build()
}

func newManager() (*registry.ArtifactManager, error) {
	dir := appConfig.Registry.Dir
	if dir == "" {
		dir = registry.DefaultBaseDir()
	}
	mgr, err := registry.NewArtifactManager(dir)
	if err != nil {
		return nil, fmt.Errorf("init registry: %w", err)
	}
	return mgr, nil
}
