package main

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"

	"github.com/dshills/plughost/internal/app"
	"github.com/dshills/plughost/internal/config"
)

// globals holds the persistent flags shared by every subcommand.
type globals struct {
	configPath string
	pluginsDir string
	logLevel   string

	cfg *config.Config
}

// NewRootCommand builds the plughost command tree.
func NewRootCommand() *cobra.Command {
	g := &globals{}

	root := &cobra.Command{
		Use:   "plughost",
		Short: "Plugin host - discover, install and serve plugins",
		Long: `plughost discovers plugins packaged as Lua zip bundles or Go plugins in a
plugins directory, drives their install and uninstall lifecycle, and can
serve health and metrics endpoints while watching for new bundles.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return g.load(cmd)
		},
	}

	root.SetVersionTemplate(fmt.Sprintf("{{.Name}} version {{.Version}}\nCommit: %s\nBuilt: %s\nGo version: %s\nPlatform: %s/%s\n",
		commit, date, goVersion(), runtime.GOOS, runtime.GOARCH))

	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "config file (.toml or .yaml)")
	root.PersistentFlags().StringVar(&g.pluginsDir, "plugins-dir", "", "plugins directory (overrides config)")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "log level: debug, info, warn, error")

	root.AddCommand(
		newDiscoverCommand(g),
		newListCommand(g),
		newInfoCommand(g),
		newInstallCommand(g),
		newUninstallCommand(g),
		newUpdateCommand(g),
		newServeCommand(g),
	)
	return root
}

// load reads the configuration and applies flag overrides.
func (g *globals) load(cmd *cobra.Command) error {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cmd.Flags().Changed("plugins-dir") {
		cfg.PluginsDir = g.pluginsDir
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = g.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	g.cfg = cfg
	return nil
}

// open builds the application and runs discovery. The caller shuts it down.
func (g *globals) open(cmd *cobra.Command, opts app.Options) (*app.Application, error) {
	if opts.Logger == nil {
		opts.Logger = app.NewLogger(g.cfg.LogLevel, cmd.ErrOrStderr())
	}
	a, err := app.New(g.cfg, opts)
	if err != nil {
		return nil, err
	}
	if _, err := a.Discover(cmd.Context()); err != nil {
		a.Shutdown()
		return nil, err
	}
	return a, nil
}

func goVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok {
		return info.GoVersion
	}
	return "unknown"
}
