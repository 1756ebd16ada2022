package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dshills/plughost/api"
	"github.com/dshills/plughost/internal/app"
	"github.com/dshills/plughost/internal/plugin"
)

func newDiscoverCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "discover",
		Short: "Discover plugins and show what was found",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.open(cmd, app.Options{})
			if err != nil {
				return err
			}
			defer a.Shutdown()

			fmt.Fprintln(cmd.OutOrStdout(), newStyles(cmd.OutOrStdout()).renderPlugins(a.Registry().All()))
			return nil
		},
	}
}

func newListCommand(g *globals) *cobra.Command {
	var (
		installed bool
		filter    string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List plugins, optionally filtered",
		Long: `List discovered plugins.

--filter takes a CEL expression over the plugin variable, for example:

  plughost list --filter 'plugin.kind == "tool" && "POST_LOAD" in plugin.stages'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var f *plugin.Filter
			if filter != "" {
				var err error
				if f, err = plugin.CompileFilter(filter); err != nil {
					return err
				}
			}

			a, err := g.open(cmd, app.Options{})
			if err != nil {
				return err
			}
			defer a.Shutdown()

			handles := a.Registry().All()
			if installed {
				handles = a.Registry().Installed()
			}
			if f != nil {
				if handles, err = f.Apply(handles); err != nil {
					return err
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), newStyles(cmd.OutOrStdout()).renderPlugins(handles))
			return nil
		},
	}
	cmd.Flags().BoolVar(&installed, "installed", false, "only installed plugins")
	cmd.Flags().StringVar(&filter, "filter", "", "CEL filter expression")
	return cmd
}

func newInfoCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "info NAME",
		Short: "Describe a plugin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.open(cmd, app.Options{})
			if err != nil {
				return err
			}
			defer a.Shutdown()

			s, err := a.Manager().InfoString(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), s)
			return nil
		},
	}
}

func newInstallCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "install NAME",
		Short: "Install a plugin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.open(cmd, app.Options{Headless: true})
			if err != nil {
				return err
			}
			defer a.Shutdown()

			return printStatus(cmd, args[0], a.Manager().Install(cmd.Context(), args[0]))
		},
	}
}

func newUninstallCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall NAME",
		Short: "Install then uninstall a plugin",
		Long: `Uninstall a plugin. Installation does not outlive the process, so the
plugin is installed first and then uninstalled, exercising its unload hook.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.open(cmd, app.Options{Headless: true})
			if err != nil {
				return err
			}
			defer a.Shutdown()

			m := a.Manager()
			name := args[0]
			if status := m.Install(cmd.Context(), name); !status.OK() && status != plugin.StatusAlreadyInstalled {
				return printStatus(cmd, name, status)
			}
			return printStatus(cmd, name, m.Uninstall(cmd.Context(), name))
		},
	}
}

func newUpdateCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "update NAME",
		Short: "Update a plugin from its download URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.open(cmd, app.Options{})
			if err != nil {
				return err
			}
			defer a.Shutdown()

			result, err := a.Manager().Update(cmd.Context(), args[0])
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", args[0], result)
			return err
		},
	}
}

func newServeCommand(g *globals) *cobra.Command {
	var (
		watch bool
		addr  string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Discover plugins and serve health and metrics until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("watch") {
				g.cfg.Watch = watch
			}
			if cmd.Flags().Changed("addr") {
				g.cfg.HTTPAddr = addr
			}

			a, err := g.open(cmd, app.Options{Headless: true})
			if err != nil {
				return err
			}
			defer a.Shutdown()

			if _, err := a.Manager().RunStage(cmd.Context(), api.PreLoad); err != nil {
				return err
			}
			if g.cfg.Watch {
				if _, err := a.Watch(); err != nil {
					return err
				}
			}

			a.Logger().Info("serving", zap.String("addr", g.cfg.HTTPAddr), zap.Bool("watch", g.cfg.Watch))
			if err := a.Serve(cmd.Context()); err != nil {
				return err
			}

			// Post-load hooks run on the way out.
			_, err = a.Manager().RunStage(context.WithoutCancel(cmd.Context()), api.PostLoad)
			return err
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "watch the plugins directory for new bundles")
	cmd.Flags().StringVar(&addr, "addr", "", "health and metrics listen address")
	return cmd
}

// printStatus prints the transition status and fails on anything but
// success.
func printStatus(cmd *cobra.Command, name string, status plugin.Status) error {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, newStyles(out).renderStatus(name, status))
	return status.Err()
}
