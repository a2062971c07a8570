package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"lizi/internal/app"
	"lizi/internal/config"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := rootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "lizi",
		Short:         "Reconciles camera review records into security alerts",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "config file (YAML or JSON); defaults and environment are used when missing")

	withApp := func(fn func(context.Context, *app.App) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			a, err := app.New(configPath, version)
			if err != nil {
				return err
			}
			defer a.Close()
			return fn(cmd.Context(), a)
		}
	}

	root.AddCommand(
		configCommand(&configPath),
		&cobra.Command{
			Use:   "run",
			Short: "Poll waiting reviews and reconcile them into alerts",
			RunE:  withApp(func(ctx context.Context, a *app.App) error { return a.Run(ctx) }),
		},
		&cobra.Command{
			Use:   "init-db",
			Short: "Create the reviews and alerts tables",
			RunE: withApp(func(ctx context.Context, a *app.App) error {
				if err := a.InitStore(ctx); err != nil {
					return err
				}
				a.Logger.Info("tables ready")
				return nil
			}),
		},
		&cobra.Command{
			Use:   "once",
			Short: "Run a single cold-start poll cycle and exit",
			RunE: withApp(func(ctx context.Context, a *app.App) error {
				if err := a.InitStore(ctx); err != nil {
					return err
				}
				res, err := a.Poller.Cycle(ctx)
				if err != nil {
					return err
				}
				a.Logger.Info("cycle complete", "fetched", res.Fetched, "processed", len(res.Outcomes))
				return nil
			}),
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintln(cmd.OutOrStdout(), version)
			},
		},
	)
	return root
}

func configCommand(configPath *string) *cobra.Command {
	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with the default settings",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.WriteDefault(*configPath, force); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "wrote", *configPath)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the config file",
	}
	cmd.AddCommand(initCmd)
	return cmd
}
