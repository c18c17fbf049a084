package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// rootOptions holds flags shared by every command.
type rootOptions struct {
	ConfigFile string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "scheduler",
		Short:         "Meeting scheduler services",
		Long:          "Runs the meeting and user services and manages their database schema.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigFile, "config", "", "YAML configuration file (overrides SCHEDULER_CONFIG_FILE)")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newMeetingsCommand(opts))
	cmd.AddCommand(newUsersCommand(opts))
	cmd.AddCommand(newMigrateCommand(opts))
	return cmd
}

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the meeting and user services in one process",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServices(cmd.Context(), opts, cmd.ErrOrStderr(), true, true)
		},
	}
}

func newMeetingsCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "meetings",
		Short: "Run the meeting service with its replicator and horizon job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServices(cmd.Context(), opts, cmd.ErrOrStderr(), true, false)
		},
	}
}

func newUsersCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "users",
		Short: "Run the user service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServices(cmd.Context(), opts, cmd.ErrOrStderr(), false, true)
		},
	}
}

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	var statusOnly bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newApp(cmd.Context(), opts, cmd.ErrOrStderr(), false)
			if err != nil {
				return err
			}
			defer rt.Close()

			manager := rt.store.MigrationManager(rt.logger)
			if !statusOnly {
				if err := manager.Run(cmd.Context()); err != nil {
					return fmt.Errorf("apply migrations: %w", err)
				}
			}

			status, err := manager.Status(cmd.Context())
			if err != nil {
				return fmt.Errorf("read migration status: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "current version: %s\n", displayVersion(status.CurrentVersion))
			fmt.Fprintf(out, "applied: %d\n", len(status.Applied))
			fmt.Fprintf(out, "pending: %d\n", len(status.Pending))
			for _, pending := range status.Pending {
				fmt.Fprintf(out, "  %s %s\n", pending.Version, pending.Description)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&statusOnly, "status", false, "report migration status without applying anything")
	return cmd
}

func displayVersion(version string) string {
	if version == "" {
		return "none"
	}
	return version
}
