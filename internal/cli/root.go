// Package cli provides the ferrysync command line interface.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "ferrysync",
	Short: "Offline booking queue and live ferry availability",
	Long: `ferrysync keeps a local copy of your ferry bookings, queues booking
changes made while offline and replays them once the backend is reachable.
It can also follow live seat and vehicle availability for a route.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command's
// context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ~/.config/ferrysync/config.toml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print machine-readable JSON")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(configCmd)

	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueCancelCmd)
	queueCmd.AddCommand(queueUpdateCmd)
	queueCmd.AddCommand(queueClearCmd)

	cacheCmd.AddCommand(cacheShowCmd)
	cacheCmd.AddCommand(cacheClearCmd)

	watchCmd.Flags().String("route", "", "route to follow, e.g. piraeus-naxos")
	watchCmd.Flags().String("date", "", "departure date (YYYY-MM-DD) used to seed the board")
	_ = watchCmd.MarkFlagRequired("route")
}

// --- Status ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show connectivity, pending changes and cache age",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		return RunStatus(cmd.Context(), a, cmd.OutOrStdout())
	},
}

// --- Sync ---

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Replay queued booking changes against the backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		return RunSync(cmd.Context(), a, cmd.OutOrStdout())
	},
}

// --- Queue ---

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and edit the pending operation queue",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending operations in replay order",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		return RunQueueList(cmd.Context(), a, cmd.OutOrStdout())
	},
}

var queueCancelCmd = &cobra.Command{
	Use:   "cancel <booking-id>",
	Short: "Queue a booking cancellation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseBookingID(args[0])
		if err != nil {
			return err
		}
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		return RunQueueCancel(cmd.Context(), a, cmd.OutOrStdout(), id)
	},
}

var queueUpdateCmd = &cobra.Command{
	Use:   "update <booking-id> <field=value>...",
	Short: "Queue a booking change",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseBookingID(args[0])
		if err != nil {
			return err
		}
		changes, err := parseChanges(args[1:])
		if err != nil {
			return err
		}
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		return RunQueueUpdate(cmd.Context(), a, cmd.OutOrStdout(), id, changes)
	},
}

var queueClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop every pending operation",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		return RunQueueClear(cmd.Context(), a, cmd.OutOrStdout())
	},
}

// --- Cache ---

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect the offline cache",
}

var cacheShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show cached bookings and profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		return RunCacheShow(cmd.Context(), a, cmd.OutOrStdout())
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove all offline data, including the queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		return RunCacheClear(cmd.Context(), a, cmd.OutOrStdout())
	},
}

// --- Watch ---

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow live availability for a route",
	RunE: func(cmd *cobra.Command, args []string) error {
		route, _ := cmd.Flags().GetString("route")
		date, _ := cmd.Flags().GetString("date")
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		return RunWatch(cmd.Context(), a, cmd.OutOrStdout(), route, date)
	},
}

// --- Config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the resolved configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		data, err := cfg.TOML()
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}
