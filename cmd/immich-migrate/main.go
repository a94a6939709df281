package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"immich-migrate/internal/app"
	"immich-migrate/internal/config"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates an App. The caller must defer app.Close().
func newApp() (*app.App, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

var rootCmd = &cobra.Command{
	Use:   "immich-migrate",
	Short: "Migrate a photo library into Immich",
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		server, _ := cmd.Flags().GetString("server")

		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		// Generate a new device ID; Immich uses it to attribute uploads.
		deviceID := uuid.New().String()

		cfg := config.NewConfig(deviceID, defaults.BaseDir)
		cfg.ServerURL = server

		if err := config.Init(defaults.ConfigPath, cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults.ConfigPath)
		fmt.Printf("Device ID: %s\n", deviceID)
		fmt.Printf("Base Dir:  %s\n", defaults.BaseDir)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults.ConfigPath)
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults.ConfigPath)
		fmt.Printf("Server URL: %s\n", cfg.ServerURL)
		fmt.Printf("Device ID:  %s\n", cfg.DeviceID)
		fmt.Printf("Base Dir:   %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:    %s\n", cfg.LogDir)
		return nil
	},
}

var configSetKeyCmd = &cobra.Command{
	Use:   "set-key",
	Short: "Store the API key encrypted at rest",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		fmt.Print("API key: ")
		key, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		if err != nil {
			return fmt.Errorf("reading API key: %w", err)
		}
		if len(key) == 0 {
			return fmt.Errorf("API key is empty")
		}

		if err := a.StoreAPIKey(string(key)); err != nil {
			return err
		}

		fmt.Println("API key stored.")
		return nil
	},
}

// migrate command
var migrateCmd = &cobra.Command{
	Use:   "migrate ROOT",
	Short: "Migrate a directory tree into Immich albums",
	Long: `Walks ROOT recursively, recreates its directory hierarchy as Immich
albums, and uploads every image and video into its album. Progress is
checkpointed next to ROOT, so an interrupted or repeated migration never
re-uploads what already made it.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		parallel, _ := cmd.Flags().GetInt("parallel")
		server, _ := cmd.Flags().GetString("server")
		apiKey, _ := cmd.Flags().GetString("api-key")
		checkpointPath, _ := cmd.Flags().GetString("checkpoint")

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		// Let in-flight uploads finish on Ctrl-C; a second signal kills the
		// process the usual way.
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		report, err := a.Migrate(ctx, app.MigrateOptions{
			RootDir:        args[0],
			ServerURL:      server,
			APIKey:         apiKey,
			CheckpointPath: checkpointPath,
			Parallel:       parallel,
			DryRun:         dryRun,
		})
		if err != nil {
			return err
		}

		if dryRun {
			fmt.Println("Dry run: no remote changes were made.")
		}
		fmt.Printf("Albums:  %d to create, %d existing\n", report.AlbumsToCreate, report.AlbumsExisting)
		fmt.Printf("Files:   %d uploaded, %d skipped, %d failed\n", report.FilesToUpload, report.FilesSkipped, report.FilesFailed)

		if len(report.Failures) > 0 {
			fmt.Println("\nFailed files:")
			for _, f := range report.Failures {
				fmt.Printf("  %s: %s\n", f.RelPath, f.Reason)
			}
			return fmt.Errorf("%d file(s) failed", report.FilesFailed)
		}
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View past migration runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		runs, err := a.History(limit)
		if err != nil {
			return err
		}

		if len(runs) == 0 {
			fmt.Println("No migration runs recorded.")
			return nil
		}

		for _, run := range runs {
			duration := ""
			if run.FinishedAt.Valid {
				d := run.FinishedAt.Time.Sub(run.StartedAt)
				duration = d.Truncate(time.Millisecond).String()
			}
			mode := "live"
			if run.DryRun {
				mode = "dry-run"
			}
			fmt.Printf("%s  %-7s  %-11s  up:%d skip:%d fail:%d  %s  %s\n",
				run.StartedAt.Format("2006-01-02 15:04:05"),
				mode,
				run.Status,
				run.FilesUploaded,
				run.FilesSkipped,
				run.FilesFailed,
				run.RootPath,
				duration,
			)
		}
		return nil
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configInitCmd.Flags().String("server", "", "Immich API URL (e.g. http://immich.local:2283/api)")
	configCmd.AddCommand(configListCmd)
	configCmd.AddCommand(configSetKeyCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.Flags().Bool("dry-run", false, "Report what would happen without changing the server")
	migrateCmd.Flags().IntP("parallel", "p", 0, "Number of concurrent uploads (default 4)")
	migrateCmd.Flags().String("server", "", "Immich API URL (overrides config)")
	migrateCmd.Flags().String("api-key", "", "Immich API key (overrides config)")
	migrateCmd.Flags().String("checkpoint", "", "Checkpoint file path (default: hidden file under ROOT)")
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of runs to show")
}
