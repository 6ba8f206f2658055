package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"cloudsync/internal/app"
	"cloudsync/internal/config"
	"cloudsync/internal/syncer"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates an App. The caller must defer a.Close().
// operation identifies the CLI command being run (e.g. "Upload", "Serve").
func newApp(cmd *cobra.Command, operation string) (*app.App, error) {
	cfg, err := readConfig()
	if err != nil {
		return nil, err
	}

	level := slog.LevelWarn
	if operation == "Serve" {
		level = slog.LevelInfo
	}
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = slog.LevelDebug
	}

	a, err := app.New(cmd.Context(), cfg, operation, app.Options{LogLevel: level})
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

func readConfig() (*config.Config, error) {
	paths, err := app.DefaultPaths()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}
	cfg, err := config.ReadFromFile(paths.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return cfg, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var rootCmd = &cobra.Command{
	Use:           "cloudsync",
	Short:         "Multi-backend file sync with conflict detection",
	SilenceUsage:  true,
	SilenceErrors: false,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration and database",
	RunE: func(cmd *cobra.Command, args []string) error {
		paths, err := app.DefaultPaths()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		ownerID := uuid.New().String()
		cfg := config.NewConfig(ownerID, paths.BaseDir)

		if err := config.Init(paths.ConfigPath, cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}
		if err := app.MigrateDatabase(cfg); err != nil {
			return err
		}

		fmt.Printf("Configuration initialized at %s\n", paths.ConfigPath)
		fmt.Printf("Owner ID: %s\n", ownerID)
		fmt.Printf("Base Dir: %s\n", paths.BaseDir)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		paths, err := app.DefaultPaths()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}
		cfg, err := config.ReadFromFile(paths.ConfigPath)
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", paths.ConfigPath)
		fmt.Printf("Owner ID:  %s\n", cfg.OwnerID)
		fmt.Printf("Base Dir:  %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:   %s\n", cfg.LogDir)
		fmt.Printf("Database:  %s %s\n", cfg.Database.Type, cfg.Database.DataDir)
		fmt.Printf("Listen:    %s\n", cfg.Server.Listen)
		for _, b := range cfg.Backends {
			fmt.Printf("Backend:   %s\n", b.Type)
		}
		return nil
	},
}

// db command
var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the metadata database",
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := readConfig()
		if err != nil {
			return err
		}
		if err := app.MigrateDatabase(cfg); err != nil {
			return err
		}
		fmt.Println("Database is up to date.")
		return nil
	},
}

var dbStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the schema version",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := readConfig()
		if err != nil {
			return err
		}
		st, err := app.SchemaStatus(cfg)
		if err != nil {
			return err
		}

		fmt.Printf("Current: %d\n", st.Current)
		fmt.Printf("Latest:  %d\n", st.Latest)
		if err := st.Err(); err != nil {
			fmt.Printf("State:   %v\n", err)
			return nil
		}
		fmt.Println("State:   up to date")
		return nil
	},
}

var dbBackupCmd = &cobra.Command{
	Use:   "backup DEST",
	Short: "Write a snapshot of the metadata database",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "BackupDatabase")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.BackupDatabase(args[0]); err != nil {
			return err
		}
		fmt.Printf("Database written to %s\n", args[0])
		return nil
	},
}

// backend command
var backendCmd = &cobra.Command{
	Use:   "backend",
	Short: "Manage storage backends",
}

var backendCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate access to every configured backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "CheckBackends")
		if err != nil {
			return err
		}
		defer a.Close()

		results := a.CheckBackends(cmd.Context())
		kinds := make([]syncer.BackendKind, 0, len(results))
		for k := range results {
			kinds = append(kinds, k)
		}
		sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

		failed := 0
		for _, k := range kinds {
			if err := results[k]; err != nil {
				failed++
				fmt.Printf("%-14s FAIL  %v\n", k, err)
				continue
			}
			fmt.Printf("%-14s OK\n", k)
		}
		if failed > 0 {
			return fmt.Errorf("%d backend(s) failed validation", failed)
		}
		return nil
	},
}

var backendTokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage backend OAuth tokens",
}

var backendTokenImportCmd = &cobra.Command{
	Use:   "import TOKEN_JSON",
	Short: "Encrypt a Google Drive OAuth token for the drive backend",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := readConfig()
		if err != nil {
			return err
		}
		bc, err := app.DriveBackendConfig(cfg)
		if err != nil {
			return err
		}

		passphrase, ok := app.DrivePassphrase(bc)
		if !ok {
			if passphrase, err = readPassphrase(cmd); err != nil {
				return err
			}
		}

		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("opening token file: %w", err)
		}
		defer f.Close()

		if err := app.ImportDriveToken(bc, f, passphrase); err != nil {
			return err
		}
		fmt.Printf("Token saved to %s\n", bc.DriveTokenPath)
		fmt.Println("You may now delete the plaintext token file.")
		return nil
	},
}

func readPassphrase(cmd *cobra.Command) (string, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("reading passphrase: %w", err)
		}
		return strings.TrimRight(string(data), "\r\n"), nil
	}

	fmt.Fprint(os.Stderr, "Passphrase: ")
	first, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	fmt.Fprint(os.Stderr, "Confirm passphrase: ")
	second, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	if !bytes.Equal(first, second) {
		return "", fmt.Errorf("passphrases do not match")
	}
	return string(first), nil
}

// upload command
var uploadCmd = &cobra.Command{
	Use:   "upload PATH",
	Short: "Store a file locally and sync it to remote backends",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		targets, _ := cmd.Flags().GetStringSlice("to")
		wait, _ := cmd.Flags().GetBool("wait")

		a, err := newApp(cmd, "Upload")
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.Upload(cmd.Context(), args[0], targets, wait)
		if err != nil {
			return fmt.Errorf("upload failed: %w", err)
		}

		fmt.Printf("File ID: %s\n", res.File.ID)
		fmt.Printf("Status:  %s\n", res.File.OverallStatus)
		if res.Job != nil {
			printJobLine(res.Job)
		}
		return nil
	},
}

// sync command
var syncCmd = &cobra.Command{
	Use:   "sync FILE_ID",
	Short: "Sync an existing file to remote backends",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		targets, _ := cmd.Flags().GetStringSlice("to")
		wait, _ := cmd.Flags().GetBool("wait")

		a, err := newApp(cmd, "Sync")
		if err != nil {
			return err
		}
		defer a.Close()

		job, err := a.Sync(cmd.Context(), args[0], targets, wait)
		if err != nil {
			return fmt.Errorf("sync failed: %w", err)
		}
		printJobLine(job)
		return nil
	},
}

func printJobLine(job *syncer.SyncJob) {
	line := fmt.Sprintf("Job %s  %-11s  %3d%%", job.ID, job.Status, job.Progress)
	if job.ErrorMessage != "" {
		line += "  " + job.ErrorMessage
	}
	fmt.Println(line)
}

// job command
var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Inspect sync jobs",
}

var jobStatusCmd = &cobra.Command{
	Use:   "status JOB_ID",
	Short: "Show the status of a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		a, err := newApp(cmd, "JobStatus")
		if err != nil {
			return err
		}
		defer a.Close()

		view, err := a.JobStatus(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(os.Stdout, view)
		}

		fmt.Printf("Job:       %s\n", view.JobID)
		fmt.Printf("Operation: %s\n", view.Operation)
		fmt.Printf("Status:    %s\n", view.Status)
		fmt.Printf("Progress:  %d%%\n", view.ProgressPercentage)
		if view.ErrorMessage != nil {
			fmt.Printf("Error:     %s\n", *view.ErrorMessage)
		}
		return nil
	},
}

// files command
var filesCmd = &cobra.Command{
	Use:   "files",
	Short: "Manage synced files",
}

var filesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List files",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		a, err := newApp(cmd, "ListFiles")
		if err != nil {
			return err
		}
		defer a.Close()

		files, err := a.ListFiles(cmd.Context(), status, limit, offset)
		if err != nil {
			return err
		}
		if len(files) == 0 {
			fmt.Println("No files found.")
			return nil
		}

		for _, f := range files {
			flag := " "
			if f.ConflictDetected {
				flag = "!"
			}
			fmt.Printf("%s %s  %-11s  v%-3d  %10d  %s\n", flag, f.ID, f.OverallStatus, f.Version, f.Size, f.Filename)
		}
		return nil
	},
}

var filesShowCmd = &cobra.Command{
	Use:   "show FILE_ID",
	Short: "Show a file and its per-backend state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "ShowFile")
		if err != nil {
			return err
		}
		defer a.Close()

		view, err := a.ShowFile(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(os.Stdout, view)
	},
}

var filesDeleteCmd = &cobra.Command{
	Use:   "delete FILE_ID",
	Short: "Delete a file and its remote copies",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		keepRemote, _ := cmd.Flags().GetBool("keep-remote")

		a, err := newApp(cmd, "DeleteFile")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.DeleteFile(cmd.Context(), args[0], keepRemote); err != nil {
			return err
		}
		fmt.Printf("Deleted %s\n", args[0])
		return nil
	},
}

// conflicts command
var conflictsCmd = &cobra.Command{
	Use:   "conflicts",
	Short: "Detect and resolve conflicts",
}

var conflictsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List conflicts",
	RunE: func(cmd *cobra.Command, args []string) error {
		resolved, _ := cmd.Flags().GetString("resolved")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		a, err := newApp(cmd, "ListConflicts")
		if err != nil {
			return err
		}
		defer a.Close()

		conflicts, err := a.ListConflicts(cmd.Context(), resolved, limit, offset)
		if err != nil {
			return err
		}
		if len(conflicts) == 0 {
			fmt.Println("No conflicts found.")
			return nil
		}

		for _, c := range conflicts {
			state := "open"
			if c.Resolved {
				state = "resolved"
			}
			fmt.Printf("%s  %-8s  %-14s  %s <> %s  file:%s\n", c.ID, state, c.ConflictType, c.StorageA, c.StorageB, c.FileID)
		}
		return nil
	},
}

var conflictsShowCmd = &cobra.Command{
	Use:   "show CONFLICT_ID",
	Short: "Show a conflict",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "ShowConflict")
		if err != nil {
			return err
		}
		defer a.Close()

		view, err := a.ShowConflict(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(os.Stdout, view)
	},
}

var conflictsDetectCmd = &cobra.Command{
	Use:   "detect FILE_ID",
	Short: "Compare a file's backend copies and record conflicts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		refresh, _ := cmd.Flags().GetBool("refresh")

		a, err := newApp(cmd, "DetectConflicts")
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.DetectConflicts(cmd.Context(), args[0], refresh)
		if err != nil {
			return err
		}
		fmt.Printf("%d open conflict(s), %d new\n", len(res.Conflicts), res.Created)
		for _, c := range res.Conflicts {
			fmt.Printf("  %s  %s  %s <> %s\n", c.ID, c.Type, c.StorageA, c.StorageB)
		}
		return nil
	},
}

var conflictsResolveCmd = &cobra.Command{
	Use:   "resolve CONFLICT_ID",
	Short: "Resolve a conflict under a policy",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		policy, _ := cmd.Flags().GetString("policy")
		keep, _ := cmd.Flags().GetString("keep")
		notes, _ := cmd.Flags().GetString("notes")
		wait, _ := cmd.Flags().GetBool("wait")

		a, err := newApp(cmd, "ResolveConflict")
		if err != nil {
			return err
		}
		defer a.Close()

		out, err := a.ResolveConflict(cmd.Context(), args[0], policy, keep, notes, wait)
		if err != nil {
			return fmt.Errorf("resolve failed: %w", err)
		}

		fmt.Printf("Resolved %s (%s)\n", out.Conflict.ID, out.Conflict.ResolutionNotes)
		if out.Duplicate != nil {
			fmt.Printf("Duplicate file: %s  %s\n", out.Duplicate.ID, out.Duplicate.Filename)
		}
		for _, job := range out.Jobs {
			printJobLine(job)
		}
		return nil
	},
}

// serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run pending sync jobs and serve health and metrics",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(cmd, "Serve")
		if err != nil {
			return err
		}
		defer a.Close()

		return a.Serve(ctx)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Log debug output")

	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// db subcommands
	dbCmd.AddCommand(dbMigrateCmd)
	dbCmd.AddCommand(dbStatusCmd)
	dbCmd.AddCommand(dbBackupCmd)

	// backend subcommands
	backendCmd.AddCommand(backendCheckCmd)
	backendCmd.AddCommand(backendTokenCmd)
	backendTokenCmd.AddCommand(backendTokenImportCmd)

	// upload and sync
	uploadCmd.Flags().StringSlice("to", nil, "Remote backends to sync to (default: all)")
	uploadCmd.Flags().Bool("wait", false, "Run the sync job before returning")
	syncCmd.Flags().StringSlice("to", nil, "Remote backends to sync to (default: all)")
	syncCmd.Flags().Bool("wait", false, "Run the sync job before returning")

	// job subcommands
	jobCmd.AddCommand(jobStatusCmd)
	jobStatusCmd.Flags().Bool("json", false, "Print the status as JSON")

	// files subcommands
	filesCmd.AddCommand(filesListCmd)
	filesCmd.AddCommand(filesShowCmd)
	filesCmd.AddCommand(filesDeleteCmd)
	filesListCmd.Flags().String("status", "", "Filter by overall status")
	filesListCmd.Flags().IntP("limit", "n", 100, "Maximum number of files to show")
	filesListCmd.Flags().Int("offset", 0, "Number of files to skip")
	filesDeleteCmd.Flags().Bool("keep-remote", false, "Leave remote copies in place")

	// conflicts subcommands
	conflictsCmd.AddCommand(conflictsListCmd)
	conflictsCmd.AddCommand(conflictsShowCmd)
	conflictsCmd.AddCommand(conflictsDetectCmd)
	conflictsCmd.AddCommand(conflictsResolveCmd)
	conflictsListCmd.Flags().String("resolved", "", "Filter by resolution state (true or false)")
	conflictsListCmd.Flags().IntP("limit", "n", 100, "Maximum number of conflicts to show")
	conflictsListCmd.Flags().Int("offset", 0, "Number of conflicts to skip")
	conflictsDetectCmd.Flags().Bool("refresh", false, "Query backends for their current state first")
	conflictsResolveCmd.Flags().String("policy", "", "Resolution policy: last-write, keep-both or manual")
	conflictsResolveCmd.Flags().String("keep", "", "Backend whose copy stays with the original file (keep-both)")
	conflictsResolveCmd.Flags().String("notes", "", "Resolution notes (manual)")
	conflictsResolveCmd.Flags().Bool("wait", false, "Run resync jobs before returning")
	_ = conflictsResolveCmd.MarkFlagRequired("policy")

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(backendCmd)
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(jobCmd)
	rootCmd.AddCommand(filesCmd)
	rootCmd.AddCommand(conflictsCmd)
	rootCmd.AddCommand(serveCmd)
}
