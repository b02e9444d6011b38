package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/calder-ops/tradevault/internal/app"
	"github.com/calder-ops/tradevault/internal/config"
	"github.com/calder-ops/tradevault/internal/db"
	"github.com/calder-ops/tradevault/internal/logging"
	"github.com/calder-ops/tradevault/internal/notify"
	"github.com/calder-ops/tradevault/internal/offsite"
	"github.com/calder-ops/tradevault/internal/service"
	"github.com/calder-ops/tradevault/internal/util"
	"github.com/calder-ops/tradevault/internal/version"
)

type rootFlags struct {
	ConfigPath string
	LogLevel   string
	LogFormat  string
}

type overrideFlags struct {
	BackupDir  string
	Prefix     string
	Sources    []string
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	Service    string
}

func main() {
	root := &rootFlags{}
	overrides := &overrideFlags{}

	rootCmd := &cobra.Command{
		Use:   "tvault",
		Short: "Backup, verification, and disaster recovery for the trading service",
	}

	rootCmd.PersistentFlags().StringVar(&root.ConfigPath, "config", "", "Path to config file (yaml/toml/json or .enc)")
	rootCmd.PersistentFlags().StringVar(&root.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&root.LogFormat, "log-format", "", "Log format (json, console)")

	rootCmd.PersistentFlags().StringVar(&overrides.BackupDir, "backup-dir", "", "Backup directory")
	rootCmd.PersistentFlags().StringVar(&overrides.Prefix, "prefix", "", "Artifact name prefix")
	rootCmd.PersistentFlags().StringSliceVar(&overrides.Sources, "source", nil, "File or directory to back up (repeatable)")
	rootCmd.PersistentFlags().StringVar(&overrides.DBHost, "db-host", "", "Database host")
	rootCmd.PersistentFlags().IntVar(&overrides.DBPort, "db-port", 0, "Database port")
	rootCmd.PersistentFlags().StringVar(&overrides.DBUser, "db-user", "", "Database username")
	rootCmd.PersistentFlags().StringVar(&overrides.DBPassword, "db-password", "", "Database password")
	rootCmd.PersistentFlags().StringVar(&overrides.DBName, "db-name", "", "Database name")
	rootCmd.PersistentFlags().StringVar(&overrides.Service, "service", "", "Service unit managed around operations")

	rootCmd.AddCommand(newBackupCmd(root, overrides))
	rootCmd.AddCommand(newRestoreCmd(root, overrides))
	rootCmd.AddCommand(newVerifyCmd(root, overrides))
	rootCmd.AddCommand(newListCmd(root, overrides))
	rootCmd.AddCommand(newCleanupCmd(root, overrides))
	rootCmd.AddCommand(newHealthCmd(root, overrides))
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newBackupCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	var databaseOnly bool
	var encrypt bool
	var noVerify bool
	var compression string
	var retry int
	var retryBackoff time.Duration

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Create a backup of the trading service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root, overrides)
			if err != nil {
				return err
			}
			if databaseOnly {
				cfg.Backup.DatabaseOnly = true
			}
			if encrypt {
				cfg.Backup.Encryption = true
			}
			if noVerify {
				cfg.Backup.Verify = false
			}
			if compression != "" {
				cfg.Backup.Compression = strings.ToLower(compression)
			}
			if retry > 0 {
				cfg.Backup.RetryCount = retry
			}
			if retryBackoff > 0 {
				cfg.Backup.RetryBackoff = retryBackoff
			}

			a, err := buildApp(cfg)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext(cfg)
			defer cancel()

			var res *app.BackupResult
			err = util.Retry(ctx, cfg.Backup.RetryCount, cfg.Backup.RetryBackoff, func() error {
				var berr error
				res, berr = a.Backup(ctx)
				return berr
			})
			if res != nil {
				a.PrintBackupSummary(res)
			}
			if err != nil {
				return err
			}
			if res.Status == app.StatusDegraded {
				os.Exit(2)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&databaseOnly, "database-only", false, "Back up only the database")
	cmd.Flags().BoolVar(&encrypt, "encrypt", false, "Encrypt the artifact")
	cmd.Flags().BoolVar(&noVerify, "no-verify", false, "Skip post-write verification")
	cmd.Flags().StringVar(&compression, "compression", "", "Compression (none/gzip/zstd)")
	cmd.Flags().IntVar(&retry, "retry", 0, "Retry attempts for the whole backup")
	cmd.Flags().DurationVar(&retryBackoff, "retry-backoff", 0, "Initial backoff between retries")
	return cmd
}

func newRestoreCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	var target string
	var dryRun bool
	var force bool
	var filesOnly bool

	cmd := &cobra.Command{
		Use:   "restore [artifact]",
		Short: "Restore from a backup artifact (default: latest)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				target = args[0]
			}
			cfg, err := loadConfig(root, overrides)
			if err != nil {
				return err
			}
			if dryRun {
				cfg.Restore.DryRun = true
			}
			if force {
				cfg.Restore.Force = true
			}
			if filesOnly {
				cfg.Restore.FilesOnly = true
			}

			a, err := buildApp(cfg)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext(cfg)
			defer cancel()

			rep, err := a.Restore(ctx, target)
			if rep != nil {
				a.PrintRestoreSummary(rep)
			}
			if err != nil {
				return err
			}
			if rep.Status == app.StatusDegraded {
				os.Exit(2)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Verify the artifact and report, change nothing")
	cmd.Flags().BoolVar(&force, "force", false, "Skip the interactive confirmation")
	cmd.Flags().BoolVar(&filesOnly, "files-only", false, "Restore files only, skip the database")
	return cmd
}

func newVerifyCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "verify [artifact]",
		Short: "Verify a backup artifact without restoring it (default: latest)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := ""
			if len(args) == 1 {
				target = args[0]
			}
			cfg, err := loadConfig(root, overrides)
			if err != nil {
				return err
			}
			a, err := buildApp(cfg)
			if err != nil {
				return err
			}
			res, err := a.Verify(target)
			if res != nil {
				a.PrintBackupSummary(res)
			}
			return err
		},
	}
}

func newListCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List backups in the backup directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root, overrides)
			if err != nil {
				return err
			}
			a, err := buildApp(cfg)
			if err != nil {
				return err
			}
			entries, err := a.List()
			if err != nil {
				return err
			}
			a.PrintList(entries)
			return nil
		},
	}
}

func newCleanupCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Apply the retention policy now",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root, overrides)
			if err != nil {
				return err
			}
			a, err := buildApp(cfg)
			if err != nil {
				return err
			}
			res, err := a.Cleanup(dryRun)
			if err != nil {
				return err
			}
			verb := "deleted"
			if dryRun {
				verb = "would delete"
			}
			fmt.Printf("%s %d artifact(s), %d byte(s)\n", verb, res.Deleted, res.FreedBytes)
			for _, e := range res.Errors {
				fmt.Fprintln(os.Stderr, "warning:", e)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report what would be deleted")
	return cmd
}

func newHealthCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Probe the trading service health endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root, overrides)
			if err != nil {
				return err
			}
			a, err := buildApp(cfg)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext(cfg)
			defer cancel()
			if err := a.Health(ctx); err != nil {
				return err
			}
			fmt.Println("healthy")
			return nil
		},
	}
}

func newConfigCmd() *cobra.Command {
	var input string
	var output string
	var key string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Config utilities",
	}

	encrypt := &cobra.Command{
		Use:   "encrypt",
		Short: "Encrypt a config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if input == "" || output == "" || key == "" {
				return fmt.Errorf("--input, --output, and --key are required")
			}
			return config.EncryptConfigFile(input, output, key)
		},
	}
	encrypt.Flags().StringVar(&input, "input", "", "Input config file")
	encrypt.Flags().StringVar(&output, "output", "", "Output encrypted config file")
	encrypt.Flags().StringVar(&key, "key", "", "Encryption key (base64 or hex)")

	cmd.AddCommand(encrypt)
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("tvault %s (commit %s, built %s)\n", version.Version, version.Commit, version.Date)
		},
	}
}

func buildApp(cfg *config.Config) (*app.App, error) {
	logger := logging.Configure(cfg.Global.LogLevel, cfg.Global.LogFormat)

	rep, err := offsite.New(cfg.Offsite)
	if err != nil {
		return nil, err
	}

	var svc service.Manager
	if cfg.Service.Name != "" {
		svc = service.NewSystemd(cfg.Service.ManagerTimeout)
	}

	a := app.New(cfg,
		db.NewPostgres(cfg.Global.AllowMissingTools),
		svc,
		logger,
		notify.FromConfig(cfg.Notifications),
		rep,
	)

	if term.IsTerminal(int(os.Stdin.Fd())) {
		a.Confirm = confirmPrompt
		a.Passphrase = passphrasePrompt
	}
	return a, nil
}

func signalContext(cfg *config.Config) (context.Context, context.CancelFunc) {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	if cfg.Global.OperationTimeout > 0 {
		tctx, tcancel := context.WithTimeout(ctx, cfg.Global.OperationTimeout)
		return tctx, func() { tcancel(); cancel() }
	}
	return ctx, cancel
}

func confirmPrompt(prompt string) (bool, error) {
	fmt.Fprintf(os.Stderr, "%s [y/N]: ", prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false, err
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}

func passphrasePrompt() (string, error) {
	fmt.Fprint(os.Stderr, "Passphrase: ")
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	if len(raw) == 0 {
		return "", fmt.Errorf("empty passphrase")
	}
	return string(raw), nil
}

func loadConfig(root *rootFlags, overrides *overrideFlags) (*config.Config, error) {
	cfg, err := config.Load(root.ConfigPath)
	if err != nil {
		return nil, err
	}
	applyOverrides(cfg, root, overrides)
	return cfg, nil
}

func applyOverrides(cfg *config.Config, root *rootFlags, overrides *overrideFlags) {
	if root.LogLevel != "" {
		cfg.Global.LogLevel = root.LogLevel
	}
	if root.LogFormat != "" {
		cfg.Global.LogFormat = root.LogFormat
	}

	if overrides.BackupDir != "" {
		cfg.Backup.Directory = overrides.BackupDir
	}
	if overrides.Prefix != "" {
		cfg.Backup.Prefix = overrides.Prefix
	}
	if len(overrides.Sources) > 0 {
		cfg.Backup.Sources = overrides.Sources
	}
	if overrides.DBHost != "" {
		cfg.Database.Host = overrides.DBHost
		cfg.Database.Enabled = true
	}
	if overrides.DBPort != 0 {
		cfg.Database.Port = overrides.DBPort
	}
	if overrides.DBUser != "" {
		cfg.Database.Username = overrides.DBUser
	}
	if overrides.DBPassword != "" {
		cfg.Database.Password = overrides.DBPassword
	}
	if overrides.DBName != "" {
		cfg.Database.Database = overrides.DBName
		cfg.Database.Enabled = true
	}
	if overrides.Service != "" {
		cfg.Service.Name = overrides.Service
	}

	cfg.Backup.Compression = strings.ToLower(cfg.Backup.Compression)
}
