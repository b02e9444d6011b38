package config

import "time"

// Config is the root configuration schema.
type Config struct {
	Global        GlobalConfig        `mapstructure:"global"`
	Service       ServiceConfig       `mapstructure:"service"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Backup        BackupConfig        `mapstructure:"backup"`
	Restore       RestoreConfig       `mapstructure:"restore"`
	Retention     RetentionConfig     `mapstructure:"retention"`
	Health        HealthConfig        `mapstructure:"health"`
	Offsite       OffsiteConfig       `mapstructure:"offsite"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Schedule      ScheduleConfig      `mapstructure:"schedule"`
}

type GlobalConfig struct {
	LogLevel          string        `mapstructure:"log_level"`
	LogFormat         string        `mapstructure:"log_format"` // json or console
	LockFile          string        `mapstructure:"lock_file"`
	OperationTimeout  time.Duration `mapstructure:"operation_timeout"`
	ConfigPassphrase  string        `mapstructure:"config_passphrase"` // optional; may come from env
	AllowMissingTools bool          `mapstructure:"allow_missing_tools"`
}

// ServiceConfig names the trading service unit managed around backup and
// restore operations. Stop/start is best effort; the backup targets durable
// files and an external database, not in-memory state.
type ServiceConfig struct {
	Name             string        `mapstructure:"name"`
	StopDuringBackup bool          `mapstructure:"stop_during_backup"`
	ManagerTimeout   time.Duration `mapstructure:"manager_timeout"`
}

type DatabaseConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	Username          string        `mapstructure:"username"`
	Password          string        `mapstructure:"password"`
	Database          string        `mapstructure:"database"`
	SSLMode           string        `mapstructure:"ssl_mode"`
	ConnectionTimeout time.Duration `mapstructure:"connection_timeout"`
	// ToolTimeout bounds each pg_dump/pg_restore invocation; 0 = unbounded.
	ToolTimeout time.Duration `mapstructure:"tool_timeout"`
	DumpFormat  string        `mapstructure:"dump_format"` // custom, directory, plain
}

type BackupConfig struct {
	Directory        string        `mapstructure:"directory"`
	Prefix           string        `mapstructure:"prefix"`
	Sources          []string      `mapstructure:"sources"`
	Excludes         []string      `mapstructure:"excludes"`
	Compression      string        `mapstructure:"compression"` // none, gzip, zstd
	CompressionLevel int           `mapstructure:"compression_level"`
	DatabaseOnly     bool          `mapstructure:"database_only"`
	Encryption       bool          `mapstructure:"encryption"`
	Passphrase       string        `mapstructure:"passphrase"`
	Verify           bool          `mapstructure:"verify"`
	MinFreeBytes     uint64        `mapstructure:"min_free_bytes"`
	RetryCount       int           `mapstructure:"retry_count"`
	RetryBackoff     time.Duration `mapstructure:"retry_backoff"`
}

type RestoreConfig struct {
	// DeployDir is the live deployment directory swapped aside before
	// restored content takes its place.
	DeployDir string `mapstructure:"deploy_dir"`
	// SnapshotDirs are copied into the emergency snapshot before any
	// destructive step. Defaults to DeployDir when empty.
	SnapshotDirs []string `mapstructure:"snapshot_dirs"`
	FilesOnly    bool     `mapstructure:"files_only"`
	Force        bool     `mapstructure:"force"`
	DryRun       bool     `mapstructure:"dry_run"`
}

type RetentionConfig struct {
	MaxAgeDays int `mapstructure:"max_age_days"`
	// KeepLast is a floor on the most recent artifacts kept regardless of
	// age. 0 disables the floor (age alone decides).
	KeepLast int      `mapstructure:"keep_last"`
	Patterns []string `mapstructure:"patterns"`
}

type HealthConfig struct {
	URL     string        `mapstructure:"url"`
	Marker  string        `mapstructure:"marker"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type OffsiteConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Endpoint       string `mapstructure:"endpoint"`
	Region         string `mapstructure:"region"`
	Bucket         string `mapstructure:"bucket"`
	AccessKey      string `mapstructure:"access_key"`
	SecretKey      string `mapstructure:"secret_key"`
	SessionToken   string `mapstructure:"session_token"`
	UseSSL         bool   `mapstructure:"use_ssl"`
	ForcePathStyle bool   `mapstructure:"force_path_style"`
	Prefix         string `mapstructure:"prefix"`
}

type NotificationsConfig struct {
	Webhooks []WebhookConfig `mapstructure:"webhooks"`
}

type WebhookConfig struct {
	Name    string            `mapstructure:"name"`
	URL     string            `mapstructure:"url"`
	Headers map[string]string `mapstructure:"headers"`
}

type ScheduleConfig struct {
	WindowStart string `mapstructure:"window_start"` // HH:MM local time
	WindowEnd   string `mapstructure:"window_end"`
	Timezone    string `mapstructure:"timezone"`
}
