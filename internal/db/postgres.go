package db

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"time"

	"github.com/calder-ops/tradevault/internal/config"
	"github.com/calder-ops/tradevault/internal/util"
)

// Postgres drives the PostgreSQL client tools for dump and restore.
type Postgres struct {
	allowMissingTools bool
}

func NewPostgres(allowMissingTools bool) *Postgres {
	return &Postgres{allowMissingTools: allowMissingTools}
}

func (p *Postgres) Name() string { return "postgres" }

// Validate checks tool availability and database reachability.
func (p *Postgres) Validate(ctx context.Context, cfg config.DatabaseConfig) error {
	if !p.allowMissingTools {
		for _, tool := range []string{"pg_dump", "pg_restore", "psql"} {
			if err := util.RequireBinary(tool); err != nil {
				return err
			}
		}
	}
	if err := util.RequireBinary("pg_isready"); err != nil {
		return nil
	}
	cmd := exec.CommandContext(ctx, "pg_isready",
		"-h", cfg.Host,
		"-p", portOrDefault(cfg.Port, 5432),
		"-U", cfg.Username,
		"-d", cfg.Database)
	cmd.Env = util.MergeEnv(buildEnv(cfg))
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("database not reachable: %w", err)
	}
	return nil
}

// Dump exports the database to destPath in the requested format and writes
// the descriptor sidecar. A non-zero exit from pg_dump is a hard failure
// with no retry; re-running against a possibly-still-writing source risks
// an inconsistent dump, so the caller decides how to proceed.
func (p *Postgres) Dump(ctx context.Context, cfg config.DatabaseConfig, format Format, destPath string) (*Descriptor, error) {
	if !p.allowMissingTools {
		if err := util.RequireBinary("pg_dump"); err != nil {
			return nil, err
		}
	}

	args := []string{"--no-owner", "--no-privileges"}
	switch format {
	case FormatCustom:
		args = append(args, "--format=custom", "--compress=9")
	case FormatDirectory:
		args = append(args, "--format=directory", "--compress=9")
	case FormatPlain:
		// --clean --if-exists keeps plain restores idempotent.
		args = append(args, "--format=plain", "--clean", "--if-exists")
	default:
		return nil, fmt.Errorf("unsupported dump format: %s", format)
	}
	args = append(args, "--file", destPath, cfg.Database)

	if err := util.Run(ctx, "pg_dump", args, buildEnv(cfg)); err != nil {
		return nil, fmt.Errorf("pg_dump failed: %w", err)
	}

	sum, size, err := checksumPath(destPath)
	if err != nil {
		return nil, fmt.Errorf("checksum dump: %w", err)
	}
	desc := &Descriptor{
		Format:    format,
		DumpPath:  destPath,
		Checksum:  sum,
		SizeBytes: size,
		Database:  cfg.Database,
		CreatedAt: time.Now().UTC(),
	}
	if err := desc.WriteMeta(); err != nil {
		return nil, fmt.Errorf("write dump descriptor: %w", err)
	}
	return desc, nil
}

// Restore replays a dump. Custom and directory formats run pg_restore with
// clean/if-exists semantics so repeated restores are idempotent; plain
// scripts are replayed through psql as-is.
func (p *Postgres) Restore(ctx context.Context, cfg config.DatabaseConfig, format Format, dumpPath string) error {
	switch format {
	case FormatCustom, FormatDirectory:
		if !p.allowMissingTools {
			if err := util.RequireBinary("pg_restore"); err != nil {
				return err
			}
		}
		args := []string{
			"--dbname", cfg.Database,
			"--clean", "--if-exists",
			"--no-owner", "--no-privileges",
			dumpPath,
		}
		if err := util.Run(ctx, "pg_restore", args, buildEnv(cfg)); err != nil {
			return fmt.Errorf("pg_restore failed: %w", err)
		}
		return nil
	case FormatPlain:
		if !p.allowMissingTools {
			if err := util.RequireBinary("psql"); err != nil {
				return err
			}
		}
		args := []string{"--dbname", cfg.Database, "--file", dumpPath}
		if err := util.Run(ctx, "psql", args, buildEnv(cfg)); err != nil {
			return fmt.Errorf("psql restore failed: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unsupported dump format: %s", format)
	}
}

// DumpFileName returns the dump destination name for a format.
func DumpFileName(prefix string, format Format, when time.Time) string {
	stamp := when.UTC().Format(util.TimestampFormat)
	switch format {
	case FormatDirectory:
		return fmt.Sprintf("%s_db_%s.pgdir", prefix, stamp)
	case FormatPlain:
		return fmt.Sprintf("%s_db_%s.sql", prefix, stamp)
	default:
		return fmt.Sprintf("%s_db_%s.dump", prefix, stamp)
	}
}

func buildEnv(cfg config.DatabaseConfig) []string {
	env := []string{
		"PGHOST=" + cfg.Host,
		"PGPORT=" + portOrDefault(cfg.Port, 5432),
		"PGUSER=" + cfg.Username,
		"PGDATABASE=" + cfg.Database,
	}
	if cfg.Password != "" {
		env = append(env, "PGPASSWORD="+cfg.Password)
	}
	if cfg.SSLMode != "" {
		env = append(env, "PGSSLMODE="+cfg.SSLMode)
	}
	if cfg.ConnectionTimeout > 0 {
		env = append(env, "PGCONNECT_TIMEOUT="+strconv.Itoa(int(cfg.ConnectionTimeout.Seconds())))
	}
	return env
}

func portOrDefault(port int, def int) string {
	if port == 0 {
		return strconv.Itoa(def)
	}
	return strconv.Itoa(port)
}
