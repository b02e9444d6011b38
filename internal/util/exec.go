package util

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// RequireBinary verifies the binary is on PATH.
func RequireBinary(name string) error {
	_, err := exec.LookPath(name)
	if err != nil {
		return fmt.Errorf("required binary not found: %s", name)
	}
	return nil
}

// MergeEnv merges new env entries into the current process environment.
func MergeEnv(extra []string) []string {
	env := append([]string{}, os.Environ()...)
	env = append(env, extra...)
	return env
}

// Run executes a subprocess to completion, capturing stderr. On a non-zero
// exit the captured stderr tail is folded into the returned error so the
// failure reason from tools like pg_dump or systemctl is not lost.
func Run(ctx context.Context, name string, args []string, extraEnv []string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = MergeEnv(extraEnv)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > 512 {
			msg = msg[len(msg)-512:]
		}
		if msg != "" {
			return fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}
