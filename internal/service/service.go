// Package service wraps the host's service manager for stopping and starting
// the trading service around backup and restore operations. Failures here
// are surfaced as warnings by callers: a backup of durable files stays valid
// even when the service cannot be cleanly stopped.
package service

import (
	"context"
	"errors"
	"os/exec"
	"time"

	"github.com/calder-ops/tradevault/internal/util"
)

// Manager controls a named service. Implementations are injected into the
// orchestrators so tests can substitute a stub.
type Manager interface {
	Stop(ctx context.Context, name string) error
	Start(ctx context.Context, name string) error
	IsActive(ctx context.Context, name string) (bool, error)
}

// Systemd drives systemctl as a subprocess; only exit codes matter.
type Systemd struct {
	// Timeout bounds each systemctl invocation. Zero means no bound.
	Timeout time.Duration
}

func NewSystemd(timeout time.Duration) *Systemd {
	return &Systemd{Timeout: timeout}
}

func (s *Systemd) Stop(ctx context.Context, name string) error {
	return s.run(ctx, "stop", name)
}

func (s *Systemd) Start(ctx context.Context, name string) error {
	return s.run(ctx, "start", name)
}

// IsActive reports service liveness. systemctl exits non-zero for inactive
// units, which is a state, not an error.
func (s *Systemd) IsActive(ctx context.Context, name string) (bool, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	err := exec.CommandContext(ctx, "systemctl", "is-active", "--quiet", name).Run()
	if err == nil {
		return true, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return false, nil
	}
	return false, err
}

func (s *Systemd) run(ctx context.Context, verb, name string) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return util.Run(ctx, "systemctl", []string{verb, name}, nil)
}

func (s *Systemd) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.Timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.Timeout)
}
