// Package health probes the trading service after a restore: a service
// manager liveness check plus one bounded HTTP request against the local
// health endpoint. Both signals are advisory: a failed probe changes the
// reported status but never triggers a second rollback.
package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Probe issues a single GET against url and requires a 2xx status and a body
// containing marker. Connection failures and non-2xx responses both count as
// unhealthy. An empty marker accepts any 2xx body.
func Probe(ctx context.Context, url, marker string, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health endpoint unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("health endpoint returned %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("read health response: %w", err)
	}
	if marker != "" && !strings.Contains(string(body), marker) {
		return fmt.Errorf("health response missing %q marker", marker)
	}
	return nil
}
