package supervise

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// awaitHealthy polls the target's liveness endpoint until it answers
// with a 2xx or the gate times out.
func (s *Supervisor) awaitHealthy(ctx context.Context, url string) error {
	ticker := time.NewTicker(s.probeInterval)
	defer ticker.Stop()

	timeout := time.NewTimer(s.healthTimeout)
	defer timeout.Stop()

	// Probe immediately instead of waiting out the first tick
	lastErr := s.probe(ctx, url)
	if lastErr == nil {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timeout.C:
			return fmt.Errorf("no healthy answer from %s within %s: %w", url, s.healthTimeout, lastErr)
		case <-ticker.C:
			if lastErr = s.probe(ctx, url); lastErr == nil {
				return nil
			}
		}
	}
}

func (s *Supervisor) probe(ctx context.Context, url string) error {
	// Bound each probe by the interval so slow answers never pile up
	probeCtx, cancel := context.WithTimeout(ctx, s.probeInterval)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return fmt.Errorf("unhealthy status: %d", resp.StatusCode)
}
