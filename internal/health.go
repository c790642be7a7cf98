package internal

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"
)

const defaultProbeTimeout = 5 * time.Second

// HealthProbe checks one dependency of the service.
type HealthProbe struct {
	Name  string
	Check func(ctx context.Context) error
}

type postgresPinger interface {
	Ping(ctx context.Context) error
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresProbe pings a Postgres pool and runs a trivial query.
func PostgresProbe(name string, pool postgresPinger) HealthProbe {
	return HealthProbe{Name: name, Check: func(ctx context.Context) error {
		if err := pool.Ping(ctx); err != nil {
			return fmt.Errorf("postgres ping failed: %w", err)
		}
		var v int
		if err := pool.QueryRow(ctx, "SELECT 1").Scan(&v); err != nil {
			return fmt.Errorf("postgres simple query failed: %w", err)
		}
		return nil
	}}
}

// S3Probe sends a best-effort HEAD request to an S3-compatible endpoint. It
// only proves the endpoint resolves and answers; auth errors are reported.
func S3Probe(endpoint string) HealthProbe {
	return HealthProbe{Name: "snapshot-s3", Check: func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, endpoint, nil)
		if err != nil {
			return fmt.Errorf("s3 health request build failed: %w", err)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return fmt.Errorf("s3 health request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 400 {
			return nil
		}
		if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized {
			return fmt.Errorf("s3 endpoint reachable but returned auth error: %d", resp.StatusCode)
		}
		return fmt.Errorf("s3 endpoint returned unexpected status: %d", resp.StatusCode)
	}}
}

// runProbe runs p under its own timeout.
func runProbe(ctx context.Context, p HealthProbe, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return p.Check(ctx)
}
