// Package readiness implements the per-role health probes used by the
// deployment once a replica reports ready. Each role maps to a distinct
// check: the API server is probed over HTTP, the task workers through a
// broker ping, the scheduler through its pidfile, and the admin CLI is
// always healthy.
package readiness

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/redis/go-redis/v9"

	migrator "github.com/daybook/migrate-orchestrator"
)

// Check reports whether a replica of a given role is healthy.
type Check interface {
	Healthy(ctx context.Context) error
}

// Config carries the probe targets for every role. Only the fields for the
// selected role need to be set.
type Config struct {
	// LivenessURL is the app role's HTTP liveness endpoint.
	LivenessURL string

	// BrokerURL is the worker role's task broker address (redis URL).
	BrokerURL string

	// PIDFilePath is the scheduler role's recorded process-id file.
	PIDFilePath string
}

// ForRole returns the readiness check for the given role.
func ForRole(role migrator.Role, cfg Config) (Check, error) {
	switch role {
	case migrator.RoleApp:
		if cfg.LivenessURL == "" {
			return nil, fmt.Errorf("app role requires a liveness URL")
		}
		return NewHTTPCheck(cfg.LivenessURL), nil
	case migrator.RoleCeleryWorker:
		if cfg.BrokerURL == "" {
			return nil, fmt.Errorf("celery-worker role requires a broker URL")
		}
		return NewBrokerCheck(cfg.BrokerURL)
	case migrator.RoleCeleryBeat:
		if cfg.PIDFilePath == "" {
			return nil, fmt.Errorf("celery-beat role requires a pidfile path")
		}
		return &PIDFileCheck{Path: cfg.PIDFilePath}, nil
	case migrator.RoleAdminCLI:
		return NopCheck{}, nil
	default:
		return nil, fmt.Errorf("unknown role %q", role)
	}
}

// HTTPCheck probes a liveness endpoint and expects HTTP 200.
type HTTPCheck struct {
	URL    string
	Client *http.Client
}

// NewHTTPCheck creates an HTTPCheck using the default client.
func NewHTTPCheck(url string) *HTTPCheck {
	return &HTTPCheck{URL: url, Client: http.DefaultClient}
}

// Healthy implements Check.
func (c *HTTPCheck) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to build liveness request: %w", err)
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return fmt.Errorf("liveness probe failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("liveness probe returned status %d", resp.StatusCode)
	}
	return nil
}

// BrokerCheck pings the task broker and expects the literal pong reply.
type BrokerCheck struct {
	client *redis.Client
}

// NewBrokerCheck creates a BrokerCheck from a redis URL.
func NewBrokerCheck(brokerURL string) (*BrokerCheck, error) {
	opts, err := redis.ParseURL(brokerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid broker URL: %w", err)
	}
	return &BrokerCheck{client: redis.NewClient(opts)}, nil
}

// Healthy implements Check.
func (c *BrokerCheck) Healthy(ctx context.Context) error {
	reply, err := c.client.Ping(ctx).Result()
	if err != nil {
		return fmt.Errorf("broker ping failed: %w", err)
	}
	if !strings.EqualFold(reply, "pong") {
		return fmt.Errorf("broker ping returned %q, want pong", reply)
	}
	return nil
}

// Close releases the broker connection.
func (c *BrokerCheck) Close() error {
	return c.client.Close()
}

// PIDFileCheck verifies that a recorded process-id file corresponds to a
// live process.
type PIDFileCheck struct {
	Path string
}

// Healthy implements Check.
func (c *PIDFileCheck) Healthy(ctx context.Context) error {
	data, err := os.ReadFile(c.Path)
	if err != nil {
		return fmt.Errorf("failed to read pidfile: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return fmt.Errorf("pidfile %s does not contain a pid: %w", c.Path, err)
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("process %d not found: %w", pid, err)
	}
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		return fmt.Errorf("process %d is not alive: %w", pid, err)
	}
	return nil
}

// NopCheck is always healthy. The admin CLI never blocks startup of other
// replicas and has no probe target.
type NopCheck struct{}

// Healthy implements Check.
func (NopCheck) Healthy(ctx context.Context) error {
	return nil
}
