package deploy

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/als-computing/otter/config"
)

// commandRunner abstracts process execution so tests can fake the
// docker binary.
type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.Bytes(), err
}

// Compose drives a docker compose stack for facility deployments.
type Compose struct {
	file   string
	run    commandRunner
	logger *slog.Logger
}

// NewCompose returns a Compose bound to the given compose file.
func NewCompose(file string, logger *slog.Logger) *Compose {
	if logger == nil {
		logger = slog.Default()
	}
	return &Compose{file: file, run: runCommand, logger: logger}
}

func (c *Compose) compose(ctx context.Context, args ...string) ([]byte, error) {
	full := append([]string{"compose", "-f", c.file}, args...)
	out, err := c.run(ctx, "docker", full...)
	if err != nil {
		return out, fmt.Errorf("docker compose %s: %w: %s", args[0], err, strings.TrimSpace(string(out)))
	}
	return out, nil
}

// Up starts the stack in the background.
func (c *Compose) Up(ctx context.Context) error {
	c.logger.Info("Starting compose stack", "file", c.file)
	_, err := c.compose(ctx, "up", "-d", "--wait")
	return err
}

// Down stops the stack and removes its containers.
func (c *Compose) Down(ctx context.Context) error {
	c.logger.Info("Stopping compose stack", "file", c.file)
	_, err := c.compose(ctx, "down")
	return err
}

// Status returns the compose service listing.
func (c *Compose) Status(ctx context.Context) (string, error) {
	out, err := c.compose(ctx, "ps")
	return string(out), err
}

// WaitForNATS polls the configured NATS URL until it accepts a
// connection or the timeout elapses.
func WaitForNATS(ctx context.Context, cfg config.NATSConfig, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = readyTimeout
	}
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return err
		}
		conn, err := nats.Connect(cfg.URL, nats.Timeout(time.Second))
		if err == nil {
			conn.Close()
			return nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
	return fmt.Errorf("NATS at %s not ready after %s: %w", cfg.URL, timeout, lastErr)
}
