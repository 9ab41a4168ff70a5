// Package deploy manages otter's runtime services: the NATS server
// backing persistence (embedded or external), the container stack for
// facility deployments, and the startup health gate.
package deploy

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/als-computing/otter/config"
)

// readyTimeout bounds the embedded server startup wait.
const readyTimeout = 5 * time.Second

// NATS is a running NATS connection, possibly backed by an in-process
// server.
type NATS struct {
	conn     *nats.Conn
	js       jetstream.JetStream
	embedded *server.Server
}

// StartNATS connects to the configured NATS server, starting an
// embedded one when the config asks for it or names no URL.
func StartNATS(cfg config.NATSConfig, logger *slog.Logger) (*NATS, error) {
	if logger == nil {
		logger = slog.Default()
	}

	n := &NATS{}

	if cfg.URL != "" && !cfg.Embedded {
		logger.Info("Connecting to NATS", "url", cfg.URL)
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = readyTimeout
		}
		conn, err := nats.Connect(cfg.URL, nats.Timeout(timeout))
		if err != nil {
			return nil, fmt.Errorf("connect to NATS: %w", err)
		}
		n.conn = conn
	} else {
		logger.Info("Starting embedded NATS server")
		opts := &server.Options{
			Port:      -1, // Random available port
			JetStream: true,
			NoLog:     true,
			NoSigs:    true,
		}

		ns, err := server.NewServer(opts)
		if err != nil {
			return nil, fmt.Errorf("create embedded NATS server: %w", err)
		}

		go ns.Start()

		if !ns.ReadyForConnections(readyTimeout) {
			ns.Shutdown()
			return nil, fmt.Errorf("embedded NATS server failed to start")
		}
		n.embedded = ns

		conn, err := nats.Connect(ns.ClientURL())
		if err != nil {
			ns.Shutdown()
			return nil, fmt.Errorf("connect to embedded NATS: %w", err)
		}
		n.conn = conn
	}

	js, err := jetstream.New(n.conn)
	if err != nil {
		n.Shutdown()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}
	n.js = js

	return n, nil
}

// JetStream returns the JetStream context.
func (n *NATS) JetStream() jetstream.JetStream { return n.js }

// ClientURL returns the URL clients connect to.
func (n *NATS) ClientURL() string {
	if n.embedded != nil {
		return n.embedded.ClientURL()
	}
	if n.conn != nil {
		return n.conn.ConnectedUrl()
	}
	return ""
}

// Embedded reports whether an in-process server backs the connection.
func (n *NATS) Embedded() bool { return n.embedded != nil }

// Shutdown drains the connection and stops the embedded server.
func (n *NATS) Shutdown() {
	if n.conn != nil {
		_ = n.conn.Drain()
		n.conn.Close()
	}
	if n.embedded != nil {
		n.embedded.Shutdown()
		n.embedded.WaitForShutdown()
	}
}
