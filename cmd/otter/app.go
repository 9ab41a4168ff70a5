package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/als-computing/otter/agent"
	"github.com/als-computing/otter/app"
	"github.com/als-computing/otter/archive"
	"github.com/als-computing/otter/capability"
	"github.com/als-computing/otter/config"
	"github.com/als-computing/otter/deploy"
	"github.com/als-computing/otter/llm"
	"github.com/als-computing/otter/metrics"
	"github.com/als-computing/otter/model"
	"github.com/als-computing/otter/registry"
	"github.com/als-computing/otter/storage"
)

// App wires together the components behind the chat command.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	nats     *deploy.NATS
	archive  *archive.Archive
	registry *registry.Registry
	agent    *agent.Agent
	store    *storage.Store
	metrics  *metrics.Metrics

	session *storage.Session
	history []llm.Message

	cancelBackground context.CancelFunc
}

// NewApp creates a new application instance.
func NewApp(cfg *config.Config) *App {
	return &App{
		cfg:    cfg,
		logger: newLogger(cfg.Logging),
	}
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

// Start initializes and starts all components.
func (a *App) Start(ctx context.Context) error {
	slog.SetDefault(a.logger)

	// Start NATS (embedded or connect to external)
	n, err := deploy.StartNATS(a.cfg.NATS, a.logger)
	if err != nil {
		return fmt.Errorf("start NATS: %w", err)
	}
	a.nats = n

	// Archive data source
	a.archive = archive.New(a.cfg.Archive.Root,
		archive.WithLogger(a.logger),
		archive.WithQueryLimit(a.cfg.Archive.QueryLimit),
	)

	// Model registry: configured chains or defaults
	modelReg := model.NewDefaultRegistry()
	if len(a.cfg.Model.Capabilities) > 0 || len(a.cfg.Model.Endpoints) > 0 {
		modelReg = model.RegistryFromConfig(&a.cfg.Model)
	}
	model.InitGlobal(modelReg)

	if a.cfg.Metrics.Enabled {
		a.metrics = metrics.New()
	}

	// LLM client with call logging to JetStream
	clientOpts := []llm.ClientOption{llm.WithLogger(a.logger)}
	if a.metrics != nil {
		clientOpts = append(clientOpts, llm.WithCallObserver(a.metrics.ObserveLLMCall))
	}
	if callStore, err := llm.NewCallStore(ctx, n.JetStream()); err != nil {
		// Call logging is optional; the client works without it.
		a.logger.Warn("Failed to initialize LLM call store", "error", err)
	} else {
		clientOpts = append(clientOpts, llm.WithCallStore(callStore))
	}
	client := llm.NewClient(modelReg, clientOpts...)

	// Capability registry
	reg, err := registry.ExtendFrameworkRegistry(app.RegistryConfig(a.archive), capability.Dependencies{
		LLM:    client,
		Logger: a.logger,
	})
	if err != nil {
		return fmt.Errorf("build registry: %w", err)
	}
	registry.SetGlobal(reg)
	a.registry = reg

	// Health gate: sources that require it must pass before chat starts.
	if err := deploy.HealthGate(ctx, reg.HealthCheckRequired(), a.logger); err != nil {
		return err
	}

	// Session and context persistence
	store, err := storage.NewStore(ctx, n.JetStream(), reg)
	if err != nil {
		return fmt.Errorf("initialize storage: %w", err)
	}
	a.store = store

	backgroundCtx, cancel := context.WithCancel(context.Background())
	a.cancelBackground = cancel

	// Keep the archive index fresh while chatting
	if a.cfg.Archive.Watch {
		go func() {
			if err := a.archive.Watch(backgroundCtx); err != nil && backgroundCtx.Err() == nil {
				a.logger.Warn("Archive watcher stopped", "error", err)
			}
		}()
	}

	// Metrics listener
	if a.metrics != nil {
		a.agent = agent.New(reg, client, a.logger, agent.WithStepObserver(a.metrics))
		if count, err := a.archive.RunCount(ctx); err == nil {
			a.metrics.ArchiveRuns.Set(float64(count))
		}
		server := metrics.NewServer(a.cfg.Metrics.Addr, a.metrics, reg, a.logger)
		go func() {
			if err := server.Run(backgroundCtx); err != nil {
				a.logger.Warn("Metrics server stopped", "error", err)
			}
		}()
	} else {
		a.agent = agent.New(reg, client, a.logger)
	}

	fmt.Println("✓ Components initialized")
	return nil
}

// Shutdown gracefully stops all components.
func (a *App) Shutdown() {
	fmt.Println("\nShutting down...")

	if a.cancelBackground != nil {
		a.cancelBackground()
	}
	if a.nats != nil {
		a.nats.Shutdown()
	}

	fmt.Println("Goodbye!")
}

// RunREPL runs the interactive chat loop.
func (a *App) RunREPL(ctx context.Context) error {
	session, err := a.store.CreateSession(ctx, "")
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	a.session = session
	a.logger.Debug("Session created", "session_id", session.ID)

	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print("otter> ")

		if !scanner.Scan() {
			// EOF (Ctrl+D)
			return nil
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		if input == "quit" || input == "exit" {
			return nil
		}

		if strings.HasPrefix(input, "/") {
			a.handleCommand(ctx, input)
			continue
		}

		if err := a.handleMessage(ctx, input); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		fmt.Println()
	}
}

// handleMessage runs one chat turn through the agent and persists it.
func (a *App) handleMessage(ctx context.Context, input string) error {
	streamer := capability.StreamFunc(func(message string) {
		fmt.Printf("  %s\n", message)
	})

	result, err := a.agent.HandleMessage(ctx, input, a.history, streamer)
	if err != nil {
		if a.metrics != nil {
			a.metrics.RecordMessage("error")
		}
		return err
	}
	if a.metrics != nil {
		a.metrics.RecordMessage("success")
	}

	fmt.Println(result.Response)

	a.history = append(a.history,
		llm.Message{Role: "user", Content: input},
		llm.Message{Role: "assistant", Content: result.Response},
	)
	if limit := a.cfg.Chat.HistoryLimit; limit > 0 && len(a.history) > limit*2 {
		a.history = a.history[len(a.history)-limit*2:]
	}

	// Persistence failures should not break the conversation.
	now := time.Now().UTC()
	if err := a.store.AppendMessages(ctx, a.session.ID,
		storage.ChatMessage{Role: "user", Content: input, At: now},
		storage.ChatMessage{Role: "assistant", Content: result.Response, At: now},
	); err != nil {
		a.logger.Warn("Failed to persist chat messages", "error", err)
	}
	if result.Store != nil && result.Store.Len() > 0 {
		if err := a.store.SaveContexts(ctx, a.session.ID, result.Store); err != nil {
			a.logger.Warn("Failed to persist contexts", "error", err)
		}
	}

	return nil
}

func (a *App) handleCommand(ctx context.Context, input string) {
	parts := strings.Fields(input)
	if len(parts) == 0 {
		return
	}

	cmd := parts[0]
	switch cmd {
	case "/help":
		fmt.Println("Available commands:")
		fmt.Println("  /help         - Show this help")
		fmt.Println("  /status       - Show data source health")
		fmt.Println("  /capabilities - List registered capabilities")
		fmt.Println("  /contexts     - Show contexts gathered this session")
		fmt.Println("  /config       - Show current configuration")
		fmt.Println("  quit/exit     - Exit the chat")
		fmt.Println()
		fmt.Println("Or ask about Badger optimization runs, e.g.")
		fmt.Println("  \"show me recent runs from the storage ring\"")
		fmt.Println("  \"which algorithm performed best last week?\"")

	case "/status":
		if a.nats.Embedded() {
			fmt.Println("NATS: embedded")
		} else {
			fmt.Printf("NATS: %s\n", a.nats.ClientURL())
		}
		for _, src := range a.registry.DataSources() {
			if err := src.HealthCheck(ctx); err != nil {
				fmt.Printf("%s: unhealthy (%v)\n", src.Name(), err)
			} else {
				fmt.Printf("%s: ok\n", src.Name())
			}
		}
		fmt.Printf("Session: %s (%d messages)\n", a.session.ID, len(a.history))

	case "/capabilities":
		fmt.Println("Registered capabilities:")
		for _, c := range a.registry.Capabilities() {
			fmt.Printf("  %s - %s\n", c.Name(), c.Description())
			if provides := c.Provides(); len(provides) > 0 {
				fmt.Printf("    provides: %s\n", joinTypes(provides))
			}
			if requires := c.Requires(); len(requires) > 0 {
				fmt.Printf("    requires: %s\n", joinTypes(requires))
			}
		}

	case "/contexts":
		store, err := a.store.LoadContexts(ctx, a.session.ID)
		if err != nil {
			fmt.Printf("Failed to load contexts: %v\n", err)
			return
		}
		if store.Len() == 0 {
			fmt.Println("No contexts gathered yet.")
			return
		}
		for _, t := range store.Types() {
			for _, key := range store.Keys(t) {
				fmt.Printf("  %s: %s\n", t, key)
			}
		}

	case "/config":
		fmt.Printf("Archive:\n")
		fmt.Printf("  Root: %s\n", a.cfg.Archive.Root)
		fmt.Printf("  Watch: %v\n", a.cfg.Archive.Watch)
		fmt.Printf("\nNATS:\n")
		if a.cfg.NATS.URL != "" && !a.cfg.NATS.Embedded {
			fmt.Printf("  URL: %s\n", a.cfg.NATS.URL)
		} else {
			fmt.Println("  Mode: embedded")
		}
		fmt.Printf("\nChat:\n")
		fmt.Printf("  History limit: %d\n", a.cfg.Chat.HistoryLimit)
		if a.cfg.Metrics.Enabled {
			fmt.Printf("\nMetrics:\n")
			fmt.Printf("  Addr: %s\n", a.cfg.Metrics.Addr)
		}

	default:
		fmt.Printf("Unknown command: %s\n", cmd)
		fmt.Println("Type /help for available commands.")
	}
}

func joinTypes[T ~string](types []T) string {
	parts := make([]string, len(types))
	for i, t := range types {
		parts[i] = string(t)
	}
	return strings.Join(parts, ", ")
}
