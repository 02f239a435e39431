package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"magpie/internal/tools"
)

const (
	// defaultInitTimeout bounds the initialize handshake per server.
	defaultInitTimeout = 30 * time.Second

	// DefaultToolTimeout bounds a single tools/call when the caller's
	// context carries no deadline. Tools may shell out or hit the
	// network, so this is generous.
	DefaultToolTimeout = 120 * time.Second
)

// ServerConfig describes one MCP server to connect to.
type ServerConfig struct {
	// Name identifies the server; it becomes part of the namespaced
	// tool names.
	Name string

	// Transport selects "stdio" or "http".
	Transport string

	// Command, Args, and Env configure a stdio subprocess.
	Command string
	Args    []string
	Env     []string

	// URL and Headers configure an HTTP endpoint.
	URL     string
	Headers map[string]string

	// IncludeTools and ExcludeTools filter which remote tools are
	// bridged, by their remote names.
	IncludeTools []string
	ExcludeTools []string
}

// Manager owns the set of connected MCP servers. It connects each one,
// bridges discovered tools into a registry, and dispatches all bridged
// tool calls through a single entry point so failures stay error
// values rather than panics.
type Manager struct {
	logger      *slog.Logger
	toolTimeout time.Duration

	mu       sync.Mutex
	clients  map[string]*Client
	bindings map[string]Binding
	closed   bool
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithToolTimeout sets the default per-call timeout for bridged tools.
func WithToolTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.toolTimeout = d
		}
	}
}

// NewManager creates a Manager with no connected servers.
func NewManager(logger *slog.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		logger:      logger,
		toolTimeout: DefaultToolTimeout,
		clients:     make(map[string]*Client),
		bindings:    make(map[string]Binding),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ConnectAll connects to every server config, bridging discovered tools
// into the registry. A server that fails to connect or initialize is
// logged and skipped; it contributes zero tools and does not affect the
// other servers. Returns the total number of tools bridged.
func (m *Manager) ConnectAll(ctx context.Context, configs []ServerConfig, registry *tools.Registry) int {
	total := 0
	for _, cfg := range configs {
		n, err := m.connect(ctx, cfg, registry)
		if err != nil {
			m.logger.Error("MCP server connection failed, skipping",
				"server", cfg.Name,
				"error", err,
			)
			continue
		}
		total += n
	}
	return total
}

// connect builds the transport for one server, runs the initialize
// handshake, discovers tools, and registers them.
func (m *Manager) connect(ctx context.Context, cfg ServerConfig, registry *tools.Registry) (int, error) {
	transport, err := m.buildTransport(cfg)
	if err != nil {
		return 0, err
	}

	client := NewClient(cfg.Name, transport, m.logger)

	initCtx, cancel := context.WithTimeout(ctx, defaultInitTimeout)
	defer cancel()

	if err := client.Initialize(initCtx); err != nil {
		_ = client.Close()
		return 0, fmt.Errorf("initialize %s: %w", cfg.Name, err)
	}

	defs, err := client.ListTools(initCtx)
	if err != nil {
		_ = client.Close()
		return 0, fmt.Errorf("list tools from %s: %w", cfg.Name, err)
	}

	bindings := buildBindings(cfg.Name, defs, cfg.IncludeTools, cfg.ExcludeTools)

	m.mu.Lock()
	m.clients[cfg.Name] = client
	for _, b := range bindings {
		m.bindings[b.RegisteredName] = b
	}
	m.mu.Unlock()

	for _, b := range bindings {
		b := b
		registry.Register(&tools.Tool{
			Name:        b.RegisteredName,
			Description: b.Description,
			Parameters:  b.InputSchema,
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				return m.ExecuteTool(ctx, b.Server, b.RemoteName, args)
			},
		})
		m.logger.Debug("bridged MCP tool",
			"server", b.Server,
			"remote_name", b.RemoteName,
			"registered_name", b.RegisteredName,
		)
	}

	m.logger.Info("MCP server connected",
		"server", cfg.Name,
		"tools", len(bindings),
	)
	return len(bindings), nil
}

// buildTransport constructs the transport named by the config.
func (m *Manager) buildTransport(cfg ServerConfig) (Transport, error) {
	switch cfg.Transport {
	case "stdio", "":
		if cfg.Command == "" {
			return nil, fmt.Errorf("server %s: stdio transport requires a command", cfg.Name)
		}
		return NewStdioTransport(StdioConfig{
			Command: cfg.Command,
			Args:    cfg.Args,
			Env:     cfg.Env,
			Logger:  m.logger,
		}), nil
	case "http":
		if cfg.URL == "" {
			return nil, fmt.Errorf("server %s: http transport requires a URL", cfg.Name)
		}
		return NewHTTPTransport(HTTPConfig{
			URL:     cfg.URL,
			Headers: cfg.Headers,
			Logger:  m.logger,
		}), nil
	default:
		return nil, fmt.Errorf("server %s: unknown transport %q", cfg.Name, cfg.Transport)
	}
}

// ExecuteTool calls a tool on a connected server by its remote name.
// All bridged tool handlers route through here. An unknown or
// disconnected server yields an error value, never a panic. When the
// caller's context has no deadline, the manager's tool timeout applies.
func (m *Manager) ExecuteTool(ctx context.Context, server, remoteName string, args map[string]any) (string, error) {
	m.mu.Lock()
	client, ok := m.clients[server]
	m.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("server %s not connected", server)
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.toolTimeout)
		defer cancel()
	}

	return client.CallTool(ctx, remoteName, args)
}

// Bindings returns a snapshot of all registered tool bindings.
func (m *Manager) Bindings() []Binding {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Binding, 0, len(m.bindings))
	for _, b := range m.bindings {
		out = append(out, b)
	}
	return out
}

// Servers returns the names of connected servers.
func (m *Manager) Servers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.clients))
	for name := range m.clients {
		names = append(names, name)
	}
	return names
}

// Ping checks one connected server for responsiveness.
func (m *Manager) Ping(ctx context.Context, server string) error {
	m.mu.Lock()
	client, ok := m.clients[server]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("server %s not connected", server)
	}
	return client.Ping(ctx)
}

// Close shuts down all connected clients. Idempotent; errors from
// individual clients are logged, and the first one is returned.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	clients := make([]*Client, 0, len(m.clients))
	for _, c := range m.clients {
		clients = append(clients, c)
	}
	m.clients = make(map[string]*Client)
	m.mu.Unlock()

	var firstErr error
	for _, c := range clients {
		if err := c.Close(); err != nil {
			m.logger.Error("closing MCP client", "server", c.Name(), "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
