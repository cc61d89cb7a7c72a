package mcp

import (
	"context"
	"log"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"memobox/internal/config"
	"memobox/internal/ops"
	"memobox/internal/session"
)

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

// toolRegistry maps tool names to their definitions and handler factories.
var toolRegistry = map[string]toolEntry{
	"capsule_create": {
		def:     createToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCreate },
	},
	"capsule_list": {
		def:     listToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleList },
	},
	"capsule_open": {
		def:     openToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleOpen },
	},
	"capsule_send": {
		def:     sendToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSend },
	},
	"capsule_stop": {
		def:     stopToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleStop },
	},
	"capsule_seal": {
		def:     sealToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSeal },
	},
	"capsule_title": {
		def:     titleToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleTitle },
	},
	"capsule_move": {
		def:     moveToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleMove },
	},
	"agent_probe": {
		def:     probeToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleProbe },
	},
}

// AllToolNames returns a list of all valid tool names.
func AllToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
	return names
}

// ValidateDisabledTools returns a list of unknown tool names from the given list.
func ValidateDisabledTools(names []string) []string {
	unknown := make([]string, 0)
	for _, name := range names {
		if _, ok := toolRegistry[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// NewServer creates a new MCP server with Memobox tools registered.
// Tools listed in cfg.DisabledTools are excluded from registration.
func NewServer(repo *ops.Repo, sess *session.Session, cfg *config.Config, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"memobox",
		version,
		server.WithToolCapabilities(true),
	)

	h := NewHandlers(repo, sess, cfg)

	disabled := make(map[string]bool)
	for _, name := range cfg.DisabledTools {
		disabled[name] = true
	}
	for _, name := range ValidateDisabledTools(cfg.DisabledTools) {
		log.Printf("warning: unknown disabled tool %q", name)
	}

	for name, entry := range toolRegistry {
		if disabled[name] {
			continue
		}
		s.AddTool(entry.def, entry.handler(h))
	}

	return s
}

// Run starts the MCP server using stdio transport.
func Run(repo *ops.Repo, sess *session.Session, cfg *config.Config, version string) error {
	s := NewServer(repo, sess, cfg, version)
	return server.ServeStdio(s)
}

// ToolHandlerFunc is the signature for tool handlers.
type ToolHandlerFunc func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
