package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
)

// DefaultAgentProxyURL is used when settings are absent or malformed.
const DefaultAgentProxyURL = "http://127.0.0.1:8787/api/chat"

// Config holds application configuration.
type Config struct {
	// AgentProxyURL overrides the built-in default agent endpoint for fresh
	// installs. The user-facing endpoint still lives in the settings record;
	// this is only the default handed out when that record is missing.
	AgentProxyURL string `json:"agent_proxy_url,omitempty"`

	// MaxAttachments bounds the pending-attachment list per message.
	MaxAttachments int `json:"max_attachments,omitempty"`

	// MaxSourceBytes is the hard byte ceiling for a picked image file,
	// checked before any decoding is attempted.
	MaxSourceBytes int64 `json:"max_source_bytes,omitempty"`

	// MaxImageEdge caps the longer edge of a re-encoded image in pixels.
	// Images are never upscaled.
	MaxImageEdge int `json:"max_image_edge,omitempty"`

	// JPEGQuality is the re-encode quality factor (1-100).
	JPEGQuality int `json:"jpeg_quality,omitempty"`

	// MaxEncodedBytes caps a single encoded data URI. Storage-quota
	// protection, not a protocol requirement.
	MaxEncodedBytes int `json:"max_encoded_bytes,omitempty"`

	// MaxBatchBytes caps the cumulative size of all pending data URIs.
	MaxBatchBytes int `json:"max_batch_bytes,omitempty"`

	// TransientStoppedNotice, when true, keeps the "(stopped)" notice out of
	// persisted history after a cancelled send; it is still reported in the
	// send result. Default false: the notice is persisted.
	TransientStoppedNotice bool `json:"transient_stopped_notice,omitempty"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	// If set to 1, all database access is serialized (reduces "database is
	// locked" errors). 0 means use sql.DB default.
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	// 0 means use sql.DB default. Typically set equal to DBMaxOpenConns.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	// Unknown tool names are ignored with a warning.
	DisabledTools []string `json:"disabled_tools,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		AgentProxyURL:   DefaultAgentProxyURL,
		MaxAttachments:  10,
		MaxSourceBytes:  12 * 1024 * 1024,
		MaxImageEdge:    1024,
		JPEGQuality:     82,
		MaxEncodedBytes: 1_200_000,
		MaxBatchBytes:   6_000_000,
	}
}

// Load loads configuration from baseDir/config.json.
// Returns default config if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.memobox.
func Load(baseDir string) (*Config, error) {
	overlay, err := loadFileRaw(filepath.Join(baseDir, "config.json"))
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), overlay), nil
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; booleans OR; arrays replace.
func Merge(base, overlay *Config) *Config {
	result := &Config{}

	result.AgentProxyURL = overlay.AgentProxyURL
	if result.AgentProxyURL == "" {
		result.AgentProxyURL = base.AgentProxyURL
	}

	result.MaxAttachments = pickInt(overlay.MaxAttachments, base.MaxAttachments)
	result.MaxImageEdge = pickInt(overlay.MaxImageEdge, base.MaxImageEdge)
	result.JPEGQuality = pickInt(overlay.JPEGQuality, base.JPEGQuality)
	result.MaxEncodedBytes = pickInt(overlay.MaxEncodedBytes, base.MaxEncodedBytes)
	result.MaxBatchBytes = pickInt(overlay.MaxBatchBytes, base.MaxBatchBytes)
	result.DBMaxOpenConns = pickInt(overlay.DBMaxOpenConns, base.DBMaxOpenConns)
	result.DBMaxIdleConns = pickInt(overlay.DBMaxIdleConns, base.DBMaxIdleConns)

	result.MaxSourceBytes = overlay.MaxSourceBytes
	if result.MaxSourceBytes == 0 {
		result.MaxSourceBytes = base.MaxSourceBytes
	}

	result.TransientStoppedNotice = base.TransientStoppedNotice || overlay.TransientStoppedNotice

	result.DisabledTools = overlay.DisabledTools
	if len(result.DisabledTools) == 0 {
		result.DisabledTools = base.DisabledTools
	}

	return result
}

func pickInt(overlay, base int) int {
	if overlay != 0 {
		return overlay
	}
	return base
}
