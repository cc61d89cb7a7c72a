package agent

import (
	"net/url"
	"regexp"
	"strings"
)

// Canonical endpoint paths on the agent proxy.
const (
	ChatPath   = "/api/chat"
	HealthPath = "/health"
)

var chatSuffixPattern = regexp.MustCompile(`(?i)/api/chat/?$`)

// NormalizeChatURL turns a user-configured endpoint into the chat URL.
// An empty, root or health path is rewritten to the canonical chat path;
// query and fragment are always stripped. Unparsable input is returned
// trimmed, best-effort.
func NormalizeChatURL(raw string) string {
	input := strings.TrimSpace(raw)
	if input == "" {
		return ""
	}
	u, err := url.Parse(input)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return input
	}
	path := strings.TrimRight(u.Path, "/")
	if path == "" || strings.HasSuffix(strings.ToLower(path), HealthPath) {
		u.Path = ChatPath
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

// HealthURL mirrors a configured endpoint back to the health path: a chat
// path keeps its prefix, anything else becomes the root health path.
func HealthURL(raw string) string {
	input := strings.TrimSpace(raw)
	if input == "" {
		return ""
	}
	u, err := url.Parse(input)
	if err != nil || u.Scheme == "" || u.Host == "" {
		// best-effort fallback for non-standard inputs
		return chatSuffixPattern.ReplaceAllString(input, HealthPath)
	}
	path := strings.TrimRight(u.Path, "/")
	if strings.HasSuffix(strings.ToLower(path), ChatPath) {
		u.Path = path[:len(path)-len(ChatPath)] + HealthPath
	} else {
		u.Path = HealthPath
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}
