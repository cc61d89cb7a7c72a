package web

import (
	"bytes"
	"html/template"
	"io/fs"
	"log"
	"net/http"
	"time"

	"github.com/yuin/goldmark"

	"memobox/internal/capsule"
	"memobox/internal/session"
)

// transcriptMessage is one rendered turn.
type transcriptMessage struct {
	Role   string
	Text   string
	HTML   template.HTML // set for assistant turns (rendered markdown)
	Images []string
	When   string
	IsUser bool
}

// TranscriptData is the template data for the transcript page.
type TranscriptData struct {
	Title    string
	Version  string
	Sealed   bool
	SealedAt string
	Greeting string // shown only for an empty history, never persisted
	Messages []transcriptMessage
}

// Renderer manages template parsing and rendering.
type Renderer struct {
	transcript *template.Template
	version    string
}

// NewRenderer creates a Renderer by parsing templates from the given FS.
func NewRenderer(templateFS fs.FS, version string) *Renderer {
	t := template.Must(template.New("transcript.html").ParseFS(templateFS, "transcript.html"))
	return &Renderer{transcript: t, version: version}
}

// renderTranscript renders the read-only conversation view for a capsule.
func (r *Renderer) renderTranscript(w http.ResponseWriter, c *capsule.Capsule) {
	data := TranscriptData{
		Title:   c.Title,
		Version: r.version,
		Sealed:  c.Sealed,
	}
	if c.Sealed && c.SealedAt > 0 {
		data.SealedAt = formatMillis(c.SealedAt)
	}
	if len(c.History) == 0 {
		data.Greeting = session.Greeting
	}
	for i := range c.History {
		m := &c.History[i]
		tm := transcriptMessage{
			Role:   string(m.Role),
			Text:   m.Content,
			When:   formatMillis(m.TS),
			IsUser: m.Role == capsule.RoleUser,
		}
		if m.Role == capsule.RoleAssistant {
			tm.HTML = renderMarkdown(m.Content)
		}
		if m.Role == capsule.RoleUser {
			tm.Images = m.Images()
		}
		data.Messages = append(data.Messages, tm)
	}

	var buf bytes.Buffer
	if err := r.transcript.ExecuteTemplate(&buf, "transcript.html", data); err != nil {
		log.Printf("template execution error: %v", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// renderMarkdown converts markdown text to HTML using goldmark.
func renderMarkdown(md string) template.HTML {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(md))
	}
	return template.HTML(buf.String())
}

// formatMillis formats a Unix-millisecond timestamp as "2006-01-02 15:04" UTC.
func formatMillis(ms int64) string {
	return time.UnixMilli(ms).UTC().Format("2006-01-02 15:04")
}
