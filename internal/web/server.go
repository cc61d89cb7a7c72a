package web

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"memobox/internal/attach"
	"memobox/internal/config"
	"memobox/internal/ops"
	"memobox/internal/session"
)

//go:embed templates/*.html
var templateFS embed.FS

// NewServer creates and configures the HTTP server backing the canvas UI.
// The rendering collaborator consumes these endpoints read-only and
// re-renders on every mutation it triggers.
func NewServer(repo *ops.Repo, sess *session.Session, cfg *config.Config, version, bind string, port int) *http.Server {
	templateSub, err := fs.Sub(templateFS, "templates")
	if err != nil {
		log.Fatalf("failed to create template sub-FS: %v", err)
	}

	h := &Handlers{
		repo:     repo,
		sess:     sess,
		cfg:      cfg,
		pending:  attach.New(cfg),
		renderer: NewRenderer(templateSub, version),
	}

	mux := http.NewServeMux()

	// Routes using Go 1.22+ pattern syntax
	mux.HandleFunc("GET /api/state", h.HandleState)
	mux.HandleFunc("GET /api/capsules", h.HandleList)
	mux.HandleFunc("POST /api/capsules", h.HandleCreate)
	mux.HandleFunc("GET /api/capsules/{id}", h.HandleGet)
	mux.HandleFunc("POST /api/capsules/{id}/touch", h.HandleTouch)
	mux.HandleFunc("POST /api/capsules/{id}/position", h.HandleMove)
	mux.HandleFunc("POST /api/capsules/{id}/title", h.HandleTitle)
	mux.HandleFunc("POST /api/capsules/{id}/seal", h.HandleSeal)
	mux.HandleFunc("POST /api/capsules/{id}/send", h.HandleSend)
	mux.HandleFunc("POST /api/send/stop", h.HandleStop)
	mux.HandleFunc("GET /api/status", h.HandleStatus)
	mux.HandleFunc("POST /api/attachments", h.HandleAttachmentAdd)
	mux.HandleFunc("GET /api/attachments", h.HandleAttachmentList)
	mux.HandleFunc("DELETE /api/attachments/{index}", h.HandleAttachmentRemove)
	mux.HandleFunc("DELETE /api/attachments", h.HandleAttachmentClear)
	mux.HandleFunc("GET /api/settings", h.HandleSettingsGet)
	mux.HandleFunc("PUT /api/settings", h.HandleSettingsPut)
	mux.HandleFunc("POST /api/probe", h.HandleProbe)
	mux.HandleFunc("GET /capsules/{id}/transcript", h.HandleTranscript)

	// Wrap with security headers
	handler := securityHeaders(mux)

	return &http.Server{
		Addr:    fmt.Sprintf("%s:%d", bind, port),
		Handler: handler,
	}
}

// securityHeaders adds security-related HTTP headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", "default-src 'self'; img-src 'self' data:; script-src 'self'; style-src 'self' 'unsafe-inline'")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		next.ServeHTTP(w, r)
	})
}

// Run starts the HTTP server and handles graceful shutdown on SIGINT/SIGTERM.
func Run(srv *http.Server) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	log.Printf("Memobox API running at http://%s", srv.Addr)

	if strings.Contains(srv.Addr, "0.0.0.0") || strings.Contains(srv.Addr, "::") {
		log.Printf("WARNING: Server is binding to all interfaces and may be accessible from the network")
	}

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
		log.Println("Shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}
}
