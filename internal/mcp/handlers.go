package mcp

import (
	"context"
	"encoding/json"
	"os"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"memobox/internal/attach"
	"memobox/internal/config"
	"memobox/internal/errors"
	"memobox/internal/ops"
	"memobox/internal/session"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	repo *ops.Repo
	sess *session.Session
	cfg  *config.Config
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(repo *ops.Repo, sess *session.Session, cfg *config.Config) *Handlers {
	return &Handlers{repo: repo, sess: sess, cfg: cfg}
}

// Request types for each tool

// CreateRequest represents the arguments for capsule_create.
type CreateRequest struct {
	X     float64 `json:"x,omitempty"`
	Y     float64 `json:"y,omitempty"`
	Title string  `json:"title,omitempty"`
}

// IDRequest addresses a single capsule.
type IDRequest struct {
	ID string `json:"id"`
}

// SendRequest represents the arguments for capsule_send.
type SendRequest struct {
	ID         string `json:"id"`
	Text       string `json:"text,omitempty"`
	ImagePaths string `json:"image_paths,omitempty"`
}

// TitleRequest represents the arguments for capsule_title.
type TitleRequest struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// MoveRequest represents the arguments for capsule_move.
type MoveRequest struct {
	ID string  `json:"id"`
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
}

// Handler implementations

// HandleCreate handles the capsule_create tool call.
func (h *Handlers) HandleCreate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[CreateRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	c, err := h.repo.Create(input.X, input.Y, input.Title)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(c)
}

// HandleList handles the capsule_list tool call.
func (h *Handlers) HandleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return successResult(map[string]any{"capsules": h.repo.Ordered()})
}

// HandleOpen handles the capsule_open tool call.
func (h *Handlers) HandleOpen(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[IDRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	if err := h.repo.Touch(input.ID); err != nil {
		return errorResult(err), nil
	}
	c, err := h.repo.Get(input.ID)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(c)
}

// HandleSend handles the capsule_send tool call. Image paths are run
// through the attachment pipeline before sending.
func (h *Handlers) HandleSend(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SendRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	images, err := h.encodeImages(input.ImagePaths)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := h.sess.Send(ctx, input.ID, input.Text, images)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// encodeImages validates and encodes a comma-separated path list.
func (h *Handlers) encodeImages(paths string) ([]string, error) {
	paths = strings.TrimSpace(paths)
	if paths == "" {
		return nil, nil
	}

	pipeline := attach.New(h.cfg)
	var files []attach.File
	for _, p := range strings.Split(paths, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, errors.NewInvalidRequest("cannot read image: " + err.Error())
		}
		files = append(files, attach.File{Name: p, Data: data})
	}
	if err := pipeline.Add(files...); err != nil {
		return nil, err
	}
	return pipeline.Take(), nil
}

// HandleStop handles the capsule_stop tool call.
func (h *Handlers) HandleStop(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return successResult(map[string]any{"stopped": h.sess.Stop()})
}

// HandleSeal handles the capsule_seal tool call.
func (h *Handlers) HandleSeal(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[IDRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	if h.sess.Sending() {
		return errorResult(errors.NewInvalidRequest("cannot toggle seal while a send is in flight")), nil
	}
	c, err := h.repo.ToggleSeal(input.ID)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(c)
}

// HandleTitle handles the capsule_title tool call.
func (h *Handlers) HandleTitle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[TitleRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	if err := h.repo.SetTitle(input.ID, input.Title); err != nil {
		return errorResult(err), nil
	}
	c, err := h.repo.Get(input.ID)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(c)
}

// HandleMove handles the capsule_move tool call.
func (h *Handlers) HandleMove(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[MoveRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	if err := h.repo.Move(input.ID, input.X, input.Y); err != nil {
		return errorResult(err), nil
	}
	c, err := h.repo.Get(input.ID)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(c)
}

// HandleProbe handles the agent_probe tool call.
func (h *Handlers) HandleProbe(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	health, err := h.sess.Probe(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(health)
}

// errorResult creates an MCP error result with a structured payload.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	if e, ok := err.(*errors.Error); ok {
		errorObj := map[string]any{
			"code":    e.Code,
			"message": e.Message,
			"status":  e.Status,
		}
		// Only include details for non-internal errors to avoid leaking
		// sensitive info like file paths or SQL errors
		if e.Code != errors.ErrInternal && e.Details != nil {
			errorObj["details"] = e.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    "INTERNAL",
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
