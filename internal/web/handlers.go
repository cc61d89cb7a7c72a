package web

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"sync"

	"memobox/internal/attach"
	"memobox/internal/capsule"
	"memobox/internal/config"
	"memobox/internal/errors"
	"memobox/internal/ops"
	"memobox/internal/session"
)

// Handlers contains HTTP route handlers for the capsule API.
// The mutex serializes pending-attachment mutations; capsule mutations are
// serialized by the repository itself.
type Handlers struct {
	mu       sync.Mutex
	repo     *ops.Repo
	sess     *session.Session
	cfg      *config.Config
	pending  *attach.Pipeline
	renderer *Renderer
}

// HandleState handles GET /api/state — the full persisted aggregate.
func (h *Handlers) HandleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.repo.State())
}

// HandleList handles GET /api/capsules — capsules in render order
// (ascending z, most-recently-touched last, i.e. on top).
func (h *Handlers) HandleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"capsules": h.repo.Ordered()})
}

type createRequest struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Title string  `json:"title,omitempty"`
}

// HandleCreate handles POST /api/capsules.
func (h *Handlers) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	c, err := h.repo.Create(req.X, req.Y, req.Title)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// HandleGet handles GET /api/capsules/{id}.
func (h *Handlers) HandleGet(w http.ResponseWriter, r *http.Request) {
	c, err := h.repo.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// HandleTouch handles POST /api/capsules/{id}/touch — bring to front.
func (h *Handlers) HandleTouch(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.repo.Touch(id); err != nil {
		writeError(w, err)
		return
	}
	c, _ := h.repo.Get(id)
	writeJSON(w, http.StatusOK, c)
}

type moveRequest struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// HandleMove handles POST /api/capsules/{id}/position — drag updates.
// Allowed while sealed.
func (h *Handlers) HandleMove(w http.ResponseWriter, r *http.Request) {
	var req moveRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	id := r.PathValue("id")
	if err := h.repo.Move(id, req.X, req.Y); err != nil {
		writeError(w, err)
		return
	}
	c, _ := h.repo.Get(id)
	writeJSON(w, http.StatusOK, c)
}

type titleRequest struct {
	Title string `json:"title"`
}

// HandleTitle handles POST /api/capsules/{id}/title.
func (h *Handlers) HandleTitle(w http.ResponseWriter, r *http.Request) {
	var req titleRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	id := r.PathValue("id")
	if err := h.repo.SetTitle(id, req.Title); err != nil {
		writeError(w, err)
		return
	}
	c, _ := h.repo.Get(id)
	writeJSON(w, http.StatusOK, c)
}

// HandleSeal handles POST /api/capsules/{id}/seal — toggles the seal.
// Refused while a send is in flight.
func (h *Handlers) HandleSeal(w http.ResponseWriter, r *http.Request) {
	if h.sess.Sending() {
		writeError(w, errors.NewInvalidRequest("cannot toggle seal while a send is in flight"))
		return
	}
	c, err := h.repo.ToggleSeal(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type sendRequest struct {
	Text string `json:"text"`
}

// HandleSend handles POST /api/capsules/{id}/send. Pending attachments are
// consumed by the send. A send while one is in flight becomes a stop.
func (h *Handlers) HandleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	if h.sess.Sending() {
		// Keep pending attachments: this request is a cancellation, not a send.
		h.sess.Stop()
		writeJSON(w, http.StatusOK, &session.SendResult{Outcome: session.OutcomeCancelRequested})
		return
	}

	h.mu.Lock()
	images := h.pending.Take()
	h.mu.Unlock()

	res, err := h.sess.Send(r.Context(), r.PathValue("id"), req.Text, images)
	if err != nil {
		// The send was rejected before anything was dispatched (sealed,
		// missing capsule); the attachments stay pending for a retry.
		h.mu.Lock()
		h.pending.Restore(images)
		h.mu.Unlock()
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleStop handles POST /api/send/stop.
func (h *Handlers) HandleStop(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"stopped": h.sess.Stop()})
}

// HandleStatus handles GET /api/status — the agent connection indicator.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"sending": h.sess.Sending(),
		"status":  h.sess.Status(),
	})
}

// HandleAttachmentAdd handles POST /api/attachments — multipart upload of
// one or more images into the pending list.
func (h *Handlers) HandleAttachmentAdd(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, errors.NewInvalidRequest("expected multipart form with image files"))
		return
	}
	headers := r.MultipartForm.File["images"]
	if len(headers) == 0 {
		writeError(w, errors.NewInvalidRequest("no images in request"))
		return
	}

	files := make([]attach.File, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			writeError(w, errors.NewInternal(err))
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			writeError(w, errors.NewInternal(err))
			return
		}
		files = append(files, attach.File{
			Name: fh.Filename,
			MIME: fh.Header.Get("Content-Type"),
			Data: data,
		})
	}

	h.mu.Lock()
	err := h.pending.Add(files...)
	pending := h.pending.Pending()
	h.mu.Unlock()

	if err != nil {
		// Limit overflow retains the leading files; report both.
		writeErrorWith(w, err, map[string]any{"images": pending})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"images": pending})
}

// HandleAttachmentList handles GET /api/attachments.
func (h *Handlers) HandleAttachmentList(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	pending := h.pending.Pending()
	h.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"images": pending})
}

// HandleAttachmentRemove handles DELETE /api/attachments/{index}.
func (h *Handlers) HandleAttachmentRemove(w http.ResponseWriter, r *http.Request) {
	idx, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		writeError(w, errors.NewInvalidRequest("index must be an integer"))
		return
	}
	h.mu.Lock()
	h.pending.RemoveAt(idx)
	pending := h.pending.Pending()
	h.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"images": pending})
}

// HandleAttachmentClear handles DELETE /api/attachments.
func (h *Handlers) HandleAttachmentClear(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	h.pending.Clear()
	h.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"images": []string{}})
}

// HandleSettingsGet handles GET /api/settings.
func (h *Handlers) HandleSettingsGet(w http.ResponseWriter, r *http.Request) {
	s, err := h.repo.Settings()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// HandleSettingsPut handles PUT /api/settings.
func (h *Handlers) HandleSettingsPut(w http.ResponseWriter, r *http.Request) {
	var s capsule.Settings
	if err := decodeBody(r, &s); err != nil {
		writeError(w, err)
		return
	}
	saved, err := h.repo.SaveSettings(s)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

// HandleProbe handles POST /api/probe — health check of the configured
// endpoint. Failures only affect the status indicator, never block sends.
func (h *Handlers) HandleProbe(w http.ResponseWriter, r *http.Request) {
	health, err := h.sess.Probe(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, health)
}

// HandleTranscript handles GET /capsules/{id}/transcript — a read-only
// HTML view of one capsule's conversation.
func (h *Handlers) HandleTranscript(w http.ResponseWriter, r *http.Request) {
	c, err := h.repo.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	h.renderer.renderTranscript(w, c)
}

// decodeBody unmarshals a JSON request body into dst.
func decodeBody(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errors.NewInvalidRequest("malformed JSON body")
	}
	return nil
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, err error) {
	writeErrorWith(w, err, nil)
}

// writeErrorWith writes a structured error response with extra top-level
// fields (e.g. the retained attachment list on a limit overflow).
func writeErrorWith(w http.ResponseWriter, err error, extra map[string]any) {
	e, ok := err.(*errors.Error)
	if !ok {
		e = errors.NewInternal(err)
	}

	errorObj := map[string]any{
		"code":    string(e.Code),
		"message": e.Message,
		"status":  e.Status,
	}
	// Only include details for non-internal errors to avoid leaking
	// sensitive info like file paths or SQL errors
	if e.Code != errors.ErrInternal && e.Details != nil {
		errorObj["details"] = e.Details
	}

	payload := map[string]any{"error": errorObj}
	for k, v := range extra {
		payload[k] = v
	}
	writeJSON(w, e.Status, payload)
}
