// Package attach validates, downsizes and encodes user-picked images into
// a bounded list of JPEG data URIs ready to send with a message.
package attach

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	"net/http"
	"strings"

	_ "image/gif"
	_ "image/png"

	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"memobox/internal/config"
	"memobox/internal/errors"
)

// File is one user-picked image: name, declared media type (may be empty,
// in which case it is sniffed from content) and raw bytes.
type File struct {
	Name string
	MIME string
	Data []byte
}

// Pipeline holds the pending-attachment list for the next send.
type Pipeline struct {
	cfg     *config.Config
	pending []string
}

// New creates an empty pipeline.
func New(cfg *config.Config) *Pipeline {
	return &Pipeline{cfg: cfg}
}

// Pending returns the pending data URIs in pick order.
func (p *Pipeline) Pending() []string {
	out := make([]string, len(p.pending))
	copy(out, p.pending)
	return out
}

// Count returns the number of pending attachments.
func (p *Pipeline) Count() int { return len(p.pending) }

// RemoveAt drops the attachment at index i. Out-of-range is a no-op.
func (p *Pipeline) RemoveAt(i int) {
	if i < 0 || i >= len(p.pending) {
		return
	}
	p.pending = append(p.pending[:i], p.pending[i+1:]...)
}

// Clear drops all pending attachments.
func (p *Pipeline) Clear() { p.pending = nil }

// Take snapshots and clears the pending list, for attaching to a send.
func (p *Pipeline) Take() []string {
	out := p.pending
	p.pending = nil
	return out
}

// Restore puts taken attachments back at the front of the pending list,
// for when the send they were taken for never happened.
func (p *Pipeline) Restore(uris []string) {
	if len(uris) == 0 {
		return
	}
	p.pending = append(append([]string{}, uris...), p.pending...)
}

// Add validates and encodes a batch of picked files into the pending list.
// Validation per file, failing fast on the first violation: media type,
// source byte ceiling, decode + resize + re-encode, per-image encoded cap.
// The whole batch is rejected when the cumulative encoded size of all
// pending attachments would exceed the aggregate cap. When the batch is
// larger than the remaining room, the leading room-many files are retained
// and the limit error is still surfaced.
func (p *Pipeline) Add(files ...File) error {
	if len(files) == 0 {
		return nil
	}
	room := p.cfg.MaxAttachments - len(p.pending)
	if room <= 0 {
		return errors.NewAttachmentLimit(p.cfg.MaxAttachments)
	}

	overflow := len(files) > room
	picked := files
	if overflow {
		picked = files[:room]
	}

	next := make([]string, 0, len(p.pending)+len(picked))
	next = append(next, p.pending...)
	for _, f := range picked {
		uri, err := p.encode(f)
		if err != nil {
			return err
		}
		next = append(next, uri)
	}

	total := 0
	for _, u := range next {
		total += len(u)
	}
	if total > p.cfg.MaxBatchBytes {
		return errors.NewBatchTooLarge(p.cfg.MaxBatchBytes, total)
	}

	p.pending = next
	if overflow {
		return errors.NewAttachmentLimit(p.cfg.MaxAttachments)
	}
	return nil
}

// encode runs the per-file pipeline: validate type and size, decode,
// downscale to the edge cap, re-encode as JPEG, wrap as a data URI.
func (p *Pipeline) encode(f File) (string, error) {
	mediaType := strings.TrimSpace(f.MIME)
	if mediaType == "" {
		mediaType = http.DetectContentType(f.Data)
	}
	if !strings.HasPrefix(mediaType, "image/") {
		return "", errors.NewUnsupportedType(f.Name, mediaType)
	}
	if int64(len(f.Data)) > p.cfg.MaxSourceBytes {
		return "", errors.NewFileTooLarge(f.Name, p.cfg.MaxSourceBytes, int64(len(f.Data)))
	}

	src, _, err := image.Decode(bytes.NewReader(f.Data))
	if err != nil {
		return "", errors.NewDecodeFailed(f.Name, err)
	}

	resized := downscale(src, p.cfg.MaxImageEdge)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: p.cfg.JPEGQuality}); err != nil {
		return "", errors.NewDecodeFailed(f.Name, err)
	}

	uri := fmt.Sprintf("data:image/jpeg;base64,%s", base64.StdEncoding.EncodeToString(buf.Bytes()))
	if len(uri) > p.cfg.MaxEncodedBytes {
		return "", errors.NewEncodedTooLarge(f.Name, p.cfg.MaxEncodedBytes, len(uri))
	}
	return uri, nil
}

// downscale resizes so the longer edge is at most maxEdge, preserving
// aspect ratio. Never upscales.
func downscale(src image.Image, maxEdge int) image.Image {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	long := w
	if h > long {
		long = h
	}
	if long <= maxEdge || long == 0 {
		return src
	}

	scale := float64(maxEdge) / float64(long)
	tw := int(float64(w)*scale + 0.5)
	th := int(float64(h)*scale + 0.5)
	if tw < 1 {
		tw = 1
	}
	if th < 1 {
		th = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, tw, th))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, b, xdraw.Src, nil)
	return dst
}
