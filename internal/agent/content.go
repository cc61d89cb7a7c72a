package agent

import (
	"encoding/json"
	"strings"

	"memobox/internal/capsule"
)

// ImageRef wraps an image data URI for the wire protocol.
type ImageRef struct {
	URL string `json:"url"`
}

// Part is one segment of mixed message content.
type Part struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageRef `json:"image_url,omitempty"`
}

// Content is a tagged variant over the two request shapes: text-only
// marshals as a JSON string, mixed content as an array of parts.
type Content struct {
	Text  string
	Parts []Part // nil means text-only
}

// MarshalJSON implements the protocol's duck-typed content field.
func (c Content) MarshalJSON() ([]byte, error) {
	if c.Parts == nil {
		return json.Marshal(c.Text)
	}
	return json.Marshal(c.Parts)
}

// TextContent builds a text-only content value.
func TextContent(text string) Content {
	return Content{Text: text}
}

// MixedContent builds a parts sequence: a text segment when the text is
// non-blank, followed by one segment per image in original order.
func MixedContent(text string, images []string) Content {
	parts := make([]Part, 0, len(images)+1)
	if strings.TrimSpace(text) != "" {
		parts = append(parts, Part{Type: "text", Text: text})
	}
	for _, u := range images {
		parts = append(parts, Part{Type: "image_url", ImageURL: &ImageRef{URL: u}})
	}
	return Content{Parts: parts}
}

// Message is one turn of the outbound request.
type Message struct {
	Role    string  `json:"role"`
	Content Content `json:"content"`
}

// BuildMessages maps a capsule history into the wire shape. Messages
// carrying images become mixed content with the image count capped at
// maxImages; everything else is plain text.
func BuildMessages(history []capsule.Message, maxImages int) []Message {
	out := make([]Message, 0, len(history))
	for i := range history {
		m := &history[i]
		imgs := m.Images()
		if len(imgs) > 0 {
			if len(imgs) > maxImages {
				imgs = imgs[:maxImages]
			}
			out = append(out, Message{Role: string(m.Role), Content: MixedContent(m.Content, imgs)})
			continue
		}
		out = append(out, Message{Role: string(m.Role), Content: TextContent(m.Content)})
	}
	return out
}
