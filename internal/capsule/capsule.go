package capsule

import "strings"

// StateVersion is the persisted AppState schema version.
// A record with any other version is treated as absent.
const StateVersion = 1

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Default title strings. A capsule whose title is empty or matches one of
// these is considered system-assigned and eligible for auto-titling.
const (
	TitleNewCapsule = "记忆盒子"
	TitleNewMemory  = "新记忆..."
	TitleUnnamed    = "未命名的记忆"
	TitleFragment   = "记忆碎片"
)

// Message is one turn in a capsule's conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`

	// ImageDataURLs holds encoded images, present only on user messages.
	ImageDataURLs []string `json:"imageDataUrls,omitempty"`

	// LegacyImageDataURL is the pre-multi-attachment single-image field.
	// Folded into ImageDataURLs on load, never written back.
	LegacyImageDataURL string `json:"imageDataUrl,omitempty"`

	// TS is the creation time in Unix milliseconds.
	TS int64 `json:"ts"`
}

// Images returns the message's images with the legacy field folded in.
func (m *Message) Images() []string {
	if len(m.ImageDataURLs) > 0 {
		return m.ImageDataURLs
	}
	if m.LegacyImageDataURL != "" {
		return []string{m.LegacyImageDataURL}
	}
	return nil
}

// Capsule is a persistent journaling unit on the canvas.
type Capsule struct {
	// ID is a ULID that uniquely identifies this capsule. Immutable.
	ID string `json:"id"`

	// X, Y are the last-known canvas position.
	X float64 `json:"x"`
	Y float64 `json:"y"`

	// Z is a monotonically increasing last-touched stamp (Unix milliseconds)
	// used purely as a stacking/order key. Ties break by insertion order.
	Z int64 `json:"z"`

	// Title is the user- or system-assigned label.
	Title string `json:"title"`

	// CreatedAt and UpdatedAt are Unix-millisecond timestamps. UpdatedAt is
	// bumped on every mutation.
	CreatedAt int64 `json:"createdAt"`
	UpdatedAt int64 `json:"updatedAt"`

	// Sealed locks history and title until unsealed. Position and
	// front-ordering may still change while sealed.
	Sealed   bool  `json:"sealed"`
	SealedAt int64 `json:"sealedAt,omitempty"`

	// History is the ordered conversation, append-only.
	History []Message `json:"history"`
}

// AppState is the root persisted aggregate.
type AppState struct {
	Version int        `json:"version"`
	Boxes   []*Capsule `json:"boxes"`
}

// EmptyState returns a valid empty AppState at the current schema version.
func EmptyState() *AppState {
	return &AppState{Version: StateVersion, Boxes: []*Capsule{}}
}

// Normalize folds legacy message fields forward. Called once on load.
func (s *AppState) Normalize() {
	for _, c := range s.Boxes {
		for i := range c.History {
			m := &c.History[i]
			if len(m.ImageDataURLs) == 0 && m.LegacyImageDataURL != "" {
				m.ImageDataURLs = []string{m.LegacyImageDataURL}
			}
			m.LegacyImageDataURL = ""
		}
	}
}

// IsDefaultTitle reports whether a title is system-assigned and therefore
// eligible for auto-replacement.
func IsDefaultTitle(title string) bool {
	t := strings.TrimSpace(title)
	switch t {
	case "", TitleNewCapsule, TitleNewMemory, TitleUnnamed:
		return true
	}
	return false
}

// RecentUserText concatenates the text of the most recent up-to-n user
// messages, oldest first, joined by single spaces.
func (c *Capsule) RecentUserText(n int) string {
	var texts []string
	for _, m := range c.History {
		if m.Role == RoleUser {
			texts = append(texts, m.Content)
		}
	}
	if len(texts) > n {
		texts = texts[len(texts)-n:]
	}
	return strings.Join(texts, " ")
}
