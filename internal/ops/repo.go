package ops

import (
	"crypto/rand"
	"database/sql"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"memobox/internal/capsule"
	"memobox/internal/config"
	"memobox/internal/db"
	"memobox/internal/errors"
)

// Repo holds the in-memory capsule collection and flushes the full state
// to the store after every mutation, so a reload always observes the last
// completed operation. A single mutex serializes all access: HTTP and MCP
// handlers run concurrently and share this repository with the session's
// post-call appends.
type Repo struct {
	mu       sync.Mutex
	database *sql.DB
	cfg      *config.Config
	state    *capsule.AppState

	// now is injectable for tests. Returns Unix milliseconds.
	now func() int64
}

// NewRepo loads the persisted state and returns a repository over it.
func NewRepo(database *sql.DB, cfg *config.Config) (*Repo, error) {
	state, err := db.LoadState(database)
	if err != nil {
		return nil, err
	}
	return &Repo{
		database: database,
		cfg:      cfg,
		state:    state,
		now:      func() int64 { return time.Now().UnixMilli() },
	}, nil
}

// SetClock overrides the repo clock. Test hook.
func (r *Repo) SetClock(now func() int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// State returns the live AppState. Callers treat it as read-only.
func (r *Repo) State() *capsule.AppState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Create allocates a new capsule at the given position and appends it to
// the collection. An empty title gets the default placeholder.
func (r *Repo) Create(x, y float64, title string) (*capsule.Capsule, error) {
	if strings.TrimSpace(title) == "" {
		title = capsule.TitleNewCapsule
	}
	id, err := generateULID()
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	c := &capsule.Capsule{
		ID:        id,
		X:         x,
		Y:         y,
		Z:         now,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
		Sealed:    false,
		History:   []capsule.Message{},
	}
	r.state.Boxes = append(r.state.Boxes, c)
	if err := r.flush(); err != nil {
		return nil, err
	}
	return c, nil
}

// Get looks up a capsule by id.
func (r *Repo) Get(id string) (*capsule.Capsule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.find(id)
}

// find is the unlocked lookup backing every operation. Callers hold mu.
func (r *Repo) find(id string) (*capsule.Capsule, error) {
	for _, c := range r.state.Boxes {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, errors.NewNotFound(id)
}

// Touch brings a capsule to the front and marks recency.
func (r *Repo) Touch(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, err := r.find(id)
	if err != nil {
		return err
	}
	now := r.now()
	c.Z = now
	c.UpdatedAt = now
	return r.flush()
}

// Move updates a capsule's canvas position. Allowed while sealed.
func (r *Repo) Move(id string, x, y float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, err := r.find(id)
	if err != nil {
		return err
	}
	c.X = x
	c.Y = y
	c.UpdatedAt = r.now()
	return r.flush()
}

// SetTitle replaces a capsule's title. Rejected while sealed; an empty or
// whitespace title is stored as the unnamed placeholder.
func (r *Repo) SetTitle(id, title string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, err := r.find(id)
	if err != nil {
		return err
	}
	if c.Sealed {
		return errors.NewCapsuleSealed(id)
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = capsule.TitleUnnamed
	}
	c.Title = title
	c.UpdatedAt = r.now()
	return r.flush()
}

// ToggleSeal flips the seal state. Sealing records sealedAt; unsealing is
// the same operation on a sealed capsule.
func (r *Repo) ToggleSeal(id string) (*capsule.Capsule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, err := r.find(id)
	if err != nil {
		return nil, err
	}
	now := r.now()
	c.Sealed = !c.Sealed
	if c.Sealed {
		c.SealedAt = now
	}
	c.UpdatedAt = now
	if err := r.flush(); err != nil {
		return nil, err
	}
	return c, nil
}

// AppendMessage appends one turn to a capsule's history. Rejected while
// sealed; history is append-only and never reordered.
func (r *Repo) AppendMessage(id string, msg capsule.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, err := r.find(id)
	if err != nil {
		return err
	}
	if c.Sealed {
		return errors.NewCapsuleSealed(id)
	}
	if msg.TS == 0 {
		msg.TS = r.now()
	}
	c.History = append(c.History, msg)
	c.UpdatedAt = r.now()
	return r.flush()
}

// Ordered returns capsules ascending by z (lowest drawn first, so the
// most-recently-touched ends up on top). Ties keep insertion order.
func (r *Repo) Ordered() []*capsule.Capsule {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*capsule.Capsule, len(r.state.Boxes))
	copy(out, r.state.Boxes)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Z < out[j].Z })
	return out
}

// Settings reads the persisted settings record.
func (r *Repo) Settings() (capsule.Settings, error) {
	return db.LoadSettings(r.database, r.cfg)
}

// SaveSettings writes the settings record, defaulting an empty URL.
func (r *Repo) SaveSettings(s capsule.Settings) (capsule.Settings, error) {
	s.AgentProxyURL = strings.TrimSpace(s.AgentProxyURL)
	if s.AgentProxyURL == "" {
		s.AgentProxyURL = r.cfg.AgentProxyURL
	}
	if err := db.SaveSettings(r.database, s); err != nil {
		return s, err
	}
	return s, nil
}

// flush writes the full state record while mu is held. Every mutation goes
// through here before the result is observable.
func (r *Repo) flush() error {
	return db.SaveState(r.database, r.state)
}

// generateULID generates a new ULID.
func generateULID() (string, error) {
	entropy := ulid.Monotonic(rand.Reader, 0)
	id, err := ulid.New(ulid.Timestamp(time.Now()), entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
