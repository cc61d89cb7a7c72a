// Package session owns the send/cancel lifecycle of a capsule dialogue:
// one outstanding agent call at a time, optimistic history updates,
// auto-titling, local fallback on failure, and cooperative cancellation.
package session

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"

	"memobox/internal/agent"
	"memobox/internal/capsule"
	"memobox/internal/config"
	"memobox/internal/errors"
	"memobox/internal/ops"
)

// SystemPrompt is the fixed instruction sent with every agent call.
const SystemPrompt = "你是一位温柔、沉静的倾听者与共情式伙伴。你的目标是帮助用户把感受说清楚、把需要看见、把下一步变得更轻。" +
	"除非用户主动提起，否则不要提及任何“盒子/木箱/封存/卷轴/仪式”等设定，也不要反复暗示用户去封存。" +
	"不要输出你的思考过程（thinking），只输出最终回复。回复简洁一些，多用问题引导用户主导。"

// StoppedNotice is appended (policy permitting) after a cancelled send.
const StoppedNotice = "（已停止）"

// Greeting is the transient line shown for an empty history. Never persisted.
const Greeting = "你好。你可以慢慢写，我在。"

// fallbackEmptyText answers an all-image send when the agent is offline.
const fallbackEmptyText = "我在这里。你可以慢慢写。"

// fallbackReplies are the local open-ended follow-up questions substituted
// when the agent is unreachable, so the conversation always progresses.
var fallbackReplies = []string{
	"你更希望先从哪一段开始写：今天发生的事，还是你心里反复出现的那句话？",
	"如果把这件事分成三块：事实、感受、需要，你现在最强的是哪一块？",
	"你希望我更多是倾听，还是一起把它梳理成一个可执行的下一步？",
}

// Agent is the gateway surface the session depends on. Satisfied by
// *agent.Client; tests substitute fakes.
type Agent interface {
	Call(ctx context.Context, system string, messages []agent.Message) (*agent.Reply, error)
	Probe(ctx context.Context, system string) (*agent.Health, error)
}

// AgentFactory builds a gateway for the currently configured endpoint.
type AgentFactory func(rawURL string) Agent

// StatusKind classifies the agent connection indicator.
type StatusKind string

const (
	StatusUnknown    StatusKind = "unknown"
	StatusConnecting StatusKind = "connecting"
	StatusOnline     StatusKind = "online"
	StatusStopped    StatusKind = "stopped"
	StatusOffline    StatusKind = "offline"
)

// Status is the user-visible connection state.
type Status struct {
	Kind  StatusKind `json:"kind"`
	Label string     `json:"label"`
}

// Outcome classifies what a send attempt did. Exactly one outcome per
// attempt, never more.
type Outcome string

const (
	OutcomeReply           Outcome = "reply"
	OutcomeFallback        Outcome = "fallback"
	OutcomeStopped         Outcome = "stopped"
	OutcomeNoop            Outcome = "noop"
	OutcomeCancelRequested Outcome = "cancel_requested"
)

// SendResult reports a completed send attempt.
type SendResult struct {
	Outcome  Outcome `json:"outcome"`
	Reply    string  `json:"reply,omitempty"`
	Notice   string  `json:"notice,omitempty"`
	Provider string  `json:"provider,omitempty"`
	Model    string  `json:"model,omitempty"`
}

// Session is the explicit dialogue context: sending flag, in-flight cancel
// handle and status live here rather than in ambient globals, so other
// hosting environments can run independent sessions.
type Session struct {
	mu       sync.Mutex
	repo     *ops.Repo
	cfg      *config.Config
	newAgent AgentFactory
	rng      *rand.Rand

	sending bool
	cancel  context.CancelFunc
	status  Status
}

// New creates a session over the repository.
func New(repo *ops.Repo, cfg *config.Config) *Session {
	return &Session{
		repo:     repo,
		cfg:      cfg,
		newAgent: func(rawURL string) Agent { return agent.New(rawURL) },
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		status:   Status{Kind: StatusUnknown},
	}
}

// SetAgentFactory overrides gateway construction. Test hook.
func (s *Session) SetAgentFactory(f AgentFactory) { s.newAgent = f }

// SetRand overrides the fallback-reply randomness. Test hook.
func (s *Session) SetRand(r *rand.Rand) { s.rng = r }

// Sending reports whether an agent call is in flight.
func (s *Session) Sending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sending
}

// Status returns the current connection indicator.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Stop aborts the in-flight agent call, if any. Returns whether there was
// one. The blocked Send observes the abort and finalizes.
func (s *Session) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked()
}

func (s *Session) stopLocked() bool {
	if !s.sending {
		return false
	}
	if s.cancel != nil {
		s.cancel()
	}
	return true
}

// Send runs one dialogue turn against the given capsule. A Send while one
// is already in flight is reinterpreted as a cancellation request and
// returns immediately; it is never queued. The user message is appended
// optimistically before the agent call; the outcome is exactly one of
// reply / fallback / stopped / noop.
func (s *Session) Send(ctx context.Context, capsuleID, text string, images []string) (*SendResult, error) {
	s.mu.Lock()
	if s.sending {
		s.stopLocked()
		s.mu.Unlock()
		return &SendResult{Outcome: OutcomeCancelRequested}, nil
	}

	c, err := s.repo.Get(capsuleID)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if c.Sealed {
		s.mu.Unlock()
		return nil, errors.NewCapsuleSealed(capsuleID)
	}

	text = strings.TrimSpace(text)
	if len(images) > s.cfg.MaxAttachments {
		images = images[:s.cfg.MaxAttachments]
	}
	if text == "" && len(images) == 0 {
		s.mu.Unlock()
		return &SendResult{Outcome: OutcomeNoop}, nil
	}

	if err := s.repo.AppendMessage(capsuleID, capsule.Message{
		Role:          capsule.RoleUser,
		Content:       text,
		ImageDataURLs: images,
	}); err != nil {
		s.mu.Unlock()
		return nil, err
	}

	// Auto-title while the title is still a recognized default. Best-effort;
	// a cosmetic failure must not abort the send.
	if capsule.IsDefaultTitle(c.Title) {
		_ = s.repo.SetTitle(capsuleID, c.AutoTitle())
	}

	settings, err := s.repo.Settings()
	if err != nil {
		settings = capsule.Settings{AgentProxyURL: s.cfg.AgentProxyURL}
	}
	gw := s.newAgent(settings.AgentProxyURL)
	messages := agent.BuildMessages(c.History, s.cfg.MaxAttachments)

	callCtx, cancel := context.WithCancel(ctx)
	s.sending = true
	s.cancel = cancel
	s.status = Status{Kind: StatusConnecting, Label: "连接中…"}
	s.mu.Unlock()

	reply, callErr := gw.Call(callCtx, SystemPrompt, messages)
	cancelled := callCtx.Err() != nil
	cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	// Leave Sending strictly before appending the assistant message, so a
	// re-render triggered by the append does not resurrect the typing
	// indicator for a turn that has already completed.
	s.sending = false
	s.cancel = nil

	switch {
	case cancelled || errors.Is(callErr, errors.ErrCancelled):
		// User abort: no fabricated content; a reply that raced the abort
		// is discarded rather than applied.
		s.status = Status{Kind: StatusStopped, Label: "已停止"}
		if !s.cfg.TransientStoppedNotice {
			if err := s.appendAssistant(capsuleID, StoppedNotice); err != nil {
				return nil, err
			}
		}
		return &SendResult{Outcome: OutcomeStopped, Notice: StoppedNotice}, nil

	case callErr != nil:
		// Unreachable or degraded agent: substitute a local follow-up
		// question so the conversation still advances.
		s.status = Status{Kind: StatusOffline, Label: "离线 · 未连接代理"}
		fb := s.fallbackReply(text)
		if err := s.appendAssistant(capsuleID, fb); err != nil {
			return nil, err
		}
		return &SendResult{Outcome: OutcomeFallback, Reply: fb}, nil

	default:
		replyText := strings.TrimSpace(reply.Reply)
		label := "在线"
		if tag := joinTag(reply.Provider, reply.Model); tag != "" {
			label = "在线 · " + tag
		}
		s.status = Status{Kind: StatusOnline, Label: label}
		if replyText == "" {
			// Empty replies are dropped: nothing is appended.
			return &SendResult{Outcome: OutcomeReply, Provider: reply.Provider, Model: reply.Model}, nil
		}
		if err := s.appendAssistant(capsuleID, replyText); err != nil {
			return nil, err
		}
		return &SendResult{
			Outcome:  OutcomeReply,
			Reply:    replyText,
			Provider: reply.Provider,
			Model:    reply.Model,
		}, nil
	}
}

// Probe checks the configured endpoint and updates the status indicator.
// Failures never block sending; they only affect the indicator.
func (s *Session) Probe(ctx context.Context) (*agent.Health, error) {
	s.mu.Lock()
	settings, err := s.repo.Settings()
	if err != nil {
		settings = capsule.Settings{AgentProxyURL: s.cfg.AgentProxyURL}
	}
	gw := s.newAgent(settings.AgentProxyURL)
	s.mu.Unlock()

	h, err := gw.Probe(ctx, SystemPrompt)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.status = Status{Kind: StatusOffline, Label: "离线 · 代理不可用"}
		return nil, err
	}
	label := "在线"
	if h.Model != "" {
		label = "在线 · " + h.Model
	}
	s.status = Status{Kind: StatusOnline, Label: label}
	return h, nil
}

func (s *Session) appendAssistant(capsuleID, text string) error {
	return s.repo.AppendMessage(capsuleID, capsule.Message{
		Role:    capsule.RoleAssistant,
		Content: text,
	})
}

// fallbackReply picks a pseudo-random open-ended question; an all-image
// send gets the fixed gentle line.
func (s *Session) fallbackReply(userText string) string {
	if strings.TrimSpace(userText) == "" {
		return fallbackEmptyText
	}
	return fallbackReplies[s.rng.Intn(len(fallbackReplies))]
}

func joinTag(provider, model string) string {
	parts := make([]string, 0, 2)
	if provider != "" {
		parts = append(parts, provider)
	}
	if model != "" {
		parts = append(parts, model)
	}
	return strings.Join(parts, " ")
}
