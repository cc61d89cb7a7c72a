package session

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"memobox/internal/agent"
	"memobox/internal/capsule"
	"memobox/internal/config"
	"memobox/internal/db"
	"memobox/internal/errors"
	"memobox/internal/ops"
)

// fakeAgent substitutes the HTTP gateway in tests.
type fakeAgent struct {
	call  func(ctx context.Context, system string, messages []agent.Message) (*agent.Reply, error)
	probe func(ctx context.Context, system string) (*agent.Health, error)
}

func (f *fakeAgent) Call(ctx context.Context, system string, messages []agent.Message) (*agent.Reply, error) {
	return f.call(ctx, system, messages)
}

func (f *fakeAgent) Probe(ctx context.Context, system string) (*agent.Health, error) {
	return f.probe(ctx, system)
}

func setupSession(t *testing.T, cfg *config.Config) (*Session, *ops.Repo) {
	t.Helper()
	database, err := db.Init(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	repo, err := ops.NewRepo(database, cfg)
	require.NoError(t, err)

	sess := New(repo, cfg)
	sess.SetRand(rand.New(rand.NewSource(1)))
	return sess, repo
}

// waitSending polls until the session reports an in-flight call.
func waitSending(t *testing.T, sess *Session) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !sess.Sending() {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for send to start")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestSend_Reply(t *testing.T) {
	sess, repo := setupSession(t, nil)
	c, err := repo.Create(0, 0, "我的盒子")
	require.NoError(t, err)

	sess.SetAgentFactory(func(rawURL string) Agent {
		return &fakeAgent{call: func(ctx context.Context, system string, messages []agent.Message) (*agent.Reply, error) {
			require.Equal(t, SystemPrompt, system)
			require.Len(t, messages, 1)
			return &agent.Reply{Reply: "  我在听。  ", Provider: "openai", Model: "gpt-test"}, nil
		}}
	})

	res, err := sess.Send(context.Background(), c.ID, "你好吗", nil)
	require.NoError(t, err)
	require.Equal(t, OutcomeReply, res.Outcome)
	require.Equal(t, "我在听。", res.Reply)
	require.Equal(t, "openai", res.Provider)

	require.Len(t, c.History, 2)
	require.Equal(t, capsule.RoleUser, c.History[0].Role)
	require.Equal(t, "你好吗", c.History[0].Content)
	require.Equal(t, capsule.RoleAssistant, c.History[1].Role)
	require.Equal(t, "我在听。", c.History[1].Content)

	st := sess.Status()
	require.Equal(t, StatusOnline, st.Kind)
	require.Equal(t, "在线 · openai gpt-test", st.Label)
	require.False(t, sess.Sending())
}

func TestSend_EmptyReplyDropped(t *testing.T) {
	sess, repo := setupSession(t, nil)
	c, _ := repo.Create(0, 0, "t")

	sess.SetAgentFactory(func(rawURL string) Agent {
		return &fakeAgent{call: func(ctx context.Context, system string, messages []agent.Message) (*agent.Reply, error) {
			return &agent.Reply{Reply: "   "}, nil
		}}
	})

	res, err := sess.Send(context.Background(), c.ID, "写点什么", nil)
	require.NoError(t, err)
	require.Equal(t, OutcomeReply, res.Outcome)
	require.Empty(t, res.Reply)

	// Only the user message: blank replies are never appended.
	require.Len(t, c.History, 1)
	require.Equal(t, capsule.RoleUser, c.History[0].Role)
}

func TestSend_Noop(t *testing.T) {
	sess, repo := setupSession(t, nil)
	c, _ := repo.Create(0, 0, "t")

	called := false
	sess.SetAgentFactory(func(rawURL string) Agent {
		return &fakeAgent{call: func(ctx context.Context, system string, messages []agent.Message) (*agent.Reply, error) {
			called = true
			return &agent.Reply{Reply: "x"}, nil
		}}
	})

	res, err := sess.Send(context.Background(), c.ID, "   ", nil)
	require.NoError(t, err)
	require.Equal(t, OutcomeNoop, res.Outcome)
	require.False(t, called, "empty send must not reach the agent")
	require.Empty(t, c.History)
}

func TestSend_SealedRejected(t *testing.T) {
	sess, repo := setupSession(t, nil)
	c, _ := repo.Create(0, 0, "t")
	_, err := repo.ToggleSeal(c.ID)
	require.NoError(t, err)

	_, err = sess.Send(context.Background(), c.ID, "你好", nil)
	require.True(t, errors.Is(err, errors.ErrCapsuleSealed))
	require.Empty(t, c.History)
}

func TestSend_NotFound(t *testing.T) {
	sess, _ := setupSession(t, nil)
	_, err := sess.Send(context.Background(), "missing", "你好", nil)
	require.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestSend_FallbackOnAgentFailure(t *testing.T) {
	sess, repo := setupSession(t, nil)
	c, _ := repo.Create(0, 0, "t")

	sess.SetAgentFactory(func(rawURL string) Agent {
		return &fakeAgent{call: func(ctx context.Context, system string, messages []agent.Message) (*agent.Reply, error) {
			return nil, errors.NewTransportFailed("connection refused")
		}}
	})

	res, err := sess.Send(context.Background(), c.ID, "我今天很难过", nil)
	require.NoError(t, err)
	require.Equal(t, OutcomeFallback, res.Outcome)
	require.Contains(t, fallbackReplies, res.Reply)

	require.Len(t, c.History, 2)
	require.Equal(t, capsule.RoleAssistant, c.History[1].Role)
	require.Equal(t, res.Reply, c.History[1].Content)

	st := sess.Status()
	require.Equal(t, StatusOffline, st.Kind)
	require.Equal(t, "离线 · 未连接代理", st.Label)

	// A second send against the still-unreachable endpoint falls back
	// again rather than surfacing an error.
	res2, err := sess.Send(context.Background(), c.ID, "还在吗", nil)
	require.NoError(t, err)
	require.Equal(t, OutcomeFallback, res2.Outcome)
	require.Contains(t, fallbackReplies, res2.Reply)

	require.Len(t, c.History, 4)
	require.Equal(t, capsule.RoleAssistant, c.History[3].Role)
	require.Equal(t, res2.Reply, c.History[3].Content)
}

func TestSend_FallbackForImageOnlySend(t *testing.T) {
	sess, repo := setupSession(t, nil)
	c, _ := repo.Create(0, 0, "t")

	sess.SetAgentFactory(func(rawURL string) Agent {
		return &fakeAgent{call: func(ctx context.Context, system string, messages []agent.Message) (*agent.Reply, error) {
			return nil, errors.NewTransportFailed("down")
		}}
	})

	res, err := sess.Send(context.Background(), c.ID, "", []string{"data:image/jpeg;base64,xx"})
	require.NoError(t, err)
	require.Equal(t, OutcomeFallback, res.Outcome)
	require.Equal(t, fallbackEmptyText, res.Reply)
}

func TestSend_StopDiscardsRacedReply(t *testing.T) {
	sess, repo := setupSession(t, nil)
	c, _ := repo.Create(0, 0, "我的盒子")

	sess.SetAgentFactory(func(rawURL string) Agent {
		return &fakeAgent{call: func(ctx context.Context, system string, messages []agent.Message) (*agent.Reply, error) {
			// Block until aborted, then hand back a reply anyway: the
			// session must discard it, not append it.
			<-ctx.Done()
			return &agent.Reply{Reply: "迟到的回复"}, nil
		}}
	})

	resCh := make(chan *SendResult, 1)
	go func() {
		res, err := sess.Send(context.Background(), c.ID, "你好", nil)
		require.NoError(t, err)
		resCh <- res
	}()

	waitSending(t, sess)
	require.True(t, sess.Stop())

	res := <-resCh
	require.Equal(t, OutcomeStopped, res.Outcome)
	require.Equal(t, StoppedNotice, res.Notice)
	require.False(t, sess.Sending())

	// History: the user message, then the stopped notice. Never the reply.
	require.Len(t, c.History, 2)
	require.Equal(t, capsule.RoleAssistant, c.History[1].Role)
	require.Equal(t, StoppedNotice, c.History[1].Content)

	require.Equal(t, StatusStopped, sess.Status().Kind)
}

func TestSend_TransientStoppedNotice(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.TransientStoppedNotice = true
	sess, repo := setupSession(t, cfg)
	c, _ := repo.Create(0, 0, "t")

	sess.SetAgentFactory(func(rawURL string) Agent {
		return &fakeAgent{call: func(ctx context.Context, system string, messages []agent.Message) (*agent.Reply, error) {
			<-ctx.Done()
			return nil, errors.NewCancelled()
		}}
	})

	resCh := make(chan *SendResult, 1)
	go func() {
		res, err := sess.Send(context.Background(), c.ID, "你好", nil)
		require.NoError(t, err)
		resCh <- res
	}()

	waitSending(t, sess)
	sess.Stop()

	res := <-resCh
	require.Equal(t, OutcomeStopped, res.Outcome)
	require.Equal(t, StoppedNotice, res.Notice)

	// Notice reported but not persisted.
	require.Len(t, c.History, 1)
	require.Equal(t, capsule.RoleUser, c.History[0].Role)
}

func TestSend_WhileSendingBecomesCancelRequest(t *testing.T) {
	sess, repo := setupSession(t, nil)
	c, _ := repo.Create(0, 0, "t")

	sess.SetAgentFactory(func(rawURL string) Agent {
		return &fakeAgent{call: func(ctx context.Context, system string, messages []agent.Message) (*agent.Reply, error) {
			<-ctx.Done()
			return nil, errors.NewCancelled()
		}}
	})

	resCh := make(chan *SendResult, 1)
	go func() {
		res, err := sess.Send(context.Background(), c.ID, "第一句", nil)
		require.NoError(t, err)
		resCh <- res
	}()

	waitSending(t, sess)

	// A second send while in flight cancels the first and appends nothing.
	res2, err := sess.Send(context.Background(), c.ID, "第二句", nil)
	require.NoError(t, err)
	require.Equal(t, OutcomeCancelRequested, res2.Outcome)

	res1 := <-resCh
	require.Equal(t, OutcomeStopped, res1.Outcome)

	// Only the first user message and its stopped notice exist.
	require.Len(t, c.History, 2)
	require.Equal(t, "第一句", c.History[0].Content)
}

func TestSend_AutoTitlesDefaultTitleOnly(t *testing.T) {
	sess, repo := setupSession(t, nil)
	c, _ := repo.Create(0, 0, "")

	sess.SetAgentFactory(func(rawURL string) Agent {
		return &fakeAgent{call: func(ctx context.Context, system string, messages []agent.Message) (*agent.Reply, error) {
			return &agent.Reply{Reply: "好的"}, nil
		}}
	})

	_, err := sess.Send(context.Background(), c.ID, "梦境 梦境 星空", nil)
	require.NoError(t, err)
	require.Equal(t, "梦境·星空", c.Title)

	// A user-chosen title is never overwritten.
	require.NoError(t, repo.SetTitle(c.ID, "我的命名"))
	_, err = sess.Send(context.Background(), c.ID, "别的 话题", nil)
	require.NoError(t, err)
	require.Equal(t, "我的命名", c.Title)
}

func TestSend_UsesConfiguredEndpoint(t *testing.T) {
	sess, repo := setupSession(t, nil)
	c, _ := repo.Create(0, 0, "t")

	_, err := repo.SaveSettings(capsule.Settings{AgentProxyURL: "http://localhost:9999/api/chat"})
	require.NoError(t, err)

	var gotURL string
	sess.SetAgentFactory(func(rawURL string) Agent {
		gotURL = rawURL
		return &fakeAgent{call: func(ctx context.Context, system string, messages []agent.Message) (*agent.Reply, error) {
			return &agent.Reply{Reply: "ok"}, nil
		}}
	})

	_, err = sess.Send(context.Background(), c.ID, "你好", nil)
	require.NoError(t, err)
	require.Equal(t, "http://localhost:9999/api/chat", gotURL)
}

func TestProbe_UpdatesStatus(t *testing.T) {
	sess, _ := setupSession(t, nil)

	sess.SetAgentFactory(func(rawURL string) Agent {
		return &fakeAgent{probe: func(ctx context.Context, system string) (*agent.Health, error) {
			return &agent.Health{Provider: "openai", Model: "gpt-test"}, nil
		}}
	})

	h, err := sess.Probe(context.Background())
	require.NoError(t, err)
	require.Equal(t, "gpt-test", h.Model)

	st := sess.Status()
	require.Equal(t, StatusOnline, st.Kind)
	require.Equal(t, "在线 · gpt-test", st.Label)
}

func TestProbe_FailureMarksOffline(t *testing.T) {
	sess, _ := setupSession(t, nil)

	sess.SetAgentFactory(func(rawURL string) Agent {
		return &fakeAgent{probe: func(ctx context.Context, system string) (*agent.Health, error) {
			return nil, errors.NewAgentUnreachable("http://x/api/chat")
		}}
	})

	_, err := sess.Probe(context.Background())
	require.True(t, errors.Is(err, errors.ErrAgentUnreachable))

	st := sess.Status()
	require.Equal(t, StatusOffline, st.Kind)
	require.Equal(t, "离线 · 代理不可用", st.Label)
}

func TestStop_NoInFlightCall(t *testing.T) {
	sess, _ := setupSession(t, nil)
	require.False(t, sess.Stop())
}
