package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visor-agent/visor/pkg/agent"
	"github.com/visor-agent/visor/pkg/events"
	"github.com/visor-agent/visor/pkg/session"
	"github.com/visor-agent/visor/pkg/tools"
	"github.com/visor-agent/visor/pkg/verify"
)

// scriptedProvider replays canned delta sequences, one per Stream call.
type scriptedProvider struct {
	mu         sync.Mutex
	turns      [][]agent.Delta
	calls      int
	repeatLast bool
}

func (p *scriptedProvider) Stream(ctx context.Context, messages []agent.Message, schemas []agent.ToolSchema, settings agent.Settings) (<-chan agent.Delta, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx := p.calls
	if idx >= len(p.turns) {
		if !p.repeatLast {
			return nil, errors.New("no scripted turn left")
		}
		idx = len(p.turns) - 1
	}
	p.calls++
	return streamOf(p.turns[idx]...), nil
}

func (p *scriptedProvider) Name() string { return "scripted" }

// memStore is an in-memory session.Store.
type memStore struct {
	mu       sync.Mutex
	sessions map[string]*session.Session
	saves    int
	failSave bool
}

func newMemStore() *memStore {
	return &memStore{sessions: make(map[string]*session.Session)}
}

func cloneSession(s *session.Session) *session.Session {
	out := *s
	out.Messages = make([]agent.Message, len(s.Messages))
	copy(out.Messages, s.Messages)
	return &out
}

func (m *memStore) Create(ctx context.Context, s *session.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; ok {
		return fmt.Errorf("session %s already exists", s.ID)
	}
	m.sessions[s.ID] = cloneSession(s)
	return nil
}

func (m *memStore) Save(ctx context.Context, s *session.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSave {
		return errors.New("disk full")
	}
	m.saves++
	m.sessions[s.ID] = cloneSession(s)
	return nil
}

func (m *memStore) Load(ctx context.Context, id string) (*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, session.ErrNotFound
	}
	return cloneSession(s), nil
}

func (m *memStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

func (m *memStore) List(ctx context.Context) ([]session.Summary, error) {
	return nil, nil
}

// countingTool records how often its handler ran.
type countingTool struct {
	mu    sync.Mutex
	count int
}

func (c *countingTool) handler(ctx context.Context, args agent.Value, tctx *tools.Context) (agent.Value, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count++
	return agent.Object(map[string]agent.Value{"clicked": agent.Bool(true)}), nil
}

func (c *countingTool) executions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// countingCapturer always reports a changed screen and records how often it
// was asked.
type countingCapturer struct {
	mu    sync.Mutex
	calls int
}

func (c *countingCapturer) CaptureAfterAction(ctx context.Context, hint string) (*verify.Capture, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return &verify.Capture{Image: []byte("png-bytes"), MediaType: "image/png", Changed: true}, nil
}

func (c *countingCapturer) captures() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type approvingJudge struct{}

func (approvingJudge) Judge(ctx context.Context, image []byte, mediaType, prompt string) (string, error) {
	return `{"success": true, "confidence": 0.95}`, nil
}

func testSettings() agent.Settings {
	return agent.Settings{Model: "test-model"}
}

func testOptions() agent.Options {
	return agent.Options{MaxSteps: 10, QueuePolicy: agent.QueueAll}
}

func newTestRunner(t *testing.T, provider agent.Provider, store session.Store, sink events.Handler) (*Runner, *countingTool) {
	t.Helper()

	click := &countingTool{}
	registry := tools.NewRegistry(zerolog.Nop())
	require.NoError(t, registry.Register(tools.Definition{
		Name:        "click",
		Description: "Click an element",
		Parameters: []tools.Parameter{
			{Name: "selector", Type: "string", Description: "CSS selector", Required: true},
		},
		Handler: click.handler,
	}))

	r, err := NewRunner(Config{
		Provider: provider,
		Registry: registry,
		Store:    store,
		Sink:     sink,
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)
	return r, click
}

// newGatedRunner is newTestRunner plus a verification gate over the capturer.
func newGatedRunner(t *testing.T, provider agent.Provider, store session.Store, capturer verify.Capturer) (*Runner, *countingTool) {
	t.Helper()

	click := &countingTool{}
	registry := tools.NewRegistry(zerolog.Nop())
	require.NoError(t, registry.Register(tools.Definition{
		Name:        "click",
		Description: "Click an element",
		Parameters: []tools.Parameter{
			{Name: "selector", Type: "string", Description: "CSS selector", Required: true},
		},
		Kind:    verify.ActionClick,
		Handler: click.handler,
	}))

	gate := verify.NewGate(capturer, approvingJudge{}, verify.Options{
		Enabled:    true,
		MaxRetries: 2,
		RetryDelay: time.Millisecond,
	}, zerolog.Nop())

	r, err := NewRunner(Config{
		Provider: provider,
		Registry: registry,
		Store:    store,
		Gate:     gate,
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)
	return r, click
}

func clickArgs() agent.Value {
	return agent.Object(map[string]agent.Value{"selector": agent.String("#save")})
}

func TestNewRunner_Validation(t *testing.T) {
	registry := tools.NewRegistry(zerolog.Nop())
	provider := &scriptedProvider{}
	store := newMemStore()

	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"missing provider", Config{Registry: registry, Store: store}, "provider is required"},
		{"missing registry", Config{Provider: provider, Store: store}, "tool registry is required"},
		{"missing store", Config{Provider: provider, Registry: registry}, "session store is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRunner(tt.cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRunner_Execute_CompletesWithoutTools(t *testing.T) {
	provider := &scriptedProvider{turns: [][]agent.Delta{
		{
			{Type: agent.DeltaText, Text: "Nothing to do."},
			{Type: agent.DeltaDone, Usage: &agent.Usage{InputTokens: 10, OutputTokens: 5}},
		},
	}}
	store := newMemStore()
	r, click := newTestRunner(t, provider, store, nil)

	result, err := r.Execute(context.Background(), RunParams{
		SessionID: "run-1",
		Task:      "do nothing",
		Settings:  testSettings(),
		Options:   testOptions(),
	})
	require.NoError(t, err)

	assert.Equal(t, agent.StopDone, result.Stop)
	assert.True(t, result.Done())
	assert.Equal(t, "Nothing to do.", result.Text)
	assert.Len(t, result.Steps, 1)
	assert.Zero(t, result.ToolCallCount)
	assert.Zero(t, click.executions())

	// system, user task, assistant reply
	require.Len(t, result.Messages, 3)
	assert.Equal(t, agent.RoleSystem, result.Messages[0].Role)
	assert.Equal(t, agent.RoleUser, result.Messages[1].Role)
	assert.Equal(t, agent.RoleAssistant, result.Messages[2].Role)

	saved, err := store.Load(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, string(agent.StopDone), saved.Metadata.Status)
	assert.Equal(t, 10, saved.Metadata.InputTokens)
	assert.Equal(t, 5, saved.Metadata.OutputTokens)
}

func TestRunner_Execute_ToolLoop(t *testing.T) {
	provider := &scriptedProvider{turns: [][]agent.Delta{
		{
			toolCallDelta("call_1", "click", clickArgs()),
			{Type: agent.DeltaDone, Usage: &agent.Usage{InputTokens: 20, OutputTokens: 8}},
		},
		{
			{Type: agent.DeltaText, Text: "Done."},
			{Type: agent.DeltaDone, Usage: &agent.Usage{InputTokens: 30, OutputTokens: 2}},
		},
	}}
	store := newMemStore()
	rec := &eventRecorder{}
	r, click := newTestRunner(t, provider, store, rec.handle)

	result, err := r.Execute(context.Background(), RunParams{
		SessionID: "run-2",
		Task:      "click the Save button",
		Settings:  testSettings(),
		Options:   testOptions(),
	})
	require.NoError(t, err)

	assert.Equal(t, agent.StopDone, result.Stop)
	assert.Equal(t, "Done.", result.Text)
	assert.Len(t, result.Steps, 2)
	assert.Equal(t, 1, result.ToolCallCount)
	assert.Equal(t, 1, click.executions())
	assert.Equal(t, 50, result.Usage.InputTokens)
	assert.Equal(t, 10, result.Usage.OutputTokens)

	// system, user, assistant(tool call), tool result, assistant(final)
	require.Len(t, result.Messages, 5)
	assert.Equal(t, agent.RoleAssistant, result.Messages[2].Role)
	require.Len(t, result.Messages[2].ToolCalls(), 1)
	assert.Equal(t, agent.RoleTool, result.Messages[3].Role)
	assert.Equal(t, agent.RoleAssistant, result.Messages[4].Role)
	assert.Equal(t, "Done.", result.Messages[4].Text())

	kinds := rec.kinds()
	require.NotEmpty(t, kinds)
	assert.Equal(t, events.KindStarted, kinds[0])
	assert.Equal(t, events.KindCompleted, kinds[len(kinds)-1])

	all := rec.all()
	for i := 1; i < len(all); i++ {
		assert.Greater(t, all[i].Seq, all[i-1].Seq, "events must carry increasing sequence numbers")
	}
}

func TestRunner_Execute_MaxSteps(t *testing.T) {
	provider := &scriptedProvider{
		turns: [][]agent.Delta{
			{
				toolCallDelta("call_1", "click", clickArgs()),
				{Type: agent.DeltaDone},
			},
		},
		repeatLast: true,
	}
	store := newMemStore()
	r, click := newTestRunner(t, provider, store, nil)

	opts := testOptions()
	opts.MaxSteps = 3
	result, err := r.Execute(context.Background(), RunParams{
		SessionID: "run-3",
		Task:      "loop forever",
		Settings:  testSettings(),
		Options:   opts,
	})
	require.NoError(t, err)

	assert.Equal(t, agent.StopMaxSteps, result.Stop)
	assert.False(t, result.Done())
	assert.Len(t, result.Steps, 3)
	assert.Equal(t, 3, click.executions())

	saved, err := store.Load(context.Background(), "run-3")
	require.NoError(t, err)
	assert.Equal(t, string(agent.StopMaxSteps), saved.Metadata.Status)
}

func TestRunner_Execute_UnknownToolSkipped(t *testing.T) {
	provider := &scriptedProvider{turns: [][]agent.Delta{
		{
			toolCallDelta("call_1", "teleport", agent.Null()),
			{Type: agent.DeltaDone},
		},
		{
			{Type: agent.DeltaText, Text: "Skipped it."},
			{Type: agent.DeltaDone},
		},
	}}
	store := newMemStore()
	rec := &eventRecorder{}
	r, _ := newTestRunner(t, provider, store, rec.handle)

	result, err := r.Execute(context.Background(), RunParams{
		SessionID: "run-4",
		Task:      "use a tool that does not exist",
		Settings:  testSettings(),
		Options:   testOptions(),
	})
	require.NoError(t, err)
	assert.Equal(t, agent.StopDone, result.Stop)

	// The unknown call leaves no tool message in the transcript.
	for _, msg := range result.Messages {
		assert.NotEqual(t, agent.RoleTool, msg.Role)
	}

	var flagged bool
	for _, evt := range rec.all() {
		if evt.Kind == events.KindToolCallCompleted && evt.ToolCall != nil && evt.ToolCall.Tool == "teleport" {
			flagged = true
			assert.True(t, evt.ToolCall.IsError)
		}
	}
	assert.True(t, flagged, "the skipped call must surface on the event stream")
}

func TestRunner_Execute_SaveErrorPropagates(t *testing.T) {
	provider := &scriptedProvider{turns: [][]agent.Delta{
		{
			toolCallDelta("call_1", "click", clickArgs()),
			{Type: agent.DeltaDone},
		},
	}}
	store := newMemStore()
	store.failSave = true
	r, _ := newTestRunner(t, provider, store, nil)

	_, err := r.Execute(context.Background(), RunParams{
		SessionID: "run-5",
		Task:      "click something",
		Settings:  testSettings(),
		Options:   testOptions(),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "save session")
}

func TestRunner_Execute_ProviderErrorPropagates(t *testing.T) {
	provider := &scriptedProvider{} // no scripted turns
	store := newMemStore()
	r, _ := newTestRunner(t, provider, store, nil)

	_, err := r.Execute(context.Background(), RunParams{
		SessionID: "run-6",
		Task:      "anything",
		Settings:  testSettings(),
		Options:   testOptions(),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider stream")
}

func TestRunner_ContinueSession_AccumulatesMetadata(t *testing.T) {
	provider := &scriptedProvider{turns: [][]agent.Delta{
		{
			{Type: agent.DeltaText, Text: "First answer."},
			{Type: agent.DeltaDone, Usage: &agent.Usage{InputTokens: 10, OutputTokens: 5}},
		},
		{
			{Type: agent.DeltaText, Text: "Second answer."},
			{Type: agent.DeltaDone, Usage: &agent.Usage{InputTokens: 7, OutputTokens: 3}},
		},
	}}
	store := newMemStore()
	r, _ := newTestRunner(t, provider, store, nil)

	first, err := r.Execute(context.Background(), RunParams{
		SessionID: "run-7",
		Task:      "first task",
		Settings:  testSettings(),
		Options:   testOptions(),
	})
	require.NoError(t, err)

	second, err := r.ContinueSession(context.Background(), "run-7", "follow up", testSettings(), testOptions())
	require.NoError(t, err)
	assert.Equal(t, "Second answer.", second.Text)

	// The continuation window keeps the full transcript plus its new turn.
	assert.Greater(t, len(second.Messages), len(first.Messages))

	saved, err := store.Load(context.Background(), "run-7")
	require.NoError(t, err)
	assert.Equal(t, 17, saved.Metadata.InputTokens)
	assert.Equal(t, 8, saved.Metadata.OutputTokens)
}

func TestRunner_ContinueSession_AccumulatesToolCalls(t *testing.T) {
	// Three runs, each a tool-requesting turn followed by a closing turn.
	var turns [][]agent.Delta
	for i := 0; i < 3; i++ {
		turns = append(turns,
			[]agent.Delta{
				toolCallDelta(fmt.Sprintf("call_%d", i+1), "click", clickArgs()),
				{Type: agent.DeltaDone, Usage: &agent.Usage{InputTokens: 10, OutputTokens: 2}},
			},
			[]agent.Delta{
				{Type: agent.DeltaText, Text: fmt.Sprintf("Done %d.", i+1)},
				{Type: agent.DeltaDone, Usage: &agent.Usage{InputTokens: 5, OutputTokens: 1}},
			},
		)
	}
	provider := &scriptedProvider{turns: turns}
	store := newMemStore()
	r, click := newTestRunner(t, provider, store, nil)

	_, err := r.Execute(context.Background(), RunParams{
		SessionID: "run-10",
		Task:      "first click",
		Settings:  testSettings(),
		Options:   testOptions(),
	})
	require.NoError(t, err)

	_, err = r.ContinueSession(context.Background(), "run-10", "click again", testSettings(), testOptions())
	require.NoError(t, err)
	_, err = r.ContinueSession(context.Background(), "run-10", "once more", testSettings(), testOptions())
	require.NoError(t, err)

	assert.Equal(t, 3, click.executions())

	saved, err := store.Load(context.Background(), "run-10")
	require.NoError(t, err)
	assert.Equal(t, 3, saved.Metadata.ToolCallCount, "tool-call totals must accumulate across continuations")
	assert.Equal(t, 45, saved.Metadata.InputTokens)
	assert.Equal(t, 9, saved.Metadata.OutputTokens)
}

func TestRunner_Execute_VerifyOption(t *testing.T) {
	script := func() *scriptedProvider {
		return &scriptedProvider{turns: [][]agent.Delta{
			{
				toolCallDelta("call_1", "click", clickArgs()),
				{Type: agent.DeltaDone},
			},
			{
				{Type: agent.DeltaText, Text: "Done."},
				{Type: agent.DeltaDone},
			},
		}}
	}

	t.Run("should suppress the gate when the run disables verification", func(t *testing.T) {
		capturer := &countingCapturer{}
		store := newMemStore()
		r, click := newGatedRunner(t, script(), store, capturer)

		opts := testOptions()
		opts.Verify = false
		result, err := r.Execute(context.Background(), RunParams{
			SessionID: "run-11",
			Task:      "click save",
			Settings:  testSettings(),
			Options:   opts,
		})
		require.NoError(t, err)
		assert.Equal(t, agent.StopDone, result.Stop)
		assert.Equal(t, 1, click.executions())
		assert.Zero(t, capturer.captures(), "a run with verification off must never capture")
	})

	t.Run("should verify mutating calls when the run enables it", func(t *testing.T) {
		capturer := &countingCapturer{}
		store := newMemStore()
		r, click := newGatedRunner(t, script(), store, capturer)

		opts := testOptions()
		opts.Verify = true
		result, err := r.Execute(context.Background(), RunParams{
			SessionID: "run-12",
			Task:      "click save",
			Settings:  testSettings(),
			Options:   opts,
		})
		require.NoError(t, err)
		assert.Equal(t, agent.StopDone, result.Stop)
		assert.Equal(t, 1, click.executions())
		assert.Equal(t, 1, capturer.captures())
	})
}

func TestRunner_ContinueSession_NotFound(t *testing.T) {
	provider := &scriptedProvider{}
	store := newMemStore()
	r, _ := newTestRunner(t, provider, store, nil)

	_, err := r.ContinueSession(context.Background(), "missing", "hello", testSettings(), testOptions())
	require.Error(t, err)
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestRunner_QueuedMessages_All(t *testing.T) {
	provider := &scriptedProvider{turns: [][]agent.Delta{
		{
			toolCallDelta("call_1", "click", clickArgs()),
			{Type: agent.DeltaDone},
		},
		{
			{Type: agent.DeltaText, Text: "Done."},
			{Type: agent.DeltaDone},
		},
	}}
	store := newMemStore()
	r, _ := newTestRunner(t, provider, store, nil)

	r.QueueUserMessage("run-8", "also check the footer")
	r.QueueUserMessage("run-8", "and the header")

	result, err := r.Execute(context.Background(), RunParams{
		SessionID: "run-8",
		Task:      "click save",
		Settings:  testSettings(),
		Options:   testOptions(),
	})
	require.NoError(t, err)

	var injected []string
	for _, msg := range result.Messages[2:] { // skip seed messages
		if msg.Role == agent.RoleUser {
			injected = append(injected, msg.Text())
		}
	}
	assert.Equal(t, []string{"also check the footer", "and the header"}, injected)
}

func TestRunner_QueuedMessages_OneAtATime(t *testing.T) {
	provider := &scriptedProvider{
		turns: [][]agent.Delta{
			{
				toolCallDelta("call_1", "click", clickArgs()),
				{Type: agent.DeltaDone},
			},
		},
		repeatLast: true,
	}
	store := newMemStore()
	r, _ := newTestRunner(t, provider, store, nil)

	r.QueueUserMessage("run-9", "note one")
	r.QueueUserMessage("run-9", "note two")

	opts := testOptions()
	opts.MaxSteps = 2
	opts.QueuePolicy = agent.QueueOneAtATime
	result, err := r.Execute(context.Background(), RunParams{
		SessionID: "run-9",
		Task:      "keep clicking",
		Settings:  testSettings(),
		Options:   opts,
	})
	require.NoError(t, err)

	var injected []string
	for _, msg := range result.Messages[2:] {
		if msg.Role == agent.RoleUser {
			injected = append(injected, msg.Text())
		}
	}
	// One queued message per completed turn.
	assert.Equal(t, []string{"note one", "note two"}, injected)
}

func TestRunner_Execute_InvalidParams(t *testing.T) {
	provider := &scriptedProvider{}
	store := newMemStore()
	r, _ := newTestRunner(t, provider, store, nil)

	_, err := r.Execute(context.Background(), RunParams{Task: "", Settings: testSettings(), Options: testOptions()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "task cannot be empty")

	_, err = r.Execute(context.Background(), RunParams{Task: "x", Settings: agent.Settings{}, Options: testOptions()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model cannot be empty")
}
