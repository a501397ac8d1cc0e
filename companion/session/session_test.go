package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/BaSui01/aura/companion/dispatch"
	"github.com/BaSui01/aura/companion/history"
	"github.com/BaSui01/aura/companion/intervention"
	"github.com/BaSui01/aura/companion/score"
	"github.com/BaSui01/aura/companion/snapshot"
	"github.com/BaSui01/aura/companion/tasks"
	"github.com/BaSui01/aura/internal/metrics"
	"github.com/BaSui01/aura/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type toolResponse struct {
	CallID  string
	Content string
}

type fakeOutbound struct {
	mu        sync.Mutex
	responses []toolResponse
	settings  []string
	err       error
}

func (f *fakeOutbound) SendToolResponse(_ context.Context, callID, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.responses = append(f.responses, toolResponse{callID, content})
	return nil
}

func (f *fakeOutbound) SendSessionSettings(_ context.Context, prompt string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.settings = append(f.settings, prompt)
	return nil
}

func (f *fakeOutbound) snapshot() ([]toolResponse, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]toolResponse(nil), f.responses...), append([]string(nil), f.settings...)
}

type fakeRecorder struct {
	mu     sync.Mutex
	events []string
	scores map[string]int
	tools  []string
}

func (r *fakeRecorder) RecordEvent(kind string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, kind)
}

func (r *fakeRecorder) RecordScore(axis string, v int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.scores == nil {
		r.scores = map[string]int{}
	}
	r.scores[axis] = v
}

func (r *fakeRecorder) RecordToolCall(tool string, _, _ bool, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools = append(r.tools, tool)
}

func (r *fakeRecorder) RecordUnrecognizedAction(string, string) {}

func newAura(t *testing.T, opts ...Option) *Session {
	t.Helper()
	s, err := New(DefaultConfig(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func userMessage(content string, prosody map[string]float64) Event {
	return Event{Type: EventUserMessage, Content: content, Prosody: prosody}
}

func TestNew_UnknownVariant(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Variant = "robot"
	_, err := New(cfg)
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))
}

func TestSession_UserMessageScoresAndAppendsHistory(t *testing.T) {
	rec := &fakeRecorder{}
	s := newAura(t, WithRecorder(rec))
	ctx := context.Background()

	require.NoError(t, s.Handle(ctx, userMessage("I'm swamped", map[string]float64{"Distress": 0.1, "Relief": 0.1})))

	st := s.State()
	assert.Equal(t, map[string]int{"stress": 79}, st.Scores)
	require.Len(t, st.History, 1)
	assert.Equal(t, 79, st.History[0].Scores["stress"])
	require.Len(t, st.Transcript, 1)
	assert.Equal(t, "user", st.Transcript[0].Role)
	assert.Equal(t, 0.1, st.Emotions["Distress"])
	assert.Equal(t, 79, rec.scores["stress"])
	assert.Equal(t, []string{EventUserMessage}, rec.events)
}

func TestSession_MessageWithoutProsodyKeepsScores(t *testing.T) {
	s := newAura(t)
	ctx := context.Background()

	require.NoError(t, s.Handle(ctx, userMessage("hi", map[string]float64{"anxiety": 0.02})))
	require.NoError(t, s.Handle(ctx, userMessage("no prosody", nil)))

	assert.Equal(t, 15, s.Scores()["stress"])
	assert.Equal(t, 1, s.History().Len())
	assert.Len(t, s.State().Transcript, 2)
}

func TestSession_EmptyProsodyScoresZero(t *testing.T) {
	s := newAura(t)
	require.NoError(t, s.Handle(context.Background(), userMessage("calm", map[string]float64{})))
	assert.Equal(t, 0, s.Scores()["stress"])
	assert.Equal(t, 1, s.History().Len())
}

func TestSession_InterimOnlyUpdatesLiveTranscript(t *testing.T) {
	s := newAura(t)
	ev := userMessage("I'm thinking", map[string]float64{"anxiety": 1})
	ev.Interim = true
	require.NoError(t, s.Handle(context.Background(), ev))

	st := s.State()
	assert.Equal(t, "I'm thinking", st.LiveTranscript)
	assert.Empty(t, st.Transcript)
	assert.Empty(t, st.History)
	assert.Equal(t, 0, st.Scores["stress"])

	require.NoError(t, s.Handle(context.Background(), userMessage("done", nil)))
	assert.Empty(t, s.State().LiveTranscript)
}

func TestSession_HistoryCapacity(t *testing.T) {
	s := newAura(t)
	for i := 0; i < 25; i++ {
		require.NoError(t, s.Handle(context.Background(), userMessage(fmt.Sprint(i), map[string]float64{"anxiety": float64(i) / 100})))
	}
	entries := s.State().History
	require.Len(t, entries, history.DefaultCapacity)

	// 最后一条对应 i=24
	assert.Equal(t, s.Scores()["stress"], entries[len(entries)-1].Scores["stress"])
}

func TestSession_TranscriptBounded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TranscriptLimit = 3
	s, err := New(cfg)
	require.NoError(t, err)
	defer s.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Handle(context.Background(), userMessage(fmt.Sprint(i), nil)))
	}
	tr := s.State().Transcript
	require.Len(t, tr, 3)
	assert.Equal(t, "2", tr[0].Text)
	assert.Equal(t, "4", tr[2].Text)
}

func TestSession_VoiceStates(t *testing.T) {
	s := newAura(t)
	ctx := context.Background()
	assert.Equal(t, VoiceIdle, s.State().VoiceState)

	require.NoError(t, s.Handle(ctx, Event{Type: EventAssistantMessage, Content: "How are you?"}))
	assert.Equal(t, VoiceSpeaking, s.State().VoiceState)

	require.NoError(t, s.Handle(ctx, Event{Type: EventAssistantEnd}))
	assert.Equal(t, VoiceListening, s.State().VoiceState)

	require.NoError(t, s.Handle(ctx, Event{Type: EventAssistantMessage, Content: "Let's"}))
	require.NoError(t, s.Handle(ctx, Event{Type: EventUserInterruption}))
	assert.Equal(t, VoiceListening, s.State().VoiceState)

	require.NoError(t, s.Handle(ctx, Event{Type: "chat_metadata"}))
	assert.Len(t, s.State().Transcript, 2)
}

func TestSession_Lifecycle(t *testing.T) {
	s := newAura(t)
	ctx := context.Background()
	out := &fakeOutbound{}

	require.NoError(t, s.Begin())
	assert.Equal(t, StatusConnecting, s.State().Status)

	require.NoError(t, s.Open(ctx, out))
	st := s.State()
	assert.Equal(t, StatusActive, st.Status)
	assert.Equal(t, VoiceListening, st.VoiceState)
	assert.True(t, types.IsErrorCode(s.Begin(), types.ErrConflict))

	require.NoError(t, s.Handle(ctx, Event{Type: EventError, Error: "socket hang up"}))
	st = s.State()
	assert.Equal(t, StatusError, st.Status)
	assert.Equal(t, "socket hang up", st.LastError)

	s.Disconnect()
	st = s.State()
	assert.Equal(t, StatusIdle, st.Status)
	assert.Equal(t, VoiceIdle, st.VoiceState)

	s.Fail(errors.New("dial failed"))
	assert.Equal(t, StatusError, s.State().Status)
	require.NoError(t, s.Begin())
	assert.Empty(t, s.State().LastError)
}

func TestSession_ToolCallRespondsAndSyncsInstructions(t *testing.T) {
	s := newAura(t)
	ctx := context.Background()
	out := &fakeOutbound{}
	require.NoError(t, s.Open(ctx, out))

	_, settings := out.snapshot()
	require.Len(t, settings, 1)
	assert.Contains(t, settings[0], "- [2] Calculus Assignment (medium priority, status: pending, due: today)")

	require.NoError(t, s.Handle(ctx, Event{
		Type: EventToolCall,
		Tool: &dispatch.ToolCall{
			Name:       dispatch.ToolManageBurnout,
			CallID:     "call-1",
			Parameters: json.RawMessage(`{"task_id":"2","adjustment_type":"postpone"}`),
		},
	}))

	responses, settings := out.snapshot()
	require.Len(t, responses, 1)
	assert.Equal(t, toolResponse{"call-1", `Postponed "Calculus Assignment" to tomorrow.`}, responses[0])
	require.Len(t, settings, 2)
	assert.Contains(t, settings[1], "- [2] Calculus Assignment (medium priority, status: postponed, due: tomorrow)")

	task, _ := s.Tasks().Get("2")
	assert.Equal(t, tasks.DayTomorrow, task.Day)

	// 同样的任务状态不重复同步
	require.NoError(t, s.Handle(ctx, Event{
		Type: EventToolCall,
		Tool: &dispatch.ToolCall{Name: dispatch.ToolManageBurnout, CallID: "call-2", Parameters: json.RawMessage(`{"task_id":"99"}`)},
	}))
	responses, settings = out.snapshot()
	assert.Len(t, settings, 2)
	assert.Contains(t, responses[1].Content, "Available IDs: 1, 2, 3")
}

func TestSession_ToolCallWithoutCallIDOrUnknownTool(t *testing.T) {
	s := newAura(t)
	ctx := context.Background()
	out := &fakeOutbound{}
	require.NoError(t, s.Open(ctx, out))

	require.NoError(t, s.Handle(ctx, Event{Type: EventToolCall, Tool: &dispatch.ToolCall{
		Name: dispatch.ToolManageBurnout, Parameters: json.RawMessage(`{"task_id":1,"status":"done"}`),
	}}))
	require.NoError(t, s.Handle(ctx, Event{Type: EventToolCall, Tool: &dispatch.ToolCall{Name: "mystery", CallID: "x"}}))
	require.NoError(t, s.Handle(ctx, Event{Type: EventToolCall}))

	responses, _ := out.snapshot()
	assert.Empty(t, responses)
	task, _ := s.Tasks().Get("1")
	assert.Equal(t, tasks.StatusCompleted, task.Status)
}

func TestSession_ToolResponseSendFailureIsSwallowed(t *testing.T) {
	s := newAura(t)
	ctx := context.Background()
	out := &fakeOutbound{}
	require.NoError(t, s.Open(ctx, out))

	out.mu.Lock()
	out.err = errors.New("broken pipe")
	out.mu.Unlock()

	err := s.Handle(ctx, Event{Type: EventToolCall, Tool: &dispatch.ToolCall{
		Name: dispatch.ToolManageBurnout, CallID: "c", Parameters: json.RawMessage(`{"task_id":"3","adjustment_type":"cancel"}`),
	}})
	assert.NoError(t, err)
	task, _ := s.Tasks().Get("3")
	assert.Equal(t, tasks.StatusCancelled, task.Status)
}

func TestSession_ElderLinkInterventions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Variant = VariantElderLink
	cfg.AlertTimeout = 30 * time.Millisecond
	s, err := New(cfg)
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	out := &fakeOutbound{}
	require.NoError(t, s.Open(ctx, out))

	st := s.State()
	assert.Nil(t, st.Tasks)
	require.NotNil(t, st.Profile)
	assert.Equal(t, "Mary", st.Profile.Name)
	assert.ElementsMatch(t, []string{"loneliness", "confusion", "distress"}, keys(st.Scores))

	require.NoError(t, s.Handle(ctx, Event{Type: EventToolCall, Tool: &dispatch.ToolCall{
		Name:       dispatch.ToolNotifyFamily,
		CallID:     "n1",
		Parameters: json.RawMessage(`{"familyMember":"Sarah","message":"Mom would like a call"}`),
	}}))

	cur := s.Slot().Current()
	assert.Equal(t, intervention.TypeFamilyAlert, cur.Type)
	assert.Equal(t, "low", cur.Params["urgency"])

	responses, settings := out.snapshot()
	require.Len(t, responses, 1)
	assert.Equal(t, "n1", responses[0].CallID)
	require.Len(t, settings, 2)
	assert.True(t, strings.HasSuffix(settings[1], "family_alert (familyMember=Sarah, message=Mom would like a call, urgency=low)"))

	assert.Eventually(t, func() bool {
		return s.Slot().Current().Type == intervention.TypeNone
	}, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool {
		_, settings := out.snapshot()
		return len(settings) == 3 && strings.HasSuffix(settings[2], "CURRENT INTERVENTION: none")
	}, time.Second, 5*time.Millisecond)
}

func TestSession_ElderScoring(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Variant = VariantElderLink
	s, err := New(cfg)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Handle(context.Background(), userMessage("where am I", map[string]float64{"Confusion": 0.1})))
	scores := s.Scores()
	assert.Equal(t, 90, scores["confusion"])
	assert.Equal(t, 0, scores["loneliness"])
}

type memorySink struct {
	mu    sync.Mutex
	saved []snapshot.Snapshot
}

func (m *memorySink) Name() string { return "memory" }

func (m *memorySink) Save(_ context.Context, snap snapshot.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, snap)
	return nil
}

func TestSession_SnapshotsOffered(t *testing.T) {
	sink := &memorySink{}
	syncer := snapshot.NewSyncer(sink, snapshot.WithInterval(time.Hour))
	s := newAura(t, WithSnapshotSyncer(syncer))
	ctx := context.Background()

	// 空闲时不保存
	require.NoError(t, s.Handle(ctx, userMessage("hi", map[string]float64{"anxiety": 0.02})))
	assert.Empty(t, sink.saved)

	require.NoError(t, s.Open(ctx, &fakeOutbound{}))
	require.NoError(t, s.Handle(ctx, userMessage("again", map[string]float64{"anxiety": 0.02})))

	require.Eventually(t, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return len(sink.saved) == 1
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, s.Close())

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.saved, 1)
	snap := sink.saved[0]
	assert.Equal(t, s.ID(), snap.SessionID)
	assert.Equal(t, "aura", snap.Variant)
	assert.Equal(t, "listening", snap.VoiceState)
	assert.Equal(t, 15, snap.Scores["stress"])
	require.NotNil(t, snap.Tasks)
	assert.Equal(t, 3, snap.Tasks.Pending)
}

// hangingSink 阻塞到保存超时或同步器关闭。
type hangingSink struct{ calls chan struct{} }

func (h *hangingSink) Name() string { return "hanging" }

func (h *hangingSink) Save(ctx context.Context, _ snapshot.Snapshot) error {
	h.calls <- struct{}{}
	<-ctx.Done()
	return ctx.Err()
}

func TestSession_HungSinkDoesNotBlockEvents(t *testing.T) {
	sink := &hangingSink{calls: make(chan struct{}, 16)}
	syncer := snapshot.NewSyncer(sink, snapshot.WithInterval(time.Nanosecond), snapshot.WithSaveTimeout(time.Minute))
	s := newAura(t, WithSnapshotSyncer(syncer))
	ctx := context.Background()
	out := &fakeOutbound{}

	start := time.Now()
	require.NoError(t, s.Open(ctx, out))
	<-sink.calls
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Handle(ctx, userMessage("still here", map[string]float64{"anxiety": 0.02})))
	}
	resp := s.Dispatch(ctx, dispatch.ToolCall{
		Name:       dispatch.ToolManageBurnout,
		Parameters: json.RawMessage(`{"task_id":"1","adjustment_type":"done"}`),
	})
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.True(t, resp.Success)

	// 关闭会中断卡住的保存
	require.NoError(t, s.Close())
}

func TestSession_Reset(t *testing.T) {
	s := newAura(t)
	require.NoError(t, s.Handle(context.Background(), userMessage("hi", map[string]float64{"anxiety": 0.02})))
	s.Reset()

	st := s.State()
	assert.Equal(t, 0, st.Scores["stress"])
	assert.Empty(t, st.History)
	assert.Empty(t, st.Transcript)
	assert.Nil(t, st.Emotions)
}

func TestSession_NilCollectorIsIgnored(t *testing.T) {
	var c *metrics.Collector
	s := newAura(t, WithRecorder(c))

	require.NotPanics(t, func() {
		require.NoError(t, s.Handle(context.Background(), userMessage("hi", map[string]float64{"anxiety": 0.02})))
	})
	assert.Positive(t, s.Scores()["stress"])
	assert.True(t, s.Dispatch(context.Background(), dispatch.ToolCall{
		Name:       dispatch.ToolManageBurnout,
		Parameters: json.RawMessage(`{"task_id":"1","adjustment_type":"done"}`),
	}).Handled)
}

func TestSession_Recalibrate(t *testing.T) {
	s := newAura(t)
	msg := userMessage("hi", map[string]float64{"anxiety": 0.02})
	require.NoError(t, s.Handle(context.Background(), msg))
	before := s.Scores()["stress"]
	require.Positive(t, before)

	cal := score.DefaultCalibration()
	cal.Multiplier *= 2
	s.Recalibrate(cal)
	assert.Equal(t, before, s.Scores()["stress"], "existing scores are kept")

	require.NoError(t, s.Handle(context.Background(), msg))
	assert.InDelta(t, 2*before, s.Scores()["stress"], 1)
}

func TestSession_Close(t *testing.T) {
	s, err := New(DefaultConfig())
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	err = s.Handle(context.Background(), userMessage("late", nil))
	assert.True(t, types.IsErrorCode(err, types.ErrSessionClosed))
	assert.True(t, types.IsErrorCode(s.Begin(), types.ErrSessionClosed))
	assert.False(t, s.Dispatch(context.Background(), dispatch.ToolCall{Name: dispatch.ToolManageBurnout}).Handled)
}

func keys(m map[string]int) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
