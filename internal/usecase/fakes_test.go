package usecase

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"callscribe/internal/domain"
	"callscribe/internal/ports"
)

type fakeTokens struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (f *fakeTokens) FetchToken(context.Context) (domain.StreamingToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return domain.StreamingToken{}, f.err
	}
	return domain.StreamingToken{Value: "tok", IssuedAt: time.Now(), TTL: time.Minute}, nil
}

type fakeClient struct {
	mu       sync.Mutex
	sessions []*fakeSession
	err      error
	calls    int
}

func (f *fakeClient) Connect(context.Context, domain.StreamingToken) (ports.StreamingSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	session := f.sessions[f.calls]
	f.calls++
	return session, nil
}

type fakeSession struct {
	mu          sync.Mutex
	frames      []domain.PcmFrame
	pauseCalls  int
	resumeCalls int
	stopCalls   int
	closeCalls  int
	state       domain.SessionState
	err         error
	transcript  string
	paused      bool

	updates chan domain.TranscriptUpdate
	done    chan struct{}
	endOnce sync.Once
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		state:   domain.SessionStateStreaming,
		updates: make(chan domain.TranscriptUpdate, 16),
		done:    make(chan struct{}),
	}
}

func (f *fakeSession) SendFrame(_ context.Context, frame domain.PcmFrame) error {
	select {
	case <-f.done:
		return domain.ErrTransportClosed
	default:
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.paused {
		f.frames = append(f.frames, frame)
	}
	return nil
}

func (f *fakeSession) Pause() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pauseCalls++
	f.paused = true
}

func (f *fakeSession) Resume() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resumeCalls++
	f.paused = false
}

func (f *fakeSession) Stop(context.Context) error {
	f.mu.Lock()
	f.stopCalls++
	f.mu.Unlock()
	f.end(domain.SessionStateClosed, nil)
	if f.State() == domain.SessionStateFailed {
		return f.Err()
	}
	return nil
}

func (f *fakeSession) Close() error {
	f.mu.Lock()
	f.closeCalls++
	f.mu.Unlock()
	f.end(domain.SessionStateClosed, nil)
	return nil
}

// emit publishes a snapshot as the real session would after a Turn.
func (f *fakeSession) emit(update domain.TranscriptUpdate) {
	f.mu.Lock()
	f.transcript = update.Final
	f.mu.Unlock()
	f.updates <- update
}

func (f *fakeSession) end(state domain.SessionState, err error) {
	f.endOnce.Do(func() {
		f.mu.Lock()
		f.state = state
		f.err = err
		f.mu.Unlock()
		close(f.updates)
		close(f.done)
	})
}

func (f *fakeSession) State() domain.SessionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeSession) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *fakeSession) Transcript() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.transcript
}

func (f *fakeSession) Updates() <-chan domain.TranscriptUpdate { return f.updates }

func (f *fakeSession) Done() <-chan struct{} { return f.done }

func (f *fakeSession) frameCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

func (f *fakeSession) counts() (pause, resume, stop, closeCalls int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pauseCalls, f.resumeCalls, f.stopCalls, f.closeCalls
}

type fakeEngine struct {
	mu          sync.Mutex
	openErr     error
	startErr    error
	device      string
	pauseCalls  int
	resumeCalls int
	closeCalls  int

	frames    chan domain.PcmFrame
	errs      chan error
	closeOnce sync.Once
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		frames: make(chan domain.PcmFrame, 16),
		errs:   make(chan error, 1),
	}
}

func (f *fakeEngine) Open(_ context.Context, deviceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.device = deviceID
	return f.openErr
}

func (f *fakeEngine) Start() error { return f.startErr }

func (f *fakeEngine) Pause() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pauseCalls++
}

func (f *fakeEngine) Resume() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resumeCalls++
}

func (f *fakeEngine) Close() error {
	f.mu.Lock()
	f.closeCalls++
	f.mu.Unlock()
	f.closeOnce.Do(func() { close(f.frames) })
	return nil
}

func (f *fakeEngine) Frames() <-chan domain.PcmFrame { return f.frames }

func (f *fakeEngine) Errors() <-chan error { return f.errs }

func (f *fakeEngine) closed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCalls
}

type stateEvent struct {
	state  domain.RecordingState
	reason domain.StateReason
}

type errorEvent struct {
	code   domain.ErrorCode
	detail string
}

type fakeEventSink struct {
	mu        sync.Mutex
	states    []stateEvent
	errors    []errorEvent
	updates   []domain.TranscriptUpdate
	durations []int
}

func (f *fakeEventSink) RecordingStateChanged(state domain.RecordingState, reason domain.StateReason) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, stateEvent{state: state, reason: reason})
}

func (f *fakeEventSink) TranscriptUpdated(update domain.TranscriptUpdate) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, update)
}

func (f *fakeEventSink) DurationChanged(seconds int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.durations = append(f.durations, seconds)
}

func (f *fakeEventSink) RecordingError(code domain.ErrorCode, detail string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, errorEvent{code: code, detail: detail})
}

func (f *fakeEventSink) snapshotStates() []stateEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]stateEvent(nil), f.states...)
}

func (f *fakeEventSink) snapshotErrors() []errorEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]errorEvent(nil), f.errors...)
}

func (f *fakeEventSink) snapshotUpdates() []domain.TranscriptUpdate {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.TranscriptUpdate(nil), f.updates...)
}

type completion struct {
	transcript string
	seconds    int
}

type completionRecorder struct {
	mu    sync.Mutex
	calls []completion
}

func (r *completionRecorder) record(transcript string, seconds int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, completion{transcript: transcript, seconds: seconds})
}

func (r *completionRecorder) snapshot() []completion {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]completion(nil), r.calls...)
}

type harness struct {
	controller *RecordingController
	tokens     *fakeTokens
	client     *fakeClient
	engine     *fakeEngine
	session    *fakeSession
	events     *fakeEventSink
	completed  *completionRecorder

	engineMu    sync.Mutex
	engineCalls int
}

func newHarness(cfg Config) *harness {
	h := &harness{
		tokens:    &fakeTokens{},
		engine:    newFakeEngine(),
		session:   newFakeSession(),
		events:    &fakeEventSink{},
		completed: &completionRecorder{},
	}
	h.client = &fakeClient{sessions: []*fakeSession{h.session}}
	h.controller = NewRecordingController(h.tokens, h.client, h.newEngine, h.events, cfg, slog.New(slog.DiscardHandler), nil)
	h.controller.OnComplete(h.completed.record)
	return h
}

func (h *harness) newEngine() ports.CaptureEngine {
	h.engineMu.Lock()
	defer h.engineMu.Unlock()
	h.engineCalls++
	return h.engine
}

func (h *harness) enginesCreated() int {
	h.engineMu.Lock()
	defer h.engineMu.Unlock()
	return h.engineCalls
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}
