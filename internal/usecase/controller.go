package usecase

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"callscribe/internal/domain"
	"callscribe/internal/metrics"
	"callscribe/internal/ports"
)

// Config controls recording teardown and duration ticking.
type Config struct {
	StopTimeout  time.Duration
	TickInterval time.Duration
}

// RecordingController orchestrates token fetch, streaming session and capture engine
// for one recording at a time.
type RecordingController struct {
	tokens    ports.TokenIssuer
	client    ports.TranscriptionClient
	newEngine ports.EngineFactory
	events    ports.EventSink
	cfg       Config
	logger    *slog.Logger
	metrics   *metrics.Metrics

	view transcriptView

	mu         sync.Mutex
	state      domain.RecordingState
	starting   bool
	current    *activeRecording
	seconds    int
	lastErr    error
	onComplete ports.CompletionFunc
}

func NewRecordingController(
	tokens ports.TokenIssuer,
	client ports.TranscriptionClient,
	newEngine ports.EngineFactory,
	events ports.EventSink,
	cfg Config,
	logger *slog.Logger,
	m *metrics.Metrics,
) *RecordingController {
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 10 * time.Second
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RecordingController{
		tokens:    tokens,
		client:    client,
		newEngine: newEngine,
		events:    events,
		cfg:       cfg,
		logger:    logger.With("component", "recorder"),
		metrics:   m,
		state:     domain.RecordingStateIdle,
	}
}

// OnComplete registers the callback that receives the sealed transcript and latched
// duration when a recording ends. It fires exactly once per recording.
func (c *RecordingController) OnComplete(fn ports.CompletionFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onComplete = fn
}

// Start fetches a token, connects the session and opens the engine on deviceID.
// Any failure releases what was acquired and leaves the controller idle.
func (c *RecordingController) Start(ctx context.Context, deviceID string) error {
	c.mu.Lock()
	if c.starting || c.state.Active() {
		c.mu.Unlock()
		return domain.ErrRecordingActive
	}
	c.starting = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.starting = false
		c.mu.Unlock()
	}()

	token, err := c.tokens.FetchToken(ctx)
	if err != nil {
		return c.startFailed(err)
	}

	session, err := c.client.Connect(ctx, token)
	if err != nil {
		return c.startFailed(err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	engine := c.newEngine()
	if err := engine.Open(runCtx, deviceID); err != nil {
		_ = engine.Close()
		_ = session.Close()
		cancel()
		return c.startFailed(err)
	}
	if err := engine.Start(); err != nil {
		_ = engine.Close()
		_ = session.Close()
		cancel()
		return c.startFailed(err)
	}

	rec := newActiveRecording(cancel, engine, session, newDurationClock(c.cfg.TickInterval))
	c.view.Reset()
	rec.clock.Start(c.events.DurationChanged)

	c.mu.Lock()
	c.current = rec
	c.state = domain.RecordingStateRecording
	c.seconds = 0
	c.lastErr = nil
	c.mu.Unlock()

	c.logger.Info("recording started", "device", deviceID)
	c.events.RecordingStateChanged(domain.RecordingStateRecording, domain.ReasonRecordingStarted)

	go pumpFrames(runCtx, engine.Frames(), session, c.logger, rec.pumpDone)
	go relayTranscript(session, &c.view, c.events, rec.relayDone)
	go c.watch(rec)
	return nil
}

func (c *RecordingController) startFailed(err error) error {
	c.mu.Lock()
	c.lastErr = err
	c.state = domain.RecordingStateIdle
	c.mu.Unlock()

	c.logger.Warn("recording failed to start", "error", err)
	c.events.RecordingError(domain.ErrorCodeFor(err), err.Error())
	c.events.RecordingStateChanged(domain.RecordingStateIdle, domain.ReasonStartFailed)
	return err
}

// Pause suspends capture and transmission while keeping both open.
func (c *RecordingController) Pause() error {
	c.mu.Lock()
	rec := c.current
	if c.state != domain.RecordingStateRecording || rec == nil || rec.claimed.Load() {
		c.mu.Unlock()
		return domain.ErrNotRecording
	}
	rec.engine.Pause()
	rec.session.Pause()
	rec.clock.Pause()
	c.state = domain.RecordingStatePaused
	c.mu.Unlock()

	c.events.RecordingStateChanged(domain.RecordingStatePaused, domain.ReasonPaused)
	return nil
}

func (c *RecordingController) Resume() error {
	c.mu.Lock()
	rec := c.current
	if c.state != domain.RecordingStatePaused || rec == nil || rec.claimed.Load() {
		c.mu.Unlock()
		return domain.ErrNotPaused
	}
	rec.session.Resume()
	rec.engine.Resume()
	rec.clock.Resume()
	c.state = domain.RecordingStateRecording
	c.mu.Unlock()

	c.events.RecordingStateChanged(domain.RecordingStateRecording, domain.ReasonResumed)
	return nil
}

// Stop ends the recording and waits for the server to seal the remaining turns.
// Stopping an already finished recording is a no-op.
func (c *RecordingController) Stop(ctx context.Context) error {
	c.mu.Lock()
	rec := c.current
	state := c.state
	c.mu.Unlock()

	if rec == nil {
		if state == domain.RecordingStateIdle {
			return domain.ErrNoActiveRecording
		}
		return nil
	}
	if !rec.claim() {
		<-rec.finished
		return nil
	}

	rec.engine.Pause()
	rec.session.Pause()
	c.finish(ctx, rec, domain.RecordingStateStopped, domain.ReasonStopped, nil)
	return nil
}

// watch ends the recording when the engine fails or the session ends on its own.
func (c *RecordingController) watch(rec *activeRecording) {
	select {
	case err := <-rec.engine.Errors():
		if err == nil || !rec.claim() {
			return
		}
		c.finish(context.Background(), rec, domain.RecordingStateError, domain.ReasonCaptureFailed, err)
	case <-rec.session.Done():
		if !rec.claim() {
			return
		}
		if err := rec.session.Err(); err != nil || rec.session.State() == domain.SessionStateFailed {
			if err == nil {
				err = domain.ErrTransportClosed
			}
			c.finish(context.Background(), rec, domain.RecordingStateError, domain.ReasonStreamFailed, err)
			return
		}
		c.finish(context.Background(), rec, domain.RecordingStateStopped, domain.ReasonSessionEnded, nil)
	case <-rec.finished:
	}
}

// finish releases every resource of rec and reports the outcome. Callers must hold the claim.
func (c *RecordingController) finish(ctx context.Context, rec *activeRecording, state domain.RecordingState, reason domain.StateReason, cause error) {
	seconds := rec.clock.Stop()

	if err := rec.engine.Close(); err != nil {
		c.logger.Warn("failed to close capture engine", "error", err)
	}

	stopCtx, cancel := context.WithTimeout(ctx, c.cfg.StopTimeout)
	if err := rec.session.Stop(stopCtx); err != nil {
		c.logger.Warn("streaming session did not stop cleanly", "error", err)
		_ = rec.session.Close()
	}
	cancel()
	rec.cancel()

	<-rec.pumpDone
	<-rec.relayDone
	transcript := rec.session.Transcript()
	c.view.Set(domain.TranscriptUpdate{Final: transcript})

	c.mu.Lock()
	if c.current == rec {
		c.current = nil
	}
	c.state = state
	c.seconds = seconds
	if cause != nil {
		c.lastErr = cause
	}
	callback := c.onComplete
	c.mu.Unlock()

	c.metrics.RecordingFinished(string(state), seconds)
	if cause != nil {
		c.logger.Error("recording failed", "reason", reason, "error", cause, "duration_seconds", seconds)
		c.events.RecordingError(domain.ErrorCodeFor(cause), cause.Error())
	} else {
		c.logger.Info("recording finished", "reason", reason, "duration_seconds", seconds)
	}
	c.events.RecordingStateChanged(state, reason)

	rec.completeOnce.Do(func() {
		if callback != nil {
			callback(transcript, seconds)
		}
	})
	close(rec.finished)
}

// Status reports the live or latched recording state.
func (c *RecordingController) Status() domain.Status {
	c.mu.Lock()
	state := c.state
	seconds := c.seconds
	if c.current != nil {
		seconds = c.current.clock.Seconds()
	}
	var message string
	if c.lastErr != nil {
		message = c.lastErr.Error()
	}
	c.mu.Unlock()

	return domain.Status{
		State:           state,
		Active:          state.Active(),
		DurationSeconds: seconds,
		Transcript:      c.view.Text(),
		Message:         message,
	}
}

// LastError returns the cause of the most recent failure, or nil.
func (c *RecordingController) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}
