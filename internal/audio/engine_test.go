package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"callscribe/internal/domain"
	"callscribe/internal/ports"
)

func TestEngineEmitsTwoZeroFramesFor1600Samples(t *testing.T) {
	t.Parallel()

	source := newChanSession()
	capture := &fakeCapture{session: source}
	engine := newTestEngine(capture, nil)

	if err := engine.Open(context.Background(), "mic-1"); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if err := engine.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if capture.cfg.InputDevice != "mic-1" || capture.cfg.SampleRate != domain.SampleRate || capture.cfg.Channels != 1 {
		t.Fatalf("unexpected capture config: %+v", capture.cfg)
	}

	source.feed(floatBytes(make([]float32, 1600)))

	zero := make([]byte, domain.FrameBytes)
	for i := 0; i < 2; i++ {
		frame := receiveFrame(t, engine)
		if !bytes.Equal(frame, zero) {
			t.Fatalf("frame %d is not 1600 zero bytes (len=%d)", i, len(frame))
		}
	}
	expectNoFrame(t, engine)

	if err := engine.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if _, ok := <-engine.Frames(); ok {
		t.Fatalf("expected frames channel to be closed")
	}
	select {
	case err := <-engine.Errors():
		t.Fatalf("unexpected engine error after close: %v", err)
	default:
	}
}

func TestEnginePauseDiscardsAndResumeContinues(t *testing.T) {
	t.Parallel()

	source := newChanSession()
	engine := newTestEngine(&fakeCapture{session: source}, nil)
	if err := engine.Open(context.Background(), "mic-1"); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if err := engine.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer engine.Close()

	source.feed(floatBytes(constant(400, 0.5)))
	engine.Pause()
	source.feed(floatBytes(constant(800, 0.5)))
	expectNoFrame(t, engine)

	engine.Resume()
	source.feed(floatBytes(constant(800, 0.25)))

	frame := receiveFrame(t, engine)
	for s := 0; s < domain.FrameSamples; s++ {
		if got := int16(binary.LittleEndian.Uint16(frame[s*2:])); got != 8192 {
			t.Fatalf("sample %d = %d, expected only post-resume audio", s, got)
		}
	}
	expectNoFrame(t, engine)
}

func TestEnginePauseResumeWithoutFramesKeepsStreamIntact(t *testing.T) {
	t.Parallel()

	source := newChanSession()
	engine := newTestEngine(&fakeCapture{session: source}, nil)
	if err := engine.Open(context.Background(), ""); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if err := engine.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer engine.Close()

	source.feed(floatBytes(constant(800, 0.25)))
	engine.Pause()
	engine.Resume()
	source.feed(floatBytes(constant(800, 0.5)))

	first := receiveFrame(t, engine)
	second := receiveFrame(t, engine)
	if got := int16(binary.LittleEndian.Uint16(first)); got != 8192 {
		t.Fatalf("unexpected first frame sample %d", got)
	}
	if got := int16(binary.LittleEndian.Uint16(second)); got != 16384 {
		t.Fatalf("unexpected second frame sample %d", got)
	}
	expectNoFrame(t, engine)
}

func TestEngineReportsStreamLoss(t *testing.T) {
	t.Parallel()

	source := newChanSession()
	engine := newTestEngine(&fakeCapture{session: source}, nil)
	if err := engine.Open(context.Background(), "mic-1"); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if err := engine.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	source.unplug()

	select {
	case err := <-engine.Errors():
		if !errors.Is(err, domain.ErrEngine) {
			t.Fatalf("expected ErrEngine, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected engine error after stream loss")
	}

	if err := engine.Close(); err != nil {
		t.Fatalf("close after error failed: %v", err)
	}
}

func TestEngineOpenUnknownDevice(t *testing.T) {
	t.Parallel()

	capture := &fakeCapture{session: newChanSession()}
	lister := fakeLister{devices: []domain.AudioDevice{{ID: "mic-2", Label: "USB"}}}
	engine := newTestEngine(capture, lister)

	err := engine.Open(context.Background(), "mic-1")
	if !errors.Is(err, domain.ErrDeviceUnavailable) {
		t.Fatalf("expected ErrDeviceUnavailable, got %v", err)
	}
	if capture.calls != 0 {
		t.Fatalf("capture should not start for a missing device")
	}
}

func TestEngineOpenWrapsCaptureFailure(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(&fakeCapture{err: errors.New("no such source")}, nil)
	err := engine.Open(context.Background(), "mic-1")
	if !errors.Is(err, domain.ErrDeviceUnavailable) {
		t.Fatalf("expected ErrDeviceUnavailable, got %v", err)
	}

	denied := newTestEngine(&fakeCapture{err: domain.ErrPermissionDenied}, nil)
	if err := denied.Open(context.Background(), "mic-1"); !errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
}

func TestEngineCloseIsIdempotentInAnyState(t *testing.T) {
	t.Parallel()

	unopened := newTestEngine(&fakeCapture{}, nil)
	if err := unopened.Close(); err != nil {
		t.Fatalf("close of unopened engine failed: %v", err)
	}
	if err := unopened.Close(); err != nil {
		t.Fatalf("second close failed: %v", err)
	}
	if err := unopened.Start(); err == nil {
		t.Fatalf("expected start after close to fail")
	}

	source := newChanSession()
	opened := newTestEngine(&fakeCapture{session: source}, nil)
	if err := opened.Open(context.Background(), "mic-1"); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if err := opened.Close(); err != nil {
		t.Fatalf("close of opened engine failed: %v", err)
	}
	if err := opened.Close(); err != nil {
		t.Fatalf("second close failed: %v", err)
	}
	if source.stopCount() != 1 {
		t.Fatalf("expected stream released exactly once, got %d", source.stopCount())
	}
}

func newTestEngine(capture ports.AudioCapture, lister ports.DeviceLister) *Engine {
	return NewEngine(capture, lister, EngineConfig{FrameBuffer: 8}, slog.New(slog.DiscardHandler), nil)
}

func receiveFrame(t *testing.T, engine *Engine) domain.PcmFrame {
	t.Helper()
	select {
	case frame, ok := <-engine.Frames():
		if !ok {
			t.Fatalf("frames channel closed unexpectedly")
		}
		if len(frame) != domain.FrameBytes {
			t.Fatalf("unexpected frame length %d", len(frame))
		}
		return frame
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for frame")
	}
	return nil
}

func expectNoFrame(t *testing.T, engine *Engine) {
	t.Helper()
	select {
	case frame := <-engine.Frames():
		t.Fatalf("unexpected frame of %d bytes", len(frame))
	case <-time.After(30 * time.Millisecond):
	}
}

func constant(n int, v float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func floatBytes(samples []float32) []byte {
	raw := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(s))
	}
	return raw
}

type fakeCapture struct {
	session ports.AudioSession
	err     error
	calls   int
	cfg     ports.AudioConfig
}

func (f *fakeCapture) Start(_ context.Context, cfg ports.AudioConfig) (ports.AudioSession, error) {
	f.calls++
	f.cfg = cfg
	if f.err != nil {
		return nil, f.err
	}
	return f.session, nil
}

type fakeLister struct {
	devices []domain.AudioDevice
	err     error
}

func (f fakeLister) ListDevices(context.Context) ([]domain.AudioDevice, error) {
	return f.devices, f.err
}

// chanSession hands chunks to the engine one Read at a time so tests know
// when a chunk has been fully processed: the next receive only happens once
// the engine loops back into Read.
type chanSession struct {
	chunks  chan []byte
	stopped chan struct{}

	mu    sync.Mutex
	stops int
	once  sync.Once
}

func newChanSession() *chanSession {
	return &chanSession{chunks: make(chan []byte), stopped: make(chan struct{})}
}

func (s *chanSession) feed(raw []byte) {
	for len(raw) > 0 {
		n := min(len(raw), readSize)
		s.chunks <- raw[:n]
		raw = raw[n:]
	}
	s.chunks <- []byte{}
}

func (s *chanSession) unplug() {
	close(s.chunks)
}

func (s *chanSession) Read(p []byte) (int, error) {
	select {
	case chunk, ok := <-s.chunks:
		if !ok {
			return 0, io.EOF
		}
		return copy(p, chunk), nil
	case <-s.stopped:
		return 0, io.ErrClosedPipe
	}
}

func (s *chanSession) Close() error { return s.Stop() }

func (s *chanSession) Stop() error {
	s.mu.Lock()
	s.stops++
	s.mu.Unlock()
	s.once.Do(func() { close(s.stopped) })
	return nil
}

func (s *chanSession) stopCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stops
}

func TestEngineDefaultHandoffIsTight(t *testing.T) {
	t.Parallel()

	engine := NewEngine(nil, nil, EngineConfig{}, slog.New(slog.DiscardHandler), nil)
	if got := cap(engine.frames); got != defaultFrameBuffer || got > 2 {
		t.Fatalf("expected frame handoff of at most 2, got %d", got)
	}
}
