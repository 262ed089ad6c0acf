package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"callscribe/internal/domain"
	"callscribe/internal/metrics"
	"callscribe/internal/ports"
)

const readSize = domain.FrameSamples * 4

// defaultFrameBuffer keeps at most one frame queued behind the one being sent.
const defaultFrameBuffer = 2

// EngineConfig controls capture engine behavior.
type EngineConfig struct {
	Audio       ports.AudioConfig
	FrameBuffer int
}

// Engine owns the microphone stream for one recording and frames it into PCM packets.
// Sample acquisition runs on its own goroutine and only hands frames off through Frames().
type Engine struct {
	capture ports.AudioCapture
	lister  ports.DeviceLister
	cfg     EngineConfig
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	session  ports.AudioSession
	deviceID string
	started  bool
	closed   bool

	paused    atomic.Bool
	frames    chan domain.PcmFrame
	errs      chan error
	closing   chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// NewEngine builds an engine; lister may be nil to skip device validation.
func NewEngine(capture ports.AudioCapture, lister ports.DeviceLister, cfg EngineConfig, logger *slog.Logger, m *metrics.Metrics) *Engine {
	if cfg.FrameBuffer <= 0 {
		cfg.FrameBuffer = defaultFrameBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		capture: capture,
		lister:  lister,
		cfg:     cfg,
		logger:  logger.With("component", "capture"),
		metrics: m,
		frames:  make(chan domain.PcmFrame, cfg.FrameBuffer),
		errs:    make(chan error, 1),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Open acquires an exclusive input stream bound to deviceID.
func (e *Engine) Open(ctx context.Context, deviceID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return fmt.Errorf("%w: capture engine is closed", domain.ErrDeviceUnavailable)
	}
	if e.session != nil {
		return errors.New("capture engine is already open")
	}

	if e.lister != nil && deviceID != "" {
		devices, err := e.lister.ListDevices(ctx)
		if err != nil {
			e.logger.Warn("device listing failed, opening without validation", "device", deviceID, "error", err)
		} else if !containsDevice(devices, deviceID) {
			return fmt.Errorf("%w: %s", domain.ErrDeviceUnavailable, deviceID)
		}
	}

	cfg := e.cfg.Audio
	cfg.SampleRate = domain.SampleRate
	cfg.Channels = 1
	if deviceID != "" {
		cfg.InputDevice = deviceID
	}

	session, err := e.capture.Start(ctx, cfg)
	if err != nil {
		if errors.Is(err, domain.ErrDeviceUnavailable) || errors.Is(err, domain.ErrPermissionDenied) {
			return err
		}
		return fmt.Errorf("%w: %v", domain.ErrDeviceUnavailable, err)
	}

	e.session = session
	e.deviceID = cfg.InputDevice
	e.logger.Info("capture stream opened", "device", e.deviceID)
	return nil
}

// Start begins producing frames on Frames().
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed || e.session == nil {
		return errors.New("capture engine is not open")
	}
	if e.started {
		return nil
	}
	e.started = true
	go e.produce(e.session)
	return nil
}

// Pause stops frame emission while keeping the stream open.
func (e *Engine) Pause() {
	e.paused.Store(true)
}

// Resume re-enables frame emission.
func (e *Engine) Resume() {
	e.paused.Store(false)
}

// Frames is closed once the producer has exited.
func (e *Engine) Frames() <-chan domain.PcmFrame {
	return e.frames
}

// Errors reports stream loss while recording.
func (e *Engine) Errors() <-chan error {
	return e.errs
}

// Close releases the stream and stops the producer. It is idempotent.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		session := e.session
		started := e.started
		e.mu.Unlock()

		close(e.closing)
		if session != nil {
			e.closeErr = session.Stop()
		}
		if started {
			<-e.done
		} else {
			close(e.frames)
		}
		if session != nil {
			e.logger.Info("capture stream released", "device", e.deviceID)
		}
	})
	return e.closeErr
}

func (e *Engine) produce(src io.Reader) {
	defer close(e.done)
	defer close(e.frames)

	var framer Framer
	var decoder sampleDecoder
	buf := make([]byte, readSize)

	emit := func(frame domain.PcmFrame) bool {
		select {
		case e.frames <- frame:
			e.metrics.FrameCaptured()
			return true
		case <-e.closing:
			return false
		}
	}

	for {
		n, err := src.Read(buf)
		if n > 0 {
			samples := decoder.Decode(buf[:n])
			if e.paused.Load() {
				framer.Reset()
			} else if !framer.Write(samples, emit) {
				return
			}
		}
		if err != nil {
			select {
			case <-e.closing:
				return
			default:
			}
			if errors.Is(err, io.EOF) {
				err = errors.New("audio stream ended unexpectedly")
			}
			e.report(fmt.Errorf("%w: %v", domain.ErrEngine, err))
			return
		}
	}
}

func (e *Engine) report(err error) {
	e.logger.Error("capture stream lost", "device", e.deviceID, "error", err)
	select {
	case e.errs <- err:
	default:
	}
}

func containsDevice(devices []domain.AudioDevice, id string) bool {
	for _, device := range devices {
		if device.ID == id {
			return true
		}
	}
	return false
}
