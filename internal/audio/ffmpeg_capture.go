package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"callscribe/internal/domain"
	"callscribe/internal/ports"
)

const (
	startupProbe = 250 * time.Millisecond
	stopGrace    = 1200 * time.Millisecond
)

// FFMPEGCapture reads mono float32 samples from an ffmpeg child process.
type FFMPEGCapture struct {
	command string
}

func NewFFMPEGCapture(command string) *FFMPEGCapture {
	if command == "" {
		command = "ffmpeg"
	}
	return &FFMPEGCapture{command: command}
}

func withCaptureDefaults(cfg ports.AudioConfig) ports.AudioConfig {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = domain.SampleRate
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = "pulse"
	}
	if cfg.InputDevice == "" {
		cfg.InputDevice = "default"
	}
	return cfg
}

func ffmpegArgs(cfg ports.AudioConfig) []string {
	return []string{
		"-nostdin", "-hide_banner", "-loglevel", "warning",
		"-f", cfg.InputFormat,
		"-i", cfg.InputDevice,
		"-ac", strconv.Itoa(cfg.Channels),
		"-ar", strconv.Itoa(cfg.SampleRate),
		"-f", "f32le",
		"-",
	}
}

// Start launches ffmpeg for cfg.InputDevice. A process that dies within the startup
// probe is reported as ErrPermissionDenied or ErrDeviceUnavailable.
func (c *FFMPEGCapture) Start(ctx context.Context, cfg ports.AudioConfig) (ports.AudioSession, error) {
	cfg = withCaptureDefaults(cfg)

	cmd := exec.CommandContext(ctx, c.command, ffmpegArgs(cfg)...)
	diag := &stderrLog{}
	cmd.Stderr = diag

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: launching %s: %v", domain.ErrDeviceUnavailable, c.command, err)
	}

	exited := make(chan error, 1)
	go func() {
		exited <- cmd.Wait()
		close(exited)
	}()

	timer := time.NewTimer(startupProbe)
	defer timer.Stop()
	select {
	case <-timer.C:
	case waitErr := <-exited:
		return nil, startupFailure(cfg.InputDevice, waitErr, diag.tail())
	}

	return &ffmpegStream{
		pipe:   stdout,
		diag:   diag,
		proc:   cmd.Process,
		exited: exited,
	}, nil
}

func startupFailure(device string, waitErr error, detail string) error {
	cause := domain.ErrDeviceUnavailable
	lower := strings.ToLower(detail)
	if strings.Contains(lower, "permission denied") || strings.Contains(lower, "access denied") {
		cause = domain.ErrPermissionDenied
	}
	msg := fmt.Sprintf("%v: ffmpeg exited before capture started on %q", cause, device)
	if waitErr != nil {
		msg += ": " + waitErr.Error()
	}
	if detail != "" {
		msg += ": " + detail
	}
	return &captureError{cause: cause, msg: msg}
}

type captureError struct {
	cause error
	msg   string
}

func (e *captureError) Error() string { return e.msg }

func (e *captureError) Unwrap() error { return e.cause }

// ffmpegStream is one running capture. Stop interrupts ffmpeg and kills it after stopGrace.
type ffmpegStream struct {
	pipe   io.ReadCloser
	diag   *stderrLog
	proc   *os.Process
	exited <-chan error

	once sync.Once
	err  error
}

func (s *ffmpegStream) Read(p []byte) (int, error) {
	return s.pipe.Read(p)
}

func (s *ffmpegStream) Close() error {
	return s.Stop()
}

func (s *ffmpegStream) Stop() error {
	s.once.Do(func() {
		s.err = s.terminate()
		if err := s.pipe.Close(); err != nil && !errors.Is(err, os.ErrClosed) && s.err == nil {
			s.err = err
		}
		if s.err != nil {
			if detail := s.diag.tail(); detail != "" {
				s.err = fmt.Errorf("%w: %s", s.err, detail)
			}
		}
	})
	return s.err
}

func (s *ffmpegStream) terminate() error {
	if s.proc == nil {
		return nil
	}
	_ = s.proc.Signal(os.Interrupt)

	timer := time.NewTimer(stopGrace)
	defer timer.Stop()
	select {
	case err := <-s.exited:
		return ignoreExitStatus(err)
	case <-timer.C:
	}

	_ = s.proc.Kill()
	return ignoreExitStatus(<-s.exited)
}

// ignoreExitStatus drops the non-zero status ffmpeg reports when interrupted.
func ignoreExitStatus(err error) error {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

// stderrLog collects ffmpeg diagnostics written concurrently with Stop.
type stderrLog struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (l *stderrLog) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buf.Write(p)
}

func (l *stderrLog) tail() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return strings.TrimSpace(l.buf.String())
}
