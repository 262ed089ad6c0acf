package ports

import (
	"context"
	"io"

	"callscribe/internal/domain"
)

// DeviceLister enumerates the host's audio input endpoints.
type DeviceLister interface {
	ListDevices(ctx context.Context) ([]domain.AudioDevice, error)
}

// DeviceWatcher signals whenever the host's device set changes.
type DeviceWatcher interface {
	WatchDevices(ctx context.Context) (<-chan struct{}, error)
}

// AudioConfig describes how the microphone should be captured.
type AudioConfig struct {
	SampleRate  int
	Channels    int
	InputFormat string
	InputDevice string
}

// AudioSession is a live raw capture stream of float32 little-endian samples.
type AudioSession interface {
	io.ReadCloser
	Stop() error
}

// AudioCapture creates raw microphone capture sessions.
type AudioCapture interface {
	Start(ctx context.Context, cfg AudioConfig) (AudioSession, error)
}

// CaptureEngine turns a device stream into fixed-size PCM frames.
type CaptureEngine interface {
	Open(ctx context.Context, deviceID string) error
	Start() error
	Pause()
	Resume()
	Close() error
	Frames() <-chan domain.PcmFrame
	Errors() <-chan error
}

// EngineFactory returns a fresh capture engine for one recording.
type EngineFactory func() CaptureEngine

// TokenIssuer fetches a streaming credential for one session.
type TokenIssuer interface {
	FetchToken(ctx context.Context) (domain.StreamingToken, error)
}

// StreamingSession is an active transcription websocket session.
type StreamingSession interface {
	SendFrame(ctx context.Context, frame domain.PcmFrame) error
	Pause()
	Resume()
	Stop(ctx context.Context) error
	Close() error
	State() domain.SessionState
	Updates() <-chan domain.TranscriptUpdate
	Done() <-chan struct{}
	Err() error
	Transcript() string
}

// TranscriptionClient opens streaming transcription sessions.
type TranscriptionClient interface {
	Connect(ctx context.Context, token domain.StreamingToken) (StreamingSession, error)
}

// CompletionFunc receives the finalized transcript and elapsed seconds of a recording.
type CompletionFunc func(transcript string, durationSeconds int)

// EventSink emits backend state/events to the UI.
type EventSink interface {
	RecordingStateChanged(state domain.RecordingState, reason domain.StateReason)
	TranscriptUpdated(update domain.TranscriptUpdate)
	DurationChanged(seconds int)
	RecordingError(code domain.ErrorCode, detail string)
}

// CallStore persists call records owned by a user.
type CallStore interface {
	Create(ctx context.Context, userID string, title string) (domain.Call, error)
	Get(ctx context.Context, userID string, id string) (domain.Call, error)
	Update(ctx context.Context, userID string, id string, update domain.CallUpdate) (domain.Call, error)
	Delete(ctx context.Context, userID string, id string) error
	List(ctx context.Context, userID string) ([]domain.Call, error)
	Recent(ctx context.Context, userID string, limit int) ([]domain.Call, error)
}

// Summarizer turns a finished transcript into a structured summary.
type Summarizer interface {
	Summarize(ctx context.Context, transcript string, onChunk func(string)) (string, error)
}

// StreamingTokenMinter issues temporary streaming credentials on the server side.
type StreamingTokenMinter interface {
	MintToken(ctx context.Context) (string, error)
}
