package domain

import (
	"strings"
	"time"
)

// Wire format of every frame handed from capture to transport.
const (
	SampleRate   = 16000
	FrameSamples = 800
	FrameBytes   = FrameSamples * 2
	FrameLength  = 50 * time.Millisecond
)

// RecordingState models the public recording lifecycle.
type RecordingState string

const (
	RecordingStateIdle      RecordingState = "idle"
	RecordingStateRecording RecordingState = "recording"
	RecordingStatePaused    RecordingState = "paused"
	RecordingStateStopped   RecordingState = "stopped"
	RecordingStateError     RecordingState = "error"
)

// Active reports whether capture or transmission resources are held.
func (s RecordingState) Active() bool {
	return s == RecordingStateRecording || s == RecordingStatePaused
}

// SessionState models the streaming transport lifecycle.
type SessionState string

const (
	SessionStateConnecting SessionState = "connecting"
	SessionStateOpen       SessionState = "open"
	SessionStateStreaming  SessionState = "streaming"
	SessionStatePausing    SessionState = "pausing"
	SessionStateClosing    SessionState = "closing"
	SessionStateClosed     SessionState = "closed"
	SessionStateFailed     SessionState = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s SessionState) Terminal() bool {
	return s == SessionStateClosed || s == SessionStateFailed
}

// StateReason provides a structured reason for recording state transitions.
type StateReason string

const (
	ReasonReady            StateReason = "ready"
	ReasonRecordingStarted StateReason = "recording_started"
	ReasonStartFailed      StateReason = "start_failed"
	ReasonPaused           StateReason = "recording_paused"
	ReasonResumed          StateReason = "recording_resumed"
	ReasonStopped          StateReason = "recording_stopped"
	ReasonSessionEnded     StateReason = "session_ended"
	ReasonCaptureFailed    StateReason = "capture_failed"
	ReasonStreamFailed     StateReason = "stream_failed"
)

// AudioDevice is one audio input endpoint reported by the host.
type AudioDevice struct {
	ID      string `json:"deviceId"`
	Label   string `json:"label"`
	GroupID string `json:"groupId"`
}

// PcmFrame is one 50 ms block of signed 16-bit little-endian mono samples.
type PcmFrame []byte

// StreamingToken is a short-lived credential for one streaming session.
type StreamingToken struct {
	Value    string
	IssuedAt time.Time
	TTL      time.Duration
}

// ExpiresAt returns the end of the token validity window.
func (t StreamingToken) ExpiresAt() time.Time {
	return t.IssuedAt.Add(t.TTL)
}

// Expired reports whether the token can no longer open a session at now.
func (t StreamingToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt())
}

// TranscriptUpdate is a snapshot of the running transcript.
type TranscriptUpdate struct {
	Final   string `json:"final"`
	Partial string `json:"partial"`
}

// Text renders the sealed transcript with the open partial as a provisional suffix.
func (u TranscriptUpdate) Text() string {
	switch {
	case u.Partial == "":
		return u.Final
	case u.Final == "":
		return u.Partial
	default:
		return u.Final + " " + u.Partial
	}
}

// Status summarizes the current recording for the presentation layer.
type Status struct {
	State           RecordingState `json:"state"`
	Active          bool           `json:"active"`
	DurationSeconds int            `json:"durationSeconds"`
	Transcript      string         `json:"transcript"`
	Message         string         `json:"message,omitempty"`
}

// Defaults shared by every surface that creates or lists calls.
const (
	DefaultCallTitle   = "Untitled call"
	DefaultRecentLimit = 10
)

// CallStatus tracks a call record through recording and processing.
type CallStatus string

const (
	CallStatusDraft      CallStatus = "draft"
	CallStatusRecording  CallStatus = "recording"
	CallStatusProcessing CallStatus = "processing"
	CallStatusCompleted  CallStatus = "completed"
)

// Valid reports whether s is a known call status.
func (s CallStatus) Valid() bool {
	switch s {
	case CallStatusDraft, CallStatusRecording, CallStatusProcessing, CallStatusCompleted:
		return true
	}
	return false
}

// Call is a persisted call record.
type Call struct {
	ID              string     `json:"id"`
	UserID          string     `json:"userId"`
	Title           string     `json:"title"`
	Status          CallStatus `json:"status"`
	Transcript      string     `json:"transcript,omitempty"`
	Summary         string     `json:"summary,omitempty"`
	DurationSeconds int        `json:"durationSeconds,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// CallUpdate holds the fields to change on a call; nil fields are left untouched.
type CallUpdate struct {
	Title           *string     `json:"title,omitempty"`
	Status          *CallStatus `json:"status,omitempty"`
	Transcript      *string     `json:"transcript,omitempty"`
	Summary         *string     `json:"summary,omitempty"`
	DurationSeconds *int        `json:"durationSeconds,omitempty"`
}

// Empty reports whether the update changes nothing.
func (u CallUpdate) Empty() bool {
	return u.Title == nil && u.Status == nil && u.Transcript == nil && u.Summary == nil && u.DurationSeconds == nil
}

// Apply copies the set fields of u onto call.
func (u CallUpdate) Apply(call *Call) {
	if u.Title != nil {
		call.Title = strings.TrimSpace(*u.Title)
	}
	if u.Status != nil {
		call.Status = *u.Status
	}
	if u.Transcript != nil {
		call.Transcript = *u.Transcript
	}
	if u.Summary != nil {
		call.Summary = *u.Summary
	}
	if u.DurationSeconds != nil {
		call.DurationSeconds = *u.DurationSeconds
	}
}
