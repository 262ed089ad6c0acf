package domain

import "errors"

// Capture, credential and session failures.
var (
	ErrDeviceUnavailable = errors.New("audio device unavailable")
	ErrPermissionDenied  = errors.New("audio capture permission denied")
	ErrTokenFetchFailed  = errors.New("streaming token fetch failed")
	ErrAuthExpired       = errors.New("streaming token expired before handshake completed")
	ErrConnect           = errors.New("streaming connection refused")
	ErrProtocolViolation = errors.New("streaming protocol violation")
	ErrTransportClosed   = errors.New("streaming transport closed")
	ErrEngine            = errors.New("audio capture engine failure")
)

// Application-level failures.
var (
	ErrNoActiveRecording  = errors.New("no active recording")
	ErrRecordingActive    = errors.New("a recording is already in progress")
	ErrNotRecording       = errors.New("recording is not running")
	ErrNotPaused          = errors.New("recording is not paused")
	ErrCallNotFound       = errors.New("call not found")
	ErrForbidden          = errors.New("forbidden")
	ErrEmptyTranscript    = errors.New("transcript is required")
	ErrSummaryUnavailable = errors.New("summarization is not configured")
)

// ErrorCode identifies error categories surfaced to the presentation layer.
type ErrorCode string

const (
	ErrorCodeStartup    ErrorCode = "startup"
	ErrorCodeDevice     ErrorCode = "device"
	ErrorCodePermission ErrorCode = "permission"
	ErrorCodeToken      ErrorCode = "token"
	ErrorCodeAuth       ErrorCode = "auth_expired"
	ErrorCodeConnect    ErrorCode = "connect"
	ErrorCodeProtocol   ErrorCode = "protocol"
	ErrorCodeTransport  ErrorCode = "transport"
	ErrorCodeCapture    ErrorCode = "capture"
	ErrorCodeStore      ErrorCode = "store"
	ErrorCodeSummary    ErrorCode = "summary"
	ErrorCodeUnknown    ErrorCode = "unknown"
)

var errorCodes = []struct {
	err  error
	code ErrorCode
}{
	{ErrDeviceUnavailable, ErrorCodeDevice},
	{ErrPermissionDenied, ErrorCodePermission},
	{ErrTokenFetchFailed, ErrorCodeToken},
	{ErrAuthExpired, ErrorCodeAuth},
	{ErrConnect, ErrorCodeConnect},
	{ErrProtocolViolation, ErrorCodeProtocol},
	{ErrTransportClosed, ErrorCodeTransport},
	{ErrEngine, ErrorCodeCapture},
	{ErrCallNotFound, ErrorCodeStore},
	{ErrForbidden, ErrorCodeStore},
	{ErrEmptyTranscript, ErrorCodeSummary},
	{ErrSummaryUnavailable, ErrorCodeSummary},
}

// ErrorCodeFor maps an error chain onto its taxonomy code.
func ErrorCodeFor(err error) ErrorCode {
	if err == nil {
		return ""
	}
	for _, entry := range errorCodes {
		if errors.Is(err, entry.err) {
			return entry.code
		}
	}
	return ErrorCodeUnknown
}
