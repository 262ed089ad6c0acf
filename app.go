package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/wailsapp/wails/v2/pkg/runtime"

	"callscribe/internal/bootstrap"
	"callscribe/internal/domain"
)

const (
	eventState      = "callscribe:state"
	eventTranscript = "callscribe:transcript"
	eventDuration   = "callscribe:duration"
	eventDevices    = "callscribe:devices"
	eventError      = "callscribe:error"
	eventSummary    = "callscribe:summary"
	eventSaved      = "callscribe:saved"
)

// App is the Wails application root.
type App struct {
	ctx    context.Context
	cancel context.CancelFunc

	services      bootstrap.Services
	metricsServer *http.Server
	logger        *slog.Logger
	bootErr       error
	ready         bool
}

func NewApp() *App {
	return &App{logger: slog.Default()}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	services, err := bootstrap.Build(a)
	if err != nil {
		a.bootErr = err
		a.RecordingError(domain.ErrorCodeStartup, err.Error())
		return
	}
	a.services = services
	a.logger = services.Logger
	a.ready = true

	watchCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.emitDevices(services.Inventory.Refresh(watchCtx))
	go services.Inventory.Watch(watchCtx, a.emitDevices)
	go a.forwardSaved(watchCtx)

	if addr := services.Config.Metrics.Addr; addr != "" {
		a.serveMetrics(addr)
	}

	a.RecordingStateChanged(domain.RecordingStateIdle, domain.ReasonReady)
}

func (a *App) shutdown(ctx context.Context) {
	if !a.ready {
		return
	}
	if a.services.Recorder.Status().Active {
		if err := a.services.Calls.StopRecording(ctx); err != nil {
			a.logger.Warn("failed to stop recording on shutdown", "error", err)
		}
	}
	if a.cancel != nil {
		a.cancel()
	}
	if a.metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		_ = a.metricsServer.Shutdown(shutdownCtx)
		cancel()
	}
	if err := a.services.Close(); err != nil {
		a.logger.Warn("failed to release services", "error", err)
	}
}

func (a *App) serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.services.Registry, promhttp.HandlerOpts{}))
	a.metricsServer = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics listener failed", "addr", addr, "error", err)
		}
	}()
}

func (a *App) forwardSaved(ctx context.Context) {
	saved := a.services.Calls.Saved()
	for {
		select {
		case <-ctx.Done():
			return
		case call := <-saved:
			a.emit(eventSaved, call)
		}
	}
}

// ListDevices re-queries the host for audio inputs.
func (a *App) ListDevices() ([]domain.AudioDevice, error) {
	if err := a.requireReady(); err != nil {
		return nil, err
	}
	devices := a.services.Inventory.Refresh(a.ctx)
	a.emitDevices(devices)
	return devices, nil
}

func (a *App) SelectDevice(deviceID string) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	a.services.Inventory.Select(deviceID)
	return nil
}

func (a *App) CreateCall(title string) (domain.Call, error) {
	if err := a.requireReady(); err != nil {
		return domain.Call{}, err
	}
	return a.services.Calls.CreateCall(a.ctx, title)
}

func (a *App) ListCalls() ([]domain.Call, error) {
	if err := a.requireReady(); err != nil {
		return nil, err
	}
	return a.services.Calls.ListCalls(a.ctx)
}

func (a *App) RecentCalls(limit int) ([]domain.Call, error) {
	if err := a.requireReady(); err != nil {
		return nil, err
	}
	return a.services.Calls.RecentCalls(a.ctx, limit)
}

func (a *App) DeleteCall(callID string) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.services.Calls.DeleteCall(a.ctx, callID)
}

// StartRecording records into callID. An empty deviceID uses the selected input.
func (a *App) StartRecording(callID string, deviceID string) (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	if deviceID == "" {
		deviceID = a.services.Inventory.Selected()
	}
	if err := a.services.Calls.StartRecording(a.ctx, callID, deviceID); err != nil {
		return domain.Status{}, err
	}
	return a.services.Calls.Status(), nil
}

func (a *App) PauseRecording() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	if err := a.services.Calls.PauseRecording(); err != nil {
		return domain.Status{}, err
	}
	return a.services.Calls.Status(), nil
}

func (a *App) ResumeRecording() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	if err := a.services.Calls.ResumeRecording(); err != nil {
		return domain.Status{}, err
	}
	return a.services.Calls.Status(), nil
}

// StopRecording ends the recording and returns the latched status.
func (a *App) StopRecording() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	if err := a.services.Calls.StopRecording(a.ctx); err != nil {
		return domain.Status{}, err
	}
	return a.services.Calls.Status(), nil
}

// GenerateSummary summarizes callID, streaming chunks as summary events.
func (a *App) GenerateSummary(callID string) (domain.Call, error) {
	if err := a.requireReady(); err != nil {
		return domain.Call{}, err
	}
	call, err := a.services.Calls.GenerateSummary(a.ctx, callID, func(chunk string) {
		a.emit(eventSummary, map[string]string{"callId": callID, "chunk": chunk})
	})
	if err != nil {
		a.RecordingError(domain.ErrorCodeFor(err), err.Error())
		return domain.Call{}, err
	}
	return call, nil
}

// GetStatus returns the current recording status.
func (a *App) GetStatus() domain.Status {
	if !a.ready {
		if a.bootErr != nil {
			return domain.Status{State: domain.RecordingStateError, Active: false, Message: a.bootErr.Error()}
		}
		return domain.Status{State: domain.RecordingStateIdle, Active: false}
	}
	return a.services.Calls.Status()
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}
	if !a.ready {
		return map[string]string{}
	}

	cfg := a.services.Config
	return map[string]string{
		"provider":         "AssemblyAI",
		"streamingUrl":     cfg.AssemblyAI.StreamingURL,
		"tokenEndpoint":    cfg.Token.Endpoint,
		"audioInputFormat": cfg.Audio.InputFormat,
		"selectedDevice":   a.services.Inventory.Selected(),
		"summaries":        fmt.Sprintf("%t", cfg.Summary.APIKey != ""),
	}
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if !a.ready {
		return fmt.Errorf("application is not initialized")
	}
	return nil
}

func (a *App) emit(name string, payload any) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, name, payload)
}

func (a *App) emitDevices(devices []domain.AudioDevice) {
	a.emit(eventDevices, devices)
}

// RecordingStateChanged emits recording lifecycle updates to the frontend.
func (a *App) RecordingStateChanged(state domain.RecordingState, reason domain.StateReason) {
	a.emit(eventState, map[string]string{
		"state":   string(state),
		"reason":  string(reason),
		"message": reasonMessage(reason),
	})
}

// TranscriptUpdated emits the running transcript snapshot.
func (a *App) TranscriptUpdated(update domain.TranscriptUpdate) {
	a.emit(eventTranscript, map[string]string{
		"final":   update.Final,
		"partial": update.Partial,
		"text":    update.Text(),
	})
}

func (a *App) DurationChanged(seconds int) {
	a.emit(eventDuration, map[string]any{
		"seconds": seconds,
		"label":   formatDuration(seconds),
	})
}

// RecordingError emits backend errors to the UI.
func (a *App) RecordingError(code domain.ErrorCode, detail string) {
	a.emit(eventError, map[string]string{
		"code":    string(code),
		"message": errorMessage(code, detail),
		"detail":  detail,
	})
}

func formatDuration(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}

func reasonMessage(reason domain.StateReason) string {
	switch reason {
	case domain.ReasonReady:
		return "Ready to record"
	case domain.ReasonRecordingStarted:
		return "Recording started"
	case domain.ReasonStartFailed:
		return "Recording could not start"
	case domain.ReasonPaused:
		return "Recording paused"
	case domain.ReasonResumed:
		return "Recording resumed"
	case domain.ReasonStopped:
		return "Recording stopped"
	case domain.ReasonSessionEnded:
		return "Transcription session ended"
	case domain.ReasonCaptureFailed:
		return "Microphone capture failed"
	case domain.ReasonStreamFailed:
		return "Transcription stream failed"
	default:
		return ""
	}
}

func errorMessage(code domain.ErrorCode, detail string) string {
	switch code {
	case domain.ErrorCodeStartup:
		return "Startup failed"
	case domain.ErrorCodeDevice:
		return "Microphone unavailable"
	case domain.ErrorCodePermission:
		return "Microphone permission denied"
	case domain.ErrorCodeToken:
		return "Could not get a transcription token"
	case domain.ErrorCodeAuth:
		return "Transcription token expired"
	case domain.ErrorCodeConnect:
		return "Could not connect to transcription service"
	case domain.ErrorCodeProtocol:
		return "Transcription service sent an unexpected message"
	case domain.ErrorCodeTransport:
		return "Connection to transcription service lost"
	case domain.ErrorCodeCapture:
		return "Audio capture issue"
	case domain.ErrorCodeStore:
		return "Call could not be saved"
	case domain.ErrorCodeSummary:
		return "Summary failed"
	default:
		if detail == "" {
			return "Unknown error"
		}
		return detail
	}
}
