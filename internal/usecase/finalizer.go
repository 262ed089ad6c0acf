package usecase

import (
	"context"
	"log/slog"

	"callscribe/internal/domain"
	"callscribe/internal/ports"
)

// callFinalizer persists a finished recording onto its call record.
type callFinalizer struct {
	store  ports.CallStore
	events ports.EventSink
	logger *slog.Logger
}

func newCallFinalizer(store ports.CallStore, events ports.EventSink, logger *slog.Logger) callFinalizer {
	return callFinalizer{store: store, events: events, logger: logger}
}

func (f callFinalizer) Finalize(ctx context.Context, userID string, callID string, transcript string, seconds int) (domain.Call, error) {
	status := domain.CallStatusCompleted
	call, err := f.store.Update(ctx, userID, callID, domain.CallUpdate{
		Status:          &status,
		Transcript:      &transcript,
		DurationSeconds: &seconds,
	})
	if err != nil {
		f.logger.Error("failed to persist recording", "call_id", callID, "error", err)
		f.events.RecordingError(domain.ErrorCodeStore, "recording finished but the call could not be saved")
		return domain.Call{}, err
	}

	f.logger.Info("recording saved", "call_id", callID, "duration_seconds", seconds, "transcript_chars", len(transcript))
	return call, nil
}
