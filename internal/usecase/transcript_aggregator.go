package usecase

import (
	"sync"

	"callscribe/internal/domain"
	"callscribe/internal/ports"
)

// transcriptView keeps the latest rendered transcript for status queries.
type transcriptView struct {
	mu     sync.Mutex
	latest domain.TranscriptUpdate
}

func (v *transcriptView) Set(update domain.TranscriptUpdate) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.latest = update
}

func (v *transcriptView) Text() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.latest.Text()
}

func (v *transcriptView) Reset() {
	v.Set(domain.TranscriptUpdate{})
}

// relayTranscript publishes every session snapshot until the session closes its updates.
func relayTranscript(
	session ports.StreamingSession,
	view *transcriptView,
	events ports.EventSink,
	done chan struct{},
) {
	defer close(done)

	for update := range session.Updates() {
		view.Set(update)
		events.TranscriptUpdated(update)
	}
}
