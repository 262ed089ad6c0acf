package usecase

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"callscribe/internal/domain"
	"callscribe/internal/ports"
)

const (
	defaultRecentLimit = domain.DefaultRecentLimit
	defaultCallTitle   = domain.DefaultCallTitle
	persistTimeout     = 10 * time.Second
)

// CallService ties recordings and summaries to the call records of one user.
type CallService struct {
	store      ports.CallStore
	recorder   *RecordingController
	summarizer ports.Summarizer
	finalizer  callFinalizer
	userID     string
	logger     *slog.Logger

	mu         sync.Mutex
	activeCall string
	saved      chan domain.Call
}

// NewCallService wires the recorder's completion callback to the call store.
// summarizer may be nil when summarization is not configured.
func NewCallService(
	store ports.CallStore,
	recorder *RecordingController,
	summarizer ports.Summarizer,
	events ports.EventSink,
	userID string,
	logger *slog.Logger,
) *CallService {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "calls")
	s := &CallService{
		store:      store,
		recorder:   recorder,
		summarizer: summarizer,
		finalizer:  newCallFinalizer(store, events, logger),
		userID:     userID,
		logger:     logger,
	}
	recorder.OnComplete(s.complete)
	return s
}

func (s *CallService) CreateCall(ctx context.Context, title string) (domain.Call, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = defaultCallTitle
	}
	return s.store.Create(ctx, s.userID, title)
}

func (s *CallService) GetCall(ctx context.Context, id string) (domain.Call, error) {
	return s.store.Get(ctx, s.userID, id)
}

func (s *CallService) ListCalls(ctx context.Context) ([]domain.Call, error) {
	return s.store.List(ctx, s.userID)
}

func (s *CallService) RecentCalls(ctx context.Context, limit int) ([]domain.Call, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	return s.store.Recent(ctx, s.userID, limit)
}

func (s *CallService) DeleteCall(ctx context.Context, id string) error {
	if s.ActiveCall() == id {
		return domain.ErrRecordingActive
	}
	return s.store.Delete(ctx, s.userID, id)
}

// StartRecording begins recording into callID from deviceID.
func (s *CallService) StartRecording(ctx context.Context, callID string, deviceID string) error {
	call, err := s.store.Get(ctx, s.userID, callID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.activeCall != "" {
		s.mu.Unlock()
		return domain.ErrRecordingActive
	}
	s.activeCall = callID
	s.mu.Unlock()

	s.setStatus(ctx, callID, domain.CallStatusRecording)
	if err := s.recorder.Start(ctx, deviceID); err != nil {
		s.mu.Lock()
		if s.activeCall == callID {
			s.activeCall = ""
		}
		s.mu.Unlock()
		s.setStatus(ctx, callID, call.Status)
		return err
	}
	return nil
}

func (s *CallService) setStatus(ctx context.Context, callID string, status domain.CallStatus) {
	if _, err := s.store.Update(ctx, s.userID, callID, domain.CallUpdate{Status: &status}); err != nil {
		s.logger.Warn("failed to update call status", "call_id", callID, "status", status, "error", err)
	}
}

func (s *CallService) PauseRecording() error {
	return s.recorder.Pause()
}

func (s *CallService) ResumeRecording() error {
	return s.recorder.Resume()
}

func (s *CallService) StopRecording(ctx context.Context) error {
	return s.recorder.Stop(ctx)
}

func (s *CallService) Status() domain.Status {
	return s.recorder.Status()
}

// ActiveCall returns the id of the call being recorded, or "".
func (s *CallService) ActiveCall() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeCall
}

// Saved delivers each call record persisted after a recording ends. It is optional;
// saves are dropped when nobody listens.
func (s *CallService) Saved() <-chan domain.Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saved == nil {
		s.saved = make(chan domain.Call, 1)
	}
	return s.saved
}

func (s *CallService) complete(transcript string, seconds int) {
	s.mu.Lock()
	callID := s.activeCall
	s.activeCall = ""
	saved := s.saved
	s.mu.Unlock()

	if callID == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	call, err := s.finalizer.Finalize(ctx, s.userID, callID, transcript, seconds)
	if err != nil || saved == nil {
		return
	}
	select {
	case saved <- call:
	default:
	}
}

// GenerateSummary summarizes the stored transcript of callID and saves the result.
// onChunk, when set, receives the summary text as it streams in.
func (s *CallService) GenerateSummary(ctx context.Context, callID string, onChunk func(string)) (domain.Call, error) {
	if s.summarizer == nil {
		return domain.Call{}, domain.ErrSummaryUnavailable
	}

	call, err := s.store.Get(ctx, s.userID, callID)
	if err != nil {
		return domain.Call{}, err
	}
	if strings.TrimSpace(call.Transcript) == "" {
		return domain.Call{}, domain.ErrEmptyTranscript
	}

	summary, err := s.summarizer.Summarize(ctx, call.Transcript, onChunk)
	if err != nil {
		return domain.Call{}, err
	}

	updated, err := s.store.Update(ctx, s.userID, callID, domain.CallUpdate{Summary: &summary})
	if err != nil {
		return domain.Call{}, err
	}
	s.logger.Info("summary saved", "call_id", callID, "summary_chars", len(summary))
	return updated, nil
}
