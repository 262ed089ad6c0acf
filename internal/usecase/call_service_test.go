package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"callscribe/internal/domain"
	"callscribe/internal/store"
)

type fakeSummarizer struct {
	chunks []string
	err    error
	got    string
}

func (f *fakeSummarizer) Summarize(_ context.Context, transcript string, onChunk func(string)) (string, error) {
	f.got = transcript
	if f.err != nil {
		return "", f.err
	}
	for _, chunk := range f.chunks {
		if onChunk != nil {
			onChunk(chunk)
		}
	}
	return strings.Join(f.chunks, ""), nil
}

func newCallHarness(summarizer *fakeSummarizer) (*CallService, *harness) {
	h := newHarness(Config{TickInterval: time.Hour})
	var s *CallService
	if summarizer == nil {
		s = NewCallService(store.NewMemoryStore(), h.controller, nil, h.events, "alice", slog.New(slog.DiscardHandler))
	} else {
		s = NewCallService(store.NewMemoryStore(), h.controller, summarizer, h.events, "alice", slog.New(slog.DiscardHandler))
	}
	return s, h
}

func TestCallServiceRecordingPersistsTranscript(t *testing.T) {
	t.Parallel()

	s, h := newCallHarness(nil)
	ctx := context.Background()
	saved := s.Saved()

	call, err := s.CreateCall(ctx, "   ")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if call.Title != defaultCallTitle || call.Status != domain.CallStatusDraft {
		t.Fatalf("unexpected new call: %+v", call)
	}

	if err := s.StartRecording(ctx, call.ID, "mic-1"); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if s.ActiveCall() != call.ID {
		t.Fatalf("expected %s to be active, got %q", call.ID, s.ActiveCall())
	}
	recording, _ := s.GetCall(ctx, call.ID)
	if recording.Status != domain.CallStatusRecording {
		t.Fatalf("expected recording status, got %s", recording.Status)
	}
	if err := s.DeleteCall(ctx, call.ID); !errors.Is(err, domain.ErrRecordingActive) {
		t.Fatalf("expected ErrRecordingActive on delete, got %v", err)
	}

	h.session.emit(domain.TranscriptUpdate{Final: "we ship on friday"})
	if err := s.StopRecording(ctx); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	select {
	case got := <-saved:
		if got.ID != call.ID || got.Transcript != "we ship on friday" || got.Status != domain.CallStatusCompleted {
			t.Fatalf("unexpected saved call: %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for saved call")
	}

	stored, err := s.GetCall(ctx, call.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if stored.Transcript != "we ship on friday" || stored.Status != domain.CallStatusCompleted {
		t.Fatalf("unexpected stored call: %+v", stored)
	}
	if s.ActiveCall() != "" {
		t.Fatalf("expected no active call after stop")
	}
	if err := s.DeleteCall(ctx, call.ID); err != nil {
		t.Fatalf("delete after stop failed: %v", err)
	}
}

func TestCallServiceStartFailureRevertsStatus(t *testing.T) {
	t.Parallel()

	s, h := newCallHarness(nil)
	ctx := context.Background()
	h.tokens.err = fmt.Errorf("%w: status 500", domain.ErrTokenFetchFailed)

	call, _ := s.CreateCall(ctx, "Standup")
	if err := s.StartRecording(ctx, call.ID, "mic-1"); !errors.Is(err, domain.ErrTokenFetchFailed) {
		t.Fatalf("expected ErrTokenFetchFailed, got %v", err)
	}
	stored, _ := s.GetCall(ctx, call.ID)
	if stored.Status != domain.CallStatusDraft {
		t.Fatalf("expected status to revert to draft, got %s", stored.Status)
	}
	if s.ActiveCall() != "" {
		t.Fatalf("failed start must not leave an active call")
	}
}

func TestCallServiceRejectsUnknownCall(t *testing.T) {
	t.Parallel()

	s, h := newCallHarness(nil)
	if err := s.StartRecording(context.Background(), "missing", "mic-1"); !errors.Is(err, domain.ErrCallNotFound) {
		t.Fatalf("expected ErrCallNotFound, got %v", err)
	}
	if h.tokens.calls != 0 {
		t.Fatalf("recording must not start for an unknown call")
	}
}

func TestCallServiceSecondRecordingRejected(t *testing.T) {
	t.Parallel()

	s, _ := newCallHarness(nil)
	ctx := context.Background()
	first, _ := s.CreateCall(ctx, "One")
	second, _ := s.CreateCall(ctx, "Two")

	if err := s.StartRecording(ctx, first.ID, "mic-1"); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := s.StartRecording(ctx, second.ID, "mic-1"); !errors.Is(err, domain.ErrRecordingActive) {
		t.Fatalf("expected ErrRecordingActive, got %v", err)
	}
	stored, _ := s.GetCall(ctx, second.ID)
	if stored.Status != domain.CallStatusDraft {
		t.Fatalf("rejected call must keep its status, got %s", stored.Status)
	}
	_ = s.StopRecording(ctx)
}

func TestCallServiceRecentCallsDefaultsLimit(t *testing.T) {
	t.Parallel()

	s, _ := newCallHarness(nil)
	ctx := context.Background()
	for i := range 12 {
		if _, err := s.CreateCall(ctx, fmt.Sprintf("call %d", i)); err != nil {
			t.Fatalf("create failed: %v", err)
		}
	}

	recent, err := s.RecentCalls(ctx, 0)
	if err != nil {
		t.Fatalf("recent failed: %v", err)
	}
	if len(recent) != defaultRecentLimit {
		t.Fatalf("expected %d calls, got %d", defaultRecentLimit, len(recent))
	}
	all, _ := s.ListCalls(ctx)
	if len(all) != 12 {
		t.Fatalf("expected 12 calls, got %d", len(all))
	}
}

func TestCallServiceGenerateSummary(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("not configured", func(t *testing.T) {
		t.Parallel()
		s, _ := newCallHarness(nil)
		call, _ := s.CreateCall(ctx, "x")
		if _, err := s.GenerateSummary(ctx, call.ID, nil); !errors.Is(err, domain.ErrSummaryUnavailable) {
			t.Fatalf("expected ErrSummaryUnavailable, got %v", err)
		}
	})

	t.Run("empty transcript", func(t *testing.T) {
		t.Parallel()
		summarizer := &fakeSummarizer{chunks: []string{"nope"}}
		s, _ := newCallHarness(summarizer)
		call, _ := s.CreateCall(ctx, "x")
		if _, err := s.GenerateSummary(ctx, call.ID, nil); !errors.Is(err, domain.ErrEmptyTranscript) {
			t.Fatalf("expected ErrEmptyTranscript, got %v", err)
		}
		if summarizer.got != "" {
			t.Fatalf("summarizer must not be called for an empty transcript")
		}
	})

	t.Run("upstream failure", func(t *testing.T) {
		t.Parallel()
		summarizer := &fakeSummarizer{err: errors.New("rate limited")}
		s, h := newCallHarness(summarizer)
		call := recordCall(t, s, h, "hello there")
		if _, err := s.GenerateSummary(ctx, call.ID, nil); err == nil {
			t.Fatalf("expected upstream error")
		}
		stored, _ := s.GetCall(ctx, call.ID)
		if stored.Summary != "" {
			t.Fatalf("failed summary must not be saved, got %q", stored.Summary)
		}
	})

	t.Run("streams and saves", func(t *testing.T) {
		t.Parallel()
		summarizer := &fakeSummarizer{chunks: []string{"## Decisions", "\n- ship"}}
		s, h := newCallHarness(summarizer)
		call := recordCall(t, s, h, "we decided to ship")

		var streamed []string
		updated, err := s.GenerateSummary(ctx, call.ID, func(chunk string) { streamed = append(streamed, chunk) })
		if err != nil {
			t.Fatalf("summary failed: %v", err)
		}
		if summarizer.got != "we decided to ship" {
			t.Fatalf("summarizer received %q", summarizer.got)
		}
		if updated.Summary != "## Decisions\n- ship" || len(streamed) != 2 {
			t.Fatalf("unexpected summary %q with chunks %v", updated.Summary, streamed)
		}
	})
}

func recordCall(t *testing.T, s *CallService, h *harness, transcript string) domain.Call {
	t.Helper()
	ctx := context.Background()

	call, err := s.CreateCall(ctx, "Recorded")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := s.StartRecording(ctx, call.ID, "mic-1"); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	h.session.emit(domain.TranscriptUpdate{Final: transcript})
	if err := s.StopRecording(ctx); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	stored, err := s.GetCall(ctx, call.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	return stored
}
