package assemblyai

import (
	"strings"

	"callscribe/internal/domain"
)

// transcript holds the sealed segments and the single open segment of one session.
// Sealed segments never change once a later turn has been sealed.
type transcript struct {
	segments  []string
	lastOrder *int
	open      string
}

func newTranscript() *transcript {
	return &transcript{}
}

// apply folds one Turn into the transcript and reports whether a new segment was sealed.
func (t *transcript) apply(turn turnMessage) bool {
	if !turn.EndOfTurn {
		t.open = turn.Transcript
		return false
	}

	t.open = ""
	if strings.TrimSpace(turn.Transcript) == "" {
		return false
	}
	// A turn can be sealed twice (unformatted then formatted); the later text wins.
	if t.resealing(turn) {
		t.segments[len(t.segments)-1] = turn.Transcript
		return false
	}
	t.segments = append(t.segments, turn.Transcript)
	t.lastOrder = turn.TurnOrder
	return true
}

// resealing reports whether turn repeats the order of the last sealed segment.
// Turns without turn_order always start a new segment.
func (t *transcript) resealing(turn turnMessage) bool {
	return turn.TurnOrder != nil && t.lastOrder != nil && *turn.TurnOrder == *t.lastOrder && len(t.segments) > 0
}

func (t *transcript) final() string {
	return strings.Join(t.segments, " ")
}

func (t *transcript) snapshot() domain.TranscriptUpdate {
	return domain.TranscriptUpdate{Final: t.final(), Partial: t.open}
}
