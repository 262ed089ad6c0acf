package usecase

import (
	"context"
	"sync"
	"sync/atomic"

	"callscribe/internal/ports"
)

// activeRecording holds the resources of one recording from Start until teardown.
type activeRecording struct {
	cancel  context.CancelFunc
	engine  ports.CaptureEngine
	session ports.StreamingSession
	clock   *durationClock

	pumpDone  chan struct{}
	relayDone chan struct{}
	finished  chan struct{}

	claimed      atomic.Bool
	completeOnce sync.Once
}

func newActiveRecording(cancel context.CancelFunc, engine ports.CaptureEngine, session ports.StreamingSession, clock *durationClock) *activeRecording {
	return &activeRecording{
		cancel:    cancel,
		engine:    engine,
		session:   session,
		clock:     clock,
		pumpDone:  make(chan struct{}),
		relayDone: make(chan struct{}),
		finished:  make(chan struct{}),
	}
}

// claim grants exactly one caller the right to tear the recording down.
func (r *activeRecording) claim() bool {
	return r.claimed.CompareAndSwap(false, true)
}
