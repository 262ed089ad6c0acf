package usecase

import (
	"context"
	"log/slog"

	"callscribe/internal/domain"
	"callscribe/internal/ports"
)

// pumpFrames forwards every engine frame to the session in capture order until the
// engine closes its frame channel or the session refuses a frame.
func pumpFrames(
	ctx context.Context,
	frames <-chan domain.PcmFrame,
	session ports.StreamingSession,
	logger *slog.Logger,
	done chan struct{},
) {
	defer close(done)

	for frame := range frames {
		if err := session.SendFrame(ctx, frame); err != nil {
			logger.Debug("frame pump stopped", "error", err)
			return
		}
	}
}
