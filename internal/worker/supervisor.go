package worker

import (
	"context"
	"errors"
	"time"

	"github.com/urban-engineer/sved/internal/ffmpeg"
)

// liveness reports whether the broker connection backing the current
// delivery is still alive.
type liveness interface {
	IsClosed() bool
}

// commandRunner executes an ffmpeg command, delivering progress blocks to
// onProgress as they arrive.
type commandRunner interface {
	run(ctx context.Context, cmd *ffmpeg.Command, sourceFramerate float64, onProgress func(ffmpeg.Progress)) error
}

// supervisor runs commands while watching broker liveness. Encodes run for
// hours; if the consuming connection dies mid-encode the eventual ack would
// land on a dead channel and the message would be redelivered anyway, so the
// supervisor kills the child early instead of wasting the remaining work.
type supervisor struct {
	liveness liveness
	period   time.Duration
}

func (s *supervisor) run(ctx context.Context, cmd *ffmpeg.Command, sourceFramerate float64, onProgress func(ffmpeg.Progress)) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- cmd.RunWithProgress(runCtx, sourceFramerate, onProgress)
	}()

	period := s.period
	if period <= 0 {
		period = 10 * time.Second
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case err := <-done:
			return err
		case <-ticker.C:
			if s.liveness != nil && s.liveness.IsClosed() {
				cancel()
				<-done
				return errors.New("broker connection lost while command was running")
			}
		}
	}
}
