package orchestrator

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// signalChannel returns the injected signal channel, or one subscribed to
// SIGINT and SIGTERM.
func (o *Orchestrator) signalChannel() (<-chan os.Signal, func()) {
	if o.signals != nil {
		return o.signals, func() {}
	}
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGTERM, syscall.SIGINT)
	return ch, func() { signal.Stop(ch) }
}

// watchSignals turns the first signal into an abort request and the second
// into cancelling ctx, which kills the child without waiting for the poll.
func (o *Orchestrator) watchSignals(ctx context.Context, cancel context.CancelFunc, sigCh <-chan os.Signal) func() {
	stop := make(chan struct{})
	go func() {
		received := 0
		for {
			select {
			case sig := <-sigCh:
				received++
				if received == 1 {
					accepted := o.supervisor.RequestAbort()
					o.logger.Info("received_signal", "signal", sig.String(), "action", "abort", "accepted", accepted)
					if accepted {
						continue
					}
				} else {
					o.logger.Warn("received_signal", "signal", sig.String(), "action", "cancel")
				}
				cancel()
				return
			case <-ctx.Done():
				return
			case <-stop:
				return
			}
		}
	}()
	return func() { close(stop) }
}
