package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultTimeout bounds a single delivery attempt.
const DefaultTimeout = 15 * time.Second

// Result is the observed outcome of one delivery.
type Result struct {
	Delivered bool
	Cause     error
}

// Dispatcher runs deliveries in the background so the caller's state
// transition never waits on, or fails with, the delivery channel.
type Dispatcher struct {
	sender  Sender
	logger  *slog.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewDispatcher wraps sender. A non-positive timeout uses DefaultTimeout.
func NewDispatcher(sender Sender, logger *slog.Logger, timeout time.Duration) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Dispatcher{sender: sender, logger: logger, timeout: timeout}
}

// Dispatch starts delivering msg and returns immediately. The returned channel
// receives exactly one Result and may be ignored. Request cancellation does not
// abort delivery; request-scoped values stay attached for logging.
func (d *Dispatcher) Dispatch(ctx context.Context, msg Message) <-chan Result {
	out := make(chan Result, 1)
	ctx = context.WithoutCancel(ctx)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		res := d.deliver(ctx, msg)
		if res.Delivered {
			d.logger.InfoContext(ctx, "notification delivered", "to", msg.To, "tag", msg.Tag)
		} else {
			d.logger.WarnContext(ctx, "notification not delivered", "to", msg.To, "tag", msg.Tag, "error", res.Cause)
		}
		out <- res
		close(out)
	}()

	return out
}

func (d *Dispatcher) deliver(ctx context.Context, msg Message) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{Cause: fmt.Errorf("%w: sender panicked: %v", ErrDeliveryFailed, r)}
		}
	}()

	if d.sender == nil {
		return Result{Cause: fmt.Errorf("%w: no sender configured", ErrDeliveryFailed)}
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if err := d.sender.Send(ctx, msg); err != nil {
		return Result{Cause: err}
	}
	return Result{Delivered: true}
}

// Wait blocks until every in-flight delivery has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
