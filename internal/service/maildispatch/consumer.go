package maildispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/veltradev/veltra/internal/logger"
	"github.com/veltradev/veltra/internal/mailer"
)

type Consumer struct {
	countWorkers int
	backoff      time.Duration

	// Provider may throttle delivery
	// If it does, workers will wait until the time is up (unix millis)
	waitUntil atomic.Int64

	queue  queue
	sender sender
	logger logger.Logger
}

func (c *Consumer) Consume(ctx context.Context, in <-chan mailer.Message) <-chan struct{} {
	idleStopped := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < c.countWorkers; i++ {
		wg.Add(1)
		go func() {
			c.worker(ctx, in)
			wg.Done()
		}()
	}

	go func() {
		defer close(idleStopped)
		wg.Wait()
		c.logger.Debug("Mail consumer stopped")
	}()

	return idleStopped
}

func (c *Consumer) worker(ctx context.Context, in <-chan mailer.Message) {
	for {
		// Wait until throttling is over or context is done
		waitUntil := time.UnixMilli(c.waitUntil.Load())
		if waitUntil.After(time.Now()) {
			c.logger.Debug("Worker is waiting for throttling to reset", "wait_until", waitUntil)

			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Until(waitUntil)):
				continue
			}
		}

		select {
		case <-ctx.Done():
			return

		case msg, ok := <-in:
			if !ok {
				c.logger.Debug("Mail worker stopped, input channel closed")
				return
			}
			c.deliver(ctx, msg)
		}
	}
}

func (c *Consumer) deliver(ctx context.Context, msg mailer.Message) {
	err := c.sender.Deliver(ctx, msg)
	if err == nil {
		return
	}

	var delivErr *DeliveryError
	code := CodeUnknown
	if errors.As(err, &delivErr) {
		code = delivErr.Code
	}

	switch code {
	case CodeRetryAfter:
		c.logger.Info("Mail provider throttled, waiting", "retry_after", delivErr.RetryAfter)
		c.pause(delivErr.RetryAfter)
		requeue(ctx, c.queue, msg, c.logger)

	case CodeRejected:
		c.logger.Error("Mail rejected by provider, dropped", "to", msg.To, "template", msg.Template, "error", err)

	default:
		c.logger.Error("Unexpected error while delivering mail", "to", msg.To, "template", msg.Template, "error", err)
		c.pause(c.backoff)
		requeue(ctx, c.queue, msg, c.logger)
	}
}

// pause every worker, a longer pause set by other worker is kept
func (c *Consumer) pause(d time.Duration) {
	until := time.Now().Add(d).UnixMilli()
	for {
		current := c.waitUntil.Load()
		if current >= until || c.waitUntil.CompareAndSwap(current, until) {
			return
		}
	}
}
