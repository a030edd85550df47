package maildispatch

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/veltradev/veltra/internal/logger"
	"github.com/veltradev/veltra/internal/mailer"
)

type Producer struct {
	popTimeout time.Duration
	backoff    time.Duration
	queue      queue
	logger     logger.Logger
}

func (p *Producer) Produce(ctx context.Context, out chan<- mailer.Message) <-chan struct{} {
	idleStopped := make(chan struct{})
	p.logger.Debug("Starting mail producer", "pop_timeout", p.popTimeout)

	go func() {
		defer close(idleStopped)

		for {
			if ctx.Err() != nil {
				p.logger.Debug("Mail producer stopped by context")
				return
			}

			msg, err := p.queue.Pop(ctx, p.popTimeout)
			switch {
			case errors.Is(err, redis.Nil):
				continue // queue is empty
			case ctx.Err() != nil:
				continue
			case err != nil:
				p.logger.Error("Failed to pop mail from queue", "error", err)
				select {
				case <-ctx.Done():
				case <-time.After(p.backoff):
				}
				continue
			}

			select {
			case <-ctx.Done():
				p.logger.Debug("Mail producer stopped by context while sending message")
				requeue(ctx, p.queue, msg, p.logger)
				return
			case out <- msg:
			}
		}
	}()

	return idleStopped
}
