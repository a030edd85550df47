// Package maildispatch moves queued mail to the delivery provider with a pool of workers.
package maildispatch

import (
	"context"
	"time"

	"github.com/veltradev/veltra/internal/logger"
	"github.com/veltradev/veltra/internal/mailer"
)

const (
	defaultCountWorkers = 4               // Number of workers delivering mail
	defaultPopTimeout   = time.Second     // How long producer blocks on empty queue
	defaultBackoff      = 5 * time.Second // Pause after queue or provider failure
)

type queue interface {
	Pop(ctx context.Context, timeout time.Duration) (mailer.Message, error)
	Requeue(ctx context.Context, msg mailer.Message) error
}

type sender interface {
	Deliver(ctx context.Context, msg mailer.Message) error
}

type Config struct {
	CountWorkers int
	PopTimeout   time.Duration
	Backoff      time.Duration
}

type Dispatcher struct {
	consumer *Consumer
	producer *Producer
	logger   logger.Logger
}

func New(cfg Config, q queue, s sender, l logger.Logger) *Dispatcher {
	if cfg.CountWorkers <= 0 {
		cfg.CountWorkers = defaultCountWorkers
	}
	if cfg.PopTimeout <= 0 {
		cfg.PopTimeout = defaultPopTimeout
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = defaultBackoff
	}

	return &Dispatcher{
		consumer: &Consumer{
			countWorkers: cfg.CountWorkers,
			backoff:      cfg.Backoff,
			queue:        q,
			sender:       s,
			logger:       l,
		},
		producer: &Producer{
			popTimeout: cfg.PopTimeout,
			backoff:    cfg.Backoff,
			queue:      q,
			logger:     l,
		},
		logger: l,
	}
}

// Dispatch delivers mail until ctx is done. Returned channel is closed when every worker stopped
func (d *Dispatcher) Dispatch(ctx context.Context) <-chan struct{} {
	idleStopped := make(chan struct{})

	messages := make(chan mailer.Message)

	producerStopped := d.producer.Produce(ctx, messages)
	consumerStopped := d.consumer.Consume(ctx, messages)

	go func() {
		defer close(idleStopped)
		defer close(messages)
		<-producerStopped
		<-consumerStopped
		d.logger.Debug("Mail dispatcher stopped")
	}()

	return idleStopped
}

// requeue message even if ctx is already done, so shutdown does not lose it
func requeue(ctx context.Context, q queue, msg mailer.Message, l logger.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()

	if err := q.Requeue(ctx, msg); err != nil {
		l.Error("Mail is lost, can't put it back to queue", "to", msg.To, "template", msg.Template, "error", err)
	}
}
