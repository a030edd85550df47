// Package mailer hands outgoing mail to a delivery worker.
// Rendering templates and talking SMTP is the worker's job, this side only enqueues.
package mailer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/veltradev/veltra/internal/logger"
)

// Mail templates
const (
	TemplateVerifyEmail   = "verify-email"
	TemplateResetPassword = "reset-password"
)

const DefaultQueueKey = "veltra:mail:outbox"

type Mailer interface {
	SendMail(ctx context.Context, to string, subject string, template string, data map[string]string) error
}

// Message as it stored in the queue
type Message struct {
	To       string            `json:"to"`
	Subject  string            `json:"subject"`
	Template string            `json:"template"`
	Data     map[string]string `json:"data"`
	QueuedAt time.Time         `json:"queuedAt"`
}

// RedisQueue pushes messages to the head of redis list, so the worker should pop from the tail
type RedisQueue struct {
	client redis.UniversalClient
	key    string
}

func NewRedisQueue(client redis.UniversalClient, key string) *RedisQueue {
	if key == "" {
		key = DefaultQueueKey
	}
	return &RedisQueue{client: client, key: key}
}

func (q *RedisQueue) SendMail(ctx context.Context, to string, subject string, template string, data map[string]string) error {
	if to == "" {
		return errors.New("mail recipient must not be empty")
	}

	payload, err := json.Marshal(Message{
		To:       to,
		Subject:  subject,
		Template: template,
		Data:     data,
		QueuedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode mail message: %w", err)
	}

	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("enqueue mail to %s: %w", q.key, err)
	}

	return nil
}

// Requeue puts message back to the tail, so it is popped next
func (q *RedisQueue) Requeue(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode mail message: %w", err)
	}

	if err := q.client.RPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("requeue mail to %s: %w", q.key, err)
	}

	return nil
}

// Pop the oldest message. Blocks up to timeout, redis.Nil is returned if the queue is still empty
func (q *RedisQueue) Pop(ctx context.Context, timeout time.Duration) (Message, error) {
	var msg Message

	res, err := q.client.BRPop(ctx, timeout, q.key).Result()
	if err != nil {
		return msg, err
	}

	// BRPOP replies with key and value
	if err := json.Unmarshal([]byte(res[1]), &msg); err != nil {
		return msg, fmt.Errorf("decode mail message: %w", err)
	}

	return msg, nil
}

// LogMailer only logs messages, used when there is no queue configured
type LogMailer struct {
	Logger logger.Logger
}

func (m LogMailer) SendMail(ctx context.Context, to string, subject string, template string, data map[string]string) error {
	m.Logger.Info("Mail is not sent, no queue configured",
		"to", to,
		"subject", subject,
		"template", template,
		"link", data["link"],
	)
	return nil
}
