// Package notify hands notification intents to the delivery subsystem.
// Delivery itself is not observed: a failed publish is logged and never
// fails the operation that produced the intent.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"fieldops/dispatch-service/internal/model"
)

// Channel is the Redis pub/sub channel consumed by the delivery subsystem.
const Channel = "EVENT_NOTIFICATION_INTENT"

// OperatorRecipient addresses the dispatch operators' queue.
const OperatorRecipient = "dispatch-operators"

// Publisher emits notification intents.
type Publisher interface {
	Publish(ctx context.Context, intent model.Intent)
}

// RedisPublisher publishes intents as JSON on Channel.
type RedisPublisher struct {
	rdb *redis.Client
	log *slog.Logger
}

func NewRedisPublisher(rdb *redis.Client, log *slog.Logger) *RedisPublisher {
	if log == nil {
		log = slog.Default()
	}
	return &RedisPublisher{rdb: rdb, log: log}
}

func (p *RedisPublisher) Publish(ctx context.Context, intent model.Intent) {
	event, err := json.Marshal(map[string]any{
		"type":   Channel,
		"intent": intent,
	})
	if err != nil {
		p.log.Warn("marshal notification intent failed", "template", intent.Template, "err", err)
		return
	}
	if err := p.rdb.Publish(ctx, Channel, event).Err(); err != nil {
		p.log.Warn("publish "+Channel+" failed", "template", intent.Template, "recipient", intent.Recipient, "err", err)
	}
}

// Recorder keeps intents in memory. It backs tests and --memory mode.
type Recorder struct {
	mu      sync.Mutex
	intents []model.Intent
	log     *slog.Logger
}

func NewRecorder(log *slog.Logger) *Recorder {
	return &Recorder{log: log}
}

func (r *Recorder) Publish(_ context.Context, intent model.Intent) {
	r.mu.Lock()
	r.intents = append(r.intents, intent)
	r.mu.Unlock()
	if r.log != nil {
		r.log.Info("notification intent", "template", intent.Template, "recipient", intent.Recipient)
	}
}

// Intents returns a copy of everything published so far.
func (r *Recorder) Intents() []model.Intent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Intent(nil), r.intents...)
}

// ByTemplate returns the intents published with the given template code.
func (r *Recorder) ByTemplate(template string) []model.Intent {
	var out []model.Intent
	for _, in := range r.Intents() {
		if in.Template == template {
			out = append(out, in)
		}
	}
	return out
}
