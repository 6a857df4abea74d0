package notify_test

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"

	"fieldops/dispatch-service/internal/model"
	"fieldops/dispatch-service/internal/notify"
)

func TestRecorder(t *testing.T) {
	r := notify.NewRecorder(nil)
	ctx := context.Background()

	r.Publish(ctx, model.Intent{ID: "1", Template: model.TemplateOfferSent, Recipient: "p-1"})
	r.Publish(ctx, model.Intent{ID: "2", Template: model.TemplateManualReview, Recipient: notify.OperatorRecipient})
	r.Publish(ctx, model.Intent{ID: "3", Template: model.TemplateOfferSent, Recipient: "p-2"})

	assert.Len(t, r.Intents(), 3)
	sent := r.ByTemplate(model.TemplateOfferSent)
	assert.Len(t, sent, 2)
	assert.Equal(t, "p-2", sent[1].Recipient)
	assert.Empty(t, r.ByTemplate(model.TemplateOfferEscalated))
}

func TestRedisPublisher_UnreachableDoesNotPanic(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer rdb.Close()

	p := notify.NewRedisPublisher(rdb, nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	assert.NotPanics(t, func() {
		p.Publish(ctx, model.Intent{ID: "1", Template: model.TemplateOfferSent, Recipient: "p-1"})
	})
}
