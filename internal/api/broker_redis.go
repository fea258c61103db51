package api

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"

	"fleetopt/internal/model"
)

// RedisBroker implements EventBroker over Redis Pub/Sub so every replica
// sees events for a batch.
type RedisBroker struct {
	rdb  *redis.Client
	mu   sync.Mutex
	subs map[chan model.PlanEvent]*redis.PubSub
}

func NewRedisBroker(url string) (*RedisBroker, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return newRedisBroker(redis.NewClient(opts)), nil
}

func newRedisBroker(rdb *redis.Client) *RedisBroker {
	return &RedisBroker{rdb: rdb, subs: map[chan model.PlanEvent]*redis.PubSub{}}
}

func (b *RedisBroker) Ping(ctx context.Context) error { return b.rdb.Ping(ctx).Err() }

// Subscribe returns a channel that is closed after Unsubscribe or when the
// Redis connection is lost.
func (b *RedisBroker) Subscribe(batchKey string) chan model.PlanEvent {
	ch := make(chan model.PlanEvent, 16)
	ctx := context.Background()
	ps := b.rdb.Subscribe(ctx, b.chanName(batchKey))
	// wait for the subscription to be confirmed
	if _, err := ps.Receive(ctx); err != nil {
		log.Printf("api: redis subscribe failed batch=%s err=%v", batchKey, err)
	}
	b.mu.Lock()
	b.subs[ch] = ps
	b.mu.Unlock()
	msgs := ps.Channel()
	go func() {
		defer close(ch)
		for msg := range msgs {
			var evt model.PlanEvent
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err == nil {
				select {
				case ch <- evt:
				default:
				}
			}
		}
	}()
	return ch
}

func (b *RedisBroker) Unsubscribe(batchKey string, ch chan model.PlanEvent) {
	b.mu.Lock()
	ps, ok := b.subs[ch]
	delete(b.subs, ch)
	b.mu.Unlock()
	if ok {
		_ = ps.Close()
	}
}

func (b *RedisBroker) Publish(batchKey string, evt model.PlanEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	data, _ := json.Marshal(evt)
	if err := b.rdb.Publish(ctx, b.chanName(batchKey), data).Err(); err != nil {
		log.Printf("api: redis publish failed batch=%s type=%s err=%v", batchKey, evt.Type, err)
	}
}

func (b *RedisBroker) chanName(batchKey string) string { return "plans:" + batchKey }
