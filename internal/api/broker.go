package api

import (
	"sync"

	"fleetopt/internal/model"
)

// EventBroker fans plan events out to subscribers of a batch key.
type EventBroker interface {
	Subscribe(batchKey string) chan model.PlanEvent
	Unsubscribe(batchKey string, ch chan model.PlanEvent)
	Publish(batchKey string, evt model.PlanEvent)
}

// Broker is the in-process EventBroker. Slow subscribers drop events.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan model.PlanEvent]struct{} // batchKey -> set of channels
}

func NewBroker() *Broker {
	return &Broker{subs: map[string]map[chan model.PlanEvent]struct{}{}}
}

func (b *Broker) Subscribe(batchKey string) chan model.PlanEvent {
	ch := make(chan model.PlanEvent, 8)
	b.mu.Lock()
	if b.subs[batchKey] == nil {
		b.subs[batchKey] = map[chan model.PlanEvent]struct{}{}
	}
	b.subs[batchKey][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) Unsubscribe(batchKey string, ch chan model.PlanEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.subs[batchKey]
	if _, ok := m[ch]; !ok {
		return
	}
	delete(m, ch)
	if len(m) == 0 {
		delete(b.subs, batchKey)
	}
	close(ch)
}

func (b *Broker) Publish(batchKey string, evt model.PlanEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[batchKey] {
		select {
		case ch <- evt:
		default:
		}
	}
}
