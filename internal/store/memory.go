package store

import (
	"context"
	"slices"
	"sync"
	"time"

	"fleetopt/internal/model"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
type Memory struct {
	mu     sync.Mutex
	plans  map[string]model.Plan // id -> plan
	order  []string              // plan ids in save order
	optCfg *model.OptimizerProfile

	deliveries    map[string]*WebhookDelivery // undelivered only
	deliveryOrder []string                    // enqueue order
}

func NewMemory() *Memory {
	return &Memory{plans: map[string]model.Plan{}, deliveries: map[string]*WebhookDelivery{}}
}

func (m *Memory) SavePlan(ctx context.Context, p model.Plan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.plans[p.ID]; !ok {
		m.order = append(m.order, p.ID)
	}
	m.plans[p.ID] = p
	return nil
}

func (m *Memory) GetPlan(ctx context.Context, id string) (model.Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plans[id]
	if !ok {
		return model.Plan{}, ErrNotFound
	}
	return p, nil
}

// ListPlans pages through plans in save order. The cursor is the last id
// of the previous page.
func (m *Memory) ListPlans(ctx context.Context, batchKey, cursor string, limit int) ([]model.Plan, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	limit = clampLimit(limit)
	start := 0
	if cursor != "" {
		for i, id := range m.order {
			if id == cursor {
				start = i + 1
				break
			}
		}
	}
	out := []model.Plan{}
	next := ""
	for _, id := range m.order[start:] {
		p := m.plans[id]
		if batchKey != "" && p.BatchKey != batchKey {
			continue
		}
		if len(out) == limit {
			next = out[len(out)-1].ID
			break
		}
		out = append(out, p)
	}
	return out, next, nil
}

func (m *Memory) GetOptimizerConfig(ctx context.Context) (*model.OptimizerProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.optCfg == nil {
		return nil, nil
	}
	cp := *m.optCfg
	cp.TrafficMultiplierTable = copyTable(m.optCfg.TrafficMultiplierTable)
	return &cp, nil
}

func (m *Memory) SaveOptimizerConfig(ctx context.Context, p model.OptimizerProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.TrafficMultiplierTable = copyTable(p.TrafficMultiplierTable)
	m.optCfg = &p
	return nil
}

func (m *Memory) Ping(ctx context.Context) error { return nil }

// Webhook deliveries. Delivered and failed entries are forgotten.
func (m *Memory) EnqueueWebhook(ctx context.Context, d WebhookDelivery, maxPending int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d.Status = DeliveryPending
	d.Attempts = 0
	d.Payload = append([]byte(nil), d.Payload...)
	m.deliveries[d.ID] = &d
	m.deliveryOrder = append(m.deliveryOrder, d.ID)
	dropped := 0
	for maxPending > 0 && len(m.deliveryOrder) > maxPending {
		delete(m.deliveries, m.deliveryOrder[0])
		m.deliveryOrder = m.deliveryOrder[1:]
		dropped++
	}
	return dropped, nil
}

// FetchDueWebhookDeliveries returns copies ordered by next attempt, then
// enqueue order.
func (m *Memory) FetchDueWebhookDeliveries(ctx context.Context, now time.Time, limit int) ([]WebhookDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []WebhookDelivery{}
	for _, id := range m.deliveryOrder {
		if d := m.deliveries[id]; !d.NextAttemptAt.After(now) {
			out = append(out, *d)
		}
	}
	slices.SortStableFunc(out, func(a, b WebhookDelivery) int { return a.NextAttemptAt.Compare(b.NextAttemptAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt time.Time, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil {
		return nil
	}
	if success {
		m.forgetDelivery(id)
		return nil
	}
	d.Attempts++
	d.Status = DeliveryRetry
	d.LastError = lastError
	d.NextAttemptAt = nextAttemptAt
	return nil
}

func (m *Memory) FailWebhookDelivery(ctx context.Context, id string, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.forgetDelivery(id)
	return nil
}

func (m *Memory) CountPendingWebhookDeliveries(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.deliveries), nil
}

func (m *Memory) forgetDelivery(id string) {
	if _, ok := m.deliveries[id]; !ok {
		return
	}
	delete(m.deliveries, id)
	m.deliveryOrder = slices.DeleteFunc(m.deliveryOrder, func(x string) bool { return x == id })
}

func copyTable(in map[string]float64) map[string]float64 {
	if in == nil {
		return nil
	}
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
