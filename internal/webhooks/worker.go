// Package webhooks delivers plan events to an external HTTP endpoint.
package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"fleetopt/internal/model"
	"fleetopt/internal/store"
)

// Worker persists plan events in the store and posts them with retries.
// Deliveries survive a restart when the store does.
type Worker struct {
	Store       store.Store
	URL         string
	Secret      string
	HTTP        *http.Client
	MaxAttempts int
	MaxQueue    int
	BatchSize   int
	Now         func() time.Time
}

func NewWorker(s store.Store, url, secret string, maxAttempts int) *Worker {
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	return &Worker{
		Store:       s,
		URL:         url,
		Secret:      secret,
		HTTP:        &http.Client{Timeout: 5 * time.Second},
		MaxAttempts: maxAttempts,
		MaxQueue:    1000,
		BatchSize:   50,
		Now:         time.Now,
	}
}

// Notify enqueues evt. When the queue is full the oldest deliveries are
// dropped.
func (w *Worker) Notify(evt model.PlanEvent) {
	payload := map[string]any{
		"id":   "evt_" + uuid.NewString(),
		"type": evt.Type,
		"ts":   w.Now().UTC().Format(time.RFC3339),
		"data": evt,
	}
	body, _ := json.Marshal(payload)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	d := store.WebhookDelivery{ID: uuid.NewString(), EventType: evt.Type, Payload: body, NextAttemptAt: w.Now()}
	dropped, err := w.Store.EnqueueWebhook(ctx, d, w.MaxQueue)
	if err != nil {
		log.Printf("webhooks: enqueue failed type=%s err=%v", evt.Type, err)
		return
	}
	if dropped > 0 {
		log.Printf("webhooks: queue full, dropped %d oldest deliveries", dropped)
	}
}

// Run processes due deliveries every second until ctx is done.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.processOnce(ctx)
		}
	}
}

// Pending reports how many deliveries are waiting; -1 when the store fails.
func (w *Worker) Pending() int {
	n, err := w.Store.CountPendingWebhookDeliveries(context.Background())
	if err != nil {
		log.Printf("webhooks: count pending failed err=%v", err)
		return -1
	}
	return n
}

func (w *Worker) processOnce(ctx context.Context) {
	items, err := w.Store.FetchDueWebhookDeliveries(ctx, w.Now(), w.BatchSize)
	if err != nil {
		log.Printf("webhooks: fetch due deliveries failed err=%v", err)
		return
	}
	for _, d := range items {
		code, err := w.post(ctx, d)
		if err == nil && code >= 200 && code < 300 {
			if err := w.Store.MarkWebhookDelivery(ctx, d.ID, true, time.Time{}, ""); err != nil {
				log.Printf("webhooks: mark delivered failed id=%s err=%v", d.ID, err)
			}
			continue
		}
		lastErr := fmt.Sprintf("status %d", code)
		if err != nil {
			lastErr = err.Error()
		}
		if d.Attempts+1 >= w.MaxAttempts {
			log.Printf("webhooks: giving up id=%s type=%s attempts=%d code=%d err=%v", d.ID, d.EventType, d.Attempts+1, code, err)
			if err := w.Store.FailWebhookDelivery(ctx, d.ID, lastErr); err != nil {
				log.Printf("webhooks: mark failed id=%s err=%v", d.ID, err)
			}
			continue
		}
		next := w.Now().Add(nextBackoff(d.Attempts + 1))
		if err := w.Store.MarkWebhookDelivery(ctx, d.ID, false, next, lastErr); err != nil {
			log.Printf("webhooks: reschedule failed id=%s err=%v", d.ID, err)
		}
	}
}

func (w *Worker) post(ctx context.Context, d store.WebhookDelivery) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(d.Payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Type", d.EventType)
	req.Header.Set("X-Delivery-Id", d.ID)
	if w.Secret != "" {
		req.Header.Set("X-Signature", SignHMAC(w.Secret, d.Payload))
	}
	resp, err := w.HTTP.Do(req)
	if err != nil {
		return 0, err
	}
	_ = resp.Body.Close()
	return resp.StatusCode, nil
}

func nextBackoff(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > 10 {
		attempts = 10
	}
	base := time.Second * time.Duration(1<<attempts)
	if base > time.Hour {
		base = time.Hour
	}
	return base
}
