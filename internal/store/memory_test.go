package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"fleetopt/internal/model"
)

func TestMemoryPlans(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	for i := 0; i < 5; i++ {
		batch := "a"
		if i%2 == 1 {
			batch = "b"
		}
		if err := m.SavePlan(ctx, model.Plan{ID: fmt.Sprintf("p%d", i), BatchKey: batch, Status: "feasible"}); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	if err := m.SavePlan(ctx, model.Plan{ID: "p0", BatchKey: "a", Status: "infeasible_partial"}); err != nil {
		t.Fatalf("resave: %v", err)
	}
	got, err := m.GetPlan(ctx, "p0")
	if err != nil || got.Status != "infeasible_partial" {
		t.Fatalf("get: %+v %v", got, err)
	}
	if _, err := m.GetPlan(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	page, next, err := m.ListPlans(ctx, "a", "", 2)
	if err != nil || len(page) != 2 || page[0].ID != "p0" || page[1].ID != "p2" || next != "p2" {
		t.Fatalf("first page: %+v next=%q err=%v", page, next, err)
	}
	page, next, err = m.ListPlans(ctx, "a", next, 2)
	if err != nil || len(page) != 1 || page[0].ID != "p4" || next != "" {
		t.Fatalf("second page: %+v next=%q err=%v", page, next, err)
	}
	all, _, _ := m.ListPlans(ctx, "", "", 0)
	if len(all) != 5 {
		t.Fatalf("expected 5 plans, got %d", len(all))
	}
}

func TestMemoryOptimizerConfig(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	if p, err := m.GetOptimizerConfig(ctx); err != nil || p != nil {
		t.Fatalf("expected nil profile, got %+v %v", p, err)
	}
	table := map[string]float64{"midday": 1.1}
	if err := m.SaveOptimizerConfig(ctx, model.OptimizerProfile{Seed: 9, TrafficMultiplierTable: table}); err != nil {
		t.Fatalf("save: %v", err)
	}
	table["midday"] = 5
	p, err := m.GetOptimizerConfig(ctx)
	if err != nil || p == nil || p.Seed != 9 || p.TrafficMultiplierTable["midday"] != 1.1 {
		t.Fatalf("unexpected profile %+v %v", p, err)
	}
	p.TrafficMultiplierTable["midday"] = 7
	again, _ := m.GetOptimizerConfig(ctx)
	if again.TrafficMultiplierTable["midday"] != 1.1 {
		t.Fatalf("stored profile was mutated through a returned copy")
	}
}

func TestMemoryWebhookDeliveries(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	t0 := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	for i, id := range []string{"d1", "d2", "d3"} {
		d := WebhookDelivery{ID: id, EventType: "plan.completed", Payload: []byte(`{}`), NextAttemptAt: t0.Add(time.Duration(i) * time.Second)}
		dropped, err := m.EnqueueWebhook(ctx, d, 2)
		if err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
		if want := []int{0, 0, 1}[i]; dropped != want {
			t.Fatalf("enqueue %s dropped %d, want %d", id, dropped, want)
		}
	}
	due, err := m.FetchDueWebhookDeliveries(ctx, t0.Add(time.Second), 10)
	if err != nil || len(due) != 1 || due[0].ID != "d2" || due[0].Status != DeliveryPending {
		t.Fatalf("due: %+v %v", due, err)
	}
	if err := m.MarkWebhookDelivery(ctx, "d2", false, t0.Add(time.Minute), "status 500"); err != nil {
		t.Fatalf("mark retry: %v", err)
	}
	due, _ = m.FetchDueWebhookDeliveries(ctx, t0.Add(2*time.Second), 10)
	if len(due) != 1 || due[0].ID != "d3" {
		t.Fatalf("rescheduled delivery still due: %+v", due)
	}
	due, _ = m.FetchDueWebhookDeliveries(ctx, t0.Add(time.Hour), 10)
	if len(due) != 2 || due[0].ID != "d3" || due[1].ID != "d2" || due[1].Attempts != 1 || due[1].LastError != "status 500" {
		t.Fatalf("due after backoff: %+v", due)
	}
	if err := m.MarkWebhookDelivery(ctx, "d3", true, time.Time{}, ""); err != nil {
		t.Fatalf("mark delivered: %v", err)
	}
	if err := m.FailWebhookDelivery(ctx, "d2", "gave up"); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if n, _ := m.CountPendingWebhookDeliveries(ctx); n != 0 {
		t.Fatalf("pending after delivery and failure: %d", n)
	}
}
