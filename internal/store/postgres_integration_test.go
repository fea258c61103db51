//go:build postgres_integration

package store

import (
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"fleetopt/internal/model"
)

func TestPostgresPlanRoundTrip(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping integration test")
	}
	p, err := NewPostgres(dsn)
	if err != nil {
		t.Fatalf("NewPostgres: %v", err)
	}
	defer p.Close()
	if err := p.Migrate(t.Context()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	id := uuid.Must(uuid.NewV7()).String()
	batch := "it_" + id
	if err := p.SavePlan(t.Context(), model.Plan{ID: id, BatchKey: batch, Status: "feasible", CreatedAt: "2026-03-02T08:00:00Z"}); err != nil {
		t.Fatalf("SavePlan: %v", err)
	}
	got, err := p.GetPlan(t.Context(), id)
	if err != nil || got.BatchKey != batch {
		t.Fatalf("GetPlan: %+v %v", got, err)
	}
	list, _, err := p.ListPlans(t.Context(), batch, "", 10)
	if err != nil || len(list) != 1 {
		t.Fatalf("ListPlans: %d %v", len(list), err)
	}
}

func TestPostgresWebhookDeliveries(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping integration test")
	}
	p, err := NewPostgres(dsn)
	if err != nil {
		t.Fatalf("NewPostgres: %v", err)
	}
	defer p.Close()
	if err := p.Migrate(t.Context()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	id := uuid.Must(uuid.NewV7()).String()
	past := time.Now().Add(-time.Hour)
	if _, err := p.EnqueueWebhook(t.Context(), WebhookDelivery{ID: id, EventType: "plan.completed", Payload: []byte(`{"a":1}`), NextAttemptAt: past}, 0); err != nil {
		t.Fatalf("EnqueueWebhook: %v", err)
	}
	due, err := p.FetchDueWebhookDeliveries(t.Context(), time.Now(), 500)
	if err != nil {
		t.Fatalf("FetchDueWebhookDeliveries: %v", err)
	}
	found := false
	for _, d := range due {
		found = found || (d.ID == id && string(d.Payload) == `{"a":1}`)
	}
	if !found {
		t.Fatalf("enqueued delivery %s not due", id)
	}
	if err := p.MarkWebhookDelivery(t.Context(), id, true, time.Time{}, ""); err != nil {
		t.Fatalf("MarkWebhookDelivery: %v", err)
	}
}
