package store

import (
	"reflect"
	"strings"
	"testing"
)

func TestListPlansQuery(t *testing.T) {
	q, args := listPlansQuery("", "", 10)
	if q != `SELECT body FROM plans WHERE true ORDER BY id LIMIT $1` || !reflect.DeepEqual(args, []any{11}) {
		t.Fatalf("unexpected query %q %v", q, args)
	}
	q, args = listPlansQuery("b1", "p9", 5)
	want := `SELECT body FROM plans WHERE true AND batch_key=$1 AND id > $2 ORDER BY id LIMIT $3`
	if q != want || !reflect.DeepEqual(args, []any{"b1", "p9", 6}) {
		t.Fatalf("unexpected query %q %v", q, args)
	}
}

func TestNullIfEmpty(t *testing.T) {
	if v := nullIfEmpty(""); v != nil {
		t.Fatalf("empty -> nil expected")
	}
	if v := nullIfEmpty("x"); v != "x" {
		t.Fatalf("non-empty passthrough expected, got %v", v)
	}
}

func TestClampLimit(t *testing.T) {
	for in, want := range map[int]int{0: 100, -1: 100, 7: 7, 500: 500, 501: 100} {
		if got := clampLimit(in); got != want {
			t.Fatalf("clampLimit(%d)=%d want %d", in, got, want)
		}
	}
}

func TestWebhookDeliveryQueries(t *testing.T) {
	for _, q := range []string{dueDeliveriesQuery, dropOldestDeliveriesQuery} {
		if !strings.Contains(q, "status IN ('pending','retry')") {
			t.Fatalf("query does not skip settled deliveries: %q", q)
		}
	}
	if !strings.Contains(dueDeliveriesQuery, "next_attempt_at <= $1") || !strings.Contains(dueDeliveriesQuery, "ORDER BY next_attempt_at, seq LIMIT $2") {
		t.Fatalf("unexpected due query %q", dueDeliveriesQuery)
	}
	if !strings.Contains(dropOldestDeliveriesQuery, "ORDER BY seq DESC OFFSET $1") {
		t.Fatalf("drop query must keep the newest entries: %q", dropOldestDeliveriesQuery)
	}
}
