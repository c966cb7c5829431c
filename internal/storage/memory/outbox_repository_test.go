package memory

import (
	"context"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/wholesale/internal/domain"
)

func TestOutboxRepository_EnqueueAndPull(t *testing.T) {
	ctx := context.Background()
	repo := NewOutboxRepository()

	msg := domain.OutboxMessage{
		AggregateType: "order",
		AggregateID:   "order-1",
		EventType:     domain.EventOrderCreated,
		Payload:       []byte(`{"orderId":"order-1"}`),
	}

	saved, err := repo.Enqueue(ctx, msg)
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if saved.ID == "" {
		t.Fatal("expected generated id")
	}

	pending, err := repo.PullPending(ctx, 10)
	if err != nil {
		t.Fatalf("pull failed: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending message, got %d", len(pending))
	}
	if pending[0].ID != saved.ID {
		t.Fatalf("expected same message id, got %s", pending[0].ID)
	}
}

func TestOutboxRepository_PullKeepsInsertionOrder(t *testing.T) {
	ctx := context.Background()
	repo := NewOutboxRepository()

	for _, id := range []string{"m-1", "m-2", "m-3"} {
		if _, err := repo.Enqueue(ctx, domain.OutboxMessage{ID: id}); err != nil {
			t.Fatalf("enqueue %s failed: %v", id, err)
		}
	}

	pending, _ := repo.PullPending(ctx, 2)
	if len(pending) != 2 || pending[0].ID != "m-1" || pending[1].ID != "m-2" {
		t.Fatalf("unexpected order: %+v", pending)
	}
}

func TestOutboxRepository_MarkSentAndStats(t *testing.T) {
	ctx := context.Background()
	repo := NewOutboxRepository()

	first, _ := repo.Enqueue(ctx, domain.OutboxMessage{AggregateType: "order"})
	second, _ := repo.Enqueue(ctx, domain.OutboxMessage{AggregateType: "sale"})

	if err := repo.MarkSent(ctx, first.ID); err != nil {
		t.Fatalf("mark sent failed: %v", err)
	}

	stats, err := repo.Stats(ctx)
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.PendingCount != 1 {
		t.Fatalf("expected 1 pending, got %d", stats.PendingCount)
	}
	if stats.OldestPendingAt.IsZero() {
		t.Fatal("expected oldest pending timestamp")
	}

	if err := repo.MarkFailed(ctx, second.ID); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if got := len(repo.AllPending()); got != 0 {
		t.Fatalf("expected no pending messages, got %d", got)
	}
}

func TestOutboxRepository_MarkUnknown(t *testing.T) {
	repo := NewOutboxRepository()
	if err := repo.MarkSent(context.Background(), "missing"); err != domain.ErrOutboxPublish {
		t.Fatalf("expected ErrOutboxPublish, got %v", err)
	}
}

func TestOutboxRepository_DeleteProcessedRespectsLimit(t *testing.T) {
	ctx := context.Background()
	repo := NewOutboxRepository()
	for _, id := range []string{"a", "b", "c", "d"} {
		if _, err := repo.Enqueue(ctx, domain.OutboxMessage{ID: id, EventType: domain.EventOrderCreated}); err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
	}
	for _, id := range []string{"a", "b", "c"} {
		if err := repo.MarkSent(ctx, id); err != nil {
			t.Fatalf("mark sent %s: %v", id, err)
		}
	}

	cutoff := time.Now().UTC().Add(time.Second)
	deleted, err := repo.DeleteProcessed(ctx, cutoff, 2)
	if err != nil {
		t.Fatalf("delete processed: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("expected 2 deleted, got %d", deleted)
	}
	if deleted, _ = repo.DeleteProcessed(ctx, cutoff, 2); deleted != 1 {
		t.Fatalf("expected 1 deleted on second pass, got %d", deleted)
	}
	if err := repo.MarkSent(ctx, "a"); err != domain.ErrOutboxPublish {
		t.Fatalf("deleted message must be gone, got %v", err)
	}
	if pending := repo.AllPending(); len(pending) != 1 || pending[0].ID != "d" {
		t.Fatalf("pending message must survive cleanup: %+v", pending)
	}
}
