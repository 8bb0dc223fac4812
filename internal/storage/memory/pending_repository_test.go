package memory_test

import (
	"sync"
	"testing"
	"time"

	"github.com/pavelgordeev/ocms/internal/domain"
	"github.com/pavelgordeev/ocms/internal/storage/memory"
)

func TestPendingSelectionStore_PutConsume(t *testing.T) {
	store := memory.NewPendingSelectionStore()

	sel := domain.PendingSelection{
		AttemptID:  "attempt-1",
		CustomerID: "customer-1",
		ItemIDs:    []string{"ci-a", "ci-c"},
	}
	if err := store.Put(sel); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	got, err := store.Consume("attempt-1")
	if err != nil {
		t.Fatalf("consume failed: %v", err)
	}
	if len(got.ItemIDs) != 2 {
		t.Fatalf("expected 2 item ids, got %d", len(got.ItemIDs))
	}

	// Повторный consume — запись уже удалена.
	if _, err := store.Consume("attempt-1"); err != domain.ErrPendingSelectionNotFound {
		t.Fatalf("expected ErrPendingSelectionNotFound, got %v", err)
	}
}

func TestPendingSelectionStore_PutRequiresAttemptID(t *testing.T) {
	store := memory.NewPendingSelectionStore()
	if err := store.Put(domain.PendingSelection{AttemptID: "  "}); err != domain.ErrAttemptIDRequired {
		t.Fatalf("expected ErrAttemptIDRequired, got %v", err)
	}
}

func TestPendingSelectionStore_ConsumeSingleWinner(t *testing.T) {
	store := memory.NewPendingSelectionStore()
	if err := store.Put(domain.PendingSelection{AttemptID: "attempt-1", CustomerID: "customer-1", ItemIDs: []string{"ci-a"}}); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	// Две "вкладки" гонятся за одной записью; победить должна ровно одна.
	const racers = 16
	var wg sync.WaitGroup
	wins := make(chan struct{}, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Consume("attempt-1"); err == nil {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	count := 0
	for range wins {
		count++
	}
	if count != 1 {
		t.Fatalf("expected exactly one successful consume, got %d", count)
	}
}

func TestPendingSelectionStore_DeleteExpired(t *testing.T) {
	store := memory.NewPendingSelectionStore()
	now := time.Now().UTC()

	expired := domain.PendingSelection{AttemptID: "attempt-old", CustomerID: "customer-1", TTLAt: now.Add(-time.Hour)}
	fresh := domain.PendingSelection{AttemptID: "attempt-new", CustomerID: "customer-1", TTLAt: now.Add(time.Hour)}
	if err := store.Put(expired); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if err := store.Put(fresh); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	removed, err := store.DeleteExpired(now, 100)
	if err != nil {
		t.Fatalf("delete expired failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	if _, err := store.Get("attempt-new"); err != nil {
		t.Fatalf("fresh record must survive: %v", err)
	}
}
