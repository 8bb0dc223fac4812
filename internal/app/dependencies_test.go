package app

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	log "github.com/sirupsen/logrus"

	"github.com/pavelgordeev/ocms/internal/domain"
	"github.com/pavelgordeev/ocms/internal/storage/redis"
)

func TestNewDependencies_MemoryByDefault(t *testing.T) {
	logger := log.WithField("test", "dependencies")

	deps, err := NewDependencies(context.Background(), DefaultConfig(), logger)
	if err != nil {
		t.Fatalf("NewDependencies failed: %v", err)
	}
	defer deps.Close()

	if deps.Orders == nil || deps.Carts == nil || deps.Timeline == nil || deps.Pending == nil {
		t.Fatal("all repositories must be initialized")
	}
	if deps.Store != nil {
		t.Error("postgres store must not be created without a DSN")
	}
	if deps.Producer != nil {
		t.Error("kafka producer must not be created without brokers")
	}
}

func TestNewDependencies_NilLogger(t *testing.T) {
	deps, err := NewDependencies(context.Background(), DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("NewDependencies failed: %v", err)
	}
	defer deps.Close()

	if deps.Logger == nil {
		t.Error("Logger should be initialized even when nil is passed")
	}
}

func TestNewDependencies_RedisPendingStore(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := DefaultConfig()
	cfg.RedisAddr = mr.Addr()

	deps, err := NewDependencies(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("NewDependencies failed: %v", err)
	}
	defer deps.Close()

	if _, ok := deps.Pending.(*redis.PendingStore); !ok {
		t.Fatalf("expected redis-backed pending store, got %T", deps.Pending)
	}

	// Хранилище действительно работает через Redis.
	sel := domain.PendingSelection{AttemptID: "att-1", CustomerID: "cust-1", ItemIDs: []string{"ci-a"}}
	if err := deps.Pending.Put(sel); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	got, err := deps.Pending.Consume("att-1")
	if err != nil {
		t.Fatalf("Consume failed: %v", err)
	}
	if got.CustomerID != "cust-1" {
		t.Errorf("expected customer cust-1, got %s", got.CustomerID)
	}
}

func TestNewDependencies_RedisUnreachable(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RedisAddr = "127.0.0.1:1"

	deps, err := NewDependencies(context.Background(), cfg, nil)
	if err == nil {
		deps.Close()
		t.Fatal("expected an error for unreachable redis")
	}
}
