package identity

import (
	"context"
	"testing"
	"time"

	"github.com/haasonsaas/agentgate/internal/config"
)

func TestMemoryStoreAdmit(t *testing.T) {
	t.Run("admits principal successfully", func(t *testing.T) {
		store := NewMemoryStore()
		ctx := context.Background()

		err := store.Admit(ctx, &Principal{
			Fingerprint: "fp-1",
			Name:        "agent-alpha",
			Role:        "agent",
		})
		if err != nil {
			t.Fatalf("Admit error: %v", err)
		}

		stored, err := store.Get(ctx, "fp-1")
		if err != nil {
			t.Fatalf("Get error: %v", err)
		}
		if stored == nil {
			t.Fatal("expected stored principal")
		}
		if stored.Name != "agent-alpha" {
			t.Errorf("Name = %q, want %q", stored.Name, "agent-alpha")
		}
		if stored.CreatedAt.IsZero() {
			t.Error("CreatedAt should be set")
		}
	})

	t.Run("rejects duplicate fingerprint", func(t *testing.T) {
		store := NewMemoryStore()
		ctx := context.Background()

		if err := store.Admit(ctx, &Principal{Fingerprint: "fp-1"}); err != nil {
			t.Fatalf("first Admit error: %v", err)
		}
		if err := store.Admit(ctx, &Principal{Fingerprint: "fp-1"}); err != ErrAlreadyAdmitted {
			t.Fatalf("Admit() = %v, want ErrAlreadyAdmitted", err)
		}
	})

	t.Run("rejects empty fingerprint", func(t *testing.T) {
		store := NewMemoryStore()
		ctx := context.Background()

		if err := store.Admit(ctx, &Principal{}); err == nil {
			t.Error("expected error for empty fingerprint")
		}
	})

	t.Run("clones to prevent external modification", func(t *testing.T) {
		store := NewMemoryStore()
		ctx := context.Background()

		p := &Principal{Fingerprint: "fp-1", Name: "original"}
		if err := store.Admit(ctx, p); err != nil {
			t.Fatalf("Admit error: %v", err)
		}
		p.Name = "mutated"

		stored, _ := store.Get(ctx, "fp-1")
		if stored.Name != "original" {
			t.Error("stored principal should not be affected by caller mutation")
		}
	})
}

func TestMemoryStoreGet(t *testing.T) {
	t.Run("returns nil for unknown fingerprint", func(t *testing.T) {
		store := NewMemoryStore()
		ctx := context.Background()

		p, err := store.Get(ctx, "unknown")
		if err != nil {
			t.Fatalf("Get error: %v", err)
		}
		if p != nil {
			t.Error("expected nil principal for unknown fingerprint")
		}
	})
}

func TestMemoryStoreTouch(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Admit(ctx, &Principal{Fingerprint: "fp-1"}); err != nil {
		t.Fatalf("Admit error: %v", err)
	}

	now := time.Now()
	if err := store.Touch(ctx, "fp-1", now); err != nil {
		t.Fatalf("Touch error: %v", err)
	}
	stored, _ := store.Get(ctx, "fp-1")
	if !stored.LastSeenAt.Equal(now) {
		t.Errorf("LastSeenAt = %v, want %v", stored.LastSeenAt, now)
	}

	if err := store.Touch(ctx, "missing", now); err != nil {
		t.Errorf("Touch on unknown fingerprint should be a no-op, got error: %v", err)
	}
}

func TestMemoryStoreRemove(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Admit(ctx, &Principal{Fingerprint: "fp-1"}); err != nil {
		t.Fatalf("Admit error: %v", err)
	}
	if err := store.Remove(ctx, "fp-1"); err != nil {
		t.Fatalf("Remove error: %v", err)
	}
	stored, _ := store.Get(ctx, "fp-1")
	if stored != nil {
		t.Error("principal should be removed")
	}

	if err := store.Remove(ctx, "nonexistent"); err != nil {
		t.Errorf("Remove on unknown fingerprint should not error: %v", err)
	}
}

func TestMemoryStoreList(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for _, fp := range []string{"fp-1", "fp-2", "fp-3"} {
		if err := store.Admit(ctx, &Principal{Fingerprint: fp}); err != nil {
			t.Fatalf("Admit(%s) error: %v", fp, err)
		}
	}

	all, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("List() returned %d principals, want 3", len(all))
	}
}

func TestSeedConfig(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	entries := []config.PrincipalConfig{
		{Fingerprint: "fp-1", Name: "agent-alpha", Role: "agent"},
		{Fingerprint: "fp-2", Name: "agent-beta", Role: "agent"},
	}

	if err := SeedConfig(ctx, store, entries); err != nil {
		t.Fatalf("SeedConfig error: %v", err)
	}
	all, _ := store.List(ctx)
	if len(all) != 2 {
		t.Fatalf("expected 2 seeded principals, got %d", len(all))
	}

	// Re-seeding the same entries must be idempotent.
	if err := SeedConfig(ctx, store, entries); err != nil {
		t.Fatalf("repeat SeedConfig error: %v", err)
	}
	all, _ = store.List(ctx)
	if len(all) != 2 {
		t.Fatalf("expected 2 principals after re-seed, got %d", len(all))
	}
}
