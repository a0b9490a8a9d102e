package connection

import (
	"sync"
	"testing"
	"time"

	"nodewatch/internal/signature"
	"nodewatch/internal/types"
)

func TestRegistryOneManagerPerWallet(t *testing.T) {
	built := 0
	r := NewRegistry(func(wallet string) *Manager {
		built++
		return NewManager(DefaultConfig("ws://127.0.0.1:1/ws", wallet), Deps{})
	})

	a := r.Acquire("0xABC")
	b := r.Acquire(" 0xabc")
	if a != b || built != 1 {
		t.Fatalf("expected one shared manager, built %d", built)
	}
	if a.Wallet() != "0xabc" {
		t.Fatalf("expected normalized wallet, got %s", a.Wallet())
	}
	r.Acquire("0xdef")
	if r.Len() != 2 {
		t.Fatalf("expected 2 managers, got %d", r.Len())
	}

	r.Release("0xabc")
	if _, ok := r.Get("0xabc"); ok {
		t.Fatalf("expected released manager to be gone")
	}
	if a.State() != types.StateClosed {
		t.Fatalf("expected closed state, got %s", a.State())
	}

	r.CloseAll()
	if r.Len() != 0 {
		t.Fatalf("expected empty registry, got %d", r.Len())
	}
}

func TestReleaseWaitsForSocketClose(t *testing.T) {
	f := newFixture(t)
	var mu sync.Mutex
	var built []*Manager
	overlap := false
	r := NewRegistry(func(wallet string) *Manager {
		mu.Lock()
		defer mu.Unlock()
		for _, old := range built {
			select {
			case <-old.Done():
			default:
				overlap = true
			}
		}
		m := NewManager(f.config(), Deps{
			Signatures: signature.NewCache(f.signer),
			Sessions:   f.sessions,
		})
		built = append(built, m)
		return m
	})
	t.Cleanup(r.CloseAll)

	first := r.Acquire(f.signer.Address())
	rec := record(first)
	first.Connect()
	rec.waitFor(t, types.StateMonitoring, 1)

	released := make(chan struct{})
	go func() {
		r.Release(f.signer.Address())
		close(released)
	}()
	second := r.Acquire(f.signer.Address())

	select {
	case <-released:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for release")
	}
	select {
	case <-first.Done():
	default:
		t.Fatal("expected released manager to be stopped")
	}

	mu.Lock()
	defer mu.Unlock()
	if overlap {
		t.Fatal("expected no manager to be built while the old socket was open")
	}
	if second == first && len(built) != 1 {
		t.Fatalf("expected a single manager, built %d", len(built))
	}
}
