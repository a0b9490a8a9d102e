package session

import (
	"sync/atomic"
	"testing"
	"time"

	"nodewatch/internal/types"
)

func TestCacheStoreThenGetRoundTrip(t *testing.T) {
	c := NewCache(NewMemoryStore())
	defer c.Close()

	c.Store("0xABC", "tok-1", time.Minute)
	got, ok := c.Get("0xabc")
	if !ok {
		t.Fatal("expected cached session")
	}
	if got.Token != "tok-1" {
		t.Fatalf("expected tok-1, got %q", got.Token)
	}
	if got.WalletAddress != "0xabc" {
		t.Fatalf("expected normalized wallet, got %q", got.WalletAddress)
	}
}

func TestCacheGetAfterTTLReturnsNothingAndRemovesEntry(t *testing.T) {
	store := NewMemoryStore()
	c := NewCache(store)
	defer c.Close()

	var expired int32
	c.OnExpire(func(wallet string) {
		if wallet == "0xabc" {
			atomic.AddInt32(&expired, 1)
		}
	})

	c.Store("0xabc", "tok-1", 20*time.Millisecond)
	time.Sleep(30 * time.Millisecond)

	if _, ok := c.Get("0xabc"); ok {
		t.Fatal("expected expired session to be gone")
	}
	if _, ok := store.sessions.Load("0xabc"); ok {
		t.Fatal("expected expired entry to be deleted on read")
	}
	if atomic.LoadInt32(&expired) != 1 {
		t.Fatalf("expected one expiry callback, got %d", expired)
	}
}

func TestCacheClear(t *testing.T) {
	c := NewCache(nil)
	defer c.Close()

	c.Store("0xabc", "tok-1", time.Minute)
	c.Clear("0xABC")
	if _, ok := c.Get("0xabc"); ok {
		t.Fatal("expected cleared session")
	}
}

func TestMemoryStoreRejectsExpiredAndEmptyTokens(t *testing.T) {
	st := NewMemoryStore()
	defer st.Close()

	st.Save(types.SessionToken{WalletAddress: "0xabc", Token: "old", ExpiresAt: time.Now().Add(-time.Second)})
	st.Save(types.SessionToken{WalletAddress: "0xdef", Token: "", ExpiresAt: time.Now().Add(time.Minute)})

	if _, ok := st.Get("0xabc"); ok {
		t.Fatal("expected expired token not to be stored")
	}
	if _, ok := st.Get("0xdef"); ok {
		t.Fatal("expected empty token not to be stored")
	}
}

func TestMemoryStoreWalletMismatchIsDropped(t *testing.T) {
	st := NewMemoryStore()
	defer st.Close()

	st.sessions.Store("0xabc", types.SessionToken{WalletAddress: "0xother", Token: "t", ExpiresAt: time.Now().Add(time.Minute)})
	if _, ok := st.Get("0xabc"); ok {
		t.Fatal("expected mismatched wallet entry to be rejected")
	}
	if _, ok := st.sessions.Load("0xabc"); ok {
		t.Fatal("expected mismatched entry to be deleted")
	}
}

func TestCacheGetEmptyWallet(t *testing.T) {
	c := NewCache(NewMemoryStore())
	defer c.Close()
	if _, ok := c.Get("  "); ok {
		t.Fatal("expected no session for empty wallet")
	}
}
