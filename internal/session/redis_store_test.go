package session

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"nodewatch/internal/constants"
	"nodewatch/internal/types"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run: %v", err)
	}
	t.Cleanup(mr.Close)

	st, err := NewRedisStoreFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	if err != nil {
		t.Fatalf("new redis store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st, mr
}

func TestRedisStoreSaveGetDelete(t *testing.T) {
	st, mr := newTestRedisStore(t)

	st.Save(types.SessionToken{WalletAddress: "0xABC", Token: "tok", ExpiresAt: time.Now().Add(time.Minute)})

	got, ok := st.Get("0xabc")
	if !ok {
		t.Fatal("expected session from redis")
	}
	if got.Token != "tok" {
		t.Fatalf("expected tok, got %q", got.Token)
	}
	ttl := mr.TTL(constants.RedisKeyPrefix + "0xabc")
	if ttl <= 0 || ttl > time.Minute {
		t.Fatalf("expected key ttl within a minute, got %v", ttl)
	}

	st.Delete("0xabc")
	if _, ok := st.Get("0xabc"); ok {
		t.Fatal("expected session removed")
	}
}

func TestRedisStoreGetDoesNotExtendTTL(t *testing.T) {
	st, mr := newTestRedisStore(t)

	st.Save(types.SessionToken{WalletAddress: "0xabc", Token: "tok", ExpiresAt: time.Now().Add(time.Minute)})
	mr.FastForward(30 * time.Second)
	before := mr.TTL(constants.RedisKeyPrefix + "0xabc")

	if _, ok := st.Get("0xabc"); !ok {
		t.Fatal("expected session")
	}
	after := mr.TTL(constants.RedisKeyPrefix + "0xabc")
	if after > before {
		t.Fatalf("expected ttl not to be extended, before=%v after=%v", before, after)
	}
}

func TestRedisStoreExpiredPayloadIsDeletedOnRead(t *testing.T) {
	st, mr := newTestRedisStore(t)

	var expired string
	st.OnExpire(func(wallet string) { expired = wallet })

	st.Save(types.SessionToken{WalletAddress: "0xabc", Token: "tok", ExpiresAt: time.Now().Add(20 * time.Millisecond)})
	time.Sleep(30 * time.Millisecond)

	if _, ok := st.Get("0xabc"); ok {
		t.Fatal("expected expired session to be rejected")
	}
	if mr.Exists(constants.RedisKeyPrefix + "0xabc") {
		t.Fatal("expected expired key to be deleted")
	}
	if expired != "0xabc" {
		t.Fatalf("expected expiry callback for 0xabc, got %q", expired)
	}
}

func TestRedisStoreCorruptPayload(t *testing.T) {
	st, mr := newTestRedisStore(t)

	if err := mr.Set(constants.RedisKeyPrefix+"0xabc", "{not-json"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, ok := st.Get("0xabc"); ok {
		t.Fatal("expected corrupt payload to be ignored")
	}
	if mr.Exists(constants.RedisKeyPrefix + "0xabc") {
		t.Fatal("expected corrupt key to be removed")
	}
}

func TestRedisStoreCleanupRemovesKeysWithoutTTL(t *testing.T) {
	st, mr := newTestRedisStore(t)

	if err := mr.Set(constants.RedisKeyPrefix+"0xabc", `{"wallet_address":"0xabc","token":"t"}`); err != nil {
		t.Fatalf("seed: %v", err)
	}
	st.cleanupExpired()
	if mr.Exists(constants.RedisKeyPrefix + "0xabc") {
		t.Fatal("expected key without ttl to be cleaned up")
	}
}

func TestNewStoreFallsBackToMemory(t *testing.T) {
	t.Setenv(EnvRedisHost, "127.0.0.1")
	t.Setenv(EnvRedisPort, "1")

	st := NewStore()
	defer st.Close()
	if _, ok := st.(*MemoryStore); !ok {
		t.Fatalf("expected MemoryStore fallback, got %T", st)
	}
}

func TestNewStoreUsesRedisWhenAvailable(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run: %v", err)
	}
	defer mr.Close()

	t.Setenv(EnvRedisHost, mr.Host())
	t.Setenv(EnvRedisPort, mr.Port())

	st := NewStore()
	defer st.Close()
	if _, ok := st.(*RedisStore); !ok {
		t.Fatalf("expected RedisStore, got %T", st)
	}
}
