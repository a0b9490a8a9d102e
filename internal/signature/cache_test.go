package signature

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"nodewatch/internal/types"
)

type countingSigner struct {
	calls   atomic.Int32
	release chan struct{}
	err     error
}

func (s *countingSigner) Sign(ctx context.Context, message, address string) (string, error) {
	s.calls.Add(1)
	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if s.err != nil {
		return "", s.err
	}
	return "sig:" + address, nil
}

func TestGetCachesWithinTTL(t *testing.T) {
	now := time.Unix(1700000000, 0)
	signer := &countingSigner{}
	c := NewCache(signer, WithClock(func() time.Time { return now }))

	first, err := c.Get(context.Background(), "0xABC")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if first.WalletAddress != "0xabc" {
		t.Fatalf("expected normalised wallet, got %q", first.WalletAddress)
	}
	if !strings.Contains(first.ChallengeMessage, "Wallet: 0xabc") {
		t.Fatalf("unexpected message %q", first.ChallengeMessage)
	}

	now = now.Add(9 * time.Minute)
	second, _ := c.Get(context.Background(), "0xabc")
	if second.Signature != first.Signature || signer.calls.Load() != 1 {
		t.Fatalf("expected cached credential, got %d sign calls", signer.calls.Load())
	}

	now = now.Add(2 * time.Minute)
	if _, err := c.Get(context.Background(), "0xabc"); err != nil {
		t.Fatalf("get after expiry: %v", err)
	}
	if signer.calls.Load() != 2 {
		t.Fatalf("expected re-sign after expiry, got %d calls", signer.calls.Load())
	}
}

func TestWalletChangeInvalidates(t *testing.T) {
	signer := &countingSigner{}
	c := NewCache(signer)

	c.Get(context.Background(), "0xaaa")
	cred, _ := c.Get(context.Background(), "0xbbb")
	if cred.WalletAddress != "0xbbb" || signer.calls.Load() != 2 {
		t.Fatalf("expected new signature for new wallet, got %+v after %d calls", cred, signer.calls.Load())
	}
	if _, ok := c.Peek(); !ok {
		t.Fatal("expected credential for current wallet")
	}

	c.Clear()
	if _, ok := c.Peek(); ok {
		t.Fatal("expected empty cache after clear")
	}
}

func TestConcurrentCallersShareOneSigning(t *testing.T) {
	signer := &countingSigner{release: make(chan struct{})}
	c := NewCache(signer)

	var wg sync.WaitGroup
	results := make([]types.Credential, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = c.Get(context.Background(), "0xabc")
		}(i)
	}

	deadline := time.Now().Add(time.Second)
	for signer.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	close(signer.release)
	wg.Wait()

	if signer.calls.Load() != 1 {
		t.Fatalf("expected one signing call, got %d", signer.calls.Load())
	}
	for i, r := range results {
		if r.Signature != "sig:0xabc" {
			t.Fatalf("caller %d got %+v", i, r)
		}
	}
}

func TestSignChallengeReusesOnlySameChallenge(t *testing.T) {
	signer := &countingSigner{}
	c := NewCache(signer)

	a, err := c.SignChallenge(context.Background(), "0xabc", "challenge-1")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if a.ChallengeMessage != "challenge-1" {
		t.Fatalf("expected challenge to be signed verbatim, got %q", a.ChallengeMessage)
	}
	c.SignChallenge(context.Background(), "0xabc", "challenge-1")
	if signer.calls.Load() != 1 {
		t.Fatalf("expected reuse for identical challenge, got %d calls", signer.calls.Load())
	}
	c.SignChallenge(context.Background(), "0xabc", "challenge-2")
	if signer.calls.Load() != 2 {
		t.Fatalf("expected new signing for new challenge, got %d calls", signer.calls.Load())
	}
}

func TestSigningFailureIsDeclined(t *testing.T) {
	c := NewCache(&countingSigner{err: errors.New("user rejected")})

	_, err := c.Get(context.Background(), "0xabc")
	if !errors.Is(err, types.ErrSigningDeclined) {
		t.Fatalf("expected ErrSigningDeclined, got %v", err)
	}
	if _, ok := c.Peek(); ok {
		t.Fatal("failed signing must not be cached")
	}
}

func TestClearDuringSigningDropsResult(t *testing.T) {
	signer := &countingSigner{release: make(chan struct{})}
	c := NewCache(signer)

	done := make(chan struct{})
	go func() {
		c.Get(context.Background(), "0xabc")
		close(done)
	}()
	for signer.calls.Load() == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	c.Clear()
	close(signer.release)
	<-done

	if _, ok := c.Peek(); ok {
		t.Fatal("expected signing result to be discarded after clear")
	}
}
