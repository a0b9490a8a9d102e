package signature

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"nodewatch/internal/constants"
	"nodewatch/internal/types"
)

// Signer is the external signing capability, usually a wallet.
type Signer interface {
	Sign(ctx context.Context, message, address string) (string, error)
}

// SignerFunc adapts a function to Signer.
type SignerFunc func(ctx context.Context, message, address string) (string, error)

func (f SignerFunc) Sign(ctx context.Context, message, address string) (string, error) {
	return f(ctx, message, address)
}

// Cache holds at most one signed credential. Asking for a different wallet
// replaces it. Concurrent callers share a single in-flight signing request.
type Cache struct {
	signer Signer
	ttl    time.Duration
	now    func() time.Time

	mu    sync.Mutex
	cred  *types.Credential
	gen   uint64
	group singleflight.Group
}

type Option func(*Cache)

func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

func NewCache(signer Signer, opts ...Option) *Cache {
	c := &Cache{
		signer: signer,
		ttl:    constants.SignatureTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Message is the locally generated text signed for REST access.
func Message(wallet string, at time.Time) string {
	return fmt.Sprintf("Sign this message to access nodewatch.\nWallet: %s\nTimestamp: %d", wallet, at.UnixMilli())
}

// Get returns the cached credential for wallet or signs a fresh message.
func (c *Cache) Get(ctx context.Context, wallet string) (types.Credential, error) {
	wallet = types.NormalizeWallet(wallet)
	if cred, ok := c.lookup(wallet, ""); ok {
		return cred, nil
	}
	return c.sign(ctx, wallet, "")
}

// Refresh drops the cached credential and signs again.
func (c *Cache) Refresh(ctx context.Context, wallet string) (types.Credential, error) {
	c.Clear()
	return c.sign(ctx, types.NormalizeWallet(wallet), "")
}

// SignChallenge signs a server-issued challenge. The cached credential is
// reused only if it was produced for this exact challenge.
func (c *Cache) SignChallenge(ctx context.Context, wallet, challenge string) (types.Credential, error) {
	wallet = types.NormalizeWallet(wallet)
	if challenge == "" {
		return types.Credential{}, fmt.Errorf("empty challenge")
	}
	if cred, ok := c.lookup(wallet, challenge); ok {
		return cred, nil
	}
	return c.sign(ctx, wallet, challenge)
}

// Clear invalidates unconditionally, including results of signings still in flight.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.cred = nil
	c.gen++
	c.mu.Unlock()
}

// Peek returns the cached credential without signing.
func (c *Cache) Peek() (types.Credential, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cred == nil || !c.cred.ValidAt(c.now(), c.ttl) {
		return types.Credential{}, false
	}
	return *c.cred, true
}

func (c *Cache) lookup(wallet, challenge string) (types.Credential, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cred == nil {
		return types.Credential{}, false
	}
	if c.cred.WalletAddress != wallet {
		c.cred = nil
		c.gen++
		return types.Credential{}, false
	}
	if !c.cred.ValidAt(c.now(), c.ttl) {
		c.cred = nil
		return types.Credential{}, false
	}
	if challenge != "" && c.cred.ChallengeMessage != challenge {
		return types.Credential{}, false
	}
	return *c.cred, true
}

func (c *Cache) sign(ctx context.Context, wallet, challenge string) (types.Credential, error) {
	if c.signer == nil {
		return types.Credential{}, fmt.Errorf("%w: no signer configured", types.ErrSigningDeclined)
	}

	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()

	key := wallet + "\x00" + challenge
	ch := c.group.DoChan(key, func() (interface{}, error) {
		message := challenge
		if message == "" {
			message = Message(wallet, c.now())
		}
		sig, err := c.signer.Sign(ctx, message, wallet)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrSigningDeclined, err)
		}
		if sig == "" {
			return nil, fmt.Errorf("%w: empty signature", types.ErrSigningDeclined)
		}
		cred := types.Credential{
			WalletAddress:    wallet,
			Signature:        sig,
			ChallengeMessage: message,
			IssuedAt:         c.now(),
		}

		c.mu.Lock()
		if c.gen == gen {
			c.cred = &cred
		}
		c.mu.Unlock()
		return cred, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return types.Credential{}, res.Err
		}
		return res.Val.(types.Credential), nil
	case <-ctx.Done():
		return types.Credential{}, ctx.Err()
	}
}
