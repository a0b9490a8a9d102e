package security

import (
	"net/http"
	"net/netip"
	"os"
	"strings"
	"sync"
	"time"
)

// SlotLimiter caps concurrent holders per key: a client IP for sockets, a
// wallet for authenticated sessions.
type SlotLimiter struct {
	mu    sync.Mutex
	held  map[string]int
	limit int
}

func NewSlotLimiter(limit int) *SlotLimiter {
	return &SlotLimiter{held: make(map[string]int), limit: limit}
}

// Acquire takes a slot for key, false when key is at its limit.
func (l *SlotLimiter) Acquire(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] >= l.limit {
		return false
	}
	l.held[key]++
	return true
}

func (l *SlotLimiter) Release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch n := l.held[key]; {
	case n > 1:
		l.held[key] = n - 1
	case n == 1:
		delete(l.held, key)
	}
}

func (l *SlotLimiter) InUse(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held[key]
}

var (
	proxyOnce     sync.Once
	proxyPrefixes []netip.Prefix
)

// trustedProxy reports whether addr may set forwarding headers. The list
// comes from NODEWATCH_TRUSTED_PROXIES, loopback and private ranges otherwise.
func trustedProxy(addr netip.Addr) bool {
	proxyOnce.Do(func() {
		list := "127.0.0.0/8,::1/128,10.0.0.0/8,172.16.0.0/12,192.168.0.0/16"
		if env := os.Getenv("NODEWATCH_TRUSTED_PROXIES"); env != "" {
			list = env
		}
		for _, cidr := range strings.Split(list, ",") {
			if p, err := netip.ParsePrefix(strings.TrimSpace(cidr)); err == nil {
				proxyPrefixes = append(proxyPrefixes, p)
			}
		}
	})
	addr = addr.Unmap()
	for _, p := range proxyPrefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// GetClientIP returns the peer address, or the forwarded client when the
// peer is a trusted proxy.
func GetClientIP(r *http.Request) string {
	peer, err := netip.ParseAddrPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	if trustedProxy(peer.Addr()) {
		first, _, _ := strings.Cut(r.Header.Get("X-Forwarded-For"), ",")
		for _, candidate := range []string{first, r.Header.Get("X-Real-Ip")} {
			if addr, err := netip.ParseAddr(strings.TrimSpace(candidate)); err == nil {
				return addr.String()
			}
		}
	}
	return peer.Addr().Unmap().String()
}

// BruteForceProtector blocks a key (wallet or IP) after repeated auth failures.
type BruteForceProtector struct {
	mu            sync.Mutex
	attempts      map[string]*attempts
	maxAttempts   int
	blockDuration time.Duration
	now           func() time.Time
	done          chan struct{}
	closeOnce     sync.Once
}

type attempts struct {
	count     int
	blockedAt time.Time
}

func NewBruteForceProtector(maxAttempts int, blockDuration time.Duration) *BruteForceProtector {
	bf := &BruteForceProtector{
		attempts:      make(map[string]*attempts),
		maxAttempts:   maxAttempts,
		blockDuration: blockDuration,
		now:           time.Now,
		done:          make(chan struct{}),
	}
	go bf.cleanup()
	return bf
}

// Check reports whether key may attempt authentication.
func (bf *BruteForceProtector) Check(key string) bool {
	bf.mu.Lock()
	defer bf.mu.Unlock()

	a, ok := bf.attempts[key]
	if !ok {
		return true
	}
	if !a.blockedAt.IsZero() {
		if bf.now().Sub(a.blockedAt) < bf.blockDuration {
			return false
		}
		delete(bf.attempts, key)
		return true
	}
	return a.count < bf.maxAttempts
}

func (bf *BruteForceProtector) RecordFailure(key string) int {
	bf.mu.Lock()
	defer bf.mu.Unlock()

	a, ok := bf.attempts[key]
	if !ok {
		a = &attempts{}
		bf.attempts[key] = a
	}
	a.count++
	if a.count >= bf.maxAttempts && a.blockedAt.IsZero() {
		a.blockedAt = bf.now()
	}
	return a.count
}

func (bf *BruteForceProtector) RecordSuccess(key string) {
	bf.mu.Lock()
	defer bf.mu.Unlock()
	delete(bf.attempts, key)
}

func (bf *BruteForceProtector) Close() {
	bf.closeOnce.Do(func() { close(bf.done) })
}

func (bf *BruteForceProtector) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-bf.done:
			return
		case <-ticker.C:
		}
		bf.mu.Lock()
		for key, a := range bf.attempts {
			if !a.blockedAt.IsZero() && bf.now().Sub(a.blockedAt) > bf.blockDuration {
				delete(bf.attempts, key)
			}
		}
		bf.mu.Unlock()
	}
}
