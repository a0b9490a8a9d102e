package session

import (
	"log"
	"sync"
	"time"

	"nodewatch/internal/constants"
	"nodewatch/internal/types"
)

type MemoryStore struct {
	sessions  sync.Map
	mu        sync.RWMutex
	onExpire  func(wallet string)
	done      chan struct{}
	closeOnce sync.Once
}

func NewMemoryStore() *MemoryStore {
	store := &MemoryStore{done: make(chan struct{})}
	go store.cleanupLoop(constants.CleanupInterval)
	return store
}

func (st *MemoryStore) OnExpire(fn func(wallet string)) {
	st.mu.Lock()
	st.onExpire = fn
	st.mu.Unlock()
}

func (st *MemoryStore) Save(token types.SessionToken) {
	wallet := types.NormalizeWallet(token.WalletAddress)
	if wallet == "" || token.Token == "" || token.IsExpired() {
		return
	}
	token.WalletAddress = wallet
	st.sessions.Store(wallet, token)
}

func (st *MemoryStore) Get(wallet string) (types.SessionToken, bool) {
	wallet = types.NormalizeWallet(wallet)
	val, ok := st.sessions.Load(wallet)
	if !ok {
		return types.SessionToken{}, false
	}
	token := val.(types.SessionToken)
	if token.IsExpired() || token.WalletAddress != wallet {
		st.sessions.Delete(wallet)
		st.expired(wallet)
		return types.SessionToken{}, false
	}
	return token, true
}

func (st *MemoryStore) Delete(wallet string) {
	st.sessions.Delete(types.NormalizeWallet(wallet))
}

func (st *MemoryStore) Close() error {
	st.closeOnce.Do(func() { close(st.done) })
	return nil
}

func (st *MemoryStore) expired(wallet string) {
	st.mu.RLock()
	fn := st.onExpire
	st.mu.RUnlock()
	if fn != nil {
		fn(wallet)
	}
}

func (st *MemoryStore) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-st.done:
			return
		case <-ticker.C:
			st.sessions.Range(func(key, value interface{}) bool {
				token := value.(types.SessionToken)
				if token.IsExpired() {
					wallet := key.(string)
					st.sessions.Delete(key)
					st.expired(wallet)
					log.Printf("🗑 Expired session cleaned up: %s", wallet)
				}
				return true
			})
		}
	}
}
