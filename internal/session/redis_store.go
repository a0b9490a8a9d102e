package session

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"nodewatch/internal/constants"
	"nodewatch/internal/types"
)

type RedisStore struct {
	client   *redis.Client
	mu       sync.RWMutex
	onExpire func(wallet string)
	ctx      context.Context
	cancel   func()
	wg       sync.WaitGroup
}

func NewRedisStore(host, port, username, password string) (*RedisStore, error) {
	opts := &redis.Options{
		Addr:     host + ":" + port,
		Username: username,
		Password: password,
		DB:       0,
	}

	return NewRedisStoreFromClient(redis.NewClient(opts))
}

// NewRedisStoreFromClient takes ownership of client; Close closes it.
func NewRedisStoreFromClient(client *redis.Client) (*RedisStore, error) {
	ctx, cancel := context.WithCancel(context.Background())

	store := &RedisStore{
		client: client,
		ctx:    ctx,
		cancel: cancel,
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 2*time.Second)
	defer pingCancel()
	if err := store.client.Ping(pingCtx).Err(); err != nil {
		cancel()
		client.Close()
		return nil, err
	}

	store.startCleanup()

	return store, nil
}

func (st *RedisStore) OnExpire(fn func(wallet string)) {
	st.mu.Lock()
	st.onExpire = fn
	st.mu.Unlock()
}

func (st *RedisStore) Save(token types.SessionToken) {
	wallet := types.NormalizeWallet(token.WalletAddress)
	if wallet == "" || token.Token == "" {
		return
	}
	token.WalletAddress = wallet

	ttl := time.Until(token.ExpiresAt)
	if ttl <= 0 {
		return
	}

	jsonData, err := json.Marshal(token)
	if err != nil {
		log.Printf("Failed to marshal session: %v", err)
		return
	}

	if err := st.client.Set(st.ctx, constants.RedisKeyPrefix+wallet, jsonData, ttl).Err(); err != nil {
		log.Printf("Failed to save session to Redis: %v", err)
	}
}

func (st *RedisStore) Get(wallet string) (types.SessionToken, bool) {
	wallet = types.NormalizeWallet(wallet)
	key := constants.RedisKeyPrefix + wallet

	data, err := st.client.Get(st.ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return types.SessionToken{}, false
	}
	if err != nil {
		log.Printf("Failed to get session from Redis: %v", err)
		return types.SessionToken{}, false
	}

	var token types.SessionToken
	if err := json.Unmarshal([]byte(data), &token); err != nil {
		log.Printf("Failed to unmarshal session: %v", err)
		st.Delete(wallet)
		return types.SessionToken{}, false
	}

	if token.IsExpired() || token.WalletAddress != wallet {
		st.Delete(wallet)
		st.expired(wallet)
		return types.SessionToken{}, false
	}

	return token, true
}

func (st *RedisStore) Delete(wallet string) {
	key := constants.RedisKeyPrefix + types.NormalizeWallet(wallet)
	if err := st.client.Del(st.ctx, key).Err(); err != nil {
		log.Printf("Failed to delete session from Redis: %v", err)
	}
}

func (st *RedisStore) Close() error {
	st.cancel()
	st.wg.Wait()
	return st.client.Close()
}

func (st *RedisStore) expired(wallet string) {
	st.mu.RLock()
	fn := st.onExpire
	st.mu.RUnlock()
	if fn != nil {
		fn(wallet)
	}
}

func (st *RedisStore) startCleanup() {
	st.wg.Add(1)
	go func() {
		defer st.wg.Done()
		ticker := time.NewTicker(constants.CleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-st.ctx.Done():
				return
			case <-ticker.C:
				st.cleanupExpired()
			}
		}
	}()
}

// cleanupExpired removes keys that lost their TTL; Redis expires the rest.
func (st *RedisStore) cleanupExpired() {
	pattern := constants.RedisKeyPrefix + "*"
	iter := st.client.Scan(st.ctx, 0, pattern, 100).Iterator()

	for iter.Next(st.ctx) {
		key := iter.Val()
		wallet := key[len(constants.RedisKeyPrefix):]

		ttl, err := st.client.TTL(st.ctx, key).Result()
		if err != nil {
			continue
		}

		if ttl < 0 {
			st.Delete(wallet)
			st.expired(wallet)
			log.Printf("🗑 Session without expiry removed (Redis): %s", wallet)
		}
	}

	if err := iter.Err(); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("Redis scan error: %v", err)
	}
}
