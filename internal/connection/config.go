package connection

import (
	"net/http"
	"time"

	"nodewatch/internal/constants"
	"nodewatch/internal/types"
)

type Config struct {
	URL            string
	Wallet         string
	WalletType     string
	ConnectTimeout time.Duration
	PingInterval   time.Duration
	PongTimeout    time.Duration
	ReconnectBase  time.Duration
	ReconnectMax   time.Duration
	MaxReconnects  int
	SessionTTL     time.Duration
	AutoMonitor    bool
	SkipTLSVerify  bool
	Header         http.Header
}

func DefaultConfig(url, wallet string) Config {
	return Config{
		URL:            url,
		Wallet:         wallet,
		WalletType:     constants.WalletTypeEVM,
		ConnectTimeout: constants.ConnectTimeout,
		PingInterval:   constants.PingInterval,
		ReconnectBase:  constants.ReconnectBase,
		ReconnectMax:   constants.ReconnectMax,
		MaxReconnects:  constants.MaxReconnects,
		SessionTTL:     constants.SessionTTL,
		AutoMonitor:    true,
	}
}

// withDefaults fills zero values. MaxReconnects is kept as given, zero
// disables reconnection.
func (c Config) withDefaults() Config {
	c.Wallet = types.NormalizeWallet(c.Wallet)
	if c.WalletType == "" {
		c.WalletType = constants.WalletTypeEVM
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = constants.ConnectTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = constants.PingInterval
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = time.Duration(float64(c.PingInterval) * constants.PongTimeoutRatio)
	}
	if c.ReconnectBase <= 0 {
		c.ReconnectBase = constants.ReconnectBase
	}
	if c.ReconnectMax <= 0 {
		c.ReconnectMax = constants.ReconnectMax
	}
	if c.MaxReconnects < 0 {
		c.MaxReconnects = 0
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = constants.SessionTTL
	}
	return c
}
