package config

import (
	"fmt"
	"time"

	"nodewatch/internal/constants"
	"nodewatch/internal/utils"
)

type Config struct {
	WSURL          string
	APIURL         string
	WalletKey      string
	WalletType     string
	NodeJWT        string
	PingInterval   time.Duration
	ConnectTimeout time.Duration
	MaxReconnects  int
	DashboardPort  int
	AutoMonitor    bool

	RedisHost     string
	RedisPort     string
	RedisUsername string
	RedisPassword string

	LogDir string
}

// Load reads .env or YAML files (missing ones are fine) and then the process
// environment. Values already in the environment win over files.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := loadFile(f); err != nil && !isNotExist(err) {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	cfg := &Config{
		WSURL:          utils.GetEnv("NODEWATCH_WS_URL", constants.DefaultWSURL),
		APIURL:         utils.GetEnv("NODEWATCH_API_URL", ""),
		WalletKey:      utils.GetEnv("NODEWATCH_WALLET_KEY", ""),
		WalletType:     utils.GetEnv("NODEWATCH_WALLET_TYPE", constants.WalletTypeEVM),
		NodeJWT:        utils.GetEnv("NODEWATCH_NODE_JWT", ""),
		PingInterval:   utils.GetEnvDuration("NODEWATCH_PING_INTERVAL", constants.PingInterval),
		ConnectTimeout: utils.GetEnvDuration("NODEWATCH_CONNECT_TIMEOUT", constants.ConnectTimeout),
		MaxReconnects:  utils.GetEnvInt("NODEWATCH_MAX_RECONNECTS", constants.MaxReconnects),
		DashboardPort:  utils.GetEnvInt("NODEWATCH_DASHBOARD_PORT", constants.DashboardPort),
		AutoMonitor:    utils.GetEnvBool("NODEWATCH_AUTO_MONITOR", true),
		RedisHost:      utils.GetEnv("REDIS_HOST", ""),
		RedisPort:      utils.GetEnv("REDIS_PORT", "6379"),
		RedisUsername:  utils.GetEnv("REDIS_USERNAME", ""),
		RedisPassword:  utils.GetEnv("REDIS_PASSWORD", ""),
		LogDir:         utils.GetEnv("NODEWATCH_LOG_DIR", ""),
	}

	if cfg.APIURL == "" {
		cfg.APIURL = deriveAPIURL(cfg.WSURL)
	}
	if cfg.MaxReconnects < 0 {
		return nil, fmt.Errorf("NODEWATCH_MAX_RECONNECTS must be >= 0, got %d", cfg.MaxReconnects)
	}
	if cfg.DashboardPort <= 0 || cfg.DashboardPort > 65535 {
		return nil, fmt.Errorf("invalid dashboard port %d", cfg.DashboardPort)
	}
	return cfg, nil
}

// deriveAPIURL maps ws://host/ws to http://host.
func deriveAPIURL(wsURL string) string {
	u := utils.ToHTTPURL(wsURL)
	if len(u) > 3 && u[len(u)-3:] == "/ws" {
		u = u[:len(u)-3]
	}
	return u
}
