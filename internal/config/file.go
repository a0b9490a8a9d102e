package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// fileConfig is the YAML config file shape. Every key maps onto the
// environment variable of the same setting.
type fileConfig struct {
	WSURL          string `yaml:"ws_url"`
	APIURL         string `yaml:"api_url"`
	WalletType     string `yaml:"wallet_type"`
	PingInterval   string `yaml:"ping_interval"`
	ConnectTimeout string `yaml:"connect_timeout"`
	MaxReconnects  *int   `yaml:"max_reconnects"`
	DashboardPort  int    `yaml:"dashboard_port"`
	AutoMonitor    *bool  `yaml:"auto_monitor"`
	LogDir         string `yaml:"log_dir"`
	Redis          struct {
		Host     string `yaml:"host"`
		Port     string `yaml:"port"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
	} `yaml:"redis"`
}

func (f fileConfig) env() map[string]string {
	out := map[string]string{
		"NODEWATCH_WS_URL":          f.WSURL,
		"NODEWATCH_API_URL":         f.APIURL,
		"NODEWATCH_WALLET_TYPE":     f.WalletType,
		"NODEWATCH_PING_INTERVAL":   f.PingInterval,
		"NODEWATCH_CONNECT_TIMEOUT": f.ConnectTimeout,
		"NODEWATCH_LOG_DIR":         f.LogDir,
		"REDIS_HOST":                f.Redis.Host,
		"REDIS_PORT":                f.Redis.Port,
		"REDIS_USERNAME":            f.Redis.Username,
		"REDIS_PASSWORD":            f.Redis.Password,
	}
	if f.MaxReconnects != nil {
		out["NODEWATCH_MAX_RECONNECTS"] = strconv.Itoa(*f.MaxReconnects)
	}
	if f.DashboardPort != 0 {
		out["NODEWATCH_DASHBOARD_PORT"] = strconv.Itoa(f.DashboardPort)
	}
	if f.AutoMonitor != nil {
		out["NODEWATCH_AUTO_MONITOR"] = strconv.FormatBool(*f.AutoMonitor)
	}
	return out
}

// loadFile applies a .env or YAML file without overriding variables that
// are already set.
func loadFile(path string) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return loadYAML(path)
	}
	return godotenv.Load(path)
}

func loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	for key, value := range fc.env() {
		if value == "" {
			continue
		}
		if _, set := os.LookupEnv(key); set {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			return err
		}
	}
	return nil
}
