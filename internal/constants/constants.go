package constants

import "time"

const Version = "0.4.2"

// Network defaults
const (
	DefaultWSURL      = "ws://localhost:8090/ws"
	DefaultAPIURL     = "http://localhost:8090"
	DefaultMockPort   = "8090"
	WSBufferSize      = 32768
	MaxWSMessageSize  = 4 << 20 // 4MB, status_update for large fleets
	ConnectTimeout    = 15 * time.Second
	WriteTimeout      = 10 * time.Second
	HTTPClientTimeout = 15 * time.Second
	CleanupInterval   = 30 * time.Second
)

// Keepalive
const (
	PingInterval     = 30 * time.Second
	PongTimeoutRatio = 2.5
)

// Reconnection policy
const (
	ReconnectBase = time.Second
	ReconnectMax  = 30 * time.Second
	MaxReconnects = 5
)

// Credential lifetimes
const (
	SignatureTTL     = 10 * time.Minute
	SessionTTL       = 24 * time.Hour
	NodeAuthTTL      = 30 * time.Minute
	RequestTimeout   = 30 * time.Second
	RemoteAuthWindow = 15 * time.Second
)

// WebSocket close codes
const (
	CloseNormal    = 1000
	CloseGoingAway = 1001
)

// Storage keys
const (
	RedisKeyPrefix = "nodewatch:session:"
	WalletTypeEVM  = "evm"
)

// Dashboard
const (
	DashboardHost            = "localhost"
	DashboardPort            = 4041
	DashboardShutdownTimeout = 5 * time.Second
	DashboardWSReadBuffer    = 1024
	DashboardWSWriteBuffer   = 8192
	DashboardEventBuffer     = 64
)

// Mock monitor
const (
	MockStatusInterval = 5 * time.Second
	MockSessionTTL     = time.Hour
)

// Time formats
const (
	TimeFormatShort = "15:04:05"
)

// ANSI color codes
const (
	ColorReset  = "\033[0m"
	ColorBold   = "\033[1m"
	ColorDim    = "\033[2m"
	ColorCyan   = "\033[36m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorRed    = "\033[31m"
	ColorPurple = "\033[35m"
)

// Messages
const (
	MsgNotConnected    = "not connected"
	MsgNotAuthorized   = "primary session not authenticated"
	MsgSigningDeclined = "signature request was declined"
	MsgReconnectFailed = "could not reconnect to monitoring service"
	MsgExample         = "  nodewatch watch --key 0xabc...\n  nodewatch nodes -o yaml\n  nodewatch exec node-01 uptime"
)
