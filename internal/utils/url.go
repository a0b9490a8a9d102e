package utils

import (
	"strings"
)

// NormalizeServerURL trims trailing slash and determines if TLS verification should be skipped
func NormalizeServerURL(serverURL string) (string, bool) {
	serverURL = strings.TrimSuffix(strings.TrimSpace(serverURL), "/")
	secure := strings.HasPrefix(serverURL, "https://") || strings.HasPrefix(serverURL, "wss://")
	skipTLSVerify := secure && (strings.Contains(serverURL, "localhost") ||
		strings.Contains(serverURL, "127.0.0.1"))
	return serverURL, skipTLSVerify
}

// ToWSURL converts an http(s) base URL to its ws(s) equivalent.
func ToWSURL(raw string) string {
	raw, _ = NormalizeServerURL(raw)
	switch {
	case strings.HasPrefix(raw, "https://"):
		return "wss://" + strings.TrimPrefix(raw, "https://")
	case strings.HasPrefix(raw, "http://"):
		return "ws://" + strings.TrimPrefix(raw, "http://")
	case strings.HasPrefix(raw, "ws://"), strings.HasPrefix(raw, "wss://"):
		return raw
	}
	return "ws://" + raw
}

// ToHTTPURL converts a ws(s) URL to its http(s) equivalent.
func ToHTTPURL(raw string) string {
	raw, _ = NormalizeServerURL(raw)
	switch {
	case strings.HasPrefix(raw, "wss://"):
		return "https://" + strings.TrimPrefix(raw, "wss://")
	case strings.HasPrefix(raw, "ws://"):
		return "http://" + strings.TrimPrefix(raw, "ws://")
	case strings.HasPrefix(raw, "http://"), strings.HasPrefix(raw, "https://"):
		return raw
	}
	return "http://" + raw
}

// ShortAddress renders 0x1234...abcd for terminal output.
func ShortAddress(addr string) string {
	if len(addr) <= 12 {
		return addr
	}
	return addr[:6] + "..." + addr[len(addr)-4:]
}
