package types

import (
	"strings"
	"time"
)

// Credential is a signed challenge held by the signature cache. It never
// leaves process memory.
type Credential struct {
	WalletAddress    string
	Signature        string
	ChallengeMessage string
	IssuedAt         time.Time
}

func (c Credential) ValidAt(now time.Time, ttl time.Duration) bool {
	return c.Signature != "" && now.Before(c.IssuedAt.Add(ttl))
}

// SessionToken is the server-issued session credential reused on reconnect.
type SessionToken struct {
	WalletAddress string    `json:"wallet_address"`
	Token         string    `json:"token"`
	ExpiresAt     time.Time `json:"expires_at"`
}

func (t SessionToken) IsExpired() bool {
	return !time.Now().Before(t.ExpiresAt)
}

// NodeAuthToken is the per-node credential for remote command access.
type NodeAuthToken struct {
	NodeReference string    `json:"node_reference"`
	Token         string    `json:"token"`
	CreatedAt     time.Time `json:"created_at"`
	ExpiresAt     time.Time `json:"expires_at"`
}

func (t NodeAuthToken) IsExpired() bool {
	return !time.Now().Before(t.ExpiresAt)
}

// NormalizeWallet trims and lowercases an address so one wallet always maps
// to the same cache and registry key.
func NormalizeWallet(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}
