package rest

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"nodewatch/internal/constants"
	"nodewatch/internal/nodes"
	"nodewatch/internal/signature"
	"nodewatch/internal/types"
	"nodewatch/internal/utils"
)

const (
	EndpointNodes = "/api/nodes"

	HeaderWallet    = "X-Wallet-Address"
	HeaderSignature = "X-Wallet-Signature"
	HeaderMessage   = "X-Wallet-Message"
)

// Client fetches the node list over HTTP when the realtime stream is not
// available. Requests are signed with the wallet's cached credential.
type Client struct {
	baseURL string
	http    *http.Client
	sigs    *signature.Cache
}

func NewClient(baseURL string, sigs *signature.Cache) *Client {
	baseURL, skipTLSVerify := utils.NormalizeServerURL(utils.ToHTTPURL(baseURL))
	client := &http.Client{Timeout: constants.HTTPClientTimeout}
	if skipTLSVerify {
		client.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}
	return &Client{baseURL: baseURL, http: client, sigs: sigs}
}

type nodesResponse struct {
	Nodes   json.RawMessage `json:"nodes"`
	Summary json.RawMessage `json:"summary,omitempty"`
}

// Nodes returns the wallet's normalised nodes and their summary. A 401
// refreshes the signature once and retries.
func (c *Client) Nodes(ctx context.Context, wallet string) ([]types.NodeRecord, types.AggregateStats, error) {
	cred, err := c.sigs.Get(ctx, wallet)
	if err != nil {
		return nil, types.AggregateStats{}, err
	}

	body, status, err := c.get(ctx, EndpointNodes, cred)
	if err == nil && status == http.StatusUnauthorized {
		cred, err = c.sigs.Refresh(ctx, wallet)
		if err != nil {
			return nil, types.AggregateStats{}, err
		}
		body, status, err = c.get(ctx, EndpointNodes, cred)
	}
	if err != nil {
		return nil, types.AggregateStats{}, err
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return nil, types.AggregateStats{}, fmt.Errorf("%w: server returned status %d", types.ErrAuthRejected, status)
	case status != http.StatusOK:
		return nil, types.AggregateStats{}, &types.ServerError{
			Code:    fmt.Sprintf("HTTP_%d", status),
			Message: string(bytes.TrimSpace(body)),
		}
	}

	var resp nodesResponse
	if trimmed := bytes.TrimSpace(body); len(trimmed) > 0 && trimmed[0] == '[' {
		resp.Nodes = trimmed
	} else if err := json.Unmarshal(body, &resp); err != nil {
		return nil, types.AggregateStats{}, fmt.Errorf("decode nodes response: %w", err)
	}

	records, err := nodes.Normalize(resp.Nodes, nodes.SourceREST)
	if err != nil {
		return nil, types.AggregateStats{}, err
	}
	return records, nodes.Summarize(records), nil
}

func (c *Client) get(ctx context.Context, path string, cred types.Credential) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(HeaderWallet, cred.WalletAddress)
	req.Header.Set(HeaderSignature, cred.Signature)
	// header values cannot carry newlines
	req.Header.Set(HeaderMessage, EncodeMessage(cred.ChallengeMessage))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", types.ErrTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, constants.MaxWSMessageSize))
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", types.ErrTransport, err)
	}
	return body, resp.StatusCode, nil
}

// EncodeMessage escapes newlines for transport in a header.
func EncodeMessage(msg string) string {
	return strings.ReplaceAll(msg, "\n", `\n`)
}

func DecodeMessage(header string) string {
	return strings.ReplaceAll(header, `\n`, "\n")
}
