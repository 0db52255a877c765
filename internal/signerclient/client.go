// Package signerclient implements bundle.Signer against an external
// signing service: the key material itself never enters this process
// (spec.md §1: "signing ... is an external collaborator, described only
// by its contract sign(tx) -> signed_bytes").
//
// Grounded on aristath-sentinel/trader/internal/clients/tradernet.Client's
// credential-header pattern (SetCredentials, X-Tradernet-API-Key/Secret).
package signerclient

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/halvard/chainsentinel/internal/domain"
)

// Client is a bundle.Signer that delegates to a remote signer over HTTPS,
// authenticating with a key ID and password rather than embedding a
// private key in this process.
type Client struct {
	baseURL    string
	keyID      string
	password   string
	httpClient *http.Client
}

// New creates a signer Client. keyID/password identify the key held by
// the remote signing service; this process never sees the key itself.
func New(baseURL, keyID, password string) *Client {
	return &Client{
		baseURL:    baseURL,
		keyID:      keyID,
		password:   password,
		httpClient: &http.Client{Timeout: 3 * time.Second},
	}
}

type signRequest struct {
	Variant  string `json:"variant"`
	To       string `json:"to"`
	Value    string `json:"value"`
	Input    string `json:"input"`
	GasLimit uint64 `json:"gas_limit"`
}

type signResponse struct {
	SignedRaw string `json:"signed_raw"`
	Error     string `json:"error"`
}

// Sign requests a signature for leg from the remote signer. Legs that are
// victim references (Raw already nil, VictimRef set) are never passed to
// this method by the bundle builder.
func (c *Client) Sign(leg domain.BundleLeg) ([]byte, error) {
	value := "0"
	if leg.Value != nil {
		value = leg.Value.String()
	}
	body, err := json.Marshal(signRequest{
		Variant:  leg.Variant.String(),
		To:       leg.To.Hex(),
		Value:    value,
		Input:    hex.EncodeToString(leg.Input),
		GasLimit: leg.GasLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("signerclient: marshal request: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, c.baseURL+"/sign", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("signerclient: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Signer-Key-ID", c.keyID)
	req.Header.Set("X-Signer-Password", c.password)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("signerclient: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("signerclient: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("signerclient: http %d: %s", resp.StatusCode, raw)
	}

	var out signResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("signerclient: decode response: %w", err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("signerclient: %s", out.Error)
	}

	signed, err := hex.DecodeString(out.SignedRaw)
	if err != nil {
		return nil, fmt.Errorf("signerclient: decode signed_raw: %w", err)
	}
	return signed, nil
}
