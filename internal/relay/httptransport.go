package relay

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	"github.com/halvard/chainsentinel/internal/bundle"
	"github.com/halvard/chainsentinel/internal/domain"
)

// HTTPTransport is the reference Transport adapter: one JSON-over-HTTPS
// client speaking to a private block-builder relay. The wire protocol
// itself (request/response shapes, auth) is out of scope (spec.md §1);
// this is a plain envelope so the module runs end to end without one
// wired in, the same role WebSocketChainClient plays for C1.
//
// Grounded on aristath-sentinel/trader/internal/clients/tradernet.Client:
// a bare *http.Client with a fixed timeout, one post helper, and a
// ServiceResponse envelope.
type HTTPTransport struct {
	baseURL string
	client  *http.Client
}

// NewHTTPTransport creates an HTTPTransport against baseURL.
func NewHTTPTransport(baseURL string) *HTTPTransport {
	return &HTTPTransport{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

type simulateRequest struct {
	Bundle     wireBundle `json:"bundle"`
	StateBlock uint64     `json:"state_block"`
}

type submitRequest struct {
	Bundle      wireBundle `json:"bundle"`
	TargetBlock uint64     `json:"target_block"`
}

type wireBundle struct {
	Legs         []wireBundleLeg `json:"legs"`
	TargetBlock  uint64          `json:"target_block"`
	Strategy     string          `json:"strategy"`
	BidTipPerGas string          `json:"bid_tip_per_gas"`
}

type wireBundleLeg struct {
	Variant   string `json:"variant"`
	Raw       string `json:"raw,omitempty"`
	VictimRef string `json:"victim_ref,omitempty"`
}

func toWireBundle(b domain.Bundle) wireBundle {
	legs := make([]wireBundleLeg, len(b.Legs))
	for i, leg := range b.Legs {
		w := wireBundleLeg{Variant: leg.Variant.String()}
		if leg.Raw != nil {
			w.Raw = fmt.Sprintf("%x", leg.Raw)
		}
		if leg.VictimRef != nil {
			w.VictimRef = fmt.Sprintf("%x", leg.VictimRef[:])
		}
		legs[i] = w
	}
	tip := "0"
	if b.BidTipPerGas != nil {
		tip = b.BidTipPerGas.String()
	}
	return wireBundle{Legs: legs, TargetBlock: b.TargetBlock, Strategy: string(b.Strategy), BidTipPerGas: tip}
}

type simulateResponse struct {
	Success    bool   `json:"success"`
	GrossValue string `json:"gross_value"`
	TotalGas   uint64 `json:"total_gas"`
	Error      string `json:"error"`
}

type submitResponse struct {
	BundleID string `json:"bundle_id"`
	Error    string `json:"error"`
}

type statusResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

// Simulate posts the bundle to the relay's simulate endpoint.
func (t *HTTPTransport) Simulate(b domain.Bundle, stateBlock uint64) (bundle.SimResult, error) {
	var resp simulateResponse
	if err := t.post("/simulate", simulateRequest{Bundle: toWireBundle(b), StateBlock: stateBlock}, &resp); err != nil {
		return bundle.SimResult{}, err
	}
	if resp.Error != "" {
		return bundle.SimResult{Success: false, Error: resp.Error}, nil
	}
	gross, ok := new(big.Int).SetString(resp.GrossValue, 10)
	if !ok {
		gross = big.NewInt(0)
	}
	return bundle.SimResult{Success: resp.Success, GrossValue: gross, TotalGas: resp.TotalGas}, nil
}

// Submit posts the bundle to the relay's submit endpoint.
func (t *HTTPTransport) Submit(b domain.Bundle, targetBlock uint64) (domain.BundleID, error) {
	var resp submitResponse
	if err := t.post("/submit", submitRequest{Bundle: toWireBundle(b), TargetBlock: targetBlock}, &resp); err != nil {
		return "", err
	}
	if resp.Error != "" {
		return "", fmt.Errorf("relay transport: submit rejected: %s", resp.Error)
	}
	return domain.BundleID(resp.BundleID), nil
}

// Status fetches the current status of a previously submitted bundle.
func (t *HTTPTransport) Status(id domain.BundleID) (domain.BundleStatus, error) {
	var resp statusResponse
	if err := t.get("/status/"+string(id), &resp); err != nil {
		return "", err
	}
	if resp.Error != "" {
		return "", fmt.Errorf("relay transport: status: %s", resp.Error)
	}
	return domain.BundleStatus(resp.Status), nil
}

func (t *HTTPTransport) post(endpoint string, request, response interface{}) error {
	body, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("relay transport: marshal request: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, t.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("relay transport: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return t.do(req, response)
}

func (t *HTTPTransport) get(endpoint string, response interface{}) error {
	req, err := http.NewRequest(http.MethodGet, t.baseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("relay transport: build request: %w", err)
	}
	return t.do(req, response)
}

func (t *HTTPTransport) do(req *http.Request, response interface{}) error {
	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("relay transport: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("relay transport: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("relay transport: http %d: %s", resp.StatusCode, raw)
	}
	if err := json.Unmarshal(raw, response); err != nil {
		return fmt.Errorf("relay transport: decode response: %w", err)
	}
	return nil
}
