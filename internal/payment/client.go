// Package payment queries the external payment gateway for order
// settlement status.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/t59688/btx/internal/config"
)

type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Status is the gateway's view of one trade.
type Status struct {
	OutTradeNo    string `json:"outTradeNo"`
	TransactionID string `json:"transactionId"`
	TradeState    string `json:"tradeState"`
}

// Paid reports whether the gateway considers the trade settled.
func (s *Status) Paid() bool {
	return s.TradeState == "SUCCESS"
}

func NewClient(cfg config.Config) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.PaymentGatewayURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// QueryStatus asks the gateway for the state of an order by its order
// number.
func (c *Client) QueryStatus(ctx context.Context, orderNo string) (*Status, error) {
	body, err := json.Marshal(map[string]string{"outTradeNo": orderNo})
	if err != nil {
		return nil, fmt.Errorf("encode status query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/pay/query-status", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build status query: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("status query request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status query status %d", resp.StatusCode)
	}

	var status Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("decode status query response: %w", err)
	}
	return &status, nil
}
