// Package client is the HTTP client for the paygate API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/milton-labs/paygate/service/auth"
	"github.com/milton-labs/paygate/service/gateway"
)

// Client is the HTTP client for the paygate service. Requests carry the
// bearer token; requests with a body are additionally HMAC-signed.
type Client struct {
	baseURL    string
	token      string
	apiSecret  []byte
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new paygate client.
func NewClient(baseURL, token, apiSecret string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 90 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    baseURL,
		token:      token,
		apiSecret:  []byte(apiSecret),
		httpClient: httpClient,
		logger:     logger,
	}
}

// BuildTransfer asks the server for an unsigned transfer transaction.
func (c *Client) BuildTransfer(ctx context.Context, req gateway.TransferRequest) (*gateway.BuildResult, error) {
	var result gateway.BuildResult
	if err := c.do(ctx, "POST", "/api/v1/transfers", req, http.StatusCreated, &result); err != nil {
		return nil, err
	}
	c.logger.Debug("transfer built", "transaction_id", result.TransactionID)
	return &result, nil
}

// BuildPurchase asks the server for an unsigned MILTON purchase transaction.
func (c *Client) BuildPurchase(ctx context.Context, req gateway.PurchaseRequest) (*gateway.BuildResult, error) {
	var result gateway.BuildResult
	if err := c.do(ctx, "POST", "/api/v1/purchases", req, http.StatusCreated, &result); err != nil {
		return nil, err
	}
	c.logger.Debug("purchase built", "transaction_id", result.TransactionID)
	return &result, nil
}

// BuildBlink asks the server for an unsigned blink transaction.
func (c *Client) BuildBlink(ctx context.Context, req gateway.BlinkRequest) (*gateway.BuildResult, error) {
	var result gateway.BuildResult
	if err := c.do(ctx, "POST", "/api/v1/blinks", req, http.StatusCreated, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Submit hands a signed transaction back for submission and confirmation.
func (c *Client) Submit(ctx context.Context, transactionID, signedTxBase64 string) (*gateway.SubmitResult, error) {
	path := "/api/v1/transactions/" + url.PathEscape(transactionID)
	var result gateway.SubmitResult
	err := c.do(ctx, "PUT", path, gateway.SubmitRequest{SignedTransaction: signedTxBase64}, http.StatusOK, &result)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("transaction submitted", "transaction_id", transactionID, "status", result.Status)
	return &result, nil
}

// Status reports the current state of a pending transaction.
func (c *Client) Status(ctx context.Context, transactionID string) (*gateway.SubmitResult, error) {
	path := "/api/v1/transactions/" + url.PathEscape(transactionID)
	var result gateway.SubmitResult
	if err := c.do(ctx, "GET", path, nil, http.StatusOK, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Transaction is one ledger record in a history listing.
type Transaction struct {
	TransactionID string     `json:"transaction_id"`
	Sender        string     `json:"sender"`
	Recipient     string     `json:"recipient"`
	Token         string     `json:"token"`
	Amount        int64      `json:"amount"`
	HumanAmount   string     `json:"human_amount"`
	Status        string     `json:"status"`
	Signature     *string    `json:"signature,omitempty"`
	FailReason    *string    `json:"fail_reason,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	ExpiresAt     time.Time  `json:"expires_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// TransactionList is a page of a sender's transaction history.
type TransactionList struct {
	Transactions []Transaction `json:"transactions"`
	Total        int64         `json:"total"`
	Limit        int           `json:"limit"`
	Offset       int           `json:"offset"`
}

// ListTransactions fetches a page of a sender's transaction history.
func (c *Client) ListTransactions(ctx context.Context, sender string, limit, offset int) (*TransactionList, error) {
	params := url.Values{}
	params.Set("sender", sender)
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		params.Set("offset", strconv.Itoa(offset))
	}

	var result TransactionList
	if err := c.do(ctx, "GET", "/api/v1/transactions?"+params.Encode(), nil, http.StatusOK, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// TokenInfo is the server's view of a token.
type TokenInfo struct {
	ID                     string `json:"id"`
	Symbol                 string `json:"symbol"`
	Mint                   string `json:"mint"`
	Decimals               uint8  `json:"decimals"`
	PriceUSD               string `json:"price_usd"`
	Supply                 uint64 `json:"supply"`
	SupplyDisplay          string `json:"supply_display"`
	TreasuryBalance        uint64 `json:"treasury_balance"`
	TreasuryBalanceDisplay string `json:"treasury_balance_display"`
}

// TokenInfo fetches metadata and treasury balance for a token.
func (c *Client) TokenInfo(ctx context.Context, id string) (*TokenInfo, error) {
	var result TokenInfo
	if err := c.do(ctx, "GET", "/api/v1/tokens/"+url.PathEscape(id), nil, http.StatusOK, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// RegisterWebhook registers a settlement callback URL for a wallet.
func (c *Client) RegisterWebhook(ctx context.Context, wallet, callbackURL string) error {
	body := map[string]string{"wallet": wallet, "url": callbackURL}
	if err := c.do(ctx, "PUT", "/api/v1/webhooks", body, http.StatusOK, nil); err != nil {
		return err
	}
	c.logger.Debug("webhook registered", "wallet", wallet, "url", callbackURL)
	return nil
}

// do issues one authenticated request and decodes the response into out.
func (c *Client) do(ctx context.Context, method, path string, body any, wantStatus int, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil && len(c.apiSecret) > 0 {
		ts := strconv.FormatInt(time.Now().Unix(), 10)
		req.Header.Set("X-Timestamp", ts)
		req.Header.Set("X-Signature", auth.SignRequest(c.apiSecret, ts, payload))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		return c.parseErrorResponse(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// parseErrorResponse extracts the server's error message from a failed
// response.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}

	return fmt.Errorf("request failed: %s", errResp.Error)
}
