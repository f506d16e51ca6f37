package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/milton-labs/paygate/service/auth"
	"github.com/milton-labs/paygate/service/gateway"
)

const testAPISecret = "client-test-secret"

func TestBuildTransfer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/api/v1/transfers", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		ts := r.Header.Get("X-Timestamp")
		assert.NotEmpty(t, ts)
		assert.Equal(t, auth.SignRequest([]byte(testAPISecret), ts, body), r.Header.Get("X-Signature"))

		var req gateway.TransferRequest
		require.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, "SOL", req.TokenID)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(gateway.BuildResult{
			TransactionID:       "tx:abc",
			UnsignedTransaction: "base64data",
			FeeLamports:         5000,
			ExpiresAt:           time.Now().Add(15 * time.Minute),
			Amount:              1_500_000_000,
			HumanAmount:         "1.5",
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-token", testAPISecret, nil, nil)
	result, err := c.BuildTransfer(context.Background(), gateway.TransferRequest{
		Sender:    "sender",
		Recipient: "recipient",
		TokenID:   "SOL",
		Amount:    "1.5",
	})
	require.NoError(t, err)
	assert.Equal(t, "tx:abc", result.TransactionID)
	assert.Equal(t, uint64(5000), result.FeeLamports)
}

func TestSubmitAndStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case "PUT":
			assert.Equal(t, "/api/v1/transactions/tx:abc", r.URL.Path)
			var req gateway.SubmitRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "signedtx", req.SignedTransaction)
			writeResult(w, "completed")
		case "GET":
			assert.Equal(t, "/api/v1/transactions/tx:abc", r.URL.Path)
			assert.Empty(t, r.Header.Get("X-Signature"))
			writeResult(w, "pending")
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-token", testAPISecret, nil, nil)

	result, err := c.Submit(context.Background(), "tx:abc", "signedtx")
	require.NoError(t, err)
	assert.Equal(t, "completed", result.Status)

	result, err = c.Status(context.Background(), "tx:abc")
	require.NoError(t, err)
	assert.Equal(t, "pending", result.Status)
}

func writeResult(w http.ResponseWriter, status string) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(gateway.SubmitResult{
		TransactionID: "tx:abc",
		Status:        status,
	})
}

func TestListTransactions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "wallet1", r.URL.Query().Get("sender"))
		assert.Equal(t, "10", r.URL.Query().Get("limit"))
		json.NewEncoder(w).Encode(TransactionList{
			Transactions: []Transaction{{TransactionID: "tx:1", Status: "pending"}},
			Total:        1,
			Limit:        10,
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-token", testAPISecret, nil, nil)
	list, err := c.ListTransactions(context.Background(), "wallet1", 10, 0)
	require.NoError(t, err)
	require.Len(t, list.Transactions, 1)
	assert.Equal(t, int64(1), list.Total)
}

func TestRegisterWebhook(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "PUT", r.Method)
		assert.Equal(t, "/api/v1/webhooks", r.URL.Path)
		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "wallet1", req["wallet"])
		json.NewEncoder(w).Encode(req)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-token", testAPISecret, nil, nil)
	require.NoError(t, c.RegisterWebhook(context.Background(), "wallet1", "https://example.com/hook"))
}

func TestErrorResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]string{"error": "slippage exceeded"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-token", testAPISecret, nil, nil)
	_, err := c.BuildPurchase(context.Background(), gateway.PurchaseRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "slippage exceeded")
}

func TestTokenInfo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/tokens/MILTON", r.URL.Path)
		json.NewEncoder(w).Encode(TokenInfo{ID: "MILTON", Symbol: "MILTON", Decimals: 9})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-token", testAPISecret, nil, nil)
	info, err := c.TokenInfo(context.Background(), "MILTON")
	require.NoError(t, err)
	assert.Equal(t, "MILTON", info.ID)
	assert.Equal(t, uint8(9), info.Decimals)
}
