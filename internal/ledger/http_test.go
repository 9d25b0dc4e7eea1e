package ledger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "verdant/pkg/domain"
)

func TestHTTPClient_Mint(t *testing.T) {
	batchID := uuid.NewString()
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/mint", r.URL.Path)
		var req struct {
			IdempotencyKey string `json:"idempotency_key"`
			To             string `json:"to"`
			Amount         int64  `json:"amount"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotKey = req.IdempotencyKey
		assert.Equal(t, "producer", req.To)
		assert.Equal(t, int64(100), req.Amount)
		_ = json.NewEncoder(w).Encode(map[string]string{"batch_id": batchID, "tx_ref": "tx-1"})
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, time.Second)
	result, err := client.Mint(context.Background(), "key-1", "producer", 100, "cert-1")
	require.NoError(t, err)
	assert.Equal(t, "key-1", gotKey)
	assert.Equal(t, batchID, result.BatchID.String())
	assert.Equal(t, TxRef("tx-1"), result.TxRef)
}

func TestHTTPClient_ErrorClassification(t *testing.T) {
	status := http.StatusInternalServerError
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "insufficient balance"})
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, time.Second)
	batchID := id.BatchID(uuid.New())

	_, err := client.BalanceOf(context.Background(), "producer", batchID)
	require.Error(t, err)
	assert.True(t, IsTransient(err))

	status = http.StatusUnprocessableEntity
	_, err = client.Transfer(context.Background(), "key", "producer", "buyer", batchID, 10)
	require.Error(t, err)
	assert.True(t, IsRejected(err))
	assert.Contains(t, err.Error(), "insufficient balance")
}

func TestHTTPClient_UnreachableGatewayIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	client := NewHTTPClient(srv.URL, 250*time.Millisecond)
	_, err := client.BalanceOf(context.Background(), "producer", id.BatchID(uuid.New()))
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}
