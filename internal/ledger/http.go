package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	id "verdant/pkg/domain"
)

// HTTPClient talks to a ledger gateway over its JSON API. Idempotency keys
// travel in the request body; the gateway deduplicates on them. 5xx responses
// and transport failures classify as transient, 4xx as rejected.
type HTTPClient struct {
	baseURL string
	http    *http.Client
}

// NewHTTPClient creates a client for the ledger gateway at baseURL.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

type mintRequest struct {
	IdempotencyKey string `json:"idempotency_key"`
	To             string `json:"to"`
	Amount         int64  `json:"amount"`
	MetadataRef    string `json:"metadata_ref"`
}

type mintResponse struct {
	BatchID string `json:"batch_id"`
	TxRef   string `json:"tx_ref"`
}

func (c *HTTPClient) Mint(ctx context.Context, idempotencyKey string, toIdentity string, amount int64, metadataRef string) (MintResult, error) {
	var resp mintResponse
	err := c.post(ctx, "mint", "/mint", mintRequest{
		IdempotencyKey: idempotencyKey,
		To:             toIdentity,
		Amount:         amount,
		MetadataRef:    metadataRef,
	}, &resp)
	if err != nil {
		return MintResult{}, err
	}
	batchID, err := id.ParseBatchID(resp.BatchID)
	if err != nil {
		return MintResult{}, NewTransient("mint", "gateway returned malformed batch id", err)
	}
	return MintResult{BatchID: batchID, TxRef: TxRef(resp.TxRef)}, nil
}

func (c *HTTPClient) BalanceOf(ctx context.Context, identity string, batchID id.BatchID) (int64, error) {
	q := url.Values{}
	q.Set("identity", identity)
	q.Set("batch_id", batchID.String())

	var resp struct {
		Amount int64 `json:"amount"`
	}
	if err := c.get(ctx, "balance", "/balances?"+q.Encode(), &resp); err != nil {
		return 0, err
	}
	return resp.Amount, nil
}

type moveRequest struct {
	IdempotencyKey string `json:"idempotency_key"`
	From           string `json:"from,omitempty"`
	To             string `json:"to,omitempty"`
	Holder         string `json:"holder,omitempty"`
	BatchID        string `json:"batch_id"`
	Amount         int64  `json:"amount"`
}

type txResponse struct {
	TxRef string `json:"tx_ref"`
}

func (c *HTTPClient) Transfer(ctx context.Context, idempotencyKey string, from, to string, batchID id.BatchID, amount int64) (TxRef, error) {
	var resp txResponse
	err := c.post(ctx, "transfer", "/transfer", moveRequest{
		IdempotencyKey: idempotencyKey,
		From:           from,
		To:             to,
		BatchID:        batchID.String(),
		Amount:         amount,
	}, &resp)
	if err != nil {
		return "", err
	}
	return TxRef(resp.TxRef), nil
}

func (c *HTTPClient) Retire(ctx context.Context, idempotencyKey string, holder string, batchID id.BatchID, amount int64) (TxRef, error) {
	var resp txResponse
	err := c.post(ctx, "retire", "/retire", moveRequest{
		IdempotencyKey: idempotencyKey,
		Holder:         holder,
		BatchID:        batchID.String(),
		Amount:         amount,
	}, &resp)
	if err != nil {
		return "", err
	}
	return TxRef(resp.TxRef), nil
}

func (c *HTTPClient) GrantRole(ctx context.Context, identityKey string, role string) error {
	return c.post(ctx, "grant_role", "/roles", map[string]string{
		"identity_key": identityKey,
		"role":         role,
	}, nil)
}

func (c *HTTPClient) post(ctx context.Context, op, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return NewRejected(op, fmt.Sprintf("encode request: %v", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return NewRejected(op, fmt.Sprintf("build request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(op, req, out)
}

func (c *HTTPClient) get(ctx context.Context, op, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return NewRejected(op, fmt.Sprintf("build request: %v", err))
	}
	return c.do(op, req, out)
}

func (c *HTTPClient) do(op string, req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return NewTransient(op, "gateway unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return NewTransient(op, fmt.Sprintf("gateway returned %d", resp.StatusCode), nil)
	}
	if resp.StatusCode >= 400 {
		var body struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		if body.Message == "" {
			body.Message = fmt.Sprintf("gateway returned %d", resp.StatusCode)
		}
		return NewRejected(op, body.Message)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return NewTransient(op, "decode gateway response", err)
	}
	return nil
}

var _ Client = (*HTTPClient)(nil)
