// Package transferclient is a small Go client for the transferd REST API.
package transferclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultHTTPTimeout is used by clients created without a custom http.Client.
// Bridge submissions wait for a router simulation, so it is longer than a
// typical API timeout.
const DefaultHTTPTimeout = 2 * time.Minute

// Client wraps the HTTP interactions with the transferd API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu          sync.RWMutex
	accessToken string
}

// TransferRequest is the payload accepted by POST /api/v1/transfers.
type TransferRequest struct {
	Token            string `json:"token"`
	ChainDestination string `json:"chain_destination"`
	Recipient        string `json:"recipient"`
	Amount           string `json:"amount"`
}

// TransferResult is returned for a successful submission.
type TransferResult struct {
	Success   bool   `json:"success"`
	Method    string `json:"method"`
	From      string `json:"from"`
	TxHash    string `json:"txhash"`
	MessageID string `json:"messageId,omitempty"`
	Fee       string `json:"fee,omitempty"`
	RequestID string `json:"request_id"`
}

// TransferRecord is a journaled transfer.
type TransferRecord struct {
	ID           string        `json:"id"`
	Token        string        `json:"token"`
	Destination  string        `json:"destination"`
	Recipient    string        `json:"recipient"`
	Amount       string        `json:"amount"`
	Status       string        `json:"status"`
	Result       *RecordResult `json:"result,omitempty"`
	ErrorCode    string        `json:"error_code,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`
	FailedChain  string        `json:"failed_chain,omitempty"`
	CreatedAt    int64         `json:"created_at"`
	UpdatedAt    int64         `json:"updated_at"`
}

// RecordResult holds the on-chain outcome of a succeeded transfer.
type RecordResult struct {
	Method      string `json:"method"`
	SourceChain string `json:"source_chain"`
	TxHash      string `json:"tx_hash"`
	MessageID   string `json:"message_id,omitempty"`
	Fee         string `json:"fee,omitempty"`
}

// Chain describes one configured chain.
type Chain struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	EVMChainID    uint64 `json:"evm_chain_id,omitempty"`
	NativeSymbol  string `json:"native_symbol"`
	TokenSymbol   string `json:"token_symbol"`
	TokenDecimals int32  `json:"token_decimals"`
	TokenAddress  string `json:"token_address"`
	RouterAddress string `json:"router_address"`
	Selector      string `json:"chain_selector"`
}

// ListOptions filters GET /api/v1/transfers.
type ListOptions struct {
	Limit     int
	Offset    int
	Statuses  []string
	Ascending bool
}

// APIError represents a failed request.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"error"`
	RequestID  string `json:"request_id,omitempty"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("transferd api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("transferd api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client. When httpClient is nil, a default client
// with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// AccessToken returns the currently stored token string.
func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

// SetAccessToken sets the bearer token sent with write requests.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = token
}

// Transfer submits a structured transfer request.
func (c *Client) Transfer(ctx context.Context, req TransferRequest) (TransferResult, error) {
	var result TransferResult
	if err := c.post(ctx, "/api/v1/transfers", req, &result); err != nil {
		return TransferResult{}, err
	}
	return result, nil
}

// TransferFromIntent submits a model response that wraps the request in a
// <response> block.
func (c *Client) TransferFromIntent(ctx context.Context, text string) (TransferResult, error) {
	var result TransferResult
	payload := struct {
		Text string `json:"text"`
	}{Text: text}
	if err := c.post(ctx, "/api/v1/intents", payload, &result); err != nil {
		return TransferResult{}, err
	}
	return result, nil
}

// GetTransfer fetches a journaled transfer by request id.
func (c *Client) GetTransfer(ctx context.Context, requestID string) (TransferRecord, error) {
	var record TransferRecord
	if err := c.get(ctx, "/api/v1/transfers/"+url.PathEscape(requestID), nil, &record); err != nil {
		return TransferRecord{}, err
	}
	return record, nil
}

// ListTransfers returns journaled transfers.
func (c *Client) ListTransfers(ctx context.Context, opts ListOptions) ([]TransferRecord, error) {
	query := url.Values{}
	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		query.Set("offset", strconv.Itoa(opts.Offset))
	}
	if len(opts.Statuses) > 0 {
		query.Set("status", strings.Join(opts.Statuses, ","))
	}
	if opts.Ascending {
		query.Set("order", "asc")
	}
	var records []TransferRecord
	if err := c.get(ctx, "/api/v1/transfers", query, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// Chains lists the chains the service is configured for.
func (c *Client) Chains(ctx context.Context) ([]Chain, error) {
	var chains []Chain
	if err := c.get(ctx, "/api/v1/chains", nil, &chains); err != nil {
		return nil, err
	}
	return chains, nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, nil, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, query url.Values, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, query, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, query url.Values, body io.Reader) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	if len(query) > 0 {
		rel.RawQuery = query.Encode()
	}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if token := c.AccessToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, &apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return &apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
