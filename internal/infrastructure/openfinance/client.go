package openfinance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout   = 30 * time.Second
	connectorsPath   = "/connectors"
	itemsPath        = "/items/"
	accountsPath     = "/accounts"
	transactionsPath = "/transactions"
	connectTokenPath = "/connect_token"
	queryDateLayout  = "2006-01-02"
	apiKeyHeader     = "X-API-KEY"
	maxResponseBytes = 32 << 20
)

// ClientConfig configures the aggregator client
type ClientConfig struct {
	BaseURL           string
	Timeout           time.Duration // per request
	RequestsPerSecond float64
	HTTPClient        *http.Client
}

// Client handles communication with the Open Finance aggregator API
type Client struct {
	httpClient *http.Client
	baseURL    string
	timeout    time.Duration
	tokens     TokenSource
	limiter    *rate.Limiter
}

// Ensure Client implements ClientInterface
var _ ClientInterface = (*Client)(nil)

// NewHTTPClient returns an HTTP client whose requests are traced.
func NewHTTPClient() *http.Client {
	return &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
}

// NewClient creates a new aggregator client that authenticates through tokens
func NewClient(cfg ClientConfig, tokens TokenSource) *Client {
	c := &Client{
		httpClient: cfg.HTTPClient,
		baseURL:    cfg.BaseURL,
		timeout:    cfg.Timeout,
		tokens:     tokens,
	}
	if c.httpClient == nil {
		c.httpClient = NewHTTPClient()
	}
	if c.timeout <= 0 {
		c.timeout = defaultTimeout
	}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return c
}

// ListConnectors returns the institutions available for linking
func (c *Client) ListConnectors(ctx context.Context, filter ConnectorFilter) ([]Connector, error) {
	query := url.Values{}
	for _, t := range filter.Types {
		query.Add("types", t)
	}
	for _, country := range filter.Countries {
		query.Add("countries", country)
	}
	if filter.Name != "" {
		query.Set("name", filter.Name)
	}

	var resp listResponse[Connector]
	if err := c.do(ctx, http.MethodGet, connectorsPath, query, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// GetItem fetches a single item
func (c *Client) GetItem(ctx context.Context, itemID string) (*Item, error) {
	var item Item
	if err := c.do(ctx, http.MethodGet, itemsPath+url.PathEscape(itemID), nil, nil, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// TriggerItemSync asks the aggregator to refresh the item from the institution.
// The refresh completes asynchronously on the aggregator side.
func (c *Client) TriggerItemSync(ctx context.Context, itemID string) (*Item, error) {
	return c.UpdateItem(ctx, itemID, UpdateItemParams{})
}

// UpdateItem patches an item's credentials or webhook
func (c *Client) UpdateItem(ctx context.Context, itemID string, params UpdateItemParams) (*Item, error) {
	var item Item
	if err := c.do(ctx, http.MethodPatch, itemsPath+url.PathEscape(itemID), nil, params, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// DeleteItem removes the item and its data from the aggregator
func (c *Client) DeleteItem(ctx context.Context, itemID string) error {
	return c.do(ctx, http.MethodDelete, itemsPath+url.PathEscape(itemID), nil, nil, nil)
}

// ListAccounts returns every account of an item
func (c *Client) ListAccounts(ctx context.Context, itemID string) ([]Account, error) {
	query := url.Values{}
	query.Set("itemId", itemID)

	var resp listResponse[Account]
	if err := c.do(ctx, http.MethodGet, accountsPath, query, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// ListTransactions returns one page of an account's transactions
func (c *Client) ListTransactions(ctx context.Context, accountID string, q TransactionQuery) (*TransactionPage, error) {
	query := url.Values{}
	query.Set("accountId", accountID)
	if !q.From.IsZero() {
		query.Set("from", q.From.Format(queryDateLayout))
	}
	if !q.To.IsZero() {
		query.Set("to", q.To.Format(queryDateLayout))
	}
	if q.Page > 0 {
		query.Set("page", strconv.Itoa(q.Page))
	}
	if q.PageSize > 0 {
		query.Set("pageSize", strconv.Itoa(q.PageSize))
	}

	var page TransactionPage
	if err := c.do(ctx, http.MethodGet, transactionsPath, query, nil, &page); err != nil {
		return nil, err
	}
	if page.Page == 0 {
		page.Page = max(q.Page, 1)
	}
	return &page, nil
}

type connectTokenRequest struct {
	ClientUserID string      `json:"clientUserId,omitempty"`
	ItemOptions  itemOptions `json:"itemOptions"`
}

type itemOptions struct {
	AvoidDuplicates bool `json:"avoidDuplicates"`
}

// CreateConnectToken issues a token for the connect widget, scoped to clientUserID
func (c *Client) CreateConnectToken(ctx context.Context, clientUserID string) (*ConnectToken, error) {
	body := connectTokenRequest{
		ClientUserID: clientUserID,
		ItemOptions:  itemOptions{AvoidDuplicates: true},
	}

	var token ConnectToken
	if err := c.do(ctx, http.MethodPost, connectTokenPath, nil, body, &token); err != nil {
		return nil, err
	}
	return &token, nil
}

// do performs an authenticated request. A 401 invalidates the credential and
// the request is retried once with a fresh one.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
	}

	for attempt := 0; ; attempt++ {
		cred, err := c.tokens.EnsureValid(ctx)
		if err != nil {
			return err
		}

		status, respBody, err := c.send(ctx, method, path, query, payload, cred.Token)
		if err != nil {
			return err
		}

		if status == http.StatusUnauthorized && attempt == 0 {
			log.Printf("OpenFinance: %s %s returned 401, refreshing API key", method, path)
			c.tokens.Invalidate(cred.Token)
			continue
		}
		if status < 200 || status >= 300 {
			return newAPIError(status, respBody)
		}

		if out != nil && len(respBody) > 0 {
			if err := json.Unmarshal(respBody, out); err != nil {
				return fmt.Errorf("failed to unmarshal %s %s response: %w", method, path, err)
			}
		}
		return nil
	}
}

func (c *Client) send(ctx context.Context, method, path string, query url.Values, payload []byte, token string) (int, []byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return 0, nil, newNetworkError(method, path, err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set(apiKeyHeader, token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, newNetworkError(method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, newNetworkError(method, path, err)
	}
	return resp.StatusCode, respBody, nil
}
