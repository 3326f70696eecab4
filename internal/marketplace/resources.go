package marketplace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"sellerhub/internal/util"
)

// MaxPageSize is the per-request page cap the marketplace enforces.
// Requests above it are rejected, so callers clamp before dispatch.
const MaxPageSize = 50

// resourceTimeout bounds every resource fetch.
const resourceTimeout = 10 * time.Second

// APIError is a non-2xx answer from a marketplace resource endpoint.
type APIError struct {
	StatusCode int
	Endpoint   string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("marketplace %s returned %d: %s", e.Endpoint, e.StatusCode, util.TruncateLog(e.Body, 256))
}

// IsAuthError reports whether err means the presented token was rejected,
// as opposed to the resource call itself failing. Aggregation retries these
// once after a forced refresh; everything else is dropped and logged.
func IsAuthError(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden
	}
	return false
}

// Paging echoes the marketplace's offset pagination block.
type Paging struct {
	Total  int `json:"total"`
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
}

// Order is one sale on the marketplace, trimmed to the fields the hub shows.
type Order struct {
	ID          int64     `json:"id"`
	Status      string    `json:"status"`
	DateCreated time.Time `json:"date_created"`
	TotalAmount float64   `json:"total_amount"`
	CurrencyID  string    `json:"currency_id"`
	Buyer       struct {
		ID       int64  `json:"id"`
		Nickname string `json:"nickname"`
	} `json:"buyer"`
}

// Question is one buyer question on a seller's listing.
type Question struct {
	ID          int64     `json:"id"`
	Text        string    `json:"text"`
	Status      string    `json:"status"`
	ItemID      string    `json:"item_id"`
	DateCreated time.Time `json:"date_created"`
	From        struct {
		ID int64 `json:"id"`
	} `json:"from"`
}

// PageParams selects one page of a seller-scoped search.
type PageParams struct {
	Limit  int
	Offset int
}

// Clamp applies the marketplace page cap and fills a sane default.
func (p PageParams) Clamp() PageParams {
	if p.Limit <= 0 || p.Limit > MaxPageSize {
		p.Limit = MaxPageSize
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// ResourceClient fetches seller-scoped resources from the marketplace REST
// API. One call fetches one page for one seller; fan-out across sellers
// lives a layer above.
type ResourceClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewResourceClient creates a client against the production marketplace.
func NewResourceClient() *ResourceClient {
	return NewResourceClientWithBaseURL(DefaultAPIBaseURL)
}

// NewResourceClientWithBaseURL creates a client against a custom base URL.
func NewResourceClientWithBaseURL(baseURL string) *ResourceClient {
	return &ResourceClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: resourceTimeout},
	}
}

// SearchOrders fetches one page of the seller's orders, newest first.
func (c *ResourceClient) SearchOrders(ctx context.Context, accessToken, sellerID string, params PageParams) ([]Order, error) {
	q := url.Values{}
	q.Set("seller", sellerID)
	q.Set("sort", "date_desc")

	var page struct {
		Results []Order `json:"results"`
		Paging  Paging  `json:"paging"`
	}
	if err := c.get(ctx, "/orders/search", accessToken, q, params, &page); err != nil {
		return nil, err
	}
	return page.Results, nil
}

// SearchQuestions fetches one page of open questions on the seller's items.
func (c *ResourceClient) SearchQuestions(ctx context.Context, accessToken, sellerID string, params PageParams) ([]Question, error) {
	q := url.Values{}
	q.Set("seller_id", sellerID)
	q.Set("status", "UNANSWERED")
	q.Set("sort_fields", "date_created")
	q.Set("sort_types", "DESC")

	var page struct {
		Questions []Question `json:"questions"`
		Total     int        `json:"total"`
	}
	if err := c.get(ctx, "/questions/search", accessToken, q, params, &page); err != nil {
		return nil, err
	}
	return page.Questions, nil
}

func (c *ResourceClient) get(ctx context.Context, endpoint, accessToken string, q url.Values, params PageParams, out interface{}) error {
	params = params.Clamp()
	q.Set("limit", strconv.Itoa(params.Limit))
	q.Set("offset", strconv.Itoa(params.Offset))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Endpoint: endpoint, Body: string(body)}
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
