package facebook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	neturl "net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/timmy/leadsync/internal/config"
	"github.com/timmy/leadsync/internal/domain"
	"github.com/timmy/leadsync/internal/logger"
	"github.com/timmy/leadsync/internal/source"
	"golang.org/x/time/rate"
)

const (
	SourceID = "facebook"

	// DefaultBaseURL is the Graph API host.
	DefaultBaseURL = "https://graph.facebook.com"

	// DefaultGraphVersion is the Graph API version used in request paths.
	DefaultGraphVersion = "v18.0"

	// DefaultTimeout bounds each Graph request.
	DefaultTimeout = 15 * time.Second

	// DefaultMaxPages bounds how many pages one list call follows.
	DefaultMaxPages = 50

	// DefaultPageSize is the limit parameter sent with list requests.
	DefaultPageSize = 100

	// DefaultRateLimit is the default request rate (requests per second).
	DefaultRateLimit = 5
)

// Client reads pages, lead forms and leads from the Facebook Graph API.
type Client struct {
	http     *resty.Client
	baseURL  string
	version  string
	maxPages int
	pageSize int
	limiter  *rate.Limiter
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithBaseURL sets a custom base URL.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		if baseURL != "" {
			c.baseURL = strings.TrimSuffix(baseURL, "/")
		}
	}
}

// WithGraphVersion sets the Graph API version segment, e.g. "v18.0".
func WithGraphVersion(version string) ClientOption {
	return func(c *Client) {
		if version != "" {
			c.version = version
		}
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.http.SetTimeout(timeout)
		}
	}
}

// WithMaxPages bounds how many pages a list call follows.
func WithMaxPages(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.maxPages = n
		}
	}
}

// WithPageSize sets the limit parameter of list requests.
func WithPageSize(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// WithRateLimit sets a custom rate limit.
func WithRateLimit(requestsPerSecond float64, burst int) ClientOption {
	return func(c *Client) {
		if requestsPerSecond <= 0 {
			return
		}
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
	}
}

// NewClient creates a new Graph API client.
func NewClient(opts ...ClientOption) *Client {
	httpClient := resty.New()
	httpClient.SetTimeout(DefaultTimeout)
	httpClient.SetHeader("Accept", "application/json")

	c := &Client{
		http:     httpClient,
		baseURL:  DefaultBaseURL,
		version:  DefaultGraphVersion,
		maxPages: DefaultMaxPages,
		pageSize: DefaultPageSize,
		limiter:  rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// NewClientFromConfig creates a client from the facebook config section.
// Parameters:
//   - cfg: Graph API settings.
//
// Returns:
//   - *Client: configured client.
func NewClientFromConfig(cfg *config.FacebookConfig) *Client {
	return NewClient(
		WithBaseURL(cfg.BaseURL),
		WithGraphVersion(cfg.GraphVersion),
		WithTimeout(cfg.Timeout),
		WithMaxPages(cfg.MaxPages),
		WithPageSize(cfg.PageSize),
		WithRateLimit(cfg.RateLimit, cfg.RateBurst),
	)
}

// GetSourceID returns the unique identifier for this source.
func (c *Client) GetSourceID() string {
	return SourceID
}

// GetPage reads the page name and ID, which also proves the token grants access.
func (c *Client) GetPage(ctx context.Context, pageID, token string) (*source.PageInfo, error) {
	body, err := c.get(ctx, c.endpoint(pageID), map[string]string{
		"fields":       "name,id",
		"access_token": token,
	})
	if err != nil {
		return nil, err
	}

	var page pageResponse
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("%w: decode page %s: %v", domain.ErrSourceUnavailable, pageID, err)
	}
	if page.ID == "" {
		page.ID = pageID
	}
	return &source.PageInfo{ID: page.ID, Name: page.Name}, nil
}

// ListForms returns every lead form of a page.
func (c *Client) ListForms(ctx context.Context, pageID, token string) ([]source.FormRef, error) {
	items, err := c.list(ctx, c.endpoint(pageID, "leadgen_forms"), map[string]string{
		"fields":       "id,name,status",
		"access_token": token,
	})
	if err != nil {
		return nil, err
	}

	forms := make([]source.FormRef, 0, len(items))
	for _, item := range items {
		var form source.FormRef
		if err := json.Unmarshal(item, &form); err != nil {
			return nil, fmt.Errorf("%w: decode form of page %s: %v", domain.ErrSourceUnavailable, pageID, err)
		}
		if form.ID == "" {
			continue
		}
		forms = append(forms, form)
	}
	return forms, nil
}

// ListLeads returns every submission of a form. Each lead keeps its raw JSON.
func (c *Client) ListLeads(ctx context.Context, formID, token string) ([]source.RawLead, error) {
	items, err := c.list(ctx, c.endpoint(formID, "leads"), map[string]string{
		"fields":       "id,created_time,field_data",
		"access_token": token,
	})
	if err != nil {
		return nil, err
	}

	leads := make([]source.RawLead, 0, len(items))
	for _, item := range items {
		var lead source.RawLead
		if err := json.Unmarshal(item, &lead); err != nil {
			return nil, fmt.Errorf("%w: decode lead of form %s: %v", domain.ErrSourceUnavailable, formID, err)
		}
		lead.Raw = item
		leads = append(leads, lead)
	}
	return leads, nil
}

// list follows paging.next until it is absent or maxPages pages were read.
func (c *Client) list(ctx context.Context, url string, params map[string]string) ([]json.RawMessage, error) {
	params["limit"] = strconv.Itoa(c.pageSize)

	var items []json.RawMessage
	next := url
	for page := 0; next != ""; page++ {
		if page >= c.maxPages {
			logger.With(logger.Fields{logger.FieldCount: len(items)}).
				Warn(ctx, "Graph pagination stopped after %d pages for %s", c.maxPages, redact(url))
			break
		}

		body, err := c.get(ctx, next, params)
		if err != nil {
			return nil, err
		}

		var env envelope
		if err := json.Unmarshal(body, &env); err != nil {
			return nil, fmt.Errorf("%w: decode %s: %v", domain.ErrSourceUnavailable, redact(url), err)
		}
		items = append(items, env.Data...)

		// The next URL already carries every query parameter.
		next = env.Paging.Next
		params = nil
	}
	return items, nil
}

// get performs one rate-limited GET and returns the body of a 2xx response.
func (c *Client) get(ctx context.Context, url string, params map[string]string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait: %w", err)
	}

	start := time.Now()
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(params).
		Get(url)
	if err != nil {
		var urlErr *neturl.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return nil, fmt.Errorf("graph request %s: %w", redact(url), err)
	}

	logger.With(logger.Fields{
		logger.FieldStatus:     resp.StatusCode(),
		logger.FieldDurationMs: time.Since(start).Milliseconds(),
	}).Debug(ctx, "Graph GET %s", redact(url))

	if !resp.IsSuccess() {
		var graphErr graphErrorResponse
		msg := strings.TrimSpace(string(resp.Body()))
		if json.Unmarshal(resp.Body(), &graphErr) == nil && graphErr.Error.Message != "" {
			msg = graphErr.Error.Message
		}
		return nil, fmt.Errorf("%w: graph API status %d: %s", domain.ErrSourceUnavailable, resp.StatusCode(), msg)
	}
	return resp.Body(), nil
}

func (c *Client) endpoint(segments ...string) string {
	return c.baseURL + "/" + c.version + "/" + strings.Join(segments, "/")
}

// redact drops the query string so access tokens never reach logs or errors.
func redact(url string) string {
	if idx := strings.Index(url, "?"); idx != -1 {
		return url[:idx]
	}
	return url
}

var _ source.LeadSource = (*Client)(nil)
