// Package batch aggregates paginated content listings served by the bsp HTTP
// API into a single result of a requested size.
package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/pubino/bsp/pkg/browser"
	"github.com/pubino/bsp/pkg/logging"
)

const (
	DefaultBaseURL  = "http://localhost:3000"
	DefaultPageSize = 50

	defaultTimeout = 2 * time.Minute
)

// PageResult is one decoded GET /content response.
type PageResult struct {
	Success    bool                  `json:"success"`
	Error      string                `json:"error,omitempty"`
	Content    []browser.ContentItem `json:"content"`
	Count      int                   `json:"count"`
	Pagination browser.Pagination    `json:"pagination"`
}

// PaginationInfo summarises the listing size.
type PaginationInfo struct {
	TotalPages  int  `json:"totalPages"`
	TotalItems  int  `json:"totalItems"`
	HasNextPage bool `json:"hasNextPage"`
}

// FetchOptions tunes FetchItems.
type FetchOptions struct {
	Type     string
	PageSize int
	// OnProgress is called after every fetched page.
	OnProgress func(page, totalPages, items int)
}

// Result is the aggregate returned by FetchItems.
type Result struct {
	Content      []browser.ContentItem `json:"content"`
	TotalFetched int                   `json:"totalFetched"`
	Requested    int                   `json:"requested"`
	Actual       int                   `json:"actual"`
	PagesFetched int                   `json:"pagesFetched"`
	Pagination   PaginationInfo        `json:"pagination"`
}

// Processor fetches listing pages sequentially from a bsp server.
type Processor struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	logger  *logging.Logger
}

// Option configures a Processor.
type Option func(*Processor)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Processor) { p.client = c }
}

// WithRateLimit spaces page requests to at most perSecond. Zero or less
// disables limiting.
func WithRateLimit(perSecond float64) Option {
	return func(p *Processor) {
		if perSecond > 0 {
			p.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(p *Processor) { p.logger = l }
}

// New creates a processor for the server at baseURL.
func New(baseURL string, opts ...Option) *Processor {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	p := &Processor{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: defaultTimeout},
		logger:  logging.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// FetchPage requests one listing page. A response without success is an
// error carrying the server's message.
func (p *Processor) FetchPage(ctx context.Context, page, limit int, contentType string) (*PageResult, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))
	if contentType != "" {
		q.Set("type", contentType)
	}
	endpoint := p.baseURL + "/content?" + q.Encode()
	p.logger.Debugf("fetching %s", endpoint)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch page %d: %w", page, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read page %d: %w", page, err)
	}

	var res PageResult
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("page %d: HTTP %d with undecodable body: %w", page, resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK || !res.Success {
		msg := res.Error
		if msg == "" {
			msg = "Unknown error"
		}
		return nil, fmt.Errorf("failed to fetch page %d (HTTP %d): %s", page, resp.StatusCode, msg)
	}

	p.logger.Debugf("page %d returned %d items", page, len(res.Content))
	return &res, nil
}

// PaginationInfo reads the listing size from a one-item first page.
func (p *Processor) PaginationInfo(ctx context.Context, contentType string) (*PaginationInfo, error) {
	first, err := p.FetchPage(ctx, 1, 1, contentType)
	if err != nil {
		return nil, err
	}
	info := &PaginationInfo{
		TotalPages:  first.Pagination.TotalPages,
		HasNextPage: first.Pagination.HasNextPage,
	}
	if first.Pagination.TotalItems != nil {
		info.TotalItems = *first.Pagination.TotalItems
	}
	return info, nil
}

// FetchItems collects count items, fetching ceil(count/pageSize) pages but
// never more than the listing has, then trims to count.
func (p *Processor) FetchItems(ctx context.Context, count int, opts FetchOptions) (*Result, error) {
	if count < 0 {
		return nil, fmt.Errorf("count must not be negative, got %d", count)
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	info, err := p.PaginationInfo(ctx, opts.Type)
	if err != nil {
		return nil, err
	}

	pages := (count + pageSize - 1) / pageSize
	if pages > info.TotalPages {
		pages = info.TotalPages
	}
	p.logger.Infof("fetching %d items of type %q: %d page(s) of %d, site has %d", count, opts.Type, pages, pageSize, info.TotalPages)

	res := &Result{
		Content:    []browser.ContentItem{},
		Requested:  count,
		Pagination: *info,
	}
	for page := 1; page <= pages; page++ {
		data, err := p.FetchPage(ctx, page, pageSize, opts.Type)
		if err != nil {
			return nil, err
		}
		res.Content = append(res.Content, data.Content...)
		res.PagesFetched++
		if opts.OnProgress != nil {
			opts.OnProgress(page, pages, len(data.Content))
		}
	}

	res.TotalFetched = len(res.Content)
	if len(res.Content) > count {
		res.Content = res.Content[:count]
	}
	res.Actual = len(res.Content)
	return res, nil
}
