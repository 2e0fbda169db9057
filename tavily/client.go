package tavily

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const defaultBaseURL = "https://api.tavily.com"

// Placeholders used when a search result has no title or content.
const (
	DefaultTitle   = "제목 없음"
	DefaultContent = "내용 없음"
)

// NewsItem is a single news search result.
type NewsItem struct {
	Title         string
	Content       string
	URL           string
	PublishedDate string
	Score         float64
}

// SearchOptions tunes a news search.
type SearchOptions struct {
	MaxResults int
	Days       int
	Depth      string
}

// Client provides access to the Tavily search API.
type Client struct {
	apiKey     string
	httpClient *http.Client
	baseURL    string
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(url string) Option {
	return func(c *Client) {
		c.baseURL = url
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// NewClient creates a new Tavily API client.
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    defaultBaseURL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SearchNews runs a news-topic search for query.
func (c *Client) SearchNews(ctx context.Context, query string, opts SearchOptions) ([]NewsItem, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("empty query")
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = 5
	}
	if opts.Days <= 0 {
		opts.Days = 1
	}
	if opts.Depth == "" {
		opts.Depth = "advanced"
	}

	body, err := json.Marshal(searchRequest{
		Query:             query,
		Topic:             "news",
		Days:              opts.Days,
		SearchDepth:       opts.Depth,
		IncludeImages:     false,
		IncludeRawContent: false,
		MaxResults:        opts.MaxResults,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search news: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var result searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	items := make([]NewsItem, 0, len(result.Results))
	for _, r := range result.Results {
		items = append(items, r.toNewsItem())
	}
	return items, nil
}

type searchRequest struct {
	Query             string `json:"query"`
	Topic             string `json:"topic"`
	Days              int    `json:"days"`
	SearchDepth       string `json:"search_depth"`
	IncludeImages     bool   `json:"include_images"`
	IncludeRawContent bool   `json:"include_raw_content"`
	MaxResults        int    `json:"max_results"`
}

type searchResponse struct {
	Query   string         `json:"query"`
	Results []searchResult `json:"results"`
}

type searchResult struct {
	Title         string  `json:"title"`
	URL           string  `json:"url"`
	Content       string  `json:"content"`
	Score         float64 `json:"score"`
	PublishedDate string  `json:"published_date"`
}

func (r searchResult) toNewsItem() NewsItem {
	item := NewsItem{
		Title:         strings.TrimSpace(r.Title),
		Content:       strings.TrimSpace(r.Content),
		URL:           strings.TrimSpace(r.URL),
		PublishedDate: r.PublishedDate,
		Score:         r.Score,
	}
	if item.Title == "" {
		item.Title = DefaultTitle
	}
	if item.Content == "" {
		item.Content = DefaultContent
	}
	return item
}
