// Package instagram publishes images to an Instagram Business account
// through the Facebook Graph API content publishing endpoints.
package instagram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v5"

	"github.com/geongi-im/card-news-generator/metrics"
)

const (
	defaultBaseURL = "https://graph.facebook.com"
	defaultVersion = "v18.0"

	// MaxCarouselItems is the largest number of children a carousel accepts.
	MaxCarouselItems = 10
	// MaxCaptionRunes is the caption length limit enforced by Instagram.
	MaxCaptionRunes = 2200
)

// Graph API steps, used in errors, logs and metrics.
const (
	StepSingle            = "single_container"
	StepCarouselItem      = "carousel_item"
	StepCarouselContainer = "carousel_container"
	StepPublish           = "publish"
	StepProbe             = "probe"
)

var (
	ErrNoImages         = errors.New("no images to post")
	ErrTooManyImages    = fmt.Errorf("more than %d images", MaxCarouselItems)
	ErrMissingID        = errors.New("response contains no id")
	ErrImageUnreachable = errors.New("image url unreachable")
)

// APIError is an error response from the Graph API.
type APIError struct {
	StatusCode int    `json:"-"`
	Message    string `json:"message"`
	Type       string `json:"type"`
	Code       int    `json:"code"`
	FBTraceID  string `json:"fbtrace_id"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("graph api: status %d", e.StatusCode)
	}
	return fmt.Sprintf("graph api: status %d: %s (type=%s code=%d)", e.StatusCode, e.Message, e.Type, e.Code)
}

// PostResult describes a published post.
type PostResult struct {
	PostID      string
	ContainerID string
	ChildIDs    []string
	Carousel    bool
}

// Client publishes media for one Instagram account.
type Client struct {
	accessToken  string
	accountID    string
	baseURL      string
	version      string
	httpClient   *http.Client
	probeRetries int
	probeDelay   time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(url string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(url, "/")
	}
}

// WithAPIVersion sets the Graph API version path segment, e.g. "v18.0".
func WithAPIVersion(version string) Option {
	return func(c *Client) {
		c.version = version
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithProbe sets how many times an image URL is checked before it is
// given to the Graph API, and the fixed delay between attempts.
func WithProbe(retries int, delay time.Duration) Option {
	return func(c *Client) {
		c.probeRetries = retries
		c.probeDelay = delay
	}
}

// NewClient creates a Graph API client for accountID.
func NewClient(accessToken, accountID string, opts ...Option) *Client {
	c := &Client{
		accessToken:  accessToken,
		accountID:    accountID,
		baseURL:      defaultBaseURL,
		version:      defaultVersion,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		probeRetries: 5,
		probeDelay:   2 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.probeRetries < 1 {
		c.probeRetries = 1
	}
	return c
}

// Post publishes imageURLs with caption. One URL becomes a single image
// post; two to ten become a carousel.
func (c *Client) Post(ctx context.Context, imageURLs []string, caption string) (*PostResult, error) {
	switch n := len(imageURLs); {
	case n == 0:
		return nil, ErrNoImages
	case n == 1:
		return c.PostSingle(ctx, imageURLs[0], caption)
	case n > MaxCarouselItems:
		return nil, fmt.Errorf("%w: got %d", ErrTooManyImages, n)
	default:
		return c.PostCarousel(ctx, imageURLs, caption)
	}
}

// PostSingle publishes one image.
func (c *Client) PostSingle(ctx context.Context, imageURL, caption string) (*PostResult, error) {
	start := time.Now()
	defer func() { metrics.RecordPublish("single", time.Since(start).Seconds()) }()

	slog.Info("posting single image", "url", imageURL)

	if err := c.ProbeImage(ctx, imageURL); err != nil {
		return nil, err
	}

	containerID, err := c.createMedia(ctx, StepSingle, url.Values{
		"image_url": {imageURL},
		"caption":   {TruncateCaption(caption)},
	})
	if err != nil {
		return nil, err
	}

	postID, err := c.publish(ctx, containerID)
	if err != nil {
		return nil, err
	}

	slog.Info("post published", "post_id", postID, "container_id", containerID)
	return &PostResult{PostID: postID, ContainerID: containerID}, nil
}

// PostCarousel publishes imageURLs as one carousel post.
func (c *Client) PostCarousel(ctx context.Context, imageURLs []string, caption string) (*PostResult, error) {
	if len(imageURLs) < 2 {
		return nil, fmt.Errorf("carousel needs at least 2 images, got %d", len(imageURLs))
	}
	if len(imageURLs) > MaxCarouselItems {
		return nil, fmt.Errorf("%w: got %d", ErrTooManyImages, len(imageURLs))
	}

	start := time.Now()
	defer func() { metrics.RecordPublish("carousel", time.Since(start).Seconds()) }()

	slog.Info("posting carousel", "images", len(imageURLs))

	childIDs := make([]string, 0, len(imageURLs))
	for i, imageURL := range imageURLs {
		slog.Info("creating carousel item", "index", i+1, "total", len(imageURLs), "url", imageURL)

		if err := c.ProbeImage(ctx, imageURL); err != nil {
			return nil, fmt.Errorf("carousel item %d: %w", i+1, err)
		}
		id, err := c.createMedia(ctx, StepCarouselItem, url.Values{
			"image_url":        {imageURL},
			"is_carousel_item": {"true"},
		})
		if err != nil {
			return nil, fmt.Errorf("carousel item %d: %w", i+1, err)
		}
		childIDs = append(childIDs, id)
	}

	containerID, err := c.createMedia(ctx, StepCarouselContainer, url.Values{
		"media_type": {"CAROUSEL"},
		"children":   {strings.Join(childIDs, ",")},
		"caption":    {TruncateCaption(caption)},
	})
	if err != nil {
		return nil, err
	}

	postID, err := c.publish(ctx, containerID)
	if err != nil {
		return nil, err
	}

	slog.Info("carousel published", "post_id", postID, "container_id", containerID, "children", len(childIDs))
	return &PostResult{
		PostID:      postID,
		ContainerID: containerID,
		ChildIDs:    childIDs,
		Carousel:    true,
	}, nil
}

// ProbeImage checks with HEAD requests that imageURL answers 200, retrying
// with a fixed delay. The Graph API fetches images by URL, so a freshly
// uploaded file may need a moment before it is served.
func (c *Client) ProbeImage(ctx context.Context, imageURL string) error {
	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		status, contentType, err := c.head(ctx, imageURL)
		if err != nil {
			slog.Warn("image probe failed", "url", imageURL, "attempt", attempt, "max", c.probeRetries, "error", err)
			metrics.RecordGraphRequest(StepProbe, "error")
			return struct{}{}, err
		}

		slog.Info("image probe", "url", imageURL, "attempt", attempt, "max", c.probeRetries,
			"status", status, "content_type", contentType)
		if status != http.StatusOK {
			metrics.RecordGraphRequest(StepProbe, "error")
			return struct{}{}, fmt.Errorf("unexpected status: %d", status)
		}
		metrics.RecordGraphRequest(StepProbe, "ok")
		return struct{}{}, nil
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(c.probeDelay)),
		backoff.WithMaxTries(uint(c.probeRetries)),
	)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %s after %d attempts: %v", ErrImageUnreachable, imageURL, attempt, err)
	}
	return nil
}

func (c *Client) head(ctx context.Context, imageURL string) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, imageURL, nil)
	if err != nil {
		return 0, "", backoff.Permanent(fmt.Errorf("create request: %w", err))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "unknown"
	}
	return resp.StatusCode, contentType, nil
}

func (c *Client) createMedia(ctx context.Context, step string, params url.Values) (string, error) {
	return c.call(ctx, step, "/"+c.accountID+"/media", params)
}

func (c *Client) publish(ctx context.Context, creationID string) (string, error) {
	return c.call(ctx, StepPublish, "/"+c.accountID+"/media_publish", url.Values{
		"creation_id": {creationID},
	})
}

// call POSTs to a Graph endpoint with params in the query string and
// returns the id from the response.
func (c *Client) call(ctx context.Context, step, path string, params url.Values) (string, error) {
	params.Set("access_token", c.accessToken)
	endpoint := c.baseURL + "/" + c.version + path + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("%s: create request: %w", step, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RecordGraphRequest(step, "error")
		return "", fmt.Errorf("%s: %w", step, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		metrics.RecordGraphRequest(step, "error")
		return "", fmt.Errorf("%s: read response: %w", step, err)
	}

	slog.Debug("graph api response", "step", step, "status", resp.StatusCode)

	if resp.StatusCode != http.StatusOK {
		metrics.RecordGraphRequest(step, "error")
		apiErr := parseAPIError(resp.StatusCode, body)
		slog.Error("graph api request failed", "step", step, "status", resp.StatusCode, "error", apiErr.Message)
		return "", fmt.Errorf("%s: %w", step, apiErr)
	}

	var result struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		metrics.RecordGraphRequest(step, "error")
		return "", fmt.Errorf("%s: decode response: %w", step, err)
	}
	if result.ID == "" {
		metrics.RecordGraphRequest(step, "error")
		return "", fmt.Errorf("%s: %w", step, ErrMissingID)
	}

	metrics.RecordGraphRequest(step, "ok")
	return result.ID, nil
}

func parseAPIError(status int, body []byte) *APIError {
	var envelope struct {
		Error *APIError `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Error == nil {
		return &APIError{StatusCode: status, Message: strings.TrimSpace(string(body))}
	}
	envelope.Error.StatusCode = status
	return envelope.Error
}

// TruncateCaption cuts caption to MaxCaptionRunes runes.
func TruncateCaption(caption string) string {
	if utf8.RuneCountInString(caption) <= MaxCaptionRunes {
		return caption
	}
	runes := []rune(caption)
	return string(runes[:MaxCaptionRunes])
}
