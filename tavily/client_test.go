package tavily

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchNews(t *testing.T) {
	var got searchRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "Bearer tvly-key", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		json.NewEncoder(w).Encode(map[string]any{
			"query": "증시",
			"results": []map[string]any{
				{
					"title":          "코스피 급등",
					"url":            "https://news.example.com/1",
					"content":        "외국인 매수세에 코스피가 2% 상승했다.",
					"score":          0.91,
					"published_date": "Mon, 14 Oct 2026 01:00:00 GMT",
				},
				{"title": "", "url": "https://news.example.com/2", "content": ""},
			},
		})
	}))
	defer server.Close()

	c := NewClient("tvly-key", WithBaseURL(server.URL))
	items, err := c.SearchNews(context.Background(), "증시", SearchOptions{MaxResults: 3})
	require.NoError(t, err)

	assert.Equal(t, "증시", got.Query)
	assert.Equal(t, "news", got.Topic)
	assert.Equal(t, 1, got.Days)
	assert.Equal(t, "advanced", got.SearchDepth)
	assert.Equal(t, 3, got.MaxResults)
	assert.False(t, got.IncludeImages)
	assert.False(t, got.IncludeRawContent)

	require.Len(t, items, 2)
	assert.Equal(t, "코스피 급등", items[0].Title)
	assert.Equal(t, "https://news.example.com/1", items[0].URL)
	assert.InDelta(t, 0.91, items[0].Score, 1e-9)
	assert.Equal(t, DefaultTitle, items[1].Title)
	assert.Equal(t, DefaultContent, items[1].Content)
}

func TestSearchNewsEmptyResults(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results": []}`))
	}))
	defer server.Close()

	c := NewClient("k", WithBaseURL(server.URL))
	items, err := c.SearchNews(context.Background(), "q", SearchOptions{})
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestSearchNewsServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	c := NewClient("bad", WithBaseURL(server.URL))
	_, err := c.SearchNews(context.Background(), "q", SearchOptions{})
	assert.Error(t, err)
}

func TestSearchNewsInvalidJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer server.Close()

	c := NewClient("k", WithBaseURL(server.URL))
	_, err := c.SearchNews(context.Background(), "q", SearchOptions{})
	assert.Error(t, err)
}

func TestSearchNewsEmptyQuery(t *testing.T) {
	c := NewClient("k")
	_, err := c.SearchNews(context.Background(), "   ", SearchOptions{})
	assert.Error(t, err)
}

func TestSearchNewsContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results": []}`))
	}))
	defer server.Close()

	c := NewClient("k", WithBaseURL(server.URL))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.SearchNews(ctx, "q", SearchOptions{})
	assert.Error(t, err)
}
