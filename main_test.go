package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/geongi-im/card-news-generator/analyzer"
	"github.com/geongi-im/card-news-generator/cardnews"
	"github.com/geongi-im/card-news-generator/config"
	"github.com/geongi-im/card-news-generator/instagram"
	"github.com/geongi-im/card-news-generator/pipeline"
	"github.com/geongi-im/card-news-generator/server"
	"github.com/geongi-im/card-news-generator/storage"
	"github.com/geongi-im/card-news-generator/tavily"
)

func writeAssets(t *testing.T) (background, font string) {
	t.Helper()
	dir := t.TempDir()

	img := image.NewRGBA(image.Rect(0, 0, 800, 900))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	background = filepath.Join(dir, "background.png")
	f, err := os.Create(background)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())

	font = filepath.Join(dir, "font.ttf")
	require.NoError(t, os.WriteFile(font, goregular.TTF, 0644))
	return background, font
}

func newTestDB(t *testing.T) *storage.DB {
	t.Helper()
	db, err := storage.NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func tavilyServer(t *testing.T, results ...map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{"results": results})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func geminiServer(t *testing.T) *httptest.Server {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		text := fmt.Sprintf("```json\n{\"title\": \"Card %d\", \"content\": \"Summary %d\", \"hashtag\": \"#stocks #n%d\"}\n```", n, n, n)
		json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{
				{"content": map[string]any{"parts": []map[string]any{{"text": text}}}},
			},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestLayoutFromConfigDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CARDNEWS_ENV_FILE", filepath.Join(dir, "missing.env"))

	cfg, err := config.Load(filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)

	layout, err := layoutFromConfig(cfg.Layout)
	require.NoError(t, err)
	assert.Equal(t, cardnews.DefaultLayout(), layout)
}

func TestLayoutFromConfigInvalidColor(t *testing.T) {
	_, err := layoutFromConfig(config.Layout{BoxColor: "blue", SourceColor: "#000000"})
	assert.ErrorContains(t, err, "layout.box_color")

	_, err = layoutFromConfig(config.Layout{BoxColor: "#000000", SourceColor: "#12"})
	assert.ErrorContains(t, err, "layout.source_color")
}

func TestResolveImageURL(t *testing.T) {
	tests := []struct {
		base  string
		image string
		want  string
	}{
		{"https://cdn.example.com/cards/", "20261014_1.png", "https://cdn.example.com/cards/20261014_1.png"},
		{"https://cdn.example.com", "https://other.example.com/a.png", "https://other.example.com/a.png"},
		{"", "20261014_1.png", "20261014_1.png"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, resolveImageURL(tt.base, tt.image), tt.image)
	}
}

func TestNewAppRequiresCredentials(t *testing.T) {
	cfg := &config.Config{}
	_, err := newApp(cfg, false)
	assert.ErrorContains(t, err, "tavily_api_key")

	cfg.TavilyAPIKey = "t"
	_, err = newApp(cfg, false)
	assert.ErrorContains(t, err, "gemini_api_key")

	cfg.GeminiAPIKey = "g"
	_, err = newApp(cfg, true)
	assert.ErrorContains(t, err, "instagram_access_token")
}

func TestTavilyAdapter(t *testing.T) {
	srv := tavilyServer(t,
		map[string]any{"title": "Chips rally", "url": "https://news.example.com/1", "content": "Exports rose.", "published_date": "2026-10-14"},
		map[string]any{"title": "", "url": "https://news.example.com/2", "content": ""},
	)
	adapter := &tavilyAdapter{client: tavily.NewClient("key", tavily.WithBaseURL(srv.URL)), days: 1, depth: "basic"}

	items, err := adapter.SearchNews(context.Background(), "market", 2)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, pipeline.NewsItem{
		Title:         "Chips rally",
		Content:       "Exports rose.",
		URL:           "https://news.example.com/1",
		PublishedDate: "2026-10-14",
	}, items[0])
	assert.Equal(t, tavily.DefaultTitle, items[1].Title)
}

func TestAnalyzerAdapter(t *testing.T) {
	srv := geminiServer(t)
	adapter := &analyzerAdapter{analyzer.NewAnalyzer("key", analyzer.WithBaseURL(srv.URL))}

	got, err := adapter.Analyze(context.Background(), "title", "content")
	require.NoError(t, err)
	assert.Equal(t, &pipeline.Analysis{Title: "Card 1", Content: "Summary 1", Hashtag: "#stocks #n1"}, got)
}

func TestRendererAdapter(t *testing.T) {
	background, font := writeAssets(t)
	out := filepath.Join(t.TempDir(), "out")
	r, err := cardnews.NewRenderer(background, font, cardnews.WithOutputDir(out))
	require.NoError(t, err)

	card, err := (&rendererAdapter{r}).Render(pipeline.CardRequest{Title: "Title", Content: "Body", Hashtag: "#tag", Number: 2})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(card.Filename, "_2.png"))
	assert.FileExists(t, card.Path)
}

func TestStorageAndRunListerAdapters(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	store := &storageAdapter{db}
	started := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)

	require.NoError(t, store.StartRun(ctx, "run-1", "market", started))
	require.NoError(t, store.SaveNews(ctx, &pipeline.StoredNews{
		URL:       "https://news.example.com/1",
		Title:     "Chips rally",
		CardTitle: "Card",
		Hashtag:   "#chips",
		ImagePath: "output/20261014_1.png",
		RunID:     "run-1",
	}))
	require.NoError(t, store.MarkNewsPosted(ctx, []string{"https://news.example.com/1"}, "post-1"))
	require.NoError(t, store.FinishRun(ctx, "run-1", pipeline.StatusSuccess, 1, 1))
	require.NoError(t, store.SetSetting(ctx, pipeline.SettingLastRunID, "run-1"))

	news, err := db.GetNews(ctx, "https://news.example.com/1")
	require.NoError(t, err)
	assert.Equal(t, "Card", news.CardTitle)
	require.NotNil(t, news.PostID)
	assert.Equal(t, "post-1", *news.PostID)

	urls, err := store.GetRecentlyPostedURLs(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://news.example.com/1"}, urls)

	runs, err := (&runListerAdapter{db}).ListRuns(ctx, 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-1", runs[0].ID)
	assert.Equal(t, pipeline.StatusSuccess, runs[0].Status)
	assert.Equal(t, 1, runs[0].Posts)
	assert.NotNil(t, runs[0].FinishedAt)
}

func TestPublisherAdapterError(t *testing.T) {
	adapter := &publisherAdapter{instagram.NewClient("token", "acct")}
	_, err := adapter.Post(context.Background(), nil, "caption")
	assert.True(t, errors.Is(err, instagram.ErrNoImages))
}

// TestRunEndToEnd drives one carousel run through every real component.
// Cards are served by the daemon's HTTP server so the image probe hits it.
func TestRunEndToEnd(t *testing.T) {
	ctx := context.Background()
	background, font := writeAssets(t)
	outputDir := t.TempDir()
	db := newTestDB(t)

	cards := httptest.NewServer(server.New(outputDir).Handler())
	t.Cleanup(cards.Close)

	var (
		mu         sync.Mutex
		graphCalls []string
	)
	graph := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		graphCalls = append(graphCalls, r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		if strings.HasSuffix(r.URL.Path, "/media_publish") {
			fmt.Fprint(w, `{"id":"post-1"}`)
			return
		}
		fmt.Fprintf(w, `{"id":"container-%d"}`, len(graphCalls))
	}))
	t.Cleanup(graph.Close)

	search := tavilyServer(t,
		map[string]any{"title": "Chips rally", "url": "https://news.example.com/1", "content": "Exports rose."},
		map[string]any{"title": "Won slides", "url": "https://news.example.com/2", "content": "Dollar up."},
		map[string]any{"title": "Chips rally again", "url": "https://news.example.com/1", "content": "Duplicate."},
	)
	gemini := geminiServer(t)

	r, err := cardnews.NewRenderer(background, font, cardnews.WithOutputDir(outputDir))
	require.NoError(t, err)

	runner := pipeline.NewRunner(
		&tavilyAdapter{client: tavily.NewClient("key", tavily.WithBaseURL(search.URL))},
		&analyzerAdapter{analyzer.NewAnalyzer("key", analyzer.WithBaseURL(gemini.URL))},
		&rendererAdapter{r},
		&storageAdapter{db},
		pipeline.WithPublisher(&publisherAdapter{instagram.NewClient("token", "acct",
			instagram.WithBaseURL(graph.URL),
			instagram.WithProbe(1, time.Millisecond),
		)}),
		pipeline.WithImageBaseURL(cards.URL+"/cards"),
		pipeline.WithCount(3),
	)

	report, err := runner.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, pipeline.StatusSuccess, report.Status())
	require.Len(t, report.Cards(), 2)
	assert.Equal(t, 1, report.Published())
	require.Len(t, report.Posts, 1)
	assert.True(t, report.Posts[0].Result.Carousel)
	assert.Equal(t, "post-1", report.Posts[0].Result.PostID)
	mu.Lock()
	assert.Equal(t, []string{
		"/v18.0/acct/media",
		"/v18.0/acct/media",
		"/v18.0/acct/media",
		"/v18.0/acct/media_publish",
	}, graphCalls)
	mu.Unlock()

	news, err := db.GetNews(ctx, "https://news.example.com/2")
	require.NoError(t, err)
	require.NotNil(t, news.PostID)
	assert.Equal(t, "post-1", *news.PostID)

	last, err := db.GetSetting(ctx, pipeline.SettingLastPostID)
	require.NoError(t, err)
	assert.Equal(t, "post-1", last)

	// a second run skips both articles as recently posted
	report, err = runner.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Skipped)
	assert.Empty(t, report.Cards())
}

func TestPrintReport(t *testing.T) {
	report := &pipeline.Report{
		RunID: "run-1",
		Items: []pipeline.ItemOutcome{
			{Number: 1, Card: &pipeline.Card{Number: 1, Path: "output/20261014_1.png"}},
			{Number: 2, Stage: pipeline.StageRender, Err: errors.New("font missing")},
		},
		PostMode: pipeline.PostModeSingle,
		Posts:    []pipeline.PostOutcome{{Numbers: []int{1}, Result: &pipeline.PostResult{PostID: "p1"}}},
	}

	var buf bytes.Buffer
	printReport(&buf, report)
	out := buf.String()
	assert.Contains(t, out, "run run-1: partial")
	assert.Contains(t, out, "card 1: output/20261014_1.png")
	assert.Contains(t, out, "card 2 failed at render: font missing")
	assert.Contains(t, out, "post [1]: p1")
}

func TestPrintRuns(t *testing.T) {
	var buf bytes.Buffer
	printRuns(&buf, []storage.Run{
		{ID: "run-1", Query: "market", StartedAt: time.Now(), Status: "success", Cards: 2, Posts: 1},
	})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "ID"))
	assert.Contains(t, lines[1], "run-1")
	assert.Contains(t, lines[1], "success")
}
