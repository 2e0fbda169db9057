package main

import (
	"context"
	"time"

	"github.com/geongi-im/card-news-generator/analyzer"
	"github.com/geongi-im/card-news-generator/cardnews"
	"github.com/geongi-im/card-news-generator/instagram"
	"github.com/geongi-im/card-news-generator/pipeline"
	"github.com/geongi-im/card-news-generator/scraper"
	"github.com/geongi-im/card-news-generator/server"
	"github.com/geongi-im/card-news-generator/storage"
	"github.com/geongi-im/card-news-generator/tavily"
)

// Adapter types to bridge between the concrete clients and the pipeline interfaces

type tavilyAdapter struct {
	client *tavily.Client
	days   int
	depth  string
}

func (t *tavilyAdapter) SearchNews(ctx context.Context, query string, count int) ([]pipeline.NewsItem, error) {
	results, err := t.client.SearchNews(ctx, query, tavily.SearchOptions{
		MaxResults: count,
		Days:       t.days,
		Depth:      t.depth,
	})
	if err != nil {
		return nil, err
	}
	items := make([]pipeline.NewsItem, len(results))
	for i, r := range results {
		items[i] = pipeline.NewsItem{
			Title:         r.Title,
			Content:       r.Content,
			URL:           r.URL,
			PublishedDate: r.PublishedDate,
		}
	}
	return items, nil
}

type scraperAdapter struct {
	scraper *scraper.Scraper
}

func (s *scraperAdapter) Scrape(ctx context.Context, url string) (string, error) {
	return s.scraper.Scrape(ctx, url)
}

type analyzerAdapter struct {
	analyzer *analyzer.Analyzer
}

func (a *analyzerAdapter) Analyze(ctx context.Context, title, content string) (*pipeline.Analysis, error) {
	result, err := a.analyzer.Analyze(ctx, title, content)
	if err != nil {
		return nil, err
	}
	return &pipeline.Analysis{
		Title:   result.Title,
		Content: result.Content,
		Hashtag: result.Hashtag,
	}, nil
}

type rendererAdapter struct {
	renderer *cardnews.Renderer
}

func (r *rendererAdapter) Render(card pipeline.CardRequest) (*pipeline.RenderedCard, error) {
	rendered, err := r.renderer.Render(cardnews.Card{
		Title:   card.Title,
		Content: card.Content,
		Hashtag: card.Hashtag,
		Number:  card.Number,
	})
	if err != nil {
		return nil, err
	}
	return &pipeline.RenderedCard{
		Path:     rendered.Path,
		Filename: rendered.Filename,
	}, nil
}

type publisherAdapter struct {
	client *instagram.Client
}

func (p *publisherAdapter) Post(ctx context.Context, imageURLs []string, caption string) (*pipeline.PostResult, error) {
	result, err := p.client.Post(ctx, imageURLs, caption)
	if err != nil {
		return nil, err
	}
	return &pipeline.PostResult{
		PostID:      result.PostID,
		ContainerID: result.ContainerID,
		ChildIDs:    result.ChildIDs,
		Carousel:    result.Carousel,
	}, nil
}

type storageAdapter struct {
	db *storage.DB
}

func (s *storageAdapter) StartRun(ctx context.Context, id, query string, startedAt time.Time) error {
	return s.db.StartRun(ctx, id, query, startedAt)
}

func (s *storageAdapter) FinishRun(ctx context.Context, id, status string, cards, posts int) error {
	return s.db.FinishRun(ctx, id, status, cards, posts)
}

func (s *storageAdapter) SaveNews(ctx context.Context, news *pipeline.StoredNews) error {
	return s.db.SaveNews(ctx, &storage.News{
		URL:         news.URL,
		Title:       news.Title,
		Content:     news.Content,
		CardTitle:   news.CardTitle,
		CardContent: news.CardContent,
		Hashtag:     news.Hashtag,
		ImagePath:   news.ImagePath,
		RunID:       news.RunID,
	})
}

func (s *storageAdapter) MarkNewsPosted(ctx context.Context, urls []string, postID string) error {
	return s.db.MarkNewsPosted(ctx, urls, postID)
}

func (s *storageAdapter) GetRecentlyPostedURLs(ctx context.Context, within time.Duration) ([]string, error) {
	return s.db.GetRecentlyPostedURLs(ctx, within)
}

func (s *storageAdapter) SetSetting(ctx context.Context, key, value string) error {
	return s.db.SetSetting(ctx, key, value)
}

type runListerAdapter struct {
	db *storage.DB
}

func (r *runListerAdapter) ListRuns(ctx context.Context, limit int) ([]server.RunSummary, error) {
	runs, err := r.db.ListRuns(ctx, limit)
	if err != nil {
		return nil, err
	}
	summaries := make([]server.RunSummary, len(runs))
	for i, run := range runs {
		summaries[i] = server.RunSummary{
			ID:         run.ID,
			Query:      run.Query,
			Status:     run.Status,
			Cards:      run.Cards,
			Posts:      run.Posts,
			StartedAt:  run.StartedAt,
			FinishedAt: run.FinishedAt,
		}
	}
	return summaries, nil
}
