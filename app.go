package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/geongi-im/card-news-generator/analyzer"
	"github.com/geongi-im/card-news-generator/cardnews"
	"github.com/geongi-im/card-news-generator/config"
	"github.com/geongi-im/card-news-generator/instagram"
	"github.com/geongi-im/card-news-generator/notify"
	"github.com/geongi-im/card-news-generator/pipeline"
	"github.com/geongi-im/card-news-generator/scraper"
	"github.com/geongi-im/card-news-generator/storage"
	"github.com/geongi-im/card-news-generator/tavily"
)

// App holds the components shared by the run and serve commands.
type App struct {
	db     *storage.DB
	runner *pipeline.Runner
}

// newApp wires the pipeline from cfg. Publishing credentials are only
// required when publish is set.
func newApp(cfg *config.Config, publish bool) (*App, error) {
	if err := cfg.RequireSearch(); err != nil {
		return nil, err
	}
	if err := cfg.RequireAnalysis(); err != nil {
		return nil, err
	}
	if publish {
		if err := cfg.RequirePublishing(); err != nil {
			return nil, err
		}
	}

	renderer, err := newRenderer(cfg)
	if err != nil {
		return nil, err
	}

	db, err := storage.NewDB(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", cfg.DBPath, err)
	}
	slog.Info("database initialized", "path", cfg.DBPath)

	timeout := time.Duration(cfg.FetchTimeoutSecs) * time.Second
	searcher := &tavilyAdapter{
		client: tavily.NewClient(cfg.TavilyAPIKey, tavily.WithTimeout(timeout)),
		days:   cfg.SearchDays,
		depth:  cfg.SearchDepth,
	}
	summarizer := &analyzerAdapter{analyzer.NewAnalyzer(
		cfg.GeminiAPIKey,
		analyzer.WithModel(cfg.GeminiModel),
		analyzer.WithTemperature(cfg.GeminiTemperature),
		analyzer.WithTimeout(timeout),
	)}

	opts := []pipeline.Option{
		pipeline.WithQuery(cfg.Query),
		pipeline.WithCount(cfg.MaxResults),
		pipeline.WithPostMode(cfg.PostMode),
		pipeline.WithImageBaseURL(cfg.ImageBaseURL),
		pipeline.WithRecencyWindow(cfg.RecencyWindow),
	}
	if cfg.EnrichContent {
		opts = append(opts, pipeline.WithScraper(&scraperAdapter{scraper.NewScraper(scraper.WithTimeout(timeout))}))
	}
	if publish {
		opts = append(opts, pipeline.WithPublisher(newPublisher(cfg)))
	}
	if cfg.NotifyEnabled() {
		sender, err := notify.NewTelegramSender(cfg.TelegramToken)
		if err != nil {
			slog.Warn("telegram notifications disabled", "error", err)
		} else {
			opts = append(opts, pipeline.WithNotifier(notify.NewNotifier(sender, cfg.TelegramChatID)))
		}
	}

	runner := pipeline.NewRunner(searcher, summarizer, renderer, &storageAdapter{db}, opts...)
	return &App{db: db, runner: runner}, nil
}

// Close releases the database.
func (a *App) Close() error {
	return a.db.Close()
}

func newRenderer(cfg *config.Config) (*rendererAdapter, error) {
	layout, err := layoutFromConfig(cfg.Layout)
	if err != nil {
		return nil, err
	}
	r, err := cardnews.NewRenderer(
		cfg.BackgroundPath,
		cfg.FontPath,
		cardnews.WithOutputDir(cfg.OutputDir),
		cardnews.WithLayout(layout),
	)
	if err != nil {
		return nil, fmt.Errorf("create renderer: %w", err)
	}
	return &rendererAdapter{r}, nil
}

func newPublisher(cfg *config.Config) *publisherAdapter {
	return &publisherAdapter{instagram.NewClient(
		cfg.InstagramAccessToken,
		cfg.InstagramAccountID,
		instagram.WithAPIVersion(cfg.GraphAPIVersion),
		instagram.WithTimeout(time.Duration(cfg.FetchTimeoutSecs)*time.Second),
		instagram.WithProbe(cfg.ProbeRetries, cfg.ProbeDelay),
	)}
}

// layoutFromConfig converts the YAML layout, whose colours are #RRGGBB
// strings, to the renderer's layout.
func layoutFromConfig(l config.Layout) (cardnews.Layout, error) {
	boxColor, err := cardnews.ParseHexColor(l.BoxColor)
	if err != nil {
		return cardnews.Layout{}, fmt.Errorf("layout.box_color: %w", err)
	}
	sourceColor, err := cardnews.ParseHexColor(l.SourceColor)
	if err != nil {
		return cardnews.Layout{}, fmt.Errorf("layout.source_color: %w", err)
	}
	return cardnews.Layout{
		MarginX:         l.MarginX,
		TitleSize:       l.TitleSize,
		TitleMinSize:    l.TitleMinSize,
		TitleMaxLines:   l.TitleMaxLines,
		TitleY:          l.TitleY,
		TitleLineGap:    l.TitleLineGap,
		ContentSize:     l.ContentSize,
		ContentY:        l.ContentY,
		ContentLineGap:  l.ContentLineGap,
		BoxPaddingX:     l.BoxPaddingX,
		BoxPaddingY:     l.BoxPaddingY,
		BoxRadius:       l.BoxRadius,
		HashtagSize:     l.HashtagSize,
		HashtagY:        l.HashtagY,
		HashtagPaddingX: l.HashtagPaddingX,
		HashtagPaddingY: l.HashtagPaddingY,
		HashtagRadius:   l.HashtagRadius,
		BoxColor:        boxColor,
		SourceText:      l.SourceText,
		SourceSize:      l.SourceSize,
		SourceX:         l.SourceX,
		SourceY:         l.SourceY,
		SourceColor:     sourceColor,
	}, nil
}
