// Package pipeline runs the card news workflow: search, analyze, render,
// publish and record.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/geongi-im/card-news-generator/metrics"
)

const (
	defaultRecencyWindow = 7 * 24 * time.Hour
	maxCarouselItems     = 10
)

// Post modes.
const (
	PostModeSingle   = "single"
	PostModeCarousel = "carousel"
	PostModeNone     = "none"
)

// Run statuses.
const (
	StatusSuccess = "success"
	StatusPartial = "partial"
	StatusFailed  = "failed"
)

// Stages at which an item can fail.
const (
	StageAnalyze = "analyze"
	StageRender  = "render"
)

// Settings keys written after each run.
const (
	SettingLastRunID  = "last_run_id"
	SettingLastPostID = "last_post_id"
)

// ErrNoPublisher is returned by Publish when publishing is not configured.
var ErrNoPublisher = errors.New("publishing is not configured")

// NewsItem is one search result.
type NewsItem struct {
	Title         string
	Content       string
	URL           string
	PublishedDate string
}

// Analysis is the LLM summary of an article.
type Analysis struct {
	Title   string
	Content string
	Hashtag string
}

// CardRequest is the copy handed to the renderer.
type CardRequest struct {
	Title   string
	Content string
	Hashtag string
	Number  int
}

// RenderedCard is a card image on disk.
type RenderedCard struct {
	Path     string
	Filename string
}

// PostResult describes a published Instagram post.
type PostResult struct {
	PostID      string
	ContainerID string
	ChildIDs    []string
	Carousel    bool
}

// StoredNews is the row persisted for each card.
type StoredNews struct {
	URL         string
	Title       string
	Content     string
	CardTitle   string
	CardContent string
	Hashtag     string
	ImagePath   string
	RunID       string
}

// NewsSearcher finds recent news.
type NewsSearcher interface {
	SearchNews(ctx context.Context, query string, count int) ([]NewsItem, error)
}

// ContentScraper extracts article text from a URL.
type ContentScraper interface {
	Scrape(ctx context.Context, url string) (string, error)
}

// Analyzer summarizes an article.
type Analyzer interface {
	Analyze(ctx context.Context, title, content string) (*Analysis, error)
}

// CardRenderer writes card images.
type CardRenderer interface {
	Render(card CardRequest) (*RenderedCard, error)
}

// Publisher posts images by public URL.
type Publisher interface {
	Post(ctx context.Context, imageURLs []string, caption string) (*PostResult, error)
}

// Storage provides persistence operations.
type Storage interface {
	StartRun(ctx context.Context, id, query string, startedAt time.Time) error
	FinishRun(ctx context.Context, id, status string, cards, posts int) error
	SaveNews(ctx context.Context, news *StoredNews) error
	MarkNewsPosted(ctx context.Context, urls []string, postID string) error
	GetRecentlyPostedURLs(ctx context.Context, within time.Duration) ([]string, error)
	SetSetting(ctx context.Context, key, value string) error
}

// Notifier reports finished runs to an operator.
type Notifier interface {
	NotifyRun(ctx context.Context, report *Report) error
}

// Runner orchestrates the card news workflow.
type Runner struct {
	searcher      NewsSearcher
	analyzer      Analyzer
	renderer      CardRenderer
	storage       Storage
	scraper       ContentScraper
	publisher     Publisher
	notifier      Notifier
	query         string
	count         int
	postMode      string
	imageBaseURL  string
	recencyWindow time.Duration
	now           func() time.Time
	newID         func() string
}

// Option configures a Runner.
type Option func(*Runner)

// WithScraper enables content enrichment with s.
func WithScraper(s ContentScraper) Option {
	return func(r *Runner) {
		r.scraper = s
	}
}

// WithPublisher sets the publisher used for the post mode.
func WithPublisher(p Publisher) Option {
	return func(r *Runner) {
		r.publisher = p
	}
}

// WithNotifier sets the operator notifier.
func WithNotifier(n Notifier) Option {
	return func(r *Runner) {
		r.notifier = n
	}
}

// WithQuery sets the search query.
func WithQuery(query string) Option {
	return func(r *Runner) {
		r.query = query
	}
}

// WithCount sets the number of search results requested.
func WithCount(count int) Option {
	return func(r *Runner) {
		r.count = count
	}
}

// WithPostMode sets how cards are published.
func WithPostMode(mode string) Option {
	return func(r *Runner) {
		r.postMode = mode
	}
}

// WithImageBaseURL sets the public URL rendered files are served under.
func WithImageBaseURL(base string) Option {
	return func(r *Runner) {
		r.imageBaseURL = base
	}
}

// WithRecencyWindow sets how long a posted URL is skipped for.
func WithRecencyWindow(d time.Duration) Option {
	return func(r *Runner) {
		r.recencyWindow = d
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		r.now = now
	}
}

// WithIDGenerator sets the run ID generator.
func WithIDGenerator(fn func() string) Option {
	return func(r *Runner) {
		r.newID = fn
	}
}

// NewRunner creates a new pipeline runner.
func NewRunner(
	searcher NewsSearcher,
	analyzer Analyzer,
	renderer CardRenderer,
	storage Storage,
	opts ...Option,
) *Runner {
	r := &Runner{
		searcher:      searcher,
		analyzer:      analyzer,
		renderer:      renderer,
		storage:       storage,
		query:         "증권가 빅뉴스 핫이슈",
		count:         2,
		postMode:      PostModeCarousel,
		recencyWindow: defaultRecencyWindow,
		now:           time.Now,
		newID:         uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes one pipeline run. Per-item failures are recorded in the
// report and do not stop the run; only a search failure returns an error.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	mode := r.postMode
	if r.publisher == nil {
		mode = PostModeNone
	}

	report := &Report{
		RunID:     r.newID(),
		Query:     r.query,
		PostMode:  mode,
		StartedAt: r.now(),
	}

	slog.Info("starting pipeline run", "run_id", report.RunID, "query", r.query, "count", r.count, "post_mode", mode)

	if err := r.storage.StartRun(ctx, report.RunID, r.query, report.StartedAt); err != nil {
		slog.Warn("failed to record run start", "run_id", report.RunID, "error", err)
	}

	// Step 1: Search
	items, err := r.searcher.SearchNews(ctx, r.query, r.count)
	if err != nil {
		report.SearchErr = err
		r.finish(ctx, report)
		return report, fmt.Errorf("search news: %w", err)
	}
	report.Found = len(items)
	slog.Info("searched news", "count", len(items))

	// Step 2: Dedupe within the run, then against recent posts
	items = DedupeByURL(items)
	items = r.filterRecent(ctx, items, report)

	if len(items) == 0 {
		slog.Info("no news to process")
		r.finish(ctx, report)
		return report, nil
	}

	// Step 3: Analyze and render each item in order
	for i, item := range items {
		outcome := r.processItem(ctx, i+1, item, report.RunID)
		report.Items = append(report.Items, outcome)
	}

	// Step 4: Publish
	if mode != PostModeNone {
		r.publishCards(ctx, report)
	}

	r.finish(ctx, report)
	return report, nil
}

// Publish posts imageURLs with caption using the configured publisher.
func (r *Runner) Publish(ctx context.Context, imageURLs []string, caption string) (*PostResult, error) {
	if r.publisher == nil {
		return nil, ErrNoPublisher
	}
	return r.publisher.Post(ctx, imageURLs, caption)
}

// ImageURL returns the public URL of a rendered card file.
func (r *Runner) ImageURL(filename string) string {
	return PublicURL(r.imageBaseURL, filename)
}

func (r *Runner) filterRecent(ctx context.Context, items []NewsItem, report *Report) []NewsItem {
	recent, err := r.storage.GetRecentlyPostedURLs(ctx, r.recencyWindow)
	if err != nil {
		slog.Warn("failed to get recently posted URLs", "error", err)
		return items
	}
	if len(recent) == 0 {
		return items
	}

	recentSet := make(map[string]bool, len(recent))
	for _, u := range recent {
		recentSet[u] = true
	}

	filtered := make([]NewsItem, 0, len(items))
	for _, item := range items {
		if recentSet[item.URL] {
			report.Skipped++
			continue
		}
		filtered = append(filtered, item)
	}
	slog.Info("filtered recently posted news", "before", len(items), "after", len(filtered))
	return filtered
}

func (r *Runner) processItem(ctx context.Context, number int, item NewsItem, runID string) ItemOutcome {
	outcome := ItemOutcome{Number: number, News: item}
	log := slog.With("number", number, "url", item.URL)

	content := item.Content
	if r.scraper != nil && item.URL != "" {
		scraped, err := r.scraper.Scrape(ctx, item.URL)
		if err != nil {
			log.Warn("scrape failed, using search snippet", "error", err)
		} else if utf8.RuneCountInString(scraped) > utf8.RuneCountInString(content) {
			content = scraped
		}
	}

	analysis, err := r.analyzer.Analyze(ctx, item.Title, content)
	if err != nil {
		log.Warn("failed to analyze news", "title", item.Title, "error", err)
		metrics.RecordAnalysisFailure()
		outcome.Stage = StageAnalyze
		outcome.Err = err
		return outcome
	}
	log.Info("analyzed news", "title", analysis.Title, "hashtag", analysis.Hashtag)

	rendered, err := r.renderer.Render(CardRequest{
		Title:   analysis.Title,
		Content: analysis.Content,
		Hashtag: analysis.Hashtag,
		Number:  number,
	})
	if err != nil {
		log.Warn("failed to render card", "error", err)
		outcome.Stage = StageRender
		outcome.Err = err
		return outcome
	}
	metrics.RecordCardRendered()

	outcome.Card = &Card{
		Number:   number,
		News:     item,
		Analysis: *analysis,
		Path:     rendered.Path,
		Filename: rendered.Filename,
		ImageURL: r.ImageURL(rendered.Filename),
	}

	if err := r.storage.SaveNews(ctx, &StoredNews{
		URL:         item.URL,
		Title:       item.Title,
		Content:     item.Content,
		CardTitle:   analysis.Title,
		CardContent: analysis.Content,
		Hashtag:     analysis.Hashtag,
		ImagePath:   rendered.Path,
		RunID:       runID,
	}); err != nil {
		log.Warn("failed to save news", "error", err)
	}

	return outcome
}

// publishCards posts the rendered cards according to the report's post mode.
func (r *Runner) publishCards(ctx context.Context, report *Report) {
	cards := report.Cards()
	if len(cards) == 0 {
		slog.Info("no cards to publish")
		return
	}

	var batches [][]*Card
	switch report.PostMode {
	case PostModeSingle:
		for _, c := range cards {
			batches = append(batches, []*Card{c})
		}
	default:
		batches = chunk(cards, maxCarouselItems)
	}

	for _, batch := range batches {
		outcome := r.publishBatch(ctx, batch)
		report.Posts = append(report.Posts, outcome)
	}
}

func (r *Runner) publishBatch(ctx context.Context, batch []*Card) PostOutcome {
	outcome := PostOutcome{}
	urls := make([]string, len(batch))
	newsURLs := make([]string, len(batch))
	analyses := make([]Analysis, len(batch))
	for i, c := range batch {
		outcome.Numbers = append(outcome.Numbers, c.Number)
		urls[i] = c.ImageURL
		newsURLs[i] = c.News.URL
		analyses[i] = c.Analysis
	}

	caption := CardCaption(analyses[0])
	if len(batch) > 1 {
		caption = CarouselCaption(analyses)
	}

	result, err := r.publisher.Post(ctx, urls, caption)
	if err != nil {
		slog.Error("failed to publish", "cards", outcome.Numbers, "error", err)
		outcome.Err = err
		return outcome
	}
	outcome.Result = result
	slog.Info("published", "post_id", result.PostID, "cards", outcome.Numbers, "carousel", result.Carousel)

	if err := r.storage.MarkNewsPosted(ctx, newsURLs, result.PostID); err != nil {
		slog.Warn("failed to mark news posted", "post_id", result.PostID, "error", err)
	}
	if err := r.storage.SetSetting(ctx, SettingLastPostID, result.PostID); err != nil {
		slog.Warn("failed to save last post id", "error", err)
	}
	return outcome
}

func (r *Runner) finish(ctx context.Context, report *Report) {
	report.FinishedAt = r.now()
	status := report.Status()

	if err := r.storage.FinishRun(ctx, report.RunID, status, len(report.Cards()), report.Published()); err != nil {
		slog.Warn("failed to record run finish", "run_id", report.RunID, "error", err)
	}
	if err := r.storage.SetSetting(ctx, SettingLastRunID, report.RunID); err != nil {
		slog.Warn("failed to save last run id", "error", err)
	}
	metrics.RecordRun(status)

	if r.notifier != nil {
		if err := r.notifier.NotifyRun(ctx, report); err != nil {
			slog.Warn("failed to notify run", "run_id", report.RunID, "error", err)
		}
	}

	slog.Info("pipeline run complete",
		"run_id", report.RunID,
		"status", status,
		"found", report.Found,
		"skipped", report.Skipped,
		"cards", len(report.Cards()),
		"failures", report.Failures(),
		"posts", report.Published(),
		"duration", report.FinishedAt.Sub(report.StartedAt),
	)
}

// DedupeByURL drops items whose URL was already seen, keeping the first.
func DedupeByURL(items []NewsItem) []NewsItem {
	seen := make(map[string]bool, len(items))
	unique := make([]NewsItem, 0, len(items))
	for _, item := range items {
		if seen[item.URL] {
			continue
		}
		seen[item.URL] = true
		unique = append(unique, item)
	}
	return unique
}

// PublicURL joins base and the path-escaped filename.
func PublicURL(base, filename string) string {
	return strings.TrimRight(base, "/") + "/" + url.PathEscape(filename)
}

// CardCaption builds the caption of a single card post.
func CardCaption(a Analysis) string {
	return joinSections(a.Title, a.Content, a.Hashtag)
}

// CarouselCaption joins each card's title and content, then appends the
// hashtags of all cards without repeats.
func CarouselCaption(analyses []Analysis) string {
	sections := make([]string, 0, len(analyses)+1)
	var tags []string
	for _, a := range analyses {
		sections = append(sections, joinSections(a.Title, a.Content))
		tags = append(tags, strings.Fields(a.Hashtag)...)
	}
	sections = append(sections, strings.Join(uniqueStrings(tags), " "))
	return joinSections(sections...)
}

func joinSections(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n\n")
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]bool, len(values))
	var out []string
	for _, v := range values {
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

func chunk(cards []*Card, size int) [][]*Card {
	var batches [][]*Card
	for len(cards) > size {
		batches = append(batches, cards[:size])
		cards = cards[size:]
	}
	if len(cards) > 0 {
		batches = append(batches, cards)
	}
	return batches
}
