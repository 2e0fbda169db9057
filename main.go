package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/alecthomas/kong"

	"github.com/geongi-im/card-news-generator/config"
	"github.com/geongi-im/card-news-generator/logging"
	"github.com/geongi-im/card-news-generator/pipeline"
	"github.com/geongi-im/card-news-generator/scheduler"
	"github.com/geongi-im/card-news-generator/server"
	"github.com/geongi-im/card-news-generator/storage"
)

// CLI is the command line of the card news generator.
type CLI struct {
	Config  string `short:"c" help:"Configuration file path" default:"${config_path}"`
	Verbose bool   `short:"v" help:"Enable debug logging"`

	Run     RunCmd     `cmd:"" help:"Search, summarize, render and publish once"`
	Render  RenderCmd  `cmd:"" help:"Render a single card from the given text"`
	Publish PublishCmd `cmd:"" help:"Publish already rendered cards to Instagram"`
	Runs    RunsCmd    `cmd:"" help:"List recent pipeline runs"`
	Serve   ServeCmd   `cmd:"" help:"Run on the daily schedule and serve cards over HTTP"`
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("cardnews"),
		kong.Description("Generate card news images from the day's market news and post them to Instagram."),
		kong.UsageOnError(),
		kong.Vars{"config_path": config.GetConfigPath()},
	)
	if err := ctx.Run(&cli); err != nil {
		slog.Error("command failed", "command", ctx.Command(), "error", err)
		os.Exit(1)
	}
}

// setup loads the configuration and installs the logger.
func (c *CLI) setup() (*config.Config, io.Closer, error) {
	cfg, err := config.Load(c.Config)
	if err != nil {
		return nil, nil, fmt.Errorf("load config %s: %w", c.Config, err)
	}

	level := cfg.LogLevel
	if c.Verbose {
		level = "debug"
	}
	closer, err := logging.Setup(logging.Options{Level: level, File: cfg.LogFile})
	if err != nil {
		return nil, nil, fmt.Errorf("setup logging: %w", err)
	}
	slog.Debug("config loaded", "path", c.Config)
	return cfg, closer, nil
}

// RunCmd runs the pipeline once.
type RunCmd struct {
	NoPublish bool   `help:"Render cards without posting them"`
	Query     string `help:"Override the search query"`
	Count     int    `help:"Override the number of news items"`
}

func (r *RunCmd) Run(root *CLI) error {
	cfg, closer, err := root.setup()
	if err != nil {
		return err
	}
	defer closer.Close()

	if r.Query != "" {
		cfg.Query = r.Query
	}
	if r.Count > 0 {
		cfg.MaxResults = r.Count
	}
	if r.NoPublish {
		cfg.PostMode = config.PostModeNone
	}

	app, err := newApp(cfg, cfg.PostMode != config.PostModeNone)
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	report, err := app.runner.Run(ctx)
	if err != nil {
		return err
	}
	printReport(os.Stdout, report)
	if report.Status() == pipeline.StatusFailed && len(report.Items) > 0 {
		return fmt.Errorf("run %s failed", report.RunID)
	}
	return nil
}

// RenderCmd renders one card without searching or summarizing.
type RenderCmd struct {
	Title   string `required:"" help:"Card headline"`
	Content string `required:"" help:"Summary text"`
	Hashtag string `help:"Hashtags shown in the pill"`
	Number  int    `default:"1" help:"Card number used in the file name"`
}

func (r *RenderCmd) Run(root *CLI) error {
	cfg, closer, err := root.setup()
	if err != nil {
		return err
	}
	defer closer.Close()

	renderer, err := newRenderer(cfg)
	if err != nil {
		return err
	}
	card, err := renderer.Render(pipeline.CardRequest{
		Title:   r.Title,
		Content: r.Content,
		Hashtag: r.Hashtag,
		Number:  r.Number,
	})
	if err != nil {
		return err
	}
	fmt.Println(card.Path)
	return nil
}

// PublishCmd posts images that are already reachable by URL. Bare file
// names are resolved against image_base_url.
type PublishCmd struct {
	Caption string   `help:"Post caption"`
	Images  []string `arg:"" name:"image" help:"Image URLs or card file names"`
}

func (p *PublishCmd) Run(root *CLI) error {
	cfg, closer, err := root.setup()
	if err != nil {
		return err
	}
	defer closer.Close()

	urls := make([]string, len(p.Images))
	for i, image := range p.Images {
		urls[i] = resolveImageURL(cfg.ImageBaseURL, image)
		if !isAbsoluteURL(urls[i]) {
			return fmt.Errorf("image %q is not a URL and image_base_url is not set", image)
		}
	}
	if cfg.InstagramAccessToken == "" || cfg.InstagramAccountID == "" {
		return errors.New("instagram_access_token and instagram_account_id are required")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	result, err := newPublisher(cfg).Post(ctx, urls, p.Caption)
	if err != nil {
		return err
	}
	fmt.Printf("published %s (container %s, carousel=%t)\n", result.PostID, result.ContainerID, result.Carousel)
	return nil
}

// RunsCmd prints the run history.
type RunsCmd struct {
	Limit int `default:"10" help:"Number of runs to show"`
}

func (r *RunsCmd) Run(root *CLI) error {
	cfg, closer, err := root.setup()
	if err != nil {
		return err
	}
	defer closer.Close()

	db, err := storage.NewDB(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	runs, err := db.ListRuns(context.Background(), r.Limit)
	if err != nil {
		return err
	}
	printRuns(os.Stdout, runs)
	return nil
}

// ServeCmd runs the daemon: the HTTP server plus the daily schedule.
type ServeCmd struct{}

func (s *ServeCmd) Run(root *CLI) error {
	cfg, closer, err := root.setup()
	if err != nil {
		return err
	}
	defer closer.Close()

	slog.Info("starting card news daemon", "post_mode", cfg.PostMode, "listen", cfg.ListenAddr)

	app, err := newApp(cfg, cfg.PostMode != config.PostModeNone)
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sched, err := scheduler.NewScheduler(cfg.Timezone)
	if err != nil {
		return err
	}
	if err := sched.Schedule(cfg.PublishTimes, func() {
		if _, err := app.runner.Run(ctx); err != nil {
			slog.Error("scheduled run failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule runs: %w", err)
	}
	sched.Start()
	defer sched.Stop()
	slog.Info("runs scheduled", "times", cfg.PublishTimes, "timezone", cfg.Timezone, "next", sched.Next())

	srv := server.New(cfg.OutputDir, server.WithRunLister(&runListerAdapter{app.db}))
	if err := srv.Run(ctx, cfg.ListenAddr); err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	slog.Info("daemon stopped")
	return nil
}

func resolveImageURL(base, image string) string {
	if isAbsoluteURL(image) || base == "" {
		return image
	}
	return pipeline.PublicURL(base, image)
}

func isAbsoluteURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func printReport(w io.Writer, report *pipeline.Report) {
	fmt.Fprintf(w, "run %s: %s\n", report.RunID, report.Status())
	for _, card := range report.Cards() {
		fmt.Fprintf(w, "  card %d: %s\n", card.Number, card.Path)
	}
	for _, item := range report.Items {
		if item.Err != nil {
			fmt.Fprintf(w, "  card %d failed at %s: %v\n", item.Number, item.Stage, item.Err)
		}
	}
	for _, post := range report.Posts {
		if post.Err != nil {
			fmt.Fprintf(w, "  post %v failed: %v\n", post.Numbers, post.Err)
			continue
		}
		fmt.Fprintf(w, "  post %v: %s\n", post.Numbers, post.Result.PostID)
	}
}

func printRuns(w io.Writer, runs []storage.Run) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tSTATUS\tCARDS\tPOSTS\tQUERY")
	for _, run := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\n",
			run.ID,
			run.StartedAt.Local().Format(time.DateTime),
			run.Status,
			run.Cards,
			run.Posts,
			run.Query,
		)
	}
	tw.Flush()
}
