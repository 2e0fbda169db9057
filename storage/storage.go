package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a record is not found.
var ErrNotFound = errors.New("not found")

// Run statuses.
const (
	RunStatusRunning = "running"
	RunStatusSuccess = "success"
	RunStatusPartial = "partial"
	RunStatusFailed  = "failed"
)

// Run is one execution of the pipeline.
type Run struct {
	ID         string
	Query      string
	StartedAt  time.Time
	FinishedAt *time.Time
	Status     string
	Cards      int
	Posts      int
}

// News is a searched article together with the card made from it.
type News struct {
	URL         string
	Title       string
	Content     string
	CardTitle   string
	CardContent string
	Hashtag     string
	ImagePath   string
	RunID       string
	PostID      *string
	PostedAt    *time.Time
	CreatedAt   time.Time
}

// DB wraps the SQLite database connection and provides storage operations.
type DB struct {
	conn *sql.DB
}

// NewDB creates a new database connection and initializes the schema.
func NewDB(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		query TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		finished_at DATETIME,
		status TEXT NOT NULL,
		cards INTEGER NOT NULL DEFAULT 0,
		posts INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);

	CREATE TABLE IF NOT EXISTS news (
		url TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		card_title TEXT NOT NULL DEFAULT '',
		card_content TEXT NOT NULL DEFAULT '',
		hashtag TEXT NOT NULL DEFAULT '',
		image_path TEXT NOT NULL DEFAULT '',
		run_id TEXT NOT NULL DEFAULT '',
		post_id TEXT,
		posted_at DATETIME,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_news_posted_at ON news(posted_at);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`

	_, err := db.conn.Exec(schema)
	return err
}

// StartRun records a run in the running state.
func (db *DB) StartRun(ctx context.Context, id, query string, startedAt time.Time) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO runs (id, query, started_at, status) VALUES (?, ?, ?, ?)`,
		id, query, startedAt.UTC(), RunStatusRunning,
	)
	return err
}

// FinishRun closes a run with its final status and counts.
func (db *DB) FinishRun(ctx context.Context, id, status string, cards, posts int) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, status = ?, cards = ?, posts = ? WHERE id = ?`,
		time.Now().UTC(), status, cards, posts, id,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListRuns returns the most recent runs, newest first.
func (db *DB) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	query := `
	SELECT id, query, started_at, finished_at, status, cards, posts
	FROM runs ORDER BY started_at DESC LIMIT ?
	`
	rows, err := db.conn.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var finishedAt sql.NullTime
		if err := rows.Scan(&r.ID, &r.Query, &r.StartedAt, &finishedAt, &r.Status, &r.Cards, &r.Posts); err != nil {
			return nil, err
		}
		if finishedAt.Valid {
			r.FinishedAt = &finishedAt.Time
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// SaveNews inserts or updates a news row keyed by URL. A post already
// recorded for the URL is kept.
func (db *DB) SaveNews(ctx context.Context, n *News) error {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}

	query := `
	INSERT INTO news (url, title, content, card_title, card_content, hashtag, image_path, run_id, post_id, posted_at, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(url) DO UPDATE SET
		title = excluded.title,
		content = excluded.content,
		card_title = excluded.card_title,
		card_content = excluded.card_content,
		hashtag = excluded.hashtag,
		image_path = excluded.image_path,
		run_id = excluded.run_id,
		post_id = COALESCE(excluded.post_id, news.post_id),
		posted_at = COALESCE(excluded.posted_at, news.posted_at)
	`

	var postedAt any
	if n.PostedAt != nil {
		postedAt = n.PostedAt.UTC()
	}

	_, err := db.conn.ExecContext(ctx, query,
		n.URL,
		n.Title,
		n.Content,
		n.CardTitle,
		n.CardContent,
		n.Hashtag,
		n.ImagePath,
		n.RunID,
		n.PostID,
		postedAt,
		n.CreatedAt.UTC(),
	)
	return err
}

// GetNews retrieves a news row by URL.
func (db *DB) GetNews(ctx context.Context, url string) (*News, error) {
	query := `
	SELECT url, title, content, card_title, card_content, hashtag, image_path, run_id, post_id, posted_at, created_at
	FROM news WHERE url = ?
	`

	n := &News{}
	var postID sql.NullString
	var postedAt sql.NullTime

	err := db.conn.QueryRowContext(ctx, query, url).Scan(
		&n.URL,
		&n.Title,
		&n.Content,
		&n.CardTitle,
		&n.CardContent,
		&n.Hashtag,
		&n.ImagePath,
		&n.RunID,
		&postID,
		&postedAt,
		&n.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if postID.Valid {
		n.PostID = &postID.String
	}
	if postedAt.Valid {
		n.PostedAt = &postedAt.Time
	}
	return n, nil
}

// MarkNewsPosted records that the cards for urls went out in postID.
func (db *DB) MarkNewsPosted(ctx context.Context, urls []string, postID string) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, url := range urls {
		if _, err := tx.ExecContext(ctx,
			`UPDATE news SET post_id = ?, posted_at = ? WHERE url = ?`,
			postID, now, url,
		); err != nil {
			return fmt.Errorf("mark %s: %w", url, err)
		}
	}
	return tx.Commit()
}

// GetRecentlyPostedURLs returns URLs of news posted within the given duration.
func (db *DB) GetRecentlyPostedURLs(ctx context.Context, within time.Duration) ([]string, error) {
	cutoff := time.Now().UTC().Add(-within)
	query := `SELECT url FROM news WHERE posted_at > ?`

	rows, err := db.conn.QueryContext(ctx, query, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var urls []string
	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			return nil, err
		}
		urls = append(urls, url)
	}
	return urls, rows.Err()
}

// GetSetting retrieves a setting value by key.
func (db *DB) GetSetting(ctx context.Context, key string) (string, error) {
	query := `SELECT value FROM settings WHERE key = ?`
	var value string
	err := db.conn.QueryRowContext(ctx, query, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return value, err
}

// SetSetting stores or updates a setting.
func (db *DB) SetSetting(ctx context.Context, key, value string) error {
	query := `
	INSERT INTO settings (key, value) VALUES (?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`
	_, err := db.conn.ExecContext(ctx, query, key, value)
	return err
}
