// Package db handles database connectivity, migrations, and the durable
// store backing the federation engine's providers and queue. It supports
// both SQLite (default, no external dependencies) and PostgreSQL (for
// larger deployments), following the dual-driver idiom the teacher bridge
// used for its own store.
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/klppl/fedblog/internal/engine"
)

// Store wraps a database connection and implements engine.ArticleProvider,
// engine.UserProvider, and engine.Queue against a single schema. The engine
// package never imports this one — only the interfaces it satisfies.
type Store struct {
	db     *sql.DB
	driver string
}

// Open opens a database connection. The URL can be:
//   - A file path like "fedblog.db" → SQLite
//   - "sqlite:///path/to/file.db" → SQLite
//   - "postgres://..." → PostgreSQL
func Open(databaseURL string) (*Store, error) {
	driver, dsn := detectDriver(databaseURL)

	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if driver == "sqlite" {
		// WAL mode allows concurrent readers alongside the single writer;
		// busy_timeout makes writer contention retry instead of surfacing
		// SQLITE_BUSY to callers.
		const sqliteMaxConns = 4
		conn.SetMaxOpenConns(sqliteMaxConns)
		conn.SetMaxIdleConns(sqliteMaxConns)
		for _, pragma := range []string{
			"PRAGMA journal_mode=WAL",
			"PRAGMA busy_timeout=5000",
			"PRAGMA foreign_keys=ON",
			"PRAGMA synchronous=NORMAL",
		} {
			if _, err := conn.Exec(pragma); err != nil {
				return nil, fmt.Errorf("sqlite pragma (%s): %w", pragma, err)
			}
		}
	}

	return &Store{db: conn, driver: driver}, nil
}

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

// commonMigrations lists DDL statements shared between SQLite and PostgreSQL.
var commonMigrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		username        TEXT NOT NULL PRIMARY KEY,
		display_name    TEXT NOT NULL DEFAULT '',
		summary         TEXT NOT NULL DEFAULT '',
		public_key_pem  TEXT NOT NULL DEFAULT '',
		html            TEXT NOT NULL DEFAULT '',
		ap_json         TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS articles (
		slug            TEXT NOT NULL PRIMARY KEY,
		author_username TEXT NOT NULL,
		html            TEXT NOT NULL DEFAULT '',
		ap_json         TEXT NOT NULL DEFAULT '',
		deleted         INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS articles_author ON articles(author_username)`,
	`CREATE TABLE IF NOT EXISTS comments (
		id          TEXT NOT NULL,
		slug        TEXT NOT NULL,
		author_id   TEXT NOT NULL,
		created_at  TEXT NOT NULL DEFAULT '',
		proceed_at  TEXT NOT NULL DEFAULT '',
		content     TEXT NOT NULL DEFAULT '',
		raw         TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (slug, id)
	)`,
	`CREATE INDEX IF NOT EXISTS comments_slug_proceed ON comments(slug, proceed_at)`,
	`CREATE TABLE IF NOT EXISTS comment_counts (
		slug  TEXT NOT NULL PRIMARY KEY,
		count INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS reactions (
		slug       TEXT NOT NULL,
		actor_id   TEXT NOT NULL,
		event_id   TEXT NOT NULL,
		reaction   TEXT NOT NULL DEFAULT '',
		raw        TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (slug, actor_id)
	)`,
	`CREATE TABLE IF NOT EXISTS reaction_counts (
		slug  TEXT NOT NULL PRIMARY KEY,
		count INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS followers (
		username          TEXT NOT NULL,
		follower_actor_id TEXT NOT NULL,
		inbox_url         TEXT NOT NULL,
		event_id          TEXT NOT NULL,
		PRIMARY KEY (username, event_id)
	)`,
	`CREATE INDEX IF NOT EXISTS followers_by_actor ON followers(username, follower_actor_id)`,
	`CREATE INDEX IF NOT EXISTS followers_by_inbox ON followers(username, inbox_url)`,
	`CREATE TABLE IF NOT EXISTS queue_jobs (
		id           TEXT NOT NULL PRIMARY KEY,
		payload      TEXT NOT NULL,
		status       TEXT NOT NULL DEFAULT 'pending',
		created_at   TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS queue_jobs_status ON queue_jobs(status, created_at)`,
}

// Migrate runs all pending database migrations.
func (s *Store) Migrate() error {
	for _, m := range commonMigrations {
		if _, err := s.db.Exec(m); err != nil {
			if s.driver == "postgres" && strings.Contains(err.Error(), "already exists") {
				continue
			}
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	slog.Info("migrations complete")
	return nil
}

// ph returns the nth SQL placeholder token for this driver: SQLite uses
// "?" throughout, PostgreSQL uses "$1", "$2", ...
func (s *Store) ph(n int) string {
	if s.driver == "postgres" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func detectDriver(u string) (driver, dsn string) {
	if strings.HasPrefix(u, "postgres://") || strings.HasPrefix(u, "postgresql://") {
		return "postgres", u
	}
	if strings.HasPrefix(u, "sqlite://") {
		return "sqlite", strings.TrimPrefix(u, "sqlite://")
	}
	return "sqlite", u
}

// ─── ArticleProvider ─────────────────────────────────────────────────────────

func (s *Store) ExistsArticle(ctx context.Context, slug string) (bool, error) {
	var n int
	q := `SELECT COUNT(*) FROM articles WHERE slug = ` + s.ph(1) + ` AND deleted = 0`
	if err := s.db.QueryRowContext(ctx, q, slug).Scan(&n); err != nil {
		return false, fmt.Errorf("db: exists article %s: %w", slug, err)
	}
	return n > 0, nil
}

// GetTombstoneAuthor resolves an article's author even after it has been
// marked deleted, for the delete-events route (SPEC_FULL §12).
func (s *Store) GetTombstoneAuthor(ctx context.Context, slug string) (string, error) {
	var author string
	q := `SELECT author_username FROM articles WHERE slug = ` + s.ph(1)
	if err := s.db.QueryRowContext(ctx, q, slug).Scan(&author); err != nil {
		return "", fmt.Errorf("db: tombstone author %s: %w", slug, err)
	}
	return author, nil
}

func (s *Store) GetAuthorID(ctx context.Context, slug string) (string, error) {
	var author string
	q := `SELECT author_username FROM articles WHERE slug = ` + s.ph(1) + ` AND deleted = 0`
	if err := s.db.QueryRowContext(ctx, q, slug).Scan(&author); err != nil {
		return "", fmt.Errorf("db: author of %s: %w", slug, err)
	}
	return author, nil
}

func (s *Store) GetArticleHTML(ctx context.Context, slug string) (string, error) {
	return s.articleField(ctx, slug, "html")
}

func (s *Store) GetArticleAP(ctx context.Context, slug string) (string, error) {
	return s.articleField(ctx, slug, "ap_json")
}

func (s *Store) articleField(ctx context.Context, slug, column string) (string, error) {
	var v string
	q := `SELECT ` + column + ` FROM articles WHERE slug = ` + s.ph(1) + ` AND deleted = 0`
	if err := s.db.QueryRowContext(ctx, q, slug).Scan(&v); err != nil {
		return "", fmt.Errorf("db: %s of %s: %w", column, slug, err)
	}
	return v, nil
}

func (s *Store) AddComment(ctx context.Context, slug string, c engine.Comment) error {
	q := fmt.Sprintf(
		`INSERT INTO comments (id, slug, author_id, created_at, proceed_at, content, raw) VALUES (%s,%s,%s,%s,%s,%s,%s)`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6), s.ph(7),
	)
	if _, err := s.db.ExecContext(ctx, q, c.ID, slug, c.AuthorID, c.CreatedAt, time.Now().UTC().Format("2006-01-02T15:04:05.000000000Z07:00"), c.Content, string(c.Raw)); err != nil {
		return fmt.Errorf("db: add comment on %s: %w", slug, err)
	}
	return s.bumpCount(ctx, "comment_counts", slug, 1)
}

func (s *Store) AddReaction(ctx context.Context, slug string, r engine.Reaction) error {
	// A second reaction by the same actor replaces the first (invariant 2);
	// only bump the count when the row is newly inserted.
	existed, err := s.hasReaction(ctx, slug, r.AuthorID)
	if err != nil {
		return err
	}
	var q string
	if s.driver == "sqlite" {
		q = `INSERT INTO reactions (slug, actor_id, event_id, reaction, raw) VALUES (?,?,?,?,?)
		     ON CONFLICT(slug, actor_id) DO UPDATE SET event_id=excluded.event_id, reaction=excluded.reaction, raw=excluded.raw`
	} else {
		q = `INSERT INTO reactions (slug, actor_id, event_id, reaction, raw) VALUES ($1,$2,$3,$4,$5)
		     ON CONFLICT(slug, actor_id) DO UPDATE SET event_id=EXCLUDED.event_id, reaction=EXCLUDED.reaction, raw=EXCLUDED.raw`
	}
	if _, err := s.db.ExecContext(ctx, q, slug, r.AuthorID, r.ID, r.Reaction, string(r.Raw)); err != nil {
		return fmt.Errorf("db: add reaction on %s: %w", slug, err)
	}
	if existed {
		return nil
	}
	return s.bumpCount(ctx, "reaction_counts", slug, 1)
}

func (s *Store) hasReaction(ctx context.Context, slug, actorID string) (bool, error) {
	var n int
	q := `SELECT COUNT(*) FROM reactions WHERE slug = ` + s.ph(1) + ` AND actor_id = ` + s.ph(2)
	if err := s.db.QueryRowContext(ctx, q, slug, actorID).Scan(&n); err != nil {
		return false, fmt.Errorf("db: check reaction: %w", err)
	}
	return n > 0, nil
}

func (s *Store) RemoveReactionBy(ctx context.Context, slug, actorID string) error {
	q := `DELETE FROM reactions WHERE slug = ` + s.ph(1) + ` AND actor_id = ` + s.ph(2)
	res, err := s.db.ExecContext(ctx, q, slug, actorID)
	if err != nil {
		return fmt.Errorf("db: remove reaction on %s: %w", slug, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		// Idempotent: a repeat Undo leaves the count unchanged (invariant 1).
		return nil
	}
	return s.bumpCount(ctx, "reaction_counts", slug, -1)
}

func (s *Store) CommentCount(ctx context.Context, slug string) (int, error) {
	return s.readCount(ctx, "comment_counts", slug)
}

func (s *Store) ReactionCount(ctx context.Context, slug string) (int, error) {
	return s.readCount(ctx, "reaction_counts", slug)
}

func (s *Store) readCount(ctx context.Context, table, slug string) (int, error) {
	var n int
	q := `SELECT count FROM ` + table + ` WHERE slug = ` + s.ph(1)
	err := s.db.QueryRowContext(ctx, q, slug).Scan(&n)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("db: read count from %s: %w", table, err)
	}
	return n, nil
}

// bumpCount adds delta to table's count row for slug, saturating at zero
// (invariant 1: counts are never negative).
func (s *Store) bumpCount(ctx context.Context, table, slug string, delta int) error {
	var q string
	if s.driver == "sqlite" {
		q = fmt.Sprintf(`INSERT INTO %s (slug, count) VALUES (?, ?)
		     ON CONFLICT(slug) DO UPDATE SET count = MAX(0, count + ?)`, table)
	} else {
		q = fmt.Sprintf(`INSERT INTO %s (slug, count) VALUES ($1, $2)
		     ON CONFLICT(slug) DO UPDATE SET count = GREATEST(0, %s.count + $3)`, table, table)
	}
	initial := delta
	if initial < 0 {
		initial = 0
	}
	if _, err := s.db.ExecContext(ctx, q, slug, initial, delta); err != nil {
		return fmt.Errorf("db: bump %s for %s: %w", table, slug, err)
	}
	return nil
}

// PublicComment is one row of the paginated public comments feed
// (SPEC_FULL §12).
type PublicComment struct {
	ID        string          `json:"id"`
	AuthorID  string          `json:"author_id"`
	CreatedAt string          `json:"created_at"`
	Content   string          `json:"content"`
	Raw       json.RawMessage `json:"-"`
}

const commentsPageSize = 10

// GetPublicCommentsUntil returns up to 10 comments on slug ordered by the
// ingest-time proceed_at cursor, strictly greater than until, plus the next
// cursor (empty when the page was not full).
func (s *Store) GetPublicCommentsUntil(ctx context.Context, slug, until string) ([]PublicComment, string, error) {
	var rows *sql.Rows
	var err error
	if until == "" {
		q := `SELECT id, author_id, created_at, content, proceed_at FROM comments
		      WHERE slug = ` + s.ph(1) + ` ORDER BY proceed_at ASC LIMIT ` + s.ph(2)
		rows, err = s.db.QueryContext(ctx, q, slug, commentsPageSize)
	} else {
		q := `SELECT id, author_id, created_at, content, proceed_at FROM comments
		      WHERE slug = ` + s.ph(1) + ` AND proceed_at > ` + s.ph(2) + ` ORDER BY proceed_at ASC LIMIT ` + s.ph(3)
		rows, err = s.db.QueryContext(ctx, q, slug, until, commentsPageSize)
	}
	if err != nil {
		return nil, "", fmt.Errorf("db: public comments for %s: %w", slug, err)
	}
	defer rows.Close()

	var out []PublicComment
	var cursor string
	for rows.Next() {
		var c PublicComment
		if err := rows.Scan(&c.ID, &c.AuthorID, &c.CreatedAt, &c.Content, &cursor); err != nil {
			return nil, "", fmt.Errorf("db: scan comment: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}
	next := ""
	if len(out) == commentsPageSize {
		next = cursor
	}
	return out, next, nil
}

// PutArticle upserts an article's rendered HTML and AP JSON bodies. The
// engine itself never calls this: rendering and publishing an article is
// the responsibility of the external content pipeline (spec.md's
// persistent-store Non-goal). It exists so that pipeline, and this
// package's own tests, have a concrete way to populate the rows the
// ArticleProvider methods above read back.
func (s *Store) PutArticle(ctx context.Context, slug, author, html, apJSON string) error {
	var q string
	if s.driver == "sqlite" {
		q = `INSERT INTO articles (slug, author_username, html, ap_json, deleted) VALUES (?,?,?,?,0)
		     ON CONFLICT(slug) DO UPDATE SET author_username=excluded.author_username, html=excluded.html, ap_json=excluded.ap_json, deleted=0`
	} else {
		q = `INSERT INTO articles (slug, author_username, html, ap_json, deleted) VALUES ($1,$2,$3,$4,0)
		     ON CONFLICT(slug) DO UPDATE SET author_username=EXCLUDED.author_username, html=EXCLUDED.html, ap_json=EXCLUDED.ap_json, deleted=0`
	}
	if _, err := s.db.ExecContext(ctx, q, slug, author, html, apJSON); err != nil {
		return fmt.Errorf("db: put article %s: %w", slug, err)
	}
	return nil
}

// TombstoneArticle marks an article deleted without erasing its author,
// so the Delete delivery event and GetTombstoneAuthor remain resolvable.
func (s *Store) TombstoneArticle(ctx context.Context, slug string) error {
	q := `UPDATE articles SET deleted = 1 WHERE slug = ` + s.ph(1)
	if _, err := s.db.ExecContext(ctx, q, slug); err != nil {
		return fmt.Errorf("db: tombstone article %s: %w", slug, err)
	}
	return nil
}

// PutUser upserts a user's rendered HTML and AP actor JSON bodies, for the
// same reason PutArticle exists: the rendering pipeline that owns this
// content lives outside the federation engine.
func (s *Store) PutUser(ctx context.Context, username, html, apJSON string) error {
	var q string
	if s.driver == "sqlite" {
		q = `INSERT INTO users (username, html, ap_json) VALUES (?,?,?)
		     ON CONFLICT(username) DO UPDATE SET html=excluded.html, ap_json=excluded.ap_json`
	} else {
		q = `INSERT INTO users (username, html, ap_json) VALUES ($1,$2,$3)
		     ON CONFLICT(username) DO UPDATE SET html=EXCLUDED.html, ap_json=EXCLUDED.ap_json`
	}
	if _, err := s.db.ExecContext(ctx, q, username, html, apJSON); err != nil {
		return fmt.Errorf("db: put user %s: %w", username, err)
	}
	return nil
}

// ─── UserProvider ────────────────────────────────────────────────────────────

func (s *Store) ExistsUser(ctx context.Context, username string) (bool, error) {
	var n int
	q := `SELECT COUNT(*) FROM users WHERE username = ` + s.ph(1)
	if err := s.db.QueryRowContext(ctx, q, username).Scan(&n); err != nil {
		return false, fmt.Errorf("db: exists user %s: %w", username, err)
	}
	return n > 0, nil
}

func (s *Store) GetUserHTML(ctx context.Context, username string) (string, error) {
	return s.userField(ctx, username, "html")
}

func (s *Store) GetUserAP(ctx context.Context, username string) (string, error) {
	return s.userField(ctx, username, "ap_json")
}

func (s *Store) userField(ctx context.Context, username, column string) (string, error) {
	var v string
	q := `SELECT ` + column + ` FROM users WHERE username = ` + s.ph(1)
	if err := s.db.QueryRowContext(ctx, q, username).Scan(&v); err != nil {
		return "", fmt.Errorf("db: %s of %s: %w", column, username, err)
	}
	return v, nil
}

func (s *Store) AddFollower(ctx context.Context, username, actorID, inbox, eventID string) error {
	var q string
	if s.driver == "sqlite" {
		q = `INSERT OR IGNORE INTO followers (username, follower_actor_id, inbox_url, event_id) VALUES (?,?,?,?)`
	} else {
		q = `INSERT INTO followers (username, follower_actor_id, inbox_url, event_id) VALUES ($1,$2,$3,$4) ON CONFLICT DO NOTHING`
	}
	if _, err := s.db.ExecContext(ctx, q, username, actorID, inbox, eventID); err != nil {
		return fmt.Errorf("db: add follower: %w", err)
	}
	return nil
}

func (s *Store) RemoveFollower(ctx context.Context, username, eventID string) error {
	q := `DELETE FROM followers WHERE username = ` + s.ph(1) + ` AND event_id = ` + s.ph(2)
	if _, err := s.db.ExecContext(ctx, q, username, eventID); err != nil {
		return fmt.Errorf("db: remove follower by event: %w", err)
	}
	return nil
}

func (s *Store) RemoveFollowerByActor(ctx context.Context, username, actorID string) error {
	q := `DELETE FROM followers WHERE username = ` + s.ph(1) + ` AND follower_actor_id = ` + s.ph(2)
	if _, err := s.db.ExecContext(ctx, q, username, actorID); err != nil {
		return fmt.Errorf("db: remove follower by actor: %w", err)
	}
	return nil
}

// GetFollowersInboxBatch returns up to 10 distinct inbox URLs for username
// greater than lastInbox in ascending order, plus the new cursor.
func (s *Store) GetFollowersInboxBatch(ctx context.Context, username, lastInbox string) ([]string, string, error) {
	q := `SELECT DISTINCT inbox_url FROM followers WHERE username = ` + s.ph(1) +
		` AND inbox_url > ` + s.ph(2) + ` ORDER BY inbox_url ASC LIMIT ` + s.ph(3)
	rows, err := s.db.QueryContext(ctx, q, username, lastInbox, engine.FollowerBatchSize)
	if err != nil {
		return nil, "", fmt.Errorf("db: follower inbox batch: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var inbox string
		if err := rows.Scan(&inbox); err != nil {
			return nil, "", err
		}
		out = append(out, inbox)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}
	cursor := ""
	if len(out) > 0 {
		cursor = out[len(out)-1]
	}
	return out, cursor, nil
}

func (s *Store) GetFollowersLen(ctx context.Context, username string) (int, error) {
	var n int
	q := `SELECT COUNT(DISTINCT inbox_url) FROM followers WHERE username = ` + s.ph(1)
	if err := s.db.QueryRowContext(ctx, q, username).Scan(&n); err != nil {
		return 0, fmt.Errorf("db: followers len: %w", err)
	}
	return n, nil
}

// GetFollowerIdsUntil returns up to 10 distinct follower actor ids for
// username greater than until, plus the next cursor.
func (s *Store) GetFollowerIdsUntil(ctx context.Context, username, until string) ([]string, string, error) {
	q := `SELECT DISTINCT follower_actor_id FROM followers WHERE username = ` + s.ph(1) +
		` AND follower_actor_id > ` + s.ph(2) + ` ORDER BY follower_actor_id ASC LIMIT ` + s.ph(3)
	rows, err := s.db.QueryContext(ctx, q, username, until, engine.FollowerBatchSize)
	if err != nil {
		return nil, "", fmt.Errorf("db: follower ids until: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, "", err
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}
	next := ""
	if len(out) == engine.FollowerBatchSize {
		next = out[len(out)-1]
	}
	return out, next, nil
}

// ─── Queue ───────────────────────────────────────────────────────────────────

// Enqueue implements engine.Queue by persisting job as a pending row.
func (s *Store) Enqueue(ctx context.Context, job engine.Job) error {
	payload, err := engine.MarshalJob(job)
	if err != nil {
		return err
	}
	q := fmt.Sprintf(`INSERT INTO queue_jobs (id, payload, status, created_at) VALUES (%s,%s,'pending',%s)`,
		s.ph(1), s.ph(2), s.ph(3))
	if _, err := s.db.ExecContext(ctx, q, uuid.NewString(), string(payload), time.Now().UTC().Format("2006-01-02T15:04:05.000000000Z07:00")); err != nil {
		return fmt.Errorf("db: enqueue job: %w", err)
	}
	return nil
}

// ClaimNext atomically claims the oldest pending job, marking it "claimed"
// so a crashed worker's job becomes visible again only via operator
// intervention (at-least-once, per §6). Returns ("", Job{}, false, nil) when
// the queue is empty.
func (s *Store) ClaimNext(ctx context.Context) (id string, job engine.Job, ok bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", engine.Job{}, false, fmt.Errorf("db: begin claim: %w", err)
	}
	defer tx.Rollback()

	q := `SELECT id, payload FROM queue_jobs WHERE status = 'pending' ORDER BY created_at ASC LIMIT 1`
	var payload string
	row := tx.QueryRowContext(ctx, q)
	if err := row.Scan(&id, &payload); err != nil {
		if err == sql.ErrNoRows {
			return "", engine.Job{}, false, nil
		}
		return "", engine.Job{}, false, fmt.Errorf("db: claim next: %w", err)
	}

	upd := `UPDATE queue_jobs SET status = 'claimed' WHERE id = ` + s.ph(1)
	if _, err := tx.ExecContext(ctx, upd, id); err != nil {
		return "", engine.Job{}, false, fmt.Errorf("db: mark claimed: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", engine.Job{}, false, fmt.Errorf("db: commit claim: %w", err)
	}

	j, err := engine.UnmarshalJob([]byte(payload))
	if err != nil {
		return "", engine.Job{}, false, err
	}
	return id, j, true, nil
}

// Requeue resets a claimed job back to pending, used by the worker driver
// when Process returns Retry.
func (s *Store) Requeue(ctx context.Context, id string) error {
	q := `UPDATE queue_jobs SET status = 'pending' WHERE id = ` + s.ph(1)
	if _, err := s.db.ExecContext(ctx, q, id); err != nil {
		return fmt.Errorf("db: requeue %s: %w", id, err)
	}
	return nil
}

// Finish deletes a finished job row.
func (s *Store) Finish(ctx context.Context, id string) error {
	q := `DELETE FROM queue_jobs WHERE id = ` + s.ph(1)
	if _, err := s.db.ExecContext(ctx, q, id); err != nil {
		return fmt.Errorf("db: finish %s: %w", id, err)
	}
	return nil
}
