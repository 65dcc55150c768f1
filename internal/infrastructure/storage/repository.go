package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/pangshuai227/ai-stocklink/internal/domain"
	"github.com/pangshuai227/ai-stocklink/internal/ports"
)

// Supported database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

const pqUniqueViolation = "23505"

//go:embed schema_postgres.sql
var postgresSchema string

//go:embed schema_sqlite.sql
var sqliteSchema string

// Repository persists users, tracked items and content records in Postgres
// or SQLite.
type Repository struct {
	db      *sql.DB
	driver  string
	builder sq.StatementBuilderType
	now     func() time.Time
}

var (
	_ ports.ContentRepository   = (*Repository)(nil)
	_ ports.WatchlistRepository = (*Repository)(nil)
)

// Open connects to the database and bootstraps the schema.
func Open(ctx context.Context, driver, dsn string) (*Repository, error) {
	if driver != DriverPostgres && driver != DriverSQLite {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	if driver == DriverSQLite {
		// SQLite allows one writer; a single connection avoids SQLITE_BUSY
		// under the ingestion worker pool.
		db.SetMaxOpenConns(1)
		for _, pragma := range []string{"PRAGMA foreign_keys = ON", "PRAGMA busy_timeout = 5000"} {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("apply pragma %q: %w", pragma, err)
			}
		}
	}

	repo := New(db, driver)
	if err := repo.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

// New wraps an existing connection without touching the schema.
func New(db *sql.DB, driver string) *Repository {
	var placeholder sq.PlaceholderFormat = sq.Question
	if driver == DriverPostgres {
		placeholder = sq.Dollar
	}
	return &Repository{
		db:      db,
		driver:  driver,
		builder: sq.StatementBuilder.PlaceholderFormat(placeholder),
		now:     time.Now,
	}
}

// EnsureSchema creates missing tables and indexes.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	schema := sqliteSchema
	if r.driver == DriverPostgres {
		schema = postgresSchema
	}
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Close closes the underlying connection pool.
func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// EnsureUser returns the id for openid, creating the user when absent.
func (r *Repository) EnsureUser(ctx context.Context, openid string) (int64, error) {
	insert := r.builder.Insert("users").
		Columns("openid", "created_at").
		Values(openid, r.now().Unix()).
		Suffix("ON CONFLICT (openid) DO NOTHING")
	if _, err := r.exec(ctx, insert); err != nil {
		return 0, fmt.Errorf("insert user: %w", err)
	}

	query, args, err := r.builder.Select("id").From("users").Where(sq.Eq{"openid": openid}).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build user query: %w", err)
	}
	var id int64
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return 0, fmt.Errorf("select user: %w", err)
	}
	return id, nil
}

// AddTrackedItem inserts a watchlist entry; an existing (user, identifier)
// pair yields domain.ErrDuplicate.
func (r *Repository) AddTrackedItem(ctx context.Context, item domain.TrackedItem) error {
	addedAt := item.AddedAt
	if addedAt.IsZero() {
		addedAt = r.now()
	}
	insert := r.builder.Insert("tracked_items").
		Columns("user_id", "identifier", "display_name", "added_at").
		Values(item.UserID, item.Identifier, item.DisplayName, addedAt.Unix()).
		Suffix("ON CONFLICT (user_id, identifier) DO NOTHING")

	affected, err := r.exec(ctx, insert)
	if err != nil {
		return fmt.Errorf("insert tracked item %s: %w", item.Identifier, err)
	}
	if affected == 0 {
		return domain.ErrDuplicate
	}
	return nil
}

// RemoveTrackedItem deletes one watchlist entry and reports whether it existed.
func (r *Repository) RemoveTrackedItem(ctx context.Context, userID int64, identifier string) (bool, error) {
	del := r.builder.Delete("tracked_items").Where(sq.Eq{"user_id": userID, "identifier": identifier})
	affected, err := r.exec(ctx, del)
	if err != nil {
		return false, fmt.Errorf("delete tracked item %s: %w", identifier, err)
	}
	return affected > 0, nil
}

// ListTrackedItems returns a user's watchlist ordered by insertion time.
func (r *Repository) ListTrackedItems(ctx context.Context, userID int64) ([]domain.TrackedItem, error) {
	query, args, err := r.builder.
		Select("id", "user_id", "identifier", "display_name", "added_at").
		From("tracked_items").
		Where(sq.Eq{"user_id": userID}).
		OrderBy("added_at", "id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build tracked items query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tracked items: %w", err)
	}
	defer rows.Close()

	var items []domain.TrackedItem
	for rows.Next() {
		var (
			item    domain.TrackedItem
			addedAt int64
		)
		if err := rows.Scan(&item.ID, &item.UserID, &item.Identifier, &item.DisplayName, &addedAt); err != nil {
			return nil, fmt.Errorf("scan tracked item: %w", err)
		}
		item.AddedAt = time.Unix(addedAt, 0)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return items, nil
}

// ListTrackedIdentifiers returns every distinct tracked identifier.
func (r *Repository) ListTrackedIdentifiers(ctx context.Context) ([]string, error) {
	query, args, err := r.builder.Select("DISTINCT identifier").From("tracked_items").OrderBy("identifier").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build identifiers query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query identifiers: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan identifier: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return ids, nil
}

// ListRecipients returns users that track at least one identifier.
func (r *Repository) ListRecipients(ctx context.Context) ([]domain.Recipient, error) {
	query, args, err := r.builder.
		Select("u.id", "u.openid", "t.identifier").
		From("users u").
		Join("tracked_items t ON t.user_id = u.id").
		OrderBy("u.id", "t.identifier").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build recipients query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query recipients: %w", err)
	}
	defer rows.Close()

	var recipients []domain.Recipient
	for rows.Next() {
		var (
			userID     int64
			handle     string
			identifier string
		)
		if err := rows.Scan(&userID, &handle, &identifier); err != nil {
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		if n := len(recipients); n > 0 && recipients[n-1].UserID == userID {
			recipients[n-1].Identifiers = append(recipients[n-1].Identifiers, identifier)
			continue
		}
		recipients = append(recipients, domain.Recipient{
			UserID:      userID,
			Handle:      handle,
			Identifiers: []string{identifier},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return recipients, nil
}

// SaveContent inserts a content record. The fingerprint uniqueness
// constraint is the dedup gate: a conflict yields domain.ErrDuplicate.
func (r *Repository) SaveContent(ctx context.Context, record domain.ContentRecord) error {
	ingestedAt := record.IngestedAt
	if ingestedAt.IsZero() {
		ingestedAt = r.now()
	}
	insert := r.builder.Insert("content_records").
		Columns("identifier", "title", "fingerprint", "published_at", "ingested_at").
		Values(record.Identifier, record.Title, record.Fingerprint, record.PublishedAt.Unix(), ingestedAt.Unix()).
		Suffix("ON CONFLICT (fingerprint) DO NOTHING")

	affected, err := r.exec(ctx, insert)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicate
		}
		return fmt.Errorf("insert content %s: %w", record.Fingerprint, err)
	}
	if affected == 0 {
		return domain.ErrDuplicate
	}
	return nil
}

// RecentContent selects records for the given identifiers published after
// since, newest first, at most limit rows.
func (r *Repository) RecentContent(ctx context.Context, identifiers []string, since time.Time, limit int) ([]domain.ContentRecord, error) {
	if len(identifiers) == 0 || limit <= 0 {
		return nil, nil
	}
	var match sq.Sqlizer = sq.Eq{"identifier": identifiers}
	if r.driver == DriverPostgres {
		match = sq.Expr("identifier = ANY(?)", pq.Array(identifiers))
	}
	return r.selectContent(ctx, match, since, limit)
}

// RecentForUser selects recent records for everything userID tracks.
func (r *Repository) RecentForUser(ctx context.Context, userID int64, since time.Time, limit int) ([]domain.ContentRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	match := sq.Expr("identifier IN (SELECT identifier FROM tracked_items WHERE user_id = ?)", userID)
	return r.selectContent(ctx, match, since, limit)
}

// CountContent returns the number of stored content records.
func (r *Repository) CountContent(ctx context.Context) (int, error) {
	query, args, err := r.builder.Select("COUNT(*)").From("content_records").ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count query: %w", err)
	}
	var n int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count content: %w", err)
	}
	return n, nil
}

func (r *Repository) selectContent(ctx context.Context, match sq.Sqlizer, since time.Time, limit int) ([]domain.ContentRecord, error) {
	query, args, err := r.builder.
		Select("id", "identifier", "title", "fingerprint", "published_at", "ingested_at").
		From("content_records").
		Where(match).
		Where(sq.Gt{"published_at": since.Unix()}).
		OrderBy("published_at DESC", "id DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build content query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query content: %w", err)
	}
	defer rows.Close()

	var records []domain.ContentRecord
	for rows.Next() {
		var (
			rec                     domain.ContentRecord
			publishedAt, ingestedAt int64
		)
		if err := rows.Scan(&rec.ID, &rec.Identifier, &rec.Title, &rec.Fingerprint, &publishedAt, &ingestedAt); err != nil {
			return nil, fmt.Errorf("scan content: %w", err)
		}
		rec.PublishedAt = time.Unix(publishedAt, 0)
		rec.IngestedAt = time.Unix(ingestedAt, 0)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return records, nil
}

func (r *Repository) exec(ctx context.Context, stmt sq.Sqlizer) (int64, error) {
	query, args, err := stmt.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build statement: %w", err)
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return affected, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pqUniqueViolation
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}
