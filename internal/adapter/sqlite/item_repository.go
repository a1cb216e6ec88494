package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/jonboulle/clockwork"
	"github.com/tutulonan/rsspulse/internal/domain"
)

const itemColumns = `id, title, link, summary, published, author, category, source, created_at, updated_at`

const insertItemSQL = `
INSERT INTO rss_posts (title, link, summary, published, author, category, source, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (link) DO NOTHING
RETURNING ` + itemColumns

// Timestamps are stored as unix microseconds.
type itemRow struct {
	ID        int64          `db:"id"`
	Title     string         `db:"title"`
	Link      string         `db:"link"`
	Summary   string         `db:"summary"`
	Published string         `db:"published"`
	Author    string         `db:"author"`
	Category  sql.NullString `db:"category"`
	Source    string         `db:"source"`
	CreatedAt int64          `db:"created_at"`
	UpdatedAt int64          `db:"updated_at"`
}

func (r itemRow) toDomain() domain.Item {
	it := domain.Item{
		ID:        r.ID,
		Title:     r.Title,
		Link:      r.Link,
		Summary:   r.Summary,
		Published: r.Published,
		Author:    r.Author,
		Source:    r.Source,
		CreatedAt: time.UnixMicro(r.CreatedAt).UTC(),
		UpdatedAt: time.UnixMicro(r.UpdatedAt).UTC(),
	}
	if r.Category.Valid {
		category := r.Category.String
		it.Category = &category
	}
	return it
}

// ItemRepo implements domain.ItemRepository on SQLite.
type ItemRepo struct {
	db    *sqlx.DB
	clock clockwork.Clock
}

func NewItemRepo(db *sqlx.DB, clock clockwork.Clock) *ItemRepo {
	return &ItemRepo{db: db, clock: clock}
}

func (r *ItemRepo) insertArgs(d domain.ItemDraft) []any {
	now := r.clock.Now().UnixMicro()
	return []any{d.Title, d.Link, d.Summary, d.Published, d.Author, d.Category, d.Source, now, now}
}

// TryInsertAll inserts every draft whose link is not stored yet, in one
// transaction. The unique index on link decides; conflicting drafts are skipped.
func (r *ItemRepo) TryInsertAll(ctx context.Context, drafts []domain.ItemDraft) ([]domain.Item, error) {
	if len(drafts) == 0 {
		return nil, nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	inserted := make([]domain.Item, 0, len(drafts))
	for _, d := range drafts {
		var row itemRow
		err := tx.GetContext(ctx, &row, insertItemSQL, r.insertArgs(d)...)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to insert item %q: %w", d.Link, err)
		}
		inserted = append(inserted, row.toDomain())
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return inserted, nil
}

func (r *ItemRepo) Create(ctx context.Context, draft domain.ItemDraft) (*domain.Item, error) {
	var row itemRow
	err := r.db.GetContext(ctx, &row, insertItemSQL, r.insertArgs(draft)...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrDuplicateLink
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create item: %w", err)
	}
	it := row.toDomain()
	return &it, nil
}

func (r *ItemRepo) GetByID(ctx context.Context, id int64) (*domain.Item, error) {
	var row itemRow
	err := r.db.GetContext(ctx, &row, `SELECT `+itemColumns+` FROM rss_posts WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrItemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item by ID: %w", err)
	}
	it := row.toDomain()
	return &it, nil
}

func (r *ItemRepo) List(ctx context.Context, offset, limit int) ([]domain.Item, error) {
	var rows []itemRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT `+itemColumns+` FROM rss_posts ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}

	items := make([]domain.Item, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toDomain())
	}
	return items, nil
}

func (r *ItemRepo) Update(ctx context.Context, id int64, patch domain.ItemPatch) (*domain.Item, error) {
	if patch.IsEmpty() {
		return r.GetByID(ctx, id)
	}

	b := sq.Update("rss_posts").
		Set("updated_at", r.clock.Now().UnixMicro()).
		Where(sq.Eq{"id": id}).
		Suffix("RETURNING " + itemColumns)
	if patch.Title != nil {
		b = b.Set("title", *patch.Title)
	}
	if patch.Summary != nil {
		b = b.Set("summary", *patch.Summary)
	}
	if patch.Category != nil {
		b = b.Set("category", *patch.Category)
	}

	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build update: %w", err)
	}

	var row itemRow
	err = r.db.GetContext(ctx, &row, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrItemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update item: %w", err)
	}
	it := row.toDomain()
	return &it, nil
}

func (r *ItemRepo) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM rss_posts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return domain.ErrItemNotFound
	}
	return nil
}

func (r *ItemRepo) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	return nil
}
