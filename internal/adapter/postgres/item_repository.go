package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/tutulonan/rsspulse/internal/domain"
)

const uniqueViolation = "23505"

const itemColumns = `id, title, link, summary, published, author, category, source, created_at, updated_at`

const insertItemSQL = `
INSERT INTO rss_posts (title, link, summary, published, author, category, source)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

// ItemRepo implements domain.ItemRepository on PostgreSQL.
type ItemRepo struct {
	pool  *pgxpool.Pool
	clock clockwork.Clock
}

func NewItemRepo(pool *pgxpool.Pool, clock clockwork.Clock) *ItemRepo {
	return &ItemRepo{pool: pool, clock: clock}
}

func scanItem(row pgx.Row) (*domain.Item, error) {
	var it domain.Item
	err := row.Scan(&it.ID, &it.Title, &it.Link, &it.Summary, &it.Published,
		&it.Author, &it.Category, &it.Source, &it.CreatedAt, &it.UpdatedAt)
	if err != nil {
		return nil, err
	}
	it.CreatedAt = it.CreatedAt.UTC()
	it.UpdatedAt = it.UpdatedAt.UTC()
	return &it, nil
}

func draftArgs(d domain.ItemDraft) []any {
	return []any{d.Title, d.Link, d.Summary, d.Published, d.Author, d.Category, d.Source}
}

// TryInsertAll inserts every draft whose link is not stored yet, in one
// transaction. The unique index on link decides; conflicting drafts are skipped.
func (r *ItemRepo) TryInsertAll(ctx context.Context, drafts []domain.ItemDraft) ([]domain.Item, error) {
	if len(drafts) == 0 {
		return nil, nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	inserted := make([]domain.Item, 0, len(drafts))
	for _, d := range drafts {
		row := tx.QueryRow(ctx, insertItemSQL+` ON CONFLICT (link) DO NOTHING RETURNING `+itemColumns, draftArgs(d)...)
		it, err := scanItem(row)
		if errors.Is(err, pgx.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to insert item %q: %w", d.Link, err)
		}
		inserted = append(inserted, *it)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return inserted, nil
}

func (r *ItemRepo) Create(ctx context.Context, draft domain.ItemDraft) (*domain.Item, error) {
	it, err := scanItem(r.pool.QueryRow(ctx, insertItemSQL+` RETURNING `+itemColumns, draftArgs(draft)...))
	if isUniqueViolation(err) {
		return nil, domain.ErrDuplicateLink
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create item: %w", err)
	}
	return it, nil
}

func (r *ItemRepo) GetByID(ctx context.Context, id int64) (*domain.Item, error) {
	it, err := scanItem(r.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM rss_posts WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrItemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item by ID: %w", err)
	}
	return it, nil
}

func (r *ItemRepo) List(ctx context.Context, offset, limit int) ([]domain.Item, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+itemColumns+` FROM rss_posts ORDER BY created_at DESC, id DESC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.Item, 0, limit)
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, *it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate items: %w", err)
	}
	return items, nil
}

func (r *ItemRepo) Update(ctx context.Context, id int64, patch domain.ItemPatch) (*domain.Item, error) {
	if patch.IsEmpty() {
		return r.GetByID(ctx, id)
	}

	it, err := scanItem(r.pool.QueryRow(ctx, `
UPDATE rss_posts
SET title      = COALESCE($2, title),
    summary    = COALESCE($3, summary),
    category   = COALESCE($4, category),
    updated_at = $5
WHERE id = $1
RETURNING `+itemColumns,
		id, patch.Title, patch.Summary, patch.Category, r.clock.Now().UTC()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrItemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update item: %w", err)
	}
	return it, nil
}

func (r *ItemRepo) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM rss_posts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrItemNotFound
	}
	return nil
}

func (r *ItemRepo) Ping(ctx context.Context) error {
	if err := r.pool.Ping(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
