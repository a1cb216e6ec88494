package domain

import (
	"context"
	"strings"
	"time"
)

// Field bounds, counted in characters.
const (
	MaxTitleLength     = 300
	MaxSummaryLength   = 1000
	MaxPublishedLength = 50
	MaxAuthorLength    = 100
	MaxCategoryLength  = 100
	MaxSourceLength    = 50

	UnknownAuthor = "unknown"

	SourceHabr   = "habr"
	SourceManual = "manual"
)

// Item is a persisted feed entry or manually created record. Link is the
// dedup key: no two items share a link.
type Item struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Link      string    `json:"link"`
	Summary   string    `json:"summary"`
	Published string    `json:"published"`
	Author    string    `json:"author"`
	Category  *string   `json:"category"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ItemDraft is a candidate item that has not been persisted yet.
type ItemDraft struct {
	Title     string  `json:"title"`
	Link      string  `json:"link"`
	Summary   string  `json:"summary"`
	Published string  `json:"published"`
	Author    string  `json:"author"`
	Category  *string `json:"category"`
	Source    string  `json:"source"`
}

// ItemPatch carries the mutable subset of an item. Nil fields are left untouched.
type ItemPatch struct {
	Title    *string `json:"title"`
	Summary  *string `json:"summary"`
	Category *string `json:"category"`
}

// IsEmpty reports whether the patch changes nothing.
func (p ItemPatch) IsEmpty() bool {
	return p.Title == nil && p.Summary == nil && p.Category == nil
}

// Projection returns the reduced view sent with new_post notifications.
func (i Item) Projection() ItemSummary {
	return ItemSummary{ID: i.ID, Title: i.Title, Link: i.Link, Source: i.Source, Category: i.Category}
}

// ItemSummary is the projection of an Item carried by new_post.
type ItemSummary struct {
	ID       int64   `json:"id"`
	Title    string  `json:"title"`
	Link     string  `json:"link"`
	Source   string  `json:"source"`
	Category *string `json:"category"`
}

// TruncateSummary cuts s to MaxSummaryLength characters.
func TruncateSummary(s string) string {
	return truncate(s, MaxSummaryLength)
}

// TruncateTitle cuts s to MaxTitleLength characters.
func TruncateTitle(s string) string {
	return truncate(s, MaxTitleLength)
}

// TruncateCategory cuts s to MaxCategoryLength characters.
func TruncateCategory(s string) string {
	return truncate(s, MaxCategoryLength)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// Normalize trims the draft, bounds its fields and fills defaults. defaultSource is used when
// the draft carries no source.
func (d ItemDraft) Normalize(defaultSource string) ItemDraft {
	d.Title = TruncateTitle(strings.TrimSpace(d.Title))
	d.Link = strings.TrimSpace(d.Link)
	d.Summary = TruncateSummary(d.Summary)
	d.Published = truncate(d.Published, MaxPublishedLength)
	d.Author = truncate(d.Author, MaxAuthorLength)
	if d.Author == "" {
		d.Author = UnknownAuthor
	}
	if d.Category != nil {
		category := TruncateCategory(*d.Category)
		d.Category = &category
		if category == "" {
			d.Category = nil
		}
	}
	if d.Source == "" {
		d.Source = defaultSource
	}
	d.Source = truncate(d.Source, MaxSourceLength)
	return d
}

// ItemRepository is the storage contract. TryInsertAll is the
// dedup-and-insert gateway used by the poller: it returns exactly the drafts
// that were newly inserted, in input order, and never fails on duplicates.
type ItemRepository interface {
	TryInsertAll(ctx context.Context, drafts []ItemDraft) ([]Item, error)
	Create(ctx context.Context, draft ItemDraft) (*Item, error)
	GetByID(ctx context.Context, id int64) (*Item, error)
	List(ctx context.Context, offset, limit int) ([]Item, error)
	Update(ctx context.Context, id int64, patch ItemPatch) (*Item, error)
	Delete(ctx context.Context, id int64) error
	Ping(ctx context.Context) error
}

// FeedSource produces normalized candidate items from an external feed.
type FeedSource interface {
	Fetch(ctx context.Context) ([]ItemDraft, error)
}
