// Package feed fetches an RSS/Atom feed over HTTP and turns its entries into
// normalized item drafts.
package feed

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/tutulonan/rsspulse/internal/domain"
	"github.com/tutulonan/rsspulse/internal/platform/version"
)

const defaultMaxItems = 10

type Config struct {
	URL      string
	Source   string
	MaxItems int
	Timeout  time.Duration
}

// Source implements domain.FeedSource.
type Source struct {
	cfg    Config
	client *http.Client
	parser *gofeed.Parser
}

func NewSource(cfg Config, client *http.Client) *Source {
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = defaultMaxItems
	}
	if cfg.Source == "" {
		cfg.Source = domain.SourceHabr
	}
	return &Source{cfg: cfg, client: client, parser: gofeed.NewParser()}
}

// Fetch downloads the feed and returns at most MaxItems drafts in feed order.
// A body the parser rejects yields domain.ErrMalformedFeed.
func (s *Source) Fetch(ctx context.Context) ([]domain.ItemDraft, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("create feed request: %w", err)
	}
	req.Header.Set("User-Agent", version.UserAgent())
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml;q=0.9, */*;q=0.8")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("fetch feed: unexpected status %s", resp.Status)
	}

	return s.Parse(resp.Body)
}

// Parse converts a raw feed document into drafts.
func (s *Source) Parse(r io.Reader) ([]domain.ItemDraft, error) {
	parsed, err := s.parser.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrMalformedFeed, err)
	}

	entries := parsed.Items
	if len(entries) > s.cfg.MaxItems {
		entries = entries[:s.cfg.MaxItems]
	}

	drafts := make([]domain.ItemDraft, 0, len(entries))
	for _, entry := range entries {
		if strings.TrimSpace(entry.Link) == "" {
			slog.Warn("Skipping feed entry without link", "title", entry.Title, "url", s.cfg.URL)
			continue
		}
		drafts = append(drafts, s.toDraft(entry))
	}
	return drafts, nil
}

func (s *Source) toDraft(entry *gofeed.Item) domain.ItemDraft {
	d := domain.ItemDraft{
		Title:     entry.Title,
		Link:      entry.Link,
		Summary:   entry.Description,
		Published: entry.Published,
		Author:    authorName(entry),
		Source:    s.cfg.Source,
	}
	if len(entry.Categories) > 0 {
		category := entry.Categories[0]
		d.Category = &category
	}
	return d.Normalize(s.cfg.Source)
}

func authorName(entry *gofeed.Item) string {
	for _, p := range entry.Authors {
		if p != nil && p.Name != "" {
			return p.Name
		}
	}
	if entry.Author != nil {
		return entry.Author.Name
	}
	return ""
}
