package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/jonboulle/clockwork"
	"github.com/tutulonan/rsspulse/internal/domain"
)

const (
	DefaultListLimit = 100
	MaxListLimit     = 500
)

// PostService manages stored items on behalf of the HTTP surface and tells
// live connections about every change.
type PostService struct {
	items       domain.ItemRepository
	publisher   domain.EventPublisher
	broadcaster domain.Broadcaster
	poller      *Poller
	clock       clockwork.Clock
}

func NewPostService(items domain.ItemRepository, publisher domain.EventPublisher, broadcaster domain.Broadcaster, poller *Poller, clock clockwork.Clock) *PostService {
	return &PostService{
		items:       items,
		publisher:   publisher,
		broadcaster: broadcaster,
		poller:      poller,
		clock:       clock,
	}
}

// List returns items newest first. limit is clamped to [1, MaxListLimit]
// and a negative offset reads from the start.
func (s *PostService) List(ctx context.Context, offset, limit int) ([]domain.Item, error) {
	offset = max(offset, 0)
	limit = min(max(limit, 1), MaxListLimit)

	items, err := s.items.List(ctx, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	return items, nil
}

func (s *PostService) Get(ctx context.Context, id int64) (*domain.Item, error) {
	return s.items.GetByID(ctx, id)
}

// Create stores a manually submitted item, announces it on the bus and
// broadcasts manual_post_created. The source defaults to "manual".
func (s *PostService) Create(ctx context.Context, draft domain.ItemDraft) (*domain.Item, error) {
	draft = draft.Normalize(domain.SourceManual)
	if draft.Title == "" {
		return nil, fmt.Errorf("%w: title is required", domain.ErrInvalidItem)
	}
	if draft.Link == "" {
		return nil, fmt.Errorf("%w: link is required", domain.ErrInvalidItem)
	}

	item, err := s.items.Create(ctx, draft)
	if err != nil {
		return nil, err
	}

	publish(context.WithoutCancel(ctx), s.publisher, *item)
	s.broadcaster.Broadcast(domain.ManualPostCreated{Payload: *item, Timestamp: s.clock.Now()})
	return item, nil
}

// Update applies patch. An empty patch returns the stored item untouched
// and broadcasts nothing.
func (s *PostService) Update(ctx context.Context, id int64, patch domain.ItemPatch) (*domain.Item, error) {
	if patch.IsEmpty() {
		return s.items.GetByID(ctx, id)
	}

	if patch.Title != nil {
		title := domain.TruncateTitle(strings.TrimSpace(*patch.Title))
		if title == "" {
			return nil, fmt.Errorf("%w: title must not be empty", domain.ErrInvalidItem)
		}
		patch.Title = &title
	}
	if patch.Category != nil {
		category := domain.TruncateCategory(*patch.Category)
		patch.Category = &category
	}
	if patch.Summary != nil {
		summary := domain.TruncateSummary(*patch.Summary)
		patch.Summary = &summary
	}

	item, err := s.items.Update(ctx, id, patch)
	if err != nil {
		return nil, err
	}

	s.broadcaster.Broadcast(domain.PostUpdated{Payload: *item, Timestamp: s.clock.Now()})
	return item, nil
}

func (s *PostService) Delete(ctx context.Context, id int64) error {
	if err := s.items.Delete(ctx, id); err != nil {
		return err
	}

	s.broadcaster.Broadcast(domain.PostDeleted{PostID: id, Timestamp: s.clock.Now()})
	return nil
}

// RunPoll runs one poll cycle now and returns how many items it added.
func (s *PostService) RunPoll(ctx context.Context) (int, error) {
	added, err := s.poller.RunOnce(ctx)
	if err != nil {
		return 0, err
	}
	return len(added), nil
}
