package app

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/tutulonan/rsspulse/internal/domain"
)

var testNow = time.Date(2026, 5, 2, 12, 0, 0, 0, time.UTC)

// --- Feed source ---

type mockSource struct {
	mu      sync.Mutex
	drafts  []domain.ItemDraft
	err     error
	calls   int
	release chan struct{}
}

func (m *mockSource) Fetch(ctx context.Context) ([]domain.ItemDraft, error) {
	m.mu.Lock()
	m.calls++
	release := m.release
	m.mu.Unlock()

	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return slices.Clone(m.drafts), m.err
}

func (m *mockSource) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// --- Item repository ---

type memoryRepo struct {
	mu      sync.Mutex
	clock   clockwork.Clock
	items   []domain.Item
	nextID  int64
	listArg [2]int
	err     error
}

func newMemoryRepo(clock clockwork.Clock) *memoryRepo {
	return &memoryRepo{clock: clock, nextID: 1}
}

func (m *memoryRepo) insert(d domain.ItemDraft) domain.Item {
	now := m.clock.Now()
	item := domain.Item{
		ID: m.nextID, Title: d.Title, Link: d.Link, Summary: d.Summary, Published: d.Published,
		Author: d.Author, Category: d.Category, Source: d.Source, CreatedAt: now, UpdatedAt: now,
	}
	m.nextID++
	m.items = append(m.items, item)
	return item
}

func (m *memoryRepo) has(link string) bool {
	return slices.ContainsFunc(m.items, func(i domain.Item) bool { return i.Link == link })
}

func (m *memoryRepo) TryInsertAll(_ context.Context, drafts []domain.ItemDraft) ([]domain.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}

	var added []domain.Item
	for _, d := range drafts {
		if m.has(d.Link) {
			continue
		}
		added = append(added, m.insert(d))
	}
	return added, nil
}

func (m *memoryRepo) Create(_ context.Context, d domain.ItemDraft) (*domain.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.has(d.Link) {
		return nil, domain.ErrDuplicateLink
	}
	item := m.insert(d)
	return &item, nil
}

func (m *memoryRepo) GetByID(_ context.Context, id int64) (*domain.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, item := range m.items {
		if item.ID == id {
			return &item, nil
		}
	}
	return nil, domain.ErrItemNotFound
}

func (m *memoryRepo) List(_ context.Context, offset, limit int) ([]domain.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listArg = [2]int{offset, limit}

	newest := slices.Clone(m.items)
	slices.Reverse(newest)
	if offset >= len(newest) {
		return []domain.Item{}, nil
	}
	return newest[offset:min(offset+limit, len(newest))], nil
}

func (m *memoryRepo) Update(_ context.Context, id int64, patch domain.ItemPatch) (*domain.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.items {
		if m.items[i].ID != id {
			continue
		}
		if patch.Title != nil {
			m.items[i].Title = *patch.Title
		}
		if patch.Summary != nil {
			m.items[i].Summary = *patch.Summary
		}
		if patch.Category != nil {
			m.items[i].Category = patch.Category
		}
		m.items[i].UpdatedAt = m.clock.Now()
		item := m.items[i]
		return &item, nil
	}
	return nil, domain.ErrItemNotFound
}

func (m *memoryRepo) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.items)
	m.items = slices.DeleteFunc(m.items, func(i domain.Item) bool { return i.ID == id })
	if len(m.items) == n {
		return domain.ErrItemNotFound
	}
	return nil
}

func (m *memoryRepo) Ping(context.Context) error { return nil }

// --- Publisher and broadcaster ---

type mockPublisher struct {
	mu        sync.Mutex
	published []domain.Item
	err       error
}

func (m *mockPublisher) PublishItemCreated(_ context.Context, item domain.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, item)
	return m.err
}

func (m *mockPublisher) links() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var links []string
	for _, item := range m.published {
		links = append(links, item.Link)
	}
	return links
}

type mockBroadcaster struct {
	mu   sync.Mutex
	sent []domain.Notification
}

func (m *mockBroadcaster) Broadcast(n domain.Notification) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, n)
	return 1
}

func (m *mockBroadcaster) notifications() []domain.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.sent)
}

// --- Bus ---

type mockBus struct {
	mu       sync.Mutex
	handlers []func([]byte)
}

func (m *mockBus) Publish(context.Context, domain.BusEvent) error { return nil }

func (m *mockBus) Subscribe(_ context.Context, handler func([]byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, handler)
	return nil
}

func (m *mockBus) Connected() bool { return true }
func (m *mockBus) Close() error    { return nil }

func (m *mockBus) deliver(payload []byte) {
	m.mu.Lock()
	handlers := slices.Clone(m.handlers)
	m.mu.Unlock()
	for _, h := range handlers {
		h(payload)
	}
}

func draft(link string) domain.ItemDraft {
	return domain.ItemDraft{Title: "Title " + link, Link: link, Author: "author", Source: domain.SourceHabr}
}
