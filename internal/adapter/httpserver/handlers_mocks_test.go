package httpserver

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/tutulonan/rsspulse/internal/domain"
	"github.com/tutulonan/rsspulse/internal/platform/config"
)

// --- Mock implementations ---

type mockPostService struct {
	listFn    func(ctx context.Context, offset, limit int) ([]domain.Item, error)
	getFn     func(ctx context.Context, id int64) (*domain.Item, error)
	createFn  func(ctx context.Context, draft domain.ItemDraft) (*domain.Item, error)
	updateFn  func(ctx context.Context, id int64, patch domain.ItemPatch) (*domain.Item, error)
	deleteFn  func(ctx context.Context, id int64) error
	runPollFn func(ctx context.Context) (int, error)
}

func (m *mockPostService) List(ctx context.Context, offset, limit int) ([]domain.Item, error) {
	if m.listFn != nil {
		return m.listFn(ctx, offset, limit)
	}
	return nil, nil
}

func (m *mockPostService) Get(ctx context.Context, id int64) (*domain.Item, error) {
	if m.getFn != nil {
		return m.getFn(ctx, id)
	}
	return nil, domain.ErrItemNotFound
}

func (m *mockPostService) Create(ctx context.Context, draft domain.ItemDraft) (*domain.Item, error) {
	if m.createFn != nil {
		return m.createFn(ctx, draft)
	}
	return nil, errors.New("not implemented")
}

func (m *mockPostService) Update(ctx context.Context, id int64, patch domain.ItemPatch) (*domain.Item, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, id, patch)
	}
	return nil, domain.ErrItemNotFound
}

func (m *mockPostService) Delete(ctx context.Context, id int64) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, id)
	}
	return nil
}

func (m *mockPostService) RunPoll(ctx context.Context) (int, error) {
	if m.runPollFn != nil {
		return m.runPollFn(ctx)
	}
	return 0, nil
}

type mockConnections struct {
	infos []domain.ConnectionInfo
}

func (m *mockConnections) Count() int                    { return len(m.infos) }
func (m *mockConnections) Info() []domain.ConnectionInfo { return m.infos }

type mockWebSocket struct {
	address string
}

func (m *mockWebSocket) Serve(w http.ResponseWriter, _ *http.Request, address string) {
	m.address = address
	w.WriteHeader(http.StatusSwitchingProtocols)
}

// --- Test helpers ---

var testCreatedAt = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func testItem(id int64) *domain.Item {
	return &domain.Item{
		ID:        id,
		Title:     "Go 1.26 released",
		Link:      "https://habr.com/ru/articles/1/",
		Summary:   "summary",
		Author:    "gopher",
		Source:    domain.SourceHabr,
		CreatedAt: testCreatedAt,
		UpdatedAt: testCreatedAt,
	}
}

func newTestServer(t *testing.T, posts postService, opts ...Option) *Server {
	t.Helper()
	return newTestServerWith(t, posts, &mockConnections{}, &mockWebSocket{}, opts...)
}

func newTestServerWith(t *testing.T, posts postService, connections connectionDirectory, ws websocketHandler, opts ...Option) *Server {
	t.Helper()
	cfg := &config.Config{Port: "0", AppEnv: "test"}
	return NewServer(cfg, posts, connections, ws, opts...)
}
