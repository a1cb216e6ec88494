package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tutulonan/rsspulse/internal/domain"
	apperrors "github.com/tutulonan/rsspulse/internal/platform/errors"
)

func doRequest(srv *Server, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	req.RemoteAddr = "192.0.2.10:5000"
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestListPosts_DefaultsAndQuery(t *testing.T) {
	var gotOffset, gotLimit int
	posts := &mockPostService{
		listFn: func(_ context.Context, offset, limit int) ([]domain.Item, error) {
			gotOffset, gotLimit = offset, limit
			return []domain.Item{*testItem(2), *testItem(1)}, nil
		},
	}
	srv := newTestServer(t, posts)

	rec := doRequest(srv, http.MethodGet, "/posts", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, gotOffset)
	assert.Equal(t, 100, gotLimit)

	var items []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &items))
	require.Len(t, items, 2)
	assert.Equal(t, float64(2), items[0]["id"])
	assert.Equal(t, "2026-01-02T03:04:05Z", items[0]["created_at"])
	assert.Nil(t, items[0]["category"])

	rec = doRequest(srv, http.MethodGet, "/posts?skip=20&limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 20, gotOffset)
	assert.Equal(t, 5, gotLimit)
}

func TestListPosts_EmptyIsArray(t *testing.T) {
	srv := newTestServer(t, &mockPostService{})

	rec := doRequest(srv, http.MethodGet, "/posts", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestListPosts_BadQuery(t *testing.T) {
	srv := newTestServer(t, &mockPostService{})

	rec := doRequest(srv, http.MethodGet, "/posts?limit=ten", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetPost(t *testing.T) {
	posts := &mockPostService{
		getFn: func(_ context.Context, id int64) (*domain.Item, error) {
			if id == 1 {
				return testItem(1), nil
			}
			return nil, domain.ErrItemNotFound
		},
	}
	srv := newTestServer(t, posts)

	rec := doRequest(srv, http.MethodGet, "/posts/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"link":"https://habr.com/ru/articles/1/"`)

	rec = doRequest(srv, http.MethodGet, "/posts/99", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	var resp apperrors.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "post not found", resp.Error)

	rec = doRequest(srv, http.MethodGet, "/posts/abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreatePost(t *testing.T) {
	var got domain.ItemDraft
	posts := &mockPostService{
		createFn: func(_ context.Context, draft domain.ItemDraft) (*domain.Item, error) {
			got = draft
			item := testItem(5)
			item.Source = domain.SourceManual
			return item, nil
		},
	}
	srv := newTestServer(t, posts)

	rec := doRequest(srv, http.MethodPost, "/posts", `{"title":"Hello","link":"https://example.com/x","category":"news"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Hello", got.Title)
	assert.Equal(t, "https://example.com/x", got.Link)
	require.NotNil(t, got.Category)
	assert.Equal(t, "news", *got.Category)
	assert.Contains(t, rec.Body.String(), `"source":"manual"`)
}

func TestCreatePost_Errors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		err        error
		wantStatus int
	}{
		{"duplicate link", `{"title":"t","link":"l"}`, domain.ErrDuplicateLink, http.StatusConflict},
		{"missing title", `{"link":"l"}`, domain.ErrInvalidItem, http.StatusBadRequest},
		{"not json", `title=t`, nil, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			posts := &mockPostService{
				createFn: func(context.Context, domain.ItemDraft) (*domain.Item, error) { return nil, tt.err },
			}
			srv := newTestServer(t, posts)

			rec := doRequest(srv, http.MethodPost, "/posts", tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestUpdatePost(t *testing.T) {
	var gotPatch domain.ItemPatch
	posts := &mockPostService{
		updateFn: func(_ context.Context, id int64, patch domain.ItemPatch) (*domain.Item, error) {
			gotPatch = patch
			item := testItem(id)
			item.Title = *patch.Title
			return item, nil
		},
	}
	srv := newTestServer(t, posts)

	rec := doRequest(srv, http.MethodPatch, "/posts/3", `{"title":"Renamed"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, gotPatch.Title)
	assert.Nil(t, gotPatch.Summary)
	assert.Contains(t, rec.Body.String(), `"title":"Renamed"`)

	rec = doRequest(srv, http.MethodPatch, "/posts/3", `[1,2]`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdatePost_NotFound(t *testing.T) {
	srv := newTestServer(t, &mockPostService{})

	rec := doRequest(srv, http.MethodPatch, "/posts/8", `{"summary":"s"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeletePost(t *testing.T) {
	var deleted int64
	posts := &mockPostService{
		deleteFn: func(_ context.Context, id int64) error {
			if id != 4 {
				return domain.ErrItemNotFound
			}
			deleted = id
			return nil
		},
	}
	srv := newTestServer(t, posts)

	rec := doRequest(srv, http.MethodDelete, "/posts/4", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())
	assert.Equal(t, int64(4), deleted)

	rec = doRequest(srv, http.MethodDelete, "/posts/5", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRunPoll(t *testing.T) {
	posts := &mockPostService{
		runPollFn: func(context.Context) (int, error) { return 0, nil },
	}
	srv := newTestServer(t, posts)

	rec := doRequest(srv, http.MethodPost, "/posts/run", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","added":0}`, rec.Body.String())
}

func TestRunPoll_FeedFailure(t *testing.T) {
	posts := &mockPostService{
		runPollFn: func(context.Context) (int, error) { return 0, domain.ErrMalformedFeed },
	}
	srv := newTestServer(t, posts)

	rec := doRequest(srv, http.MethodPost, "/posts/run", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "error", resp["status"])
	assert.Contains(t, resp["message"], "malformed feed")
}
