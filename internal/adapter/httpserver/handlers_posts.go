package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/tutulonan/rsspulse/internal/app"
	"github.com/tutulonan/rsspulse/internal/domain"
	apperrors "github.com/tutulonan/rsspulse/internal/platform/errors"
)

const (
	manualPollRate  = 1.0
	manualPollBurst = 2
)

type createPostRequest struct {
	Title     string  `json:"title"`
	Link      string  `json:"link"`
	Summary   string  `json:"summary"`
	Published string  `json:"published"`
	Author    string  `json:"author"`
	Category  *string `json:"category"`
	Source    string  `json:"source"`
}

type deleteResponse struct {
	OK bool `json:"ok"`
}

type pollResponse struct {
	Status string `json:"status"`
	Added  int    `json:"added"`
}

type pollFailedResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (s *Server) registerPostRoutes() {
	s.echo.GET("/posts", s.handleListPosts)
	s.echo.POST("/posts", s.handleCreatePost)
	s.echo.POST("/posts/run", s.handleRunPoll, newRateLimiter(manualPollRate, manualPollBurst))
	s.echo.GET("/posts/:id", s.handleGetPost)
	s.echo.PATCH("/posts/:id", s.handleUpdatePost)
	s.echo.DELETE("/posts/:id", s.handleDeletePost)
}

func (s *Server) handleListPosts(c echo.Context) error {
	offset, err := queryInt(c, "skip", 0)
	if err != nil {
		return err
	}
	limit, err := queryInt(c, "limit", app.DefaultListLimit)
	if err != nil {
		return err
	}

	items, err := s.posts.List(c.Request().Context(), offset, limit)
	if err != nil {
		return apperrors.InternalError("failed to list posts", err)
	}
	if items == nil {
		items = []domain.Item{}
	}

	if err := c.JSON(http.StatusOK, items); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleGetPost(c echo.Context) error {
	id, err := postID(c)
	if err != nil {
		return err
	}

	item, err := s.posts.Get(c.Request().Context(), id)
	if err != nil {
		return withPostID(err, id)
	}

	if err := c.JSON(http.StatusOK, item); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleCreatePost(c echo.Context) error {
	var req createPostRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return apperrors.ValidationError("request body must be a JSON object").WithField("reason", err.Error())
	}

	item, err := s.posts.Create(c.Request().Context(), domain.ItemDraft{
		Title:     req.Title,
		Link:      req.Link,
		Summary:   req.Summary,
		Published: req.Published,
		Author:    req.Author,
		Category:  req.Category,
		Source:    req.Source,
	})
	if err != nil {
		return apperrors.AsStructuredError(err).WithField("link", req.Link)
	}

	if err := c.JSON(http.StatusOK, item); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleUpdatePost(c echo.Context) error {
	id, err := postID(c)
	if err != nil {
		return err
	}

	var patch domain.ItemPatch
	if err := json.NewDecoder(c.Request().Body).Decode(&patch); err != nil {
		return apperrors.ValidationError("request body must be a JSON object").WithField("reason", err.Error())
	}

	item, err := s.posts.Update(c.Request().Context(), id, patch)
	if err != nil {
		return withPostID(err, id)
	}

	if err := c.JSON(http.StatusOK, item); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleDeletePost(c echo.Context) error {
	id, err := postID(c)
	if err != nil {
		return err
	}

	if err := s.posts.Delete(c.Request().Context(), id); err != nil {
		return withPostID(err, id)
	}

	if err := c.JSON(http.StatusOK, deleteResponse{OK: true}); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

// handleRunPoll reports a failed feed fetch in the body, not as an HTTP error.
func (s *Server) handleRunPoll(c echo.Context) error {
	var resp any
	added, err := s.posts.RunPoll(c.Request().Context())
	if err != nil {
		resp = pollFailedResponse{Status: "error", Message: "failed to fetch the feed: " + err.Error()}
	} else {
		resp = pollResponse{Status: "ok", Added: added}
	}

	if err := c.JSON(http.StatusOK, resp); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func postID(c echo.Context) (int64, error) {
	raw := c.Param("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		return 0, apperrors.ValidationError("post id must be a positive integer").WithField("id", raw)
	}
	return id, nil
}

func queryInt(c echo.Context, name string, fallback int) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperrors.ValidationError(name + " must be an integer").WithField(name, raw)
	}
	return v, nil
}

func withPostID(err error, id int64) error {
	if errors.Is(err, domain.ErrItemNotFound) {
		return apperrors.NotFoundError("post not found").WithField("post_id", id)
	}
	return apperrors.AsStructuredError(err).WithField("post_id", id)
}
