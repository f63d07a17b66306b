package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	domain "github.com/oakmart/storefront-api/internal/domain"
	"github.com/oakmart/storefront-api/internal/platform/auth"
	"github.com/oakmart/storefront-api/internal/services"
)

type stubReviewService struct {
	createFn func(ctx context.Context, cmd services.CreateReviewCommand) (services.Review, error)
	updateFn func(ctx context.Context, cmd services.UpdateReviewCommand) (services.Review, error)
	deleteFn func(ctx context.Context, cmd services.DeleteReviewCommand) error
	listFn   func(ctx context.Context, cmd services.ListProductReviewsCommand) (domain.CursorPage[services.Review], error)
}

func (s *stubReviewService) Create(ctx context.Context, cmd services.CreateReviewCommand) (services.Review, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return services.Review{}, nil
}

func (s *stubReviewService) Update(ctx context.Context, cmd services.UpdateReviewCommand) (services.Review, error) {
	if s.updateFn != nil {
		return s.updateFn(ctx, cmd)
	}
	return services.Review{}, nil
}

func (s *stubReviewService) Delete(ctx context.Context, cmd services.DeleteReviewCommand) error {
	if s.deleteFn != nil {
		return s.deleteFn(ctx, cmd)
	}
	return nil
}

func (s *stubReviewService) ListByProduct(ctx context.Context, cmd services.ListProductReviewsCommand) (domain.CursorPage[services.Review], error) {
	if s.listFn != nil {
		return s.listFn(ctx, cmd)
	}
	return domain.CursorPage[services.Review]{}, nil
}

var _ services.ReviewService = (*stubReviewService)(nil)

type allowAllLimiter struct{}

func (allowAllLimiter) Allow(string) bool { return true }

type denyAllLimiter struct{}

func (denyAllLimiter) Allow(string) bool { return false }

func reviewFixture() services.Review {
	created := time.Date(2024, 5, 20, 9, 0, 0, 0, time.UTC)
	return services.Review{
		ID:         "rev_01abc",
		ProductRef: "prd_a",
		UserRef:    "user-1",
		Rating:     4,
		Title:      "Solid",
		Comment:    "Does what it says.",
		IsActive:   true,
		CreatedAt:  created,
		UpdatedAt:  created,
	}
}

func reviewTestRouter(handler *ReviewHandlers) http.Handler {
	return NewRouter(
		WithProductRoutes(handler.ProductRoutes),
		WithReviewRoutes(handler.Routes),
	)
}

func TestReviewHandlersCreate(t *testing.T) {
	var captured services.CreateReviewCommand
	service := &stubReviewService{
		createFn: func(_ context.Context, cmd services.CreateReviewCommand) (services.Review, error) {
			captured = cmd
			return reviewFixture(), nil
		},
	}

	handler := NewReviewHandlers(nil, service, WithReviewRateLimiter(allowAllLimiter{}))
	router := reviewTestRouter(handler)

	body := bytes.NewBufferString(`{"rating": 4, "title": "Solid", "comment": "Does what it says."}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/products/prd_a/reviews", body)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1"}))
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.ProductID != "prd_a" || captured.UserID != "user-1" || captured.Rating != 4 {
		t.Fatalf("unexpected command: %+v", captured)
	}

	var payload reviewResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if payload.Review.ID != "rev_01abc" || payload.Review.ProductID != "prd_a" {
		t.Fatalf("unexpected review payload: %+v", payload.Review)
	}
}

func TestReviewHandlersCreateRequiresAuth(t *testing.T) {
	handler := NewReviewHandlers(nil, &stubReviewService{})
	router := reviewTestRouter(handler)

	body := bytes.NewBufferString(`{"rating": 4, "comment": "nope"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/products/prd_a/reviews", body)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestReviewHandlersCreateRateLimited(t *testing.T) {
	createCalls := 0
	service := &stubReviewService{
		createFn: func(context.Context, services.CreateReviewCommand) (services.Review, error) {
			createCalls++
			return reviewFixture(), nil
		},
	}

	handler := NewReviewHandlers(nil, service, WithReviewRateLimiter(denyAllLimiter{}))
	router := reviewTestRouter(handler)

	body := bytes.NewBufferString(`{"rating": 4, "comment": "again"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/products/prd_a/reviews", body)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1"}))
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if createCalls != 0 {
		t.Fatalf("expected no create calls, got %d", createCalls)
	}

	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if payload["error"] != "rate_limited" {
		t.Fatalf("expected rate_limited, got %v", payload["error"])
	}
}

func TestReviewHandlersCreateConflict(t *testing.T) {
	service := &stubReviewService{
		createFn: func(context.Context, services.CreateReviewCommand) (services.Review, error) {
			return services.Review{}, services.ErrReviewConflict
		},
	}

	handler := NewReviewHandlers(nil, service, WithReviewRateLimiter(allowAllLimiter{}))
	router := reviewTestRouter(handler)

	body := bytes.NewBufferString(`{"rating": 5, "comment": "twice"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/products/prd_a/reviews", body)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1"}))
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}

	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if payload["error"] != "review_conflict" {
		t.Fatalf("expected review_conflict, got %v", payload["error"])
	}
}

func TestReviewHandlersListByProduct(t *testing.T) {
	var captured services.ListProductReviewsCommand
	service := &stubReviewService{
		listFn: func(_ context.Context, cmd services.ListProductReviewsCommand) (domain.CursorPage[services.Review], error) {
			captured = cmd
			return domain.CursorPage[services.Review]{
				Items:         []services.Review{reviewFixture()},
				NextPageToken: "tok-2",
			}, nil
		},
	}

	handler := NewReviewHandlers(nil, service)
	router := reviewTestRouter(handler)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/products/prd_a/reviews?pageSize=5&pageToken=tok-1", nil)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.ProductID != "prd_a" || captured.Pagination.PageSize != 5 || captured.Pagination.PageToken != "tok-1" {
		t.Fatalf("unexpected command: %+v", captured)
	}

	var payload reviewListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(payload.Items) != 1 || payload.Items[0].UserID != "user-1" {
		t.Fatalf("unexpected items: %+v", payload.Items)
	}
	if payload.NextPageToken != "tok-2" {
		t.Fatalf("expected tok-2, got %q", payload.NextPageToken)
	}
}

func TestReviewHandlersUpdateOwner(t *testing.T) {
	var captured services.UpdateReviewCommand
	service := &stubReviewService{
		updateFn: func(_ context.Context, cmd services.UpdateReviewCommand) (services.Review, error) {
			captured = cmd
			updated := reviewFixture()
			updated.Rating = 2
			return updated, nil
		},
	}

	handler := NewReviewHandlers(nil, service)
	router := reviewTestRouter(handler)

	body := bytes.NewBufferString(`{"rating": 2}`)
	req := httptest.NewRequest(http.MethodPut, "/api/v1/reviews/rev_01abc", body)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1"}))
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.ReviewID != "rev_01abc" || captured.ActorID != "user-1" {
		t.Fatalf("unexpected command: %+v", captured)
	}
	if captured.Rating == nil || *captured.Rating != 2 {
		t.Fatalf("expected rating pointer 2, got %+v", captured.Rating)
	}
	if captured.Title != nil || captured.Comment != nil {
		t.Fatalf("expected untouched fields to stay nil: %+v", captured)
	}
}

func TestReviewHandlersUpdateForbidden(t *testing.T) {
	service := &stubReviewService{
		updateFn: func(context.Context, services.UpdateReviewCommand) (services.Review, error) {
			return services.Review{}, services.ErrReviewForbidden
		},
	}

	handler := NewReviewHandlers(nil, service)
	router := reviewTestRouter(handler)

	body := bytes.NewBufferString(`{"rating": 1}`)
	req := httptest.NewRequest(http.MethodPut, "/api/v1/reviews/rev_01abc", body)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "someone-else"}))
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

func TestReviewHandlersDeleteAsAdmin(t *testing.T) {
	var captured services.DeleteReviewCommand
	service := &stubReviewService{
		deleteFn: func(_ context.Context, cmd services.DeleteReviewCommand) error {
			captured = cmd
			return nil
		},
	}

	handler := NewReviewHandlers(nil, service)
	router := reviewTestRouter(handler)

	req := authenticatedRequest(http.MethodDelete, "/api/v1/reviews/rev_01abc", nil, &auth.Identity{
		UID:   "staff-1",
		Roles: []string{"admin"},
	})
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if captured.ReviewID != "rev_01abc" || captured.ActorID != "staff-1" || !captured.AllowStaff {
		t.Fatalf("unexpected command: %+v", captured)
	}
}

func TestReviewHandlersDeleteNotFound(t *testing.T) {
	service := &stubReviewService{
		deleteFn: func(context.Context, services.DeleteReviewCommand) error {
			return services.ErrReviewNotFound
		},
	}

	handler := NewReviewHandlers(nil, service)
	router := reviewTestRouter(handler)

	req := authenticatedRequest(http.MethodDelete, "/api/v1/reviews/rev_gone", nil, &auth.Identity{UID: "user-1"})
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}
