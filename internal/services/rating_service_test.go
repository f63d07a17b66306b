package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	domain "github.com/oakmart/storefront-api/internal/domain"
	"github.com/oakmart/storefront-api/internal/repositories"
)

type stubReviewRepository struct {
	mu                    sync.Mutex
	insertFn              func(context.Context, domain.Review) (domain.Review, error)
	updateFn              func(context.Context, domain.Review) (domain.Review, error)
	findByIDFn            func(context.Context, string) (domain.Review, error)
	findByUserAndProdFn   func(context.Context, string, string) (domain.Review, error)
	listByProductFn       func(context.Context, string, repositories.ReviewListFilter) (domain.CursorPage[domain.Review], error)
	listActiveByProductFn func(context.Context, string) ([]domain.Review, error)
	softDeleteFn          func(context.Context, string, time.Time) (domain.Review, error)
	inserted              []domain.Review
}

func (s *stubReviewRepository) Insert(ctx context.Context, review domain.Review) (domain.Review, error) {
	s.mu.Lock()
	s.inserted = append(s.inserted, review)
	s.mu.Unlock()
	if s.insertFn != nil {
		return s.insertFn(ctx, review)
	}
	return review, nil
}

func (s *stubReviewRepository) Update(ctx context.Context, review domain.Review) (domain.Review, error) {
	if s.updateFn != nil {
		return s.updateFn(ctx, review)
	}
	return review, nil
}

func (s *stubReviewRepository) FindByID(ctx context.Context, reviewID string) (domain.Review, error) {
	if s.findByIDFn != nil {
		return s.findByIDFn(ctx, reviewID)
	}
	return domain.Review{}, &testRepoError{notFound: true}
}

func (s *stubReviewRepository) FindByUserAndProduct(ctx context.Context, userID, productID string) (domain.Review, error) {
	if s.findByUserAndProdFn != nil {
		return s.findByUserAndProdFn(ctx, userID, productID)
	}
	return domain.Review{}, &testRepoError{notFound: true}
}

func (s *stubReviewRepository) ListByProduct(ctx context.Context, productID string, filter repositories.ReviewListFilter) (domain.CursorPage[domain.Review], error) {
	if s.listByProductFn != nil {
		return s.listByProductFn(ctx, productID, filter)
	}
	return domain.CursorPage[domain.Review]{}, nil
}

func (s *stubReviewRepository) ListActiveByProduct(ctx context.Context, productID string) ([]domain.Review, error) {
	if s.listActiveByProductFn != nil {
		return s.listActiveByProductFn(ctx, productID)
	}
	return nil, nil
}

func (s *stubReviewRepository) SoftDelete(ctx context.Context, reviewID string, deletedAt time.Time) (domain.Review, error) {
	if s.softDeleteFn != nil {
		return s.softDeleteFn(ctx, reviewID, deletedAt)
	}
	return domain.Review{}, &testRepoError{notFound: true}
}

func TestRatingServiceRecomputeMean(t *testing.T) {
	reviews := &stubReviewRepository{}
	reviews.listActiveByProductFn = func(context.Context, string) ([]domain.Review, error) {
		return []domain.Review{
			{ID: "rev_1", Rating: 5},
			{ID: "rev_2", Rating: 4},
			{ID: "rev_3", Rating: 4},
		}, nil
	}

	var written domain.Rating
	products := &stubProductRepository{}
	products.updateRatingFn = func(_ context.Context, _ string, rating domain.Rating, _ time.Time) error {
		written = rating
		return nil
	}

	svc, err := NewRatingService(RatingServiceDeps{Reviews: reviews, Products: products})
	if err != nil {
		t.Fatalf("new rating service: %v", err)
	}

	rating, err := svc.Recompute(context.Background(), "prd_a")
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}

	// (5+4+4)/3 = 4.333... rounds to one decimal place.
	if rating.Average != 4.3 {
		t.Fatalf("expected average 4.3, got %v", rating.Average)
	}
	if rating.Count != 3 {
		t.Fatalf("expected count 3, got %d", rating.Count)
	}
	if written != rating {
		t.Fatalf("expected persisted rating %+v, got %+v", rating, written)
	}
}

func TestRatingServiceRecomputeResetsWhenNoActiveReviews(t *testing.T) {
	reviews := &stubReviewRepository{}
	products := &stubProductRepository{}

	svc, err := NewRatingService(RatingServiceDeps{Reviews: reviews, Products: products})
	if err != nil {
		t.Fatalf("new rating service: %v", err)
	}

	rating, err := svc.Recompute(context.Background(), "prd_a")
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if rating.Average != 0 || rating.Count != 0 {
		t.Fatalf("expected zero rating, got %+v", rating)
	}
}

func TestRatingServiceRecomputeIsIdempotent(t *testing.T) {
	reviews := &stubReviewRepository{}
	reviews.listActiveByProductFn = func(context.Context, string) ([]domain.Review, error) {
		return []domain.Review{{ID: "rev_1", Rating: 3}, {ID: "rev_2", Rating: 4}}, nil
	}
	products := &stubProductRepository{}

	svc, err := NewRatingService(RatingServiceDeps{Reviews: reviews, Products: products})
	if err != nil {
		t.Fatalf("new rating service: %v", err)
	}

	first, err := svc.Recompute(context.Background(), "prd_a")
	if err != nil {
		t.Fatalf("first recompute: %v", err)
	}
	second, err := svc.Recompute(context.Background(), "prd_a")
	if err != nil {
		t.Fatalf("second recompute: %v", err)
	}
	if first != second {
		t.Fatalf("expected identical results, got %+v then %+v", first, second)
	}
}

func TestRatingServiceSerialisesPerProduct(t *testing.T) {
	var active int32
	var maxActive int32
	var seen sync.Mutex

	reviews := &stubReviewRepository{}
	reviews.listActiveByProductFn = func(context.Context, string) ([]domain.Review, error) {
		seen.Lock()
		active++
		if active > maxActive {
			maxActive = active
		}
		seen.Unlock()
		time.Sleep(2 * time.Millisecond)
		seen.Lock()
		active--
		seen.Unlock()
		return []domain.Review{{ID: "rev_1", Rating: 5}}, nil
	}
	products := &stubProductRepository{}

	svc, err := NewRatingService(RatingServiceDeps{Reviews: reviews, Products: products})
	if err != nil {
		t.Fatalf("new rating service: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Recompute(context.Background(), "prd_hot"); err != nil {
				t.Errorf("recompute: %v", err)
			}
		}()
	}
	wg.Wait()

	if maxActive != 1 {
		t.Fatalf("expected recomputes for one product to serialise, observed %d concurrent", maxActive)
	}
}

func TestRatingServiceMapsNotFound(t *testing.T) {
	reviews := &stubReviewRepository{}
	products := &stubProductRepository{}
	products.updateRatingFn = func(context.Context, string, domain.Rating, time.Time) error {
		return &testRepoError{notFound: true}
	}

	svc, err := NewRatingService(RatingServiceDeps{Reviews: reviews, Products: products})
	if err != nil {
		t.Fatalf("new rating service: %v", err)
	}

	if _, err := svc.Recompute(context.Background(), "prd_gone"); !errors.Is(err, ErrRatingProductNotFound) {
		t.Fatalf("expected product not found, got %v", err)
	}
}
