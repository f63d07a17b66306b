package services

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"time"

	domain "github.com/oakmart/storefront-api/internal/domain"
	"github.com/oakmart/storefront-api/internal/repositories"
)

const ratingStripeCount = 64

var (
	// ErrRatingInvalidInput indicates the caller supplied an unusable product id.
	ErrRatingInvalidInput = errors.New("rating: invalid input")
	// ErrRatingProductNotFound indicates the product no longer exists.
	ErrRatingProductNotFound = errors.New("rating: product not found")
)

// RatingServiceDeps bundles collaborators required to construct a rating service.
type RatingServiceDeps struct {
	Reviews  repositories.ReviewRepository
	Products repositories.ProductRepository
	Clock    func() time.Time
}

// ratingService serialises recomputes per product with a fixed stripe of
// mutexes, so concurrent review writes to the same product cannot interleave
// their read-recompute-write cycles while unrelated products stay parallel.
type ratingService struct {
	reviews  repositories.ReviewRepository
	products repositories.ProductRepository
	clock    func() time.Time
	stripes  [ratingStripeCount]sync.Mutex
}

var _ RatingService = (*ratingService)(nil)

// NewRatingService wires dependencies into a concrete RatingService implementation.
func NewRatingService(deps RatingServiceDeps) (RatingService, error) {
	if deps.Reviews == nil {
		return nil, errors.New("rating service: review repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("rating service: product repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	return &ratingService{
		reviews:  deps.Reviews,
		products: deps.Products,
		clock: func() time.Time {
			return clock().UTC()
		},
	}, nil
}

func (s *ratingService) Recompute(ctx context.Context, productID string) (Rating, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return Rating{}, fmt.Errorf("%w: product id is required", ErrRatingInvalidInput)
	}

	stripe := &s.stripes[stripeIndex(productID)]
	stripe.Lock()
	defer stripe.Unlock()

	reviews, err := s.reviews.ListActiveByProduct(ctx, productID)
	if err != nil {
		return Rating{}, s.mapRepositoryError(err)
	}

	rating := summariseRatings(reviews)
	if err := s.products.UpdateRating(ctx, productID, rating, s.clock()); err != nil {
		return Rating{}, s.mapRepositoryError(err)
	}
	return rating, nil
}

func (s *ratingService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return ErrRatingProductNotFound
	}
	return err
}

// summariseRatings computes the mean rounded to one decimal place, or the
// zero summary when no active reviews remain.
func summariseRatings(reviews []domain.Review) Rating {
	if len(reviews) == 0 {
		return Rating{}
	}
	var sum int64
	for _, review := range reviews {
		sum += int64(review.Rating)
	}
	mean := float64(sum) / float64(len(reviews))
	return Rating{
		Average: math.Round(mean*10) / 10,
		Count:   len(reviews),
	}
}

func stripeIndex(productID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(productID))
	return int(h.Sum32() % ratingStripeCount)
}
