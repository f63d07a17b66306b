package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"

	domain "github.com/oakmart/storefront-api/internal/domain"
	"github.com/oakmart/storefront-api/internal/repositories"
)

const (
	reviewIDPrefix    = "rev_"
	reviewTitleMaxLen = 150
	reviewBodyMaxLen  = 4000
)

var (
	// ErrReviewInvalidInput indicates validation failures for review operations.
	ErrReviewInvalidInput = errors.New("review: invalid input")
	// ErrReviewNotFound indicates a review could not be located.
	ErrReviewNotFound = errors.New("review: not found")
	// ErrReviewForbidden indicates the actor is not allowed to modify the review.
	ErrReviewForbidden = errors.New("review: forbidden")
	// ErrReviewConflict signals a second review for the same (user, product) pair.
	ErrReviewConflict = errors.New("review: conflict")
)

// ReviewServiceDeps bundles collaborators required to construct a ReviewService.
type ReviewServiceDeps struct {
	Reviews     repositories.ReviewRepository
	Products    repositories.ProductRepository
	Ratings     RatingService
	Clock       func() time.Time
	IDGenerator func() string
	Sanitizer   func(string) string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type reviewService struct {
	reviews  repositories.ReviewRepository
	products repositories.ProductRepository
	ratings  RatingService
	clock    func() time.Time
	newID    func() string
	sanitize func(string) string
	logger   func(context.Context, string, map[string]any)
}

var _ ReviewService = (*reviewService)(nil)

// NewReviewService wires dependencies into a concrete ReviewService implementation.
func NewReviewService(deps ReviewServiceDeps) (ReviewService, error) {
	if deps.Reviews == nil {
		return nil, errors.New("review service: review repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("review service: product repository is required")
	}
	if deps.Ratings == nil {
		return nil, errors.New("review service: rating service is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return reviewIDPrefix + ulid.Make().String()
		}
	}
	sanitize := deps.Sanitizer
	if sanitize == nil {
		sanitize = newReviewSanitizer()
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &reviewService{
		reviews:  deps.Reviews,
		products: deps.Products,
		ratings:  deps.Ratings,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:    idGen,
		sanitize: sanitize,
		logger:   logger,
	}, nil
}

func (s *reviewService) Create(ctx context.Context, cmd CreateReviewCommand) (Review, error) {
	productID := strings.TrimSpace(cmd.ProductID)
	userID := strings.TrimSpace(cmd.UserID)
	if productID == "" {
		return Review{}, fmt.Errorf("%w: product id is required", ErrReviewInvalidInput)
	}
	if userID == "" {
		return Review{}, fmt.Errorf("%w: user id is required", ErrReviewInvalidInput)
	}
	if err := validateRatingValue(cmd.Rating); err != nil {
		return Review{}, err
	}

	title := s.sanitize(cmd.Title)
	comment := s.sanitize(cmd.Comment)
	if comment == "" {
		return Review{}, fmt.Errorf("%w: comment is required", ErrReviewInvalidInput)
	}
	if len(title) > reviewTitleMaxLen {
		return Review{}, fmt.Errorf("%w: title exceeds %d characters", ErrReviewInvalidInput, reviewTitleMaxLen)
	}
	if len(comment) > reviewBodyMaxLen {
		return Review{}, fmt.Errorf("%w: comment exceeds %d characters", ErrReviewInvalidInput, reviewBodyMaxLen)
	}

	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return Review{}, fmt.Errorf("%w: product %s not found", ErrReviewInvalidInput, productID)
		}
		return Review{}, err
	}
	if !product.IsActive {
		return Review{}, fmt.Errorf("%w: product %s is not available", ErrReviewInvalidInput, productID)
	}

	now := s.clock()
	review := domain.Review{
		ID:         s.newID(),
		ProductRef: productID,
		UserRef:    userID,
		Rating:     cmd.Rating,
		Title:      title,
		Comment:    comment,
		IsActive:   true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	created, err := s.reviews.Insert(ctx, review)
	if err != nil {
		return Review{}, s.mapRepositoryError(err)
	}

	s.recomputeRating(ctx, productID)
	return created, nil
}

func (s *reviewService) Update(ctx context.Context, cmd UpdateReviewCommand) (Review, error) {
	reviewID := strings.TrimSpace(cmd.ReviewID)
	if reviewID == "" {
		return Review{}, fmt.Errorf("%w: review id is required", ErrReviewInvalidInput)
	}
	if cmd.Rating == nil && cmd.Title == nil && cmd.Comment == nil {
		return Review{}, fmt.Errorf("%w: nothing to update", ErrReviewInvalidInput)
	}

	review, err := s.reviews.FindByID(ctx, reviewID)
	if err != nil {
		return Review{}, s.mapRepositoryError(err)
	}
	if review.UserRef != cmd.ActorID {
		return Review{}, ErrReviewForbidden
	}
	if !review.IsActive {
		return Review{}, ErrReviewNotFound
	}

	ratingChanged := false
	if cmd.Rating != nil && *cmd.Rating != review.Rating {
		if err := validateRatingValue(*cmd.Rating); err != nil {
			return Review{}, err
		}
		review.Rating = *cmd.Rating
		ratingChanged = true
	}
	if cmd.Title != nil {
		title := s.sanitize(*cmd.Title)
		if len(title) > reviewTitleMaxLen {
			return Review{}, fmt.Errorf("%w: title exceeds %d characters", ErrReviewInvalidInput, reviewTitleMaxLen)
		}
		review.Title = title
	}
	if cmd.Comment != nil {
		comment := s.sanitize(*cmd.Comment)
		if comment == "" {
			return Review{}, fmt.Errorf("%w: comment is required", ErrReviewInvalidInput)
		}
		if len(comment) > reviewBodyMaxLen {
			return Review{}, fmt.Errorf("%w: comment exceeds %d characters", ErrReviewInvalidInput, reviewBodyMaxLen)
		}
		review.Comment = comment
	}
	review.UpdatedAt = s.clock()

	updated, err := s.reviews.Update(ctx, review)
	if err != nil {
		return Review{}, s.mapRepositoryError(err)
	}

	if ratingChanged {
		s.recomputeRating(ctx, review.ProductRef)
	}
	return updated, nil
}

func (s *reviewService) Delete(ctx context.Context, cmd DeleteReviewCommand) error {
	reviewID := strings.TrimSpace(cmd.ReviewID)
	if reviewID == "" {
		return fmt.Errorf("%w: review id is required", ErrReviewInvalidInput)
	}

	review, err := s.reviews.FindByID(ctx, reviewID)
	if err != nil {
		return s.mapRepositoryError(err)
	}
	if !cmd.AllowStaff && review.UserRef != cmd.ActorID {
		return ErrReviewForbidden
	}
	if !review.IsActive {
		return nil
	}

	if _, err := s.reviews.SoftDelete(ctx, reviewID, s.clock()); err != nil {
		return s.mapRepositoryError(err)
	}

	s.recomputeRating(ctx, review.ProductRef)
	return nil
}

func (s *reviewService) ListByProduct(ctx context.Context, cmd ListProductReviewsCommand) (domain.CursorPage[Review], error) {
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return domain.CursorPage[Review]{}, fmt.Errorf("%w: product id is required", ErrReviewInvalidInput)
	}

	page, err := s.reviews.ListByProduct(ctx, productID, repositories.ReviewListFilter{
		ActiveOnly: true,
		Pagination: cmd.Pagination,
	})
	if err != nil {
		return domain.CursorPage[Review]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

// recomputeRating is synchronous but non-fatal: the next review event heals a
// stale summary, so a failed recompute only gets logged.
func (s *reviewService) recomputeRating(ctx context.Context, productID string) {
	if _, err := s.ratings.Recompute(ctx, productID); err != nil {
		s.logger(ctx, "rating_recompute_failed", map[string]any{
			"productId": productID,
			"error":     err.Error(),
		})
	}
}

func (s *reviewService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrReviewNotFound
		case repoErr.IsConflict():
			return fmt.Errorf("%w: a review for this product already exists", ErrReviewConflict)
		}
	}
	return err
}

func validateRatingValue(rating int) error {
	if rating < 1 || rating > 5 {
		return fmt.Errorf("%w: rating must be between 1 and 5", ErrReviewInvalidInput)
	}
	return nil
}

// newReviewSanitizer strips all markup with bluemonday's strict policy, then
// normalises whitespace while preserving intentional newlines.
func newReviewSanitizer() func(string) string {
	policy := bluemonday.StrictPolicy()
	return func(input string) string {
		cleaned := policy.Sanitize(input)
		trimmed := strings.TrimSpace(cleaned)
		if trimmed == "" {
			return ""
		}

		normalized := strings.ReplaceAll(strings.ReplaceAll(trimmed, "\r\n", "\n"), "\r", "\n")
		lines := strings.Split(normalized, "\n")
		for i, line := range lines {
			line = strings.Map(func(r rune) rune {
				if unicode.IsControl(r) && r != '\n' {
					return -1
				}
				return r
			}, line)
			lines[i] = strings.Join(strings.Fields(line), " ")
		}
		return strings.TrimSpace(strings.Join(lines, "\n"))
	}
}
