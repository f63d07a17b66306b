package firestore

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/oakmart/storefront-api/internal/domain"
	pfirestore "github.com/oakmart/storefront-api/internal/platform/firestore"
	"github.com/oakmart/storefront-api/internal/repositories"
)

const reviewsCollection = "reviews"

// ReviewRepository persists product reviews. Uniqueness per (user, product)
// pair is enforced with an in-transaction query before the insert.
type ReviewRepository struct {
	provider *pfirestore.Provider
	reviews  *pfirestore.BaseRepository[reviewDocument]
}

// NewReviewRepository constructs a Firestore-backed review repository.
func NewReviewRepository(provider *pfirestore.Provider) (*ReviewRepository, error) {
	if provider == nil {
		return nil, errors.New("review repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[reviewDocument](provider, reviewsCollection, nil, nil)
	return &ReviewRepository{provider: provider, reviews: base}, nil
}

// Insert stores the review after checking no active review exists for the
// same user and product inside the same transaction.
func (r *ReviewRepository) Insert(ctx context.Context, review domain.Review) (domain.Review, error) {
	if r == nil || r.provider == nil {
		return domain.Review{}, errors.New("review repository not initialised")
	}
	id := strings.TrimSpace(review.ID)
	if id == "" {
		return domain.Review{}, errors.New("review repository: review id is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.Review{}, err
	}

	var saved domain.Review
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		dupQuery := client.Collection(reviewsCollection).Query.
			Where("userRef", "==", strings.TrimSpace(review.UserRef)).
			Where("productRef", "==", strings.TrimSpace(review.ProductRef)).
			Where("isActive", "==", true).
			Limit(1)
		snaps, err := tx.Documents(dupQuery).GetAll()
		if err != nil {
			return err
		}
		if len(snaps) > 0 {
			return status.Errorf(codes.AlreadyExists, "review for product %s by user %s already exists", review.ProductRef, review.UserRef)
		}

		ref, err := r.reviews.DocumentRef(ctx, id)
		if err != nil {
			return err
		}
		doc := newReviewDocument(review)
		if err := tx.Create(ref, doc); err != nil {
			return err
		}
		saved = doc.toDomain(id)
		return nil
	})
	if err != nil {
		return domain.Review{}, pfirestore.WrapError("reviews.insert", err)
	}
	return saved, nil
}

// Update overwrites an existing review document.
func (r *ReviewRepository) Update(ctx context.Context, review domain.Review) (domain.Review, error) {
	if r == nil || r.reviews == nil {
		return domain.Review{}, errors.New("review repository not initialised")
	}
	id := strings.TrimSpace(review.ID)
	if id == "" {
		return domain.Review{}, errors.New("review repository: review id is required")
	}
	doc := newReviewDocument(review)
	if _, err := r.reviews.Set(ctx, id, doc); err != nil {
		return domain.Review{}, err
	}
	return doc.toDomain(id), nil
}

// FindByID loads one review document.
func (r *ReviewRepository) FindByID(ctx context.Context, reviewID string) (domain.Review, error) {
	if r == nil || r.reviews == nil {
		return domain.Review{}, errors.New("review repository not initialised")
	}
	id := strings.TrimSpace(reviewID)
	if id == "" {
		return domain.Review{}, errors.New("review repository: review id is required")
	}
	doc, err := r.reviews.Get(ctx, id)
	if err != nil {
		return domain.Review{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// FindByUserAndProduct returns the active review a user left on a product.
func (r *ReviewRepository) FindByUserAndProduct(ctx context.Context, userID string, productID string) (domain.Review, error) {
	if r == nil || r.provider == nil {
		return domain.Review{}, errors.New("review repository not initialised")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.Review{}, err
	}

	iter := client.Collection(reviewsCollection).Query.
		Where("userRef", "==", strings.TrimSpace(userID)).
		Where("productRef", "==", strings.TrimSpace(productID)).
		Where("isActive", "==", true).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	snap, err := iter.Next()
	if errors.Is(err, iterator.Done) {
		return domain.Review{}, pfirestore.WrapError("reviews.findByUserAndProduct",
			status.Errorf(codes.NotFound, "review by %s for %s not found", userID, productID))
	}
	if err != nil {
		return domain.Review{}, pfirestore.WrapError("reviews.findByUserAndProduct", err)
	}
	var doc reviewDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Review{}, fmt.Errorf("decode review %s: %w", snap.Ref.ID, err)
	}
	return doc.toDomain(snap.Ref.ID), nil
}

// ListByProduct returns a page of reviews for a product, newest first.
func (r *ReviewRepository) ListByProduct(ctx context.Context, productID string, filter repositories.ReviewListFilter) (domain.CursorPage[domain.Review], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.Review]{}, errors.New("review repository not initialised")
	}
	pid := strings.TrimSpace(productID)
	if pid == "" {
		return domain.CursorPage[domain.Review]{}, errors.New("review repository: product id is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.Review]{}, err
	}

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}

	query := client.Collection(reviewsCollection).Query.
		Where("productRef", "==", pid)
	if filter.ActiveOnly {
		query = query.Where("isActive", "==", true)
	}
	query = query.OrderBy("createdAt", firestore.Desc).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Limit(pageSize + 1)

	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		cursor, err := decodeReviewPageToken(token)
		if err != nil {
			return domain.CursorPage[domain.Review]{}, pfirestore.WrapError("reviews.listByProduct", err)
		}
		query = query.StartAfter(cursor.CreatedAt, cursor.ID)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var reviews []domain.Review
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.Review]{}, pfirestore.WrapError("reviews.listByProduct", err)
		}
		var doc reviewDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.Review]{}, fmt.Errorf("decode review %s: %w", snap.Ref.ID, err)
		}
		reviews = append(reviews, doc.toDomain(snap.Ref.ID))
	}

	hasMore := len(reviews) > pageSize
	if hasMore {
		reviews = reviews[:pageSize]
	}
	var nextToken string
	if hasMore && len(reviews) > 0 {
		last := reviews[len(reviews)-1]
		nextToken, err = encodeReviewPageToken(reviewPageToken{ID: last.ID, CreatedAt: last.CreatedAt})
		if err != nil {
			return domain.CursorPage[domain.Review]{}, pfirestore.WrapError("reviews.listByProduct", err)
		}
	}

	return domain.CursorPage[domain.Review]{
		Items:         reviews,
		NextPageToken: nextToken,
	}, nil
}

// ListActiveByProduct returns every active review for one product without paging.
// Used when recomputing the product rating summary.
func (r *ReviewRepository) ListActiveByProduct(ctx context.Context, productID string) ([]domain.Review, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("review repository not initialised")
	}
	pid := strings.TrimSpace(productID)
	if pid == "" {
		return nil, errors.New("review repository: product id is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}

	iter := client.Collection(reviewsCollection).Query.
		Where("productRef", "==", pid).
		Where("isActive", "==", true).
		Documents(ctx)
	defer iter.Stop()

	var reviews []domain.Review
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, pfirestore.WrapError("reviews.listActiveByProduct", err)
		}
		var doc reviewDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode review %s: %w", snap.Ref.ID, err)
		}
		reviews = append(reviews, doc.toDomain(snap.Ref.ID))
	}
	return reviews, nil
}

// SoftDelete marks a review inactive so it stops counting towards the product rating.
func (r *ReviewRepository) SoftDelete(ctx context.Context, reviewID string, deletedAt time.Time) (domain.Review, error) {
	if r == nil || r.provider == nil {
		return domain.Review{}, errors.New("review repository not initialised")
	}
	id := strings.TrimSpace(reviewID)
	if id == "" {
		return domain.Review{}, errors.New("review repository: review id is required")
	}

	now := deletedAt.UTC()
	if now.IsZero() {
		now = time.Now().UTC()
	}
	var updated domain.Review

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.reviews.DocumentRef(ctx, id)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var doc reviewDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode review %s: %w", id, err)
		}
		doc.IsActive = false
		doc.UpdatedAt = now
		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		updated = doc.toDomain(id)
		return nil
	})
	if err != nil {
		return domain.Review{}, pfirestore.WrapError("reviews.softDelete", err)
	}
	return updated, nil
}

// Helper structures ---------------------------------------------------------

type reviewDocument struct {
	ProductRef string    `firestore:"productRef"`
	UserRef    string    `firestore:"userRef"`
	Rating     int       `firestore:"rating"`
	Title      string    `firestore:"title,omitempty"`
	Comment    string    `firestore:"comment,omitempty"`
	IsActive   bool      `firestore:"isActive"`
	CreatedAt  time.Time `firestore:"createdAt"`
	UpdatedAt  time.Time `firestore:"updatedAt"`
}

func newReviewDocument(review domain.Review) reviewDocument {
	return reviewDocument{
		ProductRef: strings.TrimSpace(review.ProductRef),
		UserRef:    strings.TrimSpace(review.UserRef),
		Rating:     review.Rating,
		Title:      strings.TrimSpace(review.Title),
		Comment:    strings.TrimSpace(review.Comment),
		IsActive:   review.IsActive,
		CreatedAt:  review.CreatedAt.UTC(),
		UpdatedAt:  review.UpdatedAt.UTC(),
	}
}

func (d reviewDocument) toDomain(id string) domain.Review {
	return domain.Review{
		ID:         id,
		ProductRef: strings.TrimSpace(d.ProductRef),
		UserRef:    strings.TrimSpace(d.UserRef),
		Rating:     d.Rating,
		Title:      d.Title,
		Comment:    d.Comment,
		IsActive:   d.IsActive,
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
	}
}

type reviewPageToken struct {
	ID        string
	CreatedAt time.Time
}

func encodeReviewPageToken(token reviewPageToken) (string, error) {
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(token); err != nil {
		return "", fmt.Errorf("encode review page token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(bytes.TrimSpace(buf.Bytes())), nil
}

func decodeReviewPageToken(encoded string) (*reviewPageToken, error) {
	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode review page token: %w", err)
	}
	var token reviewPageToken
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("decode review page token json: %w", err)
	}
	return &token, nil
}

var _ repositories.ReviewRepository = (*ReviewRepository)(nil)
