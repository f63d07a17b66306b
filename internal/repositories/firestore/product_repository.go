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

const productsCollection = "products"

// ProductRepository persists catalog products and owns the transactional stock
// adjustments performed during checkout and cancellation.
type ProductRepository struct {
	provider *pfirestore.Provider
	products *pfirestore.BaseRepository[productDocument]
}

// NewProductRepository constructs a Firestore-backed product repository.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[productDocument](provider, productsCollection, nil, nil)
	return &ProductRepository{provider: provider, products: base}, nil
}

// Insert creates a new product document; an existing ID surfaces as a conflict.
func (r *ProductRepository) Insert(ctx context.Context, product domain.Product) error {
	if r == nil || r.provider == nil {
		return errors.New("product repository not initialised")
	}
	id := strings.TrimSpace(product.ID)
	if id == "" {
		return errors.New("product repository: product id is required")
	}

	ref, err := r.products.DocumentRef(ctx, id)
	if err != nil {
		return err
	}
	if _, err := ref.Create(ctx, newProductDocument(product)); err != nil {
		return pfirestore.WrapError("products.insert", err)
	}
	return nil
}

// Update overwrites the product document.
func (r *ProductRepository) Update(ctx context.Context, product domain.Product) error {
	if r == nil || r.products == nil {
		return errors.New("product repository not initialised")
	}
	id := strings.TrimSpace(product.ID)
	if id == "" {
		return errors.New("product repository: product id is required")
	}
	if _, err := r.products.Set(ctx, id, newProductDocument(product)); err != nil {
		return err
	}
	return nil
}

// FindByID loads one product document.
func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if r == nil || r.products == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	id := strings.TrimSpace(productID)
	if id == "" {
		return domain.Product{}, errors.New("product repository: product id is required")
	}
	doc, err := r.products.Get(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// List returns a page of products honouring category and active filters.
func (r *ProductRepository) List(ctx context.Context, filter repositories.ProductListFilter) (domain.CursorPage[domain.Product], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.Product]{}, errors.New("product repository not initialised")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.Product]{}, err
	}

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}

	sortField := "createdAt"
	switch filter.SortBy {
	case repositories.ProductSortPrice:
		sortField = "price"
	case repositories.ProductSortRating:
		sortField = "rating.average"
	}
	direction := firestore.Desc
	if filter.SortOrder == domain.SortAsc {
		direction = firestore.Asc
	}

	query := client.Collection(productsCollection).Query
	if filter.ActiveOnly {
		query = query.Where("isActive", "==", true)
	}
	if filter.Category != nil && strings.TrimSpace(*filter.Category) != "" {
		query = query.Where("category", "==", strings.TrimSpace(*filter.Category))
	}
	query = query.OrderBy(sortField, direction).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Limit(pageSize + 1)

	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		cursor, err := decodeProductPageToken(token)
		if err != nil {
			return domain.CursorPage[domain.Product]{}, pfirestore.WrapError("products.list", err)
		}
		query = query.StartAfter(cursor.sortValue(filter.SortBy), cursor.ID)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var products []domain.Product
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.Product]{}, pfirestore.WrapError("products.list", err)
		}
		var doc productDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.Product]{}, fmt.Errorf("decode product %s: %w", snap.Ref.ID, err)
		}
		products = append(products, doc.toDomain(snap.Ref.ID))
	}

	hasMore := len(products) > pageSize
	if hasMore {
		products = products[:pageSize]
	}
	var nextToken string
	if hasMore && len(products) > 0 {
		last := products[len(products)-1]
		nextToken, err = encodeProductPageToken(productPageToken{
			ID:        last.ID,
			CreatedAt: last.CreatedAt,
			Price:     last.Price,
			Rating:    last.Rating.Average,
		})
		if err != nil {
			return domain.CursorPage[domain.Product]{}, pfirestore.WrapError("products.list", err)
		}
	}

	return domain.CursorPage[domain.Product]{
		Items:         products,
		NextPageToken: nextToken,
	}, nil
}

// ReserveStock decrements stock for every line inside one transaction. When
// any line is short the transaction aborts and the returned StockError lists
// every shortage found, leaving all stock levels untouched.
func (r *ProductRepository) ReserveStock(ctx context.Context, req repositories.StockReserveRequest) (repositories.StockReserveResult, error) {
	if r == nil || r.provider == nil {
		return repositories.StockReserveResult{}, errors.New("product repository not initialised")
	}
	if len(req.Lines) == 0 {
		return repositories.StockReserveResult{}, errors.New("product repository: at least one stock line is required")
	}

	now := time.Now().UTC()
	var result repositories.StockReserveResult

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		type pending struct {
			ref *firestore.DocumentRef
			doc productDocument
		}

		writes := make([]pending, 0, len(req.Lines))
		remaining := make(map[string]int, len(req.Lines))
		var shortages []domain.StockShortage

		for _, line := range req.Lines {
			id := strings.TrimSpace(line.ProductRef)
			if id == "" {
				return repositories.NewStockError(repositories.StockErrorProductNotFound, "stock reserve: product ref is required", nil)
			}
			if line.Quantity <= 0 {
				return repositories.NewStockError(repositories.StockErrorUnknown, fmt.Sprintf("stock reserve: quantity for %s must be > 0", id), nil)
			}

			ref, err := r.products.DocumentRef(ctx, id)
			if err != nil {
				return err
			}
			snap, err := tx.Get(ref)
			if err != nil {
				if status.Code(err) == codes.NotFound {
					return repositories.NewStockError(repositories.StockErrorProductNotFound, fmt.Sprintf("product %s not found", id), err)
				}
				return err
			}
			var doc productDocument
			if err := snap.DataTo(&doc); err != nil {
				return fmt.Errorf("decode product %s: %w", id, err)
			}
			if !doc.IsActive {
				return repositories.NewStockError(repositories.StockErrorProductInactive, fmt.Sprintf("product %s is not available for sale", id), nil)
			}

			if doc.Stock < line.Quantity {
				shortages = append(shortages, domain.StockShortage{
					ProductRef: id,
					Requested:  line.Quantity,
					Available:  doc.Stock,
				})
				continue
			}

			doc.Stock -= line.Quantity
			doc.UpdatedAt = now
			writes = append(writes, pending{ref: ref, doc: doc})
			remaining[id] = doc.Stock
		}

		if len(shortages) > 0 {
			return repositories.NewInsufficientStockError(shortages)
		}

		for _, w := range writes {
			if err := tx.Set(w.ref, w.doc); err != nil {
				return err
			}
		}

		result = repositories.StockReserveResult{Remaining: remaining}
		return nil
	})
	if err != nil {
		return repositories.StockReserveResult{}, wrapStockError("products.reserveStock", err)
	}
	return result, nil
}

// RestoreStock adds quantities back after a failed checkout step or a cancellation.
func (r *ProductRepository) RestoreStock(ctx context.Context, req repositories.StockRestoreRequest) (repositories.StockRestoreResult, error) {
	if r == nil || r.provider == nil {
		return repositories.StockRestoreResult{}, errors.New("product repository not initialised")
	}
	if len(req.Lines) == 0 {
		return repositories.StockRestoreResult{}, errors.New("product repository: at least one stock line is required")
	}

	now := time.Now().UTC()
	var result repositories.StockRestoreResult

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		type pending struct {
			ref *firestore.DocumentRef
			doc productDocument
		}

		writes := make([]pending, 0, len(req.Lines))
		remaining := make(map[string]int, len(req.Lines))

		for _, line := range req.Lines {
			id := strings.TrimSpace(line.ProductRef)
			if id == "" {
				return repositories.NewStockError(repositories.StockErrorProductNotFound, "stock restore: product ref is required", nil)
			}
			if line.Quantity <= 0 {
				return repositories.NewStockError(repositories.StockErrorUnknown, fmt.Sprintf("stock restore: quantity for %s must be > 0", id), nil)
			}

			ref, err := r.products.DocumentRef(ctx, id)
			if err != nil {
				return err
			}
			snap, err := tx.Get(ref)
			if err != nil {
				if status.Code(err) == codes.NotFound {
					// Product removed since the order was placed; nothing to restore.
					continue
				}
				return err
			}
			var doc productDocument
			if err := snap.DataTo(&doc); err != nil {
				return fmt.Errorf("decode product %s: %w", id, err)
			}

			doc.Stock += line.Quantity
			doc.UpdatedAt = now
			writes = append(writes, pending{ref: ref, doc: doc})
			remaining[id] = doc.Stock
		}

		for _, w := range writes {
			if err := tx.Set(w.ref, w.doc); err != nil {
				return err
			}
		}

		result = repositories.StockRestoreResult{Remaining: remaining}
		return nil
	})
	if err != nil {
		return repositories.StockRestoreResult{}, wrapStockError("products.restoreStock", err)
	}
	return result, nil
}

// SetStock overwrites the absolute stock level for a product.
func (r *ProductRepository) SetStock(ctx context.Context, productID string, quantity int, updatedAt time.Time) (domain.Product, error) {
	if r == nil || r.provider == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	id := strings.TrimSpace(productID)
	if id == "" {
		return domain.Product{}, errors.New("product repository: product id is required")
	}
	if quantity < 0 {
		return domain.Product{}, repositories.NewStockError(repositories.StockErrorUnknown, "stock set: quantity must be >= 0", nil)
	}

	now := updatedAt.UTC()
	if now.IsZero() {
		now = time.Now().UTC()
	}
	var updated domain.Product

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.products.DocumentRef(ctx, id)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return repositories.NewStockError(repositories.StockErrorProductNotFound, fmt.Sprintf("product %s not found", id), err)
			}
			return err
		}
		var doc productDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode product %s: %w", id, err)
		}
		doc.Stock = quantity
		doc.UpdatedAt = now
		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		updated = doc.toDomain(id)
		return nil
	})
	if err != nil {
		return domain.Product{}, wrapStockError("products.setStock", err)
	}
	return updated, nil
}

// UpdateRating overwrites the denormalized rating summary.
func (r *ProductRepository) UpdateRating(ctx context.Context, productID string, rating domain.Rating, updatedAt time.Time) error {
	if r == nil || r.products == nil {
		return errors.New("product repository not initialised")
	}
	id := strings.TrimSpace(productID)
	if id == "" {
		return errors.New("product repository: product id is required")
	}

	now := updatedAt.UTC()
	if now.IsZero() {
		now = time.Now().UTC()
	}

	updates := []firestore.Update{
		{Path: "rating.average", Value: rating.Average},
		{Path: "rating.count", Value: rating.Count},
		{Path: "updatedAt", Value: now},
	}
	if _, err := r.products.Update(ctx, id, updates); err != nil {
		return err
	}
	return nil
}

// Helper structures ---------------------------------------------------------

type productDocument struct {
	Name        string         `firestore:"name"`
	Description string         `firestore:"description,omitempty"`
	Category    string         `firestore:"category,omitempty"`
	Price       int64          `firestore:"price"`
	Currency    string         `firestore:"currency"`
	Stock       int            `firestore:"stock"`
	IsActive    bool           `firestore:"isActive"`
	Rating      ratingDocument `firestore:"rating"`
	ImageURL    string         `firestore:"imageUrl,omitempty"`
	CreatedAt   time.Time      `firestore:"createdAt"`
	UpdatedAt   time.Time      `firestore:"updatedAt"`
}

type ratingDocument struct {
	Average float64 `firestore:"average"`
	Count   int     `firestore:"count"`
}

func newProductDocument(product domain.Product) productDocument {
	return productDocument{
		Name:        strings.TrimSpace(product.Name),
		Description: strings.TrimSpace(product.Description),
		Category:    strings.TrimSpace(product.Category),
		Price:       product.Price,
		Currency:    strings.ToUpper(strings.TrimSpace(product.Currency)),
		Stock:       product.Stock,
		IsActive:    product.IsActive,
		Rating: ratingDocument{
			Average: product.Rating.Average,
			Count:   product.Rating.Count,
		},
		ImageURL:  strings.TrimSpace(product.ImageURL),
		CreatedAt: product.CreatedAt.UTC(),
		UpdatedAt: product.UpdatedAt.UTC(),
	}
}

func (d productDocument) toDomain(id string) domain.Product {
	return domain.Product{
		ID:          id,
		Name:        strings.TrimSpace(d.Name),
		Description: d.Description,
		Category:    strings.TrimSpace(d.Category),
		Price:       d.Price,
		Currency:    strings.ToUpper(strings.TrimSpace(d.Currency)),
		Stock:       d.Stock,
		IsActive:    d.IsActive,
		Rating: domain.Rating{
			Average: d.Rating.Average,
			Count:   d.Rating.Count,
		},
		ImageURL:  strings.TrimSpace(d.ImageURL),
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

type productPageToken struct {
	ID        string
	CreatedAt time.Time
	Price     int64
	Rating    float64
}

func (t productPageToken) sortValue(sort repositories.ProductSort) any {
	switch sort {
	case repositories.ProductSortPrice:
		return t.Price
	case repositories.ProductSortRating:
		return t.Rating
	default:
		return t.CreatedAt
	}
}

func encodeProductPageToken(token productPageToken) (string, error) {
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(token); err != nil {
		return "", fmt.Errorf("encode product page token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(bytes.TrimSpace(buf.Bytes())), nil
}

func decodeProductPageToken(encoded string) (*productPageToken, error) {
	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode product page token: %w", err)
	}
	var token productPageToken
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("decode product page token json: %w", err)
	}
	return &token, nil
}

func wrapStockError(op string, err error) error {
	if err == nil {
		return nil
	}
	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		if stockErr.Op == "" {
			stockErr.Op = op
		}
		return stockErr
	}
	return pfirestore.WrapError(op, err)
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)
