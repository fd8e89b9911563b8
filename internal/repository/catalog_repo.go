package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/Contoso-Inc/eShopOnAzure/internal/domain"
	"github.com/Contoso-Inc/eShopOnAzure/pkg/mylogger"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type CatalogRepository interface {
	Create(ctx context.Context, tx pgx.Tx, item *domain.CatalogItem) (int64, error)
	GetByID(ctx context.Context, id int64) (*domain.CatalogItem, error)
	GetPriceForUpdate(ctx context.Context, tx pgx.Tx, id int64) (int64, error)
	Update(ctx context.Context, tx pgx.Tx, item *domain.CatalogItem) error
	DeleteByID(ctx context.Context, id int64) error
	List(ctx context.Context, filter domain.ListFilter, limit, offset int64) ([]domain.CatalogItem, int64, error)
	SearchByNamePrefix(ctx context.Context, prefix string, limit, offset int64) ([]domain.CatalogItem, int64, error)
	SearchByVector(ctx context.Context, vector []float32, limit, offset int64) ([]domain.CatalogItem, error)
	CountItems(ctx context.Context) (int64, error)
	ListBrands(ctx context.Context) ([]domain.CatalogBrand, error)
	ListTypes(ctx context.Context) ([]domain.CatalogType, error)
}

const itemColumns = `id, name, description, price, picture_file_name,
		catalog_brand_id, catalog_type_id, available_stock,
		restock_threshold, max_stock_threshold, created_at, updated_at`

type catalogRepo struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer
	logger *zap.Logger
}

func NewCatalogRepository(pool *pgxpool.Pool, logger *zap.Logger) CatalogRepository {
	return &catalogRepo{
		pool:   pool,
		logger: logger,
		tracer: otel.Tracer("catalog/catalog_repo"),
	}
}

func (r *catalogRepo) Create(ctx context.Context, tx pgx.Tx, item *domain.CatalogItem) (int64, error) {
	ctx, span := r.tracer.Start(ctx, "CatalogRepository.Create")
	defer span.End()

	span.SetAttributes(
		attribute.String("name", item.Name),
	)

	query := `
		INSERT INTO catalog_items (name, description, price, picture_file_name,
			catalog_brand_id, catalog_type_id, available_stock,
			restock_threshold, max_stock_threshold, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id;
	`

	err := tx.QueryRow(
		ctx,
		query,
		item.Name,
		item.Description,
		item.Price,
		item.PictureFileName,
		item.CatalogBrandID,
		item.CatalogTypeID,
		item.AvailableStock,
		item.RestockThreshold,
		item.MaxStockThreshold,
		embeddingValue(item.Embedding),
	).Scan(&item.ID)
	if err != nil {
		span.RecordError(err)

		mylogger.Error(
			ctx,
			r.logger,
			"Error creating catalog item",
			zap.Error(err),
		)

		return 0, fmt.Errorf("error creating catalog item: %w", err)
	}

	return item.ID, nil
}

func (r *catalogRepo) GetByID(ctx context.Context, id int64) (*domain.CatalogItem, error) {
	ctx, span := r.tracer.Start(ctx, "CatalogRepository.GetByID")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("id", id),
	)

	query := `
		SELECT ` + itemColumns + `
		FROM catalog_items
		WHERE id = $1;
	`

	var res domain.CatalogItem
	if err := r.pool.QueryRow(ctx, query, id).
		Scan(&res.ID, &res.Name, &res.Description, &res.Price,
			&res.PictureFileName, &res.CatalogBrandID, &res.CatalogTypeID,
			&res.AvailableStock, &res.RestockThreshold, &res.MaxStockThreshold,
			&res.CreatedAt, &res.UpdatedAt,
		); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrItemNotFound
		}

		span.RecordError(err)

		mylogger.Error(
			ctx,
			r.logger,
			"Error getting catalog item",
			zap.Int64("id", id),
			zap.Error(err),
		)

		return nil, fmt.Errorf("error getting catalog item: %w", err)
	}

	return &res, nil
}

// GetPriceForUpdate reads the committed price under the row lock of the
// caller's transaction. Two concurrent updates to the same item serialize
// here, so neither can observe a stale original price.
func (r *catalogRepo) GetPriceForUpdate(ctx context.Context, tx pgx.Tx, id int64) (int64, error) {
	ctx, span := r.tracer.Start(ctx, "CatalogRepository.GetPriceForUpdate")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("id", id),
	)

	query := `
		SELECT price
		FROM catalog_items
		WHERE id = $1
		FOR UPDATE;
	`

	var price int64
	if err := tx.QueryRow(ctx, query, id).Scan(&price); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrItemNotFound
		}

		span.RecordError(err)

		return 0, fmt.Errorf("error locking catalog item %d: %w", id, err)
	}

	return price, nil
}

func (r *catalogRepo) Update(ctx context.Context, tx pgx.Tx, item *domain.CatalogItem) error {
	ctx, span := r.tracer.Start(ctx, "CatalogRepository.Update")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("id", item.ID),
	)

	query := `
		UPDATE catalog_items
		SET name = $2,
			description = $3,
			price = $4,
			picture_file_name = $5,
			catalog_brand_id = $6,
			catalog_type_id = $7,
			available_stock = $8,
			restock_threshold = $9,
			max_stock_threshold = $10,
			embedding = $11,
			updated_at = NOW()
		WHERE id = $1;
	`

	commandTag, err := tx.Exec(
		ctx,
		query,
		item.ID,
		item.Name,
		item.Description,
		item.Price,
		item.PictureFileName,
		item.CatalogBrandID,
		item.CatalogTypeID,
		item.AvailableStock,
		item.RestockThreshold,
		item.MaxStockThreshold,
		embeddingValue(item.Embedding),
	)
	if err != nil {
		span.RecordError(err)

		mylogger.Error(
			ctx,
			r.logger,
			"Failed to update catalog item",
			zap.Int64("id", item.ID),
			zap.Error(err),
		)

		return fmt.Errorf("error updating catalog item: %w", err)
	}

	if commandTag.RowsAffected() == 0 {
		return ErrItemNotFound
	}

	return nil
}

func (r *catalogRepo) DeleteByID(ctx context.Context, id int64) error {
	ctx, span := r.tracer.Start(ctx, "CatalogRepository.DeleteByID")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("id", id),
	)

	query := `
		DELETE FROM catalog_items
		WHERE id = $1;
	`

	commandTag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		span.RecordError(err)

		mylogger.Error(
			ctx,
			r.logger,
			"Error deleting catalog item",
			zap.Int64("id", id),
			zap.Error(err),
		)

		return fmt.Errorf("error deleting catalog item: %w", err)
	}

	if commandTag.RowsAffected() == 0 {
		return ErrItemNotFound
	}

	return nil
}

func (r *catalogRepo) List(ctx context.Context, filter domain.ListFilter, limit, offset int64) ([]domain.CatalogItem, int64, error) {
	ctx, span := r.tracer.Start(ctx, "CatalogRepository.List")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("limit", limit),
		attribute.Int64("offset", offset),
	)

	baseQuery := `SELECT ` + itemColumns + ` FROM catalog_items WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM catalog_items WHERE 1=1`

	var args []interface{}
	argId := 1

	if filter.BrandID > 0 {
		cond := fmt.Sprintf(" AND catalog_brand_id = $%d", argId)
		baseQuery += cond
		countQuery += cond
		args = append(args, filter.BrandID)
		argId++
	}
	if filter.TypeID > 0 {
		cond := fmt.Sprintf(" AND catalog_type_id = $%d", argId)
		baseQuery += cond
		countQuery += cond
		args = append(args, filter.TypeID)
		argId++
	}

	countArgs := append([]interface{}{}, args...)

	baseQuery += fmt.Sprintf(" ORDER BY name ASC, id ASC LIMIT $%d OFFSET $%d", argId, argId+1)
	args = append(args, limit, offset)

	items, err := r.queryItems(ctx, baseQuery, args...)
	if err != nil {
		span.RecordError(err)

		return nil, 0, err
	}

	var totalCount int64
	if err := r.pool.QueryRow(ctx, countQuery, countArgs...).Scan(&totalCount); err != nil {
		span.RecordError(err)

		return nil, 0, fmt.Errorf("failed to count catalog items: %w", err)
	}

	return items, totalCount, nil
}

// SearchByNamePrefix is the ranking fallback used while embeddings are
// disabled. Case sensitivity follows the store's matching semantics (ILIKE);
// the count covers the full match set, not the page.
func (r *catalogRepo) SearchByNamePrefix(ctx context.Context, prefix string, limit, offset int64) ([]domain.CatalogItem, int64, error) {
	ctx, span := r.tracer.Start(ctx, "CatalogRepository.SearchByNamePrefix")
	defer span.End()

	span.SetAttributes(
		attribute.String("prefix", prefix),
		attribute.Int64("limit", limit),
		attribute.Int64("offset", offset),
	)

	query := `
		SELECT ` + itemColumns + `
		FROM catalog_items
		WHERE name ILIKE $1 || '%'
		ORDER BY name ASC, id ASC
		LIMIT $2 OFFSET $3;
	`

	items, err := r.queryItems(ctx, query, prefix, limit, offset)
	if err != nil {
		span.RecordError(err)

		return nil, 0, err
	}

	countQuery := `
		SELECT COUNT(*)
		FROM catalog_items
		WHERE name ILIKE $1 || '%';
	`

	var totalCount int64
	if err := r.pool.QueryRow(ctx, countQuery, prefix).Scan(&totalCount); err != nil {
		span.RecordError(err)

		return nil, 0, fmt.Errorf("failed to count matching items: %w", err)
	}

	return items, totalCount, nil
}

// SearchByVector returns one page of the whole catalog ordered by cosine
// distance to the query vector, id as the tiebreak so repeated calls page
// stably. The distance is selected from the same expression that orders the
// rows; items without an embedding sort last with a nil distance.
func (r *catalogRepo) SearchByVector(ctx context.Context, vector []float32, limit, offset int64) ([]domain.CatalogItem, error) {
	ctx, span := r.tracer.Start(ctx, "CatalogRepository.SearchByVector")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("limit", limit),
		attribute.Int64("offset", offset),
	)

	query := `
		SELECT ` + itemColumns + `, embedding <=> $1 AS distance
		FROM catalog_items
		ORDER BY embedding <=> $1 ASC, id ASC
		LIMIT $2 OFFSET $3;
	`

	rows, err := r.pool.Query(ctx, query, pgvector.NewVector(vector), limit, offset)
	if err != nil {
		span.RecordError(err)

		mylogger.Error(
			ctx,
			r.logger,
			"Error running vector search",
			zap.Error(err),
		)

		return nil, fmt.Errorf("error running vector search: %w", err)
	}
	defer rows.Close()

	var items []domain.CatalogItem
	for rows.Next() {
		var item domain.CatalogItem
		if err := rows.Scan(
			&item.ID, &item.Name, &item.Description, &item.Price,
			&item.PictureFileName, &item.CatalogBrandID, &item.CatalogTypeID,
			&item.AvailableStock, &item.RestockThreshold, &item.MaxStockThreshold,
			&item.CreatedAt, &item.UpdatedAt, &item.Distance,
		); err != nil {
			span.RecordError(err)

			return nil, fmt.Errorf("error scanning rows: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)

		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return items, nil
}

func (r *catalogRepo) CountItems(ctx context.Context) (int64, error) {
	ctx, span := r.tracer.Start(ctx, "CatalogRepository.CountItems")
	defer span.End()

	var totalCount int64
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM catalog_items`).Scan(&totalCount)
	if err != nil {
		span.RecordError(err)

		return 0, fmt.Errorf("failed to count catalog items: %w", err)
	}

	return totalCount, nil
}

func (r *catalogRepo) ListBrands(ctx context.Context) ([]domain.CatalogBrand, error) {
	ctx, span := r.tracer.Start(ctx, "CatalogRepository.ListBrands")
	defer span.End()

	rows, err := r.pool.Query(ctx, `SELECT id, name FROM catalog_brands ORDER BY id ASC`)
	if err != nil {
		span.RecordError(err)

		return nil, fmt.Errorf("error selecting brands: %w", err)
	}
	defer rows.Close()

	var brands []domain.CatalogBrand
	for rows.Next() {
		var b domain.CatalogBrand
		if err := rows.Scan(&b.ID, &b.Name); err != nil {
			span.RecordError(err)

			return nil, fmt.Errorf("error scanning brand: %w", err)
		}
		brands = append(brands, b)
	}

	return brands, rows.Err()
}

func (r *catalogRepo) ListTypes(ctx context.Context) ([]domain.CatalogType, error) {
	ctx, span := r.tracer.Start(ctx, "CatalogRepository.ListTypes")
	defer span.End()

	rows, err := r.pool.Query(ctx, `SELECT id, name FROM catalog_types ORDER BY id ASC`)
	if err != nil {
		span.RecordError(err)

		return nil, fmt.Errorf("error selecting types: %w", err)
	}
	defer rows.Close()

	var types []domain.CatalogType
	for rows.Next() {
		var t domain.CatalogType
		if err := rows.Scan(&t.ID, &t.Name); err != nil {
			span.RecordError(err)

			return nil, fmt.Errorf("error scanning type: %w", err)
		}
		types = append(types, t)
	}

	return types, rows.Err()
}

func (r *catalogRepo) queryItems(ctx context.Context, query string, args ...interface{}) ([]domain.CatalogItem, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		mylogger.Error(
			ctx,
			r.logger,
			"Error selecting catalog items",
			zap.Error(err),
		)

		return nil, fmt.Errorf("error selecting catalog items: %w", err)
	}
	defer rows.Close()

	var items []domain.CatalogItem
	for rows.Next() {
		var item domain.CatalogItem
		if err := rows.Scan(
			&item.ID, &item.Name, &item.Description, &item.Price,
			&item.PictureFileName, &item.CatalogBrandID, &item.CatalogTypeID,
			&item.AvailableStock, &item.RestockThreshold, &item.MaxStockThreshold,
			&item.CreatedAt, &item.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("error scanning rows: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return items, nil
}

// embeddingValue maps a nil slice to SQL NULL so items created while the
// vector subsystem is disabled do not store a zero vector.
func embeddingValue(v []float32) interface{} {
	if v == nil {
		return nil
	}

	return pgvector.NewVector(v)
}
