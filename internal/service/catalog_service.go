package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Contoso-Inc/eShopOnAzure/internal/domain"
	"github.com/Contoso-Inc/eShopOnAzure/internal/embeddings"
	outboxDomain "github.com/Contoso-Inc/eShopOnAzure/internal/outbox/domain"
	"github.com/Contoso-Inc/eShopOnAzure/internal/outbox/worker"
	"github.com/Contoso-Inc/eShopOnAzure/internal/repository"
	"github.com/Contoso-Inc/eShopOnAzure/pkg/mylogger"
	"github.com/Contoso-Inc/eShopOnAzure/pkg/utils"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

type CatalogService interface {
	CreateItem(ctx context.Context, input *domain.NewItemInput) (int64, error)
	UpdateItem(ctx context.Context, id int64, input *domain.UpdateItemInput) (int64, error)
	DeleteItemByID(ctx context.Context, id int64) error
	FindItemByID(ctx context.Context, id int64) (*domain.CatalogItem, error)
	ListItems(ctx context.Context, pageIndex, pageSize int64, filter domain.ListFilter) (*domain.ItemPage, error)
	Search(ctx context.Context, query string, pageIndex, pageSize int64, includeDistance bool) (*domain.ItemPage, error)
	ListBrands(ctx context.Context) ([]domain.CatalogBrand, error)
	ListTypes(ctx context.Context) ([]domain.CatalogType, error)
}

// EventDispatcher is the post-commit fast path to the broker. An error means
// the event stays pending and the sweep owns it; it never unwinds a commit.
type EventDispatcher interface {
	DispatchEvent(ctx context.Context, eventID int64) error
}

type catalogService struct {
	catalogRepo repository.CatalogRepository
	outboxRepo  worker.OutboxRepository
	dispatcher  EventDispatcher
	embedder    embeddings.Embedder
	pool        *pgxpool.Pool
	validate    *validator.Validate
	eventTopic  string
	logger      *zap.Logger
}

func NewCatalogService(
	catalogRepo repository.CatalogRepository,
	outboxRepo worker.OutboxRepository,
	dispatcher EventDispatcher,
	embedder embeddings.Embedder,
	pool *pgxpool.Pool,
	eventTopic string,
	logger *zap.Logger,
) CatalogService {
	return &catalogService{
		catalogRepo: catalogRepo,
		outboxRepo:  outboxRepo,
		dispatcher:  dispatcher,
		embedder:    embedder,
		pool:        pool,
		validate:    validator.New(),
		eventTopic:  eventTopic,
		logger:      logger,
	}
}

func (s *catalogService) CreateItem(ctx context.Context, input *domain.NewItemInput) (int64, error) {
	if err := s.validate.Struct(input); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidArgument, utils.FormatValidationError(err))
	}

	item := &domain.CatalogItem{
		Name:              input.Name,
		Description:       input.Description,
		Price:             input.Price,
		PictureFileName:   input.PictureFileName,
		CatalogBrandID:    input.CatalogBrandID,
		CatalogTypeID:     input.CatalogTypeID,
		AvailableStock:    input.AvailableStock,
		RestockThreshold:  input.RestockThreshold,
		MaxStockThreshold: input.MaxStockThreshold,
	}

	if err := s.computeEmbedding(ctx, item); err != nil {
		return 0, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		mylogger.Error(ctx, s.logger, "Error starting transaction", zap.Error(err))
		return 0, err
	}
	defer s.rollback(ctx, tx, "CreateItem")

	id, err := s.catalogRepo.Create(ctx, tx, item)
	if err != nil {
		return 0, err
	}

	// No price-changed event on creation: there is no prior committed price
	// to diff against.
	if err := tx.Commit(ctx); err != nil {
		mylogger.Error(ctx, s.logger, "Error committing transaction", zap.Error(err))
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return id, nil
}

// UpdateItem applies the full new item state. When the committed price
// differs from the incoming one, the row update and a pending
// ProductPriceChanged outbox event commit in the same transaction; that
// atomic pair is the whole point of this method. Dispatch after commit is
// best effort only.
func (s *catalogService) UpdateItem(ctx context.Context, id int64, input *domain.UpdateItemInput) (int64, error) {
	if id <= 0 {
		return 0, fmt.Errorf("%w: item id must be positive", ErrInvalidArgument)
	}
	if err := s.validate.Struct(input); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidArgument, utils.FormatValidationError(err))
	}

	if _, err := s.catalogRepo.GetByID(ctx, id); err != nil {
		if errors.Is(err, repository.ErrItemNotFound) {
			mylogger.Warn(ctx, s.logger, "catalog item not found", zap.Int64("item_id", id))
		}

		return 0, err
	}

	item := &domain.CatalogItem{
		ID:                id,
		Name:              input.Name,
		Description:       input.Description,
		Price:             input.Price,
		PictureFileName:   input.PictureFileName,
		CatalogBrandID:    input.CatalogBrandID,
		CatalogTypeID:     input.CatalogTypeID,
		AvailableStock:    input.AvailableStock,
		RestockThreshold:  input.RestockThreshold,
		MaxStockThreshold: input.MaxStockThreshold,
	}

	// The embedding call is the slow external hop; it happens before the
	// transaction opens so the row lock is never held across the network.
	if err := s.computeEmbedding(ctx, item); err != nil {
		return 0, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		mylogger.Error(ctx, s.logger, "Error starting transaction", zap.Error(err))
		return 0, err
	}
	defer s.rollback(ctx, tx, "UpdateItem")

	// Re-read the committed price under the row lock; the in-memory copy
	// loaded above may already be stale.
	originalPrice, err := s.catalogRepo.GetPriceForUpdate(ctx, tx, id)
	if err != nil {
		return 0, err
	}

	if err := s.catalogRepo.Update(ctx, tx, item); err != nil {
		return 0, err
	}

	var event *outboxDomain.OutboxEvent
	if originalPrice != input.Price {
		event, err = s.savePriceChangedEvent(ctx, tx, id, input.Price, originalPrice)
		if err != nil {
			return 0, fmt.Errorf("failed to save outbox event: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		mylogger.Error(ctx, s.logger, "Error committing transaction", zap.Error(err))
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	if event != nil {
		if err := s.dispatcher.DispatchEvent(ctx, event.Id); err != nil {
			mylogger.Warn(
				ctx,
				s.logger,
				"price change event left pending, sweep will retry",
				zap.Int64("event_id", event.Id),
				zap.Int64("item_id", id),
				zap.Error(err),
			)
		}
	}

	return id, nil
}

func (s *catalogService) savePriceChangedEvent(ctx context.Context, tx pgx.Tx, itemID, newPrice, oldPrice int64) (*outboxDomain.OutboxEvent, error) {
	payload := domain.ProductPriceChangedEvent{
		ItemID:   itemID,
		NewPrice: newPrice,
		OldPrice: oldPrice,
	}

	payloadMap := map[string]any{
		"event":   domain.EventTypeProductPriceChanged,
		"id":      uuid.NewString(),
		"payload": payload,
	}
	payloadBytes, err := json.Marshal(payloadMap)
	if err != nil {
		return nil, err
	}

	event := &outboxDomain.OutboxEvent{
		AggregateType: domain.AggregateTypeCatalogItem,
		AggregateID:   fmt.Sprintf("%d", itemID),
		EventType:     domain.EventTypeProductPriceChanged,
		Payload:       payloadBytes,
		Topic:         s.eventTopic,
	}

	if err := s.outboxRepo.SaveOutboxEvent(ctx, tx, event); err != nil {
		mylogger.Error(
			ctx,
			s.logger,
			"Error saving outbox event",
			zap.Int64("item_id", itemID),
			zap.Error(err),
		)

		return nil, err
	}

	return event, nil
}

func (s *catalogService) DeleteItemByID(ctx context.Context, id int64) error {
	if id <= 0 {
		return fmt.Errorf("%w: item id must be positive", ErrInvalidArgument)
	}

	err := s.catalogRepo.DeleteByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrItemNotFound) {
			mylogger.Warn(ctx, s.logger, "catalog item not found", zap.Int64("item_id", id))
			return err
		}

		mylogger.Error(ctx, s.logger, "error deleting catalog item", zap.Error(err))
		return err
	}

	return nil
}

func (s *catalogService) FindItemByID(ctx context.Context, id int64) (*domain.CatalogItem, error) {
	if id <= 0 {
		return nil, fmt.Errorf("%w: item id must be positive", ErrInvalidArgument)
	}

	res, err := s.catalogRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrItemNotFound) {
			mylogger.Warn(ctx, s.logger, "catalog item not found", zap.Int64("item_id", id))
			return nil, err
		}

		mylogger.Error(ctx, s.logger, "error getting catalog item", zap.Error(err))
		return nil, fmt.Errorf("error getting catalog item by id: %w", err)
	}

	return res, nil
}

func (s *catalogService) ListItems(ctx context.Context, pageIndex, pageSize int64, filter domain.ListFilter) (*domain.ItemPage, error) {
	if err := validatePage(pageIndex, pageSize); err != nil {
		return nil, err
	}

	items, totalCount, err := s.catalogRepo.List(ctx, filter, pageSize, pageIndex*pageSize)
	if err != nil {
		mylogger.Error(ctx, s.logger, "list error", zap.Error(err))
		return nil, fmt.Errorf("error listing catalog items: %w", err)
	}

	return &domain.ItemPage{
		PageIndex: pageIndex,
		PageSize:  pageSize,
		Count:     totalCount,
		Items:     items,
	}, nil
}

// Search resolves a free-text query to one relevance-ordered page. With
// embeddings enabled the whole catalog is ranked by distance to the query
// vector and Count is the full catalog size; ranking has no membership test.
// Disabled, it degrades to the prefix listing and Count is the match count.
// includeDistance only controls whether per-item distances survive into the
// result; it never affects content or order.
func (s *catalogService) Search(ctx context.Context, query string, pageIndex, pageSize int64, includeDistance bool) (*domain.ItemPage, error) {
	if err := validatePage(pageIndex, pageSize); err != nil {
		return nil, err
	}

	if !s.embedder.Enabled() {
		items, totalCount, err := s.catalogRepo.SearchByNamePrefix(ctx, query, pageSize, pageIndex*pageSize)
		if err != nil {
			return nil, fmt.Errorf("error searching catalog items: %w", err)
		}

		return &domain.ItemPage{
			PageIndex: pageIndex,
			PageSize:  pageSize,
			Count:     totalCount,
			Items:     items,
		}, nil
	}

	vector, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		mylogger.Warn(ctx, s.logger, "query embedding failed", zap.Error(err))
		return nil, err
	}

	totalCount, err := s.catalogRepo.CountItems(ctx)
	if err != nil {
		return nil, err
	}

	items, err := s.catalogRepo.SearchByVector(ctx, vector, pageSize, pageIndex*pageSize)
	if err != nil {
		return nil, err
	}

	for i := range items {
		if includeDistance && items[i].Distance != nil {
			mylogger.Debug(
				ctx,
				s.logger,
				"ranked search hit",
				zap.Int64("item_id", items[i].ID),
				zap.Float64("distance", *items[i].Distance),
			)
		} else {
			items[i].Distance = nil
		}
	}

	return &domain.ItemPage{
		PageIndex: pageIndex,
		PageSize:  pageSize,
		Count:     totalCount,
		Items:     items,
	}, nil
}

func (s *catalogService) ListBrands(ctx context.Context) ([]domain.CatalogBrand, error) {
	return s.catalogRepo.ListBrands(ctx)
}

func (s *catalogService) ListTypes(ctx context.Context) ([]domain.CatalogType, error) {
	return s.catalogRepo.ListTypes(ctx)
}

func (s *catalogService) computeEmbedding(ctx context.Context, item *domain.CatalogItem) error {
	if !s.embedder.Enabled() {
		return nil
	}

	vector, err := s.embedder.EmbedItem(ctx, item)
	if err != nil {
		mylogger.Warn(
			ctx,
			s.logger,
			"item embedding failed, aborting mutation",
			zap.Int64("item_id", item.ID),
			zap.Error(err),
		)

		return err
	}

	item.Embedding = vector
	return nil
}

func (s *catalogService) rollback(ctx context.Context, tx pgx.Tx, method string) {
	cleanupCtx := context.WithoutCancel(ctx)

	err := tx.Rollback(cleanupCtx)
	if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		mylogger.Warn(
			cleanupCtx,
			s.logger,
			"Error rolling back transaction",
			zap.Error(err),
			zap.String("method_name", method),
		)
	}
}

func validatePage(pageIndex, pageSize int64) error {
	if pageIndex < 0 {
		return fmt.Errorf("%w: page index must not be negative", ErrInvalidArgument)
	}
	if pageSize <= 0 {
		return fmt.Errorf("%w: page size must be positive", ErrInvalidArgument)
	}

	return nil
}
