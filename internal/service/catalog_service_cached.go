package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Contoso-Inc/eShopOnAzure/internal/domain"
	"github.com/redis/go-redis/v9"
)

// cachedCatalogService is a read-through cache over FindItemByID. Mutations
// pass through and invalidate; listing and search always hit the store since
// their result space keys poorly.
type cachedCatalogService struct {
	next        CatalogService
	redisClient *redis.Client
	cacheTTL    time.Duration
}

func NewCachedCatalogService(next CatalogService, redisClient *redis.Client, cacheTTL time.Duration) CatalogService {
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}

	return &cachedCatalogService{
		next:        next,
		redisClient: redisClient,
		cacheTTL:    cacheTTL,
	}
}

func itemKey(id int64) string {
	return fmt.Sprintf("catalog:item:%d", id)
}

func (s *cachedCatalogService) FindItemByID(ctx context.Context, id int64) (*domain.CatalogItem, error) {
	key := itemKey(id)

	val, err := s.redisClient.Get(ctx, key).Result()
	if err == nil {
		var item domain.CatalogItem
		if err := json.Unmarshal([]byte(val), &item); err == nil {
			return &item, nil
		}
	}

	item, err := s.next.FindItemByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(item); err == nil {
		s.redisClient.Set(ctx, key, data, s.cacheTTL)
	}

	return item, nil
}

func (s *cachedCatalogService) CreateItem(ctx context.Context, input *domain.NewItemInput) (int64, error) {
	return s.next.CreateItem(ctx, input)
}

func (s *cachedCatalogService) UpdateItem(ctx context.Context, id int64, input *domain.UpdateItemInput) (int64, error) {
	res, err := s.next.UpdateItem(ctx, id, input)
	if err != nil {
		return 0, err
	}

	s.redisClient.Del(ctx, itemKey(id))
	return res, nil
}

func (s *cachedCatalogService) DeleteItemByID(ctx context.Context, id int64) error {
	if err := s.next.DeleteItemByID(ctx, id); err != nil {
		return err
	}

	s.redisClient.Del(ctx, itemKey(id))
	return nil
}

func (s *cachedCatalogService) ListItems(ctx context.Context, pageIndex, pageSize int64, filter domain.ListFilter) (*domain.ItemPage, error) {
	return s.next.ListItems(ctx, pageIndex, pageSize, filter)
}

func (s *cachedCatalogService) Search(ctx context.Context, query string, pageIndex, pageSize int64, includeDistance bool) (*domain.ItemPage, error) {
	return s.next.Search(ctx, query, pageIndex, pageSize, includeDistance)
}

func (s *cachedCatalogService) ListBrands(ctx context.Context) ([]domain.CatalogBrand, error) {
	return s.next.ListBrands(ctx)
}

func (s *cachedCatalogService) ListTypes(ctx context.Context) ([]domain.CatalogType, error) {
	return s.next.ListTypes(ctx)
}
