package tests

import (
	"context"
	"errors"
	"time"

	"github.com/Contoso-Inc/eShopOnAzure/internal/embeddings"
	"github.com/Contoso-Inc/eShopOnAzure/internal/service"
)

func (s *IntegrationTestSuite) TestCreateItem_Success() {
	id := s.mustCreateItem(s.CatalogService, "Trail Shoes", "grippy sole", 4999)

	item, err := s.CatalogService.FindItemByID(s.Ctx, id)
	s.Require().NoError(err)
	s.Equal("Trail Shoes", item.Name)
	s.Equal("grippy sole", item.Description)
	s.Equal(int64(4999), item.Price)
	s.Equal(s.BrandID, item.CatalogBrandID)
	s.Equal(s.TypeID, item.CatalogTypeID)
	s.False(item.CreatedAt.IsZero())

	// Creation has no prior price to diff against, so nothing reaches the
	// outbox.
	s.EqualValues(0, s.outboxCountFor(id))
}

func (s *IntegrationTestSuite) TestCreateItem_UnknownBrand_Failed() {
	input := s.newItemInput("Orphan", "", 100)
	input.CatalogBrandID = s.BrandID + 1000

	_, err := s.CatalogService.CreateItem(s.Ctx, input)
	s.Require().Error(err)

	var count int64
	s.Require().NoError(
		s.DbPool.QueryRow(s.Ctx, `SELECT COUNT(*) FROM catalog_items`).Scan(&count),
	)
	s.EqualValues(0, count)
}

func (s *IntegrationTestSuite) TestCreateItem_EmbeddingComputedWhenEnabled() {
	stub := &stubEmbedder{vectors: map[string][]float32{
		"Trail Shoes grippy sole": vec(map[int]float32{0: 1}),
	}}
	svc, _ := s.newServiceWith(stub, s.TestProducer)

	id := s.mustCreateItem(svc, "Trail Shoes", "grippy sole", 4999)

	var hasEmbedding bool
	err := s.DbPool.QueryRow(
		s.Ctx,
		`SELECT embedding IS NOT NULL FROM catalog_items WHERE id = $1`,
		id,
	).Scan(&hasEmbedding)
	s.Require().NoError(err)
	s.True(hasEmbedding)
}

func (s *IntegrationTestSuite) TestCreateItem_EmbeddingOutage_NothingPersisted() {
	svc, _ := s.newServiceWith(failingEmbedder{}, s.TestProducer)

	_, err := svc.CreateItem(s.Ctx, s.newItemInput("Trail Shoes", "grippy sole", 4999))
	s.Require().Error(err)
	s.ErrorIs(err, embeddings.ErrUnavailable)

	var count int64
	s.Require().NoError(
		s.DbPool.QueryRow(s.Ctx, `SELECT COUNT(*) FROM catalog_items`).Scan(&count),
	)
	s.EqualValues(0, count)
}

func (s *IntegrationTestSuite) TestCreateItem_ContextTimeout() {
	ctx, cancel := context.WithTimeout(s.Ctx, time.Nanosecond)
	defer cancel()

	_, err := s.CatalogService.CreateItem(ctx, s.newItemInput("Too Late", "", 100))
	s.Require().Error(err)
	s.False(errors.Is(err, service.ErrInvalidArgument))
}
