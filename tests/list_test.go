package tests

import (
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Contoso-Inc/eShopOnAzure/internal/domain"
	"github.com/Contoso-Inc/eShopOnAzure/internal/service"
)

func (s *IntegrationTestSuite) TestListItems_Pagination() {
	s.seedFruitCatalog()

	first, err := s.CatalogService.ListItems(s.Ctx, 0, 2, domain.ListFilter{})
	s.Require().NoError(err)
	s.EqualValues(3, first.Count)
	s.Equal([]string{"Apple", "Avocado"}, s.itemNames(first))

	second, err := s.CatalogService.ListItems(s.Ctx, 1, 2, domain.ListFilter{})
	s.Require().NoError(err)
	s.EqualValues(3, second.Count)
	s.Equal([]string{"Banana"}, s.itemNames(second))

	beyond, err := s.CatalogService.ListItems(s.Ctx, 2, 2, domain.ListFilter{})
	s.Require().NoError(err)
	s.Empty(beyond.Items)
}

func (s *IntegrationTestSuite) TestListItems_FilterByBrand() {
	var otherBrand int64
	err := s.DbPool.QueryRow(
		s.Ctx, `INSERT INTO catalog_brands (name) VALUES ('Fabrikam') RETURNING id`,
	).Scan(&otherBrand)
	s.Require().NoError(err)

	s.mustCreateItem(s.CatalogService, "Contoso Tent", "", 10000)

	input := s.newItemInput("Fabrikam Tent", "", 12000)
	input.CatalogBrandID = otherBrand
	_, err = s.CatalogService.CreateItem(s.Ctx, input)
	s.Require().NoError(err)

	page, err := s.CatalogService.ListItems(s.Ctx, 0, 10, domain.ListFilter{BrandID: otherBrand})
	s.Require().NoError(err)
	s.EqualValues(1, page.Count)
	s.Equal([]string{"Fabrikam Tent"}, s.itemNames(page))
}

func (s *IntegrationTestSuite) TestListBrandsAndTypes() {
	brands, err := s.CatalogService.ListBrands(s.Ctx)
	s.Require().NoError(err)
	s.Require().Len(brands, 1)
	s.Equal("Contoso", brands[0].Name)

	types, err := s.CatalogService.ListTypes(s.Ctx)
	s.Require().NoError(err)
	s.Require().Len(types, 1)
	s.Equal("Apparel", types[0].Name)
}

func (s *IntegrationTestSuite) TestCachedFindItemByID() {
	client := redis.NewClient(&redis.Options{Addr: s.RedisAddr})
	defer client.Close()

	cached := service.NewCachedCatalogService(s.CatalogService, client, time.Minute)

	id := s.mustCreateItem(cached, "Lantern", "", 1800)

	item, err := cached.FindItemByID(s.Ctx, id)
	s.Require().NoError(err)
	s.Equal("Lantern", item.Name)

	// Mutate behind the cache's back; the stale copy is served until a
	// mutation through the service invalidates the key.
	_, err = s.DbPool.Exec(s.Ctx, `UPDATE catalog_items SET name = 'Renamed' WHERE id = $1`, id)
	s.Require().NoError(err)

	stale, err := cached.FindItemByID(s.Ctx, id)
	s.Require().NoError(err)
	s.Equal("Lantern", stale.Name)

	_, err = cached.UpdateItem(s.Ctx, id, s.updateInputFrom(s.newItemInput("Lantern v2", "", 1800)))
	s.Require().NoError(err)

	fresh, err := cached.FindItemByID(s.Ctx, id)
	s.Require().NoError(err)
	s.Equal("Lantern v2", fresh.Name)
}
