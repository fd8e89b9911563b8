package tests

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Contoso-Inc/eShopOnAzure/internal/domain"
	"github.com/Contoso-Inc/eShopOnAzure/internal/embeddings"
	"github.com/Contoso-Inc/eShopOnAzure/internal/repository"
)

type outboxRow struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	Published     bool
	Attempts      int64
	LastError     string
}

func (s *IntegrationTestSuite) outboxRowsFor(itemID int64) []outboxRow {
	rows, err := s.DbPool.Query(
		s.Ctx,
		`SELECT aggregate_type, aggregate_id, event_type, payload,
		        published_at IS NOT NULL, attempts, COALESCE(last_error, '')
		 FROM outbox
		 WHERE aggregate_id = $1
		 ORDER BY id`,
		fmt.Sprintf("%d", itemID),
	)
	s.Require().NoError(err)
	defer rows.Close()

	var result []outboxRow
	for rows.Next() {
		var r outboxRow
		s.Require().NoError(rows.Scan(
			&r.AggregateType, &r.AggregateID, &r.EventType,
			&r.Payload, &r.Published, &r.Attempts, &r.LastError,
		))
		result = append(result, r)
	}
	s.Require().NoError(rows.Err())

	return result
}

func (s *IntegrationTestSuite) TestUpdateItem_PriceChanged_EmitsSingleEvent() {
	id := s.mustCreateItem(s.CatalogService, "Running Socks", "", 1000)

	input := s.updateInputFrom(s.newItemInput("Running Socks", "", 1200))
	_, err := s.CatalogService.UpdateItem(s.Ctx, id, input)
	s.Require().NoError(err)

	item, err := s.CatalogService.FindItemByID(s.Ctx, id)
	s.Require().NoError(err)
	s.EqualValues(1200, item.Price)

	events := s.outboxRowsFor(id)
	s.Require().Len(events, 1)
	s.Equal(domain.AggregateTypeCatalogItem, events[0].AggregateType)
	s.Equal(domain.EventTypeProductPriceChanged, events[0].EventType)

	var envelope struct {
		Event   string                          `json:"event"`
		ID      string                          `json:"id"`
		Payload domain.ProductPriceChangedEvent `json:"payload"`
	}
	s.Require().NoError(json.Unmarshal(events[0].Payload, &envelope))
	s.Equal(domain.EventTypeProductPriceChanged, envelope.Event)
	s.NotEmpty(envelope.ID)
	s.Equal(id, envelope.Payload.ItemID)
	s.EqualValues(1200, envelope.Payload.NewPrice)
	s.EqualValues(1000, envelope.Payload.OldPrice)
}

func (s *IntegrationTestSuite) TestUpdateItem_PriceChanged_EventuallyPublished() {
	id := s.mustCreateItem(s.CatalogService, "Running Socks", "", 1000)

	_, err := s.CatalogService.UpdateItem(
		s.Ctx, id, s.updateInputFrom(s.newItemInput("Running Socks", "", 1500)),
	)
	s.Require().NoError(err)

	s.Require().Eventually(func() bool {
		events := s.outboxRowsFor(id)
		return len(events) == 1 && events[0].Published
	}, 10*time.Second, 100*time.Millisecond, "price change event was never published")
}

// A broker outage during dispatch must not undo the mutation: the row update
// and the pending event survive the failed publish, and a later sweep with a
// healthy producer drains the backlog.
func (s *IntegrationTestSuite) TestUpdateItem_ProducerDown_RowUpdatedEventPending() {
	// Quiesce the default worker so only the failing producer runs.
	s.workerCancel()

	svc, _ := s.newServiceWith(embeddings.Disabled{}, failingProducer{})

	id := s.mustCreateItem(svc, "Hiking Poles", "", 3000)

	_, err := svc.UpdateItem(s.Ctx, id, s.updateInputFrom(s.newItemInput("Hiking Poles", "", 3500)))
	s.Require().NoError(err, "a dispatch failure must not fail the mutation")

	item, err := svc.FindItemByID(s.Ctx, id)
	s.Require().NoError(err)
	s.EqualValues(3500, item.Price)

	events := s.outboxRowsFor(id)
	s.Require().Len(events, 1)
	s.False(events[0].Published)
	s.EqualValues(1, events[0].Attempts)
	s.Contains(events[0].LastError, "broker unavailable")

	// Recovery: a sweep backed by the real producer picks the row up.
	_, proc := s.newServiceWith(embeddings.Disabled{}, s.TestProducer)
	sweepCtx, sweepCancel := context.WithCancel(s.Ctx)
	defer sweepCancel()

	go proc.Start(sweepCtx)

	s.Require().Eventually(func() bool {
		events := s.outboxRowsFor(id)
		return len(events) == 1 && events[0].Published
	}, 10*time.Second, 100*time.Millisecond, "sweep never recovered the pending event")
}

func (s *IntegrationTestSuite) TestUpdateItem_SamePrice_NoEvent() {
	id := s.mustCreateItem(s.CatalogService, "Water Bottle", "one liter", 700)

	input := s.updateInputFrom(s.newItemInput("Water Bottle", "insulated, one liter", 700))
	_, err := s.CatalogService.UpdateItem(s.Ctx, id, input)
	s.Require().NoError(err)

	item, err := s.CatalogService.FindItemByID(s.Ctx, id)
	s.Require().NoError(err)
	s.Equal("insulated, one liter", item.Description)

	s.EqualValues(0, s.outboxCountFor(id))
}

func (s *IntegrationTestSuite) TestUpdateItem_NotFound() {
	_, err := s.CatalogService.UpdateItem(
		s.Ctx, 424242, s.updateInputFrom(s.newItemInput("Ghost", "", 100)),
	)
	s.Require().ErrorIs(err, repository.ErrItemNotFound)
}

func (s *IntegrationTestSuite) TestUpdateItem_EmbeddingOutage_NothingWritten() {
	id := s.mustCreateItem(s.CatalogService, "Headlamp", "", 2500)

	svc, _ := s.newServiceWith(failingEmbedder{}, s.TestProducer)

	_, err := svc.UpdateItem(s.Ctx, id, s.updateInputFrom(s.newItemInput("Headlamp", "", 2900)))
	s.Require().ErrorIs(err, embeddings.ErrUnavailable)

	item, err := s.CatalogService.FindItemByID(s.Ctx, id)
	s.Require().NoError(err)
	s.EqualValues(2500, item.Price, "failed embedding must leave the row untouched")
	s.EqualValues(0, s.outboxCountFor(id))
}
