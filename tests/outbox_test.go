package tests

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"

	outboxDomain "github.com/Contoso-Inc/eShopOnAzure/internal/outbox/domain"
	"github.com/Contoso-Inc/eShopOnAzure/internal/outbox/dedup"
	kafka2 "github.com/Contoso-Inc/eShopOnAzure/pkg/kafka"
)

func (s *IntegrationTestSuite) saveOutboxEvent(event *outboxDomain.OutboxEvent) {
	tx, err := s.DbPool.Begin(s.Ctx)
	s.Require().NoError(err)

	s.Require().NoError(s.OutboxRepo.SaveOutboxEvent(s.Ctx, tx, event))
	s.Require().NoError(tx.Commit(s.Ctx))
}

func (s *IntegrationTestSuite) backlogEvent(n int) *outboxDomain.OutboxEvent {
	payload, err := json.Marshal(map[string]any{"n": n})
	s.Require().NoError(err)

	return &outboxDomain.OutboxEvent{
		AggregateType: "CatalogItem",
		AggregateID:   fmt.Sprintf("%d", n),
		EventType:     "ProductPriceChanged",
		Payload:       payload,
		Topic:         testTopic,
	}
}

// Pending rows left behind by a crashed dispatch are the sweep's job; the
// ticking worker alone must drain them.
func (s *IntegrationTestSuite) TestOutboxSweep_DrainsBacklog() {
	for n := 1; n <= 3; n++ {
		s.saveOutboxEvent(s.backlogEvent(n))
	}

	s.Require().Eventually(func() bool {
		var pending int64
		err := s.DbPool.QueryRow(
			s.Ctx,
			`SELECT COUNT(*) FROM outbox WHERE published_at IS NULL`,
		).Scan(&pending)
		return err == nil && pending == 0
	}, 10*time.Second, 100*time.Millisecond, "sweep left pending events behind")
}

// Events that hit the attempts budget stop being swept; they stay pending for
// operator inspection instead of poisoning every batch.
func (s *IntegrationTestSuite) TestOutbox_AttemptsBudgetExcludesPoisonEvents() {
	s.workerCancel()

	poison := s.backlogEvent(1)
	s.saveOutboxEvent(poison)
	fresh := s.backlogEvent(2)
	s.saveOutboxEvent(fresh)

	for i := int64(0); i < testMaxAttempts; i++ {
		tx, err := s.DbPool.Begin(s.Ctx)
		s.Require().NoError(err)
		s.Require().NoError(s.OutboxRepo.MarkEventFailed(s.Ctx, tx, poison.Id, "simulated failure"))
		s.Require().NoError(tx.Commit(s.Ctx))
	}

	tx, err := s.DbPool.Begin(s.Ctx)
	s.Require().NoError(err)
	defer func() { _ = tx.Rollback(s.Ctx) }()

	events, err := s.OutboxRepo.GetUnpublishedEvents(s.Ctx, tx, 50)
	s.Require().NoError(err)

	s.Require().Len(events, 1)
	s.Equal(fresh.Id, events[0].Id)
	s.True(events[0].Pending())
}

// End to end: a price change committed through the service shows up on the
// topic with the outbox row id stamped into the envelope.
func (s *IntegrationTestSuite) TestPriceChangeEvent_DeliveredToConsumer() {
	received := make(chan []byte, 10)
	handler := func(ctx context.Context, msg *sarama.ConsumerMessage) error {
		received <- msg.Value
		return nil
	}

	consumerCtx, consumerCancel := context.WithCancel(s.Ctx)
	defer consumerCancel()

	group := kafka2.NewConsumerGroup(
		s.KafkaBrokers, "test-consumers", []string{testTopic}, handler, s.Logger,
	)
	go group.Run(consumerCtx)

	id := s.mustCreateItem(s.CatalogService, "Camp Stove", "", 8000)
	_, err := s.CatalogService.UpdateItem(
		s.Ctx, id, s.updateInputFrom(s.newItemInput("Camp Stove", "", 9500)),
	)
	s.Require().NoError(err)

	// The topic is shared across tests, so skip anything that is not our
	// item's event.
	deadline := time.After(30 * time.Second)
	for {
		select {
		case raw := <-received:
			var envelope struct {
				Event   string `json:"event"`
				EventID int64  `json:"event_id"`
				Payload struct {
					ItemID   int64 `json:"item_id"`
					NewPrice int64 `json:"new_price"`
					OldPrice int64 `json:"old_price"`
				} `json:"payload"`
			}
			if err := json.Unmarshal(raw, &envelope); err != nil || envelope.Payload.ItemID != id {
				continue
			}

			s.Equal("ProductPriceChanged", envelope.Event)
			s.NotZero(envelope.EventID, "consumers dedup on the outbox row id")
			s.EqualValues(9500, envelope.Payload.NewPrice)
			s.EqualValues(8000, envelope.Payload.OldPrice)
			return
		case <-deadline:
			s.FailNow("no event arrived on the topic")
		}
	}
}

// At-least-once delivery means consumers see duplicates; the processed_events
// claim must collapse them to one side effect.
func (s *IntegrationTestSuite) TestConsumerDeduplication() {
	var calls atomic.Int64
	action := func() error {
		calls.Add(1)
		return nil
	}

	s.Require().NoError(dedup.ProcessWithDeduplication(s.Ctx, s.DbPool, s.Logger, 7, action))
	s.Require().NoError(dedup.ProcessWithDeduplication(s.Ctx, s.DbPool, s.Logger, 7, action))
	s.EqualValues(1, calls.Load(), "duplicate delivery ran the action twice")

	s.Require().NoError(dedup.ProcessWithDeduplication(s.Ctx, s.DbPool, s.Logger, 8, action))
	s.EqualValues(2, calls.Load())
}

// A failing action must not claim the event id, otherwise the redelivery
// would be dropped without the side effect ever happening.
func (s *IntegrationTestSuite) TestConsumerDeduplication_FailedActionNotClaimed() {
	var calls atomic.Int64

	err := dedup.ProcessWithDeduplication(s.Ctx, s.DbPool, s.Logger, 9, func() error {
		calls.Add(1)
		return fmt.Errorf("downstream unavailable")
	})
	s.Require().Error(err)

	s.Require().NoError(dedup.ProcessWithDeduplication(s.Ctx, s.DbPool, s.Logger, 9, func() error {
		calls.Add(1)
		return nil
	}))
	s.EqualValues(4, calls.Load(), "3 retried failures then one success")
}
