package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Contoso-Inc/eShopOnAzure/internal/outbox/domain"
	"github.com/Contoso-Inc/eShopOnAzure/pkg/mylogger"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type OutboxRepository interface {
	SaveOutboxEvent(ctx context.Context, tx pgx.Tx, event *domain.OutboxEvent) error
	GetUnpublishedEvents(ctx context.Context, tx pgx.Tx, batchSize int) ([]*domain.OutboxEvent, error)
	GetUnpublishedEvent(ctx context.Context, tx pgx.Tx, eventID int64) (*domain.OutboxEvent, error)
	MarkEventPublished(ctx context.Context, tx pgx.Tx, eventID int64) error
	MarkEventFailed(ctx context.Context, tx pgx.Tx, eventID int64, errMsg string) error
}

type KafkaProducer interface {
	ProduceMessage(ctx context.Context, topic string, message interface{}) error
}

// OutboxProcessor drives pending outbox rows to the broker. The periodic
// sweep is the recovery path for events whose post-commit dispatch never ran
// (crash, broker outage); DispatchEvent is the happy path invoked right
// after a mutation commits.
type OutboxProcessor struct {
	pool          *pgxpool.Pool
	repo          OutboxRepository
	kafkaProducer KafkaProducer
	logger        *zap.Logger
	batchSize     int
	interval      time.Duration
	tracer        trace.Tracer
}

func NewOutboxProcessor(
	pool *pgxpool.Pool,
	repo OutboxRepository,
	producer KafkaProducer,
	logger *zap.Logger,
	batchSize int,
	interval time.Duration,
) *OutboxProcessor {
	if batchSize <= 0 {
		batchSize = 50
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}

	return &OutboxProcessor{
		pool:          pool,
		repo:          repo,
		kafkaProducer: producer,
		logger:        logger,
		batchSize:     batchSize,
		interval:      interval,
		tracer:        otel.Tracer("outbox-worker"),
	}
}

func (p *OutboxProcessor) Start(ctx context.Context) {
	mylogger.Info(ctx, p.logger, "Starting outbox processor")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			mylogger.Info(ctx, p.logger, "Outbox processor stopping")

			return
		case <-ticker.C:
			if err := p.processBatch(ctx); err != nil {
				mylogger.Error(
					ctx,
					p.logger,
					"Error processing outbox batch",
					zap.Error(err),
				)
			}
		}
	}
}

// DispatchEvent publishes a single committed event and marks it published.
// Any failure leaves the row pending for the sweep; callers must treat an
// error as "delivery deferred", never as a failed mutation.
func (p *OutboxProcessor) DispatchEvent(ctx context.Context, eventID int64) error {
	ctx, span := p.tracer.Start(ctx, "OutboxProcessor.DispatchEvent")
	defer span.End()

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("error beginning transaction: %w", err)
	}
	defer p.rollback(ctx, tx, "DispatchEvent")

	event, err := p.repo.GetUnpublishedEvent(ctx, tx, eventID)
	if err != nil {
		return err
	}

	if err := p.publish(ctx, tx, event); err != nil {
		// Commit anyway: publish already recorded the failure on the row and
		// that attempt record must survive for the sweep to see.
		if commitErr := tx.Commit(ctx); commitErr != nil {
			mylogger.Error(
				ctx,
				p.logger,
				"failed to commit dispatch failure record",
				zap.Int64("id", eventID),
				zap.Error(commitErr),
			)
		}

		return err
	}

	return tx.Commit(ctx)
}

func (p *OutboxProcessor) processBatch(ctx context.Context) error {
	ctx, span := p.tracer.Start(ctx, "OutboxProcessor.processBatch")
	defer span.End()

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		mylogger.Error(
			ctx,
			p.logger,
			"outbox worker failed to begin transaction",
			zap.Error(err),
		)

		return fmt.Errorf("error beginning transaction: %w", err)
	}
	defer p.rollback(ctx, tx, "processBatch")

	events, err := p.repo.GetUnpublishedEvents(ctx, tx, p.batchSize)
	if err != nil {
		return err
	}

	if len(events) == 0 {
		return nil
	}

	mylogger.Info(
		ctx,
		p.logger,
		"Processing outbox events",
		zap.Int("count", len(events)),
	)

	for _, event := range events {
		if err := p.publish(ctx, tx, event); err != nil {
			mylogger.Error(
				ctx,
				p.logger,
				"outbox worker failed to publish event",
				zap.Int64("id", event.Id),
				zap.Error(err),
			)
		}
	}

	return tx.Commit(ctx)
}

// publish sends one event to the broker and records the outcome on the row.
// A produce failure is downgraded to MarkEventFailed so the rest of the
// batch still commits; only a failure to record the outcome bubbles up.
func (p *OutboxProcessor) publish(ctx context.Context, tx pgx.Tx, event *domain.OutboxEvent) error {
	var payloadMap map[string]any
	if err := json.Unmarshal(event.Payload, &payloadMap); err != nil {
		if dbErr := p.repo.MarkEventFailed(ctx, tx, event.Id, err.Error()); dbErr != nil {
			return dbErr
		}

		return fmt.Errorf("unmarshal event payload: %w", err)
	}

	// Consumers dedup on this id; it has to survive redelivery unchanged.
	payloadMap["event_id"] = event.Id

	if err := p.kafkaProducer.ProduceMessage(ctx, event.Topic, payloadMap); err != nil {
		if dbErr := p.repo.MarkEventFailed(ctx, tx, event.Id, err.Error()); dbErr != nil {
			return dbErr
		}

		return fmt.Errorf("produce message: %w", err)
	}

	if err := p.repo.MarkEventPublished(ctx, tx, event.Id); err != nil {
		return err
	}

	mylogger.Debug(
		ctx,
		p.logger,
		"outbox event published",
		zap.Int64("id", event.Id),
		zap.String("topic", event.Topic),
	)

	return nil
}

func (p *OutboxProcessor) rollback(ctx context.Context, tx pgx.Tx, method string) {
	cleanupCtx := context.WithoutCancel(ctx)

	err := tx.Rollback(cleanupCtx)
	if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		mylogger.Error(
			cleanupCtx,
			p.logger,
			"Outbox worker failed to rollback transaction",
			zap.Error(err),
			zap.String("method_name", method),
		)
	}
}
