package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/Contoso-Inc/eShopOnAzure/internal/outbox/domain"
	"github.com/Contoso-Inc/eShopOnAzure/internal/outbox/worker"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var ErrEventNotFound = errors.New("outbox event not found")

type outboxRepo struct {
	pool        *pgxpool.Pool
	tracer      trace.Tracer
	logger      *zap.Logger
	maxAttempts int64
}

func NewOutboxRepository(pool *pgxpool.Pool, logger *zap.Logger, maxAttempts int64) worker.OutboxRepository {
	return &outboxRepo{
		pool:        pool,
		tracer:      otel.Tracer("catalog/outbox_repo"),
		logger:      logger,
		maxAttempts: maxAttempts,
	}
}

// SaveOutboxEvent inserts a pending row inside the caller's transaction.
// This is the half of the outbox contract that must share a commit with the
// business mutation; the event id is written back into the argument so the
// caller can fast-path dispatch after commit.
func (r *outboxRepo) SaveOutboxEvent(ctx context.Context, tx pgx.Tx, event *domain.OutboxEvent) error {
	ctx, span := r.tracer.Start(ctx, "OutboxRepository.SaveOutboxEvent")
	defer span.End()

	span.SetAttributes(
		attribute.String("aggregate_id", event.AggregateID),
		attribute.String("aggregate_type", event.AggregateType),
	)

	query := `
		INSERT INTO outbox (aggregate_type, aggregate_id, event_type, payload, topic)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`

	err := tx.QueryRow(
		ctx,
		query,
		event.AggregateType,
		event.AggregateID,
		event.EventType,
		event.Payload,
		event.Topic,
	).Scan(&event.Id, &event.CreatedAt)

	if err != nil {
		span.RecordError(err)
	}

	return err
}

func (r *outboxRepo) MarkEventPublished(ctx context.Context, tx pgx.Tx, eventID int64) error {
	ctx, span := r.tracer.Start(ctx, "OutboxRepository.MarkEventPublished")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("event_id", eventID),
	)

	query := `
		UPDATE outbox
		SET published_at = NOW(), last_error = NULL
		WHERE id = $1;
	`

	_, err := tx.Exec(ctx, query, eventID)

	if err != nil {
		span.RecordError(err)
	}

	return err
}

func (r *outboxRepo) MarkEventFailed(ctx context.Context, tx pgx.Tx, eventID int64, errMsg string) error {
	ctx, span := r.tracer.Start(ctx, "OutboxRepository.MarkEventFailed")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("event_id", eventID),
		attribute.String("outbox.error_message", errMsg),
	)

	query := `
		UPDATE outbox
		SET published_at = NULL,
			last_error = $1,
			attempts = attempts + 1
		WHERE id = $2;
	`

	_, err := tx.Exec(ctx, query, errMsg, eventID)
	if err != nil {
		span.RecordError(err)
	}

	return err
}

// GetUnpublishedEvents locks and returns up to batchSize pending rows in
// commit order. Rows past the attempts budget stay where they are for manual
// inspection; SKIP LOCKED keeps concurrent sweeps from fighting over a batch.
func (r *outboxRepo) GetUnpublishedEvents(ctx context.Context, tx pgx.Tx, batchSize int) ([]*domain.OutboxEvent, error) {
	ctx, span := r.tracer.Start(ctx, "OutboxRepository.GetUnpublishedEvents")
	defer span.End()

	span.SetAttributes(
		attribute.Int("batch_size", batchSize),
	)

	query := `
		SELECT id, aggregate_type, aggregate_id, event_type, payload, headers, created_at, topic
		FROM outbox
		WHERE published_at IS NULL AND attempts < $2
		ORDER BY created_at ASC, id ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`

	rows, err := tx.Query(ctx, query, batchSize, r.maxAttempts)
	if err != nil {
		span.RecordError(err)

		return nil, fmt.Errorf("failed to query unpublished events: %w", err)
	}
	defer rows.Close()

	var events []*domain.OutboxEvent
	for rows.Next() {
		var e domain.OutboxEvent
		if err := rows.Scan(
			&e.Id,
			&e.AggregateType,
			&e.AggregateID,
			&e.EventType,
			&e.Payload,
			&e.Headers,
			&e.CreatedAt,
			&e.Topic,
		); err != nil {
			span.RecordError(err)

			return nil, fmt.Errorf("error scanning event: %w", err)
		}

		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)

		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	span.SetAttributes(
		attribute.Int("result_count", len(events)),
	)

	return events, nil
}

// GetUnpublishedEvent locks a single pending row by id. Used by the
// post-commit fast path; returns ErrEventNotFound when the row is already
// published or held by a concurrent sweep.
func (r *outboxRepo) GetUnpublishedEvent(ctx context.Context, tx pgx.Tx, eventID int64) (*domain.OutboxEvent, error) {
	ctx, span := r.tracer.Start(ctx, "OutboxRepository.GetUnpublishedEvent")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("event_id", eventID),
	)

	query := `
		SELECT id, aggregate_type, aggregate_id, event_type, payload, headers, created_at, topic
		FROM outbox
		WHERE id = $1 AND published_at IS NULL
		FOR UPDATE SKIP LOCKED
	`

	var e domain.OutboxEvent
	err := tx.QueryRow(ctx, query, eventID).Scan(
		&e.Id,
		&e.AggregateType,
		&e.AggregateID,
		&e.EventType,
		&e.Payload,
		&e.Headers,
		&e.CreatedAt,
		&e.Topic,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEventNotFound
		}

		span.RecordError(err)

		return nil, fmt.Errorf("error querying unpublished event: %w", err)
	}

	return &e, nil
}
