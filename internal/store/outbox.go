package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/safar/electronics-store/internal/database"
	"github.com/safar/electronics-store/internal/models"
)

// EnqueueEvent stores event as pending within tx, so it is published only if
// tx commits.
func EnqueueEvent(ctx context.Context, tx *sql.Tx, event models.OutboxEvent) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO outbox_events (event_id, aggregate_type, aggregate_id, event_type, payload, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, NOW())`,
		event.EventID, event.AggregateType, event.AggregateID, event.EventType,
		string(event.Payload), models.OutboxStatusPending)
	if err != nil {
		return fmt.Errorf("enqueue event: %w", err)
	}
	return nil
}

// ClaimPendingEvents locks up to limit pending events, oldest first. Rows
// locked by another relay are skipped rather than waited on.
func ClaimPendingEvents(ctx context.Context, tx *sql.Tx, limit int) ([]models.OutboxEvent, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT id, event_id, aggregate_type, aggregate_id, event_type, payload, status, created_at
		 FROM outbox_events
		 WHERE status = $1
		 ORDER BY created_at, id
		 LIMIT $2
		 FOR UPDATE SKIP LOCKED`,
		models.OutboxStatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("claim pending events: %w", err)
	}
	defer rows.Close()

	var events []models.OutboxEvent
	for rows.Next() {
		var (
			event   models.OutboxEvent
			payload []byte
		)
		err := rows.Scan(
			&event.ID,
			&event.EventID,
			&event.AggregateType,
			&event.AggregateID,
			&event.EventType,
			&payload,
			&event.Status,
			&event.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		event.Payload = append([]byte(nil), payload...)
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return events, nil
}

func MarkEventPublished(ctx context.Context, tx *sql.Tx, id int64) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE outbox_events SET status = $1, published_at = NOW() WHERE id = $2`,
		models.OutboxStatusPublished, id)
	if err != nil {
		return fmt.Errorf("mark event %d published: %w", id, err)
	}
	return nil
}

// DispatchEvents claims pending events and hands them to publish. Events
// publish rejected stay pending for the next round.
func DispatchEvents(ctx context.Context, db *sql.DB, limit int, publish func(context.Context, models.OutboxEvent) error) (int, error) {
	published := 0
	var publishErr error

	err := database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		events, err := ClaimPendingEvents(ctx, tx, limit)
		if err != nil {
			return err
		}

		for _, event := range events {
			if err := publish(ctx, event); err != nil {
				if publishErr == nil {
					publishErr = fmt.Errorf("publish event %s: %w", event.EventID, err)
				}
				continue
			}
			if err := MarkEventPublished(ctx, tx, event.ID); err != nil {
				return err
			}
			published++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return published, publishErr
}
