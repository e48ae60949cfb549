package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/request-engine/internal/domain"
)

const requestColumns = `id, client_ref, category_ref, creator_ref, assignee_ref, title, status, cost,
               accumulated_seconds, running_since, created_at, accepted_at, closed_at, sequence, billed_period_id`

const eventColumns = `id, request_id, client_ref, assignee_ref, trigger, from_status, to_status,
               actor_ref, sequence, elapsed_seconds, timer_running, occurred_at`

type requestRepository struct {
	pool *pgxpool.Pool
}

// NewRequestRepository instantiates the postgres request store.
func NewRequestRepository(pool *pgxpool.Pool) RequestRepository {
	return &requestRepository{pool: pool}
}

func (r *requestRepository) Create(ctx context.Context, req *domain.Request) error {
	const query = `
        INSERT INTO requests (client_ref, category_ref, creator_ref, title, status, cost, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        RETURNING id`
	err := r.pool.QueryRow(ctx, query,
		req.ClientRef,
		req.CategoryRef,
		req.CreatorRef,
		req.Title,
		req.Status,
		req.Cost,
		req.CreatedAt,
	).Scan(&req.ID)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		return fmt.Errorf("category %d: %w", req.CategoryRef, domain.ErrNotFound)
	}
	return err
}

func (r *requestRepository) Get(ctx context.Context, id int64) (*domain.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM requests WHERE id=$1`
	req, err := scanRequest(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("request %d: %w", id, domain.ErrNotFound)
	}
	return req, err
}

func (r *requestRepository) Commit(ctx context.Context, req *domain.Request, event domain.LifecycleEvent, prevSequence int64) error {
	const update = `
        UPDATE requests SET assignee_ref=$1, status=$2, accumulated_seconds=$3, running_since=$4,
            accepted_at=$5, closed_at=$6, sequence=$7
        WHERE id=$8 AND sequence=$9`
	const insert = `
        INSERT INTO request_events (id, request_id, client_ref, assignee_ref, trigger, from_status, to_status,
            actor_ref, sequence, elapsed_seconds, timer_running, occurred_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`

	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		cmd, err := tx.Exec(ctx, update,
			req.AssigneeRef,
			req.Status,
			req.Time.AccumulatedSeconds,
			req.Time.RunningSince,
			req.AcceptedAt,
			req.ClosedAt,
			req.Sequence,
			req.ID,
			prevSequence,
		)
		if err != nil {
			return err
		}
		if cmd.RowsAffected() == 0 {
			return ErrConflict
		}
		_, err = tx.Exec(ctx, insert,
			event.ID,
			event.RequestID,
			event.ClientRef,
			event.AssigneeRef,
			event.Trigger,
			event.From,
			event.To,
			event.ActorRef,
			event.Sequence,
			event.ElapsedSeconds,
			event.TimerRunning,
			event.OccurredAt,
		)
		return err
	})
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrConflict
	}
	return err
}

func (r *requestRepository) ListEvents(ctx context.Context, requestID, afterSequence int64) ([]domain.LifecycleEvent, error) {
	if _, err := r.Get(ctx, requestID); err != nil {
		return nil, err
	}
	query := `SELECT ` + eventColumns + ` FROM request_events
        WHERE request_id=$1 AND sequence > $2 ORDER BY sequence ASC`
	rows, err := r.pool.Query(ctx, query, requestID, afterSequence)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.LifecycleEvent
	for rows.Next() {
		var ev domain.LifecycleEvent
		if err := rows.Scan(
			&ev.ID,
			&ev.RequestID,
			&ev.ClientRef,
			&ev.AssigneeRef,
			&ev.Trigger,
			&ev.From,
			&ev.To,
			&ev.ActorRef,
			&ev.Sequence,
			&ev.ElapsedSeconds,
			&ev.TimerRunning,
			&ev.OccurredAt,
		); err != nil {
			return nil, err
		}
		result = append(result, ev)
	}
	return result, rows.Err()
}

func (r *requestRepository) ListResolved(ctx context.Context, clientRef int64, from, to time.Time) ([]domain.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM requests
        WHERE client_ref=$1 AND status=$2 AND closed_at >= $3 AND closed_at < $4
        ORDER BY closed_at ASC, id ASC`
	rows, err := r.pool.Query(ctx, query, clientRef, domain.RequestStatusResolved, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *req)
	}
	return result, rows.Err()
}

func (r *requestRepository) ListUnbilledClients(ctx context.Context, from, to time.Time) ([]int64, error) {
	const query = `
        SELECT DISTINCT client_ref FROM requests
        WHERE status=$1 AND closed_at >= $2 AND closed_at < $3 AND billed_period_id IS NULL
        ORDER BY client_ref`
	rows, err := r.pool.Query(ctx, query, domain.RequestStatusResolved, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

func scanRequest(row pgx.Row) (*domain.Request, error) {
	var req domain.Request
	if err := row.Scan(
		&req.ID,
		&req.ClientRef,
		&req.CategoryRef,
		&req.CreatorRef,
		&req.AssigneeRef,
		&req.Title,
		&req.Status,
		&req.Cost,
		&req.Time.AccumulatedSeconds,
		&req.Time.RunningSince,
		&req.CreatedAt,
		&req.AcceptedAt,
		&req.ClosedAt,
		&req.Sequence,
		&req.BilledPeriodID,
	); err != nil {
		return nil, err
	}
	return &req, nil
}
