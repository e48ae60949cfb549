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

type billingRepository struct {
	pool *pgxpool.Pool
}

// NewBillingRepository builds the postgres billing store.
func NewBillingRepository(pool *pgxpool.Pool) BillingRepository {
	return &billingRepository{pool: pool}
}

func (r *billingRepository) GetPeriod(ctx context.Context, clientRef int64, month domain.Month) (*domain.BillingPeriod, error) {
	const query = `
        SELECT id, client_ref, year, month, status, created_at, updated_at
        FROM billing_periods WHERE client_ref=$1 AND year=$2 AND month=$3`
	period, err := scanPeriod(r.pool.QueryRow(ctx, query, clientRef, month.Year, int(month.Month)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("billing period %d/%s: %w", clientRef, month, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if period.LineItems, err = r.lineItems(ctx, period.ID); err != nil {
		return nil, err
	}
	return period, nil
}

func (r *billingRepository) SavePeriod(ctx context.Context, period *domain.BillingPeriod, items []domain.LineItem) error {
	const createPeriod = `
        INSERT INTO billing_periods (id, client_ref, year, month, status, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        ON CONFLICT (client_ref, year, month) DO NOTHING`
	const lockPeriod = `
        SELECT id, status FROM billing_periods
        WHERE client_ref=$1 AND year=$2 AND month=$3 FOR UPDATE`
	const markBilled = `UPDATE requests SET billed_period_id=$1 WHERE id=$2 AND billed_period_id IS NULL`
	const insertItem = `
        INSERT INTO billing_line_items (period_id, request_id, category_ref, cost, elapsed_seconds, closed_at)
        VALUES ($1,$2,$3,$4,$5,$6)`
	const touchPeriod = `UPDATE billing_periods SET updated_at=$1 WHERE id=$2`

	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, createPeriod,
			period.ID,
			period.ClientRef,
			period.Period.Year,
			int(period.Period.Month),
			period.Status,
			period.CreatedAt,
			period.UpdatedAt,
		); err != nil {
			return err
		}

		var storedID string
		var status domain.PeriodStatus
		if err := tx.QueryRow(ctx, lockPeriod, period.ClientRef, period.Period.Year, int(period.Period.Month)).
			Scan(&storedID, &status); err != nil {
			return err
		}
		if storedID != period.ID {
			return ErrConflict
		}
		if status != domain.PeriodStatusOpen {
			return domain.ErrPeriodClosed
		}

		for _, item := range items {
			cmd, err := tx.Exec(ctx, markBilled, period.ID, item.RequestID)
			if err != nil {
				return err
			}
			if cmd.RowsAffected() == 0 {
				return ErrConflict
			}
			if _, err := tx.Exec(ctx, insertItem,
				period.ID,
				item.RequestID,
				item.CategoryRef,
				item.Cost,
				item.ElapsedSeconds,
				item.ClosedAt,
			); err != nil {
				return err
			}
		}
		_, err := tx.Exec(ctx, touchPeriod, period.UpdatedAt, period.ID)
		return err
	})
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrConflict
	}
	return err
}

func (r *billingRepository) AdvanceStatus(ctx context.Context, clientRef int64, month domain.Month, from, to domain.PeriodStatus, at time.Time) error {
	const query = `
        UPDATE billing_periods SET status=$1, updated_at=$2
        WHERE client_ref=$3 AND year=$4 AND month=$5 AND status=$6`
	cmd, err := r.pool.Exec(ctx, query, to, at, clientRef, month.Year, int(month.Month), from)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		if _, err := r.GetPeriod(ctx, clientRef, month); err != nil {
			return err
		}
		return ErrConflict
	}
	return nil
}

func (r *billingRepository) ListPeriods(ctx context.Context, month domain.Month) ([]domain.BillingPeriod, error) {
	const query = `
        SELECT id, client_ref, year, month, status, created_at, updated_at
        FROM billing_periods WHERE year=$1 AND month=$2 ORDER BY client_ref`
	rows, err := r.pool.Query(ctx, query, month.Year, int(month.Month))
	if err != nil {
		return nil, err
	}
	var result []domain.BillingPeriod
	for rows.Next() {
		period, err := scanPeriod(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		result = append(result, *period)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range result {
		if result[i].LineItems, err = r.lineItems(ctx, result[i].ID); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (r *billingRepository) lineItems(ctx context.Context, periodID string) ([]domain.LineItem, error) {
	const query = `
        SELECT request_id, category_ref, cost, elapsed_seconds, closed_at
        FROM billing_line_items WHERE period_id=$1 ORDER BY closed_at ASC, request_id ASC`
	rows, err := r.pool.Query(ctx, query, periodID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.LineItem
	for rows.Next() {
		var item domain.LineItem
		if err := rows.Scan(&item.RequestID, &item.CategoryRef, &item.Cost, &item.ElapsedSeconds, &item.ClosedAt); err != nil {
			return nil, err
		}
		result = append(result, item)
	}
	return result, rows.Err()
}

func scanPeriod(row pgx.Row) (*domain.BillingPeriod, error) {
	var period domain.BillingPeriod
	var year, month int
	if err := row.Scan(
		&period.ID,
		&period.ClientRef,
		&year,
		&month,
		&period.Status,
		&period.CreatedAt,
		&period.UpdatedAt,
	); err != nil {
		return nil, err
	}
	period.Period = domain.Month{Year: year, Month: time.Month(month)}
	return &period, nil
}
