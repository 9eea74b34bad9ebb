package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	insertAlertSQL = `INSERT INTO alerts (
        symbol,
        base_asset,
        direction,
        change_pct,
        threshold_pct,
        streak_count,
        message_id
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    )
    RETURNING id, symbol, base_asset, direction, change_pct, threshold_pct, streak_count, message_id, created_at;`

	listRecentAlertsSQL = `SELECT
        id,
        symbol,
        base_asset,
        direction,
        change_pct,
        threshold_pct,
        streak_count,
        message_id,
        created_at
    FROM alerts
    ORDER BY created_at DESC
    LIMIT $1;`

	deleteAlertsBeforeSQL = `DELETE FROM alerts WHERE created_at < $1;`

	countAlertsSQL = `SELECT COUNT(*) FROM alerts;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// AlertStore defines operations for alert auditing.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error)
	ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error)
	DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to the alert audit table.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			// unlock best effort; log omitted in storage package
		}
		conn.Release()
	}
	return unlock, true, nil
}

// InsertAlert persists one alert audit row.
func (s *Store) InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertRecord{}, err
	}

	var messageID interface{}
	if alert.MessageID != nil {
		messageID = *alert.MessageID
	}

	row := pool.QueryRow(ctx, insertAlertSQL,
		alert.Symbol,
		alert.BaseAsset,
		alert.Direction,
		alert.ChangePct.String(),
		alert.ThresholdPct.String(),
		alert.StreakCount,
		messageID,
	)

	inserted, scanErr := scanAlertRecord(row)
	if scanErr != nil {
		return AlertRecord{}, fmt.Errorf("insert alert: %w", scanErr)
	}
	return inserted, nil
}

// ListRecentAlerts lists the newest alert rows first.
func (s *Store) ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]AlertRecord, 0)
	for rows.Next() {
		record, scanErr := scanAlertRecord(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		alerts = append(alerts, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list recent alerts: %w", err)
	}
	return alerts, nil
}

// DeleteAlertsBefore removes alert rows older than the cutoff.
func (s *Store) DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, deleteAlertsBeforeSQL, olderThan); err != nil {
		return fmt.Errorf("delete alerts before: %w", err)
	}
	return nil
}

// CountAlerts reports the total number of audit rows.
func (s *Store) CountAlerts(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if err := pool.QueryRow(ctx, countAlertsSQL).Scan(&count); err != nil {
		return 0, fmt.Errorf("count alerts: %w", err)
	}
	return count, nil
}

func scanAlertRecord(row pgx.Row) (AlertRecord, error) {
	var (
		record       AlertRecord
		changePct    string
		thresholdPct string
		messageID    *int64
	)

	if err := row.Scan(
		&record.ID,
		&record.Symbol,
		&record.BaseAsset,
		&record.Direction,
		&changePct,
		&thresholdPct,
		&record.StreakCount,
		&messageID,
		&record.CreatedAt,
	); err != nil {
		return AlertRecord{}, fmt.Errorf("scan alert record: %w", err)
	}

	change, err := decimal.NewFromString(changePct)
	if err != nil {
		return AlertRecord{}, fmt.Errorf("parse change_pct: %w", err)
	}
	threshold, err := decimal.NewFromString(thresholdPct)
	if err != nil {
		return AlertRecord{}, fmt.Errorf("parse threshold_pct: %w", err)
	}

	record.ChangePct = change
	record.ThresholdPct = threshold
	record.MessageID = messageID
	return record, nil
}

var _ AlertStore = (*Store)(nil)
var _ AdvisoryLocker = (*Store)(nil)
