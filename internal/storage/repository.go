package storage

import (
	"context"
	"database/sql"
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
	upsertCycleSampleSQL = `INSERT INTO cycle_samples (
        cycle_ts,
        kucoin_spot,
        pancake_spot,
        trade_size,
        profit_k_to_p,
        profit_pct_k_to_p,
        profit_p_to_k,
        profit_pct_p_to_k,
        status,
        error
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10
    )
    ON CONFLICT (cycle_ts) DO UPDATE
    SET
        kucoin_spot       = EXCLUDED.kucoin_spot,
        pancake_spot      = EXCLUDED.pancake_spot,
        trade_size        = EXCLUDED.trade_size,
        profit_k_to_p     = EXCLUDED.profit_k_to_p,
        profit_pct_k_to_p = EXCLUDED.profit_pct_k_to_p,
        profit_p_to_k     = EXCLUDED.profit_p_to_k,
        profit_pct_p_to_k = EXCLUDED.profit_pct_p_to_k,
        status            = EXCLUDED.status,
        error             = EXCLUDED.error;`

	listSamplesBetweenSQL = `SELECT
        cycle_ts,
        kucoin_spot,
        pancake_spot,
        trade_size,
        profit_k_to_p,
        profit_pct_k_to_p,
        profit_p_to_k,
        profit_pct_p_to_k,
        status,
        error,
        created_at
    FROM cycle_samples
    WHERE cycle_ts >= $1
      AND cycle_ts < $2
    ORDER BY cycle_ts;`

	listRecentSamplesSQL = `SELECT
        cycle_ts,
        kucoin_spot,
        pancake_spot,
        trade_size,
        profit_k_to_p,
        profit_pct_k_to_p,
        profit_p_to_k,
        profit_pct_p_to_k,
        status,
        error,
        created_at
    FROM cycle_samples
    ORDER BY cycle_ts DESC
    LIMIT $1;`

	countSamplesSQL = `SELECT COUNT(*) FROM cycle_samples;`

	insertAlertSQL = `INSERT INTO alerts (
        cycle_ts,
        direction,
        profit_pct,
        threshold_pct
    ) VALUES (
        $1,$2,$3,$4
    )
    RETURNING id, cycle_ts, direction, profit_pct, threshold_pct, created_at;`

	listRecentAlertsSQL = `SELECT
        id,
        cycle_ts,
        direction,
        profit_pct,
        threshold_pct,
        created_at
    FROM alerts
    ORDER BY created_at DESC
    LIMIT $1;`

	deleteAlertsBeforeSQL = `DELETE FROM alerts WHERE created_at < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// CycleSampleStore defines operations for cycle sample persistence.
type CycleSampleStore interface {
	UpsertCycleSample(ctx context.Context, sample CycleSample) error
	ListSamplesBetween(ctx context.Context, from, to time.Time) ([]CycleSample, error)
	ListRecentSamples(ctx context.Context, limit int) ([]CycleSample, error)
	CountSamples(ctx context.Context) (int64, error)
}

// AlertStore defines operations for alert auditing.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error)
	ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error)
	DeleteAlertsBefore(ctx context.Context, olderThan time.Time) (int64, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to cycle samples and alerts.
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
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// UpsertCycleSample persists or updates a cycle sample.
func (s *Store) UpsertCycleSample(ctx context.Context, sample CycleSample) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var errMsg interface{}
	if sample.Error != nil {
		errMsg = *sample.Error
	}

	_, execErr := pool.Exec(ctx, upsertCycleSampleSQL,
		sample.CycleTS,
		sample.KucoinSpot.String(),
		sample.PancakeSpot.String(),
		sample.TradeSize.String(),
		sample.ProfitKtoP.String(),
		sample.ProfitPctKtoP.String(),
		sample.ProfitPtoK.String(),
		sample.ProfitPctPtoK.String(),
		sample.Status,
		errMsg,
	)
	if execErr != nil {
		return fmt.Errorf("upsert cycle sample: %w", execErr)
	}
	return nil
}

// ListSamplesBetween lists samples within a time window.
func (s *Store) ListSamplesBetween(ctx context.Context, from, to time.Time) ([]CycleSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSamplesBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list samples between: %w", queryErr)
	}
	defer rows.Close()

	samples := make([]CycleSample, 0)
	for rows.Next() {
		sample, scanErr := scanCycleSample(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		samples = append(samples, sample)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return samples, nil
}

// ListRecentSamples lists the most recent samples ordered by descending cycle.
func (s *Store) ListRecentSamples(ctx context.Context, limit int) ([]CycleSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentSamplesSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent samples: %w", queryErr)
	}
	defer rows.Close()

	samples := make([]CycleSample, 0, limit)
	for rows.Next() {
		sample, scanErr := scanCycleSample(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		samples = append(samples, sample)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return samples, nil
}

// CountSamples counts stored samples.
func (s *Store) CountSamples(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countSamplesSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count samples: %w", scanErr)
	}
	return count, nil
}

// InsertAlert persists an alert emission.
func (s *Store) InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertRecord{}, err
	}

	row := pool.QueryRow(ctx, insertAlertSQL,
		alert.CycleTS,
		alert.Direction,
		alert.ProfitPct.String(),
		alert.ThresholdPct.String(),
	)

	rec, scanErr := scanAlertRecord(row)
	if scanErr != nil {
		return AlertRecord{}, fmt.Errorf("insert alert: %w", scanErr)
	}
	return rec, nil
}

// ListRecentAlerts lists most recent alerts.
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

	alerts := make([]AlertRecord, 0, limit)
	for rows.Next() {
		rec, scanErr := scanAlertRecord(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		alerts = append(alerts, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

// DeleteAlertsBefore deletes historical alerts and reports how many rows went.
func (s *Store) DeleteAlertsBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	cmdTag, execErr := pool.Exec(ctx, deleteAlertsBeforeSQL, olderThan)
	if execErr != nil {
		return 0, fmt.Errorf("delete alerts before: %w", execErr)
	}
	return cmdTag.RowsAffected(), nil
}

func scanAlertRecord(row pgx.Row) (AlertRecord, error) {
	var rec AlertRecord
	var profitStr, thresholdStr string
	if err := row.Scan(
		&rec.ID,
		&rec.CycleTS,
		&rec.Direction,
		&profitStr,
		&thresholdStr,
		&rec.CreatedAt,
	); err != nil {
		return AlertRecord{}, err
	}

	var convErr error
	rec.ProfitPct, convErr = decimal.NewFromString(profitStr)
	if convErr != nil {
		return AlertRecord{}, fmt.Errorf("parse profit pct: %w", convErr)
	}
	rec.ThresholdPct, convErr = decimal.NewFromString(thresholdStr)
	if convErr != nil {
		return AlertRecord{}, fmt.Errorf("parse threshold pct: %w", convErr)
	}
	return rec, nil
}

func scanCycleSample(rows pgx.Rows) (CycleSample, error) {
	var (
		cycleTS   time.Time
		numeric   [7]string
		status    string
		errMsg    sql.NullString
		createdAt time.Time
	)

	if err := rows.Scan(
		&cycleTS,
		&numeric[0],
		&numeric[1],
		&numeric[2],
		&numeric[3],
		&numeric[4],
		&numeric[5],
		&numeric[6],
		&status,
		&errMsg,
		&createdAt,
	); err != nil {
		return CycleSample{}, err
	}

	parsed := make([]decimal.Decimal, len(numeric))
	for i, raw := range numeric {
		value, err := decimal.NewFromString(raw)
		if err != nil {
			return CycleSample{}, fmt.Errorf("parse sample column %d: %w", i, err)
		}
		parsed[i] = value
	}

	sample := CycleSample{
		CycleTS:       cycleTS,
		KucoinSpot:    parsed[0],
		PancakeSpot:   parsed[1],
		TradeSize:     parsed[2],
		ProfitKtoP:    parsed[3],
		ProfitPctKtoP: parsed[4],
		ProfitPtoK:    parsed[5],
		ProfitPctPtoK: parsed[6],
		Status:        status,
		CreatedAt:     createdAt,
	}
	if errMsg.Valid {
		msg := errMsg.String
		sample.Error = &msg
	}
	return sample, nil
}
