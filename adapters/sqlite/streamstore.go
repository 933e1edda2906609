package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/meterpay/meterpay/domain/pricing"
	"github.com/meterpay/meterpay/domain/stream"
	"github.com/meterpay/meterpay/ports"
)

// StreamStore implements ports.StreamStore using SQLite.
type StreamStore struct {
	db *DB
}

// NewStreamStore creates a new SQLite stream store.
func NewStreamStore(db *DB) *StreamStore {
	return &StreamStore{db: db}
}

// Create stores a new stream and returns its assigned id.
func (s *StreamStore) Create(ctx context.Context, rec stream.Stream) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO streams (
			payer, payee, authorized_reporter,
			base_rate_per_unit, max_pay_per_interval, settlement_interval_secs,
			deposit_balance, accrued_amount, total_usage_units, reporter_nonce,
			active, schedule_handle,
			created_at, last_settlement_time, next_settlement_time, settlement_count
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.Payer, rec.Payee, rec.AuthorizedReporter,
		rec.BaseRatePerUnit, rec.MaxPayPerInterval, int64(rec.SettlementInterval/time.Second),
		rec.DepositBalance, rec.AccruedAmount, rec.TotalUsageUnits, rec.ReporterNonce,
		rec.Active, rec.ScheduleHandle,
		rec.CreatedAt.UTC(), rec.LastSettlementTime.UTC(), rec.NextSettlementTime.UTC(), rec.SettlementCount,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// Get retrieves a stream by id.
func (s *StreamStore) Get(ctx context.Context, id int64) (stream.Stream, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, payer, payee, authorized_reporter,
			base_rate_per_unit, max_pay_per_interval, settlement_interval_secs,
			deposit_balance, accrued_amount, total_usage_units, reporter_nonce,
			active, schedule_handle,
			created_at, last_settlement_time, next_settlement_time, settlement_count
		FROM streams WHERE id = ?
	`, id)
	return scanStream(row)
}

// Update replaces a stream record.
func (s *StreamStore) Update(ctx context.Context, rec stream.Stream) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE streams SET
			payer = ?, payee = ?, authorized_reporter = ?,
			base_rate_per_unit = ?, max_pay_per_interval = ?, settlement_interval_secs = ?,
			deposit_balance = ?, accrued_amount = ?, total_usage_units = ?, reporter_nonce = ?,
			active = ?, schedule_handle = ?,
			created_at = ?, last_settlement_time = ?, next_settlement_time = ?, settlement_count = ?
		WHERE id = ?
	`,
		rec.Payer, rec.Payee, rec.AuthorizedReporter,
		rec.BaseRatePerUnit, rec.MaxPayPerInterval, int64(rec.SettlementInterval/time.Second),
		rec.DepositBalance, rec.AccruedAmount, rec.TotalUsageUnits, rec.ReporterNonce,
		rec.Active, rec.ScheduleHandle,
		rec.CreatedAt.UTC(), rec.LastSettlementTime.UTC(), rec.NextSettlementTime.UTC(), rec.SettlementCount,
		rec.ID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return stream.ErrStreamNotFound
	}
	return nil
}

// List returns all streams ordered by id.
func (s *StreamStore) List(ctx context.Context) ([]stream.Stream, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, payer, payee, authorized_reporter,
			base_rate_per_unit, max_pay_per_interval, settlement_interval_secs,
			deposit_balance, accrued_amount, total_usage_units, reporter_nonce,
			active, schedule_handle,
			created_at, last_settlement_time, next_settlement_time, settlement_count
		FROM streams ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []stream.Stream
	for rows.Next() {
		rec, err := scanStream(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// AppendSnapshot appends one pricing history entry for a stream.
func (s *StreamStore) AppendSnapshot(ctx context.Context, snap pricing.Snapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pricing_history (stream_id, base_rate, congestion_bps, effective_rate, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`, snap.StreamID, snap.BaseRate, snap.CongestionBps, snap.EffectiveRate, snap.Timestamp.UTC())
	return err
}

// Snapshots returns the pricing history for a stream, oldest first.
func (s *StreamStore) Snapshots(ctx context.Context, streamID int64) ([]pricing.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT stream_id, base_rate, congestion_bps, effective_rate, timestamp
		FROM pricing_history WHERE stream_id = ? ORDER BY id
	`, streamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []pricing.Snapshot
	for rows.Next() {
		var snap pricing.Snapshot
		if err := rows.Scan(&snap.StreamID, &snap.BaseRate, &snap.CongestionBps, &snap.EffectiveRate, &snap.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanStream(row scanner) (stream.Stream, error) {
	var (
		rec          stream.Stream
		intervalSecs int64
	)
	err := row.Scan(
		&rec.ID, &rec.Payer, &rec.Payee, &rec.AuthorizedReporter,
		&rec.BaseRatePerUnit, &rec.MaxPayPerInterval, &intervalSecs,
		&rec.DepositBalance, &rec.AccruedAmount, &rec.TotalUsageUnits, &rec.ReporterNonce,
		&rec.Active, &rec.ScheduleHandle,
		&rec.CreatedAt, &rec.LastSettlementTime, &rec.NextSettlementTime, &rec.SettlementCount,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return stream.Stream{}, stream.ErrStreamNotFound
	}
	if err != nil {
		return stream.Stream{}, err
	}
	rec.SettlementInterval = time.Duration(intervalSecs) * time.Second
	return rec, nil
}

// Ensure interface compliance.
var _ ports.StreamStore = (*StreamStore)(nil)
