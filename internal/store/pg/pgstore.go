package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"refundly.org/internal/allocation"
	"refundly.org/internal/fees"
	"refundly.org/internal/product"
)

// Store is the PostgreSQL implementation of the persistence collaborators.
// Lifecycle saves rely on a compare-and-swap against the version column, so
// two concurrent transitions on the same allocation cannot both win.
type Store struct {
	db *sql.DB
}

var (
	_ allocation.Store = (*Store)(nil)
	_ product.Store    = (*Store)(nil)
)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing handle (tests use sqlmock through this).
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Allocation(ctx context.Context, id string) (allocation.RefundAllocation, error) {
	var (
		a          allocation.RefundAllocation
		approvedBy sql.NullString
		approvedAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		select id, client_id, tax_year, total_refund, client_payout, status, version,
		       created_at, updated_at, approved_by, approved_at
		from allocations where id=$1
	`, id).Scan(&a.ID, &a.ClientID, &a.TaxYear, &a.TotalRefund, &a.ClientPayout,
		&a.Status, &a.Version, &a.CreatedAt, &a.UpdatedAt, &approvedBy, &approvedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return allocation.RefundAllocation{}, allocation.ErrNotFound
	}
	if err != nil {
		return allocation.RefundAllocation{}, err
	}
	if approvedBy.Valid {
		a.ApprovedBy = approvedBy.String
	}
	if approvedAt.Valid {
		t := approvedAt.Time
		a.ApprovedAt = &t
	}

	rows, err := s.db.QueryContext(ctx, `
		select id, label, amount, type, required
		from allocation_items where allocation_id=$1
		order by position asc
	`, id)
	if err != nil {
		return allocation.RefundAllocation{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var it allocation.Item
		if err := rows.Scan(&it.ID, &it.Label, &it.Amount, &it.Type, &it.Required); err != nil {
			return allocation.RefundAllocation{}, err
		}
		a.Items = append(a.Items, it)
	}
	if err := rows.Err(); err != nil {
		return allocation.RefundAllocation{}, err
	}
	return a, nil
}

func (s *Store) SaveAllocation(ctx context.Context, a allocation.RefundAllocation) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	approvedBy := sql.NullString{String: a.ApprovedBy, Valid: a.ApprovedBy != ""}
	var approvedAt sql.NullTime
	if a.ApprovedAt != nil {
		approvedAt = sql.NullTime{Time: *a.ApprovedAt, Valid: true}
	}

	if a.Version == 1 {
		if _, err := tx.ExecContext(ctx, `
			insert into allocations(id, client_id, tax_year, total_refund, client_payout,
			                        status, version, created_at, updated_at, approved_by, approved_at)
			values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		`, a.ID, a.ClientID, a.TaxYear, a.TotalRefund, a.ClientPayout,
			a.Status, a.Version, a.CreatedAt, a.UpdatedAt, approvedBy, approvedAt); err != nil {
			return err
		}
	} else {
		// Optimistic check: only the holder of the previous version may write.
		res, err := tx.ExecContext(ctx, `
			update allocations
			set client_payout=$3, status=$4, version=$5, updated_at=$6, approved_by=$7, approved_at=$8
			where id=$1 and version=$2
		`, a.ID, a.Version-1, a.ClientPayout, a.Status, a.Version, a.UpdatedAt, approvedBy, approvedAt)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			var exists bool
			if err := tx.QueryRowContext(ctx, `select exists(select 1 from allocations where id=$1)`, a.ID).Scan(&exists); err != nil {
				return err
			}
			if exists {
				return allocation.ErrVersionConflict
			}
			return allocation.ErrNotFound
		}
	}

	if _, err := tx.ExecContext(ctx, `delete from allocation_items where allocation_id=$1`, a.ID); err != nil {
		return err
	}
	for i, it := range a.Items {
		if _, err := tx.ExecContext(ctx, `
			insert into allocation_items(allocation_id, position, id, label, amount, type, required)
			values ($1,$2,$3,$4,$5,$6,$7)
		`, a.ID, i, it.ID, it.Label, it.Amount, it.Type, it.Required); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *Store) Template(ctx context.Context, id string) (allocation.Template, error) {
	var (
		t     allocation.Template
		items []byte
	)
	err := s.db.QueryRowContext(ctx, `select id, name, items from templates where id=$1`, id).
		Scan(&t.ID, &t.Name, &items)
	if errors.Is(err, sql.ErrNoRows) {
		return allocation.Template{}, allocation.ErrNotFound
	}
	if err != nil {
		return allocation.Template{}, err
	}
	if err := json.Unmarshal(items, &t.Items); err != nil {
		return allocation.Template{}, err
	}
	return t, nil
}

func (s *Store) FeeSchedule(ctx context.Context, id string) (fees.Schedule, error) {
	var (
		sch   fees.Schedule
		tiers []byte
	)
	err := s.db.QueryRowContext(ctx, `
		select id, name, kind, amount, rate_bps, tiers from fee_schedules where id=$1
	`, id).Scan(&sch.ID, &sch.Name, &sch.Kind, &sch.Amount, &sch.RateBps, &tiers)
	if errors.Is(err, sql.ErrNoRows) {
		return fees.Schedule{}, allocation.ErrNotFound
	}
	if err != nil {
		return fees.Schedule{}, err
	}
	if len(tiers) > 0 {
		if err := json.Unmarshal(tiers, &sch.Tiers); err != nil {
			return fees.Schedule{}, err
		}
	}
	return sch, nil
}

func (s *Store) FeeSchedules(ctx context.Context) (map[string]fees.Schedule, error) {
	rows, err := s.db.QueryContext(ctx, `select id, name, kind, amount, rate_bps, tiers from fee_schedules`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]fees.Schedule)
	for rows.Next() {
		var (
			sch   fees.Schedule
			tiers []byte
		)
		if err := rows.Scan(&sch.ID, &sch.Name, &sch.Kind, &sch.Amount, &sch.RateBps, &tiers); err != nil {
			return nil, err
		}
		if len(tiers) > 0 {
			if err := json.Unmarshal(tiers, &sch.Tiers); err != nil {
				return nil, err
			}
		}
		out[sch.ID] = sch
	}
	return out, rows.Err()
}

func (s *Store) Provider(ctx context.Context, id string) (product.Provider, error) {
	var p product.Provider
	err := s.db.QueryRowContext(ctx, `select id, name from providers where id=$1`, id).
		Scan(&p.ID, &p.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return product.Provider{}, allocation.ErrNotFound
	}
	if err != nil {
		return product.Provider{}, err
	}

	rows, err := s.db.QueryContext(ctx, `
		select id, provider_id, name, kind, minimum_refund, maximum_amount, fee, coalesce(fee_schedule_id,'')
		from products where provider_id=$1
		order by id asc
	`, id)
	if err != nil {
		return product.Provider{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var prod product.Product
		if err := rows.Scan(&prod.ID, &prod.ProviderID, &prod.Name, &prod.Kind,
			&prod.MinimumRefund, &prod.MaximumAmount, &prod.Fee, &prod.FeeScheduleID); err != nil {
			return product.Provider{}, err
		}
		p.Products = append(p.Products, prod)
	}
	return p, rows.Err()
}
