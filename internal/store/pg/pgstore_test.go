package pg

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"refundly.org/internal/allocation"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewWithDB(db), mock
}

func TestAllocationNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("select id, client_id, tax_year").WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := s.Allocation(context.Background(), "missing")
	if !errors.Is(err, allocation.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAllocationLoadsItemsInOrder(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery("select id, client_id, tax_year").WithArgs("alloc-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "client_id", "tax_year", "total_refund", "client_payout",
			"status", "version", "created_at", "updated_at", "approved_by", "approved_at",
		}).AddRow("alloc-1", "client-1", 2025, int64(400_000), int64(337_500),
			"pending", uint64(2), now, now, nil, nil))

	mock.ExpectQuery("select id, label, amount, type, required").WithArgs("alloc-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "label", "amount", "type", "required"}).
			AddRow("i1", "Prep fee", int64(12_500), "fee", true).
			AddRow("i2", "Advance", int64(50_000), "advance", false))

	a, err := s.Allocation(context.Background(), "alloc-1")
	if err != nil {
		t.Fatalf("Allocation: %v", err)
	}
	if a.Status != allocation.StatusPending || a.Version != 2 {
		t.Fatalf("unexpected allocation: %+v", a)
	}
	if len(a.Items) != 2 || a.Items[0].ID != "i1" || a.Items[1].Type != allocation.ItemAdvance {
		t.Fatalf("unexpected items: %+v", a.Items)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSaveAllocationVersionConflict(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()

	a := allocation.RefundAllocation{
		ID: "alloc-1", ClientID: "client-1", TaxYear: 2025,
		TotalRefund: 400_000, ClientPayout: 337_500,
		Status: allocation.StatusApproved, Version: 3,
		CreatedAt: now, UpdatedAt: now,
	}

	mock.ExpectBegin()
	mock.ExpectExec("update allocations").
		WithArgs(a.ID, uint64(2), a.ClientPayout, string(a.Status), uint64(3),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select exists").WithArgs(a.ID).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	err := s.SaveAllocation(context.Background(), a)
	if !errors.Is(err, allocation.ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSaveAllocationInsertsDraft(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()

	a := allocation.RefundAllocation{
		ID: "alloc-1", ClientID: "client-1", TaxYear: 2025,
		TotalRefund: 400_000, ClientPayout: 337_500,
		Status: allocation.StatusDraft, Version: 1,
		CreatedAt: now, UpdatedAt: now,
		Items: []allocation.Item{
			{ID: "i1", Label: "Prep fee", Amount: 12_500, Type: allocation.ItemFee, Required: true},
		},
	}

	mock.ExpectBegin()
	mock.ExpectExec("insert into allocations").
		WithArgs(a.ID, a.ClientID, a.TaxYear, a.TotalRefund, a.ClientPayout,
			string(a.Status), uint64(1), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("delete from allocation_items").WithArgs(a.ID).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("insert into allocation_items").
		WithArgs(a.ID, 0, "i1", "Prep fee", int64(12_500), string(allocation.ItemFee), true).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	if err := s.SaveAllocation(context.Background(), a); err != nil {
		t.Fatalf("SaveAllocation: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
