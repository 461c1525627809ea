package payment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
)

const paymentColumnsSQL = `SELECT id, reference, kind, flyer_id, status, provider_status, amount, currency, operator, phone, raw_payload, created_at, updated_at, completed_at`

func paymentRow(reference string, kind Kind, flyerID *string, status Status) *pgxmock.Rows {
	now := time.Now().UTC()
	var completedAt *time.Time
	if status.Terminal() {
		completedAt = &now
	}
	return pgxmock.NewRows([]string{
		"id", "reference", "kind", "flyer_id", "status", "provider_status",
		"amount", "currency", "operator", "phone", "raw_payload",
		"created_at", "updated_at", "completed_at",
	}).AddRow(
		"11111111-1111-1111-1111-111111111111", reference, string(kind), flyerID, string(status), "",
		int64(5000), "ZMW", "airtel", "260971234567", []byte(`{}`),
		now, now, completedAt,
	)
}

func TestPostgresRepository_Create(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("new mock pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectExec("INSERT INTO payments").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	repo := NewPostgresRepository(mock)
	p := Payment{
		Reference: "flyer_abc_1700000000000",
		Kind:      KindPurchase,
		FlyerID:   "abc",
		Amount:    5000,
		Currency:  "ZMW",
		Operator:  "airtel",
		Phone:     "260971234567",
	}
	if err := repo.Create(ctx, &p); err != nil {
		t.Fatalf("create: %v", err)
	}
	if p.ID == "" {
		t.Fatalf("expected generated id")
	}
	if p.Status != StatusPending {
		t.Fatalf("expected PENDING default, got %s", p.Status)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresRepository_CreateDuplicateReference(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("new mock pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectExec("INSERT INTO payments").
		WillReturnError(&pgconn.PgError{Code: "23505"})

	repo := NewPostgresRepository(mock)
	p := Payment{Reference: "flyer_abc_1", Kind: KindPurchase, FlyerID: "abc", Amount: 1, Currency: "ZMW", Operator: "mtn", Phone: "26096"}
	if err := repo.Create(ctx, &p); !errors.Is(err, ErrDuplicateReference) {
		t.Fatalf("expected ErrDuplicateReference, got %v", err)
	}
}

func TestPostgresRepository_GetByReference(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("new mock pool: %v", err)
	}
	defer mock.Close()

	fid := "abc"
	mock.ExpectQuery(paymentColumnsSQL).
		WithArgs("flyer_abc_1").
		WillReturnRows(paymentRow("flyer_abc_1", KindPurchase, &fid, StatusPending))

	repo := NewPostgresRepository(mock)
	p, err := repo.GetByReference(ctx, "flyer_abc_1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if p.Reference != "flyer_abc_1" || p.FlyerID != "abc" || p.Status != StatusPending {
		t.Fatalf("unexpected payment: %+v", p)
	}
}

func TestPostgresRepository_GetByReferenceMissing(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("new mock pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectQuery(paymentColumnsSQL).
		WithArgs("nope").
		WillReturnError(pgx.ErrNoRows)

	repo := NewPostgresRepository(mock)
	if _, err := repo.GetByReference(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPostgresRepository_ApplyStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("pending purchase to success increments flyer counter", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		if err != nil {
			t.Fatalf("new mock pool: %v", err)
		}
		defer mock.Close()

		fid := "abc"
		mock.ExpectBeginTx(pgx.TxOptions{})
		mock.ExpectQuery("FOR UPDATE").
			WithArgs("flyer_abc_1").
			WillReturnRows(paymentRow("flyer_abc_1", KindPurchase, &fid, StatusPending))
		mock.ExpectExec("UPDATE payments").
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectExec("UPDATE flyers").
			WithArgs("abc").
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectCommit()
		mock.ExpectRollback() // deferred no-op after commit

		repo := NewPostgresRepository(mock)
		res, err := repo.ApplyStatus(ctx, "flyer_abc_1", StatusUpdate{
			Status:         StatusSuccess,
			ProviderStatus: "successful",
			RawPayload:     []byte(`{"status":"successful"}`),
		})
		if err != nil {
			t.Fatalf("apply: %v", err)
		}
		if !res.Applied {
			t.Fatalf("expected transition to apply")
		}
		if res.Payment.Status != StatusSuccess {
			t.Fatalf("status not updated: %s", res.Payment.Status)
		}
		if res.Payment.CompletedAt == nil {
			t.Fatalf("completedAt not set on terminal transition")
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Fatalf("expectations: %v", err)
		}
	})

	t.Run("terminal payment is left untouched", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		if err != nil {
			t.Fatalf("new mock pool: %v", err)
		}
		defer mock.Close()

		fid := "abc"
		mock.ExpectBeginTx(pgx.TxOptions{})
		mock.ExpectQuery("FOR UPDATE").
			WithArgs("flyer_abc_1").
			WillReturnRows(paymentRow("flyer_abc_1", KindPurchase, &fid, StatusSuccess))
		mock.ExpectRollback()

		repo := NewPostgresRepository(mock)
		res, err := repo.ApplyStatus(ctx, "flyer_abc_1", StatusUpdate{Status: StatusSuccess, ProviderStatus: "successful"})
		if err != nil {
			t.Fatalf("apply: %v", err)
		}
		if res.Applied {
			t.Fatalf("terminal payment must not be re-applied")
		}
		if res.Payment.Status != StatusSuccess {
			t.Fatalf("unexpected status %s", res.Payment.Status)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Fatalf("expectations: %v", err)
		}
	})

	t.Run("pending substate update skips the counter", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		if err != nil {
			t.Fatalf("new mock pool: %v", err)
		}
		defer mock.Close()

		fid := "abc"
		mock.ExpectBeginTx(pgx.TxOptions{})
		mock.ExpectQuery("FOR UPDATE").
			WithArgs("flyer_abc_1").
			WillReturnRows(paymentRow("flyer_abc_1", KindPurchase, &fid, StatusPending))
		mock.ExpectExec("UPDATE payments").
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectCommit()
		mock.ExpectRollback()

		repo := NewPostgresRepository(mock)
		res, err := repo.ApplyStatus(ctx, "flyer_abc_1", StatusUpdate{Status: StatusPending, ProviderStatus: "otp-required"})
		if err != nil {
			t.Fatalf("apply: %v", err)
		}
		if !res.Applied {
			t.Fatalf("expected substate update to apply")
		}
		if res.Payment.CompletedAt != nil {
			t.Fatalf("completedAt must stay unset for PENDING")
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Fatalf("expectations: %v", err)
		}
	})

	t.Run("transfer success does not touch flyers", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		if err != nil {
			t.Fatalf("new mock pool: %v", err)
		}
		defer mock.Close()

		mock.ExpectBeginTx(pgx.TxOptions{})
		mock.ExpectQuery("FOR UPDATE").
			WithArgs("pay_x_1").
			WillReturnRows(paymentRow("pay_x_1", KindTransfer, nil, StatusPending))
		mock.ExpectExec("UPDATE payments").
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectCommit()
		mock.ExpectRollback()

		repo := NewPostgresRepository(mock)
		res, err := repo.ApplyStatus(ctx, "pay_x_1", StatusUpdate{Status: StatusSuccess, ProviderStatus: "success"})
		if err != nil {
			t.Fatalf("apply: %v", err)
		}
		if !res.Applied {
			t.Fatalf("expected transition to apply")
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Fatalf("expectations: %v", err)
		}
	})

	t.Run("unknown reference", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		if err != nil {
			t.Fatalf("new mock pool: %v", err)
		}
		defer mock.Close()

		mock.ExpectBeginTx(pgx.TxOptions{})
		mock.ExpectQuery("FOR UPDATE").
			WithArgs("nope").
			WillReturnError(pgx.ErrNoRows)
		mock.ExpectRollback()

		repo := NewPostgresRepository(mock)
		if _, err := repo.ApplyStatus(ctx, "nope", StatusUpdate{Status: StatusSuccess}); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}
