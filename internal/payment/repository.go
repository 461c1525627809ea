package payment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound           = errors.New("payment not found")
	ErrDuplicateReference = errors.New("duplicate reference")
)

// DBPool matches the methods from *pgxpool.Pool that we use.
// This allows us to mock the database in tests.
type DBPool interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// StatusUpdate carries one normalized status transition plus the raw
// provider payload it was derived from.
type StatusUpdate struct {
	Status         Status
	ProviderStatus string
	RawPayload     []byte
}

// ApplyResult reports the payment after ApplyStatus. Applied is false when
// the stored status was already terminal and the update was ignored.
type ApplyResult struct {
	Payment Payment
	Applied bool
}

type Repository interface {
	Create(ctx context.Context, p *Payment) error
	GetByReference(ctx context.Context, reference string) (Payment, error)
	ApplyStatus(ctx context.Context, reference string, upd StatusUpdate) (ApplyResult, error)
}

type PostgresRepository struct {
	pool DBPool
}

func NewPostgresRepository(pool DBPool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) Create(ctx context.Context, p *Payment) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = StatusPending
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	var flyerID *string
	if p.FlyerID != "" {
		flyerID = &p.FlyerID
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO payments (id, reference, kind, flyer_id, status, provider_status, amount, currency, operator, phone, raw_payload, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, p.ID, p.Reference, string(p.Kind), flyerID, string(p.Status), p.ProviderStatus,
		p.Amount, p.Currency, p.Operator, p.Phone, p.RawPayload, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateReference
		}
		return err
	}
	return nil
}

func (r *PostgresRepository) GetByReference(ctx context.Context, reference string) (Payment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, reference, kind, flyer_id, status, provider_status, amount, currency, operator, phone, raw_payload, created_at, updated_at, completed_at
		FROM payments
		WHERE reference=$1
	`, reference)
	return scanPayment(row)
}

// ApplyStatus moves a payment to the given status inside one transaction.
// Transitions are monotonic: a payment that is already terminal is left
// untouched and reported with Applied=false. A purchase payment moving to
// SUCCESS increments its flyer's purchase counter in the same transaction,
// so a duplicate terminal delivery can never double-increment.
func (r *PostgresRepository) ApplyStatus(ctx context.Context, reference string, upd StatusUpdate) (ApplyResult, error) {
	res := ApplyResult{}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return res, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
		SELECT id, reference, kind, flyer_id, status, provider_status, amount, currency, operator, phone, raw_payload, created_at, updated_at, completed_at
		FROM payments
		WHERE reference=$1
		FOR UPDATE
	`, reference)
	p, err := scanPayment(row)
	if err != nil {
		return res, err
	}

	if p.Status.Terminal() {
		res.Payment = p
		return res, nil
	}

	now := time.Now().UTC()
	var completedAt *time.Time
	if upd.Status.Terminal() {
		completedAt = &now
	}

	_, err = tx.Exec(ctx, `
		UPDATE payments
		SET status=$2, provider_status=$3, raw_payload=$4, updated_at=$5, completed_at=COALESCE($6, completed_at)
		WHERE reference=$1
	`, reference, string(upd.Status), upd.ProviderStatus, upd.RawPayload, now, completedAt)
	if err != nil {
		return res, err
	}

	if upd.Status == StatusSuccess && p.Kind == KindPurchase && p.FlyerID != "" {
		_, err = tx.Exec(ctx, `
			UPDATE flyers
			SET purchases = purchases + 1
			WHERE id=$1
		`, p.FlyerID)
		if err != nil {
			return res, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return res, err
	}

	p.Status = upd.Status
	p.ProviderStatus = upd.ProviderStatus
	p.RawPayload = upd.RawPayload
	p.UpdatedAt = now
	if completedAt != nil {
		p.CompletedAt = completedAt
	}
	res.Payment = p
	res.Applied = true
	return res, nil
}

func scanPayment(row pgx.Row) (Payment, error) {
	var p Payment
	var kind, status string
	var flyerID *string
	err := row.Scan(&p.ID, &p.Reference, &kind, &flyerID, &status, &p.ProviderStatus,
		&p.Amount, &p.Currency, &p.Operator, &p.Phone, &p.RawPayload,
		&p.CreatedAt, &p.UpdatedAt, &p.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Payment{}, ErrNotFound
		}
		return Payment{}, err
	}
	p.Kind = Kind(kind)
	p.Status = Status(status)
	if flyerID != nil {
		p.FlyerID = *flyerID
	}
	return p, nil
}
