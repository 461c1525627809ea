package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/adonis30/onix-payments-go/internal/flyer"
	"github.com/adonis30/onix-payments-go/internal/provider"
)

var ErrInvalidRequest = errors.New("invalid request")

// Provider matches the mobile-money collections client.
type Provider interface {
	CreateMobileMoneyCollection(ctx context.Context, req provider.CollectionRequest) (*provider.Collection, error)
	SubmitOTP(ctx context.Context, reference, otp string) (*provider.Collection, error)
	CollectionStatus(ctx context.Context, reference string) (*provider.Collection, error)
}

// StatusCache mirrors the latest known status per reference.
type StatusCache interface {
	GetStatus(reference string) (Status, bool)
	SetStatus(reference string, status Status)
}

// StatusPublisher pushes status changes onto the notification channel.
type StatusPublisher interface {
	PublishStatusChanged(ctx context.Context, reference string, status Status, providerStatus string) error
}

// Service orchestrates collection initiation, webhook reconciliation, and the
// status-poll fallback on top of the repository, provider, cache, and
// notification channel.
type Service struct {
	repo      Repository
	flyers    flyer.Repository
	provider  Provider
	cache     StatusCache
	publisher StatusPublisher
	logger    *log.Logger
}

func NewService(repo Repository, flyers flyer.Repository, prov Provider, cache StatusCache, publisher StatusPublisher, logger *log.Logger) *Service {
	return &Service{
		repo:      repo,
		flyers:    flyers,
		provider:  prov,
		cache:     cache,
		publisher: publisher,
		logger:    logger,
	}
}

type InitiateRequest struct {
	Kind     Kind   `json:"kind"`
	FlyerID  string `json:"flyerId"`
	Amount   int64  `json:"amount"`
	Phone    string `json:"phone"`
	Operator string `json:"operator"`
	Currency string `json:"currency"`
	Reason   string `json:"reason"`
}

func (r InitiateRequest) validate() error {
	if r.Amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	}
	if r.Phone == "" {
		return fmt.Errorf("%w: phone is required", ErrInvalidRequest)
	}
	if r.Operator == "" {
		return fmt.Errorf("%w: operator is required", ErrInvalidRequest)
	}
	if r.Currency == "" {
		return fmt.Errorf("%w: currency is required", ErrInvalidRequest)
	}
	if r.Kind == KindPurchase && r.FlyerID == "" {
		return fmt.Errorf("%w: flyerId is required for purchases", ErrInvalidRequest)
	}
	return nil
}

// NewReference builds the caller-generated unique reference used as the
// lookup key across store, cache, and notification channel.
func NewReference(kind Kind, flyerID string) string {
	ts := time.Now().UnixMilli()
	if kind == KindPurchase && flyerID != "" {
		return fmt.Sprintf("flyer_%s_%d", flyerID, ts)
	}
	return fmt.Sprintf("pay_%s_%d", uuid.NewString(), ts)
}

// Initiate validates the request, initiates the collection with the provider,
// and only then persists a PENDING payment. A provider failure leaves no
// record behind.
func (s *Service) Initiate(ctx context.Context, req InitiateRequest) (Payment, error) {
	if req.Kind == "" {
		if req.FlyerID != "" {
			req.Kind = KindPurchase
		} else {
			req.Kind = KindTransfer
		}
	}
	if err := req.validate(); err != nil {
		return Payment{}, err
	}

	if req.Kind == KindPurchase {
		if _, err := s.flyers.Get(ctx, req.FlyerID); err != nil {
			if errors.Is(err, flyer.ErrNotFound) {
				return Payment{}, fmt.Errorf("flyer %q: %w", req.FlyerID, err)
			}
			return Payment{}, fmt.Errorf("look up flyer %q: %w", req.FlyerID, err)
		}
	}

	reference := NewReference(req.Kind, req.FlyerID)

	col, err := s.provider.CreateMobileMoneyCollection(ctx, provider.CollectionRequest{
		Amount:    req.Amount,
		Phone:     req.Phone,
		Operator:  req.Operator,
		Reason:    req.Reason,
		Reference: reference,
		Currency:  req.Currency,
	})
	if err != nil {
		return Payment{}, fmt.Errorf("initiate collection: %w", err)
	}

	raw, _ := json.Marshal(col)
	p := Payment{
		Reference:      reference,
		Kind:           req.Kind,
		FlyerID:        req.FlyerID,
		Status:         StatusPending,
		ProviderStatus: col.Status,
		Amount:         req.Amount,
		Currency:       req.Currency,
		Operator:       req.Operator,
		Phone:          req.Phone,
		RawPayload:     raw,
	}
	if err := s.repo.Create(ctx, &p); err != nil {
		return Payment{}, fmt.Errorf("create payment %s: %w", reference, err)
	}

	s.cache.SetStatus(reference, StatusPending)
	s.logger.Printf("initiated collection %s kind=%s amount=%d operator=%s", reference, p.Kind, p.Amount, p.Operator)
	return p, nil
}

// SubmitOTP forwards a one-time passcode for a pending collection and applies
// whatever status the provider reports back.
func (s *Service) SubmitOTP(ctx context.Context, reference, otp string) (Payment, error) {
	if reference == "" {
		return Payment{}, fmt.Errorf("%w: reference is required", ErrInvalidRequest)
	}
	if otp == "" {
		return Payment{}, fmt.Errorf("%w: otp is required", ErrInvalidRequest)
	}

	col, err := s.provider.SubmitOTP(ctx, reference, otp)
	if err != nil {
		return Payment{}, fmt.Errorf("submit otp for %s: %w", reference, err)
	}

	raw, _ := json.Marshal(col)
	res, err := s.ApplyProviderStatus(ctx, reference, col.Status, raw)
	if err != nil {
		return Payment{}, err
	}
	return res.Payment, nil
}

func (s *Service) Get(ctx context.Context, reference string) (Payment, error) {
	return s.repo.GetByReference(ctx, reference)
}

// ApplyProviderStatus is the single write path shared by the webhook receiver
// and the status-poll fallback: normalize, transition transactionally,
// refresh the cache, publish. A redelivered terminal status is a no-op and is
// only logged.
func (s *Service) ApplyProviderStatus(ctx context.Context, reference, providerStatus string, raw []byte) (ApplyResult, error) {
	status := NormalizeProviderStatus(providerStatus)

	res, err := s.repo.ApplyStatus(ctx, reference, StatusUpdate{
		Status:         status,
		ProviderStatus: providerStatus,
		RawPayload:     raw,
	})
	if err != nil {
		return res, err
	}
	if !res.Applied {
		s.logger.Printf("ignoring status %q for settled payment %s (status %s)", providerStatus, reference, res.Payment.Status)
		return res, nil
	}

	s.cache.SetStatus(reference, res.Payment.Status)

	// The transition is already committed; a failed publish loses the push
	// notification but the poll fallback still converges.
	if err := s.publisher.PublishStatusChanged(ctx, reference, res.Payment.Status, providerStatus); err != nil {
		s.logger.Printf("publish status for %s: %v", reference, err)
	}

	s.logger.Printf("payment %s -> %s (provider %q)", reference, res.Payment.Status, providerStatus)
	return res, nil
}

// Refresh is the status-poll fallback: when the stored status is still
// non-terminal, re-query the provider and apply any change through the same
// path the webhook uses.
func (s *Service) Refresh(ctx context.Context, reference string) (Payment, error) {
	p, err := s.repo.GetByReference(ctx, reference)
	if err != nil {
		return Payment{}, err
	}
	if p.Status.Terminal() {
		return p, nil
	}

	col, err := s.provider.CollectionStatus(ctx, reference)
	if err != nil {
		return Payment{}, fmt.Errorf("poll status for %s: %w", reference, err)
	}

	if NormalizeProviderStatus(col.Status) == p.Status && col.Status == p.ProviderStatus {
		s.cache.SetStatus(reference, p.Status)
		return p, nil
	}

	raw, _ := json.Marshal(col)
	res, err := s.ApplyProviderStatus(ctx, reference, col.Status, raw)
	if err != nil {
		return Payment{}, err
	}
	return res.Payment, nil
}
