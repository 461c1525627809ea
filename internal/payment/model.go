package payment

import (
	"strings"
	"time"
)

// Status is the internal three-value status taxonomy. Provider sub-states
// such as "otp-required" or "pay-offline" collapse to StatusPending.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
)

// Terminal reports whether no further transitions are expected.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

type Kind string

const (
	// KindPurchase payments are tied to a flyer and bump its purchase
	// counter on success.
	KindPurchase Kind = "purchase"
	KindTransfer Kind = "transfer"
)

type Payment struct {
	ID             string     `json:"id"`
	Reference      string     `json:"reference"`
	Kind           Kind       `json:"kind"`
	FlyerID        string     `json:"flyerId,omitempty"`
	Status         Status     `json:"status"`
	ProviderStatus string     `json:"providerStatus,omitempty"`
	Amount         int64      `json:"amount"` // minor currency units
	Currency       string     `json:"currency"`
	Operator       string     `json:"operator"`
	Phone          string     `json:"phone"`
	RawPayload     []byte     `json:"-"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
}

// NormalizeProviderStatus maps the provider status vocabulary onto the
// internal taxonomy. It is the single mapping shared by the webhook and
// status-poll paths; input is matched case-insensitively.
func NormalizeProviderStatus(providerStatus string) Status {
	switch strings.ToLower(strings.TrimSpace(providerStatus)) {
	case "successful", "success":
		return StatusSuccess
	case "failed", "cancelled", "reversed":
		return StatusFailed
	default:
		return StatusPending
	}
}
