package httpapi

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/adonis30/onix-payments-go/internal/events"
	"github.com/adonis30/onix-payments-go/internal/flyer"
	"github.com/adonis30/onix-payments-go/internal/payment"
	"github.com/adonis30/onix-payments-go/internal/provider"
)

const signatureHeader = "X-Webhook-Signature"

type PaymentService interface {
	Initiate(ctx context.Context, req payment.InitiateRequest) (payment.Payment, error)
	SubmitOTP(ctx context.Context, reference, otp string) (payment.Payment, error)
	Get(ctx context.Context, reference string) (payment.Payment, error)
	Refresh(ctx context.Context, reference string) (payment.Payment, error)
	ApplyProviderStatus(ctx context.Context, reference, providerStatus string, raw []byte) (payment.ApplyResult, error)
}

type StatusSubscriber interface {
	Subscribe(ctx context.Context, reference string) (<-chan events.StatusEvent, func(), error)
}

type StatusCache interface {
	GetStatus(reference string) (payment.Status, bool)
}

type Handler struct {
	svc           PaymentService
	subscriber    StatusSubscriber
	cache         StatusCache
	webhookSecret string
	logger        *log.Logger
}

func NewHandler(svc PaymentService, subscriber StatusSubscriber, cache StatusCache, webhookSecret string, logger *log.Logger) *Handler {
	return &Handler{
		svc:           svc,
		subscriber:    subscriber,
		cache:         cache,
		webhookSecret: webhookSecret,
		logger:        logger,
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) InitiateCollection(w http.ResponseWriter, r *http.Request) {
	var req payment.InitiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	p, err := h.svc.Initiate(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

type otpRequest struct {
	Reference string `json:"reference"`
	OTP       string `json:"otp"`
}

func (h *Handler) SubmitOTP(w http.ResponseWriter, r *http.Request) {
	var req otpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	p, err := h.svc.SubmitOTP(r.Context(), req.Reference, req.OTP)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	reference := chi.URLParam(r, "reference")
	p, err := h.svc.Get(r.Context(), reference)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) RefreshStatus(w http.ResponseWriter, r *http.Request) {
	reference := chi.URLParam(r, "reference")
	p, err := h.svc.Refresh(r.Context(), reference)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type webhookEnvelope struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
}

// Webhook accepts provider callbacks. Every variant is signature-checked;
// unknown references are rejected without creating a payment, and a 5xx
// answer tells the provider to redeliver.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	if !h.verifySignature(body, r.Header.Get(signatureHeader)) {
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	var env webhookEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if env.Reference == "" || env.Status == "" {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	res, err := h.svc.ApplyProviderStatus(r.Context(), env.Reference, env.Status, body)
	if err != nil {
		if errors.Is(err, payment.ErrNotFound) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		h.logger.Printf("webhook for %s: %v", env.Reference, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"applied": res.Applied,
		"status":  res.Payment.Status,
	})
}

func (h *Handler) verifySignature(body []byte, header string) bool {
	if header == "" {
		return false
	}
	sig, err := hex.DecodeString(header)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(h.webhookSecret))
	mac.Write(body)
	return hmac.Equal(sig, mac.Sum(nil))
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var apiErr *provider.APIError
	switch {
	case errors.Is(err, payment.ErrInvalidRequest):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, payment.ErrNotFound), errors.Is(err, flyer.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.As(err, &apiErr):
		h.logger.Printf("provider error: %v", err)
		http.Error(w, "payment provider rejected the request", http.StatusBadGateway)
	default:
		h.logger.Printf("internal error: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
