package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/adonis30/onix-payments-go/internal/payment"
)

func TestStatusRoutingKey(t *testing.T) {
	if got := StatusRoutingKey("flyer_abc_1700000000000"); got != "payment.status.flyer_abc_1700000000000" {
		t.Fatalf("unexpected routing key %q", got)
	}
}

func TestStatusEventJSON(t *testing.T) {
	ev := StatusEvent{
		Reference:      "flyer_abc_1",
		Status:         payment.StatusSuccess,
		ProviderStatus: "successful",
		Producer:       paymentsServiceProducer,
		OccurredAt:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	body, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["reference"] != "flyer_abc_1" || decoded["status"] != "SUCCESS" {
		t.Fatalf("unexpected wire format: %s", body)
	}
}
