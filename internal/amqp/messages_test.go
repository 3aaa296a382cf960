package amqp

import (
	"testing"
	"time"
)

func TestTransactionEventRoundTrip(t *testing.T) {
	ev := &TransactionEvent{
		Kind:          EventCreated,
		TransactionID: "tx-1",
		AccountID:     "acc-1",
		OwnerID:       "owner-1",
		Type:          "EXPENSE",
		AmountCents:   1250,
		Date:          "2025-03-14",
		Timestamp:     time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC),
	}

	body, err := ev.ToJSON()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	got, err := TransactionEventFromJSON(body)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if *got != *ev {
		t.Fatalf("round trip mismatch: %+v != %+v", got, ev)
	}
}

func TestTransactionEventFromJSONInvalid(t *testing.T) {
	if _, err := TransactionEventFromJSON([]byte("{not json")); err == nil {
		t.Fatal("expected error for malformed payload")
	}
}
