package amqp

import (
	"encoding/json"
	"time"
)

// Event kinds published on the transaction stream.
const (
	EventCreated      = "transaction.created"
	EventUpdated      = "transaction.updated"
	EventDeleted      = "transaction.deleted"
	EventMaterialized = "transaction.materialized"
)

// TransactionEvent announces a committed ledger mutation. Consumers
// (the budget alert worker) re-read whatever else they need from the
// store; the event carries just enough to route and filter.
type TransactionEvent struct {
	Kind          string    `json:"kind"`
	TransactionID string    `json:"transaction_id"`
	AccountID     string    `json:"account_id"`
	OwnerID       string    `json:"owner_id"`
	Type          string    `json:"type"`
	AmountCents   int64     `json:"amount_cents"`
	Date          string    `json:"date"`
	Timestamp     time.Time `json:"timestamp"`
}

// ToJSON converts the event to JSON bytes.
func (e *TransactionEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// TransactionEventFromJSON decodes an event from JSON bytes.
func TransactionEventFromJSON(data []byte) (*TransactionEvent, error) {
	var ev TransactionEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}
