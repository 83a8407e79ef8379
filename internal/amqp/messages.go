package amqp

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"accountbook/internal/core"
)

type EventType string

const (
	EventSessionExpired     EventType = "session.expired"
	EventTransactionCreated EventType = "transaction.created"
	EventTransactionUpdated EventType = "transaction.updated"
)

// Event is the envelope published for every account-book event. Exactly one
// of Email or Transaction is set, depending on Type.
type Event struct {
	ID          string            `json:"id"`
	Type        EventType         `json:"type"`
	Timestamp   time.Time         `json:"timestamp"`
	Email       string            `json:"email,omitempty"`
	Transaction *TransactionEvent `json:"transaction,omitempty"`
}

// TransactionEvent carries a transaction without its free-text description.
type TransactionEvent struct {
	ID       int64  `json:"id"`
	Kind     string `json:"kind"`
	Category string `json:"category"`
	Amount   string `json:"amount"`
	Date     string `json:"date"`
}

// NewSessionExpiredEvent reports that the session of email ended without a logout.
func NewSessionExpiredEvent(email string) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Type:      EventSessionExpired,
		Timestamp: time.Now().UTC(),
		Email:     email,
	}
}

func NewTransactionEvent(typ EventType, t core.Transaction) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Type:      typ,
		Timestamp: time.Now().UTC(),
		Transaction: &TransactionEvent{
			ID:       t.ID,
			Kind:     string(t.Kind),
			Category: t.Category,
			Amount:   t.Amount.Decimal().String(),
			Date:     t.OccurredOn.String(),
		},
	}
}

// ToJSON converts the event to JSON bytes
func (e *Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// EventFromJSON creates an event from JSON bytes
func EventFromJSON(data []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}
