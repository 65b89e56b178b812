package payment

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Provider names a payment source.
type Provider string

const (
	ProviderStripe     Provider = "stripe"
	ProviderArmenotech Provider = "armenotech"
	ProviderRedirect   Provider = "armenotech_redirect"
)

// Outcome is what a notification did to the ledger.
type Outcome string

const (
	OutcomeCredited         Outcome = "credited"
	OutcomeAlreadyProcessed Outcome = "already_processed"
	OutcomeIgnored          Outcome = "ignored"
	OutcomeRejected         Outcome = "rejected"
	// OutcomePending is only reported to the success page, never recorded.
	OutcomePending Outcome = "pending"
)

// JSONRawMessage handles NULL json fields from DB
type JSONRawMessage []byte

func (j *JSONRawMessage) Scan(src any) error {
	if src == nil {
		*j = nil
		return nil
	}
	switch v := src.(type) {
	case []byte:
		*j = append((*j)[0:0], v...)
	case string:
		*j = []byte(v)
	default:
		return fmt.Errorf("unsupported type: %T", src)
	}
	return nil
}

func (j JSONRawMessage) MarshalJSON() ([]byte, error) {
	if len(j) == 0 {
		return []byte("null"), nil
	}
	return j, nil
}

// Event is one received payment notification, kept for audit whether or
// not it moved tokens.
type Event struct {
	ID            uuid.UUID           `db:"id" json:"id"`
	Provider      Provider            `db:"provider" json:"provider"`
	ExternalRef   string              `db:"external_ref" json:"external_ref"`
	UserID        uuid.NullUUID       `db:"user_id" json:"user_id"`
	Status        string              `db:"status" json:"status"`
	Amount        decimal.NullDecimal `db:"amount" json:"amount"`
	Currency      string              `db:"currency" json:"currency"`
	Tokens        int64               `db:"tokens" json:"tokens"`
	Outcome       Outcome             `db:"outcome" json:"outcome"`
	TransactionID uuid.NullUUID       `db:"transaction_id" json:"transaction_id"`
	RawPayload    JSONRawMessage      `db:"raw_payload" json:"-"`
	CreatedAt     time.Time           `db:"created_at" json:"created_at"`
}

// Credit is a provider-neutral request to top up a user.
type Credit struct {
	Provider    Provider
	ExternalRef string
	UserID      uuid.UUID
	Tokens      int64
	Amount      decimal.Decimal
	Currency    string
	Source      string
	Plan        string
	Status      string
	Raw         []byte
}

// Result is returned to the notifier and to the redirect page.
type Result struct {
	Outcome          Outcome   `json:"outcome"`
	AlreadyProcessed bool      `json:"already_processed"`
	TokensAdded      int64     `json:"tokens_added"`
	NewBalance       int64     `json:"new_balance"`
	TransactionID    uuid.UUID `json:"transaction_id,omitempty"`
}
