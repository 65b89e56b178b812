package ledger

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionType is the kind of ledger entry. It fixes the amount sign.
type TransactionType string

const (
	TypeTopup      TransactionType = "topup"      // amount > 0
	TypeSpend      TransactionType = "spend"      // amount < 0
	TypeRefund     TransactionType = "refund"     // amount > 0
	TypeAdjustment TransactionType = "adjustment" // amount != 0
)

// Reason names the paid action behind a spend.
type Reason string

const (
	ReasonPreview   Reason = "preview"
	ReasonPublish   Reason = "publish"
	ReasonRegenDay  Reason = "regen_day"
	ReasonRegenWeek Reason = "regen_week"
	ReasonPDFExport Reason = "pdf_export"
	ReasonCustom    Reason = "custom"
)

// Valid reports whether r is a known spend reason.
func (r Reason) Valid() bool {
	switch r {
	case ReasonPreview, ReasonPublish, ReasonRegenDay, ReasonRegenWeek, ReasonPDFExport, ReasonCustom:
		return true
	}
	return false
}

// Transaction is an immutable ledger entry.
type Transaction struct {
	ID             uuid.UUID       `db:"id" json:"id"`
	UserID         uuid.UUID       `db:"user_id" json:"user_id"`
	Type           TransactionType `db:"type" json:"type"`
	Amount         int64           `db:"amount" json:"amount"`
	Reason         string          `db:"reason" json:"reason,omitempty"`
	ExternalRef    *string         `db:"external_ref" json:"external_ref,omitempty"`
	IdempotencyKey *string         `db:"idempotency_key" json:"-"`
	RefundOf       uuid.NullUUID   `db:"refund_of" json:"refund_of"`
	Meta           Meta            `db:"meta" json:"meta"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
}

// TopupMeta describes a purchase confirmed by a payment provider.
type TopupMeta struct {
	Provider    string          `json:"provider"`
	ExternalRef string          `json:"external_ref"`
	Currency    string          `json:"currency,omitempty"`
	GrossAmount decimal.Decimal `json:"gross_amount"`
	Source      string          `json:"source,omitempty"`
	Plan        string          `json:"plan,omitempty"`
	Rate        int64           `json:"rate,omitempty"`
}

// SpendMeta describes a paid action.
type SpendMeta struct {
	Reason         Reason          `json:"reason"`
	IdempotencyKey string          `json:"idempotency_key"`
	CourseID       *uuid.UUID      `json:"course_id,omitempty"`
	Options        json.RawMessage `json:"options,omitempty"`
	Note           string          `json:"note,omitempty"`
}

// RefundMeta links a compensating credit to the spend it reverses.
type RefundMeta struct {
	SpendID uuid.UUID `json:"spend_id"`
	Reason  Reason    `json:"reason"`
	Note    string    `json:"note,omitempty"`
}

// AdjustmentMeta records who made a manual correction and why.
type AdjustmentMeta struct {
	Actor string `json:"actor"`
	Note  string `json:"note"`
}

// Meta is a tagged union: exactly one member is set, matching the entry type.
type Meta struct {
	Topup      *TopupMeta      `json:"topup,omitempty"`
	Spend      *SpendMeta      `json:"spend,omitempty"`
	Refund     *RefundMeta     `json:"refund,omitempty"`
	Adjustment *AdjustmentMeta `json:"adjustment,omitempty"`
}

func (m Meta) kind() (TransactionType, bool) {
	var (
		t TransactionType
		n int
	)
	if m.Topup != nil {
		t, n = TypeTopup, n+1
	}
	if m.Spend != nil {
		t, n = TypeSpend, n+1
	}
	if m.Refund != nil {
		t, n = TypeRefund, n+1
	}
	if m.Adjustment != nil {
		t, n = TypeAdjustment, n+1
	}
	return t, n == 1
}

// Value implements driver.Valuer for the jsonb column.
func (m Meta) Value() (driver.Value, error) {
	return json.Marshal(m)
}

// Scan implements sql.Scanner for the jsonb column.
func (m *Meta) Scan(src interface{}) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*m = Meta{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return errors.New("ledger: unsupported meta type")
	}
	return json.Unmarshal(data, m)
}

// newEntry is the only constructor of ledger entries. magnitude is the
// absolute token amount for topup, spend and refund; for adjustments it is
// the signed correction.
func newEntry(userID uuid.UUID, t TransactionType, magnitude int64, meta Meta) (*Transaction, error) {
	kind, ok := meta.kind()
	if !ok || kind != t {
		return nil, ErrInvalidEntry
	}

	e := &Transaction{
		ID:     uuid.New(),
		UserID: userID,
		Type:   t,
		Meta:   meta,
	}

	switch t {
	case TypeTopup:
		if magnitude <= 0 {
			return nil, ErrInvalidAmount
		}
		e.Amount = magnitude
		ref := meta.Topup.ExternalRef
		e.ExternalRef = &ref
		e.Reason = "topup:" + meta.Topup.Provider
	case TypeSpend:
		if magnitude <= 0 {
			return nil, ErrInvalidAmount
		}
		e.Amount = -magnitude
		key := meta.Spend.IdempotencyKey
		e.IdempotencyKey = &key
		e.Reason = string(meta.Spend.Reason)
	case TypeRefund:
		if magnitude <= 0 {
			return nil, ErrInvalidAmount
		}
		e.Amount = magnitude
		e.RefundOf = uuid.NullUUID{UUID: meta.Refund.SpendID, Valid: true}
		e.Reason = "refund:" + string(meta.Refund.Reason)
	case TypeAdjustment:
		if magnitude == 0 {
			return nil, ErrInvalidAmount
		}
		e.Amount = magnitude
		e.Reason = "adjustment"
	default:
		return nil, ErrInvalidEntry
	}
	return e, nil
}

// Page is one window of a user's history, newest first.
type Page struct {
	Items   []Transaction `json:"items"`
	Limit   int           `json:"limit"`
	Offset  int           `json:"offset"`
	HasNext bool          `json:"has_next"`
}

// SpendResult is the outcome of an authorized spend.
type SpendResult struct {
	Authorized    bool      `json:"authorized"`
	TransactionID uuid.UUID `json:"transaction_id"`
	Amount        int64     `json:"amount"`
	NewBalance    int64     `json:"new_balance"`
	// Replayed is set when the idempotency key matched an earlier spend; no
	// new debit was written.
	Replayed bool `json:"replayed,omitempty"`
	// Refunded is set on replays whose original spend was already refunded.
	Refunded bool `json:"refunded,omitempty"`
}

// CreditResult is the outcome of a credit-side entry (topup, refund, adjustment).
type CreditResult struct {
	Credited         bool      `json:"credited"`
	AlreadyProcessed bool      `json:"already_processed"`
	TransactionID    uuid.UUID `json:"transaction_id"`
	Amount           int64     `json:"amount"`
	NewBalance       int64     `json:"new_balance"`
}

// ReconcileReport compares the ledger sum with the cached counter.
type ReconcileReport struct {
	UserID    uuid.UUID `json:"user_id"`
	Ledger    int64     `json:"ledger"`
	Cached    int64     `json:"cached"`
	Drift     int64     `json:"drift"`
	Corrected bool      `json:"corrected"`
}

// ReconcileSummary aggregates a full reconciliation pass.
type ReconcileSummary struct {
	Checked   int `json:"checked"`
	Corrected int `json:"corrected"`
}
