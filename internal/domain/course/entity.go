package course

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aifitworld/aifitworld-api/internal/domain/ledger"
	"github.com/aifitworld/aifitworld-api/internal/domain/pricing"
)

// StoredOptions persists generator options as JSONB.
type StoredOptions struct {
	pricing.Options
}

func (o StoredOptions) Value() (driver.Value, error) {
	return json.Marshal(o.Options)
}

func (o *StoredOptions) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		o.Options = pricing.Options{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return errors.New("course: unsupported options type")
	}
	return json.Unmarshal(raw, &o.Options)
}

// Course is a published training program.
type Course struct {
	ID          uuid.UUID       `db:"id" json:"id"`
	UserID      uuid.UUID       `db:"user_id" json:"user_id"`
	Title       string          `db:"title" json:"title"`
	Options     StoredOptions   `db:"options" json:"options"`
	Content     string          `db:"content" json:"content"`
	Nutrition   string          `db:"nutrition" json:"nutrition,omitempty"`
	TokensSpent int64           `db:"tokens_spent" json:"tokens_spent"`
	PaidPDF     pricing.PDFMode `db:"paid_pdf" json:"paid_pdf"`
	PDFMode     string          `db:"pdf_mode" json:"pdf_mode,omitempty"`
	PDFURL      string          `db:"pdf_url" json:"pdf_url,omitempty"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`
}

// Preview is the cheap first look at a program before publishing.
type Preview struct {
	ID        uuid.UUID     `db:"id" json:"id"`
	UserID    uuid.UUID     `db:"user_id" json:"user_id"`
	Title     string        `db:"title" json:"title"`
	Options   StoredOptions `db:"options" json:"options"`
	Content   string        `db:"content" json:"content"`
	CreatedAt time.Time     `db:"created_at" json:"created_at"`
}

// Description is the short teaser shown in preview lists.
func (p *Preview) Description() string {
	return excerpt(p.Content, 200)
}

// Action records a paid action that completed. Its spend id is the
// ledger transaction that paid for it.
type Action struct {
	SpendID   uuid.UUID     `db:"spend_id"`
	UserID    uuid.UUID     `db:"user_id"`
	Reason    ledger.Reason `db:"reason"`
	CourseID  *uuid.UUID    `db:"course_id"`
	PreviewID *uuid.UUID    `db:"preview_id"`
	CreatedAt time.Time     `db:"created_at"`
}

// Charge is what a paid action reports back to the client.
type Charge struct {
	TransactionID *uuid.UUID `json:"transaction_id,omitempty"`
	Tokens        int64      `json:"tokens"`
	NewBalance    *int64     `json:"new_balance,omitempty"`
	Replayed      bool       `json:"replayed,omitempty"`
}

// CourseResult is a course plus the charge that produced its current state.
type CourseResult struct {
	Course *Course `json:"course"`
	Charge Charge  `json:"charge"`
}

// PreviewResult is a preview plus its charge.
type PreviewResult struct {
	Preview     *Preview `json:"preview"`
	Description string   `json:"description"`
	Charge      Charge   `json:"charge"`
}

// Title builds the display title from the chosen options.
func Title(opts pricing.Options) string {
	opts = pricing.Normalize(opts)

	var b strings.Builder
	fmt.Fprintf(&b, "%d-Week Fitness Program (%d sessions/week)", opts.Weeks, opts.SessionsPerWeek)

	if len(opts.WorkoutTypes) > 0 {
		b.WriteString(" - " + opts.WorkoutTypes[0])
	}

	switch m := opts.TargetMuscles; {
	case len(m) == 1:
		b.WriteString(" for " + m[0])
	case len(m) > 1 && len(m) <= 3:
		b.WriteString(" for " + strings.Join(m[:len(m)-1], ", ") + " and " + m[len(m)-1])
	case len(m) > 3:
		fmt.Fprintf(&b, " for %s and %d more", strings.Join(m[:2], ", "), len(m)-2)
	}

	var features []string
	if opts.InjurySafe {
		features = append(features, "Injury-Safe")
	}
	if opts.SpecialEquipment {
		features = append(features, "Special Equipment")
	}
	if opts.NutritionTips {
		features = append(features, "Nutrition Tips")
	}
	if len(features) > 0 {
		b.WriteString(" - " + strings.Join(features, ", "))
	}

	if opts.Gender == "female" {
		b.WriteString(" (Women)")
	} else {
		b.WriteString(" (Men)")
	}
	return b.String()
}

func excerpt(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n]) + "..."
}
