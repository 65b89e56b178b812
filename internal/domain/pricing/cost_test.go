package pricing

import (
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aifitworld/aifitworld-api/internal/domain/ledger"
)

func TestCalcCost(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		want int64
	}{
		{"defaults", Options{}, 1310},
		{"defaults with text pdf", Options{PDF: PDFText}, 1388},
		{"shortest plan", Options{Weeks: 3, SessionsPerWeek: 2}, 1050},
		{"images ignored without illustrated pdf", Options{PDF: PDFText, Images: 10}, 1388},
		{
			name: "everything",
			opts: Options{
				Weeks:            12,
				SessionsPerWeek:  6,
				InjurySafe:       true,
				SpecialEquipment: true,
				NutritionTips:    true,
				VideoPlan:        true,
				PDF:              PDFIllustrated,
				Images:           40,
				WorkoutTypes:     []string{"HIIT", "Circuit Training", "Kettlebell Training"},
				TargetMuscles:    []string{"lats", "glute_max"},
			},
			want: 4534,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CalcCost(tt.opts))
		})
	}
}

func TestBreakdownSumsToTotal(t *testing.T) {
	q := Breakdown(Options{InjurySafe: true, PDF: PDFIllustrated, Images: 5, TargetMuscles: []string{"lats"}})

	var sum int64
	codes := make([]string, 0, len(q.Items))
	for _, it := range q.Items {
		sum += it.Tokens
		codes = append(codes, it.Code)
	}
	assert.Equal(t, q.Total, sum)
	assert.Equal(t, []string{"base", "injury_safe", "pdf_illustrated", "target_muscles"}, codes)
	assert.Equal(t, DefaultWeeks, q.Options.Weeks)
}

func TestLineItemsRoundHalfAwayFromZero(t *testing.T) {
	// 3 workout types: 45 * 1.3 = 58.5
	q := Breakdown(Options{WorkoutTypes: []string{"a", "b", "c"}})
	require.Len(t, q.Items, 2)
	assert.Equal(t, int64(59), q.Items[1].Tokens)
}

func TestTagsAreDeduplicated(t *testing.T) {
	q := Breakdown(Options{WorkoutTypes: []string{"HIIT", "hiit", " HIIT ", ""}})
	assert.Equal(t, []string{"HIIT"}, q.Options.WorkoutTypes)
	assert.Equal(t, int64(1310+20), q.Total)
}

func TestPDFCost(t *testing.T) {
	assert.Equal(t, int64(0), PDFCost(PDFNone, 10))
	assert.Equal(t, int64(78), PDFCost(PDFText, 10))
	assert.Equal(t, int64(143), PDFCost(PDFIllustrated, 5))
}

func TestActionCost(t *testing.T) {
	opts := Options{PDF: PDFText}
	cases := map[ledger.Reason]int64{
		ledger.ReasonPreview:   50,
		ledger.ReasonPublish:   1388,
		ledger.ReasonRegenDay:  30,
		ledger.ReasonRegenWeek: 120,
		ledger.ReasonPDFExport: 78,
	}
	for reason, want := range cases {
		got, err := ActionCost(reason, opts)
		require.NoError(t, err, reason)
		assert.Equal(t, want, got, reason)
	}

	_, err := ActionCost(ledger.ReasonCustom, opts)
	assert.ErrorIs(t, err, ErrUnpricedAction)
}

func TestValidateBounds(t *testing.T) {
	many := make([]string, 31)
	for i := range many {
		many[i] = fmt.Sprintf("type-%d", i)
	}

	tests := []struct {
		name  string
		opts  Options
		field string
	}{
		{"weeks too low", Options{Weeks: 2}, "weeks"},
		{"weeks too high", Options{Weeks: 13}, "weeks"},
		{"sessions too high", Options{SessionsPerWeek: 7}, "sessions_per_week"},
		{"too many images", Options{Images: 41}, "images"},
		{"negative images", Options{Images: -1}, "images"},
		{"unknown pdf mode", Options{PDF: "color"}, "pdf"},
		{"unknown gender", Options{Gender: "robot"}, "gender"},
		{"too many workout types", Options{WorkoutTypes: many}, "workout_types"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := Validate(tt.opts)
			assert.Contains(t, errs, tt.field)
		})
	}

	assert.Nil(t, Validate(Options{}))
	assert.Nil(t, Validate(Options{Weeks: 12, SessionsPerWeek: 2, PDF: PDFIllustrated, Images: 40}))
}

func TestTokensForMoney(t *testing.T) {
	tests := []struct {
		amount string
		want   int64
	}{
		{"19.99", 1999},
		{"25.75", 2575},
		{"9.999", 1000},
		{"25.755", 2576},
		{"0", 0},
		{"-5", 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TokensForMoney(decimal.RequireFromString(tt.amount), 100), tt.amount)
	}
	assert.Equal(t, int64(0), TokensForMoney(decimal.NewFromInt(10), 0))
}

func TestFindPackage(t *testing.T) {
	p, err := FindPackage("Builder")
	require.NoError(t, err)
	assert.Equal(t, "popular", p.ID)
	assert.Equal(t, int64(2500), p.Tokens)

	p, err = FindPackage("pro")
	require.NoError(t, err)
	assert.Equal(t, int64(6000), p.Tokens)

	_, err = FindPackage("platinum")
	assert.ErrorIs(t, err, ErrUnknownPackage)
}
