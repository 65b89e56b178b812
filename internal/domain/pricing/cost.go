package pricing

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/aifitworld/aifitworld-api/internal/domain/ledger"
	"github.com/aifitworld/aifitworld-api/internal/pkg/validator"
)

// Token prices before the surcharge.
const (
	BaseTokens             = 400
	TokensPerWeek          = 120
	TokensPerSession       = 8
	InjurySafeTokens       = 120
	SpecialEquipmentTokens = 80
	NutritionTokens        = 100
	VideoPlanTokens        = 250
	PDFTextTokens          = 60
	PDFImageTokens         = 10
	WorkoutTypeTokens      = 15
	TargetMuscleTokens     = 8

	PreviewTokens   = 50
	RegenDayTokens  = 30
	RegenWeekTokens = 120

	DefaultWeeks    = 4
	DefaultSessions = 4
)

// Surcharge multiplies every line item.
var Surcharge = decimal.New(13, -1)

var ErrUnpricedAction = errors.New("action has no token price")

type PDFMode string

const (
	PDFNone        PDFMode = "none"
	PDFText        PDFMode = "text"
	PDFIllustrated PDFMode = "illustrated"
)

// Options are the course generator choices that drive the price.
type Options struct {
	Weeks            int      `json:"weeks" validate:"omitempty,min=3,max=12"`
	SessionsPerWeek  int      `json:"sessions_per_week" validate:"omitempty,min=2,max=6"`
	InjurySafe       bool     `json:"injury_safe"`
	SpecialEquipment bool     `json:"special_equipment"`
	NutritionTips    bool     `json:"nutrition_tips"`
	VideoPlan        bool     `json:"video_plan"`
	PDF              PDFMode  `json:"pdf" validate:"pdf_mode"`
	Images           int      `json:"images" validate:"min=0,max=40"`
	Gender           string   `json:"gender,omitempty" validate:"omitempty,oneof=male female"`
	WorkoutTypes     []string `json:"workout_types,omitempty" validate:"max=30,dive,max=120"`
	TargetMuscles    []string `json:"target_muscles,omitempty" validate:"max=60,dive,max=120"`
}

// LineItem is one priced component of a quote.
type LineItem struct {
	Code   string `json:"code"`
	Tokens int64  `json:"tokens"`
}

// Quote is the full price of a course with its breakdown.
type Quote struct {
	Options Options    `json:"options"`
	Items   []LineItem `json:"items"`
	Total   int64      `json:"total"`
}

// Validate checks bounds; nil means the options can be priced.
func Validate(opts Options) map[string]string {
	return validator.Validate(&opts)
}

// Normalize applies defaults and de-duplicates tag lists.
func Normalize(opts Options) Options {
	if opts.Weeks == 0 {
		opts.Weeks = DefaultWeeks
	}
	if opts.SessionsPerWeek == 0 {
		opts.SessionsPerWeek = DefaultSessions
	}
	if opts.PDF == "" {
		opts.PDF = PDFNone
	}
	if opts.Gender == "" {
		opts.Gender = "male"
	}
	opts.WorkoutTypes = dedupe(opts.WorkoutTypes)
	opts.TargetMuscles = dedupe(opts.TargetMuscles)
	return opts
}

func dedupe(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		k := strings.ToLower(t)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, t)
	}
	return out
}

// surcharged applies the surcharge and rounds half away from zero.
func surcharged(tokens int64) int64 {
	return decimal.NewFromInt(tokens).Mul(Surcharge).Round(0).IntPart()
}

// Breakdown prices normalized options item by item.
func Breakdown(opts Options) Quote {
	opts = Normalize(opts)
	weeks, sessions := int64(opts.Weeks), int64(opts.SessionsPerWeek)

	items := []LineItem{{
		Code:   "base",
		Tokens: surcharged(BaseTokens + weeks*TokensPerWeek + sessions*weeks*TokensPerSession),
	}}
	add := func(on bool, code string, tokens int64) {
		if on {
			items = append(items, LineItem{Code: code, Tokens: surcharged(tokens)})
		}
	}
	add(opts.InjurySafe, "injury_safe", InjurySafeTokens)
	add(opts.SpecialEquipment, "special_equipment", SpecialEquipmentTokens)
	add(opts.NutritionTips, "nutrition", NutritionTokens)
	add(opts.VideoPlan, "video_plan", VideoPlanTokens)
	if pdf := PDFCost(opts.PDF, opts.Images); pdf > 0 {
		items = append(items, LineItem{Code: "pdf_" + string(opts.PDF), Tokens: pdf})
	}
	add(len(opts.WorkoutTypes) > 0, "workout_types", int64(len(opts.WorkoutTypes))*WorkoutTypeTokens)
	add(len(opts.TargetMuscles) > 0, "target_muscles", int64(len(opts.TargetMuscles))*TargetMuscleTokens)

	var total int64
	for _, it := range items {
		total += it.Tokens
	}
	if total < 0 {
		total = 0
	}
	return Quote{Options: opts, Items: items, Total: total}
}

// CalcCost is the publish price for the options.
func CalcCost(opts Options) int64 {
	return Breakdown(opts).Total
}

// PDFCost prices a PDF rendition. Images only count for illustrated PDFs.
func PDFCost(mode PDFMode, images int) int64 {
	switch mode {
	case PDFText:
		return surcharged(PDFTextTokens)
	case PDFIllustrated:
		return surcharged(PDFTextTokens + int64(images)*PDFImageTokens)
	default:
		return 0
	}
}

// ActionCost is what a paid action charges. The quote endpoint and the
// enforcement path both go through it.
func ActionCost(reason ledger.Reason, opts Options) (int64, error) {
	switch reason {
	case ledger.ReasonPreview:
		return PreviewTokens, nil
	case ledger.ReasonPublish:
		return CalcCost(opts), nil
	case ledger.ReasonRegenDay:
		return RegenDayTokens, nil
	case ledger.ReasonRegenWeek:
		return RegenWeekTokens, nil
	case ledger.ReasonPDFExport:
		opts = Normalize(opts)
		return PDFCost(opts.PDF, opts.Images), nil
	default:
		return 0, ErrUnpricedAction
	}
}
