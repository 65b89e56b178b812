package course

import (
	"fmt"
	"strings"

	"github.com/aifitworld/aifitworld-api/internal/domain/pricing"
)

const (
	trainerSystem   = "You are a professional fitness trainer and nutritionist. Create detailed, safe, and effective workout plans. Always prioritize safety and proper form."
	nutritionSystem = "You are a certified nutritionist specializing in sports nutrition. Provide practical, evidence-based advice."

	planMaxTokens      = 2000
	previewMaxTokens   = 900
	weekMaxTokens      = 1500
	dayMaxTokens       = 800
	nutritionMaxTokens = 1000
)

const formatRules = `Format the answer as markdown only:
- "## Week N" for each week, "### Day M: Focus" for each training day inside it
- "#### Warm-Up", "#### Main Workout" and "#### Cool-Down" inside each day
- a table with columns Exercise | Sets | Reps | Rest for the main workout
- bullet lists for warm-up and cool-down
Do not wrap the answer in code fences.`

func describe(opts pricing.Options) string {
	var b strings.Builder
	fmt.Fprintf(&b, "a %d-week fitness program with %d sessions per week for a %s person.", opts.Weeks, opts.SessionsPerWeek, opts.Gender)
	if len(opts.WorkoutTypes) > 0 {
		fmt.Fprintf(&b, " Focus on these workout types: %s.", strings.Join(opts.WorkoutTypes, ", "))
	}
	if len(opts.TargetMuscles) > 0 {
		fmt.Fprintf(&b, " Target these muscle groups: %s.", strings.Join(opts.TargetMuscles, ", "))
	}
	if opts.InjurySafe {
		b.WriteString(" Include injury-safe modifications and alternatives.")
	}
	if opts.SpecialEquipment {
		b.WriteString(" Include exercises that require special equipment.")
	}
	if opts.VideoPlan {
		b.WriteString(" For every exercise add a short search phrase for a demonstration video.")
	}
	return b.String()
}

func planPrompt(opts pricing.Options) string {
	return "Create " + describe(opts) +
		"\n\nProvide a detailed weekly breakdown with specific exercises, sets, reps, and rest periods. Include warm-up and cool-down routines.\n\n" +
		formatRules
}

func previewPrompt(opts pricing.Options) string {
	return "Write the first week of " + describe(opts) +
		"\n\nOnly week 1 is needed; it is a sample of the full program.\n\n" + formatRules
}

func weekPrompt(opts pricing.Options, week int, current string) string {
	p := fmt.Sprintf("Rewrite ONLY Week %d of %s\n\nKeep %d training days. Start with the heading \"## Week %d\".\n\n%s",
		week, describe(opts), opts.SessionsPerWeek, week, formatRules)
	if current != "" {
		p += "\n\nThe current version, to be replaced with a fresh variation:\n\n" + current
	}
	return p
}

func dayPrompt(opts pricing.Options, week, day int, current string) string {
	p := fmt.Sprintf("Rewrite ONLY Week %d, Day %d of %s\n\nStart with the heading \"### Day %d: Focus\" and include nothing else.\n\n%s",
		week, day, describe(opts), day, formatRules)
	if current != "" {
		p += "\n\nThe current version, to be replaced with a fresh variation:\n\n" + current
	}
	return p
}

func nutritionPrompt(opts pricing.Options) string {
	types := "general fitness"
	if len(opts.WorkoutTypes) > 0 {
		types = strings.Join(opts.WorkoutTypes, ", ")
	}
	return fmt.Sprintf("Create personalized nutrition advice for a %s person doing %s workouts %d times per week. Include meal timing, protein requirements, hydration tips, and pre/post workout nutrition. Answer in markdown without code fences.",
		opts.Gender, types, opts.SessionsPerWeek)
}

var equipmentByType = map[string]string{
	"hiit":                      "timer, resistance bands, bodyweight",
	"trx":                       "TRX straps, anchor point",
	"calisthenics":              "pull-up bar, parallel bars, rings",
	"full-body strength":        "dumbbells, barbell, weight plates",
	"hypertrophy":               "dumbbells, barbell, cable machine",
	"powerlifting fundamentals": "barbell, weight plates, power rack",
	"kettlebell":                "kettlebells, open space",
	"bands/mini-bands":          "resistance bands, mini-bands, anchor points",
	"emom/amrap/tabata":         "timer, minimal equipment",
	"home minimal":              "resistance bands, bodyweight, chair",
	"commercial gym":            "full gym equipment, machines, free weights",
	"boxing conditioning":       "punching bag, gloves, timer",
	"plyometrics":               "open space, boxes, hurdles",
	"mobility":                  "yoga mat, foam roller, mobility tools",
}

func equipment(opts pricing.Options) string {
	if len(opts.WorkoutTypes) > 0 {
		if e, ok := equipmentByType[strings.ToLower(opts.WorkoutTypes[0])]; ok {
			return e
		}
		return "basic fitness equipment"
	}
	if opts.SpecialEquipment {
		return "commercial gym equipment"
	}
	return "home minimal setup"
}

// imagePrompt rotates hero, technique and detail shots.
func imagePrompt(opts pricing.Options, i int) string {
	const safe = " No text, no logos, no watermarks. Safe and appropriate content for all audiences."
	switch i % 3 {
	case 1:
		muscle := "full body"
		if len(opts.TargetMuscles) > 0 {
			muscle = opts.TargetMuscles[i%len(opts.TargetMuscles)]
		}
		return fmt.Sprintf("Studio fitness photography: %s person in athletic wear demonstrating an exercise for the %s with clear form. Neutral studio background, natural lighting.%s",
			opts.Gender, muscle, safe)
	case 2:
		return fmt.Sprintf("Close-up fitness photography: %s in a clean setting with natural lighting and clean composition. Detail photography, focus on equipment.%s",
			equipment(opts), safe)
	default:
		location := "home minimal setup"
		if opts.SpecialEquipment {
			location = "commercial gym"
		}
		return fmt.Sprintf("Professional fitness photography: a %s person in athletic wear in a clean %s environment. Equipment visible: %s. Natural studio lighting, motivational style.%s",
			opts.Gender, location, equipment(opts), safe)
	}
}
