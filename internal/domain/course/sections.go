package course

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Program content is markdown: "## Week N" sections holding "### Day M" sections.
var (
	weekHeading  = regexp.MustCompile(`(?mi)^##[ \t]+Week[ \t]+(\d+)\b.*$`)
	dayHeading   = regexp.MustCompile(`(?mi)^###[ \t]+Day[ \t]+(\d+)\b.*$`)
	weekBoundary = regexp.MustCompile(`(?m)^#{1,2}[ \t]`)
	dayBoundary  = regexp.MustCompile(`(?m)^#{1,3}[ \t]`)
)

type span struct{ start, end int }

// find returns the section whose heading matches re with number n. The
// section runs until the next heading matched by boundary.
func find(text string, re, boundary *regexp.Regexp, n int) (span, bool) {
	for _, m := range re.FindAllStringSubmatchIndex(text, -1) {
		if num, err := strconv.Atoi(text[m[2]:m[3]]); err != nil || num != n {
			continue
		}
		end := len(text)
		if loc := boundary.FindStringIndex(text[m[1]:]); loc != nil {
			end = m[1] + loc[0]
		}
		return span{m[0], end}, true
	}
	return span{}, false
}

// Week returns the markdown of week n, heading included.
func Week(content string, n int) (string, bool) {
	s, ok := find(content, weekHeading, weekBoundary, n)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(content[s.start:s.end]), true
}

// Day returns the markdown of day d in week w, heading included.
func Day(content string, w, d int) (string, bool) {
	ws, ok := find(content, weekHeading, weekBoundary, w)
	if !ok {
		return "", false
	}
	week := content[ws.start:ws.end]
	ds, ok := find(week, dayHeading, dayBoundary, d)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(week[ds.start:ds.end]), true
}

// ReplaceWeek swaps week n for block. A missing week is appended.
func ReplaceWeek(content string, n int, block string) string {
	block = section(block, weekHeading, weekBoundary, n, fmt.Sprintf("## Week %d", n))
	if s, ok := find(content, weekHeading, weekBoundary, n); ok {
		return splice(content, s, block)
	}
	return join(content, block)
}

// ReplaceDay swaps day d of week w for block. A missing day is appended to
// its week; a missing week is created.
func ReplaceDay(content string, w, d int, block string) string {
	block = section(block, dayHeading, dayBoundary, d, fmt.Sprintf("### Day %d", d))

	ws, ok := find(content, weekHeading, weekBoundary, w)
	if !ok {
		return join(content, fmt.Sprintf("## Week %d\n\n%s", w, block))
	}
	week := content[ws.start:ws.end]
	if ds, ok := find(week, dayHeading, dayBoundary, d); ok {
		week = splice(week, ds, block)
	} else {
		week = join(week, block)
	}
	return splice(content, ws, week)
}

// section trims generated text down to the wanted section, adding the
// heading when the model left it out.
func section(text string, re, boundary *regexp.Regexp, n int, heading string) string {
	text = strings.TrimSpace(text)
	if s, ok := find(text, re, boundary, n); ok {
		return strings.TrimSpace(text[s.start:s.end])
	}
	return heading + "\n\n" + text
}

func splice(text string, s span, block string) string {
	before := strings.TrimRight(text[:s.start], "\n")
	after := strings.TrimLeft(text[s.end:], "\n")

	var b strings.Builder
	if before != "" {
		b.WriteString(before)
		b.WriteString("\n\n")
	}
	b.WriteString(strings.TrimSpace(block))
	if after != "" {
		b.WriteString("\n\n")
		b.WriteString(after)
	} else {
		b.WriteString("\n")
	}
	return b.String()
}

func join(text, block string) string {
	text = strings.TrimRight(text, "\n")
	if text == "" {
		return strings.TrimSpace(block) + "\n"
	}
	return text + "\n\n" + strings.TrimSpace(block) + "\n"
}
