package course

import (
	"html"
	"html/template"
	"regexp"
	"strconv"
	"strings"
)

var (
	mdHeading   = regexp.MustCompile(`^(#{1,6})[ \t]+(.*?)[ \t#]*$`)
	mdBullet    = regexp.MustCompile(`^[ \t]*[-*+][ \t]+(.*)$`)
	mdNumbered  = regexp.MustCompile(`^[ \t]*\d+[.)][ \t]+(.*)$`)
	mdTableSep  = regexp.MustCompile(`^\|?[ \t]*:?-{3,}:?[ \t]*(\|[ \t]*:?-{3,}:?[ \t]*)*\|?$`)
	mdRule      = regexp.MustCompile(`^[ \t]*([-*_])([ \t]*[-*_]){2,}[ \t]*$`)
	mdStrong    = regexp.MustCompile(`\*\*(.+?)\*\*`)
	mdEmphasis  = regexp.MustCompile(`(^|[^*])\*([^*\s][^*]*?)\*`)
	mdCode      = regexp.MustCompile("`([^`]+)`")
	mdFenceLine = regexp.MustCompile("^[ \t]*```")
)

// renderMarkdown converts the markdown subset the generator is asked for
// into HTML. All text is escaped; raw HTML in the input is shown as text.
func renderMarkdown(md string) template.HTML {
	r := &mdRenderer{}
	for _, line := range strings.Split(strings.ReplaceAll(md, "\r\n", "\n"), "\n") {
		r.line(line)
	}
	r.flush()
	return template.HTML(r.out.String())
}

type mdRenderer struct {
	out   strings.Builder
	para  []string
	list  string
	items []string
	table [][]string
	quote []string
}

func (r *mdRenderer) line(line string) {
	trimmed := strings.TrimSpace(line)

	switch {
	case trimmed == "" || mdFenceLine.MatchString(line):
		r.flush()
	case strings.HasPrefix(trimmed, "|"):
		r.flushExcept("table")
		if mdTableSep.MatchString(trimmed) {
			return
		}
		r.table = append(r.table, cells(trimmed))
	case mdHeading.MatchString(trimmed):
		r.flush()
		m := mdHeading.FindStringSubmatch(trimmed)
		level := strconv.Itoa(len(m[1]))
		r.out.WriteString("<h" + level + ">" + inline(m[2]) + "</h" + level + ">\n")
	case mdRule.MatchString(trimmed):
		r.flush()
		r.out.WriteString("<hr>\n")
	case strings.HasPrefix(trimmed, ">"):
		r.flushExcept("quote")
		r.quote = append(r.quote, strings.TrimSpace(strings.TrimPrefix(trimmed, ">")))
	case mdBullet.MatchString(line):
		r.item("ul", mdBullet.FindStringSubmatch(line)[1])
	case mdNumbered.MatchString(line):
		r.item("ol", mdNumbered.FindStringSubmatch(line)[1])
	default:
		if r.list != "" && (strings.HasPrefix(line, "  ") || strings.HasPrefix(line, "\t")) {
			r.items[len(r.items)-1] += " " + trimmed
			return
		}
		r.flushExcept("para")
		r.para = append(r.para, trimmed)
	}
}

func (r *mdRenderer) item(kind, text string) {
	if r.list != kind {
		r.flush()
		r.list = kind
	}
	r.items = append(r.items, text)
}

func (r *mdRenderer) flushExcept(keep string) {
	if keep != "para" {
		r.flushPara()
	}
	if keep != "list" {
		r.flushList()
	}
	if keep != "table" {
		r.flushTable()
	}
	if keep != "quote" {
		r.flushQuote()
	}
}

func (r *mdRenderer) flush() { r.flushExcept("") }

func (r *mdRenderer) flushPara() {
	if len(r.para) == 0 {
		return
	}
	r.out.WriteString("<p>" + inline(strings.Join(r.para, " ")) + "</p>\n")
	r.para = nil
}

func (r *mdRenderer) flushList() {
	if r.list == "" {
		return
	}
	r.out.WriteString("<" + r.list + ">\n")
	for _, it := range r.items {
		r.out.WriteString("<li>" + inline(it) + "</li>\n")
	}
	r.out.WriteString("</" + r.list + ">\n")
	r.list, r.items = "", nil
}

func (r *mdRenderer) flushTable() {
	if len(r.table) == 0 {
		return
	}
	r.out.WriteString(`<table class="exercise-table">` + "\n")
	for i, row := range r.table {
		tag := "td"
		if i == 0 {
			tag = "th"
		}
		r.out.WriteString("<tr>")
		for _, c := range row {
			r.out.WriteString("<" + tag + ">" + inline(c) + "</" + tag + ">")
		}
		r.out.WriteString("</tr>\n")
	}
	r.out.WriteString("</table>\n")
	r.table = nil
}

func (r *mdRenderer) flushQuote() {
	if len(r.quote) == 0 {
		return
	}
	r.out.WriteString(`<div class="highlight-box">` + inline(strings.Join(r.quote, " ")) + "</div>\n")
	r.quote = nil
}

func cells(row string) []string {
	row = strings.TrimSuffix(strings.TrimPrefix(row, "|"), "|")
	parts := strings.Split(row, "|")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// inline escapes text, then applies code, strong and emphasis spans.
func inline(s string) string {
	s = html.EscapeString(s)
	s = mdCode.ReplaceAllString(s, "<code>$1</code>")
	s = mdStrong.ReplaceAllString(s, "<strong>$1</strong>")
	s = mdEmphasis.ReplaceAllString(s, "$1<em>$2</em>")
	return s
}
