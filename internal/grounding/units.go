package grounding

import (
	"fmt"
	"math"
	"strings"

	"docqa/internal/domain"
)

// LineBreakDelta is the vertical movement, in points, that starts a new line
// when grouping layout spans.
const LineBreakDelta = 5.0

// Kind classifies a render unit.
type Kind int

const (
	KindParagraph Kind = iota
	KindHeading
	KindLine
)

func (k Kind) String() string {
	switch k {
	case KindHeading:
		return "heading"
	case KindLine:
		return "line"
	default:
		return "paragraph"
	}
}

// Unit is one renderable block of the document, identified in document order.
type Unit struct {
	ID    string
	Kind  Kind
	Text  string
	Spans []domain.Span
	Page  int
}

// Highlightable reports whether the unit takes part in grounding.
func (u Unit) Highlightable() bool { return u.Kind != KindHeading }

func unitID(n int) string { return fmt.Sprintf("unit-%d", n) }

// UnitsFromText splits plain text into heading units (lines starting with
// '#') and paragraph units separated by blank lines.
func UnitsFromText(text string) []Unit {
	var units []Unit
	var para []string
	flush := func() {
		if len(para) == 0 {
			return
		}
		units = append(units, Unit{ID: unitID(len(units)), Kind: KindParagraph, Text: strings.Join(para, "\n")})
		para = para[:0]
	}
	for _, raw := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		line := strings.TrimSpace(raw)
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "#"):
			flush()
			heading := strings.TrimSpace(strings.TrimLeft(line, "#"))
			if heading != "" {
				units = append(units, Unit{ID: unitID(len(units)), Kind: KindHeading, Text: heading})
			}
		default:
			para = append(para, line)
		}
	}
	flush()
	return units
}

// UnitsFromPages groups layout spans into line units. A new line starts when
// a span's top edge moves by more than LineBreakDelta; spans without a
// bounding box stay on the current line. Empty spans are skipped.
func UnitsFromPages(pages []domain.Page) []Unit {
	var units []Unit
	for pageNum, page := range pages {
		var current []domain.Span
		haveY := false
		var lastY float64
		flush := func() {
			if len(current) == 0 {
				return
			}
			parts := make([]string, len(current))
			for i, sp := range current {
				parts[i] = sp.Text
			}
			units = append(units, Unit{
				ID:    unitID(len(units)),
				Kind:  KindLine,
				Text:  strings.Join(parts, " "),
				Spans: current,
				Page:  pageNum,
			})
			current = nil
		}
		for _, line := range page {
			for _, sp := range line {
				text := strings.TrimSpace(sp.Text)
				if text == "" {
					continue
				}
				sp.Text = text
				if sp.BBox != nil {
					y := sp.BBox[1]
					if haveY && math.Abs(y-lastY) > LineBreakDelta {
						flush()
					}
					lastY, haveY = y, true
				}
				current = append(current, sp)
			}
		}
		flush()
	}
	return units
}
