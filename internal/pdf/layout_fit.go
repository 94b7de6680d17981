package pdf

import (
	"math"
	"strings"

	"doc-translator/internal/layout"
)

const (
	// DefaultMinFontRatio is the smallest size, relative to the original,
	// text may be shrunk to before it wraps.
	DefaultMinFontRatio = 0.6
	// DefaultLineSpacing is the leading used for wrapped lines, relative to
	// the font size.
	DefaultLineSpacing = 1.15
	// fitTolerance absorbs rounding when comparing widths and heights.
	fitTolerance = 0.01
)

// FitPlan describes how one segment's text is rendered inside its box.
type FitPlan struct {
	Index    int          `json:"segment_index"`
	Font     StandardFont `json:"font"`
	FontSize float64      `json:"font_size"`
	// Lines are WinAnsi encoded, top to bottom.
	Lines   [][]byte `json:"lines"`
	X       float64  `json:"x"`
	Top     float64  `json:"top"`
	Leading float64  `json:"leading"`

	Shrunk   bool `json:"shrunk"`
	Wrapped  bool `json:"wrapped"`
	Overflow bool `json:"overflow"`
}

// Baseline returns the baseline of the first line.
func (p FitPlan) Baseline() float64 {
	return p.Top - ascentRatio*p.FontSize
}

// Fitter decides font size and line breaks for translated text.
type Fitter struct {
	MinFontRatio float64
	LineSpacing  float64
}

// NewFitter 创建排版器，非法参数回退到默认值
func NewFitter(minFontRatio, lineSpacing float64) *Fitter {
	if minFontRatio <= 0 || minFontRatio > 1 {
		minFontRatio = DefaultMinFontRatio
	}
	if lineSpacing < 1 {
		lineSpacing = DefaultLineSpacing
	}
	return &Fitter{MinFontRatio: minFontRatio, LineSpacing: lineSpacing}
}

// Plan fits the segment's winning text into its bounding box. It tries, in
// order: the original size, shrinking down to MinFontRatio, wrapping at the
// minimum size within the box height, and finally a single overflowing line
// at the minimum size. ok is false when there is nothing to paint.
func (f *Fitter) Plan(seg layout.Segment) (plan FitPlan, ok bool) {
	text, ok := seg.WinningText()
	if !ok {
		return FitPlan{}, false
	}
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return FitPlan{}, false
	}

	font := PickFont(seg.Style)
	encoded := EncodeWinAnsi(text)
	box := seg.BBox
	plan = FitPlan{
		Index: seg.Index,
		Font:  font,
		X:     box.X0,
		Top:   box.Y1,
	}

	size := seg.FontSize
	width := font.Measure(encoded, size)
	if width <= box.Width()+fitTolerance {
		return plan.single(encoded, size, f.LineSpacing), true
	}

	minSize := seg.FontSize * f.MinFontRatio
	if box.Width() > 0 {
		// Measure is linear in size; floor to hundredths so the result fits.
		shrunk := math.Floor(size*box.Width()/width*100) / 100
		if shrunk >= minSize {
			plan = plan.single(encoded, shrunk, f.LineSpacing)
			plan.Shrunk = true
			return plan, true
		}
	}

	if lines, fits := f.wrap(font, text, minSize, box); fits {
		plan.FontSize = minSize
		plan.Leading = minSize * f.LineSpacing
		plan.Lines = lines
		plan.Shrunk = true
		plan.Wrapped = len(lines) > 1
		return plan, true
	}

	plan = plan.single(encoded, minSize, f.LineSpacing)
	plan.Shrunk = true
	plan.Overflow = true
	return plan, true
}

func (p FitPlan) single(encoded []byte, size, spacing float64) FitPlan {
	p.FontSize = size
	p.Leading = size * spacing
	p.Lines = [][]byte{encoded}
	return p
}

// wrap breaks text greedily on spaces at size. fits is false when a word is
// wider than the box or the lines exceed the box height.
func (f *Fitter) wrap(font StandardFont, text string, size float64, box layout.BBox) (lines [][]byte, fits bool) {
	maxWidth := box.Width() + fitTolerance
	space := font.Measure([]byte{' '}, size)

	var line []byte
	var lineWidth float64
	for _, word := range strings.Fields(text) {
		enc := EncodeWinAnsi(word)
		w := font.Measure(enc, size)
		if w > maxWidth {
			return nil, false
		}
		if len(line) > 0 && lineWidth+space+w > maxWidth {
			lines = append(lines, line)
			line, lineWidth = nil, 0
		}
		if len(line) > 0 {
			line = append(line, ' ')
			lineWidth += space
		}
		line = append(line, enc...)
		lineWidth += w
	}
	if len(line) > 0 {
		lines = append(lines, line)
	}

	height := size*(ascentRatio+descentRatio) + float64(len(lines)-1)*size*f.LineSpacing
	return lines, height <= box.Height()+fitTolerance
}
