package pdf

import (
	"fmt"
	"math"
	"strings"

	"golang.org/x/text/unicode/norm"

	"doc-translator/internal/contentstream"
	"doc-translator/internal/layout"
	"doc-translator/internal/logger"
)

// graphicsStateOperators are operators outside text objects whose malformed
// operands do not stop extraction.
var graphicsStateOperators = map[string]bool{"cm": true, "q": true, "Q": true}

const (
	// DefaultGroupEpsilon is the largest horizontal gap, as a fraction of the
	// font size, between two runs that still belong to one segment.
	DefaultGroupEpsilon = 0.5
	// tjSpaceThreshold is the TJ displacement (1/1000 em) read as a word gap.
	tjSpaceThreshold = 250
	// renderClip is text render mode 7: add to clipping path, paint nothing.
	renderClip = 7
)

// textRun is the output of one text-showing operator.
type textRun struct {
	text     string
	fontKey  string
	fontName string
	size     float64
	style    layout.StyleFlags
	x0, x1   float64
	baseline float64
}

// Extractor turns page content into ordered segments.
type Extractor struct {
	// GroupEpsilon overrides DefaultGroupEpsilon when positive.
	GroupEpsilon float64
}

// NewExtractor returns an Extractor with default settings.
func NewExtractor() *Extractor {
	return &Extractor{GroupEpsilon: DefaultGroupEpsilon}
}

// Extract walks the page's text operators in paint order and returns its
// segments with contiguous indexes starting at 0. A content stream that
// cannot be parsed yields an ExtractionError.
func (e *Extractor) Extract(jobID string, page PageContent) (segs []layout.Segment, err error) {
	defer func() {
		if r := recover(); r != nil {
			segs = nil
			err = NewPDFErrorWithPage(ErrExtraction, "panic while extracting text", page.Number, fmt.Errorf("%v", r))
		}
	}()

	runs, err := e.runs(page)
	if err != nil {
		return nil, NewPDFErrorWithPage(ErrExtraction, "malformed content stream", page.Number, err)
	}

	groups := e.group(runs)
	segs = make([]layout.Segment, 0, len(groups))
	for _, g := range groups {
		text := strings.TrimSpace(norm.NFC.String(g.text))
		if text == "" {
			continue
		}
		segs = append(segs, layout.Segment{
			JobID:      jobID,
			PageNumber: page.Number,
			Index:      len(segs),
			BBox: layout.NewBBox(
				g.x0,
				g.baseline-descentRatio*g.size,
				g.x1,
				g.baseline+ascentRatio*g.size,
			),
			FontName:   g.fontName,
			FontSize:   roundTo(g.size, 100),
			Style:      g.style,
			SourceText: text,
		})
	}
	return segs, nil
}

// runs interprets the content stream and collects non-empty text runs.
func (e *Extractor) runs(page PageContent) ([]textRun, error) {
	ops, err := contentstream.Parse(page.Content)
	if err != nil {
		return nil, err
	}

	tm := newTextMachine()
	var runs []textRun

	for _, op := range ops {
		if err := tm.apply(op); err != nil {
			if !graphicsStateOperators[op.Operator] {
				return nil, err
			}
			// The operator keeps the state it had; the background isolator
			// rejects the page separately.
			logger.Debug("skipping malformed operator",
				logger.String("operator", op.Operator),
				logger.Int("offset", op.Start),
				logger.Err(err))
			continue
		}

		var pieces []contentstream.Operand
		switch op.Operator {
		case "Tj", "'":
			if len(op.Operands) != 1 || op.Operands[0].Kind != contentstream.KindString {
				return nil, badOperands(op)
			}
			pieces = op.Operands
		case "\"":
			if len(op.Operands) != 3 || op.Operands[2].Kind != contentstream.KindString {
				return nil, badOperands(op)
			}
			pieces = op.Operands[2:]
		case "TJ":
			if len(op.Operands) != 1 || op.Operands[0].Kind != contentstream.KindArray {
				return nil, badOperands(op)
			}
			pieces = op.Operands[0].Items
		default:
			continue
		}

		run, err := e.show(tm, page, op, pieces)
		if err != nil {
			return nil, err
		}
		if run != nil {
			runs = append(runs, *run)
		}
	}
	return runs, nil
}

// show advances the text state over pieces and returns the painted run, or
// nil when nothing visible was shown.
func (e *Extractor) show(tm *textMachine, page PageContent, op contentstream.Operation, pieces []contentstream.Operand) (*textRun, error) {
	p := tm.gs.text
	if p.font == "" {
		return nil, fmt.Errorf("%s at offset %d shows text before any Tf", op.Operator, op.Start)
	}
	font, ok := page.Fonts[p.font]
	if !ok {
		font = FontInfo{Resource: p.font, BaseFont: p.font}
	}

	start := tm.renderMatrix()
	size := tm.effectiveSize()

	var text strings.Builder
	for _, piece := range pieces {
		switch piece.Kind {
		case contentstream.KindString:
			text.WriteString(font.decode(piece.Bytes))
			for _, code := range font.codes(piece.Bytes) {
				w := font.codeWidth(code) / 1000 * p.fontSize
				w += p.charSpace
				if !font.TwoByte && code == 32 {
					w += p.wordSpace
				}
				tm.advance(w * p.hscale)
			}
		case contentstream.KindNumber:
			tm.advance(-piece.Number / 1000 * p.fontSize * p.hscale)
			if -piece.Number >= tjSpaceThreshold {
				s := text.String()
				if s != "" && !strings.HasSuffix(s, " ") {
					text.WriteByte(' ')
				}
			}
		default:
			return nil, badOperands(op)
		}
	}

	if p.render == renderClip || size < 0.01 || strings.TrimSpace(text.String()) == "" {
		return nil, nil
	}

	end := tm.renderMatrix()
	x0, x1 := start[4], end[4]
	if x1 < x0 {
		x0, x1 = x1, x0
	}
	return &textRun{
		text:     text.String(),
		fontKey:  p.font,
		fontName: FamilyName(font.BaseFont),
		size:     size,
		style:    StyleFromFont(font.BaseFont, font.DescriptorFlags),
		x0:       x0,
		x1:       x1,
		baseline: start[5],
	}, nil
}

// group merges consecutive runs that share font, size and style and sit next
// to each other on the same baseline.
func (e *Extractor) group(runs []textRun) []textRun {
	eps := e.GroupEpsilon
	if eps <= 0 {
		eps = DefaultGroupEpsilon
	}

	var out []textRun
	for _, r := range runs {
		if n := len(out); n > 0 && adjacent(out[n-1], r, eps) {
			cur := &out[n-1]
			gap := r.x0 - cur.x1
			if gap > 0.15*cur.size && !strings.HasSuffix(cur.text, " ") && !strings.HasPrefix(r.text, " ") {
				cur.text += " "
			}
			cur.text += r.text
			cur.x0 = math.Min(cur.x0, r.x0)
			cur.x1 = math.Max(cur.x1, r.x1)
			continue
		}
		out = append(out, r)
	}
	return out
}

func adjacent(a, b textRun, eps float64) bool {
	if a.fontKey != b.fontKey || a.style != b.style {
		return false
	}
	if math.Abs(a.size-b.size) > 0.01*math.Max(a.size, b.size) {
		return false
	}
	if math.Abs(a.baseline-b.baseline) > 0.1*a.size {
		return false
	}
	gap := b.x0 - a.x1
	return gap >= -eps*a.size && gap <= eps*a.size
}

func roundTo(v float64, scale float64) float64 {
	return math.Round(v*scale) / scale
}
