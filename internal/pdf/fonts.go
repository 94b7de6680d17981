package pdf

import (
	"strings"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"

	"doc-translator/internal/layout"
)

// helveticaWidths holds Helvetica advance widths (1/1000 em) for ASCII 32..126.
var helveticaWidths = [95]float64{
	278, 278, 355, 556, 556, 889, 667, 191, 333, 333, 389, 584, 278, 333, 278, 278, // ' '../
	556, 556, 556, 556, 556, 556, 556, 556, 556, 556, // 0..9
	278, 278, 584, 584, 584, 556, 1015, // :..@
	667, 667, 722, 722, 667, 611, 778, 722, 278, 500, 667, 556, 833, // A..M
	722, 778, 667, 778, 722, 667, 611, 722, 667, 944, 667, 667, 611, // N..Z
	278, 278, 278, 469, 556, 333, // [..`
	556, 556, 500, 556, 556, 278, 556, 556, 222, 222, 500, 222, 833, // a..m
	556, 556, 556, 556, 333, 500, 278, 556, 500, 722, 500, 500, 500, // n..z
	334, 260, 334, 584, // {..~
}

const (
	fallbackGlyphWidth = 556.0
	monoGlyphWidth     = 600.0
	boldWidthFactor    = 1.06
	serifWidthFactor   = 0.92
	// Ascent and descent as a fraction of font size, used for boxes.
	ascentRatio  = 0.8
	descentRatio = 0.2
)

// StandardFont is one of the standard 14 fonts used to render translations.
type StandardFont struct {
	// Resource is the name registered in page resources.
	Resource string
	BaseFont string
	Style    layout.StyleFlags
}

var standardFonts = []StandardFont{
	{"DTF1", "Helvetica", 0},
	{"DTF2", "Helvetica-Bold", layout.StyleBold},
	{"DTF3", "Helvetica-Oblique", layout.StyleItalic},
	{"DTF4", "Helvetica-BoldOblique", layout.StyleBold | layout.StyleItalic},
	{"DTF5", "Times-Roman", layout.StyleSerif},
	{"DTF6", "Times-Bold", layout.StyleSerif | layout.StyleBold},
	{"DTF7", "Times-Italic", layout.StyleSerif | layout.StyleItalic},
	{"DTF8", "Times-BoldItalic", layout.StyleSerif | layout.StyleBold | layout.StyleItalic},
	{"DTF9", "Courier", layout.StyleMonospace},
	{"DTF10", "Courier-Bold", layout.StyleMonospace | layout.StyleBold},
	{"DTF11", "Courier-Oblique", layout.StyleMonospace | layout.StyleItalic},
	{"DTF12", "Courier-BoldOblique", layout.StyleMonospace | layout.StyleBold | layout.StyleItalic},
}

// StandardFonts returns the fonts the writer registers on every page.
func StandardFonts() []StandardFont {
	return append([]StandardFont(nil), standardFonts...)
}

// PickFont chooses the standard font closest to the style hint.
func PickFont(style layout.StyleFlags) StandardFont {
	want := style & (layout.StyleBold | layout.StyleItalic | layout.StyleSerif | layout.StyleMonospace)
	if want.Has(layout.StyleMonospace) {
		want &^= layout.StyleSerif
	}
	for _, f := range standardFonts {
		if f.Style == want {
			return f
		}
	}
	return standardFonts[0]
}

// Measure returns the advance width of WinAnsi encoded text at size.
func (f StandardFont) Measure(encoded []byte, size float64) float64 {
	var total float64
	for _, c := range encoded {
		total += f.glyphWidth(c)
	}
	return total * size / 1000
}

func (f StandardFont) glyphWidth(c byte) float64 {
	if f.Style.Has(layout.StyleMonospace) {
		return monoGlyphWidth
	}
	w := fallbackGlyphWidth
	if c >= 32 && c <= 126 {
		w = helveticaWidths[c-32]
	}
	if f.Style.Has(layout.StyleBold) {
		w *= boldWidthFactor
	}
	if f.Style.Has(layout.StyleSerif) {
		w *= serifWidthFactor
	}
	return w
}

// EncodeWinAnsi converts text to WinAnsi bytes, replacing unmappable runes
// with '?'.
func EncodeWinAnsi(text string) []byte {
	out := make([]byte, 0, len(text))
	for _, r := range text {
		if b, ok := charmap.Windows1252.EncodeRune(r); ok {
			out = append(out, b)
			continue
		}
		out = append(out, '?')
	}
	return out
}

// StyleFromFont derives style flags from the base font name and the
// descriptor flags (bit 1 fixed pitch, bit 2 serif, bit 7 italic, bit 19 bold).
func StyleFromFont(baseFont string, descriptorFlags int) layout.StyleFlags {
	name := strings.ToLower(baseFont)
	if i := strings.IndexByte(name, '+'); i == 6 {
		name = name[i+1:]
	}

	var s layout.StyleFlags
	if descriptorFlags&(1<<18) != 0 || containsAny(name, "bold", "black", "heavy", "semibold", "demi") {
		s |= layout.StyleBold
	}
	if descriptorFlags&(1<<6) != 0 || containsAny(name, "italic", "oblique") {
		s |= layout.StyleItalic
	}
	if descriptorFlags&1 != 0 || containsAny(name, "courier", "mono", "consol", "typewriter") {
		s |= layout.StyleMonospace
	} else if (descriptorFlags&2 != 0 && !strings.Contains(name, "sans")) ||
		containsAny(name, "times", "serif", "roman", "georgia", "garamond", "cambria", "minion") && !strings.Contains(name, "sans") {
		s |= layout.StyleSerif
	}
	return s
}

// FamilyName strips the subset prefix and style suffix from a base font name.
func FamilyName(baseFont string) string {
	name := baseFont
	if i := strings.IndexByte(name, '+'); i == 6 {
		name = name[i+1:]
	}
	if i := strings.IndexAny(name, ",-"); i > 0 {
		name = name[:i]
	}
	return name
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// codeWidth returns the width of a character code in glyph units.
func (f FontInfo) codeWidth(code int) float64 {
	if i := code - f.FirstChar; len(f.Widths) > 0 && i >= 0 && i < len(f.Widths) && f.Widths[i] > 0 {
		return f.Widths[i]
	}
	if f.DefaultWidth > 0 {
		return f.DefaultWidth
	}
	if f.TwoByte {
		return 1000
	}
	std := PickFont(StyleFromFont(f.BaseFont, f.DescriptorFlags))
	return std.glyphWidth(byte(code))
}

// decode converts raw shown bytes into text.
func (f FontInfo) decode(raw []byte) string {
	if f.Decoder != nil {
		return f.Decoder.Decode(string(raw))
	}
	if f.TwoByte {
		s, err := unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM).NewDecoder().String(string(raw))
		if err == nil {
			return s
		}
	}
	s, err := charmap.Windows1252.NewDecoder().String(string(raw))
	if err != nil {
		return string(raw)
	}
	return s
}

// codes splits raw shown bytes into character codes.
func (f FontInfo) codes(raw []byte) []int {
	if f.TwoByte {
		out := make([]int, 0, len(raw)/2)
		for i := 0; i+1 < len(raw); i += 2 {
			out = append(out, int(raw[i])<<8|int(raw[i+1]))
		}
		return out
	}
	out := make([]int, len(raw))
	for i, b := range raw {
		out[i] = int(b)
	}
	return out
}
