// Package layout holds the value types exchanged between pipeline stages:
// segments with their geometry and typography, pages, jobs and translations.
package layout

import (
	"fmt"
	"strings"
)

// BBox is an axis-aligned box in page coordinates (origin bottom-left).
type BBox struct {
	X0 float64 `json:"x0"`
	Y0 float64 `json:"y0"`
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
}

// NewBBox returns a box with its corners ordered so that X1≥X0 and Y1≥Y0.
func NewBBox(x0, y0, x1, y1 float64) BBox {
	if x1 < x0 {
		x0, x1 = x1, x0
	}
	if y1 < y0 {
		y0, y1 = y1, y0
	}
	return BBox{X0: x0, Y0: y0, X1: x1, Y1: y1}
}

func (b BBox) Width() float64  { return b.X1 - b.X0 }
func (b BBox) Height() float64 { return b.Y1 - b.Y0 }

// Valid reports whether the corners are ordered.
func (b BBox) Valid() bool { return b.X1 >= b.X0 && b.Y1 >= b.Y0 }

// Union returns the smallest box containing both b and o.
func (b BBox) Union(o BBox) BBox {
	return BBox{
		X0: min(b.X0, o.X0),
		Y0: min(b.Y0, o.Y0),
		X1: max(b.X1, o.X1),
		Y1: max(b.Y1, o.Y1),
	}
}

// StyleFlags is a bitset of typographic traits used as a rendering hint.
type StyleFlags uint8

const (
	StyleBold StyleFlags = 1 << iota
	StyleItalic
	StyleSerif
	StyleMonospace
)

// Has reports whether every bit of f is set.
func (s StyleFlags) Has(f StyleFlags) bool { return s&f == f }

func (s StyleFlags) String() string {
	var parts []string
	names := []struct {
		f    StyleFlags
		name string
	}{{StyleBold, "bold"}, {StyleItalic, "italic"}, {StyleSerif, "serif"}, {StyleMonospace, "mono"}}
	for _, n := range names {
		if s.Has(n.f) {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "regular"
	}
	return strings.Join(parts, "|")
}

// SegmentKey identifies a segment within the whole system.
type SegmentKey struct {
	JobID      string
	PageNumber int
	Index      int
}

func (k SegmentKey) String() string {
	return fmt.Sprintf("%s/%d/%d", k.JobID, k.PageNumber, k.Index)
}

// Segment is one text run on one page.
//
// SourceText never changes after extraction. Translation is nil until the
// resolver has run; PostEditedText is a human override that wins over the
// translation when the page is assembled.
type Segment struct {
	JobID      string     `json:"job_id"`
	PageNumber int        `json:"page_number"`
	Index      int        `json:"segment_index"`
	BBox       BBox       `json:"bbox"`
	FontName   string     `json:"font_name"`
	FontSize   float64    `json:"font_size"`
	Style      StyleFlags `json:"style"`
	SourceText string     `json:"source_text"`

	Translation    *Translation `json:"translation,omitempty"`
	PostEditedText *string      `json:"post_edited_text,omitempty"`
	QAFlags        Flags        `json:"qa_flags,omitempty"`
}

// Key returns the segment's identity.
func (s Segment) Key() SegmentKey {
	return SegmentKey{JobID: s.JobID, PageNumber: s.PageNumber, Index: s.Index}
}

// WinningText returns the text to render: the post-edit if present, else the
// translation. ok is false when the segment has neither.
func (s Segment) WinningText() (text string, ok bool) {
	if s.PostEditedText != nil {
		return *s.PostEditedText, true
	}
	if s.Translation != nil {
		return s.Translation.Text, true
	}
	return "", false
}

// Translated reports whether the resolver has produced a translation.
func (s Segment) Translated() bool { return s.Translation != nil }

// Validate checks geometry and typography constraints.
func (s Segment) Validate() error {
	if !s.BBox.Valid() {
		return fmt.Errorf("segment %s: bbox corners out of order: %+v", s.Key(), s.BBox)
	}
	if s.FontSize <= 0 {
		return fmt.Errorf("segment %s: font size must be positive, got %v", s.Key(), s.FontSize)
	}
	if s.Index < 0 || s.PageNumber < 0 {
		return fmt.Errorf("segment %s: negative page or index", s.Key())
	}
	return nil
}

// Clone returns a deep copy so stages never share mutable state.
func (s Segment) Clone() Segment {
	out := s
	if s.Translation != nil {
		t := *s.Translation
		out.Translation = &t
	}
	if s.PostEditedText != nil {
		p := *s.PostEditedText
		out.PostEditedText = &p
	}
	out.QAFlags = append(Flags(nil), s.QAFlags...)
	return out
}

// CheckIndexes verifies that segment indexes are 0..n-1 in order.
func CheckIndexes(segs []Segment) error {
	for i, s := range segs {
		if s.Index != i {
			return fmt.Errorf("segment at position %d has index %d", i, s.Index)
		}
	}
	return nil
}
