package pdf

import (
	"context"
	"sort"

	"doc-translator/internal/contentstream"
	"doc-translator/internal/layout"
	"doc-translator/internal/logger"
)

// PageLayout is a page snapshot together with its fit decisions.
type PageLayout struct {
	Snapshot layout.PageSnapshot
	Plans    []FitPlan
}

// AssemblyResult is the rendered document plus render-time warnings.
type AssemblyResult struct {
	Data []byte
	// Overflowed lists segments whose text still overruns its box.
	Overflowed []layout.SegmentKey
}

// Assembler lays translated text over page backgrounds.
type Assembler struct {
	fitter *Fitter
	writer *Writer
}

// NewAssembler creates an assembler using fitter for box fitting.
func NewAssembler(fitter *Fitter) *Assembler {
	if fitter == nil {
		fitter = NewFitter(DefaultMinFontRatio, DefaultLineSpacing)
	}
	return &Assembler{fitter: fitter, writer: NewWriter()}
}

// PlanPages computes fit plans for every segment, in page and segment index
// order. Segments without any text to render get no plan.
func (a *Assembler) PlanPages(pages []layout.PageSnapshot) []PageLayout {
	out := make([]PageLayout, 0, len(pages))
	for _, snap := range sortedSnapshots(pages) {
		pl := PageLayout{Snapshot: snap}
		for _, seg := range snap.Segments {
			if plan, ok := a.fitter.Plan(seg); ok {
				pl.Plans = append(pl.Plans, plan)
			}
		}
		out = append(out, pl)
	}
	return out
}

// Assemble writes the output document. source is the original document the
// snapshots were extracted from. Failures are AssemblyErrors.
func (a *Assembler) Assemble(ctx context.Context, jobID string, source []byte, pages []PageLayout) (*AssemblyResult, error) {
	result := &AssemblyResult{}
	contents := make(map[int]PageStreams, len(pages))

	for _, pl := range pages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := pl.Snapshot.Page
		for _, plan := range pl.Plans {
			if plan.Overflow {
				result.Overflowed = append(result.Overflowed, layout.SegmentKey{
					JobID: jobID, PageNumber: page.Number, Index: plan.Index,
				})
				logger.Warn("translated text overflows its box",
					logger.String("job_id", jobID),
					logger.Int("page", page.Number),
					logger.Int("segment", plan.Index))
			}
		}
		contents[page.Number] = ComposePage(pl)
	}

	data, err := a.writer.Write(source, contents)
	if err != nil {
		return nil, err
	}
	result.Data = data
	return result, nil
}

// PageStreams are the content streams that replace a page's /Contents.
// When KeepOriginal is set the original streams are kept between Prefix and
// Suffix; otherwise Prefix alone is the whole page.
type PageStreams struct {
	Prefix       []byte
	Suffix       []byte
	KeepOriginal bool
}

// ComposePage builds the page streams: the isolated background wrapped in
// q/Q followed by the text overlay. When isolation failed the original
// content is kept and the overlay is painted on top of it. The output only
// depends on the layout, so identical inputs give identical bytes.
func ComposePage(pl PageLayout) PageStreams {
	overlay := composeOverlay(pl.Plans)
	page := pl.Snapshot.Page

	if page.IsolationFailed {
		var suffix contentstream.Builder
		suffix.Op("Q")
		suffix.Write(overlay)
		return PageStreams{
			Prefix:       []byte("q\n"),
			Suffix:       suffix.Bytes(),
			KeepOriginal: true,
		}
	}

	var b contentstream.Builder
	b.Op("q")
	b.Write(page.Background)
	b.Op("Q")
	b.Write(overlay)
	return PageStreams{Prefix: b.Bytes()}
}

func composeOverlay(plans []FitPlan) []byte {
	sorted := append([]FitPlan(nil), plans...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })

	var b contentstream.Builder
	for _, p := range sorted {
		b.Op("q")
		b.Op("g", 0.0)
		b.Op("BT")
		b.Op("Tf", p.Font.Resource, p.FontSize)
		b.Op("Td", p.X, p.Baseline())
		for i, line := range p.Lines {
			if i > 0 {
				b.Op("Td", 0.0, -p.Leading)
			}
			b.Op("Tj", line)
		}
		b.Op("ET")
		b.Op("Q")
	}
	return b.Bytes()
}

func sortedSnapshots(pages []layout.PageSnapshot) []layout.PageSnapshot {
	out := append([]layout.PageSnapshot(nil), pages...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Page.Number < out[j].Page.Number })
	for i := range out {
		segs := append([]layout.Segment(nil), out[i].Segments...)
		sort.SliceStable(segs, func(a, b int) bool { return segs[a].Index < segs[b].Index })
		out[i].Segments = segs
	}
	return out
}
