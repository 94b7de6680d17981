package pdf

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"doc-translator/internal/layout"
	"doc-translator/internal/testutil"
)

func TestComposePage(t *testing.T) {
	plan := FitPlan{Index: 0, Font: PickFont(0), FontSize: 12, Lines: [][]byte{[]byte("Hi")}, X: 72, Top: 100, Leading: 13.8}
	pl := PageLayout{
		Snapshot: layout.PageSnapshot{Page: layout.Page{Number: 0, Background: []byte("0.9 g")}},
		Plans:    []FitPlan{plan},
	}

	got := ComposePage(pl)
	want := "q\n0.9 g\nQ\nq\n0 g\nBT\n/DTF1 12 Tf\n72 90.4 Td\n(Hi) Tj\nET\nQ\n"
	assert.Equal(t, want, string(got.Prefix))
	assert.False(t, got.KeepOriginal)
	assert.Equal(t, got, ComposePage(pl), "composition must be deterministic")

	pl.Snapshot.Page.IsolationFailed = true
	pl.Snapshot.Page.Background = nil
	got = ComposePage(pl)
	assert.True(t, got.KeepOriginal)
	assert.Equal(t, "q\n", string(got.Prefix))
	assert.Equal(t, "Q\nq\n0 g\nBT\n/DTF1 12 Tf\n72 90.4 Td\n(Hi) Tj\nET\nQ\n", string(got.Suffix))
}

func TestComposeWrappedLinesAndOrder(t *testing.T) {
	font := PickFont(0)
	pl := PageLayout{Plans: []FitPlan{
		{Index: 1, Font: font, FontSize: 10, Lines: [][]byte{[]byte("b")}, X: 0, Top: 10, Leading: 11.5},
		{Index: 0, Font: font, FontSize: 10, Lines: [][]byte{[]byte("a1"), []byte("a2")}, X: 0, Top: 50, Leading: 11.5},
	}}
	out := string(ComposePage(pl).Prefix)
	assert.Contains(t, out, "(a1) Tj\n0 -11.5 Td\n(a2) Tj\n")
	assert.Less(t, indexOf(out, "(a1)"), indexOf(out, "(b)"), "overlay follows segment index order")
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

// translatedSnapshot extracts and isolates page 0 of src and attaches
// translations in segment order.
func translatedSnapshot(t *testing.T, src []byte, isolate bool, texts ...string) layout.PageSnapshot {
	t.Helper()
	doc, err := OpenDocument(src)
	require.NoError(t, err)
	pc, err := doc.Page(0)
	require.NoError(t, err)
	segs, err := NewExtractor().Extract("job", pc)
	require.NoError(t, err)
	require.Len(t, segs, len(texts))

	page := layout.Page{JobID: "job", Number: 0, Width: pc.Width, Height: pc.Height}
	if isolate {
		bg, err := NewIsolator().Isolate(0, pc.Content)
		require.NoError(t, err)
		page.Background = bg
	} else {
		page.IsolationFailed = true
	}
	for i := range segs {
		segs[i].Translation = &layout.Translation{Text: texts[i], Confidence: 1, Method: layout.MachineTranslation{Provider: "mock"}}
		page.SegmentIndexes = append(page.SegmentIndexes, i)
	}
	return layout.NewPageSnapshot(page, segs)
}

func extractTexts(t *testing.T, data []byte, page int) []string {
	t.Helper()
	doc, err := OpenDocument(data)
	require.NoError(t, err)
	pc, err := doc.Page(page)
	require.NoError(t, err)
	segs, err := NewExtractor().Extract("", pc)
	require.NoError(t, err)
	var out []string
	for _, s := range segs {
		out = append(out, s.SourceText)
	}
	return out
}

func TestAssembleReplacesText(t *testing.T) {
	src := testutil.BuildPDF(testutil.TextPage("Hello", "World"))
	snap := translatedSnapshot(t, src, true, "Bonjour", "Monde")

	asm := NewAssembler(nil)
	layouts := asm.PlanPages([]layout.PageSnapshot{snap})
	require.Len(t, layouts, 1)
	require.Len(t, layouts[0].Plans, 2)

	res, err := asm.Assemble(context.Background(), "job", src, layouts)
	require.NoError(t, err)
	assert.Empty(t, res.Overflowed)
	assert.NoError(t, NewWriter().Validate(res.Data))

	assert.Equal(t, []string{"Bonjour", "Monde"}, extractTexts(t, res.Data, 0))
}

func TestAssembleIsByteIdentical(t *testing.T) {
	src := testutil.BuildPDF(testutil.TextPage("Hello", "World"), testutil.TextPage("Second page"))
	snap := translatedSnapshot(t, src, true, "Bonjour", "Monde")

	asm := NewAssembler(nil)
	first, err := asm.Assemble(context.Background(), "job", src, asm.PlanPages([]layout.PageSnapshot{snap}))
	require.NoError(t, err)
	// Cross a second boundary so a clock-derived date or file ID would differ.
	time.Sleep(1100 * time.Millisecond)
	second, err := asm.Assemble(context.Background(), "job", src, asm.PlanPages([]layout.PageSnapshot{snap}))
	require.NoError(t, err)

	assert.True(t, bytes.Equal(first.Data, second.Data), "same input must produce the same bytes")
	assert.True(t, bytes.Contains(first.Data, []byte("("+pinnedDate+")")))
	assert.NoError(t, NewWriter().Validate(first.Data))

	other := translatedSnapshot(t, src, true, "Salut", "Monde")
	third, err := asm.Assemble(context.Background(), "job", src, asm.PlanPages([]layout.PageSnapshot{other}))
	require.NoError(t, err)
	assert.False(t, bytes.Equal(first.Data, third.Data))
}

func TestAssembleKeepsOriginalWhenIsolationFailed(t *testing.T) {
	src := testutil.BuildPDF(testutil.TextPage("Hello"))
	snap := translatedSnapshot(t, src, false, "Bonjour")

	asm := NewAssembler(nil)
	res, err := asm.Assemble(context.Background(), "job", src, asm.PlanPages([]layout.PageSnapshot{snap}))
	require.NoError(t, err)

	texts := extractTexts(t, res.Data, 0)
	assert.Contains(t, texts, "Hello")
	assert.Contains(t, texts, "Bonjour")
}

func TestAssembleReportsOverflow(t *testing.T) {
	src := testutil.BuildPDF(testutil.TextPage("Hi"))
	snap := translatedSnapshot(t, src, true, "a much much longer translated sentence")

	asm := NewAssembler(nil)
	res, err := asm.Assemble(context.Background(), "job", src, asm.PlanPages([]layout.PageSnapshot{snap}))
	require.NoError(t, err)
	assert.Equal(t, []layout.SegmentKey{{JobID: "job", PageNumber: 0, Index: 0}}, res.Overflowed)
}

func TestAssembleErrors(t *testing.T) {
	asm := NewAssembler(nil)
	_, err := asm.Assemble(context.Background(), "job", []byte("not a pdf"), nil)
	require.Error(t, err)
	assert.True(t, HasCode(err, ErrAssembly))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	src := testutil.BuildPDF(testutil.TextPage("Hi"))
	_, err = asm.Assemble(ctx, "job", src, []PageLayout{{}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPlanPagesSortsInput(t *testing.T) {
	tr := func(s string) *layout.Translation {
		return &layout.Translation{Text: s, Method: layout.MachineTranslation{}}
	}
	box := layout.NewBBox(0, 0, 100, 10)
	pages := []layout.PageSnapshot{
		{Page: layout.Page{Number: 1}, Segments: []layout.Segment{{Index: 0, BBox: box, FontSize: 8, Translation: tr("p1")}}},
		{Page: layout.Page{Number: 0}, Segments: []layout.Segment{
			{Index: 1, BBox: box, FontSize: 8, Translation: tr("b")},
			{Index: 0, BBox: box, FontSize: 8},
		}},
	}
	layouts := NewAssembler(nil).PlanPages(pages)
	require.Len(t, layouts, 2)
	assert.Equal(t, 0, layouts[0].Snapshot.Page.Number)
	require.Len(t, layouts[0].Plans, 1, "untranslated segment gets no plan")
	assert.Equal(t, 1, layouts[0].Plans[0].Index)
}
