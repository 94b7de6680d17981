package pdf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"doc-translator/internal/testutil"
)

func TestOpenDocument_Invalid(t *testing.T) {
	_, err := OpenDocument([]byte("This is not a PDF file"))
	require.Error(t, err)
	assert.True(t, HasCode(err, ErrPDFInvalid))

	_, err = OpenDocument([]byte("%PDF-1.4\ngarbage"))
	require.Error(t, err)
	assert.True(t, HasCode(err, ErrPDFInvalid))
}

func TestDocumentPages(t *testing.T) {
	src := testutil.BuildPDF(
		testutil.TextPage("Hello"),
		testutil.Page{Width: 300, Height: 400, Content: "0 0 m 10 10 l S"},
	)
	doc, err := OpenDocument(src)
	require.NoError(t, err)
	require.Equal(t, 2, doc.NumPages())

	first, err := doc.Page(0)
	require.NoError(t, err)
	assert.Equal(t, 0, first.Number)
	assert.Equal(t, 612.0, first.Width)
	assert.Equal(t, 792.0, first.Height)
	assert.Contains(t, string(first.Content), "(Hello) Tj")
	require.Contains(t, first.Fonts, "F1")
	assert.Equal(t, "Helvetica", first.Fonts["F1"].BaseFont)
	assert.Equal(t, "Type1", first.Fonts["F1"].Subtype)

	second, err := doc.Page(1)
	require.NoError(t, err)
	assert.Equal(t, 300.0, second.Width)
	assert.Equal(t, 400.0, second.Height)
	assert.Empty(t, second.Fonts)

	_, err = doc.Page(2)
	require.Error(t, err)
	assert.True(t, IsExtractionError(err))
}

func TestDocumentInfo(t *testing.T) {
	src := testutil.BuildPDF(testutil.TextPage("Hello"))
	doc, err := OpenDocument(src)
	require.NoError(t, err)

	info := doc.Info()
	assert.Equal(t, 1, info.PageCount)
	assert.Equal(t, int64(len(src)), info.FileSize)
	assert.True(t, info.IsTextPDF)

	blank, err := OpenDocument(testutil.BuildPDF(testutil.Page{Content: "0 0 m 1 1 l S"}))
	require.NoError(t, err)
	assert.False(t, blank.IsTextPDF())
}

func TestWriterPageCount(t *testing.T) {
	src := testutil.BuildPDF(testutil.TextPage("a"), testutil.TextPage("b"), testutil.TextPage("c"))
	n, err := NewWriter().PageCount(src)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, err = NewWriter().PageCount([]byte("nope"))
	assert.Error(t, err)
}
