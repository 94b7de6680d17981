package pdf

import (
	"bytes"
	"fmt"
	"io"
	"unicode"

	"github.com/ledongthuc/pdf"
)

// PDFInfo PDF 基本信息
type PDFInfo struct {
	PageCount int   `json:"page_count"`
	FileSize  int64 `json:"file_size"`
	IsTextPDF bool  `json:"is_text_pdf"`
}

// Document 负责读取 PDF 页面内容、尺寸与字体资源
type Document struct {
	reader *pdf.Reader
	size   int64
}

// OpenDocument parses data as a PDF.
func OpenDocument(data []byte) (doc *Document, err error) {
	defer func() {
		if r := recover(); r != nil {
			doc = nil
			err = NewPDFError(ErrPDFInvalid, "无法打开 PDF 文件", fmt.Errorf("%v", r))
		}
	}()

	if !bytes.HasPrefix(bytes.TrimLeft(data, "\x00\t\r\n "), []byte("%PDF-")) {
		return nil, NewPDFErrorWithDetails(ErrPDFInvalid, "not a PDF document", "missing %PDF header", nil)
	}
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, NewPDFError(ErrPDFInvalid, "无法打开 PDF 文件", err)
	}
	return &Document{reader: r, size: int64(len(data))}, nil
}

// NumPages returns the page count.
func (d *Document) NumPages() int {
	return d.reader.NumPage()
}

// Page loads page n (0-based). Any failure to read the page is an
// ExtractionError.
func (d *Document) Page(n int) (pc PageContent, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = NewPDFErrorWithPage(ErrExtraction, "failed to read page", n, fmt.Errorf("%v", r))
		}
	}()

	if n < 0 || n >= d.NumPages() {
		return PageContent{}, NewPDFErrorWithPage(ErrExtraction, "page out of range", n, nil)
	}
	page := d.reader.Page(n + 1)
	if page.V.IsNull() {
		return PageContent{}, NewPDFErrorWithPage(ErrExtraction, "page object missing", n, nil)
	}

	content, err := readContents(page.V.Key("Contents"))
	if err != nil {
		return PageContent{}, NewPDFErrorWithPage(ErrExtraction, "failed to read content stream", n, err)
	}

	width, height := mediaBox(page.V)
	return PageContent{
		Number:  n,
		Width:   width,
		Height:  height,
		Content: content,
		Fonts:   pageFonts(page),
	}, nil
}

// Info returns summary information about the document.
func (d *Document) Info() *PDFInfo {
	return &PDFInfo{
		PageCount: d.NumPages(),
		FileSize:  d.size,
		IsTextPDF: d.IsTextPDF(),
	}
}

// IsTextPDF 检查前几页是否包含可提取的文本
func (d *Document) IsTextPDF() bool {
	maxPagesToCheck := 3
	if d.NumPages() < maxPagesToCheck {
		maxPagesToCheck = d.NumPages()
	}

	extractor := NewExtractor()
	for i := 0; i < maxPagesToCheck; i++ {
		pc, err := d.Page(i)
		if err != nil {
			continue
		}
		segs, err := extractor.Extract("", pc)
		if err != nil {
			continue
		}
		for _, s := range segs {
			for _, r := range s.SourceText {
				if !unicode.IsSpace(r) {
					return true
				}
			}
		}
	}
	return false
}

// readContents concatenates a page's content streams.
func readContents(v pdf.Value) ([]byte, error) {
	switch v.Kind() {
	case pdf.Null:
		return nil, nil
	case pdf.Stream:
		return readStream(v)
	case pdf.Array:
		var buf bytes.Buffer
		for i := 0; i < v.Len(); i++ {
			data, err := readStream(v.Index(i))
			if err != nil {
				return nil, err
			}
			buf.Write(data)
			buf.WriteByte('\n')
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unexpected /Contents kind %v", v.Kind())
	}
}

func readStream(v pdf.Value) ([]byte, error) {
	if v.Kind() != pdf.Stream {
		return nil, fmt.Errorf("expected stream, got kind %v", v.Kind())
	}
	rc := v.Reader()
	defer rc.Close()
	return io.ReadAll(rc)
}

// mediaBox walks up the page tree for the inherited /MediaBox. US Letter is
// assumed when none is found.
func mediaBox(v pdf.Value) (width, height float64) {
	for depth := 0; !v.IsNull() && depth < 32; depth++ {
		box := v.Key("MediaBox")
		if box.Kind() == pdf.Array && box.Len() == 4 {
			w := box.Index(2).Float64() - box.Index(0).Float64()
			h := box.Index(3).Float64() - box.Index(1).Float64()
			if w < 0 {
				w = -w
			}
			if h < 0 {
				h = -h
			}
			return w, h
		}
		v = v.Key("Parent")
	}
	return 612, 792
}

// pageFonts collects font metrics and decoders from the page resources.
func pageFonts(page pdf.Page) map[string]FontInfo {
	fonts := make(map[string]FontInfo)
	for _, name := range page.Fonts() {
		f := page.Font(name)
		info := FontInfo{
			Resource:  name,
			BaseFont:  f.BaseFont(),
			Subtype:   f.V.Key("Subtype").Name(),
			FirstChar: f.FirstChar(),
			Widths:    f.Widths(),
			Decoder:   f.Encoder(),
		}

		descriptor := f.V.Key("FontDescriptor")
		if info.Subtype == "Type0" {
			info.TwoByte = true
			descendant := f.V.Key("DescendantFonts").Index(0)
			descriptor = descendant.Key("FontDescriptor")
			info.Widths = nil
			info.DefaultWidth = descendant.Key("DW").Float64()
		} else if mw := descriptor.Key("MissingWidth").Float64(); mw > 0 {
			info.DefaultWidth = mw
		}
		info.DescriptorFlags = int(descriptor.Key("Flags").Int64())

		fonts[name] = info
	}
	return fonts
}
