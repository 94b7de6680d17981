// Package testutil builds small, valid PDF documents for tests.
package testutil

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
)

// Page describes one generated page.
type Page struct {
	Width, Height float64
	// Content is the raw page content stream.
	Content string
	// Fonts maps resource names (e.g. "F1") to standard base fonts.
	Fonts map[string]string
}

// TextPage returns a page showing each line with /F1 Helvetica at 12pt,
// one line every 20pt from the top.
func TextPage(lines ...string) Page {
	var sb strings.Builder
	y := 750
	for _, l := range lines {
		fmt.Fprintf(&sb, "BT /F1 12 Tf 72 %d Td (%s) Tj ET\n", y, escape(l))
		y -= 20
	}
	return Page{
		Width:   612,
		Height:  792,
		Content: "0.9 g 50 50 100 100 re f\n" + sb.String(),
		Fonts:   map[string]string{"F1": "Helvetica"},
	}
}

// BuildPDF writes an uncompressed PDF with a classic cross-reference table.
func BuildPDF(pages ...Page) []byte {
	var objects []string
	add := func(body string) int {
		objects = append(objects, body)
		return len(objects)
	}

	catalog := add("") // filled once the page tree number is known
	tree := add("")

	var kids []string
	for _, p := range pages {
		w, h := p.Width, p.Height
		if w == 0 {
			w = 612
		}
		if h == 0 {
			h = 792
		}

		names := make([]string, 0, len(p.Fonts))
		for name := range p.Fonts {
			names = append(names, name)
		}
		sort.Strings(names)
		var fontRefs []string
		for _, name := range names {
			id := add(fmt.Sprintf("<< /Type /Font /Subtype /Type1 /BaseFont /%s /Encoding /WinAnsiEncoding >>", p.Fonts[name]))
			fontRefs = append(fontRefs, fmt.Sprintf("/%s %d 0 R", name, id))
		}

		content := add(fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(p.Content)+1, p.Content))
		page := add(fmt.Sprintf("<< /Type /Page /Parent %d 0 R /MediaBox [0 0 %s %s] /Resources << /Font << %s >> >> /Contents %d 0 R >>",
			tree, num(w), num(h), strings.Join(fontRefs, " "), content))
		kids = append(kids, fmt.Sprintf("%d 0 R", page))
	}

	objects[catalog-1] = fmt.Sprintf("<< /Type /Catalog /Pages %d 0 R >>", tree)
	objects[tree-1] = fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(pages))

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n")
	offsets := make([]int, len(objects))
	for i, body := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, body)
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(objects)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root %d 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, catalog, xref)
	return buf.Bytes()
}

func num(v float64) string {
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.3f", v), "0"), ".")
}

func escape(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `(`, `\(`, `)`, `\)`)
	return r.Replace(s)
}
