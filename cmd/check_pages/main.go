// Command check_pages prints what the pipeline sees on each page of a PDF:
// the extracted text segments and whether the page background could be
// isolated. Given a translated PDF as well, it compares the two page by
// page and exits with status 2 when pages or text are missing.
//
// Usage:
//
//	go run ./cmd/check_pages <original.pdf> [translated.pdf]
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"doc-translator/internal/layout"
	"doc-translator/internal/pdf"
	"doc-translator/internal/ui"
)

type pageReport struct {
	number   int
	segments []layout.Segment
	isolated bool
	isoErr   error
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: check_pages <original.pdf> [translated.pdf]")
		fmt.Println()
		fmt.Println("Prints the text segments and background isolation result of every page.")
		fmt.Println("With a translated PDF it also checks that:")
		fmt.Println("  - both documents have the same page count")
		fmt.Println("  - every page with source text still has text after translation")
		os.Exit(1)
	}
	ui.Init(false)

	original, err := inspect(os.Args[1], false)
	if err != nil {
		ui.Error("%s: %v", os.Args[1], err)
		os.Exit(1)
	}
	ui.Section(os.Args[1])
	printReports(original)

	if len(os.Args) < 3 {
		return
	}
	translated, err := inspect(os.Args[2], true)
	if err != nil {
		ui.Error("%s: %v", os.Args[2], err)
		os.Exit(1)
	}
	ui.Section(os.Args[2])
	printReports(translated)

	ui.Section("Comparison")
	if problems := compare(original, translated); len(problems) > 0 {
		for _, p := range problems {
			ui.Warning("%s", p)
		}
		os.Exit(2)
	}
	ui.Success("%d pages, no missing content", len(original))
}

// inspect extracts every page of path. strict additionally runs pdfcpu's
// structural validation, which the pipeline's own output must pass, and
// checks that pdfcpu and the text reader agree on the page count.
func inspect(path string, strict bool) ([]pageReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	doc, err := pdf.OpenDocument(data)
	if err != nil {
		return nil, err
	}
	if strict {
		writer := pdf.NewWriter()
		if err := writer.Validate(data); err != nil {
			return nil, err
		}
		n, err := writer.PageCount(data)
		if err != nil {
			return nil, err
		}
		if n != doc.NumPages() {
			return nil, fmt.Errorf("page tree has %d pages, reader sees %d", n, doc.NumPages())
		}
	}
	info := doc.Info()
	ui.Info("%s: %d pages, %d bytes", path, info.PageCount, info.FileSize)
	if !info.IsTextPDF {
		ui.Warning("no extractable text on the first pages; scanned documents are not supported")
	}
	extractor := pdf.NewExtractor()
	isolator := pdf.NewIsolator()

	reports := make([]pageReport, 0, doc.NumPages())
	for n := 0; n < doc.NumPages(); n++ {
		pc, err := doc.Page(n)
		if err != nil {
			return nil, err
		}
		segs, err := extractor.Extract("check", pc)
		if err != nil {
			return nil, err
		}
		rep := pageReport{number: n, segments: segs, isolated: true}
		if _, err := isolator.Isolate(n, pc.Content); err != nil {
			rep.isolated = false
			rep.isoErr = err
		}
		reports = append(reports, rep)
	}
	return reports, nil
}

func printReports(reports []pageReport) {
	for _, rep := range reports {
		if rep.isolated {
			ui.Info("page %d: %d segments, background isolated", rep.number, len(rep.segments))
		} else {
			ui.Warning("page %d: %d segments, isolation failed: %v", rep.number, len(rep.segments), rep.isoErr)
		}
		rows := make([][]string, 0, len(rep.segments))
		for _, s := range rep.segments {
			rows = append(rows, []string{
				strconv.Itoa(s.Index),
				fmt.Sprintf("%.1f,%.1f %.1fx%.1f", s.BBox.X0, s.BBox.Y0, s.BBox.Width(), s.BBox.Height()),
				fmt.Sprintf("%s %.1f", s.FontName, s.FontSize),
				s.Style.String(),
				s.SourceText,
			})
		}
		if len(rows) > 0 {
			ui.Table([]string{"IDX", "BOX", "FONT", "STYLE", "TEXT"}, rows)
		}
	}
}

func compare(original, translated []pageReport) []string {
	var problems []string
	if len(original) != len(translated) {
		problems = append(problems, fmt.Sprintf("page count differs: %d original, %d translated", len(original), len(translated)))
	}
	for i := 0; i < len(original) && i < len(translated); i++ {
		src, dst := original[i], translated[i]
		if hasText(src.segments) && !hasText(dst.segments) {
			problems = append(problems, fmt.Sprintf("page %d: text missing after translation", src.number))
		}
	}
	return problems
}

func hasText(segs []layout.Segment) bool {
	for _, s := range segs {
		if strings.TrimSpace(s.SourceText) != "" {
			return true
		}
	}
	return false
}
