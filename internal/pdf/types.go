// Package pdf implements the PDF side of the translation pipeline: reading
// pages, extracting positioned text segments, isolating page backgrounds,
// fitting translated text into boxes and writing the output document.
package pdf

import (
	"errors"
	"fmt"
)

// PageContent is everything the extractor and isolator need from one page.
type PageContent struct {
	Number  int
	Width   float64
	Height  float64
	Content []byte
	Fonts   map[string]FontInfo
}

// TextDecoder turns raw string bytes shown with a font into text.
type TextDecoder interface {
	Decode(raw string) string
}

// FontInfo 字体资源信息
type FontInfo struct {
	// Resource is the font's name in the page resources (e.g. "F1").
	Resource string
	BaseFont string
	Subtype  string
	// TwoByte is set for composite (Type0) fonts with two-byte codes.
	TwoByte   bool
	FirstChar int
	Widths    []float64
	// DefaultWidth is used for codes outside Widths, in glyph units.
	DefaultWidth float64
	// DescriptorFlags holds /FontDescriptor /Flags when present.
	DescriptorFlags int
	Decoder         TextDecoder
}

// PDFErrorCode PDF 错误代码
type PDFErrorCode string

const (
	ErrPDFInvalid   PDFErrorCode = "PDF_INVALID"
	ErrPDFEncrypted PDFErrorCode = "PDF_ENCRYPTED"
	ErrExtraction   PDFErrorCode = "EXTRACTION_ERROR"
	ErrIsolation    PDFErrorCode = "ISOLATION_ERROR"
	ErrAssembly     PDFErrorCode = "ASSEMBLY_ERROR"
)

// PDFError PDF 处理错误
type PDFError struct {
	Code    PDFErrorCode `json:"code"`
	Message string       `json:"message"`
	Details string       `json:"details,omitempty"`
	// Page is 0-based; -1 when the error is not tied to a page.
	Page  int   `json:"page"`
	Cause error `json:"-"`
}

// Error implements the error interface for PDFError
func (e *PDFError) Error() string {
	msg := e.Message
	if e.Page >= 0 {
		msg = fmt.Sprintf("page %d: %s", e.Page, msg)
	}
	if e.Details != "" {
		msg += ": " + e.Details
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause of the error
func (e *PDFError) Unwrap() error {
	return e.Cause
}

// NewPDFError creates a new PDFError with the given code, message, and optional cause
func NewPDFError(code PDFErrorCode, message string, cause error) *PDFError {
	return &PDFError{
		Code:    code,
		Message: message,
		Page:    -1,
		Cause:   cause,
	}
}

// NewPDFErrorWithDetails creates a new PDFError with details
func NewPDFErrorWithDetails(code PDFErrorCode, message, details string, cause error) *PDFError {
	return &PDFError{
		Code:    code,
		Message: message,
		Details: details,
		Page:    -1,
		Cause:   cause,
	}
}

// NewPDFErrorWithPage creates a new PDFError with page information
func NewPDFErrorWithPage(code PDFErrorCode, message string, page int, cause error) *PDFError {
	return &PDFError{
		Code:    code,
		Message: message,
		Page:    page,
		Cause:   cause,
	}
}

// HasCode reports whether err wraps a PDFError with the given code.
func HasCode(err error, code PDFErrorCode) bool {
	var pe *PDFError
	return errors.As(err, &pe) && pe.Code == code
}

// IsExtractionError reports whether err is a non-retryable extraction failure.
func IsExtractionError(err error) bool { return HasCode(err, ErrExtraction) }

// IsIsolationError reports whether err is a recoverable isolation failure.
func IsIsolationError(err error) bool { return HasCode(err, ErrIsolation) }
