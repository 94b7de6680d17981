package pdf

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"

	"doc-translator/internal/logger"
)

// Writer replaces page content streams in a PDF using pdfcpu (pure Go).
type Writer struct {
	conf *model.Configuration
}

// pinnedDate replaces the CreationDate/ModDate pdfcpu stamps on write.
// DateString always yields the same length, so offsets stay valid.
var pinnedDate = types.DateString(time.Unix(0, 0).UTC())

// NewWriter creates a writer with relaxed validation, which tolerates the
// small spec violations common in real-world files. Objects and the xref are
// written uncompressed so the info dictionary and trailer can be pinned.
func NewWriter() *Writer {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	conf.WriteObjectStream = false
	conf.WriteXRefStream = false
	return &Writer{conf: conf}
}

// Write loads source, replaces /Contents of every page present in contents
// (keyed by 0-based page number), registers the standard fonts in those
// pages' resources and returns the new document.
func (w *Writer) Write(source []byte, contents map[int]PageStreams) (out []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = NewPDFError(ErrAssembly, "panic while writing PDF", fmt.Errorf("%v", r))
		}
	}()

	ctx, err := api.ReadContext(bytes.NewReader(source), w.conf)
	if err != nil {
		return nil, NewPDFError(ErrAssembly, "failed to read source PDF", err)
	}
	if err := api.ValidateContext(ctx); err != nil {
		return nil, NewPDFError(ErrAssembly, "source PDF failed validation", err)
	}

	fonts, err := registerFonts(ctx)
	if err != nil {
		return nil, NewPDFError(ErrAssembly, "failed to register fonts", err)
	}

	for pageNr := 1; pageNr <= ctx.PageCount; pageNr++ {
		streams, ok := contents[pageNr-1]
		if !ok {
			continue
		}
		if err := replacePage(ctx, pageNr, streams, fonts); err != nil {
			return nil, NewPDFErrorWithPage(ErrAssembly, "failed to replace page content", pageNr-1, err)
		}
	}

	var buf bytes.Buffer
	if err := api.WriteContext(ctx, &buf); err != nil {
		return nil, NewPDFError(ErrAssembly, "failed to write PDF", err)
	}

	out = pinVolatile(ctx, buf.Bytes(), fingerprint(source, contents))
	logger.Debug("PDF written",
		logger.Int("pages", ctx.PageCount),
		logger.Int("replaced", len(contents)),
		logger.Int("bytes", len(out)))
	return out, nil
}

// fingerprint hashes everything the output depends on.
func fingerprint(source []byte, contents map[int]PageStreams) []byte {
	h := sha256.New()
	h.Write(source)
	pages := make([]int, 0, len(contents))
	for n := range contents {
		pages = append(pages, n)
	}
	sort.Ints(pages)
	for _, n := range pages {
		ps := contents[n]
		fmt.Fprintf(h, "page %d %t %d %d\n", n, ps.KeepOriginal, len(ps.Prefix), len(ps.Suffix))
		h.Write(ps.Prefix)
		h.Write(ps.Suffix)
	}
	return h.Sum(nil)
}

// pinVolatile rewrites the values pdfcpu derives from the clock: the info
// dictionary dates and the second file identifier. Replacements keep their
// length, so the xref table stays valid.
func pinVolatile(ctx *model.Context, out []byte, seed []byte) []byte {
	if ctx.Info != nil {
		if d, err := ctx.DereferenceDict(*ctx.Info); err == nil && d != nil {
			pinned := []byte(types.StringLiteral(pinnedDate).String())
			for _, key := range []string{"CreationDate", "ModDate"} {
				if v, ok := d[key].(types.StringLiteral); ok && len(v) == len(pinnedDate) {
					out = bytes.ReplaceAll(out, []byte(v.String()), pinned)
				}
			}
		}
	}
	if len(ctx.ID) == 2 {
		if fid, ok := ctx.ID[1].(types.HexLiteral); ok {
			pinned := types.HexLiteral(hex.EncodeToString(seed[:16]))
			if len(pinned) == len(fid) {
				out = bytes.ReplaceAll(out, []byte(fid.String()), []byte(pinned.String()))
			}
		}
	}
	return out
}

// PageCount returns the number of pages using pdfcpu. The page tree is only
// counted during validation.
func (w *Writer) PageCount(data []byte) (int, error) {
	ctx, err := api.ReadContext(bytes.NewReader(data), w.conf)
	if err != nil {
		return 0, NewPDFError(ErrPDFInvalid, "failed to read PDF", err)
	}
	if err := api.ValidateContext(ctx); err != nil {
		return 0, NewPDFError(ErrPDFInvalid, "PDF validation failed", err)
	}
	return ctx.PageCount, nil
}

// Validate checks that data is a structurally valid PDF.
func (w *Writer) Validate(data []byte) error {
	if err := api.Validate(bytes.NewReader(data), w.conf); err != nil {
		return NewPDFError(ErrPDFInvalid, "PDF validation failed", err)
	}
	return nil
}

func registerFonts(ctx *model.Context) (map[string]types.IndirectRef, error) {
	refs := make(map[string]types.IndirectRef, len(standardFonts))
	for _, f := range standardFonts {
		d := types.Dict{
			"Type":     types.Name("Font"),
			"Subtype":  types.Name("Type1"),
			"BaseFont": types.Name(f.BaseFont),
			"Encoding": types.Name("WinAnsiEncoding"),
		}
		ir, err := ctx.IndRefForNewObject(d)
		if err != nil {
			return nil, err
		}
		refs[f.Resource] = *ir
	}
	return refs, nil
}

func replacePage(ctx *model.Context, pageNr int, streams PageStreams, fonts map[string]types.IndirectRef) error {
	pageDict, _, inherited, err := ctx.PageDict(pageNr, true)
	if err != nil {
		return err
	}
	if pageDict == nil {
		return fmt.Errorf("page %d not found", pageNr)
	}

	if err := addFontResources(ctx, pageDict, inherited, fonts); err != nil {
		return err
	}

	var newContents types.Array
	prefix, err := newContentStream(ctx, streams.Prefix)
	if err != nil {
		return err
	}
	newContents = append(newContents, prefix)

	if streams.KeepOriginal {
		if obj, found := pageDict.Find("Contents"); found {
			original, err := ctx.Dereference(obj)
			if err != nil {
				return err
			}
			if arr, ok := original.(types.Array); ok {
				newContents = append(newContents, arr...)
			} else {
				newContents = append(newContents, obj)
			}
		}
		suffix, err := newContentStream(ctx, streams.Suffix)
		if err != nil {
			return err
		}
		newContents = append(newContents, suffix)
	}

	pageDict["Contents"] = newContents
	return nil
}

// addFontResources makes the standard fonts visible to the page, writing
// an own /Resources entry when the page only inherited one.
func addFontResources(ctx *model.Context, pageDict types.Dict, inherited *model.InheritedPageAttrs, fonts map[string]types.IndirectRef) error {
	var res types.Dict
	if obj, found := pageDict.Find("Resources"); found {
		d, err := ctx.DereferenceDict(obj)
		if err != nil {
			return err
		}
		res = d
	}
	if res == nil {
		if inherited != nil && inherited.Resources != nil {
			res = inherited.Resources.Clone().(types.Dict)
		} else {
			res = types.NewDict()
		}
		pageDict["Resources"] = res
	}

	var fontDict types.Dict
	if obj, found := res.Find("Font"); found {
		d, err := ctx.DereferenceDict(obj)
		if err != nil {
			return err
		}
		fontDict = d
	}
	if fontDict == nil {
		fontDict = types.NewDict()
		res["Font"] = fontDict
	}

	for name, ref := range fonts {
		if _, exists := fontDict[name]; !exists {
			fontDict[name] = ref
		}
	}
	return nil
}

func newContentStream(ctx *model.Context, content []byte) (types.IndirectRef, error) {
	sd, err := ctx.NewStreamDictForBuf(content)
	if err != nil {
		return types.IndirectRef{}, err
	}
	if err := sd.Encode(); err != nil {
		return types.IndirectRef{}, err
	}
	ir, err := ctx.IndRefForNewObject(*sd)
	if err != nil {
		return types.IndirectRef{}, err
	}
	return *ir, nil
}
