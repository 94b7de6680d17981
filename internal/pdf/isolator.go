package pdf

import (
	"fmt"

	"doc-translator/internal/contentstream"
)

// textShowOperators paint glyphs and are removed by isolation.
var textShowOperators = map[string]bool{
	"Tj": true,
	"TJ": true,
	"'":  true,
	"\"": true,
}

// Isolator strips text painting from page content while keeping every other
// operator byte for byte and in order.
type Isolator struct{}

// NewIsolator returns an Isolator.
func NewIsolator() *Isolator {
	return &Isolator{}
}

// Isolate returns content with text-showing operators removed. Kept
// operations are copied from their source spans and written one per line, so
// isolating an isolated background returns identical bytes. Text shown in
// clip-only render mode is kept because it shapes the clipping path.
// Malformed content yields an IsolationError.
func (i *Isolator) Isolate(page int, content []byte) (out []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = NewPDFErrorWithPage(ErrIsolation, "panic while isolating background", page, fmt.Errorf("%v", r))
		}
	}()

	ops, err := contentstream.Parse(content)
	if err != nil {
		return nil, NewPDFErrorWithPage(ErrIsolation, "malformed content stream", page, err)
	}

	tm := newTextMachine()
	kept := make([]contentstream.Operation, 0, len(ops))
	for _, op := range ops {
		if err := tm.apply(op); err != nil {
			return nil, NewPDFErrorWithPage(ErrIsolation, "malformed content stream", page, err)
		}
		if textShowOperators[op.Operator] && tm.gs.text.render != renderClip {
			continue
		}
		kept = append(kept, op)
	}
	return contentstream.Serialize(content, kept), nil
}
