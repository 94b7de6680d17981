package pdf

import (
	"fmt"
	"math"

	"doc-translator/internal/contentstream"
)

// matrix is a PDF transformation matrix [a b c d e f].
type matrix [6]float64

var identity = matrix{1, 0, 0, 1, 0, 0}

// mul returns m × n.
func (m matrix) mul(n matrix) matrix {
	return matrix{
		m[0]*n[0] + m[1]*n[2],
		m[0]*n[1] + m[1]*n[3],
		m[2]*n[0] + m[3]*n[2],
		m[2]*n[1] + m[3]*n[3],
		m[4]*n[0] + m[5]*n[2] + n[4],
		m[4]*n[1] + m[5]*n[3] + n[5],
	}
}

func translate(tx, ty float64) matrix { return matrix{1, 0, 0, 1, tx, ty} }

// textParams is the text part of the graphics state.
type textParams struct {
	charSpace float64
	wordSpace float64
	hscale    float64
	leading   float64
	font      string
	fontSize  float64
	render    int
	rise      float64
}

type graphicsState struct {
	ctm  matrix
	text textParams
}

// textMachine tracks the graphics and text state while walking a content
// stream. It interprets state operators only; callers handle show operators.
type textMachine struct {
	gs    graphicsState
	stack []graphicsState
	tm    matrix
	tlm   matrix
}

func newTextMachine() *textMachine {
	return &textMachine{
		gs:  graphicsState{ctm: identity, text: textParams{hscale: 1}},
		tm:  identity,
		tlm: identity,
	}
}

// apply updates state for op. It returns an error for malformed operands.
func (t *textMachine) apply(op contentstream.Operation) error {
	switch op.Operator {
	case "q":
		t.stack = append(t.stack, t.gs)
	case "Q":
		if n := len(t.stack); n > 0 {
			t.gs = t.stack[n-1]
			t.stack = t.stack[:n-1]
		}
	case "cm":
		v, err := numbers(op, 6)
		if err != nil {
			return err
		}
		t.gs.ctm = matrix{v[0], v[1], v[2], v[3], v[4], v[5]}.mul(t.gs.ctm)
	case "BT":
		t.tm, t.tlm = identity, identity
	case "Tf":
		if len(op.Operands) != 2 || op.Operands[0].Kind != contentstream.KindName || op.Operands[1].Kind != contentstream.KindNumber {
			return badOperands(op)
		}
		t.gs.text.font = op.Operands[0].Name
		t.gs.text.fontSize = op.Operands[1].Number
	case "Tc", "Tw", "Tz", "TL", "Ts", "Tr":
		v, err := numbers(op, 1)
		if err != nil {
			return err
		}
		switch op.Operator {
		case "Tc":
			t.gs.text.charSpace = v[0]
		case "Tw":
			t.gs.text.wordSpace = v[0]
		case "Tz":
			t.gs.text.hscale = v[0] / 100
		case "TL":
			t.gs.text.leading = v[0]
		case "Ts":
			t.gs.text.rise = v[0]
		case "Tr":
			t.gs.text.render = int(v[0])
		}
	case "Td", "TD":
		v, err := numbers(op, 2)
		if err != nil {
			return err
		}
		if op.Operator == "TD" {
			t.gs.text.leading = -v[1]
		}
		t.newLine(v[0], v[1])
	case "Tm":
		v, err := numbers(op, 6)
		if err != nil {
			return err
		}
		t.tm = matrix{v[0], v[1], v[2], v[3], v[4], v[5]}
		t.tlm = t.tm
	case "T*":
		t.newLine(0, -t.gs.text.leading)
	case "'":
		t.newLine(0, -t.gs.text.leading)
	case "\"":
		v, err := numbers(contentstream.Operation{Operator: op.Operator, Operands: firstN(op.Operands, 2)}, 2)
		if err != nil || len(op.Operands) != 3 {
			return badOperands(op)
		}
		t.gs.text.wordSpace = v[0]
		t.gs.text.charSpace = v[1]
		t.newLine(0, -t.gs.text.leading)
	}
	return nil
}

func (t *textMachine) newLine(tx, ty float64) {
	t.tlm = translate(tx, ty).mul(t.tlm)
	t.tm = t.tlm
}

// renderMatrix returns the text rendering matrix for the current state.
func (t *textMachine) renderMatrix() matrix {
	p := t.gs.text
	return matrix{p.fontSize * p.hscale, 0, 0, p.fontSize, 0, p.rise}.mul(t.tm).mul(t.gs.ctm)
}

// advance moves the text matrix horizontally by tx text-space units.
func (t *textMachine) advance(tx float64) {
	t.tm = translate(tx, 0).mul(t.tm)
}

// effectiveSize is the rendered font size in page units.
func (t *textMachine) effectiveSize() float64 {
	m := t.renderMatrix()
	return math.Hypot(m[2], m[3])
}

func numbers(op contentstream.Operation, n int) ([]float64, error) {
	if len(op.Operands) != n {
		return nil, badOperands(op)
	}
	out := make([]float64, n)
	for i, o := range op.Operands {
		if o.Kind != contentstream.KindNumber {
			return nil, badOperands(op)
		}
		out[i] = o.Number
	}
	return out, nil
}

func firstN(ops []contentstream.Operand, n int) []contentstream.Operand {
	if len(ops) < n {
		return ops
	}
	return ops[:n]
}

func badOperands(op contentstream.Operation) error {
	return fmt.Errorf("bad operands for %s at offset %d", op.Operator, op.Start)
}
