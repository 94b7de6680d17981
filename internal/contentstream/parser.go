// Package contentstream tokenises PDF page content streams into operations
// and writes new ones. Each parsed operation remembers the byte span it was
// read from so filters can copy kept operations verbatim.
package contentstream

import (
	"bytes"
	"fmt"
	"strconv"
)

// Kind identifies the type of an operand.
type Kind int

const (
	KindNumber Kind = iota
	KindString
	KindName
	KindArray
	KindDict
	KindBool
	KindNull
)

// Operand is one PDF object appearing before an operator.
type Operand struct {
	Kind   Kind
	Number float64
	// Bytes holds the decoded bytes of literal and hex strings.
	Bytes []byte
	Hex   bool
	Name  string
	Bool  bool
	// Items holds array elements, or alternating keys and values for dicts.
	Items []Operand
}

// Operation is an operator and its operands. Start and End delimit the raw
// bytes of the operation, from its first operand to the end of the operator.
type Operation struct {
	Operator string
	Operands []Operand
	Start    int
	End      int
}

// SyntaxError reports malformed content at a byte offset.
type SyntaxError struct {
	Offset int
	Msg    string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("content stream: %s at offset %d", e.Msg, e.Offset)
}

// Parser parses PDF content streams into a sequence of operations.
type Parser struct {
	data []byte
	pos  int
}

// NewParser creates a new content stream parser for the given data.
func NewParser(data []byte) *Parser {
	return &Parser{data: data}
}

// Parse parses data and returns all operations in order.
func Parse(data []byte) ([]Operation, error) {
	return NewParser(data).Parse()
}

// Parse returns all operations in paint order. Operands left dangling at the
// end of the stream are ignored.
func (p *Parser) Parse() ([]Operation, error) {
	var ops []Operation
	var stack []Operand
	opStart := -1

	for {
		p.skipSpaceAndComments()
		if p.pos >= len(p.data) {
			return ops, nil
		}

		tokStart := p.pos
		c := p.data[p.pos]

		if isRegular(c) && !isNumberStart(c) {
			word := p.readWord()
			switch word {
			case "true", "false":
				if opStart < 0 {
					opStart = tokStart
				}
				stack = append(stack, Operand{Kind: KindBool, Bool: word == "true"})
				continue
			case "null":
				if opStart < 0 {
					opStart = tokStart
				}
				stack = append(stack, Operand{Kind: KindNull})
				continue
			}

			if opStart < 0 {
				opStart = tokStart
			}
			if word == "BI" {
				if err := p.skipInlineImage(); err != nil {
					return nil, err
				}
			}
			ops = append(ops, Operation{Operator: word, Operands: stack, Start: opStart, End: p.pos})
			stack = nil
			opStart = -1
			continue
		}

		operand, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		if opStart < 0 {
			opStart = tokStart
		}
		stack = append(stack, operand)
	}
}

// skipInlineImage advances past "... ID <binary> EI" following a BI operator.
func (p *Parser) skipInlineImage() error {
	start := p.pos
	for {
		p.skipSpaceAndComments()
		if p.pos >= len(p.data) {
			return &SyntaxError{Offset: start, Msg: "inline image without ID"}
		}
		if isRegular(p.data[p.pos]) && !isNumberStart(p.data[p.pos]) {
			save := p.pos
			if w := p.readWord(); w == "ID" {
				break
			} else if w != "true" && w != "false" && w != "null" {
				p.pos = save
				return &SyntaxError{Offset: save, Msg: "unexpected operator " + strconv.Quote(w) + " in inline image"}
			}
			continue
		}
		if _, err := p.parseOperand(); err != nil {
			return err
		}
	}

	// A single white-space byte separates ID from the image data.
	if p.pos < len(p.data) && isSpace(p.data[p.pos]) {
		p.pos++
	}
	for i := p.pos; i+1 < len(p.data); i++ {
		if p.data[i] != 'E' || p.data[i+1] != 'I' {
			continue
		}
		if i > 0 && !isSpace(p.data[i-1]) {
			continue
		}
		if i+2 < len(p.data) && !isSpace(p.data[i+2]) && !isDelimiter(p.data[i+2]) {
			continue
		}
		p.pos = i + 2
		return nil
	}
	return &SyntaxError{Offset: start, Msg: "inline image without EI"}
}

func (p *Parser) parseOperand() (Operand, error) {
	c := p.data[p.pos]
	switch {
	case isNumberStart(c):
		return p.parseNumber()
	case c == '(':
		return p.parseLiteral()
	case c == '<' && p.peek(1) == '<':
		return p.parseDict()
	case c == '<':
		return p.parseHex()
	case c == '/':
		return p.parseName(), nil
	case c == '[':
		return p.parseArray()
	default:
		return Operand{}, &SyntaxError{Offset: p.pos, Msg: fmt.Sprintf("unexpected character %q", c)}
	}
}

func (p *Parser) parseNumber() (Operand, error) {
	start := p.pos
	p.pos++
	for p.pos < len(p.data) {
		c := p.data[p.pos]
		if (c >= '0' && c <= '9') || c == '.' {
			p.pos++
			continue
		}
		break
	}
	text := string(p.data[start:p.pos])
	if text == "-" || text == "+" || text == "." {
		return Operand{}, &SyntaxError{Offset: start, Msg: "malformed number " + strconv.Quote(text)}
	}
	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return Operand{}, &SyntaxError{Offset: start, Msg: "malformed number " + strconv.Quote(text)}
	}
	return Operand{Kind: KindNumber, Number: v}, nil
}

func (p *Parser) parseLiteral() (Operand, error) {
	start := p.pos
	p.pos++ // (
	depth := 1
	var out bytes.Buffer

	for p.pos < len(p.data) {
		c := p.data[p.pos]
		switch c {
		case '\\':
			p.pos++
			if p.pos >= len(p.data) {
				return Operand{}, &SyntaxError{Offset: start, Msg: "unterminated string"}
			}
			e := p.data[p.pos]
			switch e {
			case 'n':
				out.WriteByte('\n')
			case 'r':
				out.WriteByte('\r')
			case 't':
				out.WriteByte('\t')
			case 'b':
				out.WriteByte('\b')
			case 'f':
				out.WriteByte('\f')
			case '(', ')', '\\':
				out.WriteByte(e)
			case '\r':
				if p.peek(1) == '\n' {
					p.pos++
				}
			case '\n':
			default:
				if e >= '0' && e <= '7' {
					v := int(e - '0')
					for n := 0; n < 2 && p.pos+1 < len(p.data); n++ {
						d := p.data[p.pos+1]
						if d < '0' || d > '7' {
							break
						}
						v = v*8 + int(d-'0')
						p.pos++
					}
					out.WriteByte(byte(v))
				} else {
					out.WriteByte(e)
				}
			}
			p.pos++
		case '(':
			depth++
			out.WriteByte(c)
			p.pos++
		case ')':
			depth--
			p.pos++
			if depth == 0 {
				return Operand{Kind: KindString, Bytes: out.Bytes()}, nil
			}
			out.WriteByte(c)
		default:
			out.WriteByte(c)
			p.pos++
		}
	}
	return Operand{}, &SyntaxError{Offset: start, Msg: "unterminated string"}
}

func (p *Parser) parseHex() (Operand, error) {
	start := p.pos
	p.pos++ // <
	var digits []byte
	for p.pos < len(p.data) {
		c := p.data[p.pos]
		p.pos++
		if c == '>' {
			if len(digits)%2 == 1 {
				digits = append(digits, '0')
			}
			out := make([]byte, len(digits)/2)
			for i := range out {
				out[i] = unhex(digits[2*i])<<4 | unhex(digits[2*i+1])
			}
			return Operand{Kind: KindString, Bytes: out, Hex: true}, nil
		}
		if isSpace(c) {
			continue
		}
		if !isHexDigit(c) {
			return Operand{}, &SyntaxError{Offset: p.pos - 1, Msg: fmt.Sprintf("invalid hex digit %q", c)}
		}
		digits = append(digits, c)
	}
	return Operand{}, &SyntaxError{Offset: start, Msg: "unterminated hex string"}
}

func (p *Parser) parseName() Operand {
	p.pos++ // /
	start := p.pos
	for p.pos < len(p.data) && isRegular(p.data[p.pos]) {
		p.pos++
	}
	raw := p.data[start:p.pos]
	if bytes.IndexByte(raw, '#') < 0 {
		return Operand{Kind: KindName, Name: string(raw)}
	}
	var out []byte
	for i := 0; i < len(raw); i++ {
		if raw[i] == '#' && i+2 < len(raw) && isHexDigit(raw[i+1]) && isHexDigit(raw[i+2]) {
			out = append(out, unhex(raw[i+1])<<4|unhex(raw[i+2]))
			i += 2
			continue
		}
		out = append(out, raw[i])
	}
	return Operand{Kind: KindName, Name: string(out)}
}

func (p *Parser) parseArray() (Operand, error) {
	start := p.pos
	p.pos++ // [
	var items []Operand
	for {
		p.skipSpaceAndComments()
		if p.pos >= len(p.data) {
			return Operand{}, &SyntaxError{Offset: start, Msg: "unterminated array"}
		}
		c := p.data[p.pos]
		if c == ']' {
			p.pos++
			return Operand{Kind: KindArray, Items: items}, nil
		}
		item, err := p.parseValue()
		if err != nil {
			return Operand{}, err
		}
		items = append(items, item)
	}
}

func (p *Parser) parseDict() (Operand, error) {
	start := p.pos
	p.pos += 2 // <<
	var items []Operand
	for {
		p.skipSpaceAndComments()
		if p.pos >= len(p.data) {
			return Operand{}, &SyntaxError{Offset: start, Msg: "unterminated dictionary"}
		}
		if p.data[p.pos] == '>' && p.peek(1) == '>' {
			p.pos += 2
			if len(items)%2 != 0 {
				return Operand{}, &SyntaxError{Offset: start, Msg: "dictionary with odd number of entries"}
			}
			return Operand{Kind: KindDict, Items: items}, nil
		}
		item, err := p.parseValue()
		if err != nil {
			return Operand{}, err
		}
		items = append(items, item)
	}
}

// parseValue parses an object inside an array or dictionary where bare
// keywords can only be true, false or null.
func (p *Parser) parseValue() (Operand, error) {
	c := p.data[p.pos]
	if isRegular(c) && !isNumberStart(c) {
		start := p.pos
		switch w := p.readWord(); w {
		case "true", "false":
			return Operand{Kind: KindBool, Bool: w == "true"}, nil
		case "null":
			return Operand{Kind: KindNull}, nil
		default:
			return Operand{}, &SyntaxError{Offset: start, Msg: "unexpected keyword " + strconv.Quote(w)}
		}
	}
	return p.parseOperand()
}

func (p *Parser) readWord() string {
	start := p.pos
	for p.pos < len(p.data) && isRegular(p.data[p.pos]) {
		p.pos++
	}
	return string(p.data[start:p.pos])
}

func (p *Parser) skipSpaceAndComments() {
	for p.pos < len(p.data) {
		c := p.data[p.pos]
		if isSpace(c) {
			p.pos++
			continue
		}
		if c == '%' {
			for p.pos < len(p.data) && p.data[p.pos] != '\n' && p.data[p.pos] != '\r' {
				p.pos++
			}
			continue
		}
		return
	}
}

func (p *Parser) peek(n int) byte {
	if p.pos+n < len(p.data) {
		return p.data[p.pos+n]
	}
	return 0
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\n' || c == '\r' || c == '\t' || c == '\f' || c == 0
}

func isDelimiter(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

func isRegular(c byte) bool { return !isSpace(c) && !isDelimiter(c) }

func isNumberStart(c byte) bool {
	return (c >= '0' && c <= '9') || c == '-' || c == '+' || c == '.'
}

func isHexDigit(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func unhex(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}
