package contentstream

import (
	"bytes"
	"math"
	"strconv"
)

// Builder writes content stream operations with deterministic formatting.
type Builder struct {
	buf bytes.Buffer
}

// Op writes operands followed by operator and a newline. Operands may be
// float64, int, string (written as a name), []byte (written as a literal
// string) or Raw.
func (b *Builder) Op(operator string, operands ...interface{}) *Builder {
	for _, o := range operands {
		switch v := o.(type) {
		case float64:
			b.buf.WriteString(FormatNumber(v))
		case int:
			b.buf.WriteString(strconv.Itoa(v))
		case string:
			b.buf.WriteByte('/')
			b.buf.WriteString(v)
		case []byte:
			b.buf.WriteString(EscapeLiteral(v))
		case Raw:
			b.buf.Write(v)
		}
		b.buf.WriteByte(' ')
	}
	b.buf.WriteString(operator)
	b.buf.WriteByte('\n')
	return b
}

// Write appends pre-built content followed by a newline if missing.
func (b *Builder) Write(content []byte) *Builder {
	if len(content) == 0 {
		return b
	}
	b.buf.Write(content)
	if content[len(content)-1] != '\n' {
		b.buf.WriteByte('\n')
	}
	return b
}

// Bytes returns the accumulated stream.
func (b *Builder) Bytes() []byte {
	return append([]byte(nil), b.buf.Bytes()...)
}

// Raw is an operand written verbatim.
type Raw []byte

// FormatNumber formats v with at most three decimals and no trailing zeros.
func FormatNumber(v float64) string {
	r := math.Round(v*1000) / 1000
	if r == 0 {
		return "0"
	}
	return strconv.FormatFloat(r, 'f', -1, 64)
}

// EscapeLiteral encodes s as a PDF literal string including parentheses.
func EscapeLiteral(s []byte) string {
	var sb bytes.Buffer
	sb.WriteByte('(')
	for _, c := range s {
		switch c {
		case '(', ')', '\\':
			sb.WriteByte('\\')
			sb.WriteByte(c)
		case '\n':
			sb.WriteString(`\n`)
		case '\r':
			sb.WriteString(`\r`)
		default:
			if c < 0x20 || c > 0x7e {
				sb.WriteByte('\\')
				sb.WriteString(strconv.FormatInt(int64(c)+0o1000, 8)[1:])
				continue
			}
			sb.WriteByte(c)
		}
	}
	sb.WriteByte(')')
	return sb.String()
}

// Serialize writes ops back to content bytes, copying each operation's raw
// span from src. The result has one operation per line.
func Serialize(src []byte, ops []Operation) []byte {
	var buf bytes.Buffer
	for i, op := range ops {
		if i > 0 {
			buf.WriteByte('\n')
		}
		buf.Write(src[op.Start:op.End])
	}
	if len(ops) > 0 {
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}
