package contentstream

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func operators(ops []Operation) []string {
	out := make([]string, len(ops))
	for i, op := range ops {
		out[i] = op.Operator
	}
	return out
}

func TestParseOperators(t *testing.T) {
	src := []byte("q 1 0 0 1 72 720 cm\nBT /F1 12 Tf 72 700 Td (Hello) Tj T* [(W) -20 (orld)] TJ ET\nQ 0 g 10 10 100 50 re f")
	ops, err := Parse(src)
	require.NoError(t, err)

	assert.Equal(t, []string{"q", "cm", "BT", "Tf", "Td", "Tj", "T*", "TJ", "ET", "Q", "g", "re", "f"}, operators(ops))

	tf := ops[3]
	require.Len(t, tf.Operands, 2)
	assert.Equal(t, KindName, tf.Operands[0].Kind)
	assert.Equal(t, "F1", tf.Operands[0].Name)
	assert.Equal(t, 12.0, tf.Operands[1].Number)

	tj := ops[5]
	assert.Equal(t, "Hello", string(tj.Operands[0].Bytes))
	assert.Equal(t, "(Hello) Tj", string(src[tj.Start:tj.End]))

	arr := ops[7].Operands[0]
	require.Equal(t, KindArray, arr.Kind)
	require.Len(t, arr.Items, 3)
	assert.Equal(t, -20.0, arr.Items[1].Number)
}

func TestParseStrings(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"escapes", `(a\(b\)c\\d\n) Tj`, "a(b)c\\d\n"},
		{"nested parens", `(a (b) c) Tj`, "a (b) c"},
		{"octal", `(\101\102\7) Tj`, "AB\x07"},
		{"line continuation", "(ab\\\ncd) Tj", "abcd"},
		{"hex", `<48 65 6C6C 6f> Tj`, "Hello"},
		{"odd hex", `<414> Tj`, "A@"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ops, err := Parse([]byte(tt.src))
			require.NoError(t, err)
			require.Len(t, ops, 1)
			assert.Equal(t, tt.want, string(ops[0].Operands[0].Bytes))
		})
	}
}

func TestParseNamesDictsAndKeywords(t *testing.T) {
	ops, err := Parse([]byte("/Span <</MCID 3 /Alt (x) /On true>> BDC /A#20B gs null pop EMC"))
	require.NoError(t, err)
	require.Equal(t, []string{"BDC", "gs", "pop", "EMC"}, operators(ops))

	dict := ops[0].Operands[1]
	assert.Equal(t, KindDict, dict.Kind)
	assert.Len(t, dict.Items, 6)
	assert.True(t, dict.Items[5].Bool)
	assert.Equal(t, "A B", ops[1].Operands[0].Name)
	assert.Equal(t, KindNull, ops[2].Operands[0].Kind)
}

func TestParseInlineImage(t *testing.T) {
	src := []byte("q BI /W 2 /H 1 /BPC 8 /CS /G ID \x00EI\xff EI Q")
	ops, err := Parse(src)
	require.NoError(t, err)
	assert.Equal(t, []string{"q", "BI", "Q"}, operators(ops))
	assert.Equal(t, "BI /W 2 /H 1 /BPC 8 /CS /G ID \x00EI\xff EI", string(src[ops[1].Start:ops[1].End]))
}

func TestParseComments(t *testing.T) {
	ops, err := Parse([]byte("% header\nq % save\nQ"))
	require.NoError(t, err)
	assert.Equal(t, []string{"q", "Q"}, operators(ops))
}

func TestParseErrors(t *testing.T) {
	tests := []string{
		"(unterminated Tj",
		"<4G> Tj",
		"[1 2 Tj",
		"<</A 1 >",
		"BI /W 1 ID abc",
		") Tj",
		"- Td",
		"[1 Tj] TJ",
	}
	for _, src := range tests {
		t.Run(src, func(t *testing.T) {
			_, err := Parse([]byte(src))
			require.Error(t, err)
			var se *SyntaxError
			assert.True(t, errors.As(err, &se))
		})
	}
}

func TestBuilderAndSerialize(t *testing.T) {
	var b Builder
	b.Op("BT").
		Op("Tf", "DTF1", 12.0).
		Op("Tm", 1.0, 0.0, 0.0, 1.0, 72.5, 700.1234).
		Op("Tj", []byte("a(b)\\é")).
		Op("ET")
	out := b.Bytes()
	assert.Equal(t, "BT\n/DTF1 12 Tf\n1 0 0 1 72.5 700.123 Tm\n(a\\(b\\)\\\\\\303\\251) Tj\nET\n", string(out))

	ops, err := Parse(out)
	require.NoError(t, err)
	assert.Equal(t, "a(b)\\é", string(ops[3].Operands[0].Bytes))
	assert.Equal(t, out, Serialize(out, ops))
}

func TestFormatNumber(t *testing.T) {
	assert.Equal(t, "0", FormatNumber(-0.0001))
	assert.Equal(t, "12", FormatNumber(12))
	assert.Equal(t, "-3.5", FormatNumber(-3.5))
	assert.Equal(t, "0.667", FormatNumber(2.0/3.0))
}
