package script

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"
	"pgregory.net/rapid"
)

func TestSplitTemplate(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		expected []Segment
	}{
		{
			name:     "plain literal",
			line:     "OK\n",
			expected: []Segment{{Text: "OK\n", Column: 1}},
		},
		{
			name: "expression between literals",
			line: "balance: ${1+1}$ OK\n",
			expected: []Segment{
				{Text: "balance: ", Column: 1},
				{Text: "1+1", IsExpr: true, Column: 12},
				{Text: " OK\n", Column: 17},
			},
		},
		{
			name: "leading expression",
			line: "${expect_str(\"x\")}$",
			expected: []Segment{
				{Text: `expect_str("x")`, IsExpr: true, Column: 3},
			},
		},
		{
			name: "two expressions",
			line: "${a}$-${b}$",
			expected: []Segment{
				{Text: "a", IsExpr: true, Column: 3},
				{Text: "-", Column: 6},
				{Text: "b", IsExpr: true, Column: 9},
			},
		},
		{
			name:     "empty line",
			line:     "",
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			segments, err := SplitTemplate(tt.line)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, segments)
		})
	}
}

func TestSplitTemplate_MismatchedTags(t *testing.T) {
	tests := []struct {
		name string
		line string
		want error
	}{
		{name: "begin without end", line: "a ${ b\n", want: errMissingEnd},
		{name: "end without begin", line: "a }$ b\n", want: errMissingBegin},
		{name: "end before begin", line: "}$ ${\n", want: errMissingBegin},
		{name: "second tag unclosed", line: "${a}$ ${b\n", want: errMissingEnd},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := SplitTemplate(tt.line)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestSplitTemplate_RoundTrip(t *testing.T) {
	piece := rapid.StringMatching(`[a-z0-9 :\n]{0,8}`)
	rapid.Check(t, func(t *rapid.T) {
		literals := rapid.SliceOfN(piece, 1, 6).Draw(t, "literals")
		exprs := rapid.SliceOfN(rapid.StringMatching(`[a-z0-9+ ]{1,6}`), len(literals)-1, len(literals)-1).Draw(t, "exprs")

		var b strings.Builder
		for i, lit := range literals {
			b.WriteString(lit)
			if i < len(exprs) {
				b.WriteString(BeginTag + exprs[i] + EndTag)
			}
		}
		line := b.String()

		segments, err := SplitTemplate(line)
		if err != nil {
			t.Fatalf("split %q: %v", line, err)
		}

		var rebuilt strings.Builder
		var gotExprs []string
		for _, seg := range segments {
			if seg.IsExpr {
				gotExprs = append(gotExprs, seg.Text)
				rebuilt.WriteString(BeginTag + seg.Text + EndTag)
				continue
			}
			if seg.Text == "" {
				t.Fatalf("empty literal segment in %q", line)
			}
			rebuilt.WriteString(seg.Text)
		}
		if rebuilt.String() != line {
			t.Fatalf("rebuilt %q, want %q", rebuilt.String(), line)
		}
		if len(gotExprs) != len(exprs) {
			t.Fatalf("got %d expressions, want %d", len(gotExprs), len(exprs))
		}
	})
}

func TestSplitCommand(t *testing.T) {
	cmd, ok := SplitCommand("alice (wallet)>>> wallet_list_accounts\n")
	require.True(t, ok)
	assert.Equal(t, "wallet_list_accounts", cmd)

	cmd, ok = SplitCommand(">>> info\r\n")
	require.True(t, ok)
	assert.Equal(t, "info", cmd)

	_, ok = SplitCommand("OK\n")
	assert.False(t, ok)
}

func TestParseStatement(t *testing.T) {
	tests := []struct {
		line     string
		expected Statement
	}{
		{line: `x = 1`, expected: Statement{Name: "x", Expr: " 1", Column: 4}},
		{line: `active_client="alice"`, expected: Statement{Name: "active_client", Expr: `"alice"`, Column: 15}},
		{line: `a == b`, expected: Statement{Expr: `a == b`, Column: 1}},
		{line: `run_testdir()`, expected: Statement{Expr: `run_testdir()`, Column: 1}},
		{line: `start_node("a", "b")`, expected: Statement{Expr: `start_node("a", "b")`, Column: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseStatement(tt.line))
		})
	}
}

func TestText(t *testing.T) {
	tests := []struct {
		name string
		val  cty.Value
		text string
		ok   bool
	}{
		{name: "string", val: cty.StringVal("OK"), text: "OK", ok: true},
		{name: "integer", val: cty.NumberIntVal(2), text: "2", ok: true},
		{name: "decimal", val: cty.NumberFloatVal(1.5), text: "1.5", ok: true},
		{name: "bool", val: cty.True, text: "true", ok: true},
		{name: "null", val: cty.NullVal(cty.DynamicPseudoType), ok: false},
		{name: "object", val: cty.ObjectVal(map[string]cty.Value{"a": cty.StringVal("b")}), ok: false},
		{name: "list", val: cty.ListVal([]cty.Value{cty.StringVal("a")}), ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, ok := Text(tt.val)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.text, text)
		})
	}
}
