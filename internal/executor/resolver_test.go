package executor

import (
	"errors"
	"testing"

	"github.com/ZanzyTHEbar/stepwise"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type point struct {
	X     int
	Label string `json:"label"`
	note  string
}

type fieldBag map[string]any

func (b fieldBag) Field(name string) (any, bool) {
	v, ok := b["f_"+name]
	return v, ok
}

func namespace(pairs ...any) *stepwise.Results {
	r := stepwise.NewResults()
	for i := 0; i < len(pairs); i += 2 {
		r.Set(pairs[i].(string), pairs[i+1])
	}
	return r
}

func TestResolver_Resolve(t *testing.T) {
	list := []any{1, 2}
	obj := map[string]any{"id": 42, "name": "task"}
	results := namespace(
		"R1", 7,
		"L", list,
		"O", obj,
		"5", "five",
		"P", point{X: 3, Label: "p", note: "hidden"},
		"PP", &point{X: 9},
		"F", fieldBag{"f_size": 11},
	)
	r := NewResolver(results, nil)

	tests := []struct {
		name string
		raw  any
		want any
	}{
		{"int passthrough", 10, 10},
		{"bool passthrough", true, true},
		{"slice passthrough", []any{"R1"}, []any{"R1"}},
		{"exact reference", "R1", 7},
		{"reference to list", "L", list},
		{"reference to object", "O", obj},
		{"reference beats numeric", "5", "five"},
		{"list literal", `[R1, 5, "x"]`, []any{7, 5, "x"}},
		{"list with float", "[1.5, 2]", []any{1.5, 2}},
		{"quoted reference in list", `["R1"]`, []any{7}},
		{"empty list", "[]", []any{}},
		{"blank list", "[   ]", []any{}},
		{"trailing comma keeps empty element", "[1,]", []any{1, ""}},
		{"lone quote element", `[", 1]`, []any{"", 1}},
		{"brace map key", "{O.id}", 42},
		{"brace struct field", "{P.X}", 3},
		{"brace json tag", "{P.label}", "p"},
		{"brace pointer struct", "{PP.X}", 9},
		{"brace field getter", "{F.size}", 11},
		{"brace unexported field falls through", "{P.note}", "{P.note}"},
		{"brace missing field falls through", "{O.missing}", "{O.missing}"},
		{"brace unknown base falls through", "{Nope.id}", "{Nope.id}"},
		{"brace three parts falls through", "{O.id.x}", "{O.id.x}"},
		{"scalar int", "20", 20},
		{"scalar negative int", "-3", -3},
		{"scalar float", "2.5", 2.5},
		{"scalar padded int", " 4 ", 4},
		{"hex float stays string", "0x1.8p1", "0x1.8p1"},
		{"plain string", "hello", "hello"},
		{"dotted string", "v1.2.3", "v1.2.3"},
		{"int overflow stays string", "99999999999999999999", "99999999999999999999"},
		{"forward reference stays literal", "R9", "R9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Resolve(tt.raw))
		})
	}
}

func TestResolver_ListLengthMatchesElements(t *testing.T) {
	r := NewResolver(namespace("a", "A"), nil)
	for _, expr := range []string{"[a]", "[a, b]", "[a, 1, 2.0, c]", "[ , , ]"} {
		got, ok := r.Resolve(expr).([]any)
		require.True(t, ok, expr)
		assert.Len(t, got, len(splitCount(expr)), expr)
	}
}

func splitCount(expr string) []struct{} {
	n := 1
	for _, c := range expr {
		if c == ',' {
			n++
		}
	}
	return make([]struct{}, n)
}

func TestResolver_BracketsInsideElementsStayLiteral(t *testing.T) {
	var warned int
	r := NewResolver(namespace("R1", 1), func(string, *stepwise.Error) { warned++ })

	tests := []struct {
		expr string
		want []any
	}{
		{"[1, [2]]", []any{1, "[2]"}},
		{`["a[b", 3]`, []any{"a[b", 3}},
		{"[[1, 2], 3]", []any{"[1", "2]", 3}},
		{"[a]]", []any{"a]"}},
		{"[R1, [R1]]", []any{1, "[R1]"}},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Resolve(tt.expr))
		})
	}
	assert.Zero(t, warned)
}

func TestResolver_MalformedListWarnsAndFallsThrough(t *testing.T) {
	var warnings []*stepwise.Error
	var expressions []string
	r := NewResolver(namespace("R1", 1), func(expression string, w *stepwise.Error) {
		expressions = append(expressions, expression)
		warnings = append(warnings, w)
	})

	expr := "[1, \xff]"
	got := r.Resolve(expr)

	assert.Equal(t, expr, got)
	require.Len(t, warnings, 1)
	assert.Equal(t, []string{expr}, expressions)
	assert.Equal(t, stepwise.ErrCodeArgumentParse, warnings[0].Code)
	assert.True(t, errors.Is(warnings[0], stepwise.ErrMalformedList))
}

func TestResolver_NilWarningFunc(t *testing.T) {
	r := NewResolver(nil, nil)
	assert.NotPanics(t, func() {
		assert.Equal(t, "[\xfe]", r.Resolve("[\xfe]"))
	})
}

func TestResolver_ResolveAllKeepsKeys(t *testing.T) {
	r := NewResolver(namespace("R1", 30), nil)
	kwargs := r.ResolveAll(stepwise.Args("a", "R1", "b", "100", "c", nil))
	assert.Equal(t, stepwise.Kwargs{"a": 30, "b": 100, "c": nil}, kwargs)
}

func TestLookupField(t *testing.T) {
	type inner struct{ Y int }
	type outer struct {
		*inner
		Name string
	}

	v, ok := LookupField(outer{Name: "n"}, "Y")
	assert.False(t, ok, "nil embedded pointer must not resolve")
	assert.Nil(t, v)

	v, ok = LookupField(outer{inner: &inner{Y: 2}}, "Y")
	assert.True(t, ok)
	assert.Equal(t, 2, v)

	_, ok = LookupField(map[int]string{1: "a"}, "1")
	assert.False(t, ok)

	_, ok = LookupField((*point)(nil), "X")
	assert.False(t, ok)

	_, ok = LookupField(nil, "X")
	assert.False(t, ok)
}
