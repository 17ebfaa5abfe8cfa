package executor

import (
	"fmt"
	"reflect"
	"strings"
	"unicode/utf8"

	"github.com/ZanzyTHEbar/stepwise"
)

// WarningFunc receives non-fatal resolution anomalies together with the raw
// expression. The warning always carries ErrCodeArgumentParse.
type WarningFunc func(expression string, warning *stepwise.Error)

// Resolver maps raw argument expressions to concrete values using the results
// of earlier steps. It never returns an error: malformed expressions degrade
// to best-effort literals and are reported through the warning callback.
type Resolver struct {
	results *stepwise.Results
	warn    WarningFunc
}

// NewResolver creates a resolver reading from results. warn may be nil.
func NewResolver(results *stepwise.Results, warn WarningFunc) *Resolver {
	if results == nil {
		results = stepwise.NewResults()
	}
	return &Resolver{results: results, warn: warn}
}

// Resolve applies, in order: non-string passthrough, exact result name, list
// literal, "{name.field}" lookup and scalar coercion.
func (r *Resolver) Resolve(raw any) any {
	s, ok := raw.(string)
	if !ok {
		return raw
	}

	if v, ok := r.results.Get(s); ok {
		return v
	}

	if wrapped(s, '[', ']') {
		list, err := r.resolveList(s)
		if err == nil {
			return list
		}
		if r.warn != nil {
			r.warn(s, stepwise.NewArgumentParseWarning("resolution", s, err))
		}
	}

	if wrapped(s, '{', '}') {
		if v, ok := r.resolveField(s); ok {
			return v
		}
	}

	if n, ok := stepwise.ParseNumber(s); ok {
		return n
	}
	return s
}

// ResolveAll resolves every argument of a step into keyword arguments.
func (r *Resolver) ResolveAll(args stepwise.Arguments) stepwise.Kwargs {
	kwargs := make(stepwise.Kwargs, len(args))
	for _, arg := range args {
		kwargs[arg.Name] = r.Resolve(arg.Value)
	}
	return kwargs
}

func wrapped(s string, open, close byte) bool {
	return len(s) >= 2 && s[0] == open && s[len(s)-1] == close
}

// resolveList handles "[a, b, c]". Elements are split on every comma, so
// "[1, [2]]" yields 1 and the literal "[2]". Only an expression that is not
// valid UTF-8 fails, with ErrMalformedList.
func (r *Resolver) resolveList(s string) ([]any, error) {
	inner := s[1 : len(s)-1]
	if !utf8.ValidString(inner) {
		return nil, fmt.Errorf("%q is not valid UTF-8: %w", inner, stepwise.ErrMalformedList)
	}
	if strings.TrimSpace(inner) == "" {
		return []any{}, nil
	}

	parts := strings.Split(inner, ",")
	out := make([]any, 0, len(parts))
	for _, part := range parts {
		elem := unquote(strings.TrimSpace(part))

		if v, ok := r.results.Get(elem); ok {
			out = append(out, v)
			continue
		}
		if n, ok := stepwise.ParseNumber(elem); ok {
			out = append(out, n)
			continue
		}
		out = append(out, elem)
	}
	return out, nil
}

// unquote strips one pair of surrounding double quotes. A lone quote becomes
// the empty string.
func unquote(s string) string {
	if !strings.HasPrefix(s, `"`) || !strings.HasSuffix(s, `"`) {
		return s
	}
	if len(s) < 2 {
		return ""
	}
	return s[1 : len(s)-1]
}

// resolveField handles "{name.field}". Only two-part references are looked
// up; anything else reports ok=false so resolution falls through.
func (r *Resolver) resolveField(s string) (any, bool) {
	ref := strings.Split(s[1:len(s)-1], ".")
	if len(ref) != 2 {
		return nil, false
	}
	base, ok := r.results.Get(ref[0])
	if !ok {
		return nil, false
	}
	return LookupField(base, ref[1])
}

// LookupField reads a named field from v. It tries stepwise.FieldGetter, then
// an exported struct field (by Go name or json tag), then a string-keyed map.
func LookupField(v any, name string) (any, bool) {
	if v == nil {
		return nil, false
	}
	if fg, ok := v.(stepwise.FieldGetter); ok {
		if value, ok := fg.Field(name); ok {
			return value, true
		}
	}

	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, false
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.Struct:
		return structField(rv, name)
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		value := rv.MapIndex(reflect.ValueOf(name).Convert(rv.Type().Key()))
		if !value.IsValid() {
			return nil, false
		}
		return value.Interface(), true
	}
	return nil, false
}

func structField(rv reflect.Value, name string) (any, bool) {
	t := rv.Type()
	if sf, ok := t.FieldByName(name); ok && sf.IsExported() {
		// FieldByIndexErr instead of FieldByName: a nil embedded pointer must
		// not panic.
		if f, err := rv.FieldByIndexErr(sf.Index); err == nil && f.CanInterface() {
			return f.Interface(), true
		}
	}
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		tag, _, _ := strings.Cut(sf.Tag.Get("json"), ",")
		if tag == name {
			return rv.Field(i).Interface(), true
		}
	}
	return nil, false
}
