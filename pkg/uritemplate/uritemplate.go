// Package uritemplate implements the RFC 6570 subset used to address
// resource template families: level-1 expressions plus the +, #, ., /,
// ? and & operators, with bidirectional expand and match.
package uritemplate

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	mcperrors "github.com/ajitpratap0/mcp-server-go/pkg/errors"
)

// operators recognized inside an expression. Any other non-varname
// leading character is rejected at parse time.
const operators = "+#./?&"

// Variable is a single variable of a template expression.
type Variable struct {
	Name string
}

// part is one parsed segment of a template: either a literal run or an
// expression with an optional operator and one or more variable names.
type part struct {
	literal string
	op      byte // 0 for simple expansion
	names   []string
	expr    bool
}

// Template is a parsed URI template. It is immutable after Parse and
// safe for concurrent use.
type Template struct {
	pattern string
	parts   []part
	matchRE *regexp.Regexp
	vars    []Variable
}

var varNameRE = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// Parse compiles a URI template pattern. Malformed patterns (an
// unterminated brace, an unknown operator, an empty or invalid variable
// list) fail with an InvalidTemplate error.
func Parse(pattern string) (*Template, error) {
	t := &Template{pattern: pattern}

	rest := pattern
	for len(rest) > 0 {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			if strings.IndexByte(rest, '}') >= 0 {
				return nil, mcperrors.InvalidTemplate(pattern, "unmatched '}'")
			}
			t.parts = append(t.parts, part{literal: rest})
			break
		}
		if open > 0 {
			lit := rest[:open]
			if strings.IndexByte(lit, '}') >= 0 {
				return nil, mcperrors.InvalidTemplate(pattern, "unmatched '}'")
			}
			t.parts = append(t.parts, part{literal: lit})
		}
		rest = rest[open+1:]

		end := strings.IndexByte(rest, '}')
		if end < 0 {
			return nil, mcperrors.InvalidTemplate(pattern, "unterminated '{'")
		}
		expr := rest[:end]
		rest = rest[end+1:]

		if expr == "" {
			return nil, mcperrors.InvalidTemplate(pattern, "empty expression")
		}

		var op byte
		if !isVarNameByte(expr[0]) {
			if strings.IndexByte(operators, expr[0]) < 0 {
				return nil, mcperrors.InvalidTemplate(pattern, fmt.Sprintf("invalid operator %q", expr[0]))
			}
			op = expr[0]
			expr = expr[1:]
			if expr == "" {
				return nil, mcperrors.InvalidTemplate(pattern, "operator without variables")
			}
		}

		names := strings.Split(expr, ",")
		for _, name := range names {
			if !varNameRE.MatchString(name) {
				return nil, mcperrors.InvalidTemplate(pattern, fmt.Sprintf("invalid variable name %q", name))
			}
			t.vars = append(t.vars, Variable{Name: name})
		}
		t.parts = append(t.parts, part{op: op, names: names, expr: true})
	}

	re, err := regexp.Compile(t.matchPattern())
	if err != nil {
		return nil, mcperrors.InvalidTemplate(pattern, err.Error())
	}
	t.matchRE = re

	return t, nil
}

// MustParse is like Parse but panics on a malformed pattern. It is
// intended for templates known at compile time.
func MustParse(pattern string) *Template {
	t, err := Parse(pattern)
	if err != nil {
		panic(err)
	}
	return t
}

// Pattern returns the original template string.
func (t *Template) Pattern() string {
	return t.pattern
}

// String implements fmt.Stringer.
func (t *Template) String() string {
	return t.pattern
}

// Variables returns the template variables in order of appearance.
// Variables repeated across expressions appear once per occurrence.
func (t *Template) Variables() []Variable {
	out := make([]Variable, len(t.vars))
	copy(out, t.vars)
	return out
}

// Expand substitutes the supplied bindings into the template. List
// values expand to their elements joined by commas; every other value
// is rendered with its canonical string representation. Expressions
// none of whose variables are bound are erased, which preserves the
// partial-expansion reading where omitted expressions disappear.
func (t *Template) Expand(bindings map[string]interface{}) string {
	var b strings.Builder
	for _, p := range t.parts {
		if !p.expr {
			b.WriteString(p.literal)
			continue
		}

		var vals []string
		for _, name := range p.names {
			v, ok := bindings[name]
			if !ok {
				continue
			}
			vals = append(vals, encodeValue(p.op, v))
		}
		if len(vals) == 0 {
			continue
		}
		b.WriteString(prefixFor(p.op))
		b.WriteString(strings.Join(vals, ","))
	}
	return b.String()
}

// Match tests a concrete URI against the template and, on success,
// returns the variable bindings captured from it. Multi-name
// expressions share a single capture group, so each of their variables
// receives the same raw captured substring.
func (t *Template) Match(uri string) (map[string]string, bool) {
	m := t.matchRE.FindStringSubmatch(uri)
	if m == nil {
		return nil, false
	}

	bindings := make(map[string]string)
	group := 1
	for _, p := range t.parts {
		if !p.expr {
			continue
		}
		for _, name := range p.names {
			bindings[name] = m[group]
		}
		group++
	}
	return bindings, true
}

// matchPattern builds the anchored regex the template matches with.
// Each expression contributes one capture group whose character class
// depends on the operator; literal runs are escaped verbatim.
func (t *Template) matchPattern() string {
	var b strings.Builder
	b.WriteByte('^')
	for _, p := range t.parts {
		if !p.expr {
			b.WriteString(regexp.QuoteMeta(p.literal))
			continue
		}
		if pre := prefixFor(p.op); pre != "" {
			b.WriteString(regexp.QuoteMeta(pre))
		}
		switch p.op {
		case '?', '&':
			b.WriteString(`([^&]+)`)
		case '+', '#':
			b.WriteString(`([^/]+(?:/[^/]+)*)`)
		default:
			b.WriteString(`([^/]+)`)
		}
	}
	b.WriteByte('$')
	return b.String()
}

// prefixFor returns the literal prefix an operator contributes to the
// expansion. The reserved operator '+' expands with no prefix.
func prefixFor(op byte) string {
	switch op {
	case 0, '+':
		return ""
	default:
		return string(op)
	}
}

// encodeValue renders one binding. Simple expansion percent-encodes
// path-unsafe characters in each value (list elements are encoded one
// by one, so the joining commas stay literal); every operator form
// passes reserved characters through untouched.
func encodeValue(op byte, v interface{}) string {
	if op != 0 {
		return stringify(v)
	}
	var elems []string
	switch val := v.(type) {
	case []string:
		elems = val
	case []interface{}:
		for _, e := range val {
			elems = append(elems, stringify(e))
		}
	default:
		return url.PathEscape(stringify(v))
	}
	escaped := make([]string, len(elems))
	for i, e := range elems {
		escaped[i] = url.PathEscape(e)
	}
	return strings.Join(escaped, ",")
}

// stringify converts a binding value to its canonical string form.
// Slices join their elements with commas.
func stringify(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case []string:
		return strings.Join(val, ",")
	case []interface{}:
		elems := make([]string, len(val))
		for i, e := range val {
			elems[i] = stringify(e)
		}
		return strings.Join(elems, ",")
	default:
		return fmt.Sprintf("%v", val)
	}
}

func isVarNameByte(c byte) bool {
	return c == '_' ||
		(c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9')
}
