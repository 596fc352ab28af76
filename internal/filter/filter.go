// Package filter parses and evaluates LDAP-style filter directives such as
//
//	(&(osgi.wiring.package=com.example.*)(version>=1.2)(!(vendor=acme)))
//
// Filters are parsed once, when the owning requirement is constructed, and
// evaluated against a capability's attribute map.
package filter

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/anvil-platform/wiring/internal/semver"
)

// ErrInvalidFilter is returned for malformed filter strings.
var ErrInvalidFilter = errors.New("invalid filter")

type op int

const (
	opAnd op = iota
	opOr
	opNot
	opEqual
	opApprox
	opGreaterEq
	opLessEq
	opPresent
	opSubstring
)

type node struct {
	op       op
	attr     string
	value    string
	parts    []string
	children []*node
}

// Filter is a compiled filter expression.
type Filter struct {
	raw  string
	root *node
}

// Parse compiles raw into a Filter.
func Parse(raw string) (*Filter, error) {
	p := &parser{src: strings.TrimSpace(raw)}
	root, err := p.parseFilter()
	if err != nil {
		return nil, fmt.Errorf("filter: %q: %w: %v", raw, ErrInvalidFilter, err)
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return nil, fmt.Errorf("filter: %q: %w: trailing input at offset %d", raw, ErrInvalidFilter, p.pos)
	}
	return &Filter{raw: p.src, root: root}, nil
}

func MustParse(raw string) *Filter {
	f, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return f
}

func (f *Filter) String() string {
	if f == nil {
		return ""
	}
	return f.raw
}

// Matches evaluates f against attrs. Attribute lookup is exact first and
// case-insensitive second. A nil filter matches everything.
func (f *Filter) Matches(attrs map[string]any) bool {
	if f == nil {
		return true
	}
	return f.root.eval(attrs)
}

type parser struct {
	src string
	pos int
}

func (p *parser) skipSpace() {
	for p.pos < len(p.src) && (p.src[p.pos] == ' ' || p.src[p.pos] == '\t' || p.src[p.pos] == '\n') {
		p.pos++
	}
}

func (p *parser) expect(c byte) error {
	p.skipSpace()
	if p.pos >= len(p.src) || p.src[p.pos] != c {
		return fmt.Errorf("expected %q at offset %d", c, p.pos)
	}
	p.pos++
	return nil
}

func (p *parser) parseFilter() (*node, error) {
	if err := p.expect('('); err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos >= len(p.src) {
		return nil, fmt.Errorf("unexpected end of input")
	}
	var (
		n   *node
		err error
	)
	switch p.src[p.pos] {
	case '&':
		p.pos++
		n, err = p.parseList(opAnd)
	case '|':
		p.pos++
		n, err = p.parseList(opOr)
	case '!':
		p.pos++
		var child *node
		child, err = p.parseFilter()
		n = &node{op: opNot, children: []*node{child}}
	default:
		n, err = p.parseItem()
	}
	if err != nil {
		return nil, err
	}
	if err := p.expect(')'); err != nil {
		return nil, err
	}
	return n, nil
}

func (p *parser) parseList(o op) (*node, error) {
	n := &node{op: o}
	for {
		p.skipSpace()
		if p.pos >= len(p.src) || p.src[p.pos] != '(' {
			break
		}
		child, err := p.parseFilter()
		if err != nil {
			return nil, err
		}
		n.children = append(n.children, child)
	}
	if len(n.children) == 0 {
		return nil, fmt.Errorf("empty operand list at offset %d", p.pos)
	}
	return n, nil
}

func (p *parser) parseItem() (*node, error) {
	start := p.pos
	for p.pos < len(p.src) && !strings.ContainsRune("=<>~()", rune(p.src[p.pos])) {
		p.pos++
	}
	attr := strings.TrimSpace(p.src[start:p.pos])
	if attr == "" {
		return nil, fmt.Errorf("missing attribute name at offset %d", start)
	}
	if p.pos >= len(p.src) {
		return nil, fmt.Errorf("unexpected end of input")
	}

	n := &node{attr: attr}
	switch p.src[p.pos] {
	case '=':
		p.pos++
		n.op = opEqual
	case '~', '>', '<':
		c := p.src[p.pos]
		p.pos++
		if p.pos >= len(p.src) || p.src[p.pos] != '=' {
			return nil, fmt.Errorf("expected '=' after %q at offset %d", c, p.pos)
		}
		p.pos++
		n.op = map[byte]op{'~': opApprox, '>': opGreaterEq, '<': opLessEq}[c]
	default:
		return nil, fmt.Errorf("unexpected %q at offset %d", p.src[p.pos], p.pos)
	}

	parts, err := p.parseValue()
	if err != nil {
		return nil, err
	}
	if n.op != opEqual {
		if len(parts) > 1 {
			return nil, fmt.Errorf("wildcard not allowed with comparison operator for %q", attr)
		}
		n.value = parts[0]
		return n, nil
	}
	switch {
	case len(parts) == 2 && parts[0] == "" && parts[1] == "":
		n.op = opPresent
	case len(parts) > 1:
		n.op = opSubstring
		n.parts = parts
	default:
		n.value = parts[0]
	}
	return n, nil
}

// parseValue reads an assertion value up to the closing parenthesis, split on
// unescaped '*'.
func (p *parser) parseValue() ([]string, error) {
	var (
		parts []string
		cur   strings.Builder
	)
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		switch c {
		case ')':
			return append(parts, cur.String()), nil
		case '(':
			return nil, fmt.Errorf("unescaped '(' in value at offset %d", p.pos)
		case '\\':
			p.pos++
			if p.pos >= len(p.src) {
				return nil, fmt.Errorf("dangling escape")
			}
			cur.WriteByte(p.src[p.pos])
		case '*':
			parts = append(parts, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
		p.pos++
	}
	return nil, fmt.Errorf("unexpected end of input in value")
}

func (n *node) eval(attrs map[string]any) bool {
	switch n.op {
	case opAnd:
		for _, c := range n.children {
			if !c.eval(attrs) {
				return false
			}
		}
		return true
	case opOr:
		for _, c := range n.children {
			if c.eval(attrs) {
				return true
			}
		}
		return false
	case opNot:
		return !n.children[0].eval(attrs)
	}

	v, ok := lookup(attrs, n.attr)
	if !ok {
		return false
	}
	if n.op == opPresent {
		return true
	}
	return n.compare(v)
}

func lookup(attrs map[string]any, key string) (any, bool) {
	if v, ok := attrs[key]; ok {
		return v, true
	}
	for k, v := range attrs {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}

func (n *node) compare(v any) bool {
	switch t := v.(type) {
	case string:
		return n.compareString(t)
	case int64:
		return n.compareInt(t)
	case int:
		return n.compareInt(int64(t))
	case semver.Version:
		return n.compareVersion(t)
	case []string:
		for _, e := range t {
			if n.compareString(e) {
				return true
			}
		}
	case []int64:
		for _, e := range t {
			if n.compareInt(e) {
				return true
			}
		}
	case []semver.Version:
		for _, e := range t {
			if n.compareVersion(e) {
				return true
			}
		}
	case []any:
		for _, e := range t {
			if n.compare(e) {
				return true
			}
		}
	case bool:
		return n.compareString(strconv.FormatBool(t))
	}
	return false
}

func (n *node) compareString(s string) bool {
	switch n.op {
	case opEqual:
		return s == n.value
	case opApprox:
		return normalizeApprox(s) == normalizeApprox(n.value)
	case opGreaterEq:
		return s >= n.value
	case opLessEq:
		return s <= n.value
	case opSubstring:
		return matchSubstring(s, n.parts)
	}
	return false
}

func (n *node) compareInt(i int64) bool {
	if n.op == opSubstring {
		return matchSubstring(strconv.FormatInt(i, 10), n.parts)
	}
	want, err := strconv.ParseInt(strings.TrimSpace(n.value), 10, 64)
	if err != nil {
		return false
	}
	switch n.op {
	case opEqual, opApprox:
		return i == want
	case opGreaterEq:
		return i >= want
	case opLessEq:
		return i <= want
	}
	return false
}

func (n *node) compareVersion(v semver.Version) bool {
	if n.op == opSubstring {
		return matchSubstring(v.String(), n.parts)
	}
	want, err := semver.ParseVersion(n.value)
	if err != nil {
		return false
	}
	cmp := semver.Compare(v, want)
	switch n.op {
	case opEqual, opApprox:
		return cmp == 0
	case opGreaterEq:
		return cmp >= 0
	case opLessEq:
		return cmp <= 0
	}
	return false
}

func normalizeApprox(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), ""))
}

func matchSubstring(s string, parts []string) bool {
	if !strings.HasPrefix(s, parts[0]) {
		return false
	}
	s = s[len(parts[0]):]
	last := len(parts) - 1
	for _, mid := range parts[1:last] {
		idx := strings.Index(s, mid)
		if idx < 0 {
			return false
		}
		s = s[idx+len(mid):]
	}
	return strings.HasSuffix(s, parts[last])
}
