package dappsim

import (
	"fmt"
	"strings"

	"github.com/Dicklesworthstone/dappcheck/internal/browser"
)

// node is one element of a rendered view.
type node struct {
	tag      string
	attrs    map[string]string
	classes  []string
	text     string
	hidden   bool
	children []*node
	onClick  func()
}

type attrs map[string]string

// h builds an element. The "class" attribute is split into classes.
func h(tag string, a attrs, children ...*node) *node {
	n := &node{tag: tag, attrs: map[string]string{}}
	for k, v := range a {
		if k == "class" {
			n.classes = strings.Fields(v)
			continue
		}
		n.attrs[k] = v
	}
	for _, c := range children {
		if c != nil {
			n.children = append(n.children, c)
		}
	}
	return n
}

// t builds an element holding only text.
func t(tag string, a attrs, text string) *node {
	n := h(tag, a)
	n.text = text
	return n
}

func (n *node) click(fn func()) *node {
	n.onClick = fn
	return n
}

func (n *node) hasClass(c string) bool {
	for _, cls := range n.classes {
		if cls == c {
			return true
		}
	}
	return false
}

// textContent joins the text of n and its descendants.
func (n *node) textContent() string {
	parts := make([]string, 0, len(n.children)+1)
	if s := strings.TrimSpace(n.text); s != "" {
		parts = append(parts, s)
	}
	for _, c := range n.children {
		if s := c.textContent(); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

func (n *node) element() browser.Element {
	el := browser.Element{
		Tag:     n.tag,
		Text:    n.textContent(),
		Visible: !n.hidden,
		Classes: append([]string(nil), n.classes...),
	}
	if len(n.attrs) > 0 {
		el.Attrs = make(map[string]string, len(n.attrs))
		for k, v := range n.attrs {
			el.Attrs[k] = v
		}
	}
	return el
}

// attrCond is one [name] or [name="value"] test.
type attrCond struct {
	name     string
	value    string
	hasValue bool
}

// compound is a run of simple selectors without a combinator.
type compound struct {
	tag     string
	id      string
	classes []string
	attrs   []attrCond
}

// selector is a comma separated list of descendant chains. Child
// combinators are accepted and treated as descendant combinators.
type selector [][]compound

func parseSelector(s string) (selector, error) {
	var out selector
	for _, part := range splitOutside(s, ',') {
		var chain []compound
		for _, tok := range strings.Fields(spaceCombinators(part)) {
			if tok == ">" {
				continue
			}
			c, err := parseCompound(tok)
			if err != nil {
				return nil, fmt.Errorf("selector %q: %w", s, err)
			}
			chain = append(chain, c)
		}
		if len(chain) == 0 {
			return nil, fmt.Errorf("selector %q: empty", s)
		}
		out = append(out, chain)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("selector %q: empty", s)
	}
	return out, nil
}

// spaceCombinators pads '>' outside brackets so Fields isolates it, and
// protects spaces inside attribute values.
func spaceCombinators(s string) string {
	var b strings.Builder
	depth := 0
	var quote rune
	for _, r := range s {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
			if r == ' ' {
				b.WriteRune('\x00')
				continue
			}
		case r == '"' || r == '\'':
			quote = r
		case r == '[':
			depth++
		case r == ']':
			depth--
		case r == '>' && depth == 0:
			b.WriteString(" > ")
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func splitOutside(s string, sep rune) []string {
	var parts []string
	var b strings.Builder
	depth := 0
	var quote rune
	for _, r := range s {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '"' || r == '\'':
			quote = r
		case r == '[':
			depth++
		case r == ']':
			depth--
		case r == sep && depth == 0:
			parts = append(parts, b.String())
			b.Reset()
			continue
		}
		b.WriteRune(r)
	}
	if strings.TrimSpace(b.String()) != "" {
		parts = append(parts, b.String())
	}
	return parts
}

func parseCompound(tok string) (compound, error) {
	tok = strings.ReplaceAll(tok, "\x00", " ")
	var c compound
	i := 0
	readIdent := func() string {
		start := i
		for i < len(tok) && !strings.ContainsRune(".#[", rune(tok[i])) {
			i++
		}
		return tok[start:i]
	}
	if i < len(tok) && !strings.ContainsRune(".#[", rune(tok[i])) {
		c.tag = strings.ToLower(readIdent())
		if c.tag == "*" {
			c.tag = ""
		}
	}
	for i < len(tok) {
		switch tok[i] {
		case '.':
			i++
			name := readIdent()
			if name == "" {
				return c, fmt.Errorf("empty class in %q", tok)
			}
			c.classes = append(c.classes, name)
		case '#':
			i++
			c.id = readIdent()
		case '[':
			end := strings.IndexByte(tok[i:], ']')
			if end < 0 {
				return c, fmt.Errorf("unterminated attribute in %q", tok)
			}
			cond, err := parseAttr(tok[i+1 : i+end])
			if err != nil {
				return c, err
			}
			c.attrs = append(c.attrs, cond)
			i += end + 1
		default:
			return c, fmt.Errorf("unexpected %q in %q", tok[i], tok)
		}
	}
	return c, nil
}

func parseAttr(s string) (attrCond, error) {
	name, value, ok := strings.Cut(s, "=")
	name = strings.TrimSpace(name)
	if name == "" {
		return attrCond{}, fmt.Errorf("empty attribute name in [%s]", s)
	}
	if !ok {
		return attrCond{name: name}, nil
	}
	value = strings.TrimSpace(value)
	if len(value) >= 2 && (value[0] == '"' || value[0] == '\'') && value[len(value)-1] == value[0] {
		value = value[1 : len(value)-1]
	}
	return attrCond{name: name, value: value, hasValue: true}, nil
}

func (c compound) matches(n *node) bool {
	if c.tag != "" && c.tag != n.tag {
		return false
	}
	if c.id != "" && n.attrs["id"] != c.id {
		return false
	}
	for _, cls := range c.classes {
		if !n.hasClass(cls) {
			return false
		}
	}
	for _, a := range c.attrs {
		v, ok := n.attrs[a.name]
		if a.name == "class" {
			v, ok = strings.Join(n.classes, " "), len(n.classes) > 0
		}
		if !ok || (a.hasValue && v != a.value) {
			return false
		}
	}
	return true
}

// matchChain checks chain against n and its ancestors, nearest first.
func matchChain(chain []compound, n *node, ancestors []*node) bool {
	last := len(chain) - 1
	if !chain[last].matches(n) {
		return false
	}
	j := last - 1
	for i := len(ancestors) - 1; i >= 0 && j >= 0; i-- {
		if chain[j].matches(ancestors[i]) {
			j--
		}
	}
	return j < 0
}

// queryAll returns the descendants of root matching sel in document order.
func queryAll(root *node, sel selector) []*node {
	var out []*node
	var walk func(n *node, ancestors []*node)
	walk = func(n *node, ancestors []*node) {
		for _, chain := range sel {
			if matchChain(chain, n, ancestors) {
				out = append(out, n)
				break
			}
		}
		next := append(ancestors, n)
		for _, c := range n.children {
			walk(c, next)
		}
	}
	for _, c := range root.children {
		walk(c, nil)
	}
	return out
}

// locate resolves a browser target inside root.
func locate(root *node, target browser.Target) (*node, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}
	scope := root
	if target.Within != nil {
		parent, err := locate(root, *target.Within)
		if err != nil {
			return nil, err
		}
		scope = parent
	}
	sel, err := parseSelector(target.CSS())
	if err != nil {
		return nil, err
	}
	var candidates []*node
	for _, n := range queryAll(scope, sel) {
		if target.Text == "" || strings.Contains(n.textContent(), target.Text) {
			candidates = append(candidates, n)
		}
	}
	if target.Index >= len(candidates) {
		return nil, &browser.NotFoundError{Target: target}
	}
	return candidates[target.Index], nil
}
