package domwrap

import (
	"strings"

	"gitlab.com/tozd/go/errors"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Wrapper produces the marker node placed around matched text. It is called
// once for every wrapper a splice needs, with the full match even when the
// wrapper only covers part of it. The returned node is used as a stencil: it
// is shallow-cloned before insertion, so returning a shared prototype is fine
// and its children are never copied.
type Wrapper func(m Match) *html.Node

// WrapperFunc adapts a plain function into a Wrapper.
func WrapperFunc(f func(m Match) *html.Node) Wrapper {
	return Wrapper(f)
}

// Element wraps matches in <tag> elements carrying attrs.
func Element(tag string, attrs ...html.Attribute) Wrapper {
	tag = strings.ToLower(tag)
	proto := &html.Node{
		Type:     html.ElementNode,
		Data:     tag,
		DataAtom: atom.Lookup([]byte(tag)),
		Attr:     attrs,
	}
	return func(Match) *html.Node {
		return proto
	}
}

// Prototype wraps matches in shallow clones of n.
func Prototype(n *html.Node) Wrapper {
	return func(Match) *html.Node {
		return n
	}
}

// build asks w for a stencil and returns a detached, childless copy of it.
func (w Wrapper) build(m Match) (*html.Node, error) {
	if w == nil {
		return nil, errors.Errorf("nil wrapper: %w", ErrInvalidWrapper)
	}
	stencil := w(m)
	if stencil == nil {
		return nil, errors.Errorf("wrapper returned nil for %q: %w", m.Text, ErrInvalidWrapper)
	}
	if stencil.Type != html.ElementNode {
		return nil, errors.Errorf("wrapper returned node type %d for %q: %w", stencil.Type, m.Text, ErrInvalidWrapper)
	}
	return shallowClone(stencil), nil
}

func shallowClone(n *html.Node) *html.Node {
	c := &html.Node{
		Type:      n.Type,
		DataAtom:  n.DataAtom,
		Data:      n.Data,
		Namespace: n.Namespace,
	}
	if len(n.Attr) > 0 {
		c.Attr = make([]html.Attribute, len(n.Attr))
		copy(c.Attr, n.Attr)
	}
	return c
}
