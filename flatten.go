package domwrap

import (
	"strings"

	"gitlab.com/tozd/go/errors"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

type kind int

const (
	kindOpaque kind = iota
	kindText
	kindContainer
)

// rawText lists the HTML elements whose content is rendered as raw or
// escaped text. A wrapper inside them would come out as literal markup.
var rawText = map[atom.Atom]bool{
	atom.Iframe:    true,
	atom.Noembed:   true,
	atom.Noframes:  true,
	atom.Noscript:  true,
	atom.Plaintext: true,
	atom.Script:    true,
	atom.Style:     true,
	atom.Textarea:  true,
	atom.Title:     true,
	atom.Xmp:       true,
}

// kindOf discriminates the node variants the engine cares about. Comments,
// doctypes, raw nodes and raw text elements such as <script> are opaque:
// they hold no searchable text and are never descended into.
func kindOf(n *html.Node) kind {
	switch n.Type {
	case html.TextNode:
		return kindText
	case html.ElementNode:
		if n.Namespace == "" && rawText[n.DataAtom] {
			return kindOpaque
		}
		return kindContainer
	case html.DocumentNode:
		return kindContainer
	default:
		return kindOpaque
	}
}

func newText(s string) *html.Node {
	return &html.Node{Type: html.TextNode, Data: s}
}

// Text returns the text of every text node under root, in document order and
// without separators. It returns ErrEmptyInput when there is nothing to search.
func Text(root *html.Node) (string, error) {
	if root == nil {
		return "", errors.Errorf("nil root: %w", ErrEmptyInput)
	}

	var sb strings.Builder
	stack := []*html.Node{root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		switch kindOf(n) {
		case kindText:
			sb.WriteString(n.Data)
		case kindContainer:
			// push in reverse so the first child is popped first
			for c := n.LastChild; c != nil; c = c.PrevSibling {
				stack = append(stack, c)
			}
		}
	}

	if sb.Len() == 0 {
		return "", errors.WithStack(ErrEmptyInput)
	}
	return sb.String(), nil
}
