package domwrap

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// fragment parses s as the children of a <div> and returns the div.
func fragment(t *testing.T, s string) *html.Node {
	t.Helper()
	root := &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div}
	nodes, err := html.ParseFragment(strings.NewReader(s), root)
	require.NoError(t, err)
	for _, n := range nodes {
		root.AppendChild(n)
	}
	return root
}

// renderInner renders the children of n.
func renderInner(t *testing.T, n *html.Node) string {
	t.Helper()
	var buf bytes.Buffer
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		require.NoError(t, html.Render(&buf, c))
	}
	return buf.String()
}

// shape describes the tree under n including text node boundaries, which
// rendering hides.
func shape(n *html.Node) string {
	var sb strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			fmt.Fprintf(&sb, "%q", n.Data)
		case html.ElementNode:
			sb.WriteString(n.Data)
			for _, a := range n.Attr {
				fmt.Fprintf(&sb, "[%s=%s]", a.Key, a.Val)
			}
			sb.WriteString("(")
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				walk(c)
				if c.NextSibling != nil {
					sb.WriteString(",")
				}
			}
			sb.WriteString(")")
		default:
			fmt.Fprintf(&sb, "<%d>", n.Type)
		}
	}
	walk(n)
	return sb.String()
}

func testContext(t *testing.T) context.Context {
	logger := zerolog.New(zerolog.NewTestWriter(t)).Level(zerolog.DebugLevel)
	return logger.WithContext(context.Background())
}

func textNode(s string) *html.Node {
	return &html.Node{Type: html.TextNode, Data: s}
}

func elem(tag string, children ...*html.Node) *html.Node {
	n := &html.Node{Type: html.ElementNode, Data: tag, DataAtom: atom.Lookup([]byte(tag))}
	for _, c := range children {
		n.AppendChild(c)
	}
	return n
}
