package domwrap

import (
	"context"
	"io"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"
	"golang.org/x/net/html"
)

// Document is a parsed HTML document whose replacements can be undone.
// Like the trees it wraps, it must not be used from several goroutines at once.
type Document struct {
	doc     *goquery.Document
	journal Journal
}

// ParseDocument reads an HTML document from r.
func ParseDocument(r io.Reader) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, errors.Errorf("parsing html: %w", err)
	}
	return NewDocument(doc), nil
}

// NewDocument wraps an already parsed goquery document.
func NewDocument(doc *goquery.Document) *Document {
	return &Document{doc: doc}
}

// Selection returns the underlying goquery selection of the whole document.
func (d *Document) Selection() *goquery.Selection {
	return d.doc.Selection
}

// Replace wraps matches of p inside every element matched by selector, or in
// the whole document when selector is empty. Elements nested in another
// selected element are searched as part of their ancestor only. Roots without
// text are skipped. It returns the number of matches wrapped.
//
// Either every root is wrapped or none is: the pattern is located in all
// roots before the first one is touched, and roots already wrapped are
// reverted when a later one fails.
func (d *Document) Replace(ctx context.Context, selector string, p Pattern, w Wrapper) (int, error) {
	roots, err := d.roots(selector)
	if err != nil {
		return 0, err
	}

	for _, root := range roots {
		text, err := Text(root)
		if errors.Is(err, ErrEmptyInput) {
			continue
		}
		if err != nil {
			return 0, errors.Errorf("reading <%s>: %w", root.Data, err)
		}
		if _, err := Locate(text, p); err != nil {
			return 0, errors.Errorf("searching <%s>: %w", root.Data, err)
		}
	}

	var sessions []*Session
	total := 0
	for _, root := range roots {
		sess, err := Replace(ctx, root, p, w)
		if errors.Is(err, ErrEmptyInput) {
			continue
		}
		if err != nil {
			if rerr := revertSessions(sessions); rerr != nil {
				return 0, errors.Errorf("rolling back after %s: %w", err.Error(), rerr)
			}
			return 0, errors.Errorf("replacing in <%s>: %w", root.Data, err)
		}
		sessions = append(sessions, sess)
		total += sess.Len()
	}
	for _, sess := range sessions {
		d.journal.Add(sess)
	}

	zerolog.Ctx(ctx).Debug().
		Str("selector", selector).
		Int("roots", len(roots)).
		Int("matches", total).
		Msg("document replace")
	return total, nil
}

func revertSessions(sessions []*Session) error {
	for i := len(sessions) - 1; i >= 0; i-- {
		if err := sessions[i].Revert(); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of matches wrapped since the last Revert.
func (d *Document) Len() int {
	return d.journal.Len()
}

// Revert undoes every replacement made since the last Revert.
func (d *Document) Revert() error {
	return d.journal.RevertAll()
}

// HTML renders the whole document.
func (d *Document) HTML() (string, error) {
	return d.doc.Html()
}

// BodyHTML renders the contents of <body>, which is what a fragment parsed
// as a document round-trips to.
func (d *Document) BodyHTML() (string, error) {
	return d.doc.Find("body").Html()
}

// Text returns the text under <body>.
func (d *Document) Text() string {
	return d.doc.Find("body").Text()
}

func (d *Document) roots(selector string) ([]*html.Node, error) {
	if selector == "" {
		return d.doc.Nodes, nil
	}

	sel, err := CompileSelector(selector)
	if err != nil {
		return nil, err
	}
	nodes := d.doc.FindMatcher(sel).Nodes
	selected := make(map[*html.Node]bool, len(nodes))
	for _, n := range nodes {
		selected[n] = true
	}

	roots := make([]*html.Node, 0, len(nodes))
	for _, n := range nodes {
		if !hasSelectedAncestor(n, selected) {
			roots = append(roots, n)
		}
	}
	return roots, nil
}

// CompileSelector parses a CSS selector. goquery's Find treats a selector it
// cannot parse as matching nothing; this reports it instead.
func CompileSelector(selector string) (cascadia.Selector, error) {
	sel, err := cascadia.Compile(selector)
	if err != nil {
		return nil, errors.Errorf("%w %q: %s", ErrInvalidSelector, selector, err.Error())
	}
	return sel, nil
}

func hasSelectedAncestor(n *html.Node, selected map[*html.Node]bool) bool {
	for p := n.Parent; p != nil; p = p.Parent {
		if selected[p] {
			return true
		}
	}
	return false
}
