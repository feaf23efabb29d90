package domwrap

import (
	"context"

	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"
	"golang.org/x/net/html"
)

type state int

const (
	stateSeeking state = iota
	stateStartFound
	stateResolved
	stateDone
)

func (s state) String() string {
	switch s {
	case stateSeeking:
		return "seeking"
	case stateStartFound:
		return "start-found"
	case stateResolved:
		return "resolved"
	case stateDone:
		return "done"
	default:
		return "unknown"
	}
}

// cursor is the running state of one traversal: the offset consumed so far
// and the boundaries discovered for the span being resolved.
type cursor struct {
	offset int
	span   Span
	queue  []Span
	state  state

	start      *html.Node
	startIndex int
	end        *html.Node
	endIndex   int
	inner      []*html.Node
}

func newCursor(spans []Span) *cursor {
	c := &cursor{queue: spans}
	c.load()
	return c
}

// load resets the boundaries and takes the next span off the queue.
func (c *cursor) load() {
	c.start, c.end, c.inner = nil, nil, nil
	c.startIndex, c.endIndex = 0, 0
	if len(c.queue) == 0 {
		c.state = stateDone
		return
	}
	c.span, c.queue = c.queue[0], c.queue[1:]
	c.state = stateSeeking
}

// visit accounts for the text leaf n.
func (c *cursor) visit(n *html.Node) error {
	if c.state != stateSeeking && c.state != stateStartFound {
		return errors.Errorf("visiting text in state %s: %w", c.state, ErrStructure)
	}

	l := len(n.Data)
	if c.end == nil && c.offset+l >= c.span.End {
		c.end = n
		c.endIndex = c.span.End - c.offset
	} else if c.start != nil {
		c.inner = append(c.inner, n)
	}
	if c.start == nil && c.offset+l > c.span.Start {
		c.start = n
		c.startIndex = c.span.Start - c.offset
	}
	c.offset += l

	switch {
	case c.start != nil && c.end != nil:
		c.state = stateResolved
	case c.end != nil:
		return errors.Errorf("span [%d,%d) ended before it started: %w", c.span.Start, c.span.End, ErrStructure)
	case c.start != nil:
		c.state = stateStartFound
	}
	return nil
}

// resume moves past a spliced span. The end leaf's unmatched tail is
// subtracted again because traversal continues from the wrapper that replaced
// the leaf and will visit that tail as its own fragment.
func (c *cursor) resume(endLen int) {
	c.offset -= endLen - c.endIndex
	c.load()
}

// splicer walks a tree once, wrapping every span of its cursor.
type splicer struct {
	root *html.Node
	wrap Wrapper

	// A text root is walked inside its original slot of scope, up to stop.
	scope *html.Node
	stop  *html.Node

	records []*record
	logger  *zerolog.Logger
}

func newSplicer(ctx context.Context, root *html.Node, w Wrapper) (*splicer, error) {
	s := &splicer{
		root:   root,
		wrap:   w,
		logger: zerolog.Ctx(ctx),
	}
	if kindOf(root) == kindText {
		if root.Parent == nil {
			return nil, errors.Errorf("text root has no parent to splice into: %w", ErrStructure)
		}
		s.scope = root.Parent
		s.stop = root.NextSibling
	}
	return s, nil
}

func (s *splicer) run(spans []Span) error {
	c := newCursor(spans)
	n := s.root
	for n != nil && c.state != stateDone {
		k := kindOf(n)
		if k == kindText {
			if err := c.visit(n); err != nil {
				return err
			}
		}

		if c.state == stateResolved {
			endLen := len(c.end.Data)
			anchor, err := s.replace(c)
			if err != nil {
				return err
			}
			c.resume(endLen)
			n = s.next(anchor)
			continue
		}

		if k == kindContainer && n.FirstChild != nil {
			n = n.FirstChild
			continue
		}
		n = s.next(n)
	}

	if c.state != stateDone {
		return errors.Errorf("tree ended in state %s with span [%d,%d) open: %w", c.state, c.span.Start, c.span.End, ErrStructure)
	}
	return nil
}

// next returns the node following n in pre-order without descending into n,
// or nil when the walk leaves the root.
func (s *splicer) next(n *html.Node) *html.Node {
	for n != s.root {
		if s.scope != nil && n.Parent == s.scope {
			if n.NextSibling == s.stop {
				return nil
			}
			return n.NextSibling
		}
		if n.NextSibling != nil {
			return n.NextSibling
		}
		n = n.Parent
		if n == nil {
			return nil
		}
	}
	return nil
}

// replace performs the surgery for a resolved cursor and returns the node
// traversal continues from.
func (s *splicer) replace(c *cursor) (*html.Node, error) {
	if c.start.Parent == nil || c.end.Parent == nil {
		return nil, errors.Errorf("span [%d,%d) touches a detached leaf: %w", c.span.Start, c.span.End, ErrStructure)
	}

	count := 1
	if c.start != c.end {
		count = 2 + len(c.inner)
	}
	wrappers := make([]*html.Node, count)
	for i := range wrappers {
		w, err := s.wrap.build(c.span.Match)
		if err != nil {
			return nil, err
		}
		wrappers[i] = w
	}

	var anchor *html.Node
	if c.start == c.end {
		anchor = s.spliceLeaf(c, wrappers[0])
	} else {
		anchor = s.spliceAcross(c, wrappers[0], wrappers[1], wrappers[2:])
	}

	s.logger.Debug().
		Int("start", c.span.Start).
		Int("end", c.span.End).
		Int("inner", len(c.inner)).
		Bool("cross", c.start != c.end).
		Msg("wrapped span")
	return anchor, nil
}

// spliceLeaf handles a span that starts and ends inside the same leaf.
func (s *splicer) spliceLeaf(c *cursor, w *html.Node) *html.Node {
	leaf := c.start
	sw := swap{original: leaf}
	if c.startIndex > 0 {
		sw.parts = append(sw.parts, newText(leaf.Data[:c.startIndex]))
	}
	w.AppendChild(newText(leaf.Data[c.startIndex:c.endIndex]))
	sw.parts = append(sw.parts, w)
	if c.endIndex < len(leaf.Data) {
		sw.parts = append(sw.parts, newText(leaf.Data[c.endIndex:]))
	}
	replaceLeaf(leaf, sw.parts)

	s.records = append(s.records, &record{
		swaps:    []swap{sw},
		wrappers: []*html.Node{w},
	})
	return w
}

// spliceAcross handles a span crossing leaf boundaries. Every inner leaf gets
// its own wrapper so each keeps its container ancestry.
func (s *splicer) spliceAcross(c *cursor, first, last *html.Node, inner []*html.Node) *html.Node {
	r := &record{}

	head := swap{original: c.start}
	if c.startIndex > 0 {
		head.parts = append(head.parts, newText(c.start.Data[:c.startIndex]))
	}
	first.AppendChild(newText(c.start.Data[c.startIndex:]))
	head.parts = append(head.parts, first)
	replaceLeaf(c.start, head.parts)
	r.wrappers = append(r.wrappers, first)

	for i, leaf := range c.inner {
		w := inner[i]
		parent := leaf.Parent
		parent.InsertBefore(w, leaf)
		parent.RemoveChild(leaf)
		w.AppendChild(leaf)
		r.wraps = append(r.wraps, wrap{leaf: leaf, wrapper: w})
		r.wrappers = append(r.wrappers, w)
	}

	tail := swap{original: c.end}
	last.AppendChild(newText(c.end.Data[:c.endIndex]))
	tail.parts = append(tail.parts, last)
	if c.endIndex < len(c.end.Data) {
		tail.parts = append(tail.parts, newText(c.end.Data[c.endIndex:]))
	}
	replaceLeaf(c.end, tail.parts)
	r.wrappers = append(r.wrappers, last)

	r.swaps = []swap{head, tail}
	s.records = append(s.records, r)
	return last
}

// replaceLeaf puts parts where leaf was and detaches leaf. The leaf keeps its
// text so it can be put back as is.
func replaceLeaf(leaf *html.Node, parts []*html.Node) {
	parent := leaf.Parent
	for _, p := range parts {
		parent.InsertBefore(p, leaf)
	}
	parent.RemoveChild(leaf)
}
