package domwrap

import (
	"context"

	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"
	"golang.org/x/net/html"
)

// swap records a leaf that was replaced by a run of adjacent siblings.
type swap struct {
	original *html.Node
	parts    []*html.Node
}

// wrap records a leaf that was moved inside a wrapper.
type wrap struct {
	leaf    *html.Node
	wrapper *html.Node
}

// record is the inverse of one splice.
type record struct {
	swaps    []swap
	wraps    []wrap
	wrappers []*html.Node
}

// check verifies the tree still looks the way the splice left it.
func (r *record) check() error {
	for _, sw := range r.swaps {
		parent := sw.parts[0].Parent
		if parent == nil {
			return errors.Errorf("fragment of %q was detached: %w", sw.original.Data, ErrStructure)
		}
		for i, p := range sw.parts {
			if p.Parent != parent {
				return errors.Errorf("fragments of %q no longer share a parent: %w", sw.original.Data, ErrStructure)
			}
			if i > 0 && sw.parts[i-1].NextSibling != p {
				return errors.Errorf("fragments of %q are no longer adjacent: %w", sw.original.Data, ErrStructure)
			}
		}
	}
	for _, w := range r.wraps {
		if w.leaf.Parent != w.wrapper || w.wrapper.Parent == nil {
			return errors.Errorf("wrapper around %q was moved: %w", w.leaf.Data, ErrStructure)
		}
	}
	return nil
}

// revert restores the leaves of one splice. It mutates nothing when check fails.
func (r *record) revert() error {
	if err := r.check(); err != nil {
		return err
	}
	for _, w := range r.wraps {
		parent := w.wrapper.Parent
		w.wrapper.RemoveChild(w.leaf)
		parent.InsertBefore(w.leaf, w.wrapper)
		parent.RemoveChild(w.wrapper)
	}
	for _, sw := range r.swaps {
		parent := sw.parts[0].Parent
		parent.InsertBefore(sw.original, sw.parts[0])
		for _, p := range sw.parts {
			parent.RemoveChild(p)
		}
	}
	return nil
}

// revertRecords undoes records newest first and returns the ones it could not undo.
func revertRecords(records []*record) ([]*record, error) {
	for i := len(records) - 1; i >= 0; i-- {
		if err := records[i].revert(); err != nil {
			return records[:i+1], err
		}
	}
	return nil, nil
}

// Session holds what one Replace call changed so it can be undone.
type Session struct {
	records []*record
}

// Len returns the number of matches the session wrapped.
func (s *Session) Len() int {
	return len(s.records)
}

// Wrappers returns every wrapper node the session inserted, in document order per match.
func (s *Session) Wrappers() []*html.Node {
	var out []*html.Node
	for _, r := range s.records {
		out = append(out, r.wrappers...)
	}
	return out
}

// Revert restores the tree to its shape before the Replace call and empties
// the session. Splices are undone newest first; fragments one splice created
// and a later one split again come back exactly. Reverting an empty session
// is a no-op.
func (s *Session) Revert() error {
	left, err := revertRecords(s.records)
	s.records = left
	return err
}

// Replace wraps every match of p in the text under root with nodes built by w.
//
// On error the tree is left as it was: the text is checked and the pattern
// located before anything is touched, and splices already done when a wrapper
// can not be built are rolled back. The returned session is never nil.
func Replace(ctx context.Context, root *html.Node, p Pattern, w Wrapper) (*Session, error) {
	logger := zerolog.Ctx(ctx)
	sess := &Session{}

	text, err := Text(root)
	if err != nil {
		return sess, err
	}
	spans, err := Locate(text, p)
	if err != nil {
		return sess, err
	}
	if len(spans) == 0 {
		logger.Debug().Str("pattern", p.Regexp.String()).Msg("no matches")
		return sess, nil
	}

	s, err := newSplicer(ctx, root, w)
	if err != nil {
		return sess, err
	}
	if err := s.run(spans); err != nil {
		if _, rerr := revertRecords(s.records); rerr != nil {
			return sess, errors.Errorf("rolling back after %s: %w", err.Error(), rerr)
		}
		return sess, err
	}

	sess.records = s.records
	logger.Debug().
		Str("pattern", p.Regexp.String()).
		Int("spans", len(spans)).
		Int("wrappers", len(sess.Wrappers())).
		Msg("replaced")
	return sess, nil
}

// Journal collects the sessions of several Replace calls so they can be
// undone together. It is owned by its caller and is not safe for concurrent use.
type Journal struct {
	sessions []*Session
}

// Replace calls Replace and keeps the session when it changed anything.
func (j *Journal) Replace(ctx context.Context, root *html.Node, p Pattern, w Wrapper) (*Session, error) {
	sess, err := Replace(ctx, root, p, w)
	j.Add(sess)
	return sess, err
}

// Add appends a session to the journal. Empty sessions are ignored.
func (j *Journal) Add(s *Session) {
	if s != nil && s.Len() > 0 {
		j.sessions = append(j.sessions, s)
	}
}

// Len returns the number of matches wrapped since the journal was last cleared.
func (j *Journal) Len() int {
	n := 0
	for _, s := range j.sessions {
		n += s.Len()
	}
	return n
}

// RevertAll undoes every session, newest first, and clears the journal.
// Sessions that could not be reverted stay in the journal.
func (j *Journal) RevertAll() error {
	for i := len(j.sessions) - 1; i >= 0; i-- {
		if err := j.sessions[i].Revert(); err != nil {
			j.sessions = j.sessions[:i+1]
			return err
		}
	}
	j.sessions = nil
	return nil
}
