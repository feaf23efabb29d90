package domwrap

import "gitlab.com/tozd/go/errors"

// Input errors
var (
	// ErrEmptyInput indicates that the tree carries no text to search.
	ErrEmptyInput = errors.Base("no text to search")

	// ErrInvalidPattern indicates a pattern that matched an empty string or could not be compiled.
	ErrInvalidPattern = errors.Base("invalid pattern")

	// ErrInvalidSelector indicates a CSS selector that could not be parsed.
	ErrInvalidSelector = errors.Base("invalid selector")
)

// Replacement errors
var (
	// ErrInvalidWrapper indicates that a wrapper factory returned nil or a node that cannot hold children.
	ErrInvalidWrapper = errors.Base("invalid wrapper node")

	// ErrStructure indicates a broken tree invariant, either inside the traversal or
	// because the tree was changed behind a session's back.
	ErrStructure = errors.Base("tree structure inconsistent")
)
