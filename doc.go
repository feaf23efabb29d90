// Package domwrap finds regular expression matches in the text of an HTML
// tree and wraps them in marker elements, even when a match runs across
// element boundaries.
//
// The text of every text node under a root is concatenated, the pattern is
// run over that string, and a single walk of the tree maps each match back to
// the text nodes it covers. A match inside one text node becomes one wrapper;
// a match spanning several text nodes gets one wrapper per node, each inside
// the node's own parent, so no element is ever split or re-parented:
//
//	<i>T</i><b>EST</b>  --/TEST/-->  <i><mark>T</mark></i><b><mark>EST</mark></b>
//
// Every Replace returns a Session that can restore the tree exactly.
package domwrap
