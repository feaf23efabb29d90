package domwrap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSession_RoundTrip(t *testing.T) {
	inputs := []string{
		"TEST",
		"T<em>EST</em>",
		"<i>T</i><b>E</b><u>S</u><i>T</i>",
		"<p>a TEST <b>TE<i>S</i></b>T TEST</p><!-- TEST --><div>TES<span></span>T</div>",
		"<ul><li>TE</li><li>ST</li></ul>TESTTEST",
	}

	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			root := fragment(t, in)
			before := shape(root)

			sess, err := Replace(testContext(t), root, MustCompile("TEST", "g"), Element("x"))
			require.NoError(t, err)
			require.Positive(t, sess.Len())

			require.NoError(t, sess.Revert())
			assert.Equal(t, before, shape(root))
			assert.Equal(t, 0, sess.Len())
			assert.Empty(t, sess.Wrappers())

			// a second revert has nothing left to do
			require.NoError(t, sess.Revert())
			assert.Equal(t, before, shape(root))
		})
	}
}

func TestSession_RevertDetectsTampering(t *testing.T) {
	root := fragment(t, "a TEST b")

	sess, err := Replace(testContext(t), root, MustCompile("TEST", ""), Element("x"))
	require.NoError(t, err)

	w := sess.Wrappers()[0]
	w.Parent.RemoveChild(w)

	err = sess.Revert()
	assert.ErrorIs(t, err, ErrStructure)
	assert.Equal(t, 1, sess.Len())
	assert.Equal(t, `div("a "," b")`, shape(root))
}

func TestSession_RevertDetectsMovedInnerLeaf(t *testing.T) {
	root := fragment(t, "<i>T</i><b>E</b><u>S</u><i>T</i>")

	sess, err := Replace(testContext(t), root, MustCompile("TEST", ""), Element("x"))
	require.NoError(t, err)

	inner := sess.Wrappers()[1]
	leaf := inner.FirstChild
	inner.RemoveChild(leaf)
	root.AppendChild(leaf)

	assert.ErrorIs(t, sess.Revert(), ErrStructure)
}

func TestJournal_RevertAll(t *testing.T) {
	root := fragment(t, "<p>foo bar</p><p>fo<b>o</b> baz</p>")
	before := shape(root)

	var j Journal
	ctx := testContext(t)

	_, err := j.Replace(ctx, root, MustCompile("foo", "g"), Element("x"))
	require.NoError(t, err)
	_, err = j.Replace(ctx, root, MustCompile("ba[rz]", "g"), Element("y"))
	require.NoError(t, err)
	// wraps text already inside wrappers from the first call
	_, err = j.Replace(ctx, root, MustCompile("o", "g"), Element("z"))
	require.NoError(t, err)
	// no match: nothing is journaled
	_, err = j.Replace(ctx, root, MustCompile("absent", "g"), Element("z"))
	require.NoError(t, err)

	assert.Equal(t, 2+2+4, j.Len())
	assert.Equal(t,
		`<p><x>f<z>o</z><z>o</z></x> <y>bar</y></p><p><x>f<z>o</z></x><b><x><z>o</z></x></b> <y>baz</y></p>`,
		renderInner(t, root))

	require.NoError(t, j.RevertAll())
	assert.Equal(t, 0, j.Len())
	assert.Equal(t, before, shape(root))

	require.NoError(t, j.RevertAll())
}

func TestJournal_AddIgnoresEmpty(t *testing.T) {
	var j Journal
	j.Add(nil)
	j.Add(&Session{})
	assert.Equal(t, 0, j.Len())
	assert.NoError(t, j.RevertAll())
}

func TestJournal_RevertAllStopsOnError(t *testing.T) {
	root := fragment(t, "one two")
	var j Journal
	ctx := testContext(t)

	first, err := j.Replace(ctx, root, MustCompile("one", ""), Element("x"))
	require.NoError(t, err)
	_, err = j.Replace(ctx, root, MustCompile("two", ""), Element("x"))
	require.NoError(t, err)

	w := first.Wrappers()[0]
	w.Parent.RemoveChild(w)

	assert.ErrorIs(t, j.RevertAll(), ErrStructure)
	assert.Equal(t, 1, j.Len())
}
