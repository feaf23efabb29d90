package domwrap

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"
)

func TestDocument_Replace(t *testing.T) {
	tests := []struct {
		name     string
		html     string
		selector string
		expr     string
		flags    string
		want     string
		count    int
	}{
		{
			name:     "paragraphs",
			html:     "<p>Hello world</p><p>world</p>",
			selector: "p",
			expr:     "world",
			flags:    "g",
			want:     "<p>Hello <mark>world</mark></p><p><mark>world</mark></p>",
			count:    2,
		},
		{
			name:     "first_per_root",
			html:     "<p>a a</p><p>a</p>",
			selector: "p",
			expr:     "a",
			want:     "<p><mark>a</mark> a</p><p><mark>a</mark></p>",
			count:    2,
		},
		{
			name:     "nested_roots_not_repeated",
			html:     "<div>a<div>a</div></div>",
			selector: "div",
			expr:     "a",
			flags:    "g",
			want:     "<div><mark>a</mark><div><mark>a</mark></div></div>",
			count:    2,
		},
		{
			name:     "roots_without_text_skipped",
			html:     "<p></p><p>a</p>",
			selector: "p",
			expr:     "a",
			want:     "<p></p><p><mark>a</mark></p>",
			count:    1,
		},
		{
			name:     "across_paragraphs_from_body",
			html:     "<p>wor</p><p>ld</p>",
			selector: "body",
			expr:     "world",
			want:     "<p><mark>wor</mark></p><p><mark>ld</mark></p>",
			count:    1,
		},
		{
			name:     "class_selector",
			html:     `<p class="x">one</p><p>one</p>`,
			selector: ".x",
			expr:     "one",
			want:     `<p class="x"><mark>one</mark></p><p>one</p>`,
			count:    1,
		},
		{
			name:     "no_selection",
			html:     "<p>one</p>",
			selector: "article",
			expr:     "one",
			want:     "<p>one</p>",
			count:    0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := ParseDocument(strings.NewReader(tt.html))
			require.NoError(t, err)

			n, err := doc.Replace(testContext(t), tt.selector, MustCompile(tt.expr, tt.flags), Element("mark"))
			require.NoError(t, err)
			assert.Equal(t, tt.count, n)
			assert.Equal(t, tt.count, doc.Len())

			got, err := doc.BodyHTML()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			require.NoError(t, doc.Revert())
			got, err = doc.BodyHTML()
			require.NoError(t, err)
			assert.Equal(t, tt.html, got)
			assert.Equal(t, 0, doc.Len())
		})
	}
}

func TestDocument_WholeDocument(t *testing.T) {
	doc, err := ParseDocument(strings.NewReader("<p>tea</p><div>tea time</div>"))
	require.NoError(t, err)

	n, err := doc.Replace(testContext(t), "", MustCompile("tea", "g"), Element("b"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	out, err := doc.HTML()
	require.NoError(t, err)
	assert.Contains(t, out, "<p><b>tea</b></p><div><b>tea</b> time</div>")
}

func TestDocument_InvalidPattern(t *testing.T) {
	doc, err := ParseDocument(strings.NewReader("<p>abc</p><p>def</p>"))
	require.NoError(t, err)

	_, err = doc.Replace(testContext(t), "p", MustCompile("d|x*", "g"), Element("b"))
	assert.ErrorIs(t, err, ErrInvalidPattern)

	got, err := doc.BodyHTML()
	require.NoError(t, err)
	assert.Equal(t, "<p>abc</p><p>def</p>", got)
}

func TestDocument_InvalidPatternInLaterRoot(t *testing.T) {
	doc, err := ParseDocument(strings.NewReader("<p>b</p><p>c</p>"))
	require.NoError(t, err)

	n, err := doc.Replace(testContext(t), "p", MustCompile("b?", "g"), Element("x"))
	assert.ErrorIs(t, err, ErrInvalidPattern)
	assert.Equal(t, 0, n)
	assert.Equal(t, 0, doc.Len())

	got, err := doc.BodyHTML()
	require.NoError(t, err)
	assert.Equal(t, "<p>b</p><p>c</p>", got)
}

func TestDocument_WrapperFailureRollsBackEarlierRoots(t *testing.T) {
	doc, err := ParseDocument(strings.NewReader("<p>b</p><p>c</p>"))
	require.NoError(t, err)

	mark := Element("mark")
	w := WrapperFunc(func(m Match) *html.Node {
		if m.Text == "c" {
			return nil
		}
		return mark(m)
	})

	n, err := doc.Replace(testContext(t), "p", MustCompile("b|c", "g"), w)
	assert.ErrorIs(t, err, ErrInvalidWrapper)
	assert.Equal(t, 0, n)
	assert.Equal(t, 0, doc.Len())

	got, err := doc.BodyHTML()
	require.NoError(t, err)
	assert.Equal(t, "<p>b</p><p>c</p>", got)
}

func TestDocument_InvalidSelector(t *testing.T) {
	doc, err := ParseDocument(strings.NewReader("<p>a</p>"))
	require.NoError(t, err)

	_, err = doc.Replace(testContext(t), "p[", MustCompile("a", ""), Element("mark"))
	assert.ErrorIs(t, err, ErrInvalidSelector)

	_, err = CompileSelector("p, li > span")
	assert.NoError(t, err)
}

func TestDocument_RawTextElementsSkipped(t *testing.T) {
	src := "<p>x</p><script>var x = 1;</script><style>x{}</style><textarea>x</textarea>"
	doc, err := ParseDocument(strings.NewReader(src))
	require.NoError(t, err)

	n, err := doc.Replace(testContext(t), "body", MustCompile("x", "g"), Element("mark"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := doc.BodyHTML()
	require.NoError(t, err)
	assert.Equal(t, "<p><mark>x</mark></p><script>var x = 1;</script><style>x{}</style><textarea>x</textarea>", got)
}

func TestDocument_Text(t *testing.T) {
	doc, err := ParseDocument(strings.NewReader("<p>one <b>two</b></p>"))
	require.NoError(t, err)
	assert.Equal(t, "one two", doc.Text())
	assert.Equal(t, 1, doc.Selection().Find("b").Length())
}
