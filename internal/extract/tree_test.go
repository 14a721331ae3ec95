package extract

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTreeLeavesInDocumentOrder(t *testing.T) {
	root := ParseTree([]byte(strings.Join([]string{
		`Content-Type: multipart/mixed; boundary="outer"`,
		"",
		"--outer",
		`Content-Type: multipart/alternative; boundary="inner"`,
		"",
		"--inner",
		"Content-Type: text/plain",
		"",
		"one",
		"--inner",
		"Content-Type: text/html",
		"",
		"two",
		"--inner--",
		"--outer",
		"Content-Type: application/pdf",
		`Content-Disposition: attachment; filename="three.pdf"`,
		"",
		"three",
		"--outer--",
		"",
	}, "\r\n")))

	require.True(t, root.IsContainer())
	require.Len(t, root.Children, 2)
	assert.True(t, root.Children[0].IsContainer())

	var bodies []string
	for leaf := range root.Leaves() {
		bodies = append(bodies, string(leaf.Body))
	}
	assert.Equal(t, []string{"one", "two", "three"}, bodies)

	var first []string
	for leaf := range root.Leaves() {
		first = append(first, leaf.ContentType)
		break
	}
	assert.Equal(t, []string{"text/plain"}, first)
}

func TestParseTreeSinglePartIsItsOwnLeaf(t *testing.T) {
	root := ParseTree([]byte("Content-Type: TEXT/PLAIN\r\n\r\nbody"))

	assert.False(t, root.IsContainer())
	assert.Equal(t, "text/plain", root.ContentType)

	var leaves []*Part
	for leaf := range root.Leaves() {
		leaves = append(leaves, leaf)
	}
	require.Len(t, leaves, 1)
	assert.Same(t, root, leaves[0])
}

func TestParseTreeInvalidContentTypeDefaultsToText(t *testing.T) {
	root := ParseTree([]byte("Content-Type: ???\r\n\r\nbody"))
	assert.Equal(t, "text/plain", root.ContentType)
	assert.Equal(t, "body", string(root.Body))
}

func TestParseTreeMalformedHeaderFallsBack(t *testing.T) {
	root := ParseTree([]byte("Hello World"))
	assert.Equal(t, "text/plain", root.ContentType)
	assert.Equal(t, "Hello World", string(root.Body))
	assert.Error(t, root.Err)
}

func TestParseTreeBrokenBoundaryKeepsParsedParts(t *testing.T) {
	root := ParseTree([]byte(strings.Join([]string{
		`Content-Type: multipart/mixed; boundary="b"`,
		"",
		"--b",
		"Content-Type: text/plain",
		"",
		"kept",
		"--b",
		"Content-Type: text/plain",
		"",
		"never terminated",
	}, "\r\n")))

	require.NotEmpty(t, root.Children)
	assert.Equal(t, "kept", string(root.Children[0].Body))

	var errs []error
	for err := range root.Errors() {
		errs = append(errs, err)
	}
	assert.NotEmpty(t, errs)
}

func TestParseTreeKeepsUndecodedContent(t *testing.T) {
	root := ParseTree([]byte(strings.Join([]string{
		"Content-Type: text/plain; charset=iso-8859-1",
		"Content-Transfer-Encoding: quoted-printable",
		"",
		"Caf=E9",
	}, "\r\n")))

	require.NoError(t, root.Err)
	assert.Equal(t, "Café", string(root.Body))
	assert.Equal(t, []byte("Caf\xe9"), root.Content)
}

func TestParseTreeMultipartWithoutPartsIsLeaf(t *testing.T) {
	root := ParseTree([]byte("Content-Type: multipart/related\r\n\r\nstray text"))

	assert.False(t, root.IsContainer())
	assert.Equal(t, "multipart/related", root.ContentType)
	assert.Equal(t, "stray text", string(root.Body))
	assert.Error(t, root.Err)

	var leaves []*Part
	for leaf := range root.Leaves() {
		leaves = append(leaves, leaf)
	}
	require.Len(t, leaves, 1)
	assert.Same(t, root, leaves[0])
}

func TestFallbackBody(t *testing.T) {
	assert.Equal(t, "body", string(fallbackBody([]byte("X-Broken: yes\r\n\r\nbody"))))
	assert.Equal(t, "no headers\n\nat all", string(fallbackBody([]byte("no headers\n\nat all"))))
}
