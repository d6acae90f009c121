package document

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/internal/domain"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestLoadPlainText(t *testing.T) {
	p := writeFile(t, "notes.MD", "# Cats\n\nCats are mammals.")
	doc, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, "# Cats\n\nCats are mammals.", doc.Content)
	assert.Nil(t, doc.Pages)
	assert.Len(t, doc.ID, 16)
	assert.Equal(t, p, doc.Path)
}

func TestLoadLayout(t *testing.T) {
	p := writeFile(t, "doc.json", `{"pages":[
		[[{"text":"Cats are","bbox":[0,100,50,110],"is_bold":true,"font_size":12},{"text":"mammals.","bbox":[55,101,90,110]}]],
		[],
		[[{"text":" "}],[{"text":"Dogs too."}]]
	]}`)
	doc, err := Load(p)
	require.NoError(t, err)
	require.Len(t, doc.Pages, 3)
	assert.True(t, doc.Pages[0][0][0].Bold)
	assert.Equal(t, 100.0, doc.Pages[0][0][0].BBox[1])
	assert.Nil(t, doc.Pages[2][1][0].BBox)
	assert.Equal(t, "Cats are mammals.\n\nDogs too.", doc.Content)
}

func TestLoadRejects(t *testing.T) {
	_, err := Load(writeFile(t, "slides.pdf", "%PDF"))
	assert.ErrorIs(t, err, ErrUnsupported)

	_, err = Load(writeFile(t, "bad.json", "{not json"))
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.txt"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadTooLarge(t *testing.T) {
	if testing.Short() {
		t.Skip("writes a 50 MiB file")
	}
	p := writeFile(t, "big.txt", strings.Repeat("a", MaxSize+1))
	_, err := Load(p)
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestPlainTextEmpty(t *testing.T) {
	assert.Equal(t, "", PlainText(nil))
	assert.Equal(t, "\n", PlainText([]domain.Page{{}, {{}}}))
}
