package loader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transcriptrag/internal/domain"
)

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, data, 0o644))
	return p
}

func TestListDocuments_FiltersExtensionAndSkipsSubdirs(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b.txt", []byte("two"))
	writeFile(t, dir, "a.TXT", []byte("one"))
	writeFile(t, dir, "notes.md", []byte("ignored"))
	sub := filepath.Join(dir, "nested")
	require.NoError(t, os.Mkdir(sub, 0o755))
	writeFile(t, sub, "c.txt", []byte("not visited"))

	paths, err := New(dir, "", nil).ListDocuments()
	require.NoError(t, err)

	assert.Equal(t, []string{filepath.Join(dir, "a.TXT"), filepath.Join(dir, "b.txt")}, paths)
}

func TestListDocuments_MissingRoot(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "absent"), ".txt", nil).ListDocuments()
	assert.Error(t, err)
}

func TestLoadDocument(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "Founders Panel.txt", []byte("\n  Build   what people want.\tThen sell it.  \n"))

	doc, err := LoadDocument(p)
	require.NoError(t, err)

	assert.Equal(t, "Founders Panel", doc.Title)
	assert.Equal(t, "Build   what people want.\tThen sell it.", doc.Content)
	assert.Equal(t, 7, doc.WordCount)
	assert.Equal(t, len(doc.Content), doc.Size)
	assert.Equal(t, p, doc.Path)
}

func TestLoadDocument_InvalidUTF8IsReadError(t *testing.T) {
	p := writeFile(t, t.TempDir(), "bad.txt", []byte{0xff, 0xfe, 0x00, 'a'})

	_, err := LoadDocument(p)

	var re *domain.ReadError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, p, re.Path)
}

func TestLoadDocument_BinaryContentIsReadError(t *testing.T) {
	p := writeFile(t, t.TempDir(), "slides.txt", []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\n"))

	_, err := LoadDocument(p)

	var re *domain.ReadError
	require.ErrorAs(t, err, &re)
	assert.Contains(t, re.Error(), "application/pdf")
}

func TestLoadAll_SkipsUnreadableFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "good.txt", []byte("Cats are mammals."))
	writeFile(t, dir, "bad.txt", []byte{0xc3, 0x28})

	docs, err := New(dir, ".txt", nil).LoadAll()
	require.NoError(t, err)

	require.Len(t, docs, 1)
	assert.Equal(t, "good", docs[0].Title)
}

func TestSummarize(t *testing.T) {
	docs := []domain.Document{
		{Title: "a", WordCount: 10, Size: 50},
		{Title: "b", WordCount: 20, Size: 70},
	}

	s, err := Summarize(docs)
	require.NoError(t, err)

	assert.Equal(t, 2, s.TotalDocuments)
	assert.Equal(t, 30, s.TotalWords)
	assert.Equal(t, 120, s.TotalSize)
	assert.InDelta(t, 15.0, s.AverageWords, 1e-9)
	assert.Equal(t, []string{"a", "b"}, s.Titles)
}

func TestSummarize_EmptyCorpus(t *testing.T) {
	_, err := Summarize(nil)

	assert.ErrorIs(t, err, domain.ErrEmptyCorpus)
	var ece *domain.EmptyCorpusError
	assert.ErrorAs(t, err, &ece)
}
