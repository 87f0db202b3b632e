// Package loader enumerates and reads transcript files from a corpus directory.
package loader

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"github.com/sirupsen/logrus"

	"transcriptrag/internal/domain"
	"transcriptrag/internal/logger"
)

// DefaultExtension is the file extension picked up when none is configured.
const DefaultExtension = ".txt"

// Loader reads the documents of one corpus directory.
type Loader struct {
	root      string
	extension string
	log       logrus.FieldLogger
}

// New creates a loader for root. An empty extension means DefaultExtension.
func New(root, extension string, log logrus.FieldLogger) *Loader {
	if extension == "" {
		extension = DefaultExtension
	}
	if !strings.HasPrefix(extension, ".") {
		extension = "." + extension
	}
	return &Loader{root: root, extension: strings.ToLower(extension), log: logger.OrDiscard(log)}
}

// Root returns the corpus directory.
func (l *Loader) Root() string { return l.root }

// ListDocuments returns the matching files directly under the root, in
// directory-listing order. Subdirectories are not visited.
func (l *Loader) ListDocuments() ([]string, error) {
	entries, err := os.ReadDir(l.root)
	if err != nil {
		return nil, fmt.Errorf("list corpus %s: %w", l.root, err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.ToLower(filepath.Ext(e.Name())) != l.extension {
			continue
		}
		paths = append(paths, filepath.Join(l.root, e.Name()))
	}
	return paths, nil
}

// LoadDocument reads a single file. Unreadable or non UTF-8 content yields a *domain.ReadError.
func LoadDocument(path string) (domain.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Document{}, &domain.ReadError{Path: path, Err: err}
	}
	if !utf8.Valid(data) {
		return domain.Document{}, &domain.ReadError{Path: path, Err: fmt.Errorf("content is not valid UTF-8")}
	}
	if mtype := mimetype.Detect(data); !isText(mtype) {
		return domain.Document{}, &domain.ReadError{Path: path, Err: fmt.Errorf("content is %s, not text", mtype.String())}
	}
	content := strings.TrimSpace(string(data))
	base := filepath.Base(path)
	return domain.Document{
		Title:     strings.TrimSuffix(base, filepath.Ext(base)),
		Path:      path,
		Content:   content,
		Size:      len(content),
		Chars:     utf8.RuneCountInString(content),
		WordCount: len(strings.Fields(content)),
	}, nil
}

// isText reports whether mtype is text/plain or descends from it, like html
// or json. A PDF that happens to be valid UTF-8 is not text.
func isText(mtype *mimetype.MIME) bool {
	for m := mtype; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return true
		}
	}
	return false
}

// LoadAll loads every listed document. Files that fail with a ReadError are
// skipped with a warning; listing failures are returned.
func (l *Loader) LoadAll() ([]domain.Document, error) {
	paths, err := l.ListDocuments()
	if err != nil {
		return nil, err
	}
	l.log.WithField("files", len(paths)).Debug("found transcript files")
	docs := make([]domain.Document, 0, len(paths))
	for _, p := range paths {
		doc, err := LoadDocument(p)
		if err != nil {
			l.log.WithError(err).WithField("path", p).Warn("skipping unreadable transcript")
			continue
		}
		l.log.WithFields(logrus.Fields{"title": doc.Title, "words": doc.WordCount}).Debug("loaded transcript")
		docs = append(docs, doc)
	}
	l.log.WithField("documents", len(docs)).Info("loaded transcripts")
	return docs, nil
}

// Summarize computes corpus statistics. It fails with *domain.EmptyCorpusError
// when docs is empty.
func Summarize(docs []domain.Document) (domain.CorpusSummary, error) {
	if len(docs) == 0 {
		return domain.CorpusSummary{}, &domain.EmptyCorpusError{}
	}
	s := domain.CorpusSummary{TotalDocuments: len(docs), Titles: make([]string, 0, len(docs))}
	for _, d := range docs {
		s.TotalWords += d.WordCount
		s.TotalSize += d.Size
		s.Titles = append(s.Titles, d.Title)
	}
	s.AverageWords = float64(s.TotalWords) / float64(len(docs))
	return s, nil
}
