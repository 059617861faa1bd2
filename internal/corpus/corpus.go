// Package corpus loads the quiz question corpus and keeps it as an immutable,
// ordered collection. A document's position in the corpus is the row index the
// similarity index aligns its vectors with.
package corpus

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"maps"
	"slices"
	"sort"
	"strconv"

	"github.com/hyperjump/proshno/internal/models"
	"github.com/hyperjump/proshno/pkg/utils"
)

// Corpus is an ordered, read-only set of documents with unique IDs.
type Corpus struct {
	docs        []*models.Document
	byID        map[int64]int
	skipped     int
	source      string
	fingerprint string
}

// New builds a corpus from in-memory documents. Question and explanation text is
// normalized; a document whose question normalizes to empty, a nil document, or a
// duplicate ID fails the whole call with models.ErrCorpusLoad.
func New(docs []*models.Document) (*Corpus, error) {
	return build(docs, 0, "")
}

func build(docs []*models.Document, skipped int, source string) (*Corpus, error) {
	c := &Corpus{
		docs:    make([]*models.Document, 0, len(docs)),
		byID:    make(map[int64]int, len(docs)),
		skipped: skipped,
		source:  source,
	}
	for i, d := range docs {
		if d == nil {
			return nil, fmt.Errorf("%w: document %d is nil", models.ErrCorpusLoad, i)
		}
		doc := *d
		doc.Options = slices.Clone(d.Options)
		doc.Metadata = maps.Clone(d.Metadata)
		doc.Question = utils.NormalizeText(doc.Question)
		doc.Explanation = utils.NormalizeText(doc.Explanation)
		if doc.Question == "" {
			return nil, fmt.Errorf("%w: document %d has an empty question", models.ErrCorpusLoad, doc.ID)
		}
		if prev, ok := c.byID[doc.ID]; ok {
			return nil, fmt.Errorf("%w: duplicate id %d at positions %d and %d", models.ErrCorpusLoad, doc.ID, prev, i)
		}
		c.byID[doc.ID] = len(c.docs)
		c.docs = append(c.docs, &doc)
	}
	c.fingerprint = fingerprint(c.docs)
	return c, nil
}

// Size returns the number of documents.
func (c *Corpus) Size() int {
	if c == nil {
		return 0
	}
	return len(c.docs)
}

// Get returns the document with the given id or models.ErrNotFound.
func (c *Corpus) Get(id int64) (*models.Document, error) {
	pos, ok := c.Position(id)
	if !ok {
		return nil, fmt.Errorf("%w: document %d", models.ErrNotFound, id)
	}
	return c.docs[pos], nil
}

// Position returns the corpus position of the document with the given id.
func (c *Corpus) Position(id int64) (int, bool) {
	if c == nil {
		return 0, false
	}
	pos, ok := c.byID[id]
	return pos, ok
}

// At returns the document at position i, or nil when i is out of range.
func (c *Corpus) At(i int) *models.Document {
	if c == nil || i < 0 || i >= len(c.docs) {
		return nil
	}
	return c.docs[i]
}

// Documents returns a copy of the ordered document slice.
func (c *Corpus) Documents() []*models.Document {
	if c == nil {
		return nil
	}
	out := make([]*models.Document, len(c.docs))
	copy(out, c.docs)
	return out
}

// Skipped returns how many source rows were dropped for having an empty question.
func (c *Corpus) Skipped() int {
	if c == nil {
		return 0
	}
	return c.skipped
}

// Source returns the file the corpus was loaded from, or "" for in-memory corpora.
func (c *Corpus) Source() string {
	if c == nil {
		return ""
	}
	return c.source
}

// Fingerprint returns a hex SHA-256 digest over every document field in corpus
// order. Two corpora with the same fingerprint produce the same vectors.
func (c *Corpus) Fingerprint() string {
	if c == nil {
		return fingerprint(nil)
	}
	return c.fingerprint
}

func fingerprint(docs []*models.Document) string {
	h := sha256.New()
	var buf [8]byte
	writeString := func(s string) {
		binary.LittleEndian.PutUint64(buf[:], uint64(len(s)))
		h.Write(buf[:])
		h.Write([]byte(s))
	}
	for _, d := range docs {
		binary.LittleEndian.PutUint64(buf[:], uint64(d.ID))
		h.Write(buf[:])
		if d.QuestionID != nil {
			writeString(strconv.FormatInt(*d.QuestionID, 10))
		} else {
			writeString("")
		}
		writeString(d.Question)
		writeString(d.SourceQuestion)
		binary.LittleEndian.PutUint64(buf[:], uint64(len(d.Options)))
		h.Write(buf[:])
		for _, o := range d.Options {
			writeString(o)
		}
		writeString(d.Answer)
		writeString(d.Explanation)
		writeString(d.Difficulty)
		keys := make([]string, 0, len(d.Metadata))
		for k := range d.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		binary.LittleEndian.PutUint64(buf[:], uint64(len(keys)))
		h.Write(buf[:])
		for _, k := range keys {
			writeString(k)
			writeString(d.Metadata[k])
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}
