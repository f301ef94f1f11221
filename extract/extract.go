// Package extract turns fetched bytes into plain document text. Readers
// are selected by media type from a Registry populated at startup.
package extract

import (
	"errors"
	"fmt"
	"mime"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/hazyhaar/argus/change"
)

// ErrUnsupported is returned for media types without a reader.
var ErrUnsupported = errors.New("extract: unsupported content type")

// Reader extracts text from one document format.
type Reader interface {
	Read(data []byte, sourceURL string) (string, error)
}

// ReaderFunc adapts a function to Reader.
type ReaderFunc func(data []byte, sourceURL string) (string, error)

func (f ReaderFunc) Read(data []byte, sourceURL string) (string, error) { return f(data, sourceURL) }

// Registry maps media types to readers.
type Registry struct {
	readers map[string]Reader
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{readers: make(map[string]Reader)}
}

// DefaultRegistry knows HTML, XML, JSON, plain text and PDF.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	h := NewHTMLReader()
	r.Register("text/html", h)
	r.Register("application/xhtml+xml", h)
	r.Register("text/plain", ReaderFunc(readPlain))
	r.Register("application/json", ReaderFunc(readJSON))
	r.Register("application/xml", ReaderFunc(readXML))
	r.Register("text/xml", ReaderFunc(readXML))
	r.Register("application/pdf", ReaderFunc(readPDF))
	return r
}

// Register adds or replaces the reader of mediaType.
func (r *Registry) Register(mediaType string, rd Reader) {
	r.readers[strings.ToLower(mediaType)] = rd
}

// Lookup resolves a Content-Type value (parameters allowed). Structured
// suffixes (+json, +xml) and other text/* types fall back to the JSON,
// XML and plain readers.
func (r *Registry) Lookup(contentType string) (Reader, error) {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, contentType)
	}
	if rd, ok := r.readers[mt]; ok {
		return rd, nil
	}
	var fallback string
	switch {
	case strings.HasSuffix(mt, "+json"):
		fallback = "application/json"
	case strings.HasSuffix(mt, "+xml"):
		fallback = "application/xml"
	case strings.HasPrefix(mt, "text/"):
		fallback = "text/plain"
	}
	if rd, ok := r.readers[fallback]; ok {
		return rd, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupported, mt)
}

// Text reads data with the reader for contentType and returns the
// NFC-normalized, whitespace-collapsed text.
func (r *Registry) Text(contentType string, data []byte, sourceURL string) (string, error) {
	rd, err := r.Lookup(contentType)
	if err != nil {
		return "", err
	}
	text, err := rd.Read(data, sourceURL)
	if err != nil {
		return "", fmt.Errorf("extract: %s: %w", contentType, err)
	}
	return change.CollapseSpace(norm.NFC.String(text)), nil
}

func readPlain(data []byte, _ string) (string, error) {
	return strings.ToValidUTF8(string(data), "�"), nil
}
