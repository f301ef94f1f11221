package tokenize

import (
	"strings"

	"github.com/abadojack/whatlanggo"
	"github.com/kljensen/snowball"
)

// Language bundles the language-specific parts of tokenization.
type Language struct {
	Code      string // ISO 639-1
	Stopwords map[string]struct{}
	Stem      func(word string) string
	detect    whatlanggo.Lang
}

// Registry maps ISO 639-1 codes to languages. It is populated at startup
// and read-only afterwards.
type Registry struct {
	langs map[string]*Language
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{langs: make(map[string]*Language)}
}

// Register adds or replaces a language.
func (r *Registry) Register(l *Language) {
	r.langs[l.Code] = l
}

// Lookup returns the language for code. Unknown or empty codes miss.
func (r *Registry) Lookup(code string) (*Language, bool) {
	l, ok := r.langs[strings.ToLower(code)]
	return l, ok
}

// Codes lists registered language codes.
func (r *Registry) Codes() []string {
	out := make([]string, 0, len(r.langs))
	for c := range r.langs {
		out = append(out, c)
	}
	return out
}

// Detect guesses the language of text among the registered languages.
// It returns "" for blank text or when no registered language fits.
func (r *Registry) Detect(text string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}
	wl := make(map[whatlanggo.Lang]bool, len(r.langs))
	for _, l := range r.langs {
		wl[l.detect] = true
	}
	info := whatlanggo.DetectWithOptions(text, whatlanggo.Options{Whitelist: wl})
	code := info.Lang.Iso6391()
	if _, ok := r.langs[code]; !ok {
		return ""
	}
	return code
}

// snowballStemmer adapts a snowball language to Language.Stem. Stemming
// failures leave the word untouched.
func snowballStemmer(lang string) func(string) string {
	return func(word string) string {
		stem, err := snowball.Stem(word, lang, true)
		if err != nil || stem == "" {
			return word
		}
		return stem
	}
}

func set(words string) map[string]struct{} {
	m := make(map[string]struct{})
	for _, w := range strings.Fields(words) {
		m[w] = struct{}{}
	}
	return m
}

// DefaultRegistry returns the languages argus ships with.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(&Language{Code: "en", Stopwords: set(stopwordsEN), Stem: snowballStemmer("english"), detect: whatlanggo.Eng})
	r.Register(&Language{Code: "fr", Stopwords: set(stopwordsFR), Stem: snowballStemmer("french"), detect: whatlanggo.Fra})
	r.Register(&Language{Code: "es", Stopwords: set(stopwordsES), Stem: snowballStemmer("spanish"), detect: whatlanggo.Spa})
	r.Register(&Language{Code: "ru", Stopwords: set(stopwordsRU), Stem: snowballStemmer("russian"), detect: whatlanggo.Rus})
	r.Register(&Language{Code: "sv", Stopwords: set(stopwordsSV), Stem: snowballStemmer("swedish"), detect: whatlanggo.Swe})
	r.Register(&Language{Code: "de", Stopwords: set(stopwordsDE), detect: whatlanggo.Deu})
	return r
}
