package extract

import (
	"errors"
	"strings"
	"testing"
)

func TestLookup(t *testing.T) {
	r := DefaultRegistry()
	cases := map[string]bool{
		"text/html; charset=utf-8":   true,
		"application/ld+json":        true,
		"application/atom+xml":       true,
		"text/csv":                   true,
		"application/pdf":            true,
		"image/png":                  false,
		"not a media type;;":         false,
	}
	for ct, ok := range cases {
		_, err := r.Lookup(ct)
		if ok && err != nil {
			t.Errorf("Lookup(%q): %v", ct, err)
		}
		if !ok && !errors.Is(err, ErrUnsupported) {
			t.Errorf("Lookup(%q): got %v, want ErrUnsupported", ct, err)
		}
	}
}

func TestHTML_ContentText(t *testing.T) {
	// WHAT: Scripts and link targets never reach the document text.
	// WHY: Their churn would show up as diffs nobody cares about.
	page := `<html><head><title>T</title><script>var x = "tracking";</script></head>
<body><nav>Home About</nav><main>
<h1>Argus   Panoptes</h1>
<p>The <a href="https://example.com/giant">hundred-eyed</a> giant.</p>
<img src="/eye.png" alt="eye">
</main><footer>copyright</footer></body></html>`

	text, err := DefaultRegistry().Text("text/html", []byte(page), "https://example.com")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"Argus Panoptes", "hundred-eyed", "giant."} {
		if !strings.Contains(text, want) {
			t.Errorf("text %q lacks %q", text, want)
		}
	}
	for _, bad := range []string{"tracking", "https://", "Home About", "copyright", "eye.png"} {
		if strings.Contains(text, bad) {
			t.Errorf("text %q contains %q", text, bad)
		}
	}
	if strings.Contains(text, "  ") {
		t.Errorf("text %q has uncollapsed spaces", text)
	}
}

func TestScriptShell(t *testing.T) {
	shell := `<html><body><div id="root"></div><script src="/app.js"></script></body></html>`
	if !ScriptShell([]byte(shell)) {
		t.Error("empty app shell not detected")
	}
	full := `<html><body><p>` + strings.Repeat("real words here ", 30) + `</p><script></script></body></html>`
	if ScriptShell([]byte(full)) {
		t.Error("content page flagged as shell")
	}
}

func TestJSON(t *testing.T) {
	doc := `{"title":"Argus","tags":["giant","myth"],"eyes":100,"meta":{"b":"second","a":"first"}}`
	text, err := DefaultRegistry().Text("application/json", []byte(doc), "")
	if err != nil {
		t.Fatal(err)
	}
	if want := "100 first second giant myth Argus"; text != want {
		t.Fatalf("got %q, want %q", text, want)
	}
	if _, err := DefaultRegistry().Text("application/json", []byte(`{`), ""); err == nil {
		t.Fatal("malformed JSON accepted")
	}
}

func TestXML(t *testing.T) {
	doc := `<?xml version="1.0"?><feed><entry><title>Argus &amp; Io</title><summary>
	  watcher of Io</summary></entry></feed>`
	text, err := DefaultRegistry().Text("application/rss+xml", []byte(doc), "")
	if err != nil {
		t.Fatal(err)
	}
	if text != "Argus & Io watcher of Io" {
		t.Fatalf("got %q", text)
	}
}

func TestPlain(t *testing.T) {
	text, err := DefaultRegistry().Text("text/plain", []byte("  line one\n\n\tline two  "), "")
	if err != nil {
		t.Fatal(err)
	}
	if text != "line one line two" {
		t.Fatalf("got %q", text)
	}
}

func TestPDFPageText(t *testing.T) {
	stream := []byte("BT\n/F1 12 Tf\n72 712 Td\n(Argus Panoptes) Tj\n0 -14 Td\n[(hundred) -250 (\\050eyed\\051)] TJ\nET\n")
	got := pageText(stream)
	if got != "Argus Panoptes hundred(eyed)" {
		t.Fatalf("got %q", got)
	}
	if _, err := readPDF([]byte("not a pdf"), ""); err == nil {
		t.Fatal("garbage accepted as PDF")
	}
}
