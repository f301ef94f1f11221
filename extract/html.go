package extract

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// HTMLReader sanitizes markup, converts it to markdown to keep headings,
// lists and tables legible, then drops link targets so URLs do not become
// document words. When conversion yields nothing it falls back to the
// visible text of the content region.
type HTMLReader struct {
	policy *bluemonday.Policy
	md     *converter.Converter
}

// NewHTMLReader builds a reader; it is safe for concurrent use.
func NewHTMLReader() *HTMLReader {
	return &HTMLReader{
		policy: bluemonday.UGCPolicy(),
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
	}
}

var (
	mdImage = regexp.MustCompile(`!\[([^\]]*)\]\([^)]*\)`)
	mdLink  = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
)

func (h *HTMLReader) Read(data []byte, sourceURL string) (string, error) {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	region := contentRegion(doc)

	var buf bytes.Buffer
	if err := html.Render(&buf, region); err != nil {
		return "", fmt.Errorf("render html: %w", err)
	}
	clean := h.policy.Sanitize(buf.String())

	var md string
	if sourceURL != "" {
		md, err = h.md.ConvertString(clean, converter.WithDomain(sourceURL))
	} else {
		md, err = h.md.ConvertString(clean)
	}
	if err == nil {
		md = mdImage.ReplaceAllString(md, "$1")
		md = mdLink.ReplaceAllString(md, "$1")
		if strings.TrimSpace(md) != "" {
			return md, nil
		}
	}
	return visibleText(region), nil
}

// contentRegion prefers <main>, then a single <article>, then <body>.
func contentRegion(doc *html.Node) *html.Node {
	var mains, articles []*html.Node
	var body *html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Main:
				mains = append(mains, n)
			case atom.Article:
				articles = append(articles, n)
			case atom.Body:
				body = n
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	switch {
	case len(mains) == 1:
		return mains[0]
	case len(articles) == 1:
		return articles[0]
	case body != nil:
		return body
	}
	return doc
}

// visibleText collects text nodes outside scripts, styles and page chrome.
func visibleText(n *html.Node) string {
	var sb strings.Builder
	var f func(*html.Node)
	f = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript, atom.Template, atom.Nav, atom.Footer:
				return
			}
		}
		if n.Type == html.TextNode {
			if text := strings.TrimSpace(n.Data); text != "" {
				if sb.Len() > 0 {
					sb.WriteByte(' ')
				}
				sb.WriteString(text)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			f(c)
		}
	}
	f(n)
	return sb.String()
}

// ScriptShell reports whether an HTML page carries almost no visible text
// while loading scripts, the shape of client-rendered applications.
func ScriptShell(data []byte) bool {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return false
	}
	scripts := 0
	var count func(*html.Node)
	count = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.Script {
			scripts++
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			count(c)
		}
	}
	count(doc)
	return scripts > 0 && len(visibleText(contentRegion(doc))) < 200
}
