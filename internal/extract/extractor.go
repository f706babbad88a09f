// Package extract turns parsed HTML into the structured plain text that gets
// chunked and embedded.
package extract

import (
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

// MinContentLength is the floor a page's structured text must exceed to be kept.
const MinContentLength = 100

const (
	maxTitleLength  = 200
	minElementChars = 10
	minParagraph    = 20
	maxTagChars     = 30
)

const (
	chromeSelector    = `script, style, nav, footer, header, iframe, noscript, [role="navigation"], .ads, .advertisement`
	elementSelector   = "h1, h2, h3, h4, h5, h6, p, li, blockquote, time"
	categorySelector  = "nav a.active, .breadcrumb, .category"
	tagSelector       = `a[href*="tag"], .tag, .badge, [class*="tag"]`
	articleTitleQuery = "article h1, .story-title, .post-title, .entry-title"
)

// containerSelectors are tried in priority order; body is the guaranteed fallback.
var containerSelectors = []string{"main", "article", ".content", `[role="main"]`, "body"}

// Extraction is the result of a structured walk over one page.
type Extraction struct {
	Content  string
	Title    string
	PageType string
}

// Accepted reports whether the content clears the minimum length.
func (e Extraction) Accepted() bool {
	return Accepted(e.Content)
}

// Accepted reports whether content is long enough to be stored.
func Accepted(content string) bool {
	return utf8.RuneCountInString(content) > MinContentLength
}

type pageTypeRule struct {
	fragment string
	label    string
}

var pageTypeRules = []pageTypeRule{
	{"archive", "Archive"},
	{"thought", "Thoughts"},
	{"affiliate", "Affiliate"},
	{"feedback", "Feedback"},
	{"stor", "Story"},
}

// PageType classifies a URL by its path. The first matching rule wins.
func PageType(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "Page"
	}
	path := strings.ToLower(u.Path)
	for _, rule := range pageTypeRules {
		if strings.Contains(path, rule.fragment) {
			return rule.label
		}
	}
	if path == "/" || path == "" {
		return "Homepage"
	}
	return "Page"
}

// Extract strips page chrome from doc and builds the structured text, title
// and page type. doc is modified in place.
func Extract(doc *goquery.Document, pageURL string) Extraction {
	doc.Find(chromeSelector).Remove()

	pageType := PageType(pageURL)
	return Extraction{
		Content:  structuredContent(doc, pageURL, pageType),
		Title:    ResolveTitle(doc, pageType),
		PageType: pageType,
	}
}

func structuredContent(doc *goquery.Document, pageURL, pageType string) string {
	sections := []string{
		"=== " + pageType + " ===",
		"URL: " + pageURL + "\n",
	}

	heading := firstNonEmpty(
		text(doc.Find("h1").First()),
		text(doc.Find("title")),
		attr(doc.Find(`meta[property="og:title"]`), "content"),
	)
	if heading != "" {
		sections = append(sections, "TITLE: "+heading+"\n")
	}
	if category := text(doc.Find(categorySelector)); category != "" {
		sections = append(sections, "CATEGORY: "+category+"\n")
	}

	contentContainer(doc).Find(elementSelector).Each(func(_ int, el *goquery.Selection) {
		if line, ok := renderElement(el); ok {
			sections = append(sections, line)
		}
	})

	if tags := collectTags(doc); len(tags) > 0 {
		sections = append(sections, "\nTAGS: "+strings.Join(tags, ", "))
	}
	sections = append(sections, "\n=== END ===\n")

	return strings.TrimSpace(strings.Join(sections, "\n"))
}

func contentContainer(doc *goquery.Document) *goquery.Selection {
	for _, sel := range containerSelectors {
		if found := doc.Find(sel).First(); found.Length() > 0 {
			return found
		}
	}
	return doc.Selection
}

func renderElement(el *goquery.Selection) (string, bool) {
	t := text(el)
	if utf8.RuneCountInString(t) < minElementChars {
		return "", false
	}
	switch goquery.NodeName(el) {
	case "h1":
		return "\n## " + t, true
	case "h2":
		return "\n### " + t, true
	case "h3":
		return "\n#### " + t, true
	case "h4", "h5", "h6":
		return "\n##### " + t, true
	case "p":
		if utf8.RuneCountInString(t) > minParagraph {
			return t, true
		}
		return "", false
	case "li":
		return "• " + t, true
	case "blockquote":
		return "> " + t, true
	case "time":
		if dt, ok := el.Attr("datetime"); ok && dt != "" {
			return "DATE: " + dt, true
		}
		return "DATE: " + t, true
	default:
		return "", false
	}
}

func collectTags(doc *goquery.Document) []string {
	seen := make(map[string]struct{})
	var tags []string
	doc.Find(tagSelector).Each(func(_ int, el *goquery.Selection) {
		tag := text(el)
		n := utf8.RuneCountInString(tag)
		if n == 0 || n >= maxTagChars {
			return
		}
		if _, dup := seen[tag]; dup {
			return
		}
		seen[tag] = struct{}{}
		tags = append(tags, tag)
	})
	return tags
}

func text(sel *goquery.Selection) string {
	return strings.TrimSpace(sel.Text())
}

func attr(sel *goquery.Selection, name string) string {
	v, _ := sel.First().Attr(name)
	return strings.TrimSpace(v)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
