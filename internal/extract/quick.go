package extract

import "github.com/PuerkitoBio/goquery"

const (
	quickChromeSelector = "script, style, noscript, nav, footer, header"
	quickMainSelector   = `main, article, [role="main"], .content, #content`
)

// QuickExtraction is the flat single-page extraction used for first visits.
type QuickExtraction struct {
	Title   string
	Content string
}

// Quick extracts a flat text body: the meta description followed by whichever
// of the main landmarks or the full body carries more text. doc is modified
// in place.
func Quick(doc *goquery.Document, pageURL string) QuickExtraction {
	doc.Find(quickChromeSelector).Remove()

	body := collapseWhitespace(doc.Find("body").Text())
	main := collapseWhitespace(doc.Find(quickMainSelector).Text())
	content := body
	if len(main) > len(body) {
		content = main
	}

	description := firstNonEmpty(
		attr(doc.Find(`meta[name="description"]`), "content"),
		attr(doc.Find(`meta[property="og:description"]`), "content"),
	)

	title := firstNonEmpty(
		text(doc.Find("title").First()),
		text(doc.Find("h1").First()),
		attr(doc.Find(`meta[property="og:title"]`), "content"),
		pageURL,
	)

	return QuickExtraction{
		Title:   collapseWhitespace(title),
		Content: trimJoin(description, content),
	}
}

func trimJoin(description, content string) string {
	if description == "" {
		return content
	}
	if content == "" {
		return description
	}
	return description + "\n\n" + content
}
