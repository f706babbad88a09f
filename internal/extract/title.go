package extract

import "github.com/PuerkitoBio/goquery"

// TitleStrategy returns a candidate title or "" when it has nothing to offer.
type TitleStrategy struct {
	Name    string
	Resolve func(doc *goquery.Document) string
}

// TitleStrategies are evaluated in order; the page type is the final fallback.
var TitleStrategies = []TitleStrategy{
	{Name: "article-heading", Resolve: func(doc *goquery.Document) string {
		return text(doc.Find(articleTitleQuery).First())
	}},
	{Name: "og-title", Resolve: func(doc *goquery.Document) string {
		return attr(doc.Find(`meta[property="og:title"]`), "content")
	}},
	{Name: "document-title", Resolve: func(doc *goquery.Document) string {
		return text(doc.Find("title").First())
	}},
	{Name: "first-heading", Resolve: func(doc *goquery.Document) string {
		return text(doc.Find("h1").First())
	}},
}

// ResolveTitle walks TitleStrategies and never returns an empty title.
func ResolveTitle(doc *goquery.Document, pageType string) string {
	title := pageType
	for _, s := range TitleStrategies {
		if candidate := collapseWhitespace(s.Resolve(doc)); candidate != "" {
			title = candidate
			break
		}
	}
	return truncateRunes(collapseWhitespace(title), maxTitleLength)
}
