package crawler

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const navigationSelector = `nav a, header a, [role="navigation"] a, .menu a, .navbar a`

var binaryExtension = regexp.MustCompile(`(?i)\.(pdf|jpg|jpeg|png|gif|zip|exe|mp4|mp3)$`)

// DiscoverLinks returns the content-bearing links of a page, resolved against
// pageURL and de-duplicated in document order. When sameDomainOnly is set,
// only links sharing the seed's origin are kept.
func DiscoverLinks(doc *goquery.Document, pageURL string, seed *url.URL, sameDomainOnly bool) []string {
	return collectLinks(doc.Find("a[href]"), pageURL, seed, sameDomainOnly)
}

// NavigationLinks returns same-origin links found in the page's navigation
// landmarks.
func NavigationLinks(doc *goquery.Document, pageURL string, seed *url.URL) []string {
	return collectLinks(doc.Find(navigationSelector), pageURL, seed, true)
}

func collectLinks(anchors *goquery.Selection, pageURL string, seed *url.URL, sameDomainOnly bool) []string {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}
	seen := make(map[string]struct{})
	var links []string
	anchors.Each(func(_ int, a *goquery.Selection) {
		href, ok := a.Attr("href")
		if !ok {
			return
		}
		link, ok := contentLink(href, base, seed, sameDomainOnly)
		if !ok {
			return
		}
		if _, dup := seen[link]; dup {
			return
		}
		seen[link] = struct{}{}
		links = append(links, link)
	})
	return links
}

// contentLink resolves href and applies the link filters: http(s) only,
// optionally same origin, no fragments, no binary files, no login or logout
// pages.
func contentLink(href string, base, seed *url.URL, sameDomainOnly bool) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" {
		return "", false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return "", false
	}
	if sameDomainOnly && !SameOrigin(abs, seed) {
		return "", false
	}
	raw := abs.String()
	if strings.Contains(href, "#") || strings.Contains(raw, "#") {
		return "", false
	}
	if binaryExtension.MatchString(raw) {
		return "", false
	}
	lower := strings.ToLower(raw)
	if strings.Contains(lower, "login") || strings.Contains(lower, "logout") {
		return "", false
	}
	return normalize(abs), true
}
