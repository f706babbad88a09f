package crawler

import (
	"net/url"
	"regexp"
	"strings"
)

var nonAlphanumeric = regexp.MustCompile(`[^a-zA-Z0-9]`)

// DefaultJSHosts lists sites known to need script execution before their
// content is readable.
var DefaultJSHosts = []string{
	"leetcode.com",
	"reddit.com",
	"twitter.com",
	"medium.com",
	"vercel.app",
	"dev.to",
}

// SessionID derives the chat session id for a seed URL.
func SessionID(seedURL string) string {
	return "session_" + nonAlphanumeric.ReplaceAllString(seedURL, "_")
}

// ResolveSession maps a session id back to the seed URL it was derived from.
// Known seeds are matched exactly; otherwise the URL is reconstructed on a
// best-effort basis.
func ResolveSession(sessionID string, knownSeeds []string) (string, bool) {
	if !strings.HasPrefix(sessionID, "session_") || len(sessionID) == len("session_") {
		return "", false
	}
	for _, seed := range knownSeeds {
		if SessionID(seed) == sessionID {
			return seed, true
		}
	}
	rest := strings.TrimPrefix(sessionID, "session_")
	rest = strings.ReplaceAll(rest, "https_", "https://")
	rest = strings.ReplaceAll(rest, "http_", "http://")
	rest = strings.ReplaceAll(rest, "_", ".")
	if !strings.HasPrefix(rest, "http") {
		rest = "https://" + rest
	}
	return rest, true
}

var blockedPathFragments = []string{
	"sw.js", "service-worker.js", "manifest.json",
	"favicon.ico", "robots.txt", "sitemap.xml",
	"api/", "_next/", "static/",
}

// ReconstructURL turns a path-encoded site reference (for example
// "example.com/docs" or "https:/example.com") into a seed URL. Asset and
// internal paths are rejected.
func ReconstructURL(raw string) (string, bool) {
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		decoded = raw
	}
	decoded = strings.TrimSpace(strings.TrimPrefix(decoded, "/"))
	if decoded == "" {
		return "", false
	}
	for _, frag := range blockedPathFragments {
		if strings.Contains(decoded, frag) {
			return "", false
		}
	}
	if strings.HasPrefix(decoded, "http://") || strings.HasPrefix(decoded, "https://") {
		return decoded, true
	}
	cleaned := strings.TrimLeft(strings.TrimPrefix(strings.TrimPrefix(decoded, "https:"), "http:"), "/")
	return "https://" + cleaned, true
}

// NeedsJavaScript reports whether the URL belongs to one of hosts.
func NeedsJavaScript(rawURL string, hosts []string) bool {
	for _, h := range hosts {
		if h != "" && strings.Contains(rawURL, h) {
			return true
		}
	}
	return false
}
