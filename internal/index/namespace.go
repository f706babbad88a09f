package index

import (
	"regexp"
	"strings"
)

// MaxNamespaceLength bounds a namespace to a DNS-label-sized key.
const MaxNamespaceLength = 63

var (
	schemePrefix   = regexp.MustCompile(`(?i)^https?://`)
	trailingSlash  = regexp.MustCompile(`/+$`)
	separators     = regexp.MustCompile(`[./]`)
	disallowedRune = regexp.MustCompile(`[^a-zA-Z0-9-]`)
)

// DeriveNamespace maps a seed URL to the vector-store namespace that isolates
// its vectors: scheme and trailing slashes are stripped, dots and slashes
// become hyphens, anything else outside [a-z0-9-] is removed, and the result
// is lowercased and cut to MaxNamespaceLength.
//
// The mapping is not injective. Hosts that differ only in "." versus "-"
// (a.b.com and a-b.com), in case, or past the length cap share a namespace
// and therefore share vectors. Existing namespaces depend on this exact
// mapping, so it is kept as is.
func DeriveNamespace(rawURL string) string {
	ns := schemePrefix.ReplaceAllString(strings.TrimSpace(rawURL), "")
	ns = trailingSlash.ReplaceAllString(ns, "")
	ns = separators.ReplaceAllString(ns, "-")
	ns = disallowedRune.ReplaceAllString(ns, "")
	ns = strings.ToLower(ns)
	if len(ns) > MaxNamespaceLength {
		ns = ns[:MaxNamespaceLength]
	}
	return ns
}
