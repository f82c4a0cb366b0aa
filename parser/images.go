package parser

import (
	"net/url"
	"strings"
)

// imageDenylist marks shared site assets rather than product photos.
var imageDenylist = []string{
	"logo",
	"icon",
	"banner",
	"header",
	"footer",
	"favicon",
	"sprite",
	"placeholder",
}

var imageExtensions = []string{".jpg", ".jpeg", ".png", ".webp", ".gif"}

// FilterImages drops denylisted assets and duplicates, keeping first-seen
// order. Applying it to its own output returns the same slice contents.
func FilterImages(urls []string) []string {
	out := newOrderedSet()
	for _, raw := range urls {
		raw = strings.TrimSpace(raw)
		if raw == "" || isSiteAsset(raw) {
			continue
		}
		out.add(raw)
	}
	return out.items()
}

func isSiteAsset(raw string) bool {
	path := raw
	if u, err := url.Parse(raw); err == nil {
		path = u.Path
	}
	path = strings.ToLower(path)
	for _, marker := range imageDenylist {
		if strings.Contains(path, marker) {
			return true
		}
	}
	return false
}

func hasImageExtension(u *url.URL) bool {
	path := strings.ToLower(u.Path)
	for _, ext := range imageExtensions {
		if strings.Contains(path, ext) {
			return true
		}
	}
	return false
}

// resolveImage makes src absolute against base and keeps only http(s)
// image URLs.
func resolveImage(base *url.URL, src string) (string, bool) {
	src = strings.TrimSpace(src)
	if src == "" || strings.HasPrefix(src, "data:") {
		return "", false
	}
	// srcset style values carry a width descriptor after the URL
	if fields := strings.Fields(src); len(fields) > 1 {
		src = fields[0]
	}
	ref, err := url.Parse(src)
	if err != nil {
		return "", false
	}
	abs := ref
	if base != nil {
		abs = base.ResolveReference(ref)
	}
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return "", false
	}
	if !hasImageExtension(abs) {
		return "", false
	}
	abs.Fragment = ""
	return abs.String(), true
}
